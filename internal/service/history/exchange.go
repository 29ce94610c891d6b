package history

import (
	"time"

	"github.com/zhouzirui/voxchat/backend/internal/model/chat"
)

// DefaultDuplicateWindow bounds how old a matching user turn may be for a
// commit to reuse it instead of appending a second copy.
const DefaultDuplicateWindow = 5 * time.Second

// Exchange is one user utterance and the assistant text produced for it.
type Exchange struct {
	UserContent      string
	AssistantContent string
	// DuplicateWindow overrides DefaultDuplicateWindow when positive.
	DuplicateWindow time.Duration
}

func (ex Exchange) window() time.Duration {
	if ex.DuplicateWindow > 0 {
		return ex.DuplicateWindow
	}
	return DefaultDuplicateWindow
}

// commitPlan describes how an exchange extends a turn sequence.
type commitPlan struct {
	appendUser bool
	// replaceAssistant overwrites the last turn instead of appending the assistant turn.
	replaceAssistant bool
}

func planExchange(turns []chat.Turn, ex Exchange, now time.Time) commitPlan {
	if !hasRecentUserTurn(turns, ex.UserContent, now, ex.window()) {
		return commitPlan{appendUser: true}
	}
	last := turns[len(turns)-1]
	return commitPlan{replaceAssistant: last.Role == chat.RoleAssistant}
}

// hasRecentUserTurn inspects the most recent user turn only: it must carry the
// same content and be younger than window.
func hasRecentUserTurn(turns []chat.Turn, content string, now time.Time, window time.Duration) bool {
	for i := len(turns) - 1; i >= 0; i-- {
		turn := turns[i]
		if turn.Role != chat.RoleUser {
			continue
		}
		if turn.Content != content {
			return false
		}
		age := now.Sub(turn.OccurredAt)
		return age >= 0 && age < window
	}
	return false
}

func applyPlan(turns []chat.Turn, plan commitPlan, ex Exchange, now time.Time) []chat.Turn {
	if plan.appendUser {
		turns = append(turns, chat.Turn{Role: chat.RoleUser, Content: ex.UserContent, OccurredAt: now})
	}
	return replaceLastIfRole(turns, chat.RoleAssistant, ex.AssistantContent, now)
}

func replaceLastIfRole(turns []chat.Turn, role chat.Role, content string, now time.Time) []chat.Turn {
	if n := len(turns); n > 0 && turns[n-1].Role == role {
		turns[n-1].Content = content
		return turns
	}
	return append(turns, chat.Turn{Role: role, Content: content, OccurredAt: now})
}
