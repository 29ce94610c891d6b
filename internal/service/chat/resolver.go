// Package chat runs conversational exchanges: it resolves the session, drives
// the responder, persists the result and derives titles for new sessions.
package chat

import (
	"context"

	chatmodel "github.com/zhouzirui/voxchat/backend/internal/model/chat"
	"github.com/zhouzirui/voxchat/backend/internal/service/ai"
	"github.com/zhouzirui/voxchat/backend/internal/service/history"
)

// Resolver opens the session an exchange writes to.
type Resolver struct {
	store history.Store
}

func NewResolver(store history.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the caller's session, or a fresh one titled defaultTitle when
// sessionID is empty, unknown or not theirs.
func (r *Resolver) Resolve(ctx context.Context, sessionID, ownerID, defaultTitle string) (*chatmodel.Session, error) {
	if ownerID == "" {
		return nil, chatmodel.ErrUnauthorized
	}
	return r.store.ResolveOrCreate(ctx, sessionID, ownerID, defaultTitle)
}

// buildHistory projects persisted turns and appends the new user content.
func buildHistory(turns []chatmodel.Turn, content string) []ai.Message {
	history := make([]ai.Message, 0, len(turns)+1)
	for _, turn := range turns {
		history = append(history, ai.Message{Role: turn.Role, Content: turn.Content})
	}
	return append(history, ai.Message{Role: chatmodel.RoleUser, Content: content})
}

// needsTitle is true once the first exchange is stored and the title is still
// the placeholder of the channel that stored it.
func needsTitle(session *chatmodel.Session, defaultTitle string) bool {
	return len(session.Turns) == 2 && session.Title == defaultTitle
}
