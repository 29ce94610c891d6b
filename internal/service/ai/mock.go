package ai

import (
	"context"
	"strings"
	"time"

	"github.com/zhouzirui/voxchat/backend/internal/model/chat"
)

// MockResponder is a deterministic offline backend. It echoes the last user
// message and streams the reply word by word.
type MockResponder struct {
	// Delay is the pause between streamed fragments.
	Delay time.Duration
}

// NewMockResponder returns a mock with a short fragment delay.
func NewMockResponder() *MockResponder {
	return &MockResponder{Delay: 30 * time.Millisecond}
}

func (m *MockResponder) reply(history []Message) string {
	_, turns := splitSystem(history)
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == chat.RoleUser {
			return "You said: " + turns[i].Content
		}
	}
	return "Hello! How can I help you today?"
}

func (m *MockResponder) Complete(_ context.Context, history []Message) (string, error) {
	return m.reply(history), nil
}

func (m *MockResponder) StreamComplete(ctx context.Context, history []Message, handler StreamHandler) {
	text := m.reply(history)

	var full strings.Builder
	for _, fragment := range strings.SplitAfter(text, " ") {
		if m.Delay > 0 {
			timer := time.NewTimer(m.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return
		}
		full.WriteString(fragment)
		handler.fragment(fragment)
	}
	handler.done(full.String())
}

func (m *MockResponder) DeriveTitle(_ context.Context, seed string) (string, error) {
	return CleanTitle(seed), nil
}

// Transcribe treats the audio bytes as UTF-8 text.
func (m *MockResponder) Transcribe(_ context.Context, audio []byte) (string, error) {
	return strings.TrimSpace(string(audio)), nil
}

func (m *MockResponder) Synthesize(context.Context, string) ([]byte, error) {
	return nil, nil
}
