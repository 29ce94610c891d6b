// Package ai adapts generative model backends to the capability set the chat
// engine needs: single-shot and streamed completion, title derivation and
// speech transforms.
package ai

import (
	"context"
	"strings"

	"github.com/zhouzirui/voxchat/backend/internal/model/chat"
)

// Message is one entry of the model-facing history.
type Message struct {
	Role    chat.Role
	Content string
}

// StreamHandler receives the output of StreamComplete.
//
// OnFragment fires zero or more times in arrival order, followed by exactly one
// of OnDone or OnError. When the context is cancelled the stream stops without
// calling either terminal callback.
type StreamHandler struct {
	OnFragment func(fragment string)
	OnDone     func(full string)
	OnError    func(err error)
}

func (h StreamHandler) fragment(s string) {
	if h.OnFragment != nil {
		h.OnFragment(s)
	}
}

func (h StreamHandler) done(s string) {
	if h.OnDone != nil {
		h.OnDone(s)
	}
}

func (h StreamHandler) fail(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// SpeechTransformer converts between audio and text.
type SpeechTransformer interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
	// Synthesize may return empty audio when the backend cannot speak; that is not an error.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Responder is implemented by every model backend.
type Responder interface {
	Complete(ctx context.Context, history []Message) (string, error)
	// StreamComplete blocks until the stream ends or ctx is cancelled.
	StreamComplete(ctx context.Context, history []Message, handler StreamHandler)
	DeriveTitle(ctx context.Context, seed string) (string, error)
	SpeechTransformer
}

const maxTitleWords = 5

// titlePrompt asks for a short title for a conversation seed.
const titlePrompt = "Generate a short title (max 5 words) for a conversation that starts with: {seed}. Reply with the title only."

// CleanTitle normalizes a model-produced title: quotes stripped, at most five words.
func CleanTitle(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '"', '\'', '“', '”', '‘', '’', '`':
			return -1
		}
		return r
	}, raw)

	words := strings.Fields(cleaned)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	return strings.Join(words, " ")
}

// splitSystem extracts the first system message as an instruction and returns the
// remaining conversational turns in order. Further system messages are dropped.
func splitSystem(history []Message) (string, []Message) {
	var (
		system string
		found  bool
	)
	turns := make([]Message, 0, len(history))
	for _, msg := range history {
		if msg.Role == chat.RoleSystem {
			if !found {
				system, found = msg.Content, true
			}
			continue
		}
		turns = append(turns, msg)
	}
	return system, turns
}
