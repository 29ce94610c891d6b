package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/voxchat/backend/internal/model/chat"
)

// EinoResponder drives any eino chat model (Ark in production).
type EinoResponder struct {
	name       string
	chatModel  model.BaseChatModel
	titleChain compose.Runnable[map[string]any, *schema.Message]
}

// NewEinoResponder wraps chatModel and compiles the title chain.
func NewEinoResponder(ctx context.Context, name string, chatModel model.BaseChatModel) (*EinoResponder, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	titleTemplate := prompt.FromMessages(
		schema.FString,
		schema.UserMessage(titlePrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(titleTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile title chain: %w", err)
	}

	return &EinoResponder{
		name:       name,
		chatModel:  chatModel,
		titleChain: runnable,
	}, nil
}

// Complete returns the full reply for history.
func (r *EinoResponder) Complete(ctx context.Context, history []Message) (string, error) {
	resp, err := r.chatModel.Generate(ctx, toSchemaMessages(history))
	if err != nil {
		return "", r.providerError("generate", err)
	}
	if resp == nil {
		return "", r.providerError("generate", errors.New("empty response"))
	}
	return resp.Content, nil
}

// StreamComplete streams the reply for history through handler.
func (r *EinoResponder) StreamComplete(ctx context.Context, history []Message, handler StreamHandler) {
	stream, err := r.chatModel.Stream(ctx, toSchemaMessages(history))
	if err != nil {
		if ctx.Err() == nil {
			handler.fail(r.providerError("stream", err))
		}
		return
	}
	defer stream.Close()

	var full strings.Builder
	for {
		if ctx.Err() != nil {
			return
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() == nil {
				handler.fail(r.providerError("stream", err))
			}
			return
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		full.WriteString(chunk.Content)
		handler.fragment(chunk.Content)
	}

	handler.done(full.String())
}

// DeriveTitle runs the title chain on seed.
func (r *EinoResponder) DeriveTitle(ctx context.Context, seed string) (string, error) {
	resp, err := r.titleChain.Invoke(ctx, map[string]any{"seed": seed})
	if err != nil {
		return "", r.providerError("title", err)
	}

	title := CleanTitle(resp.Content)
	if title == "" {
		return "", r.providerError("title", errors.New("empty title"))
	}
	return title, nil
}

// Transcribe is not offered by eino chat models; compose with WithSpeech for voice.
func (r *EinoResponder) Transcribe(context.Context, []byte) (string, error) {
	return "", r.providerError("transcribe", errors.New("speech recognition unsupported"))
}

// Synthesize returns no audio.
func (r *EinoResponder) Synthesize(context.Context, string) ([]byte, error) {
	return nil, nil
}

func (r *EinoResponder) providerError(op string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", chat.ErrProvider, r.name, op, err)
}

// toSchemaMessages places the system instruction first, followed by the conversation in order.
func toSchemaMessages(history []Message) []*schema.Message {
	system, turns := splitSystem(history)

	msgs := make([]*schema.Message, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, schema.SystemMessage(system))
	}
	for _, msg := range turns {
		switch msg.Role {
		case chat.RoleUser:
			msgs = append(msgs, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return msgs
}
