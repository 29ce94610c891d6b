package ai

import (
	"context"
	"fmt"

	"github.com/zhouzirui/voxchat/backend/internal/config"
	"go.uber.org/zap"
)

// New builds the responder selected by cfg. An Ark responder borrows Gemini for
// speech when a Gemini key is also configured.
func New(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (Responder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	provider := cfg.ProviderName()
	switch provider {
	case config.ProviderArk:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		responder, err := NewEinoResponder(ctx, config.ProviderArk, chatModel)
		if err != nil {
			return nil, err
		}
		if !cfg.Gemini.Enabled() {
			logger.Info("ai provider ready", zap.String("provider", provider), zap.String("model", cfg.Model), zap.Bool("speech", false))
			return responder, nil
		}

		speech, err := NewGeminiResponder(ctx, cfg.Gemini)
		if err != nil {
			return nil, err
		}
		logger.Info("ai provider ready", zap.String("provider", provider), zap.String("model", cfg.Model), zap.String("speech", config.ProviderGemini))
		return WithSpeech(responder, speech), nil

	case config.ProviderGemini:
		responder, err := NewGeminiResponder(ctx, cfg.Gemini)
		if err != nil {
			return nil, err
		}
		logger.Info("ai provider ready", zap.String("provider", provider), zap.String("model", cfg.Gemini.Model), zap.Bool("tts", cfg.Gemini.TTSModel != ""))
		return responder, nil

	case config.ProviderMock:
		logger.Warn("using mock ai provider; replies are echoes")
		return NewMockResponder(), nil

	default:
		return nil, fmt.Errorf("unknown ai provider %q", provider)
	}
}

// WithSpeech returns a responder that generates text with base and delegates
// speech transforms to speech.
func WithSpeech(base Responder, speech SpeechTransformer) Responder {
	return speechDelegate{Responder: base, speech: speech}
}

type speechDelegate struct {
	Responder
	speech SpeechTransformer
}

func (d speechDelegate) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return d.speech.Transcribe(ctx, audio)
}

func (d speechDelegate) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return d.speech.Synthesize(ctx, text)
}
