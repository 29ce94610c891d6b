package ai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/zhouzirui/voxchat/backend/internal/config"
	"github.com/zhouzirui/voxchat/backend/internal/model/chat"
	"google.golang.org/genai"
)

const transcribePrompt = "Transcribe the speech in this audio. Reply with the transcript only, or nothing if there is no speech."

// contentGenerator is the slice of the genai Models service the responder uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// GeminiResponder talks to Google Gemini through the GenAI SDK. It handles text,
// transcription, and speech synthesis when a TTS model is configured.
type GeminiResponder struct {
	models contentGenerator
	cfg    config.GeminiConfig
}

// NewGeminiResponder creates a Gemini API client from cfg.
func NewGeminiResponder(ctx context.Context, cfg config.GeminiConfig) (*GeminiResponder, error) {
	if !cfg.Enabled() {
		return nil, errors.New("GEMINI_API_KEY is required for the gemini provider")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return newGeminiResponder(client.Models, cfg), nil
}

func newGeminiResponder(models contentGenerator, cfg config.GeminiConfig) *GeminiResponder {
	return &GeminiResponder{models: models, cfg: cfg}
}

// Complete returns the full reply for history.
func (r *GeminiResponder) Complete(ctx context.Context, history []Message) (string, error) {
	contents, genCfg := toGeminiContents(history)

	resp, err := r.models.GenerateContent(ctx, r.cfg.Model, contents, genCfg)
	if err != nil {
		return "", geminiError("generate", err)
	}
	return responseText(resp), nil
}

// StreamComplete streams the reply for history through handler.
func (r *GeminiResponder) StreamComplete(ctx context.Context, history []Message, handler StreamHandler) {
	contents, genCfg := toGeminiContents(history)

	var full strings.Builder
	for resp, err := range r.models.GenerateContentStream(ctx, r.cfg.Model, contents, genCfg) {
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			handler.fail(geminiError("stream", err))
			return
		}

		text := responseText(resp)
		if text == "" {
			continue
		}
		full.WriteString(text)
		handler.fragment(text)
	}

	if ctx.Err() != nil {
		return
	}
	handler.done(full.String())
}

// DeriveTitle asks the model for a short title for seed.
func (r *GeminiResponder) DeriveTitle(ctx context.Context, seed string) (string, error) {
	promptText := strings.ReplaceAll(titlePrompt, "{seed}", seed)

	resp, err := r.models.GenerateContent(ctx, r.cfg.Model, genai.Text(promptText), nil)
	if err != nil {
		return "", geminiError("title", err)
	}

	title := CleanTitle(responseText(resp))
	if title == "" {
		return "", geminiError("title", errors.New("empty title"))
	}
	return title, nil
}

// Transcribe sends the clip inline and returns the recognized text.
func (r *GeminiResponder) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	parts := []*genai.Part{
		genai.NewPartFromText(transcribePrompt),
		genai.NewPartFromBytes(audio, DetectAudioMIME(audio, r.cfg.AudioMIMEType)),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := r.models.GenerateContent(ctx, r.cfg.Model, contents, nil)
	if err != nil {
		return "", geminiError("transcribe", err)
	}
	return strings.TrimSpace(responseText(resp)), nil
}

// Synthesize renders text with the configured TTS model. Without one it returns no audio.
func (r *GeminiResponder) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if r.cfg.TTSModel == "" || strings.TrimSpace(text) == "" {
		return nil, nil
	}

	genCfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: r.cfg.TTSVoice},
			},
		},
	}

	resp, err := r.models.GenerateContent(ctx, r.cfg.TTSModel, genai.Text(text), genCfg)
	if err != nil {
		return nil, geminiError("synthesize", err)
	}

	blob := firstInlineData(resp)
	if blob == nil || len(blob.Data) == 0 {
		return nil, nil
	}
	if isPCM(blob.MIMEType) {
		return pcmToWAV(blob.Data, blob.MIMEType), nil
	}
	return blob.Data, nil
}

func firstInlineData(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil {
		return nil
	}
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil && part.InlineData != nil {
				return part.InlineData
			}
		}
	}
	return nil
}

// toGeminiContents maps history to Gemini contents; the system message becomes
// the system instruction.
func toGeminiContents(history []Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, turns := splitSystem(history)

	contents := make([]*genai.Content, 0, len(turns))
	for _, msg := range turns {
		role := genai.Role(genai.RoleUser)
		if msg.Role == chat.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	if system == "" {
		return contents, nil
	}
	return contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
}

func geminiError(op string, err error) error {
	return fmt.Errorf("%w: gemini %s: %w", chat.ErrProvider, op, err)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Text()
}
