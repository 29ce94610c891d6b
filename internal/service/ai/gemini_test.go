package ai

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhouzirui/voxchat/backend/internal/config"
	"github.com/zhouzirui/voxchat/backend/internal/model/chat"
	"google.golang.org/genai"
)

type generateCall struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

type fakeGenerator struct {
	responses []*genai.GenerateContentResponse
	err       error
	streamErr error
	calls     []generateCall
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls = append(f.calls, generateCall{model: model, contents: contents, config: cfg})
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return &genai.GenerateContentResponse{}, nil
	}
	return f.responses[0], nil
}

func (f *fakeGenerator) GenerateContentStream(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.calls = append(f.calls, generateCall{model: model, contents: contents, config: cfg})
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, resp := range f.responses {
			if !yield(resp, nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield(nil, f.streamErr)
		}
	}
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
	}
}

var testGeminiConfig = config.GeminiConfig{
	APIKey:        "key",
	Model:         "gemini-test",
	TTSVoice:      "Kore",
	AudioMIMEType: "audio/wav",
}

func TestGeminiCompleteMapsRoles(t *testing.T) {
	fake := &fakeGenerator{responses: []*genai.GenerateContentResponse{textResponse("Hi there!")}}
	responder := newGeminiResponder(fake, testGeminiConfig)

	got, err := responder.Complete(context.Background(), []Message{
		{Role: chat.RoleSystem, Content: "be brief"},
		{Role: chat.RoleUser, Content: "Hello"},
		{Role: chat.RoleAssistant, Content: "Hi"},
		{Role: chat.RoleUser, Content: "Again"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", got)

	require.Len(t, fake.calls, 1)
	call := fake.calls[0]
	assert.Equal(t, "gemini-test", call.model)
	require.Len(t, call.contents, 3)
	assert.Equal(t, "user", call.contents[0].Role)
	assert.Equal(t, "model", call.contents[1].Role)
	require.NotNil(t, call.config)
	require.NotNil(t, call.config.SystemInstruction)
	assert.Equal(t, "be brief", call.config.SystemInstruction.Parts[0].Text)
}

func TestGeminiStreamComplete(t *testing.T) {
	fake := &fakeGenerator{responses: []*genai.GenerateContentResponse{
		textResponse("Hi"), textResponse(" there"), {}, textResponse("!"),
	}}
	responder := newGeminiResponder(fake, testGeminiConfig)

	var rec recorder
	responder.StreamComplete(context.Background(), []Message{{Role: chat.RoleUser, Content: "Hello"}}, rec.handler())

	assert.Equal(t, []string{"Hi", " there", "!"}, rec.fragments)
	assert.Equal(t, []string{"Hi there!"}, rec.done)
	assert.Empty(t, rec.errs)
}

func TestGeminiStreamError(t *testing.T) {
	fake := &fakeGenerator{
		responses: []*genai.GenerateContentResponse{textResponse("Hi")},
		streamErr: errors.New("quota"),
	}
	responder := newGeminiResponder(fake, testGeminiConfig)

	var rec recorder
	responder.StreamComplete(context.Background(), []Message{{Role: chat.RoleUser, Content: "Hello"}}, rec.handler())

	assert.Equal(t, []string{"Hi"}, rec.fragments)
	assert.Empty(t, rec.done)
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], chat.ErrProvider)
}

func TestGeminiStreamStopsOnCancel(t *testing.T) {
	fake := &fakeGenerator{responses: []*genai.GenerateContentResponse{
		textResponse("Hi"), textResponse(" there"),
	}}
	responder := newGeminiResponder(fake, testGeminiConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rec recorder
	handler := rec.handler()
	handler.OnFragment = func(s string) {
		rec.fragments = append(rec.fragments, s)
		cancel()
	}
	responder.StreamComplete(ctx, []Message{{Role: chat.RoleUser, Content: "Hello"}}, handler)

	assert.Equal(t, []string{"Hi"}, rec.fragments)
	assert.Empty(t, rec.done)
	assert.Empty(t, rec.errs)
}

func TestGeminiDeriveTitle(t *testing.T) {
	fake := &fakeGenerator{responses: []*genai.GenerateContentResponse{textResponse("'Morning Greetings'\n")}}
	responder := newGeminiResponder(fake, testGeminiConfig)

	title, err := responder.DeriveTitle(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Morning Greetings", title)
}

func TestGeminiTranscribeSendsInlineAudio(t *testing.T) {
	fake := &fakeGenerator{responses: []*genai.GenerateContentResponse{textResponse("  hello world \n")}}
	responder := newGeminiResponder(fake, testGeminiConfig)

	clip := append([]byte("OggS\x00"), make([]byte, 32)...)
	got, err := responder.Transcribe(context.Background(), clip)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)

	require.Len(t, fake.calls, 1)
	parts := fake.calls[0].contents[0].Parts
	require.Len(t, parts, 2)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "audio/ogg", parts[1].InlineData.MIMEType)
}

func TestGeminiSynthesize(t *testing.T) {
	t.Run("DisabledWithoutModel", func(t *testing.T) {
		fake := &fakeGenerator{}
		responder := newGeminiResponder(fake, testGeminiConfig)

		audio, err := responder.Synthesize(context.Background(), "hello")
		require.NoError(t, err)
		assert.Empty(t, audio)
		assert.Empty(t, fake.calls)
	})

	t.Run("WrapsPCM", func(t *testing.T) {
		pcm := []byte{1, 0, 2, 0, 3, 0}
		fake := &fakeGenerator{responses: []*genai.GenerateContentResponse{{
			Candidates: []*genai.Candidate{{Content: genai.NewContentFromParts([]*genai.Part{
				genai.NewPartFromBytes(pcm, "audio/L16;codec=pcm;rate=24000"),
			}, genai.RoleModel)}},
		}}}
		cfg := testGeminiConfig
		cfg.TTSModel = "gemini-tts"
		responder := newGeminiResponder(fake, cfg)

		audio, err := responder.Synthesize(context.Background(), "hello")
		require.NoError(t, err)
		require.Len(t, audio, 44+len(pcm))
		assert.Equal(t, "RIFF", string(audio[:4]))

		require.Len(t, fake.calls, 1)
		assert.Equal(t, "gemini-tts", fake.calls[0].model)
		assert.Equal(t, []string{"AUDIO"}, fake.calls[0].config.ResponseModalities)
		assert.Equal(t, "Kore", fake.calls[0].config.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	})
}
