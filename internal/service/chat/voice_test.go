package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatmodel "github.com/zhouzirui/voxchat/backend/internal/model/chat"
	"github.com/zhouzirui/voxchat/backend/internal/service/history"
)

func TestVoiceTurnPersistsBothTurns(t *testing.T) {
	store := history.NewMemoryStore()
	responder := &scriptedResponder{
		transcript: "  what's the weather ",
		reply:      "Sunny all day.",
		audio:      []byte("RIFF"),
		title:      "Weather Check",
	}
	pipeline := NewVoicePipeline(store, responder, nil)

	result, err := pipeline.HandleAudioTurn(context.Background(), VoiceRequest{OwnerID: owner, Audio: []byte("clip")})
	require.NoError(t, err)

	assert.Equal(t, "what's the weather", result.Transcript)
	assert.Equal(t, "Sunny all day.", result.Response)
	assert.Equal(t, []byte("RIFF"), result.Audio)
	assert.Equal(t, "Weather Check", result.Title)

	session := requireTurns(t, store, result.SessionID, turns("user", "what's the weather", "assistant", "Sunny all day."))
	assert.Equal(t, "Weather Check", session.Title)
	assert.Equal(t, []string{"what's the weather"}, responder.seeds())
}

func TestVoiceEmptyTranscriptCreatesNoSession(t *testing.T) {
	store := history.NewMemoryStore()
	pipeline := NewVoicePipeline(store, &scriptedResponder{transcript: "   "}, nil)

	_, err := pipeline.HandleAudioTurn(context.Background(), VoiceRequest{OwnerID: owner, Audio: []byte("noise")})
	require.ErrorIs(t, err, chatmodel.ErrEmptyTranscript)

	sessions, err := store.List(context.Background(), owner)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestVoiceSynthesisFailureStillAnswers(t *testing.T) {
	store := history.NewMemoryStore()
	responder := &scriptedResponder{transcript: "hi", reply: "hello", synthErr: errors.New("tts down"), titleErr: errors.New("no")}
	pipeline := NewVoicePipeline(store, responder, nil)

	result, err := pipeline.HandleAudioTurn(context.Background(), VoiceRequest{OwnerID: owner, Audio: []byte("clip")})
	require.NoError(t, err)
	assert.Empty(t, result.Audio)
	assert.Empty(t, result.Title)

	session := requireTurns(t, store, result.SessionID, turns("user", "hi", "assistant", "hello"))
	assert.Equal(t, chatmodel.DefaultVoiceTitle, session.Title)
}

func TestVoiceProviderFailurePersistsNothing(t *testing.T) {
	store := history.NewMemoryStore()
	responder := &scriptedResponder{transcript: "hi", completeErr: chatmodel.ErrProvider}
	pipeline := NewVoicePipeline(store, responder, nil)

	existing, err := store.ResolveOrCreate(context.Background(), "", owner, chatmodel.DefaultVoiceTitle)
	require.NoError(t, err)

	_, err = pipeline.HandleAudioTurn(context.Background(), VoiceRequest{OwnerID: owner, SessionID: existing.ID, Audio: []byte("clip")})
	require.ErrorIs(t, err, chatmodel.ErrProvider)
	requireTurns(t, store, existing.ID, nil)
}

func TestVoiceTranscriptionErrorPropagates(t *testing.T) {
	pipeline := NewVoicePipeline(history.NewMemoryStore(), &scriptedResponder{transcribeErr: chatmodel.ErrProvider}, nil)

	_, err := pipeline.HandleAudioTurn(context.Background(), VoiceRequest{OwnerID: owner, Audio: []byte("clip")})
	assert.ErrorIs(t, err, chatmodel.ErrProvider)

	_, err = pipeline.HandleAudioTurn(context.Background(), VoiceRequest{Audio: []byte("clip")})
	assert.ErrorIs(t, err, chatmodel.ErrUnauthorized)
}

func TestVoiceTurnKeepsTextPlaceholderTitle(t *testing.T) {
	store := history.NewMemoryStore()
	responder := &scriptedResponder{streamErr: chatmodel.ErrProvider, transcript: "hi", reply: "hello", title: "Greeting"}

	failed, err := NewOrchestrator(store, responder, nil, Options{}).
		Stream(context.Background(), StreamRequest{OwnerID: owner, Content: "Hello"}, &recordingSink{})
	require.NoError(t, err)
	require.Equal(t, StateFailed, failed.State)

	result, err := NewVoicePipeline(store, responder, nil).
		HandleAudioTurn(context.Background(), VoiceRequest{OwnerID: owner, SessionID: failed.SessionID, Audio: []byte("clip")})
	require.NoError(t, err)

	assert.Equal(t, failed.SessionID, result.SessionID)
	assert.Empty(t, result.Title)
	assert.Empty(t, responder.seeds())
	session := requireTurns(t, store, result.SessionID, turns("user", "hi", "assistant", "hello"))
	assert.Equal(t, chatmodel.DefaultTextTitle, session.Title)
}

func TestStreamKeepsVoicePlaceholderTitle(t *testing.T) {
	store := history.NewMemoryStore()
	session, err := store.ResolveOrCreate(context.Background(), "", owner, chatmodel.DefaultVoiceTitle)
	require.NoError(t, err)

	responder := &scriptedResponder{fragments: []string{"ok"}, title: "Greeting"}
	out, err := NewOrchestrator(store, responder, nil, Options{}).
		Stream(context.Background(), StreamRequest{OwnerID: owner, SessionID: session.ID, Content: "Hello"}, &recordingSink{})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, out.State)
	assert.Empty(t, out.Title)
	assert.Empty(t, responder.seeds())
	saved := requireTurns(t, store, session.ID, turns("user", "Hello", "assistant", "ok"))
	assert.Equal(t, chatmodel.DefaultVoiceTitle, saved.Title)
}

func TestTitleDeriverKeepsIdenticalTitle(t *testing.T) {
	store := history.NewMemoryStore()
	session, err := store.ResolveOrCreate(context.Background(), "", owner, chatmodel.DefaultTextTitle)
	require.NoError(t, err)

	deriver := NewTitleDeriver(store, &scriptedResponder{title: `"New Chat"`}, nil)
	title, changed := deriver.DeriveAndApply(context.Background(), session, "Hello")
	assert.False(t, changed)
	assert.Empty(t, title)

	deriver = NewTitleDeriver(store, &scriptedResponder{title: "Planning a trip to Lisbon next spring"}, nil)
	title, changed = deriver.DeriveAndApply(context.Background(), session, "Hello")
	assert.True(t, changed)
	assert.Equal(t, "Planning a trip to Lisbon", title)
}

func TestResolverRequiresOwner(t *testing.T) {
	_, err := NewResolver(history.NewMemoryStore()).Resolve(context.Background(), "", "", chatmodel.DefaultTextTitle)
	assert.ErrorIs(t, err, chatmodel.ErrUnauthorized)
}
