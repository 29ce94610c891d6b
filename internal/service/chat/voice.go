package chat

import (
	"context"
	"strings"
	"time"

	chatmodel "github.com/zhouzirui/voxchat/backend/internal/model/chat"
	"github.com/zhouzirui/voxchat/backend/internal/service/ai"
	"github.com/zhouzirui/voxchat/backend/internal/service/history"
	"go.uber.org/zap"
)

// VoiceRequest is one recorded utterance.
type VoiceRequest struct {
	OwnerID   string
	SessionID string
	Audio     []byte
}

// VoiceResult is the reply to a voice turn. Audio is empty when the responder
// cannot synthesize speech.
type VoiceResult struct {
	SessionID  string
	Transcript string
	Response   string
	Audio      []byte
	Title      string
}

// VoicePipeline handles non-streaming audio turns.
type VoicePipeline struct {
	resolver  *Resolver
	store     history.Store
	responder ai.Responder
	titles    *TitleDeriver
	logger    *zap.Logger
}

func NewVoicePipeline(store history.Store, responder ai.Responder, logger *zap.Logger) *VoicePipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VoicePipeline{
		resolver:  NewResolver(store),
		store:     store,
		responder: responder,
		titles:    NewTitleDeriver(store, responder, logger),
		logger:    logger,
	}
}

// HandleAudioTurn transcribes the clip, answers it and stores both turns. The
// session is resolved only after a usable transcript exists, so an empty
// transcript never creates a session.
func (p *VoicePipeline) HandleAudioTurn(ctx context.Context, req VoiceRequest) (VoiceResult, error) {
	if req.OwnerID == "" {
		return VoiceResult{}, chatmodel.ErrUnauthorized
	}
	start := time.Now()

	transcript, err := p.responder.Transcribe(ctx, req.Audio)
	if err != nil {
		return VoiceResult{}, err
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return VoiceResult{}, chatmodel.ErrEmptyTranscript
	}

	session, err := p.resolver.Resolve(ctx, req.SessionID, req.OwnerID, chatmodel.DefaultVoiceTitle)
	if err != nil {
		return VoiceResult{}, err
	}
	log := p.logger.With(zap.String("session", session.ID), zap.String("owner", req.OwnerID))

	response, err := p.responder.Complete(ctx, buildHistory(session.Turns, transcript))
	if err != nil {
		log.Warn("voice reply failed", zap.Error(err))
		return VoiceResult{}, err
	}

	audio, err := p.responder.Synthesize(ctx, response)
	if err != nil {
		log.Warn("speech synthesis failed; replying without audio", zap.Error(err))
		audio = nil
	}

	saved, err := p.store.AppendTurns(ctx, session.ID, req.OwnerID,
		chatmodel.Turn{Role: chatmodel.RoleUser, Content: transcript},
		chatmodel.Turn{Role: chatmodel.RoleAssistant, Content: response},
	)
	if err != nil {
		log.Warn("saving voice turn failed", zap.Error(err))
		return VoiceResult{}, err
	}

	result := VoiceResult{
		SessionID:  session.ID,
		Transcript: transcript,
		Response:   response,
		Audio:      audio,
	}
	if needsTitle(saved, chatmodel.DefaultVoiceTitle) {
		if title, changed := p.titles.DeriveAndApply(ctx, saved, transcript); changed {
			result.Title = title
		}
	}

	log.Info("voice turn finished",
		zap.Int("audio_bytes", len(audio)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}
