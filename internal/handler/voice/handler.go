package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/voxchat/backend/internal/middleware"
	chatservice "github.com/zhouzirui/voxchat/backend/internal/service/chat"
	"github.com/zhouzirui/voxchat/backend/pkg/utils"
)

const defaultMaxUploadBytes int64 = 25 << 20

// Pipeline answers one recorded utterance.
type Pipeline interface {
	HandleAudioTurn(ctx context.Context, req chatservice.VoiceRequest) (chatservice.VoiceResult, error)
}

// Handler 语音对话的HTTP处理器
type Handler struct {
	pipeline       Pipeline
	logger         *zap.Logger
	maxUploadBytes int64
}

// New 创建语音处理器. maxUploadBytes <= 0 uses a 25MB limit.
func New(pipeline Pipeline, logger *zap.Logger, maxUploadBytes int64) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{pipeline: pipeline, logger: logger, maxUploadBytes: maxUploadBytes}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/audio", h.handleAudio)
}

type audioResponse struct {
	SessionID  string  `json:"sessionId"`
	Transcript string  `json:"transcript"`
	Response   string  `json:"response"`
	Audio      *string `json:"audio"`
	Title      string  `json:"title,omitempty"`
}

func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUploadBytes {
		_ = utils.RespondError(w, http.StatusRequestEntityTooLarge, "audio file is too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = utils.RespondError(w, http.StatusRequestEntityTooLarge, "audio file is too large")
			return
		}
		_ = utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		_ = utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		_ = utils.RespondError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}
	if len(audio) == 0 {
		_ = utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}

	owner := middleware.OwnerFrom(r.Context())
	result, err := h.pipeline.HandleAudioTurn(r.Context(), chatservice.VoiceRequest{
		OwnerID:   owner,
		SessionID: r.FormValue("sessionId"),
		Audio:     audio,
	})
	if err != nil {
		if utils.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.Error("voice turn failed", zap.String("owner", owner), zap.Error(err))
		}
		_ = utils.RespondServiceError(w, err)
		return
	}

	resp := audioResponse{
		SessionID:  result.SessionID,
		Transcript: result.Transcript,
		Response:   result.Response,
		Title:      result.Title,
	}
	if len(result.Audio) > 0 {
		encoded := base64.StdEncoding.EncodeToString(result.Audio)
		resp.Audio = &encoded
	}
	_ = utils.RespondJSON(w, http.StatusOK, resp)
}
