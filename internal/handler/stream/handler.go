package stream

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/voxchat/backend/internal/middleware"
	"github.com/zhouzirui/voxchat/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/voxchat/backend/internal/service/chat"
	"github.com/zhouzirui/voxchat/backend/pkg/utils"
)

// Streamer runs one streamed exchange.
type Streamer interface {
	Stream(ctx context.Context, req chatservice.StreamRequest, sink chatservice.Sink) (chatservice.Outcome, error)
}

// Handler serves streamed replies over Server-Sent Events and WebSocket.
type Handler struct {
	streamer Streamer
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New creates a new stream handler
func New(streamer Streamer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		streamer: streamer,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册流式对话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/stream", h.handleStream)
	r.Get("/ws", h.handleWebSocket)
}

// streamRequest is the body of POST /stream and of each WebSocket frame.
type streamRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func (req streamRequest) toService(owner string) chatservice.StreamRequest {
	return chatservice.StreamRequest{OwnerID: owner, SessionID: req.SessionID, Content: req.Message}
}

// handleStream answers one message with an SSE stream of token, title, done or error events.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		_ = utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var payload streamRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		_ = utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	owner := middleware.OwnerFrom(r.Context())
	sink := &sseSink{w: w, flusher: flusher}

	if _, err := h.streamer.Stream(r.Context(), payload.toService(owner), sink); err != nil {
		if utils.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.Error("stream failed to start", zap.String("owner", owner), zap.Error(err))
		}
		_ = utils.RespondServiceError(w, err)
	}
}

// sseSink writes SSE headers lazily so errors raised before the first event
// can still be answered as plain JSON.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseSink) Send(ev chatservice.Event) error {
	if !s.started {
		utils.SetupSSEHeaders(s.w)
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	return utils.SendSSEChunk(s.w, s.flusher, ev)
}

// errorEvent is the terminal event for an exchange that never started.
func errorEvent(err error) chatservice.Event {
	return chatservice.Event{Error: chat.Reason(err)}
}
