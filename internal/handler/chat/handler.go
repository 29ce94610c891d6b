package chat

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/voxchat/backend/internal/middleware"
	"github.com/zhouzirui/voxchat/backend/internal/model/chat"
	"github.com/zhouzirui/voxchat/backend/pkg/utils"
)

// SessionStore is the read/delete slice of the history store used here.
type SessionStore interface {
	Get(ctx context.Context, sessionID, ownerID string) (*chat.Session, error)
	List(ctx context.Context, ownerID string) ([]chat.Summary, error)
	Delete(ctx context.Context, sessionID, ownerID string) (bool, error)
}

// Handler 会话查询与删除的HTTP处理器
type Handler struct {
	store  SessionStore
	logger *zap.Logger
}

// New 创建会话处理器
func New(store SessionStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{sessionID}", h.handleGet)
	r.Delete("/{sessionID}", h.handleDelete)
}

// handleList 列出当前用户的会话，按更新时间倒序
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFrom(r.Context())

	sessions, err := h.store.List(r.Context(), owner)
	if err != nil {
		h.fail(w, "list sessions", err)
		return
	}
	if sessions == nil {
		sessions = []chat.Summary{}
	}

	_ = utils.RespondJSON(w, http.StatusOK, sessions)
}

// handleGet 返回完整会话
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFrom(r.Context())

	session, err := h.store.Get(r.Context(), chi.URLParam(r, "sessionID"), owner)
	if err != nil {
		h.fail(w, "get session", err)
		return
	}
	if session.Turns == nil {
		session.Turns = []chat.Turn{}
	}

	_ = utils.RespondJSON(w, http.StatusOK, session)
}

// handleDelete 删除会话；不存在时返回 404
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFrom(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	deleted, err := h.store.Delete(r.Context(), sessionID, owner)
	if err != nil {
		h.fail(w, "delete session", err)
		return
	}
	if !deleted {
		_ = utils.RespondServiceError(w, chat.ErrNotFound)
		return
	}

	h.logger.Info("session deleted", zap.String("session", sessionID), zap.String("owner", owner))
	_ = utils.RespondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if utils.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
	}
	_ = utils.RespondServiceError(w, err)
}
