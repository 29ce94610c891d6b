package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/voxchat/backend/internal/config"
	"github.com/zhouzirui/voxchat/backend/internal/handler/chat"
	"github.com/zhouzirui/voxchat/backend/internal/handler/stream"
	"github.com/zhouzirui/voxchat/backend/internal/handler/voice"
	middlewarePkg "github.com/zhouzirui/voxchat/backend/internal/middleware"
	"github.com/zhouzirui/voxchat/backend/pkg/utils"
)

// Deps are the services the HTTP layer is wired to.
type Deps struct {
	Server   config.ServerConfig
	Sessions chat.SessionStore
	Streamer stream.Streamer
	Voice    voice.Pipeline
	// MaxUploadBytes caps voice uploads; zero uses the handler default.
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Logger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.Server.CORSOrigin, deps.Server.IdentityHeader))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/chat", func(api chi.Router) {
		api.Use(middlewarePkg.Identity(deps.Server.IdentityHeader))

		chat.New(deps.Sessions, logger).RegisterRoutes(api)
		stream.New(deps.Streamer, logger).RegisterRoutes(api)
		voice.New(deps.Voice, logger, deps.MaxUploadBytes).RegisterRoutes(api)
	})

	return r
}
