package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/voxchat/backend/internal/config"
	"github.com/zhouzirui/voxchat/backend/internal/handler"
	"github.com/zhouzirui/voxchat/backend/internal/service/ai"
	"github.com/zhouzirui/voxchat/backend/internal/service/chat"
	"github.com/zhouzirui/voxchat/backend/internal/service/history"
)

const shutdownTimeout = 10 * time.Second

var (
	verbose bool
	cfg     *config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "api",
	Short: "VoxChat backend: streamed text and voice chat over HTTP",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load .env file
		envErr := godotenv.Load()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		zapCfg := zap.NewProductionConfig()
		if verbose || cfg.Log.Debug() {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if envErr != nil {
			logger.Warn("failed to load .env file; continuing with system environment variables only", zap.Error(envErr))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: serve,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server (default)",
	RunE:  serve,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	responder, err := ai.New(ctx, cfg.AI, logger.Named("ai"))
	if err != nil {
		return fmt.Errorf("failed to initialize ai provider: %w", err)
	}

	chatLogger := logger.Named("chat")
	orchestrator := chat.NewOrchestrator(store, responder, chatLogger, chat.Options{
		DuplicateWindow: cfg.Chat.DuplicateWindow,
		CommitTimeout:   cfg.Chat.CommitTimeout,
		StreamTimeout:   cfg.Chat.StreamTimeout,
	})
	voice := chat.NewVoicePipeline(store, responder, chatLogger)

	router := handler.NewRouter(handler.Deps{
		Server:         cfg.Server,
		Sessions:       store,
		Streamer:       orchestrator,
		Voice:          voice,
		MaxUploadBytes: cfg.Chat.MaxUploadBytes,
		Logger:         logger.Named("http"),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("VoxChat backend listening",
		zap.String("addr", srv.Addr),
		zap.String("provider", cfg.AI.ProviderName()),
		zap.String("store", cfg.Store.Driver),
	)
	if err := runServer(ctx, srv); err != nil {
		logger.Error("server error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

// runServer serves until ctx is done, then drains requests. Requests still
// running when the drain times out are cancelled so their exchanges can settle.
func runServer(ctx context.Context, srv *http.Server) error {
	baseCtx, cancelRequests := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRequests()
	srv.BaseContext = func(net.Listener) context.Context { return baseCtx }

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		cancelRequests()
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func openStore(ctx context.Context, storeCfg config.StoreConfig) (history.Store, error) {
	switch storeCfg.Driver {
	case config.StoreMemory:
		logger.Warn("using in-memory history store; sessions are lost on restart")
		return history.NewMemoryStore(), nil
	case config.StoreSQLite:
		store, err := history.OpenSQLite(ctx, storeCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		logger.Info("history store ready", zap.String("driver", storeCfg.Driver), zap.String("dsn", storeCfg.DSN))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", storeCfg.Driver)
	}
}
