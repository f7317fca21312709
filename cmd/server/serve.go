package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/edvengers/zera-pilot/internal/alert"
	"github.com/edvengers/zera-pilot/internal/api"
	"github.com/edvengers/zera-pilot/internal/counsel"
	"github.com/edvengers/zera-pilot/internal/flow"
	"github.com/edvengers/zera-pilot/internal/health"
	"github.com/edvengers/zera-pilot/internal/identity"
	"github.com/edvengers/zera-pilot/internal/llm"
	"github.com/edvengers/zera-pilot/internal/middleware"
	"github.com/edvengers/zera-pilot/internal/raid"
	"github.com/edvengers/zera-pilot/internal/student"
	"github.com/edvengers/zera-pilot/internal/telemetry"
)

const healthCheckInterval = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

//nolint:gocyclo // Startup wiring is intentionally sequential to keep dependency setup explicit.
func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	logger.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint)
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}()

	// Initialize dependencies.
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore(st)

	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	logger.Info("Database connected", "path", cfg.DBPath)

	raidMgr := raid.NewManager(st, logger)
	alerts := alert.NewChannel(st, logger)

	if cfg.LLM.APIKey == "" {
		logger.Warn("GOOGLE_GEMINI_KEY not set, support replies will use the fallback line")
	}
	completer := llm.New(llm.Config{
		BaseURL:   cfg.LLM.BaseURL,
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   cfg.LLM.HTTPTimeout,
	})

	counselOpts := []counsel.Option{counsel.WithLogger(logger)}
	if logger.Enabled(ctx, slog.LevelDebug) {
		if tk, err := counsel.NewTokenizer(cfg.LLM.TokenizerModel); err != nil {
			logger.Warn("Prompt token counting disabled", "error", err)
		} else {
			counselOpts = append(counselOpts, counsel.WithTokenCounter(tk))
		}
	}
	counselor := counsel.NewCounselor(completer, cfg.LLM.MaxConcurrent, counselOpts...)

	// Initialize handlers.
	apiHandler := api.NewHandler(raidMgr, alerts, counselor, cfg, logger)
	defer apiHandler.Close()

	sm := student.NewSessionManager()
	wsHandler := student.NewWebSocketHandler(flow.Config{
		Raid:             raidMgr,
		Alerts:           alerts,
		Counselor:        counselor,
		DamagePerHit:     cfg.Game.DamagePerHit,
		FeedbackDuration: cfg.Game.FeedbackDuration,
		AckDuration:      cfg.Game.AckDuration,
	}, sm, cfg.FrontendURL, cfg.IsDevelopment())

	allowedOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		allowedOrigins = []string{cfg.FrontendURL}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)
	r.Get("/ws/student", wsHandler.ServeHTTP)

	// SSE and WebSocket connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(r, telemetry.ServiceName),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Long-lived streams end when shutdown begins.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv.BaseContext = func(net.Listener) context.Context { return baseCtx }
	srv.RegisterOnShutdown(cancelBase)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.GRPCHealthPort != "" {
		checker := health.NewChecker(st, healthCheckInterval, logger)
		g.Go(func() error {
			return health.Serve(gctx, ":"+cfg.GRPCHealthPort, checker)
		})
	}

	// Wait for shutdown signal.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...", "students_connected", sm.Count())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		sm.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", "error", err)
		return err
	}
	logger.Info("Server stopped successfully")
	return nil
}
