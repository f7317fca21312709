// Package api provides HTTP handlers for the Zera Pilot API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/edvengers/zera-pilot/internal/alert"
	"github.com/edvengers/zera-pilot/internal/config"
	"github.com/edvengers/zera-pilot/internal/counsel"
	"github.com/edvengers/zera-pilot/internal/domain"
	"github.com/edvengers/zera-pilot/internal/store"
)

// RaidService is the live session as seen by the teacher console.
type RaidService interface {
	StartRaid(ctx context.Context, maxHP int, answerKey string) error
	Read(ctx context.Context) (domain.Session, error)
	Subscribe(ctx context.Context) (*store.Subscription[domain.SessionSnapshot], error)
}

// AlertService is the alert log as seen by the teacher console.
type AlertService interface {
	List(ctx context.Context) (alert.Set, error)
	SubscribeAll(ctx context.Context) (*store.Subscription[alert.Set], error)
}

// ChatService answers completion requests.
type ChatService interface {
	Complete(ctx context.Context, req counsel.Request) (string, error)
}

// Handler serves the teacher console and the completion route.
type Handler struct {
	raid        RaidService
	alerts      AlertService
	chat        ChatService
	rateLimiter *RateLimiter
	cfg         *config.Config
	logger      *slog.Logger

	eventCounter atomic.Int64
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(raid RaidService, alerts AlertService, chat ChatService, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		raid:        raid,
		alerts:      alerts,
		chat:        chat,
		rateLimiter: NewRateLimiter(cfg.Chat.RateLimit, cfg.Chat.RateWindow),
		cfg:         cfg,
		logger:      logger,
	}
}

// RegisterRoutes mounts the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.HandleChat)
	r.Route("/api/teacher", func(r chi.Router) {
		r.Post("/raid", h.HandleStartRaid)
		r.Get("/session", h.HandleSession)
		r.Get("/alerts", h.HandleAlerts)
		r.Get("/stream", h.HandleStream)
	})
}

// Close releases background resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
