package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/edvengers/zera-pilot/internal/counsel"
	"github.com/edvengers/zera-pilot/internal/identity"
	"github.com/edvengers/zera-pilot/internal/llm"
)

// ChatResponse is the success body of POST /api/chat.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// HandleChat handles POST /api/chat: one counseling turn, no fallback.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		deviceID = identity.IPFromRequest(r)
	}

	if !h.rateLimiter.Allow(deviceID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Chat.MaxRequestBodySize)
	var req counsel.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.chat.Complete(r.Context(), req)
	switch {
	case err == nil:
		JSON(w, http.StatusOK, ChatResponse{Reply: reply})
	case errors.Is(err, counsel.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, "Message is required")
	case errors.Is(err, llm.ErrMissingCredential):
		h.logger.Error("Completion credential missing")
		Error(w, http.StatusInternalServerError, "GOOGLE_GEMINI_KEY is not set")
	default:
		h.logger.Error("Error generating content", "device_id", deviceID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to generate response")
	}
}
