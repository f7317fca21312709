package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/edvengers/zera-pilot/internal/alert"
	"github.com/edvengers/zera-pilot/internal/domain"
	"github.com/edvengers/zera-pilot/internal/raid"
)

// StartRaidRequest is the body of POST /api/teacher/raid.
type StartRaidRequest struct {
	MaxHP     int    `json:"max_hp"`
	AnswerKey string `json:"answer_key"`
}

// SessionResponse is the teacher's view of the live session.
type SessionResponse struct {
	Active    bool    `json:"active"`
	MaxHP     int     `json:"max_hp"`
	CurrentHP int     `json:"current_hp"`
	AnswerKey string  `json:"answer_key"`
	Percent   float64 `json:"percent"`
	Defeated  bool    `json:"defeated"`
}

// AlertsResponse lists alerts oldest first.
type AlertsResponse struct {
	Alerts []domain.Alert `json:"alerts"`
}

func newSessionResponse(snap domain.SessionSnapshot) SessionResponse {
	if !snap.Exists || snap.Session == nil {
		return SessionResponse{}
	}
	s := *snap.Session
	return SessionResponse{
		Active:    true,
		MaxHP:     s.MaxHP,
		CurrentHP: s.CurrentHP,
		AnswerKey: s.AnswerKey,
		Percent:   s.Percent(),
		Defeated:  s.Defeated(),
	}
}

func newAlertsResponse(set alert.Set) AlertsResponse {
	return AlertsResponse{Alerts: set.Sorted()}
}

// HandleStartRaid handles POST /api/teacher/raid.
func (h *Handler) HandleStartRaid(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Chat.MaxRequestBodySize)

	var req StartRaidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.AnswerKey = strings.TrimSpace(req.AnswerKey)
	if req.AnswerKey == "" {
		Error(w, http.StatusBadRequest, "answer_key is required")
		return
	}

	if err := h.raid.StartRaid(r.Context(), req.MaxHP, req.AnswerKey); err != nil {
		if errors.Is(err, raid.ErrInvalidMaxHP) {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Failed to start raid", "error", err)
		Error(w, http.StatusInternalServerError, "failed to start raid")
		return
	}

	JSON(w, http.StatusCreated, newSessionResponse(domain.SessionSnapshot{
		Exists:  true,
		Session: &domain.Session{MaxHP: req.MaxHP, CurrentHP: req.MaxHP, AnswerKey: req.AnswerKey},
	}))
}

// HandleSession handles GET /api/teacher/session.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.raid.Read(r.Context())
	if errors.Is(err, raid.ErrNoRaid) {
		JSON(w, http.StatusOK, SessionResponse{})
		return
	}
	if err != nil {
		h.logger.Error("Failed to read session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to read session")
		return
	}
	JSON(w, http.StatusOK, newSessionResponse(domain.SessionSnapshot{Exists: true, Session: &sess}))
}

// HandleAlerts handles GET /api/teacher/alerts.
func (h *Handler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	set, err := h.alerts.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list alerts", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	JSON(w, http.StatusOK, newAlertsResponse(set))
}
