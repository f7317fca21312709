package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HandleStream handles GET /api/teacher/stream.
// Every session or alert change is sent as a full snapshot, so a reconnecting
// client is brought up to date by the snapshots sent on connect and needs no
// replay of missed events.
//
//nolint:gocognit // SSE lifecycle handling intentionally keeps branches together.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		lastEventID = r.URL.Query().Get("lastEventId")
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sessions, err := h.raid.Subscribe(ctx)
	if err != nil {
		h.logger.Error("Failed to subscribe to session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	defer sessions.Close()

	alerts, err := h.alerts.SubscribeAll(ctx)
	if err != nil {
		h.logger.Error("Failed to subscribe to alerts", "error", err)
		Error(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	defer alerts.Close()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.cfg.SSE.RetryDelay.Milliseconds())); err != nil {
		h.logger.Warn("failed to write SSE retry header", "error", err)
		return
	}
	if err := writeSSEWithID(w, h.eventCounter.Add(1), "connected", `{"status":"connected"}`); err != nil {
		h.logger.Warn("failed to write SSE connected event", "error", err)
		return
	}
	flusher.Flush()

	h.logger.Info("Teacher stream connected", "reconnect", lastEventID != "", "last_event_id", lastEventID)
	defer h.logger.Info("Teacher stream disconnected")

	keepaliveInterval := h.cfg.SSE.KeepaliveInterval
	if keepaliveInterval <= 0 {
		keepaliveInterval = 10 * time.Second
	}
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	send := func(event string, v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			h.logger.Error("failed to encode SSE payload", "event", event, "error", err)
			return false
		}
		if err := writeSSEWithID(w, h.eventCounter.Add(1), event, string(data)); err != nil {
			h.logger.Debug("failed to write SSE event", "event", event, "error", err)
			return false
		}
		flusher.Flush()
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sessions.Updates():
			if !ok || !send("session", newSessionResponse(snap)) {
				return
			}
		case set, ok := <-alerts.Updates():
			if !ok || !send("alerts", newAlertsResponse(set)) {
				return
			}
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Debug("failed to write SSE keepalive ping", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
