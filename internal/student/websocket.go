package student

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/edvengers/zera-pilot/internal/counsel"
	"github.com/edvengers/zera-pilot/internal/flow"
	"github.com/edvengers/zera-pilot/internal/identity"
)

const writeTimeout = 5 * time.Second

// Client message types.
const (
	msgHello     = "hello"
	msgLogin     = "login"
	msgCalibrate = "calibrate"
	msgSubmit    = "submit"
	msgPing      = "ping"
)

// Server message types.
const (
	msgView    = "view"
	msgPersist = "persist"
	msgError   = "error"
	msgPong    = "pong"
)

// clientMessage is what the browser sends.
type clientMessage struct {
	Type       string          `json:"type"`
	Name       string          `json:"name,omitempty"`
	Signal     string          `json:"signal,omitempty"`
	Text       string          `json:"text,omitempty"`
	Language   string          `json:"language,omitempty"`
	Transcript json.RawMessage `json:"transcript,omitempty"`
}

// serverMessage is what the browser receives.
type serverMessage struct {
	Type       string          `json:"type"`
	View       *flow.View      `json:"view,omitempty"`
	Transcript json.RawMessage `json:"transcript,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// WebSocketHandler runs one student flow per WebSocket connection.
type WebSocketHandler struct {
	base          flow.Config
	sm            *SessionManager
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler. base carries the shared
// collaborators; transcript, language and logger are set per connection.
func NewWebSocketHandler(base flow.Config, sm *SessionManager, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		base:          base,
		sm:            sm,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	logger := slog.With("device_id", deviceID, "session_id", sessionID)
	logger.Info("Student connection request", "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	h.sm.Register(deviceID, sessionID, ws)
	defer h.sm.Unregister(deviceID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	hello, err := h.readHello(ctx, ws)
	if err != nil {
		logger.Warn("Handshake failed", "error", err)
		if err := h.writeJSON(ctx, ws, serverMessage{Type: msgError, Error: "hello_required"}); err != nil {
			logger.Debug("Failed to send hello_required error", "error", err)
		}
		return
	}

	turns, err := counsel.DecodeTranscript(hello.Transcript)
	if err != nil {
		logger.Warn("Discarding unreadable transcript", "error", err)
		turns = nil
	}

	cfg := h.base
	cfg.Logger = logger
	cfg.Language = hello.Language
	cfg.Transcripts = &clientTranscript{
		turns: turns,
		send: func(ctx context.Context, msg serverMessage) error {
			return h.writeJSON(ctx, ws, msg)
		},
	}

	st := flow.New(ctx, cfg)
	defer st.Close()

	var wg sync.WaitGroup
	wg.Add(2)

	// Input loop: WebSocket -> flow.
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, st, logger)
	}()

	// Output loop: flow -> WebSocket.
	go func() {
		defer wg.Done()
		defer cancel()
		h.viewLoop(ctx, ws, st, logger)
	}()

	wg.Wait()
	logger.Info("Student connection ended")
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readHello(ctx context.Context, ws *websocket.Conn) (clientMessage, error) {
	_, data, err := ws.Read(ctx)
	if err != nil {
		return clientMessage{}, err
	}
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return clientMessage{}, err
	}
	if msg.Type != msgHello {
		return clientMessage{}, errors.New("first message must be hello")
	}
	return msg, nil
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, st *flow.Student, logger *slog.Logger) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				logger.Debug("WebSocket closed by client")
			} else {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("Ignoring malformed message", "error", err)
			continue
		}

		switch msg.Type {
		case msgLogin:
			err = st.Login(msg.Name)
		case msgCalibrate:
			err = st.Calibrate(ctx, flow.Event(msg.Signal))
		case msgSubmit:
			err = st.Submit(ctx, msg.Text)
		case msgPing:
			err = h.writeJSON(ctx, ws, serverMessage{Type: msgPong})
		default:
			logger.Debug("Ignoring unknown message", "type", msg.Type)
			continue
		}

		if errors.Is(err, flow.ErrTransitionNotAllowed) {
			logger.Debug("Rejected student action", "type", msg.Type, "error", err)
			if err := h.writeJSON(ctx, ws, serverMessage{Type: msgError, Error: "not_allowed"}); err != nil {
				logger.Debug("Failed to send not_allowed error", "error", err)
			}
		} else if err != nil {
			logger.Warn("Student action failed", "type", msg.Type, "error", err)
		}
	}
}

func (h *WebSocketHandler) viewLoop(ctx context.Context, ws *websocket.Conn, st *flow.Student, logger *slog.Logger) {
	send := func() error {
		v := st.View()
		return h.writeJSON(ctx, ws, serverMessage{Type: msgView, View: &v})
	}

	if err := send(); err != nil {
		logger.Debug("Failed to send initial view", "error", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-st.Changes():
			if err := send(); err != nil {
				if ctx.Err() == nil {
					logger.Debug("Failed to send view", "error", err)
				}
				return
			}
		}
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
