package student

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvengers/zera-pilot/internal/alert"
	"github.com/edvengers/zera-pilot/internal/counsel"
	"github.com/edvengers/zera-pilot/internal/domain"
	"github.com/edvengers/zera-pilot/internal/flow"
	"github.com/edvengers/zera-pilot/internal/identity"
	"github.com/edvengers/zera-pilot/internal/raid"
	"github.com/edvengers/zera-pilot/internal/store"
)

type fakeCounselor struct {
	mu       sync.Mutex
	requests []counsel.Request
}

func (f *fakeCounselor) Reply(_ context.Context, req counsel.Request) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if req.Init {
		return "hey. rough day?"
	}
	return "that sounds like a lot. what's the hardest part?"
}

func (f *fakeCounselor) calls() []counsel.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]counsel.Request(nil), f.requests...)
}

type testEnv struct {
	url       string
	raid      *raid.Manager
	alerts    *alert.Channel
	counselor *fakeCounselor
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "student.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	env := &testEnv{
		raid:      raid.NewManager(s, nil),
		alerts:    alert.NewChannel(s, nil),
		counselor: &fakeCounselor{},
	}
	h := NewWebSocketHandler(flow.Config{
		Raid:             env.raid,
		Alerts:           env.alerts,
		Counselor:        env.counselor,
		FeedbackDuration: time.Second,
		AckDuration:      time.Second,
	}, NewSessionManager(), "", true)

	srv := httptest.NewServer(identity.Middleware(true)(h))
	t.Cleanup(srv.Close)
	env.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return env
}

func dial(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, env.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg clientMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(serverMessage) bool) serverMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg serverMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if match(msg) {
			return msg
		}
	}
}

func screenIs(s flow.Screen) func(serverMessage) bool {
	return func(m serverMessage) bool {
		return m.Type == msgView && m.View != nil && m.View.Screen == s
	}
}

func persistedTurns(n int) func(serverMessage) bool {
	return func(m serverMessage) bool {
		if m.Type != msgPersist {
			return false
		}
		var turns []domain.Turn
		return json.Unmarshal(m.Transcript, &turns) == nil && len(turns) == n
	}
}

func TestStealthFlowOverWebSocket(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	conn := dial(t, env)

	send(t, conn, clientMessage{Type: msgHello, Language: "en"})
	readUntil(t, conn, screenIs(flow.ScreenLogin))

	send(t, conn, clientMessage{Type: msgLogin, Name: " Ada "})
	readUntil(t, conn, screenIs(flow.ScreenCalibration))

	send(t, conn, clientMessage{Type: msgCalibrate, Signal: string(flow.EventOverwhelmed)})
	readUntil(t, conn, persistedTurns(1))

	send(t, conn, clientMessage{Type: msgSubmit, Text: "tests tomorrow"})
	msg := readUntil(t, conn, persistedTurns(3))

	var turns []domain.Turn
	require.NoError(t, json.Unmarshal(msg.Transcript, &turns))
	assert.Equal(t, domain.RoleAI, turns[0].Role)
	assert.Equal(t, domain.Turn{Role: domain.RoleStudent, Text: "tests tomorrow"}, turns[1])
	assert.Equal(t, domain.RoleAI, turns[2].Role)

	set, err := env.alerts.List(context.Background())
	require.NoError(t, err)
	sorted := set.Sorted()
	require.Len(t, sorted, 2)
	assert.Equal(t, domain.AlertOverwhelmed, sorted[0].Type)
	assert.Equal(t, "Ada", sorted[0].StudentName)
	assert.Equal(t, domain.AlertChat, sorted[1].Type)
	assert.Equal(t, "tests tomorrow", sorted[1].Message)
}

func TestStoredTranscriptIsResumed(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	conn := dial(t, env)

	stored, err := counsel.EncodeTranscript([]domain.Turn{
		{Role: domain.RoleStudent, Text: "I'm stressed"},
		{Role: domain.RoleAI, Text: "that sounds hard"},
	})
	require.NoError(t, err)

	send(t, conn, clientMessage{Type: msgHello, Language: "zh", Transcript: stored})
	readUntil(t, conn, screenIs(flow.ScreenLogin))
	send(t, conn, clientMessage{Type: msgLogin, Name: "Ada"})
	send(t, conn, clientMessage{Type: msgCalibrate, Signal: string(flow.EventOverwhelmed)})
	readUntil(t, conn, screenIs(flow.ScreenHUD))

	send(t, conn, clientMessage{Type: msgSubmit, Text: "tests tomorrow"})
	readUntil(t, conn, persistedTurns(4))

	calls := env.counselor.calls()
	require.Len(t, calls, 1, "no opening line when a conversation exists")
	assert.Len(t, calls[0].History, 2)
	assert.Equal(t, "zh", calls[0].Language)
}

func TestGameHitOverWebSocket(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	require.NoError(t, env.raid.StartRaid(context.Background(), 200, "7"))
	conn := dial(t, env)

	send(t, conn, clientMessage{Type: msgHello})
	send(t, conn, clientMessage{Type: msgLogin, Name: "Ada"})
	send(t, conn, clientMessage{Type: msgCalibrate, Signal: string(flow.EventReady)})
	readUntil(t, conn, func(m serverMessage) bool {
		return m.Type == msgView && m.View != nil && m.View.MaxHP == 200
	})

	send(t, conn, clientMessage{Type: msgSubmit, Text: "7"})
	hit := readUntil(t, conn, func(m serverMessage) bool {
		return m.Type == msgView && m.View != nil && m.View.HP == 190
	})
	assert.Equal(t, flow.ScreenHUD, hit.View.Screen)
	assert.Empty(t, hit.View.Log)
}

func TestHelloRequired(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	conn := dial(t, env)

	send(t, conn, clientMessage{Type: msgLogin, Name: "Ada"})
	msg := readUntil(t, conn, func(m serverMessage) bool { return m.Type == msgError })
	assert.Equal(t, "hello_required", msg.Error)
}

func TestActionOutOfOrderIsRejected(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	conn := dial(t, env)

	send(t, conn, clientMessage{Type: msgHello})
	send(t, conn, clientMessage{Type: msgSubmit, Text: "42"})
	msg := readUntil(t, conn, func(m serverMessage) bool { return m.Type == msgError })
	assert.Equal(t, "not_allowed", msg.Error)

	send(t, conn, clientMessage{Type: msgPing})
	readUntil(t, conn, func(m serverMessage) bool { return m.Type == msgPong })
}
