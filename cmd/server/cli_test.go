package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvengers/zera-pilot/internal/alert"
	"github.com/edvengers/zera-pilot/internal/domain"
	"github.com/edvengers/zera-pilot/internal/store"
)

func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "zera.db")
	t.Setenv("DB_PATH", dbPath)
	t.Setenv("LOG_LEVEL", "error")
	return dbPath
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	return out.String(), err
}

func TestRaidCommands(t *testing.T) {
	setupCLI(t)

	out, err := runCLI(t, "raid", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No active raid.")

	out, err = runCLI(t, "raid", "start", "--hp", "200", "--key", "photosynthesis")
	require.NoError(t, err)
	assert.Contains(t, out, "Raid started")

	out, err = runCLI(t, "raid", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "HP")
	assert.Contains(t, out, "200")
	assert.Contains(t, out, "100%")
	assert.Contains(t, out, "photosynthesis")
}

func TestRaidStartRejectsBadInput(t *testing.T) {
	setupCLI(t)

	_, err := runCLI(t, "raid", "start", "--hp", "0", "--key", "x")
	assert.Error(t, err)

	_, err = runCLI(t, "raid", "start", "--key", "   ")
	assert.Error(t, err)

	_, err = runCLI(t, "raid", "start")
	assert.Error(t, err)
}

func TestAlertsList(t *testing.T) {
	dbPath := setupCLI(t)

	out, err := runCLI(t, "alerts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No alerts.")

	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	ch := alert.NewChannel(st, nil)
	_, err = ch.Raise(context.Background(), "Mei", domain.AlertOverwhelmed, domain.OverwhelmedMessage)
	require.NoError(t, err)
	_, err = ch.Raise(context.Background(), "Mei", domain.AlertChat, "i dont get it")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err = runCLI(t, "alerts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "STUDENT")
	assert.Contains(t, out, "overwhelmed")
	assert.Contains(t, out, "i dont get it")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeLister struct {
	mu  sync.Mutex
	set alert.Set
}

func (f *fakeLister) List(context.Context) (alert.Set, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(alert.Set, len(f.set))
	for k, v := range f.set {
		out[k] = v
	}
	return out, nil
}

func (f *fakeLister) add(a domain.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set[a.ID] = a
}

func TestWatchAlertsPrintsOnlyNewAlerts(t *testing.T) {
	now := time.Now()
	l := &fakeLister{set: alert.Set{
		"a1": {ID: "a1", StudentName: "Mei", Type: domain.AlertOverwhelmed, Message: domain.OverwhelmedMessage, Timestamp: now},
	}}
	out := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watchAlerts(ctx, l, 20*time.Millisecond, out) }()

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("Status: Overwhelmed"))
	}, 2*time.Second, 10*time.Millisecond)

	l.add(domain.Alert{ID: "a2", StudentName: "Ravi", Type: domain.AlertChat, Message: "help pls", Timestamp: now.Add(time.Second)})

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("help pls"))
	}, 2*time.Second, 10*time.Millisecond)

	// Give the poller a few more rounds; nothing should repeat.
	time.Sleep(100 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, bytes.Count([]byte(out.String()), []byte("Status: Overwhelmed")))
	assert.Equal(t, 1, bytes.Count([]byte(out.String()), []byte("help pls")))
}
