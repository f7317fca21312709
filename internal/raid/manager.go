// Package raid owns the shared live-session document: the boss's health and
// the answer key. Callers never touch the document fields directly.
package raid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/edvengers/zera-pilot/internal/domain"
	"github.com/edvengers/zera-pilot/internal/store"
)

// LivePath is the address of the singleton session document.
const LivePath = "sessions/live"

const (
	fieldMaxHP     = "max_hp"
	fieldCurrentHP = "current_hp"
	fieldAnswerKey = "answer_key"
)

var (
	// ErrInvalidMaxHP is returned when a raid is started with non-positive health.
	ErrInvalidMaxHP = errors.New("max hp must be positive")
	// ErrInvalidDamage is returned for non-positive damage amounts.
	ErrInvalidDamage = errors.New("damage must be positive")
	// ErrNoRaid is returned when no raid has been started yet.
	ErrNoRaid = errors.New("no active raid")
)

// Manager exposes the live session as a single aggregate.
type Manager struct {
	store  store.Store
	logger *slog.Logger
}

// NewManager creates a session manager over the given document store.
func NewManager(s store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: s, logger: logger}
}

// StartRaid replaces the session document with a fresh raid at full health.
func (m *Manager) StartRaid(ctx context.Context, maxHP int, answerKey string) error {
	if maxHP <= 0 {
		return ErrInvalidMaxHP
	}

	err := m.store.Set(ctx, LivePath, map[string]any{
		fieldMaxHP:     maxHP,
		fieldCurrentHP: maxHP,
		fieldAnswerKey: answerKey,
	})
	if err != nil {
		return fmt.Errorf("start raid: %w", err)
	}

	m.logger.Info("Raid started", "max_hp", maxHP)
	return nil
}

// Read returns the current session.
func (m *Manager) Read(ctx context.Context) (domain.Session, error) {
	doc, err := m.store.Get(ctx, LivePath)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Session{}, ErrNoRaid
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("read session: %w", err)
	}
	return decodeSession(*doc)
}

// ApplyDamage atomically lowers the boss's health by amount. The decrement is
// resolved by the store, so concurrent hits sum correctly. Health is not
// clamped at zero.
func (m *Manager) ApplyDamage(ctx context.Context, amount int) error {
	if amount <= 0 {
		return ErrInvalidDamage
	}

	err := m.store.Update(ctx, LivePath, store.Increment(fieldCurrentHP, -int64(amount)))
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoRaid
	}
	if err != nil {
		return fmt.Errorf("apply damage: %w", err)
	}
	return nil
}

// Subscribe streams the session on every change, including the caller's own.
// The first snapshot is the current state.
func (m *Manager) Subscribe(ctx context.Context) (*store.Subscription[domain.SessionSnapshot], error) {
	src, err := m.store.WatchDocument(ctx, LivePath)
	if err != nil {
		return nil, fmt.Errorf("subscribe session: %w", err)
	}

	return store.Transform(ctx, src, func(snap store.DocumentSnapshot) (domain.SessionSnapshot, bool) {
		if !snap.Exists {
			return domain.SessionSnapshot{}, true
		}
		sess, err := decodeSession(snap.Document)
		if err != nil {
			m.logger.Warn("Dropping undecodable session snapshot", "error", err)
			return domain.SessionSnapshot{}, false
		}
		return domain.SessionSnapshot{Exists: true, Session: &sess}, true
	}), nil
}

func decodeSession(doc store.Document) (domain.Session, error) {
	var sess domain.Session
	if err := doc.DataTo(&sess); err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}
