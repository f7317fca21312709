// Package alert implements the append-only escalation log that the teacher
// console observes.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/edvengers/zera-pilot/internal/domain"
	"github.com/edvengers/zera-pilot/internal/store"
)

// Collection is the store collection holding alert records.
const Collection = "alerts"

// ErrInvalidType is returned when raising an alert of unknown type.
var ErrInvalidType = errors.New("invalid alert type")

// Set is the full alert collection keyed by record id.
type Set map[string]domain.Alert

// Sorted returns the alerts oldest first.
func (s Set) Sorted() []domain.Alert {
	out := make([]domain.Alert, 0, len(s))
	for _, a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// NewSince returns alerts present in cur but not in prev, oldest first.
func NewSince(prev, cur Set) []domain.Alert {
	fresh := Set{}
	for id, a := range cur {
		if _, seen := prev[id]; !seen {
			fresh[id] = a
		}
	}
	return fresh.Sorted()
}

// record is the stored shape of an alert.
type record struct {
	StudentName string           `json:"student_name"`
	Type        domain.AlertType `json:"type"`
	Message     string           `json:"message"`
	Timestamp   string           `json:"timestamp"`
}

// Channel appends and observes alerts.
type Channel struct {
	store  store.Store
	logger *slog.Logger
}

// NewChannel creates an alert channel over the document store.
func NewChannel(s store.Store, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{store: s, logger: logger}
}

// Raise appends one immutable alert with a server-assigned timestamp.
// Repeated calls create repeated records.
func (c *Channel) Raise(ctx context.Context, studentName string, t domain.AlertType, message string) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, t)
	}

	id, err := c.store.Add(ctx, Collection, map[string]any{
		"student_name": studentName,
		"type":         string(t),
		"message":      message,
		"timestamp":    store.ServerTimestamp,
	})
	if err != nil {
		return "", fmt.Errorf("raise %s alert: %w", t, err)
	}

	c.logger.Info("Alert raised", "alert_id", id, "type", t, "student_name", studentName)
	return id, nil
}

// List returns the current alert set.
func (c *Channel) List(ctx context.Context) (Set, error) {
	docs, err := c.store.List(ctx, Collection)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return c.toSet(docs), nil
}

// SubscribeAll streams the complete alert set on every insert.
func (c *Channel) SubscribeAll(ctx context.Context) (*store.Subscription[Set], error) {
	src, err := c.store.WatchCollection(ctx, Collection)
	if err != nil {
		return nil, fmt.Errorf("subscribe alerts: %w", err)
	}
	return store.Transform(ctx, src, func(snap store.CollectionSnapshot) (Set, bool) {
		return c.toSet(snap.Documents), true
	}), nil
}

func (c *Channel) toSet(docs []store.Document) Set {
	set := make(Set, len(docs))
	for _, doc := range docs {
		a, err := decodeAlert(doc)
		if err != nil {
			c.logger.Warn("Skipping undecodable alert", "alert_id", doc.ID, "error", err)
			continue
		}
		set[a.ID] = a
	}
	return set
}

func decodeAlert(doc store.Document) (domain.Alert, error) {
	var rec record
	if err := doc.DataTo(&rec); err != nil {
		return domain.Alert{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
	if err != nil {
		ts = doc.CreateTime
	}
	return domain.Alert{
		ID:          doc.ID,
		StudentName: rec.StudentName,
		Type:        rec.Type,
		Message:     rec.Message,
		Timestamp:   ts,
	}, nil
}
