// Package store provides a path-addressed document store with atomic field
// increments and change subscriptions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidPath is returned for paths that are not "collection/id" or "collection".
	ErrInvalidPath = errors.New("invalid document path")
)

// Store defines document persistence with push-based change notification.
type Store interface {
	// Set overwrites the whole document at path.
	Set(ctx context.Context, path string, fields map[string]any) error

	// Update merges field updates into an existing document. All updates are
	// applied atomically at the store; Increment never reads a cached value.
	Update(ctx context.Context, path string, updates ...FieldUpdate) error

	// Add appends a document with a store-assigned id to a collection.
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)

	// Get reads a single document. Returns ErrNotFound when absent.
	Get(ctx context.Context, path string) (*Document, error)

	// List reads every document in a collection, oldest first.
	List(ctx context.Context, collection string) ([]Document, error)

	// WatchDocument delivers the current document, then a full snapshot on every change.
	WatchDocument(ctx context.Context, path string) (*Subscription[DocumentSnapshot], error)

	// WatchCollection delivers the full collection, then again on every change.
	WatchCollection(ctx context.Context, collection string) (*Subscription[CollectionSnapshot], error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store and every open subscription.
	Close() error
}

// Document is an immutable copy of a stored document.
type Document struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
	CreateTime time.Time       `json:"create_time"`
	UpdateTime time.Time       `json:"update_time"`
}

// Path returns the "collection/id" address of the document.
func (d Document) Path() string {
	return d.Collection + "/" + d.ID
}

// DataTo decodes the document fields into v.
func (d Document) DataTo(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode document %s: %w", d.Path(), err)
	}
	return nil
}

// DocumentSnapshot is one observation of a single document.
type DocumentSnapshot struct {
	Path     string
	Exists   bool
	Document Document
}

// CollectionSnapshot is one observation of a whole collection.
type CollectionSnapshot struct {
	Collection string
	Documents  []Document
}

// FieldUpdate is one partial change applied by Update.
type FieldUpdate struct {
	Field string
	Value any
	delta *int64
}

// Set returns an update that replaces a single field.
func Set(field string, value any) FieldUpdate {
	return FieldUpdate{Field: field, Value: value}
}

// Increment returns an update that atomically adds delta to a numeric field.
// A missing field counts as zero.
func Increment(field string, delta int64) FieldUpdate {
	return FieldUpdate{Field: field, delta: &delta}
}

// IsIncrement reports whether the update is an atomic increment.
func (u FieldUpdate) IsIncrement() bool {
	return u.delta != nil
}

type serverTimestamp struct{}

// ServerTimestamp is a field value the store replaces with its own clock at write time.
var ServerTimestamp = serverTimestamp{}

// ParsePath splits "collection/id" into its parts.
func ParsePath(path string) (collection, id string, err error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return parts[0], parts[1], nil
}

func validCollection(collection string) error {
	if collection == "" || strings.Contains(collection, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, collection)
	}
	return nil
}

func validField(field string) error {
	if field == "" || strings.ContainsAny(field, `."$[]`) {
		return fmt.Errorf("invalid field name %q", field)
	}
	return nil
}

// resolveFields substitutes ServerTimestamp values and encodes the document body.
func resolveFields(fields map[string]any, now time.Time) ([]byte, error) {
	resolved := make(map[string]any, len(fields))
	for k, v := range fields {
		if err := validField(k); err != nil {
			return nil, err
		}
		resolved[k] = resolveValue(v, now)
	}
	data, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

func resolveValue(v any, now time.Time) any {
	if _, ok := v.(serverTimestamp); ok {
		return now.UTC().Format(time.RFC3339Nano)
	}
	return v
}
