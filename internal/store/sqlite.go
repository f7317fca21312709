package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/edvengers/zera-pilot/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite, with an in-process change hub.
// Realtime notification covers writers within this process only.
type SQLiteStore struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger

	watchMu     sync.Mutex
	watchID     int64
	docWatchers map[string]map[int64]*Subscription[DocumentSnapshot]
	colWatchers map[string]map[int64]*Subscription[CollectionSnapshot]
}

// Option configures a SQLiteStore.
type Option func(*options)

type options struct {
	maxOpenConns int
	now          func() time.Time
	logger       *slog.Logger
}

// WithMaxOpenConns bounds the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(o *options) { o.maxOpenConns = n }
}

// WithClock overrides the server clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// NewSQLite creates a new SQLite-backed document store.
func NewSQLite(dbPath string, opts ...Option) (*SQLiteStore, error) {
	o := options{maxOpenConns: 4, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; immediate transactions take the write lock
	// up front so the busy handler applies instead of failing on upgrade.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(o.maxOpenConns)
	db.SetMaxIdleConns(o.maxOpenConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{
		db:          db,
		now:         o.now,
		logger:      o.logger,
		docWatchers: make(map[string]map[int64]*Subscription[DocumentSnapshot]),
		colWatchers: make(map[string]map[int64]*Subscription[CollectionSnapshot]),
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		create_time INTEGER NOT NULL,
		update_time INTEGER NOT NULL,
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(collection, create_time);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Set overwrites the whole document at path.
func (s *SQLiteStore) Set(ctx context.Context, path string, fields map[string]any) error {
	collection, id, err := ParsePath(path)
	if err != nil {
		return err
	}

	now := s.now()
	data, err := resolveFields(fields, now)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO documents (collection, id, data, create_time, update_time)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(collection, id) DO UPDATE SET
		data = excluded.data,
		update_time = excluded.update_time`

	err = s.withRetry(ctx, "set", func() error {
		_, err := s.db.ExecContext(ctx, query, collection, id, string(data), now.UnixNano(), now.UnixNano())
		return err
	})
	if err != nil {
		return fmt.Errorf("set document %s: %w", path, err)
	}

	s.notify(collection, id)
	return nil
}

// Update merges field updates into an existing document in one transaction.
func (s *SQLiteStore) Update(ctx context.Context, path string, updates ...FieldUpdate) error {
	collection, id, err := ParsePath(path)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return fmt.Errorf("update document %s: no field updates", path)
	}
	for _, u := range updates {
		if err := validField(u.Field); err != nil {
			return err
		}
	}

	now := s.now()
	err = s.withRetry(ctx, "update", func() error {
		return s.applyUpdates(ctx, collection, id, now, updates)
	})
	if err != nil {
		return fmt.Errorf("update document %s: %w", path, err)
	}

	s.notify(collection, id)
	return nil
}

func (s *SQLiteStore) applyUpdates(ctx context.Context, collection, id string, now time.Time, updates []FieldUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("failed to roll back document update", "error", rbErr)
		}
	}()

	// The increment is computed by SQLite from the stored value, never from a
	// value the caller read earlier.
	const incrementQuery = `
	UPDATE documents
	SET data = json_set(data, ?, COALESCE(json_extract(data, ?), 0) + ?), update_time = ?
	WHERE collection = ? AND id = ?`
	const setQuery = `
	UPDATE documents
	SET data = json_set(data, ?, json(?)), update_time = ?
	WHERE collection = ? AND id = ?`

	for _, u := range updates {
		jsonPath := `$."` + u.Field + `"`
		var res sql.Result
		if u.IsIncrement() {
			res, err = tx.ExecContext(ctx, incrementQuery, jsonPath, jsonPath, *u.delta, now.UnixNano(), collection, id)
		} else {
			val, mErr := json.Marshal(resolveValue(u.Value, now))
			if mErr != nil {
				return fmt.Errorf("encode field %s: %w", u.Field, mErr)
			}
			res, err = tx.ExecContext(ctx, setQuery, jsonPath, string(val), now.UnixNano(), collection, id)
		}
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
	}

	return tx.Commit()
}

// Add appends a document with a store-assigned id.
func (s *SQLiteStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := validCollection(collection); err != nil {
		return "", err
	}

	now := s.now()
	data, err := resolveFields(fields, now)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()

	query := `INSERT INTO documents (collection, id, data, create_time, update_time) VALUES (?, ?, ?, ?, ?)`
	err = s.withRetry(ctx, "add", func() error {
		_, err := s.db.ExecContext(ctx, query, collection, id, string(data), now.UnixNano(), now.UnixNano())
		return err
	})
	if err != nil {
		return "", fmt.Errorf("add document to %s: %w", collection, err)
	}

	s.notify(collection, id)
	return id, nil
}

// Get reads a single document.
func (s *SQLiteStore) Get(ctx context.Context, path string) (*Document, error) {
	collection, id, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	query := `SELECT collection, id, data, create_time, update_time FROM documents WHERE collection = ? AND id = ?`
	row := s.db.QueryRowContext(ctx, query, collection, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document %s: %w", path, err)
	}
	return doc, nil
}

// List reads every document in a collection, oldest first.
func (s *SQLiteStore) List(ctx context.Context, collection string) ([]Document, error) {
	if err := validCollection(collection); err != nil {
		return nil, err
	}

	query := `
		SELECT collection, id, data, create_time, update_time
		FROM documents WHERE collection = ?
		ORDER BY create_time, id`

	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", collection, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close collection rows", "error", closeErr)
		}
	}()

	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collection %s row: %w", collection, err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collection %s: %w", collection, err)
	}
	return docs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var data string
	var createTime, updateTime int64
	if err := row.Scan(&doc.Collection, &doc.ID, &data, &createTime, &updateTime); err != nil {
		return nil, err
	}
	doc.Data = json.RawMessage(data)
	doc.CreateTime = time.Unix(0, createTime).UTC()
	doc.UpdateTime = time.Unix(0, updateTime).UTC()
	return &doc, nil
}

// Close closes every subscription and the database connection.
func (s *SQLiteStore) Close() error {
	s.watchMu.Lock()
	var docs []*Subscription[DocumentSnapshot]
	for _, subs := range s.docWatchers {
		for _, sub := range subs {
			docs = append(docs, sub)
		}
	}
	var cols []*Subscription[CollectionSnapshot]
	for _, subs := range s.colWatchers {
		for _, sub := range subs {
			cols = append(cols, sub)
		}
	}
	s.watchMu.Unlock()

	for _, sub := range docs {
		sub.Close()
	}
	for _, sub := range cols {
		sub.Close()
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry retries SQLITE_BUSY and locked errors with exponential backoff.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	const maxRetries = 5
	baseDelay := 20 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		s.logger.Debug("document write hit SQLITE_BUSY, retrying",
			"op", op,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, maxRetries, err)
}
