// Package sqlite provides a SQLite implementation of the outbox-kit Store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	outboxkit "github.com/c0deZ3R0/go-outbox-kit"
	oerrors "github.com/c0deZ3R0/go-outbox-kit/errors"
	"github.com/c0deZ3R0/go-outbox-kit/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Custom errors for better error handling
var (
	ErrStoreClosed = errors.New("store is closed")
)

// Config holds configuration options for the Store.
//
// Production-ready defaults are applied by DefaultConfig() including:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:outbox.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to
	// DataSourceName.
	EnableWAL bool

	// TableName is the name of the table to store operations.
	// Defaults to "outbox_operations" if empty.
	TableName string

	// Connection pool settings for production workloads.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.TableName == "" {
		c.TableName = "outbox_operations"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "?_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults for SQLite.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor.
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// Store implements the outboxkit.Store interface for SQLite.
type Store struct {
	db        *sql.DB
	mu        stdSync.RWMutex
	closed    bool
	tableName string
}

// Compile-time check to ensure Store satisfies the outboxkit.Store interface
var _ outboxkit.Store = (*Store)(nil)

// New creates a new Store from a Config.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.WithComponent("sqlite-store")
	logger.InfoContext(context.Background(), "opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &Store{
		db:        db,
		tableName: config.TableName,
	}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	return store, nil
}

// setupSchema creates the operations table if it doesn't exist.
func (s *Store) setupSchema() error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %s (
        id              TEXT PRIMARY KEY,
        name            TEXT NOT NULL,
        payload         TEXT,
        idempotency_key TEXT NOT NULL UNIQUE,
        enqueued_at     TEXT NOT NULL,
        retry_count     INTEGER NOT NULL DEFAULT 0,
        last_attempt_at TEXT,
        last_error      TEXT,
        state           TEXT NOT NULL,
        terminal_reason TEXT,
        conflict        TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_%s_enqueued_at ON %s (enqueued_at);
    CREATE INDEX IF NOT EXISTS idx_%s_state ON %s (state);
    `, s.tableName, s.tableName, s.tableName, s.tableName, s.tableName)
	_, err := s.db.Exec(query)
	return err
}

// Get returns the operation with the given id.
func (s *Store) Get(ctx context.Context, id string) (*outboxkit.QueuedOperation, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	query := fmt.Sprintf(`SELECT id, name, payload, idempotency_key, enqueued_at,
        retry_count, last_attempt_at, last_error, state, terminal_reason, conflict
        FROM %s WHERE id = ?`, s.tableName)

	op, err := scanOperation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, outboxkit.ErrNotFound
	}
	if err != nil {
		return nil, oerrors.WrapOpComponent(err, oerrors.OpLoad, "storage/sqlite")
	}
	return op, nil
}

// Put inserts or replaces the operation. The write is transactional; a nil
// return means the operation is durable.
func (s *Store) Put(ctx context.Context, op *outboxkit.QueuedOperation) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	var conflictJSON sql.NullString
	if op.Conflict != nil {
		b, err := json.Marshal(op.Conflict)
		if err != nil {
			return oerrors.WrapOpComponent(err, oerrors.OpStore, "storage/sqlite")
		}
		conflictJSON = sql.NullString{String: string(b), Valid: true}
	}

	var lastAttempt sql.NullString
	if !op.LastAttemptAt.IsZero() {
		lastAttempt = sql.NullString{String: op.LastAttemptAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	query := fmt.Sprintf(`INSERT INTO %s
        (id, name, payload, idempotency_key, enqueued_at, retry_count,
         last_attempt_at, last_error, state, terminal_reason, conflict)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            retry_count = excluded.retry_count,
            last_attempt_at = excluded.last_attempt_at,
            last_error = excluded.last_error,
            state = excluded.state,
            terminal_reason = excluded.terminal_reason,
            conflict = excluded.conflict`, s.tableName)

	_, err := s.db.ExecContext(ctx, query,
		op.ID,
		op.Name,
		string(op.Payload),
		op.IdempotencyKey,
		op.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		op.RetryCount,
		lastAttempt,
		op.LastError,
		string(op.State),
		string(op.TerminalReason),
		conflictJSON,
	)
	if err != nil {
		return oerrors.WrapOpComponent(err, oerrors.OpStore, "storage/sqlite")
	}
	return nil
}

// Delete removes the operation. Deleting an unknown id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return oerrors.WrapOpComponent(err, oerrors.OpStore, "storage/sqlite")
	}
	return nil
}

// ListAll returns all operations ordered by enqueue time.
func (s *Store) ListAll(ctx context.Context) ([]*outboxkit.QueuedOperation, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	query := fmt.Sprintf(`SELECT id, name, payload, idempotency_key, enqueued_at,
        retry_count, last_attempt_at, last_error, state, terminal_reason, conflict
        FROM %s ORDER BY enqueued_at ASC`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, oerrors.WrapOpComponent(err, oerrors.OpLoad, "storage/sqlite")
	}
	defer rows.Close()

	var out []*outboxkit.QueuedOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, oerrors.WrapOpComponent(err, oerrors.OpLoad, "storage/sqlite")
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, oerrors.WrapOpComponent(err, oerrors.OpLoad, "storage/sqlite")
	}
	return out, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Stats returns database statistics for monitoring.
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*outboxkit.QueuedOperation, error) {
	var (
		op             outboxkit.QueuedOperation
		payload        sql.NullString
		enqueuedAt     string
		lastAttempt    sql.NullString
		lastError      sql.NullString
		state          string
		terminalReason sql.NullString
		conflictJSON   sql.NullString
	)

	err := row.Scan(&op.ID, &op.Name, &payload, &op.IdempotencyKey, &enqueuedAt,
		&op.RetryCount, &lastAttempt, &lastError, &state, &terminalReason, &conflictJSON)
	if err != nil {
		return nil, err
	}

	if payload.Valid && payload.String != "" {
		op.Payload = json.RawMessage(payload.String)
	}

	op.EnqueuedAt, err = time.Parse(time.RFC3339Nano, enqueuedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid enqueued_at %q: %w", enqueuedAt, err)
	}
	if lastAttempt.Valid && lastAttempt.String != "" {
		op.LastAttemptAt, err = time.Parse(time.RFC3339Nano, lastAttempt.String)
		if err != nil {
			return nil, fmt.Errorf("invalid last_attempt_at %q: %w", lastAttempt.String, err)
		}
	}
	if lastError.Valid {
		op.LastError = lastError.String
	}
	op.State = outboxkit.State(state)
	if terminalReason.Valid {
		op.TerminalReason = outboxkit.TerminalReason(terminalReason.String)
	}
	if conflictJSON.Valid && conflictJSON.String != "" {
		var c outboxkit.ConflictCase
		if err := json.Unmarshal([]byte(conflictJSON.String), &c); err != nil {
			return nil, fmt.Errorf("invalid conflict payload: %w", err)
		}
		op.Conflict = &c
	}
	return &op, nil
}
