package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4" // registers the "sqlite3" driver
	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
)

const storeDBName = "fandomon.db"

// Store implements domain.EventStore and domain.ConfigStore on a single
// SQLCipher database. The pool is capped at one connection so concurrent
// writers are serialized by database/sql instead of failing with SQLITE_BUSY.
type Store struct {
	db     *sql.DB
	dbPath string
	logger *zap.Logger
	now    func() time.Time

	// settingsMu serializes read-modify-write settings updates.
	settingsMu sync.Mutex
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithStoreClock overrides the clock used to stamp events.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// OpenStore opens (or creates) the encrypted store in dataDir.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func OpenStore(dataDir string, key []byte, logger *zap.Logger, opts ...StoreOption) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, storeDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// A wrong key only surfaces on first read.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS monitor_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		occurred_at INTEGER NOT NULL,
		message TEXT,
		is_sent INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_monitor_events_unsent
		ON monitor_events (is_sent, occurred_at);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// --- domain.EventStore implementation ---

// Insert appends an event stamped with the store clock.
func (s *Store) Insert(ctx context.Context, kind domain.EventKind, message string) (domain.MonitorEvent, error) {
	at := s.now()
	var msg sql.NullString
	if message != "" {
		msg = sql.NullString{String: message, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, occurred_at, message, is_sent) VALUES (?, ?, ?, 0)`,
		string(kind), at.UnixMilli(), msg)
	if err != nil {
		return domain.MonitorEvent{}, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.MonitorEvent{}, fmt.Errorf("insert event: %w", err)
	}
	return domain.MonitorEvent{
		ID:         id,
		Kind:       kind,
		OccurredAt: time.UnixMilli(at.UnixMilli()),
		Message:    message,
	}, nil
}

// List returns events newest first.
func (s *Store) List(ctx context.Context, limit int) ([]domain.MonitorEvent, error) {
	query := `SELECT id, event_type, occurred_at, message, is_sent FROM monitor_events
		ORDER BY occurred_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEvents(ctx, query, args...)
}

// Unsent returns undelivered events oldest first.
func (s *Store) Unsent(ctx context.Context) ([]domain.MonitorEvent, error) {
	return s.queryEvents(ctx, `SELECT id, event_type, occurred_at, message, is_sent FROM monitor_events
		WHERE is_sent = 0 ORDER BY occurred_at ASC, id ASC`)
}

// MarkSent flags an event as delivered.
func (s *Store) MarkSent(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE monitor_events SET is_sent = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark event %d sent: %w", id, err)
	}
	return nil
}

// DeleteAll removes every event.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM monitor_events`)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return res.RowsAffected()
}

// DeleteOlderThan removes events that occurred before cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM monitor_events WHERE occurred_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM monitor_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]domain.MonitorEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []domain.MonitorEvent
	for rows.Next() {
		var (
			e      domain.MonitorEvent
			kind   string
			millis int64
			msg    sql.NullString
			sent   int
		)
		if err := rows.Scan(&e.ID, &kind, &millis, &msg, &sent); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		e.OccurredAt = time.UnixMilli(millis)
		e.Message = msg.String
		e.Sent = sent != 0
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- domain.ConfigStore implementation ---

// Load returns the stored settings over the defaults.
func (s *Store) Load(ctx context.Context) (domain.Settings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()

	settings := domain.DefaultSettings()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return domain.Settings{}, fmt.Errorf("scan setting: %w", err)
		}
		if err := settings.Apply(k, v); err != nil {
			// Stale keys from older builds are kept on disk but ignored.
			s.logger.Debug("ignoring stored setting", zap.String("key", k), zap.Error(err))
		}
	}
	return settings, rows.Err()
}

// Update applies fn to the current settings, validates and persists every
// changed key in one transaction.
func (s *Store) Update(ctx context.Context, fn func(*domain.Settings) error) (domain.Settings, error) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	current, err := s.Load(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	next := current
	if err := fn(&next); err != nil {
		return current, err
	}
	if err := ValidateSettings(next); err != nil {
		return current, err
	}

	before, after := current.Values(), next.Values()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return current, fmt.Errorf("begin settings update: %w", err)
	}
	now := s.now().Unix()
	for k, v := range after {
		if before[k] == v {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)`, k, v, now); err != nil {
			_ = tx.Rollback()
			return current, fmt.Errorf("write setting %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return current, fmt.Errorf("commit settings update: %w", err)
	}
	return next, nil
}

// Set parses value into key and persists it.
func (s *Store) Set(ctx context.Context, key, value string) (domain.Settings, error) {
	return s.Update(ctx, func(settings *domain.Settings) error {
		return settings.Apply(key, value)
	})
}

var (
	_ domain.EventStore  = (*Store)(nil)
	_ domain.ConfigStore = (*Store)(nil)
)
