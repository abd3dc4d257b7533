package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrStore marks every failure coming out of the database layer
var ErrStore = errors.New("store error")

// ErrEmptyText is returned when a message without text would create a new row
var ErrEmptyText = errors.New("message has no text")

// DB wraps SQLite database operations
type DB struct {
	db *sql.DB

	// writeMu serializes writers so the create-vs-update decision in Upsert
	// is atomic per key. Readers never take it.
	writeMu sync.Mutex

	now func() time.Time
}

// Open opens or creates a SQLite database
func Open(path string) (*DB, error) {
	// Pragmas go in the DSN so every pooled connection gets them.
	// _txlock=immediate makes write transactions take the lock up front.
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", "5000")
	params.Set("_synchronous", "NORMAL")
	params.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", path, params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", ErrStore, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connect database: %w", ErrStore, err)
	}

	storage := &DB{db: db, now: time.Now}

	// Initialize schema
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init schema: %w", ErrStore, err)
	}

	return storage, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// SetClock replaces the time source used for IndexedAt/LastUpdatedAt
func (d *DB) SetClock(now func() time.Time) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.now = now
}

// initSchema creates tables if they don't exist
func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS channel_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id TEXT NOT NULL,
		message_id INTEGER NOT NULL,
		text TEXT,
		text_normalized TEXT,
		date TIMESTAMP,
		views INTEGER NOT NULL DEFAULT 0,
		forwards INTEGER NOT NULL DEFAULT 0,
		has_media BOOLEAN NOT NULL DEFAULT 0,
		media_type TEXT NOT NULL DEFAULT 'none',
		indexed_at TIMESTAMP NOT NULL,
		last_updated_at TIMESTAMP NOT NULL,
		UNIQUE (channel_id, message_id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_channel ON channel_messages(channel_id);
	CREATE INDEX IF NOT EXISTS idx_messages_date ON channel_messages(date);

	CREATE TABLE IF NOT EXISTS channels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id TEXT NOT NULL UNIQUE,
		username TEXT,
		title TEXT NOT NULL,
		description TEXT,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		rating INTEGER NOT NULL DEFAULT 0,
		added_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`

	_, err := d.db.Exec(schema)
	return err
}

// rowQuerier is satisfied by *sql.DB and *sql.Tx
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
