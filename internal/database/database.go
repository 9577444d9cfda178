package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"price-tracker-api/internal/apperrors"
)

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sqlx.DB
}

// Config holds what NewDB needs to open the store.
type Config struct {
	Path          string
	BusyTimeoutMS int
}

// NewDB opens the sqlite database and initializes the schema.
//
// Write transactions start with BEGIN IMMEDIATE so that two reconciliations
// racing on the same identity serialize on the write lock instead of failing
// on lock upgrade.
func NewDB(cfg Config) (*DB, error) {
	busy := cfg.BusyTimeoutMS
	if busy <= 0 {
		busy = 5000
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=1&_busy_timeout=%d&_txlock=immediate", cfg.Path, busy)

	conn, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// NewFromConn wraps an already opened connection without touching the schema.
func NewFromConn(conn *sqlx.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			plan_tier TEXT NOT NULL DEFAULT 'freemium',
			telegram_chat_id INTEGER,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			identity_key TEXT NOT NULL,
			brand TEXT NOT NULL,
			model TEXT NOT NULL,
			memory TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			parent_id TEXT REFERENCES products(id) ON DELETE SET NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_products_identity ON products(identity_key)`,
		`CREATE INDEX IF NOT EXISTS idx_products_category ON products(category COLLATE NOCASE)`,
		`CREATE INDEX IF NOT EXISTS idx_products_parent ON products(parent_id)`,
		`CREATE TABLE IF NOT EXISTS offers (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			source TEXT NOT NULL,
			url TEXT NOT NULL,
			last_updated TIMESTAMP NOT NULL,
			UNIQUE (product_id, source)
		)`,
		`CREATE TABLE IF NOT EXISTS price_points (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			offer_id TEXT NOT NULL REFERENCES offers(id) ON DELETE CASCADE,
			value REAL NOT NULL CHECK (value > 0),
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_points_offer ON price_points(offer_id, recorded_at, id)`,
		`CREATE TABLE IF NOT EXISTS favorites (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			product_id TEXT NOT NULL,
			offer_id TEXT NOT NULL DEFAULT '',
			alerts TEXT NOT NULL,
			alerts_history TEXT NOT NULL DEFAULT '[]',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_favorites_active_pair ON favorites(user_id, product_id) WHERE is_active = 1`,
		`CREATE INDEX IF NOT EXISTS idx_favorites_product ON favorites(product_id, is_active)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			product_id TEXT NOT NULL,
			message TEXT NOT NULL,
			is_read INTEGER NOT NULL DEFAULT 0,
			idempotency_key TEXT UNIQUE,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS product_views (
			product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			view_date TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			device_id TEXT NOT NULL DEFAULT '',
			view_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (product_id, view_date, user_id, device_id)
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// Tx is a write transaction over the product aggregate.
type Tx struct {
	tx *sqlx.Tx
}

// WithTx runs fn inside a transaction and commits when fn returns nil.
// Unique-constraint violations from fn or the commit surface as
// apperrors.ErrConflict.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

// isUniqueViolation reports whether err is a sqlite unique or primary key violation.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// mapError wraps unique violations with apperrors.ErrConflict and leaves
// everything else untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", apperrors.ErrConflict, err)
	}
	return err
}
