// Package sqlite keeps rooms and reservations in a single SQLite file.
// Write transactions begin IMMEDIATE, so two intake requests can never run
// their inventory check against the same snapshot.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/avstrong/innkeeper/internal/logger"
)

var (
	ErrTransactionNotFoundInCtx = errors.New("no sqlite transaction found in ctx")
)

type Config struct {
	L    *logger.Logger
	Path string
}

type DB struct {
	l  *logger.Logger
	db *sql.DB
}

func Open(conf Config) (*DB, error) {
	db, err := sql.Open("sqlite3", dsn(conf.Path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", conf.Path, err)
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return &DB{l: conf.L, db: db}, nil
}

// dsn escapes path so that '?', '#' and '%' in a file name stay part of it.
func dsn(path string) string {
	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Set("_busy_timeout", "5000")
	params.Set("_journal_mode", "WAL")
	params.Set("_foreign_keys", "on")

	u := url.URL{
		Scheme:   "file",
		Opaque:   (&url.URL{Path: path}).EscapedPath(),
		RawQuery: params.Encode(),
	}

	return u.String()
}

func (db *DB) Close() error {
	return db.db.Close()
}

func ensureSchema(db *sql.DB) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS rooms (
  id TEXT PRIMARY KEY,
  hotel_id TEXT NOT NULL,
  name TEXT NOT NULL,
  units INTEGER NOT NULL,
  capacity INTEGER NOT NULL,
  nightly_price REAL NOT NULL,
  currency TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS reservations (
  id TEXT PRIMARY KEY,
  room_id TEXT NOT NULL REFERENCES rooms(id),
  hotel_id TEXT NOT NULL,
  check_in TEXT NOT NULL,
  check_out TEXT NOT NULL,
  units INTEGER NOT NULL,
  guests INTEGER NOT NULL,
  guest_name TEXT NOT NULL,
  guest_email TEXT NOT NULL,
  guest_phone TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  payment_status TEXT NOT NULL,
  payment_updated_at TEXT NOT NULL,
  total_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  promo_code TEXT NOT NULL DEFAULT '',
  checkout_session_id TEXT NOT NULL DEFAULT '',
  idempotency_key TEXT UNIQUE,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		"CREATE INDEX IF NOT EXISTS idx_reservations_room_stay ON reservations(room_id, check_in, check_out);",
		"CREATE INDEX IF NOT EXISTS idx_rooms_hotel ON rooms(hotel_id);",
		`
CREATE TABLE IF NOT EXISTS change_events (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  reservation_id TEXT NOT NULL,
  room_id TEXT NOT NULL,
  hotel_id TEXT NOT NULL,
  status TEXT NOT NULL,
  payment_status TEXT NOT NULL,
  check_in TEXT NOT NULL,
  check_out TEXT NOT NULL,
  at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS payment_events (
  id TEXT PRIMARY KEY,
  reservation_id TEXT NOT NULL,
  processed_at TEXT NOT NULL
);`,
	}

	for _, statement := range statements {
		if _, err := db.Exec(statement); err != nil {
			return fmt.Errorf("ensure sqlite schema: %w", err)
		}
	}

	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the transaction carried by ctx, or the pool.
func (db *DB) conn(ctx context.Context) querier {
	if tx, ok := transactionFromContext(ctx); ok {
		return tx
	}

	return db.db
}

// BeginTransaction ignores level: every SQLite transaction is serializable.
func (db *DB) BeginTransaction(ctx context.Context, _ string) (context.Context, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return ctx, fmt.Errorf("begin sqlite transaction: %w", err)
	}

	return withTransaction(ctx, tx), nil
}

func (db *DB) CommitTransaction(ctx context.Context) error {
	tx, ok := transactionFromContext(ctx)
	if !ok {
		return ErrTransactionNotFoundInCtx
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite transaction: %w", err)
	}

	return nil
}

func (db *DB) RollbackTransaction(ctx context.Context) error {
	tx, ok := transactionFromContext(ctx)
	if !ok {
		return ErrTransactionNotFoundInCtx
	}

	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback sqlite transaction: %w", err)
	}

	return nil
}

// inTransaction runs fn in its own transaction unless ctx already has one.
func (db *DB) inTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := transactionFromContext(ctx); ok {
		return fn(ctx)
	}

	ctx, err = db.BeginTransaction(ctx, "")
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			if rbErr := db.RollbackTransaction(ctx); rbErr != nil {
				db.l.LogErrorf("Could not rollback sqlite transaction: %v", rbErr.Error())
			}

			return
		}

		err = db.CommitTransaction(ctx)
	}()

	return fn(ctx)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error

	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

const timestampLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}
