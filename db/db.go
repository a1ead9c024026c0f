package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
)

var (
	// ErrNotInstalled is returned when a scope has no installation able to
	// receive notifications.
	ErrNotInstalled = errors.New("not installed")
)

// DB is the registry's durable store. Every exported method is one
// transaction.
type DB struct {
	db *sql.DB
}

// Open connects to the SQLite database at path. Run Migrate first.
func Open(path string) (*DB, error) {
	conn, err := connection(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &DB{db: conn}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var flavor = sqlbuilder.SQLite

func exec(ctx context.Context, q querier, b sqlbuilder.Builder) (int64, error) {
	query, args := b.BuildWithFlavor(flavor)
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
