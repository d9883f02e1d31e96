// Package database owns the MySQL connection for the key shop: the
// pooled handle the repositories query and the transaction scope the
// checkout flow claims and settles inside.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Options tunes the connection pool.  Reserve and settle hold row
// locks on product_keys for the length of their transaction, so the
// right pool size depends on how contended the key tables are in a
// given deployment; the values come from configuration rather than
// being fixed here.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// withDefaults fills unset options with workable values.
func (o Options) withDefaults() Options {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 25
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = o.MaxOpenConns
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = 30 * time.Minute
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 5 * time.Second
	}
	return o
}

// Store wraps the pooled handle behind the transaction-runner surface
// the checkout package consumes, so the orchestrator and settlement
// can be tested against an in-memory implementation.
type Store struct {
	db *sql.DB
}

// Open connects to MySQL, applies the pool options and verifies the
// connection before handing back a Store.
func Open(user, pass, host, port, name string, opts Options) (*Store, error) {
	db, err := sql.Open("mysql", dsn(user, pass, host, port, name))
	if err != nil {
		return nil, err
	}

	opts = opts.withDefaults()
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), opts.PingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// dsn builds the connection string.  parseTime maps DATETIME columns
// to time.Time and loc=UTC keeps every stored timestamp, including
// the reservation staleness token, in one zone.
func dsn(user, pass, host, port, name string) string {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	return fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)
}

// DB exposes the underlying handle for repositories that run outside
// a transaction.
func (s *Store) DB() *sql.DB { return s.db }

// InTx begins a transaction, runs fn and commits.  Any error from fn
// rolls the transaction back, which is what undoes a partially
// claimed reservation.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
