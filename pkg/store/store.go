// Package store provides the durable, transactional state layer behind
// every other component. It talks to Postgres through jackc/pgx's
// database/sql shim plus jmoiron/sqlx for ergonomic scans; schema changes
// are golang-migrate migrations embedded via go:embed.
package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/relaymesh/relayd/pkg/relayerr"
)

//go:embed migrate/*.sql
var migrationsFS embed.FS

// Config holds connection and pool settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx, letting repository
// methods run either standalone or inside a Store.Transaction.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Store is the keyed transactional collection over every entity family.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres, applies embedded migrations, and returns a Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	sqlDB, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(sqlDB, cfg.Database); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: sqlx.NewDb(sqlDB, "pgx")}, nil
}

// NewFromDB wraps an already-open *sqlx.DB (used by tests against sqlmock).
func NewFromDB(db *sqlx.DB) *Store { return &Store{db: db} }

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

func runMigrations(db *stdsql.DB, dbName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres migrate driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrate")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, dbName, driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return src.Close()
}

// Transaction runs fn inside a single serializable Postgres transaction. All
// mutations inside fn are atomic and isolated: concurrent readers see
// either the pre- or post-image, never a partial update. This is the
// universal serialisation primitive for any multi-key mutation (assignment
// creation, quota reserve + assignment, tracker insert + dispatch).
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	tx, err := s.db.BeginTxx(ctx, &stdsql.TxOptions{Isolation: stdsql.LevelSerializable})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// Q returns the Store's *sqlx.DB as a Querier, for read-only call sites that
// don't need a transaction.
func (s *Store) Q() Querier { return s.db }

// classify maps driver-level failures to the controller's typed error kinds:
// uniqueness violations (SQLSTATE 23505) become Conflict, serialization
// failures (40001) and lock-not-available (55P03) become StoreBusy so the
// caller retries with jittered backoff, and sql.ErrNoRows becomes NotFound.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, stdsql.ErrNoRows) {
		return relayerr.New(relayerr.KindNotFound, "no matching row")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return relayerr.Wrap(relayerr.KindConflict, err, pgErr.ConstraintName)
		case "40001", "55P03":
			return relayerr.Wrap(relayerr.KindStoreBusy, err, "transient store contention")
		}
	}
	return relayerr.Wrap(relayerr.KindInternal, err, "store operation failed")
}

// RetryBusy retries fn while it returns a KindStoreBusy error, with jittered
// backoff, up to budget attempts. Callers that perform a single logical
// mutation (not a multi-step saga) should wrap it with RetryBusy rather than
// re-implementing the backoff loop themselves.
func RetryBusy(ctx context.Context, budget int, fn func() error) error {
	var err error
	backoffMs := 20
	for attempt := 0; attempt < budget; attempt++ {
		err = fn()
		if err == nil || !relayerr.Is(err, relayerr.KindStoreBusy) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(backoffMs)):
		}
		backoffMs *= 2
	}
	return err
}

// relayErrIsNotFound reports whether err classifies as KindNotFound, used by
// claim-style queries that treat "nothing to claim" as a normal empty result
// rather than an error.
func relayErrIsNotFound(err error) bool {
	return relayerr.Is(err, relayerr.KindNotFound)
}

func jitter(ms int) time.Duration {
	half := ms / 2
	return time.Duration(half+rand.IntN(ms-half+1)) * time.Millisecond
}
