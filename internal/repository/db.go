package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/docbatch/internal/common"
)

type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	DialTimeout     time.Duration
}

// Store is an open ledger database.
type Store struct {
	drv     *entsql.Driver
	pool    *pgxpool.Pool
	dialect string
	logger  *slog.Logger
}

// Open connects to the ledger. postgres:// and postgresql:// DSNs use a pgx
// pool; anything else is a SQLite path or file: URI.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, common.InvalidArgumentError("ledger DSN is required")
	}

	var (
		s   *Store
		err error
	)
	if isPostgres(dsn) {
		s, err = openPostgres(ctx, cfg, logger)
	} else {
		s, err = openSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"), logger)
	}
	if err != nil {
		logger.Error("failed to connect to ledger", "dialect", dialectOf(dsn), "error", err)
		return nil, err
	}

	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	logger.Info("ledger ready", "dialect", s.dialect)
	return s, nil
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func dialectOf(dsn string) string {
	if isPostgres(dsn) {
		return dialect.Postgres
	}
	return dialect.SQLite
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "docbatch"

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Wrap pool as *sql.DB for the ent driver
	db := stdlib.OpenDBFromPool(pool)
	return &Store{
		drv:     entsql.OpenDB(dialect.Postgres, db),
		pool:    pool,
		dialect: dialect.Postgres,
		logger:  logger,
	}, nil
}

func openSQLite(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer; the batch loop is sequential anyway.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{
		drv:     entsql.OpenDB(dialect.SQLite, db),
		dialect: dialect.SQLite,
		logger:  logger,
	}, nil
}

// Dialect reports the ent dialect name of the store.
func (s *Store) Dialect() string { return s.dialect }

// Close closes the database connections gracefully
func (s *Store) Close() {
	if s == nil {
		return
	}
	if err := s.drv.Close(); err != nil {
		s.logger.Error("failed to close ledger", "error", err)
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.dialect)
}

// schemaDDL returns the statements that create the ledger table and its run
// index for dialect d. Both dialects accept IF NOT EXISTS, so reopening an
// existing ledger is a no-op.
func schemaDDL(d string) []string {
	id, short := "varchar(36)", "varchar(64)"
	if d == dialect.SQLite {
		id, short = "text", "text"
	}
	cols := []string{
		colID + " " + id + " NOT NULL",
		colRunID + " " + short + " NOT NULL",
		colRow + " integer NOT NULL",
		colToken + " " + short + " NOT NULL",
		colStatus + " " + short + " NOT NULL",
		colArtifactPath + " text NULL",
		colErrorMessage + " text NULL",
		colStartedAt + " bigint NOT NULL",
		colFinishedAt + " bigint NULL",
		"PRIMARY KEY (" + colID + ")",
	}
	return []string{
		"CREATE TABLE IF NOT EXISTS " + jobTable + " (" + strings.Join(cols, ", ") + ")",
		"CREATE INDEX IF NOT EXISTS " + jobTable + "_" + colRunID + "_idx ON " + jobTable + " (" + colRunID + ", " + colRow + ")",
	}
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schemaDDL(s.dialect) {
		if _, err := s.drv.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
