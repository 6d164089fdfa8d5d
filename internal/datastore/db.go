package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/resc-project/resc/internal/config"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Store wraps the SQL database connection and provides the scan ledger,
// finding store, audit trail and rule pack registry operations.
type Store struct {
	db        *sql.DB
	logger    zerolog.Logger
	retrier   *TxRetrier
	opTimeout time.Duration
}

// NewStore opens the database, applies pragmas and ensures the schema is set up.
func NewStore(cfg config.DatabaseConfig, retryCfg config.RetryConfig, logger zerolog.Logger) (*Store, error) {
	storeLogger := logger.With().Str("module", "Datastore").Logger()

	if cfg.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			storeLogger.Error().Err(err).Str("directory", dbDir).Msg("Failed to create database directory")
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	dbInstance, err := sql.Open("sqlite", buildDSN(cfg))
	if err != nil {
		storeLogger.Error().Err(err).Str("db_path", cfg.Path).Msg("Failed to open database")
		return nil, fmt.Errorf("sql.Open failed for %s: %w", cfg.Path, err)
	}

	opTimeout := time.Duration(cfg.OperationTimeoutSecs) * time.Second
	if opTimeout <= 0 {
		opTimeout = time.Duration(config.DefaultOperationTimeoutSecs) * time.Second
	}

	store := &Store{
		db:        dbInstance,
		logger:    storeLogger,
		retrier:   NewTxRetrier(retryCfg, storeLogger),
		opTimeout: opTimeout,
	}

	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		storeLogger.Error().Err(err).Msg("Failed to initialize database schema")
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	storeLogger.Info().Str("db_path", cfg.Path).Msg("Database initialized and schema verified")
	return store, nil
}

// buildDSN assembles the SQLite DSN with the pragmas the store relies on:
// foreign key enforcement and a busy timeout below the retrier budget.
func buildDSN(cfg config.DatabaseConfig) string {
	busyTimeout := cfg.BusyTimeoutMs
	if busyTimeout <= 0 {
		busyTimeout = config.DefaultBusyTimeoutMs
	}
	return fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		cfg.Path, busyTimeout)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// opContext applies the default operation timeout when the caller did not
// supply a deadline. All store operations are short single-transaction units.
func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Error().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
