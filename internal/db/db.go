// Package db opens the catalog database and runs statements inside
// transactions.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgconn"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/rs/zerolog"

	"orca/internal/config"
	"orca/internal/retry"
)

const driverName = "pgx"

// Open connects to the catalog and verifies the connection. Every session
// carries the configured statement_timeout, which bounds the bulk import and
// the comparison.
func Open(ctx context.Context, info config.DBConnectInfo, policy retry.Policy, logger zerolog.Logger) (*sql.DB, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driverName, DSN(info))
	if err != nil {
		logger.Error().Err(err).Msg("failed to open db")
		return nil, ErrorOpeningDatabase(info.Host, err)
	}

	// One invocation uses one connection at a time.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	err = RetryPolicy(policy).Do(ctx, "ping database", func(ctx context.Context) error {
		return sqlDB.PingContext(ctx)
	})
	if err != nil {
		_ = sqlDB.Close()
		logger.Error().Err(err).Str("host", info.Host).Msg("failed to ping db")
		return nil, ErrorOpeningDatabase(info.Host, err)
	}

	logger.Debug().Str("host", info.Host).Str("database", info.Database).Msg("Connected to catalog database")
	return sqlDB, nil
}

// DSN adds the session statement_timeout, in milliseconds, to the
// connection URL.
func DSN(info config.DBConnectInfo) string {
	timeout := info.StatementTimeout
	if timeout <= 0 {
		timeout = config.DefaultStatementTimeout
	}
	return info.DSN() + "&statement_timeout=" + strconv.FormatInt(timeout.Milliseconds(), 10)
}

// WithTx runs fn in a transaction, committing when fn returns nil.
func WithTx(ctx context.Context, sqlDB *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsPermanent reports whether a database error is caused by the statement or
// its data rather than the connection: data exceptions (22), integrity
// violations (23) and syntax or access errors (42).
func IsPermanent(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "22", "23", "42":
		return true
	}
	return false
}

// RetryPolicy extends p so statement and data errors are not retried.
func RetryPolicy(p retry.Policy) retry.Policy {
	return p.WithNonRetryableFunc(IsPermanent)
}
