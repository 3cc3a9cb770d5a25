package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/threadline-erp/backend/internal/apperr"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("not found")

// Classify translates a store error into the application taxonomy. op names
// the failed operation for logs; conflictMsg is the client-facing message used
// for unique violations. pgx.ErrNoRows becomes ErrNotFound.
func Classify(err error, op, conflictMsg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return &apperr.Error{Kind: apperr.KindConflict, Message: conflictMsg, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return apperr.Timeout(op+" timed out", err)
	}
	return apperr.Database(op+" failed", err)
}

// WithTimeout bounds a store call so it surfaces a TimeoutError instead of hanging.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
