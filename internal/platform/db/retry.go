package db

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 50 * time.Millisecond
)

// transient reports whether an error is worth retrying: connection
// failures, serialization conflicts and deadlocks. Anything else,
// including context cancellation, surfaces immediately.
func transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		// Class 08: connection exceptions.
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
	}
	return pgconn.SafeToRetry(err)
}

// Retry runs op with bounded exponential backoff on transient storage
// failures: up to three attempts, doubling delay, jittered. The
// context deadline cuts the loop short.
func Retry(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	delay := retryBaseDelay
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(rand.Int63n(int64(delay) / 2))
			select {
			case <-time.After(delay + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
		if err = op(ctx); err == nil || !transient(err) {
			return err
		}
	}
	return err
}

// Querier is the statement execution surface shared by the pool,
// single connections and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// WithRetries wraps q so each statement retries transient failures.
// Only pool-backed paths may be wrapped: a statement inside a
// transaction must fail the transaction instead of re-running.
func WithRetries(q Querier) Querier {
	return &retryQuerier{q: q}
}

type retryQuerier struct{ q Querier }

func (r *retryQuerier) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag
	err := Retry(ctx, func(ctx context.Context) error {
		var err error
		tag, err = r.q.Exec(ctx, sql, args...)
		return err
	})
	return tag, err
}

func (r *retryQuerier) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	var rows pgx.Rows
	err := Retry(ctx, func(ctx context.Context) error {
		var err error
		rows, err = r.q.Query(ctx, sql, args...)
		return err
	})
	return rows, err
}

// QueryRow defers execution to Scan, as pgx does, so the whole
// statement can be re-issued on a transient failure.
func (r *retryQuerier) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return &retryRow{ctx: ctx, q: r.q, sql: sql, args: args}
}

type retryRow struct {
	ctx  context.Context
	q    Querier
	sql  string
	args []interface{}
}

func (r *retryRow) Scan(dest ...interface{}) error {
	return Retry(r.ctx, func(ctx context.Context) error {
		return r.q.QueryRow(ctx, r.sql, r.args...).Scan(dest...)
	})
}
