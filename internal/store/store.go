// Package store is the Entity Store: SQL access to bounties and their
// dependent entities, the transaction primitive every multi-entity transition
// runs in, and translation of driver errors into lifecycle error kinds.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"

	"bountyline/internal/domain"
)

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type Querier = sqlx.ExtContext

type Store struct {
	DB *sqlx.DB
	// RetryMaxElapsed bounds retries of transient errors in RunInTx. Zero
	// disables retries.
	RetryMaxElapsed time.Duration
}

func New(db *sqlx.DB, retryMaxElapsed time.Duration) *Store {
	return &Store{DB: db, RetryMaxElapsed: retryMaxElapsed}
}

func (s *Store) newBackoff() backoff.BackOff {
	if s.RetryMaxElapsed <= 0 {
		return &backoff.StopBackOff{}
	}
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = s.RetryMaxElapsed
	return bo
}

// RunInTx runs fn inside one transaction and commits only if fn succeeds.
// Transient driver errors (lock contention, serialization failures) restart
// the whole transaction, so fn must re-read everything it depends on.
// Errors come back classified: lifecycle kinds pass through untouched,
// uniqueness violations become Conflict, anything else is StorageFailure.
func (s *Store) RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	op := func() error {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, backoff.WithContext(s.newBackoff(), ctx)); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) runOnce(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// get scans a single row into dest, mapping no rows to NotFound.
func get(ctx context.Context, q Querier, dest any, kind, id, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

// getValue scans a single-column, single-row result.
func getValue(ctx context.Context, q Querier, dest any, query string, args ...any) error {
	if err := sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...); err != nil {
		return classify(err)
	}
	return nil
}

func selectAll(ctx context.Context, q Querier, dest any, query string, args ...any) error {
	if err := sqlx.SelectContext(ctx, q, dest, q.Rebind(query), args...); err != nil {
		return classify(err)
	}
	return nil
}

// exec runs a write and returns the affected row count. Uniqueness
// violations are reported as conflicts on entity.
func exec(ctx context.Context, q Querier, entity, query string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return 0, conflictOr(err, entity)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func nullablePtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableResolution(v *domain.Resolution) any {
	if v == nil {
		return nil
	}
	return string(*v)
}
