// Package postgres provides the Postgres-backed account allocator.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ChiMaMe-bean/msj/internal/domain"
)

// Repository implements domain.Allocator on top of a pgx pool.
//
// All account selections use FOR UPDATE SKIP LOCKED so that concurrent
// requests claim different rows instead of queuing behind one another, and a
// claim is held until the enclosing transaction commits or rolls back.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CodeConflict reports whether code already has records in both roles today.
func (r *Repository) CodeConflict(ctx context.Context, code string, day int) (bool, error) {
	const query = `SELECT COUNT(DISTINCT role) = 2
        FROM msj_activity
        WHERE help_code = $1 AND day_number = $2 AND role IN (0, 1)`

	var conflict bool
	if err := r.pool.QueryRow(ctx, query, code, day).Scan(&conflict); err != nil {
		return false, err
	}
	return conflict, nil
}

// Begin opens the enclosing allocation transaction.
func (r *Repository) Begin(ctx context.Context) (domain.AllocationTx, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	return &allocationTx{tx: tx}, nil
}

type allocationTx struct {
	tx pgx.Tx
}

func (a *allocationTx) SelectHelper(ctx context.Context, day int, code string) (*domain.Account, error) {
	// The first NOT EXISTS is a global guard: once any account has been
	// credited for this code, nobody may help with it again.
	const query = `SELECT a.id, a.cookies, a.code
        FROM msj_account a
        WHERE NOT EXISTS (
                SELECT 1 FROM msj_activity r
                WHERE r.help_code = $2 AND r.role = 1)
          AND NOT EXISTS (
                SELECT 1 FROM msj_activity r
                WHERE r.account_id = a.id AND r.day_number = $1 AND r.role = 0)
        ORDER BY a.id
        LIMIT 1
        FOR UPDATE SKIP LOCKED`

	return scanAccount(a.tx.QueryRow(ctx, query, day, code))
}

func (a *allocationTx) SelectHelped(ctx context.Context, day int) (*domain.Account, error) {
	const query = `SELECT a.id, a.cookies, a.code
        FROM msj_account a
        WHERE NOT EXISTS (
                SELECT 1 FROM msj_activity r
                WHERE r.account_id = a.id AND r.day_number = $1 AND r.role = 1)
        ORDER BY a.id
        LIMIT 1
        FOR UPDATE SKIP LOCKED`

	return scanAccount(a.tx.QueryRow(ctx, query, day))
}

func (a *allocationTx) SelectReturnCode(ctx context.Context, day int, excludeCode string) (string, error) {
	const query = `SELECT a.code
        FROM msj_account a
        WHERE a.code <> $2
          AND NOT EXISTS (
                SELECT 1 FROM msj_activity r
                WHERE r.account_id = a.id AND r.day_number = $1 AND r.role = 1)
        ORDER BY a.id
        LIMIT 1`

	var code string
	if err := a.tx.QueryRow(ctx, query, day, excludeCode).Scan(&code); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return code, nil
}

func (a *allocationTx) SaveRecord(ctx context.Context, rec *domain.ActivityRecord) error {
	const stmt = `INSERT INTO msj_activity (account_id, day_number, role, help_code, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id`

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return a.tx.QueryRow(ctx, stmt, rec.AccountID, rec.DayNumber, rec.Role, rec.HelpCode, rec.CreatedAt).Scan(&rec.ID)
}

// Nested runs fn inside a savepoint. pgx maps Begin on an open transaction to
// SAVEPOINT, so an fn failure rolls back only the inner writes while the
// enclosing transaction stays usable.
func (a *allocationTx) Nested(ctx context.Context, fn func(domain.AllocationTx) error) error {
	inner, err := a.tx.Begin(ctx)
	if err != nil {
		return err
	}
	defer inner.Rollback(ctx)

	if err := fn(&allocationTx{tx: inner}); err != nil {
		return err
	}
	return inner.Commit(ctx)
}

func (a *allocationTx) Commit(ctx context.Context) error {
	return a.tx.Commit(ctx)
}

func (a *allocationTx) Rollback(ctx context.Context) error {
	err := a.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acct domain.Account
	if err := row.Scan(&acct.ID, &acct.Cookies, &acct.Code); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &acct, nil
}
