package coa

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the pgx surface the account queries need. Both *pgxpool.Pool
// and pgx.Tx satisfy it, so resolution can run standalone or inside a
// caller's transactional scope.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repo runs chart-of-accounts lookups against a querier.
type Repo struct {
	q Querier
}

// NewRepo constructs Repo.
func NewRepo(q Querier) *Repo {
	return &Repo{q: q}
}

const accountColumns = `id, company_id, code, name, type, subtype, parent_id, is_active, currency`

func scanAccount(row pgx.Row) (Account, bool, error) {
	var a Account
	err := row.Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.Type, &a.Subtype, &a.ParentID, &a.IsActive, &a.Currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, false, nil
		}
		return Account{}, false, err
	}
	return a, true, nil
}

// ActiveByCode finds the active, non-deleted account with the given code.
func (r *Repo) ActiveByCode(ctx context.Context, companyID uuid.UUID, code string) (Account, bool, error) {
	row := r.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts
WHERE company_id=$1 AND code=$2 AND is_active AND deleted_at IS NULL`, companyID, code)
	return scanAccount(row)
}

// ActiveByCodeAndName finds an account matching both a code and a name
// pattern, used by roles whose legacy charts reused generic codes.
func (r *Repo) ActiveByCodeAndName(ctx context.Context, companyID uuid.UUID, code, namePattern string) (Account, bool, error) {
	row := r.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts
WHERE company_id=$1 AND code=$2 AND name ILIKE $3 AND is_active AND deleted_at IS NULL`, companyID, code, namePattern)
	return scanAccount(row)
}

// FirstBySubtype picks the lowest-coded (or highest-coded) active account
// of a subtype.
func (r *Repo) FirstBySubtype(ctx context.Context, companyID uuid.UUID, subtype string, order Order) (Account, bool, error) {
	row := r.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts
WHERE company_id=$1 AND subtype=$2 AND is_active AND deleted_at IS NULL
ORDER BY code `+orderSQL(order)+` LIMIT 1`, companyID, subtype)
	return scanAccount(row)
}

// FirstByType picks the lowest-coded (or highest-coded) active account of
// an account type.
func (r *Repo) FirstByType(ctx context.Context, companyID uuid.UUID, accType string, order Order) (Account, bool, error) {
	row := r.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts
WHERE company_id=$1 AND type=$2 AND is_active AND deleted_at IS NULL
ORDER BY code `+orderSQL(order)+` LIMIT 1`, companyID, accType)
	return scanAccount(row)
}

// FirstByName finds an active account by name pattern, optionally scoped
// to an account type.
func (r *Repo) FirstByName(ctx context.Context, companyID uuid.UUID, accType, namePattern string) (Account, bool, error) {
	if accType == "" {
		row := r.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts
WHERE company_id=$1 AND name ILIKE $2 AND is_active AND deleted_at IS NULL
ORDER BY code LIMIT 1`, companyID, namePattern)
		return scanAccount(row)
	}
	row := r.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts
WHERE company_id=$1 AND type=$2 AND name ILIKE $3 AND is_active AND deleted_at IS NULL
ORDER BY code LIMIT 1`, companyID, accType, namePattern)
	return scanAccount(row)
}

// InsertIfAbsent creates an account unless one with the same code already
// exists for the company. Safe under concurrent installers: the unique
// constraint on (company_id, code) makes the insert a no-op race loser.
func (r *Repo) InsertIfAbsent(ctx context.Context, a Account) error {
	_, err := r.q.Exec(ctx, `INSERT INTO accounts
(company_id, code, name, type, subtype, parent_id, is_active, currency)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (company_id, code) DO NOTHING`,
		a.CompanyID, a.Code, a.Name, a.Type, a.Subtype, a.ParentID, a.IsActive, a.Currency)
	return err
}

func orderSQL(order Order) string {
	if order == HighestCode {
		return "DESC"
	}
	return "ASC"
}
