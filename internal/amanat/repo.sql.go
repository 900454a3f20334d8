package amanat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stationledger/stationledger/internal/coa"
	"github.com/stationledger/stationledger/internal/ledger"
	"github.com/stationledger/stationledger/internal/station"
)

// TxRepository is the transactional surface for amanat movements. The
// profile row lock serialises concurrent draws against one balance.
type TxRepository interface {
	ProfileForUpdate(ctx context.Context, companyID, customerID uuid.UUID) (Profile, error)
	MarkHolder(ctx context.Context, companyID, customerID uuid.UUID) error
	AdjustBalance(ctx context.Context, companyID, customerID uuid.UUID, delta decimal.Decimal) error
	InsertAmanat(ctx context.Context, t Transaction) (Transaction, error)
	Settings(ctx context.Context, companyID uuid.UUID) (station.Settings, error)

	Ledger() ledger.TxRepository
	Accounts() coa.AccountStore
}

// RepositoryPort abstracts transactional repository behaviour plus the
// read-only balance and summary queries.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Balance(ctx context.Context, companyID, customerID uuid.UUID) (decimal.Decimal, error)
	Summary(ctx context.Context, companyID uuid.UUID) (Summary, error)
	RecentTransactions(ctx context.Context, companyID, customerID uuid.UUID, limit int) ([]Transaction, error)
}

// Repository persists amanat profiles and movements through pgx.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Balance returns a customer's held amanat balance, zero when no profile
// exists yet.
func (r *Repository) Balance(ctx context.Context, companyID, customerID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT amanat_balance FROM customer_profiles
WHERE company_id=$1 AND customer_id=$2`, companyID, customerID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// Summary aggregates holder count and held balance for the dashboard.
func (r *Repository) Summary(ctx context.Context, companyID uuid.UUID) (Summary, error) {
	var s Summary
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(amanat_balance), 0)
FROM customer_profiles
WHERE company_id=$1 AND is_amanat_holder`, companyID).Scan(&s.TotalHolders, &s.TotalBalance)
	return s, err
}

// RecentTransactions lists a customer's latest amanat movements.
func (r *Repository) RecentTransactions(ctx context.Context, companyID, customerID uuid.UUID, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, customer_id, transaction_type, amount,
fuel_item_id, COALESCE(fuel_quantity, 0), COALESCE(reference, ''), COALESCE(notes, ''),
recorded_by_user_id, transaction_id, created_at
FROM amanat_transactions
WHERE company_id=$1 AND customer_id=$2
ORDER BY created_at DESC
LIMIT $3`, companyID, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.CompanyID, &t.CustomerID, &t.Type, &t.Amount,
			&t.FuelItemID, &t.FuelQuantity, &t.Reference, &t.Notes,
			&t.RecordedBy, &t.TransactionID, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Ledger() ledger.TxRepository { return ledger.TxFrom(r.tx) }
func (r *txRepository) Accounts() coa.AccountStore  { return coa.NewRepo(r.tx) }

func (r *txRepository) Settings(ctx context.Context, companyID uuid.UUID) (station.Settings, error) {
	return station.NewStore(r.tx).SettingsFor(ctx, companyID)
}

// ProfileForUpdate reads the customer's profile under a row lock,
// creating an empty one first when the customer has never held amanat.
func (r *txRepository) ProfileForUpdate(ctx context.Context, companyID, customerID uuid.UUID) (Profile, error) {
	var name string
	err := r.tx.QueryRow(ctx, `SELECT name FROM customers
WHERE company_id=$1 AND id=$2 AND deleted_at IS NULL`, companyID, customerID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrCustomerNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	if _, err := r.tx.Exec(ctx, `INSERT INTO customer_profiles (company_id, customer_id)
VALUES ($1,$2) ON CONFLICT (company_id, customer_id) DO NOTHING`, companyID, customerID); err != nil {
		return Profile{}, err
	}
	p := Profile{CompanyID: companyID, CustomerID: customerID, CustomerName: name}
	err = r.tx.QueryRow(ctx, `SELECT is_amanat_holder, amanat_balance FROM customer_profiles
WHERE company_id=$1 AND customer_id=$2 FOR UPDATE`, companyID, customerID).
		Scan(&p.IsAmanatHolder, &p.Balance)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (r *txRepository) MarkHolder(ctx context.Context, companyID, customerID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `UPDATE customer_profiles SET is_amanat_holder=TRUE
WHERE company_id=$1 AND customer_id=$2`, companyID, customerID)
	return err
}

func (r *txRepository) AdjustBalance(ctx context.Context, companyID, customerID uuid.UUID, delta decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE customer_profiles
SET amanat_balance = amanat_balance + $3
WHERE company_id=$1 AND customer_id=$2`, companyID, customerID, delta)
	return err
}

func (r *txRepository) InsertAmanat(ctx context.Context, t Transaction) (Transaction, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO amanat_transactions
(company_id, customer_id, transaction_type, amount, fuel_item_id, fuel_quantity,
 reference, notes, recorded_by_user_id, transaction_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id, created_at`,
		t.CompanyID, t.CustomerID, t.Type, t.Amount, t.FuelItemID, t.FuelQuantity,
		t.Reference, t.Notes, t.RecordedBy, t.TransactionID).Scan(&t.ID, &t.CreatedAt)
	return t, err
}
