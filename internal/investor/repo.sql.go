package investor

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

// TxRepository is the transactional surface for lot operations. Lot reads
// lock the rows so concurrent draws against the same investor serialise.
type TxRepository interface {
	Settings(ctx context.Context, companyID uuid.UUID) (station.Settings, error)
	GetInvestorForUpdate(ctx context.Context, companyID, investorID uuid.UUID) (Investor, error)
	SetInvestorAccount(ctx context.Context, companyID, investorID, accountID uuid.UUID) error
	InsertLot(ctx context.Context, lot Lot) (Lot, error)
	ActiveLotsForUpdate(ctx context.Context, companyID, investorID uuid.UUID) ([]Lot, error)
	UpdateLotConsumption(ctx context.Context, lotID uuid.UUID, unitsRemaining, commissionEarned decimal.Decimal, status string) error
	AddInvestorTotals(ctx context.Context, companyID, investorID uuid.UUID, invested, earned, paid decimal.Decimal) error

	Ledger() ledger.TxRepository
	Accounts() coa.AccountStore
}

// RepositoryPort abstracts transactional repository behaviour plus the
// read-only aggregates.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Summary(ctx context.Context, companyID uuid.UUID) (Summary, error)
}

// Repository persists investors and lots through pgx.
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

// Summary aggregates active investor positions.
func (r *Repository) Summary(ctx context.Context, companyID uuid.UUID) (Summary, error) {
	var s Summary
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*),
COALESCE(SUM(total_invested), 0),
COALESCE(SUM(total_commission_earned), 0),
COALESCE(SUM(total_commission_paid), 0),
COALESCE(SUM(total_commission_earned - total_commission_paid), 0)
FROM investors WHERE company_id=$1 AND is_active`, companyID).
		Scan(&s.TotalInvestors, &s.TotalInvested, &s.TotalCommissionEarned,
			&s.TotalCommissionPaid, &s.TotalOutstanding)
	return s, err
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Ledger() ledger.TxRepository { return ledger.TxFrom(r.tx) }
func (r *txRepository) Accounts() coa.AccountStore  { return coa.NewRepo(r.tx) }

func (r *txRepository) Settings(ctx context.Context, companyID uuid.UUID) (station.Settings, error) {
	return station.NewStore(r.tx).SettingsFor(ctx, companyID)
}

func (r *txRepository) GetInvestorForUpdate(ctx context.Context, companyID, investorID uuid.UUID) (Investor, error) {
	var inv Investor
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, name, investor_account_id,
total_invested, total_commission_earned, total_commission_paid, is_active
FROM investors WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, investorID).
		Scan(&inv.ID, &inv.CompanyID, &inv.Name, &inv.AccountID,
			&inv.TotalInvested, &inv.TotalCommissionEarned, &inv.TotalCommissionPaid, &inv.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Investor{}, ErrInvestorNotFound
	}
	if err != nil {
		return Investor{}, err
	}
	return inv, nil
}

func (r *txRepository) SetInvestorAccount(ctx context.Context, companyID, investorID, accountID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `UPDATE investors SET investor_account_id=$3
WHERE company_id=$1 AND id=$2`, companyID, investorID, accountID)
	return err
}

func (r *txRepository) InsertLot(ctx context.Context, lot Lot) (Lot, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO investor_lots
(company_id, investor_id, deposit_date, investment_amount, entitlement_rate, commission_rate,
 units_entitled, units_remaining, commission_earned, status, transaction_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id`,
		lot.CompanyID, lot.InvestorID, lot.DepositDate, lot.InvestmentAmount,
		lot.EntitlementRate, lot.CommissionRate, lot.UnitsEntitled, lot.UnitsRemaining,
		lot.CommissionEarned, lot.Status, lot.TransactionID).Scan(&lot.ID)
	return lot, err
}

func (r *txRepository) ActiveLotsForUpdate(ctx context.Context, companyID, investorID uuid.UUID) ([]Lot, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, company_id, investor_id, deposit_date,
investment_amount, entitlement_rate, commission_rate, units_entitled, units_remaining,
commission_earned, status, transaction_id
FROM investor_lots
WHERE company_id=$1 AND investor_id=$2 AND status=$3
ORDER BY deposit_date ASC FOR UPDATE`, companyID, investorID, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lots []Lot
	for rows.Next() {
		var lot Lot
		if err := rows.Scan(&lot.ID, &lot.CompanyID, &lot.InvestorID, &lot.DepositDate,
			&lot.InvestmentAmount, &lot.EntitlementRate, &lot.CommissionRate,
			&lot.UnitsEntitled, &lot.UnitsRemaining, &lot.CommissionEarned,
			&lot.Status, &lot.TransactionID); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (r *txRepository) UpdateLotConsumption(ctx context.Context, lotID uuid.UUID, unitsRemaining, commissionEarned decimal.Decimal, status string) error {
	_, err := r.tx.Exec(ctx, `UPDATE investor_lots
SET units_remaining=$2, commission_earned=$3, status=$4 WHERE id=$1`,
		lotID, unitsRemaining, commissionEarned, status)
	return err
}

func (r *txRepository) AddInvestorTotals(ctx context.Context, companyID, investorID uuid.UUID, invested, earned, paid decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE investors
SET total_invested = total_invested + $3,
    total_commission_earned = total_commission_earned + $4,
    total_commission_paid = total_commission_paid + $5
WHERE company_id=$1 AND id=$2`, companyID, investorID, invested, earned, paid)
	return err
}
