package ratechange

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stationledger/stationledger/internal/coa"
	"github.com/stationledger/stationledger/internal/inventory"
	"github.com/stationledger/stationledger/internal/ledger"
	"github.com/stationledger/stationledger/internal/station"
)

// TxRepository is the transactional surface for rate changes. Ledger,
// stock, and chart access share the same transaction so the revaluation
// entry, the avg-cost reset, and the history row commit together.
type TxRepository interface {
	InsertRateChange(ctx context.Context, rc RateChange) (RateChange, error)
	LatestEffective(ctx context.Context, companyID, itemID uuid.UUID, asOf time.Time) (RateChange, bool, error)
	SetJournalEntry(ctx context.Context, companyID, rateChangeID, transactionID uuid.UUID) error
	Settings(ctx context.Context, companyID uuid.UUID) (station.Settings, error)

	Ledger() ledger.TxRepository
	Stock() inventory.TxRepository
	Accounts() coa.AccountStore
}

// RepositoryPort abstracts transactional repository behaviour plus the
// read-only history lookups.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	LatestEffective(ctx context.Context, companyID, itemID uuid.UUID, asOf time.Time) (RateChange, bool, error)
	History(ctx context.Context, companyID, itemID uuid.UUID, limit int) ([]RateChange, error)
}

// Repository persists rate changes through pgx.
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

const rateChangeColumns = `id, company_id, item_id, effective_date, purchase_rate, sale_rate,
stock_quantity_at_change, previous_avg_cost, margin_impact, revaluation_amount,
journal_entry_id, notes, created_by_user_id, created_at`

func scanRateChange(row pgx.Row) (RateChange, error) {
	var rc RateChange
	err := row.Scan(&rc.ID, &rc.CompanyID, &rc.ItemID, &rc.EffectiveDate, &rc.PurchaseRate,
		&rc.SaleRate, &rc.StockAtChange, &rc.PreviousAvgCost, &rc.MarginImpact,
		&rc.RevaluationAmount, &rc.JournalEntryID, &rc.Notes, &rc.CreatedBy, &rc.CreatedAt)
	return rc, err
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func latestEffective(ctx context.Context, q rowQuerier, companyID, itemID uuid.UUID, asOf time.Time) (RateChange, bool, error) {
	rc, err := scanRateChange(q.QueryRow(ctx, `SELECT `+rateChangeColumns+` FROM fuel_rate_changes
WHERE company_id=$1 AND item_id=$2 AND effective_date <= $3
ORDER BY effective_date DESC, created_at DESC
LIMIT 1`, companyID, itemID, asOf))
	if errors.Is(err, pgx.ErrNoRows) {
		return RateChange{}, false, nil
	}
	if err != nil {
		return RateChange{}, false, err
	}
	return rc, true, nil
}

// LatestEffective returns the rate in force for the item on a date.
func (r *Repository) LatestEffective(ctx context.Context, companyID, itemID uuid.UUID, asOf time.Time) (RateChange, bool, error) {
	return latestEffective(ctx, r.pool, companyID, itemID, asOf)
}

// History lists the most recent rate changes for an item.
func (r *Repository) History(ctx context.Context, companyID, itemID uuid.UUID, limit int) ([]RateChange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT `+rateChangeColumns+` FROM fuel_rate_changes
WHERE company_id=$1 AND item_id=$2
ORDER BY effective_date DESC, created_at DESC
LIMIT $3`, companyID, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RateChange
	for rows.Next() {
		rc, err := scanRateChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Ledger() ledger.TxRepository   { return ledger.TxFrom(r.tx) }
func (r *txRepository) Stock() inventory.TxRepository { return inventory.TxFrom(r.tx) }
func (r *txRepository) Accounts() coa.AccountStore    { return coa.NewRepo(r.tx) }

func (r *txRepository) Settings(ctx context.Context, companyID uuid.UUID) (station.Settings, error) {
	return station.NewStore(r.tx).SettingsFor(ctx, companyID)
}

func (r *txRepository) InsertRateChange(ctx context.Context, rc RateChange) (RateChange, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO fuel_rate_changes
(company_id, item_id, effective_date, purchase_rate, sale_rate, stock_quantity_at_change,
 previous_avg_cost, margin_impact, revaluation_amount, notes, created_by_user_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id, created_at`,
		rc.CompanyID, rc.ItemID, rc.EffectiveDate, rc.PurchaseRate, rc.SaleRate,
		rc.StockAtChange, rc.PreviousAvgCost, rc.MarginImpact, rc.RevaluationAmount,
		rc.Notes, rc.CreatedBy).Scan(&rc.ID, &rc.CreatedAt)
	return rc, err
}

func (r *txRepository) LatestEffective(ctx context.Context, companyID, itemID uuid.UUID, asOf time.Time) (RateChange, bool, error) {
	return latestEffective(ctx, r.tx, companyID, itemID, asOf)
}

func (r *txRepository) SetJournalEntry(ctx context.Context, companyID, rateChangeID, transactionID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `UPDATE fuel_rate_changes SET journal_entry_id=$3
WHERE company_id=$1 AND id=$2`, companyID, rateChangeID, transactionID)
	return err
}
