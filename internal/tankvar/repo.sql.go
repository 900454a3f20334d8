package tankvar

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stationledger/stationledger/internal/coa"
	"github.com/stationledger/stationledger/internal/inventory"
	"github.com/stationledger/stationledger/internal/ledger"
)

// TxRepository is the transactional surface for tank readings. The
// accessor methods hand back collaborator ports bound to the same
// database transaction, so a posted reading and its variance entry commit
// together.
type TxRepository interface {
	LastPostedReading(ctx context.Context, companyID, tankID uuid.UUID, before time.Time) (TankReading, bool, error)
	PumpDispensedTotal(ctx context.Context, companyID, tankID uuid.UUID, from, to time.Time) (decimal.Decimal, error)
	InsertReading(ctx context.Context, reading TankReading) (TankReading, error)
	GetReadingForUpdate(ctx context.Context, companyID, readingID uuid.UUID) (TankReading, error)
	MarkConfirmed(ctx context.Context, readingID, actorID uuid.UUID, at time.Time) error
	MarkPosted(ctx context.Context, readingID uuid.UUID, journalEntryID *uuid.UUID, at time.Time) error

	Ledger() ledger.TxRepository
	Stock() inventory.TxRepository
	Accounts() coa.AccountStore
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Repository persists tank readings through pgx.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Ledger() ledger.TxRepository   { return ledger.TxFrom(r.tx) }
func (r *txRepository) Stock() inventory.TxRepository { return inventory.TxFrom(r.tx) }
func (r *txRepository) Accounts() coa.AccountStore    { return coa.NewRepo(r.tx) }

const readingColumns = `id, company_id, tank_id, item_id, reading_date, dip_measurement_liters,
system_calculated_liters, variance_liters, variance_type, variance_reason, status,
journal_entry_id, confirmed_by_user_id, confirmed_at, posted_at, created_by_user_id, created_at`

func scanReading(row pgx.Row) (TankReading, error) {
	var t TankReading
	err := row.Scan(&t.ID, &t.CompanyID, &t.TankID, &t.ItemID, &t.ReadingDate, &t.DipLiters,
		&t.SystemLiters, &t.VarianceLiters, &t.VarianceType, &t.VarianceReason, &t.Status,
		&t.JournalEntryID, &t.ConfirmedBy, &t.ConfirmedAt, &t.PostedAt, &t.CreatedBy, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TankReading{}, ErrReadingNotFound
		}
		return TankReading{}, err
	}
	return t, nil
}

func (r *txRepository) LastPostedReading(ctx context.Context, companyID, tankID uuid.UUID, before time.Time) (TankReading, bool, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+readingColumns+` FROM tank_readings
WHERE company_id=$1 AND tank_id=$2 AND status='posted' AND reading_date < $3
ORDER BY reading_date DESC LIMIT 1`, companyID, tankID, before)
	reading, err := scanReading(row)
	if errors.Is(err, ErrReadingNotFound) {
		return TankReading{}, false, nil
	}
	if err != nil {
		return TankReading{}, false, err
	}
	return reading, true, nil
}

func (r *txRepository) PumpDispensedTotal(ctx context.Context, companyID, tankID uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(pr.liters_dispensed), 0)
FROM pump_readings pr
JOIN pumps p ON p.id = pr.pump_id
WHERE pr.company_id=$1 AND p.tank_id=$2 AND pr.reading_date >= $3 AND pr.reading_date <= $4`,
		companyID, tankID, from, to).Scan(&total)
	return total, err
}

func (r *txRepository) InsertReading(ctx context.Context, reading TankReading) (TankReading, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO tank_readings
(company_id, tank_id, item_id, reading_date, dip_measurement_liters, system_calculated_liters,
 variance_liters, variance_type, variance_reason, status, created_by_user_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING `+readingColumns,
		reading.CompanyID, reading.TankID, reading.ItemID, reading.ReadingDate, reading.DipLiters,
		reading.SystemLiters, reading.VarianceLiters, reading.VarianceType, reading.VarianceReason,
		reading.Status, reading.CreatedBy)
	return scanReading(row)
}

func (r *txRepository) GetReadingForUpdate(ctx context.Context, companyID, readingID uuid.UUID) (TankReading, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+readingColumns+` FROM tank_readings
WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, readingID)
	return scanReading(row)
}

func (r *txRepository) MarkConfirmed(ctx context.Context, readingID, actorID uuid.UUID, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE tank_readings
SET status='confirmed', confirmed_by_user_id=$2, confirmed_at=$3 WHERE id=$1`, readingID, actorID, at)
	return err
}

func (r *txRepository) MarkPosted(ctx context.Context, readingID uuid.UUID, journalEntryID *uuid.UUID, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE tank_readings
SET status='posted', journal_entry_id=$2, posted_at=$3 WHERE id=$1`, readingID, journalEntryID, at)
	return err
}
