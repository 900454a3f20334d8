package dailyclose

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
	"github.com/stationledger/stationledger/internal/station"
	"github.com/stationledger/stationledger/internal/tankvar"
)

// PriorDip is the most recent dip measurement before a close date.
type PriorDip struct {
	ReadingDate time.Time
	DipLiters   decimal.Decimal
}

// TankReadingRow is the dip record a close writes as a posted reading.
type TankReadingRow struct {
	CompanyID      uuid.UUID
	TankID         uuid.UUID
	ItemID         uuid.UUID
	ReadingDate    time.Time
	DipLiters      decimal.Decimal
	SystemLiters   decimal.Decimal
	VarianceLiters decimal.Decimal
	VarianceType   tankvar.VarianceType
	RecordedBy     uuid.UUID
}

// NozzleReadingRow is the persisted per-nozzle sales record, linked back
// to the close transaction that posted it.
type NozzleReadingRow struct {
	CompanyID          uuid.UUID
	NozzleID           uuid.UUID
	ItemID             uuid.UUID
	ReadingDate        time.Time
	OpeningElectronic  decimal.Decimal
	ClosingElectronic  decimal.Decimal
	OpeningManual      *decimal.Decimal
	ClosingManual      *decimal.Decimal
	LitersDispensed    decimal.Decimal
	Revenue            decimal.Decimal
	SaleRate           decimal.Decimal
	CloseTransactionID uuid.UUID
}

// PartnerTransaction is one partner cash movement recorded by a close.
type PartnerTransaction struct {
	CompanyID     uuid.UUID
	PartnerID     uuid.UUID
	Date          time.Time
	Type          string
	Amount        decimal.Decimal
	Description   string
	PaymentMethod string
	RecordedBy    uuid.UUID
}

// Partner transaction types.
const (
	PartnerInvestment = "investment"
	PartnerWithdrawal = "withdrawal"
)

// SalaryAdvance is a till advance to an employee, repaid through payroll.
type SalaryAdvance struct {
	CompanyID   uuid.UUID
	EmployeeID  uuid.UUID
	AdvanceDate time.Time
	Amount      decimal.Decimal
	Outstanding decimal.Decimal
	Reason      string
	Status      string
	RecordedBy  uuid.UUID
}

// TxRepository is the transactional surface of a close. The accessor
// methods hand back collaborator ports bound to the same database
// transaction, so the posting and every side-effect row commit together.
type TxRepository interface {
	Settings(ctx context.Context, companyID uuid.UUID) (station.Settings, error)
	LastDipBefore(ctx context.Context, companyID, tankID uuid.UUID, before time.Time) (PriorDip, bool, error)
	UpsertPostedReading(ctx context.Context, row TankReadingRow) error
	InsertPartnerTransaction(ctx context.Context, pt PartnerTransaction) error
	IncrementPartnerWithdrawn(ctx context.Context, companyID, partnerID uuid.UUID, amount decimal.Decimal) error
	InsertSalaryAdvance(ctx context.Context, adv SalaryAdvance) error
	UpsertNozzleReading(ctx context.Context, row NozzleReadingRow) error
	UpdateNozzleTotalizer(ctx context.Context, companyID, nozzleID uuid.UUID, closingElectronic decimal.Decimal, closingManual *decimal.Decimal) error

	Ledger() ledger.TxRepository
	Stock() inventory.TxRepository
	Accounts() coa.AccountStore
}

// RepositoryPort abstracts transactional repository behaviour plus the
// read-only history queries the close views need.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	LatestCloseBefore(ctx context.Context, companyID uuid.UUID, before time.Time) (ledger.Transaction, bool, error)
	RecentCloses(ctx context.Context, companyID uuid.UUID, since time.Time) ([]ledger.Transaction, error)
}

// Repository persists close side effects through pgx.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction. Postings and
// side-effect rows roll back together on any error.
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

// LatestCloseBefore finds the most recent daily close posted before a
// date, reversed entries included.
func (r *Repository) LatestCloseBefore(ctx context.Context, companyID uuid.UUID, before time.Time) (ledger.Transaction, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, company_id, transaction_number, transaction_date, metadata,
is_locked, reversed_by_id, corrects_transaction_id
FROM gl_transactions
WHERE company_id=$1 AND transaction_type=$2 AND transaction_date < $3 AND deleted_at IS NULL
ORDER BY transaction_date DESC, created_at DESC LIMIT 1`, companyID, ledger.TypeDailyClose, before)
	t, err := scanCloseRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	return t, true, nil
}

// RecentCloses lists daily closes on or after a date, newest first.
func (r *Repository) RecentCloses(ctx context.Context, companyID uuid.UUID, since time.Time) ([]ledger.Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, transaction_number, transaction_date, metadata,
is_locked, reversed_by_id, corrects_transaction_id
FROM gl_transactions
WHERE company_id=$1 AND transaction_type=$2 AND transaction_date >= $3 AND deleted_at IS NULL
ORDER BY transaction_date DESC`, companyID, ledger.TypeDailyClose, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Transaction
	for rows.Next() {
		t, err := scanCloseRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanCloseRow(row pgx.Row) (ledger.Transaction, error) {
	var t ledger.Transaction
	err := row.Scan(&t.ID, &t.CompanyID, &t.Number, &t.Date, &t.Metadata,
		&t.IsLocked, &t.ReversedByID, &t.CorrectsTransactionID)
	return t, err
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

func (r *txRepository) LastDipBefore(ctx context.Context, companyID, tankID uuid.UUID, before time.Time) (PriorDip, bool, error) {
	var dip PriorDip
	err := r.tx.QueryRow(ctx, `SELECT reading_date, dip_measurement_liters FROM tank_readings
WHERE company_id=$1 AND tank_id=$2 AND reading_date < $3
ORDER BY reading_date DESC LIMIT 1`, companyID, tankID, before).
		Scan(&dip.ReadingDate, &dip.DipLiters)
	if errors.Is(err, pgx.ErrNoRows) {
		return PriorDip{}, false, nil
	}
	if err != nil {
		return PriorDip{}, false, err
	}
	return dip, true, nil
}

func (r *txRepository) UpsertPostedReading(ctx context.Context, row TankReadingRow) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO tank_readings
(company_id, tank_id, item_id, reading_date, dip_measurement_liters, system_calculated_liters,
 variance_liters, variance_type, status, created_by_user_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'posted',$9)
ON CONFLICT (company_id, tank_id, reading_date) DO UPDATE SET
 item_id=EXCLUDED.item_id,
 dip_measurement_liters=EXCLUDED.dip_measurement_liters,
 system_calculated_liters=EXCLUDED.system_calculated_liters,
 variance_liters=EXCLUDED.variance_liters,
 variance_type=EXCLUDED.variance_type,
 status='posted'`,
		row.CompanyID, row.TankID, row.ItemID, row.ReadingDate, row.DipLiters,
		row.SystemLiters, row.VarianceLiters, row.VarianceType, row.RecordedBy)
	return err
}

func (r *txRepository) InsertPartnerTransaction(ctx context.Context, pt PartnerTransaction) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO partner_transactions
(company_id, partner_id, transaction_date, transaction_type, amount, description, payment_method, recorded_by_user_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		pt.CompanyID, pt.PartnerID, pt.Date, pt.Type, pt.Amount, pt.Description, pt.PaymentMethod, pt.RecordedBy)
	return err
}

func (r *txRepository) IncrementPartnerWithdrawn(ctx context.Context, companyID, partnerID uuid.UUID, amount decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE partners
SET current_period_withdrawn = current_period_withdrawn + $3
WHERE company_id=$1 AND id=$2`, companyID, partnerID, amount)
	return err
}

func (r *txRepository) InsertSalaryAdvance(ctx context.Context, adv SalaryAdvance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO salary_advances
(company_id, employee_id, advance_date, amount, amount_outstanding, reason, status, payment_method, recorded_by_user_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,'cash',$8)`,
		adv.CompanyID, adv.EmployeeID, adv.AdvanceDate, adv.Amount, adv.Outstanding, adv.Reason, adv.Status, adv.RecordedBy)
	return err
}

func (r *txRepository) UpsertNozzleReading(ctx context.Context, row NozzleReadingRow) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO nozzle_readings
(company_id, nozzle_id, item_id, reading_date, opening_electronic, closing_electronic,
 opening_manual, closing_manual, liters_dispensed, revenue, sale_rate, daily_close_transaction_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (company_id, nozzle_id, reading_date) DO UPDATE SET
 item_id=EXCLUDED.item_id,
 opening_electronic=EXCLUDED.opening_electronic,
 closing_electronic=EXCLUDED.closing_electronic,
 opening_manual=EXCLUDED.opening_manual,
 closing_manual=EXCLUDED.closing_manual,
 liters_dispensed=EXCLUDED.liters_dispensed,
 revenue=EXCLUDED.revenue,
 sale_rate=EXCLUDED.sale_rate,
 daily_close_transaction_id=EXCLUDED.daily_close_transaction_id`,
		row.CompanyID, row.NozzleID, row.ItemID, row.ReadingDate, row.OpeningElectronic, row.ClosingElectronic,
		row.OpeningManual, row.ClosingManual, row.LitersDispensed, row.Revenue, row.SaleRate, row.CloseTransactionID)
	return err
}

func (r *txRepository) UpdateNozzleTotalizer(ctx context.Context, companyID, nozzleID uuid.UUID, closingElectronic decimal.Decimal, closingManual *decimal.Decimal) error {
	if closingManual != nil {
		_, err := r.tx.Exec(ctx, `UPDATE nozzles
SET last_closing_reading=$3, last_manual_reading=$4 WHERE company_id=$1 AND id=$2`,
			companyID, nozzleID, closingElectronic, closingManual)
		return err
	}
	_, err := r.tx.Exec(ctx, `UPDATE nozzles
SET last_closing_reading=$3 WHERE company_id=$1 AND id=$2`, companyID, nozzleID, closingElectronic)
	return err
}
