package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TxRepository exposes the transactional stock operations. Close workflows
// embed it next to the ledger port so stock deltas and GL postings commit
// together.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, companyID, itemID uuid.UUID) (Item, error)
	UpdateItemStock(ctx context.Context, companyID, itemID uuid.UUID, stock, avgCost decimal.Decimal) error
	InsertMovement(ctx context.Context, m StockMovement) error
	GetTank(ctx context.Context, companyID, tankID uuid.UUID) (Tank, error)
	TankMovementTotals(ctx context.Context, companyID, tankID uuid.UUID, from, to time.Time) (MovementTotals, error)
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ItemByID(ctx context.Context, companyID, itemID uuid.UUID) (Item, error)
	DefaultFuelItem(ctx context.Context, companyID uuid.UUID) (Item, error)
	TanksForCompany(ctx context.Context, companyID uuid.UUID) ([]Tank, error)
}

// Repository persists inventory entities through pgx.
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

// TxFrom wraps an existing pgx transaction for composed scopes.
func TxFrom(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

const itemColumns = `id, company_id, name, fuel_category, unit, avg_cost, sale_rate, current_stock, is_active, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.CompanyID, &it.Name, &it.FuelCategory, &it.Unit,
		&it.AvgCost, &it.SaleRate, &it.CurrentStock, &it.IsActive, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return it, nil
}

// ItemByID loads an active item outside any transaction.
func (r *Repository) ItemByID(ctx context.Context, companyID, itemID uuid.UUID) (Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items
WHERE company_id=$1 AND id=$2 AND deleted_at IS NULL`, companyID, itemID)
	return scanItem(row)
}

// DefaultFuelItem resolves the station's petrol item, used when a workflow
// needs a fuel item and none was specified.
func (r *Repository) DefaultFuelItem(ctx context.Context, companyID uuid.UUID) (Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items
WHERE company_id=$1 AND name ILIKE '%Petrol%' AND is_active AND deleted_at IS NULL
ORDER BY created_at LIMIT 1`, companyID)
	return scanItem(row)
}

// TanksForCompany lists active tanks.
func (r *Repository) TanksForCompany(ctx context.Context, companyID uuid.UUID) ([]Tank, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, name, item_id, capacity_liters, is_active
FROM tanks WHERE company_id=$1 AND is_active ORDER BY name`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tanks []Tank
	for rows.Next() {
		var t Tank
		if err := rows.Scan(&t.ID, &t.CompanyID, &t.Name, &t.ItemID, &t.CapacityLiters, &t.IsActive); err != nil {
			return nil, err
		}
		tanks = append(tanks, t)
	}
	return tanks, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, companyID, itemID uuid.UUID) (Item, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM items
WHERE company_id=$1 AND id=$2 AND deleted_at IS NULL FOR UPDATE`, companyID, itemID)
	return scanItem(row)
}

func (r *txRepository) UpdateItemStock(ctx context.Context, companyID, itemID uuid.UUID, stock, avgCost decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE items SET current_stock=$3, avg_cost=$4, updated_at=NOW()
WHERE company_id=$1 AND id=$2`, companyID, itemID, stock, avgCost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m StockMovement) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_movements
(company_id, item_id, tank_id, movement_type, quantity, unit_cost, movement_date, ref_module, ref_id, note, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.CompanyID, m.ItemID, m.TankID, m.Type, m.Quantity, m.UnitCost,
		m.MovementDate, m.RefModule, m.RefID, m.Note, m.CreatedBy)
	return err
}

func (r *txRepository) GetTank(ctx context.Context, companyID, tankID uuid.UUID) (Tank, error) {
	var t Tank
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, name, item_id, capacity_liters, is_active
FROM tanks WHERE company_id=$1 AND id=$2`, companyID, tankID).
		Scan(&t.ID, &t.CompanyID, &t.Name, &t.ItemID, &t.CapacityLiters, &t.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tank{}, ErrTankNotFound
		}
		return Tank{}, err
	}
	return t, nil
}

func (r *txRepository) TankMovementTotals(ctx context.Context, companyID, tankID uuid.UUID, from, to time.Time) (MovementTotals, error) {
	var totals MovementTotals
	err := r.tx.QueryRow(ctx, `SELECT
COALESCE(SUM(quantity) FILTER (WHERE movement_type='receipt'), 0),
COALESCE(SUM(quantity) FILTER (WHERE movement_type='sale'), 0)
FROM stock_movements
WHERE company_id=$1 AND tank_id=$2 AND movement_date >= $3 AND movement_date < $4`,
		companyID, tankID, from, to).Scan(&totals.Receipts, &totals.Dispensed)
	return totals, err
}
