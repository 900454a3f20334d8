package allocation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TxRepository is the transactional surface for payment allocation. Row
// locks on the payment and invoices serialise concurrent allocations of
// the same money.
type TxRepository interface {
	GetPaymentForUpdate(ctx context.Context, companyID, paymentID uuid.UUID) (Payment, error)
	GetInvoiceForUpdate(ctx context.Context, companyID, invoiceID uuid.UUID) (OpenInvoice, error)
	OpenInvoicesForUpdate(ctx context.Context, companyID, customerID uuid.UUID) ([]OpenInvoice, error)
	InsertAllocation(ctx context.Context, a PaymentAllocation) (PaymentAllocation, error)
	GetAllocationForUpdate(ctx context.Context, companyID, allocationID uuid.UUID) (PaymentAllocation, error)
	MarkAllocationReversed(ctx context.Context, allocationID, actorID uuid.UUID, reason string, at time.Time) error
	AddInvoiceAllocated(ctx context.Context, companyID, invoiceID uuid.UUID, delta decimal.Decimal) error
	AddPaymentAllocated(ctx context.Context, companyID, paymentID uuid.UUID, delta decimal.Decimal) error
	SetPaymentStatus(ctx context.Context, companyID, paymentID uuid.UUID, status string) error
}

// RepositoryPort abstracts transactional repository behaviour plus the
// read-only summary queries.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPayment(ctx context.Context, companyID, paymentID uuid.UUID) (Payment, error)
	ActiveAllocations(ctx context.Context, companyID, paymentID uuid.UUID) ([]PaymentAllocation, error)
}

// Repository persists payments and allocations through pgx.
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

const paymentColumns = `id, company_id, customer_id, payment_number, amount, allocated_amount, currency, payment_method, status`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.CompanyID, &p.CustomerID, &p.Number, &p.Amount,
		&p.Allocated, &p.Currency, &p.Method, &p.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

// GetPayment reads a payment outside any allocation scope.
func (r *Repository) GetPayment(ctx context.Context, companyID, paymentID uuid.UUID) (Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments
WHERE company_id=$1 AND id=$2`, companyID, paymentID))
}

// ActiveAllocations lists a payment's non-reversed allocations.
func (r *Repository) ActiveAllocations(ctx context.Context, companyID, paymentID uuid.UUID) ([]PaymentAllocation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, payment_id, invoice_id, allocated_amount,
allocation_date, allocation_method, allocation_strategy, notes, status, created_by_user_id
FROM payment_allocations
WHERE company_id=$1 AND payment_id=$2 AND status=$3
ORDER BY allocation_date ASC`, companyID, paymentID, AllocationActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PaymentAllocation
	for rows.Next() {
		var a PaymentAllocation
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.PaymentID, &a.InvoiceID, &a.Amount,
			&a.Date, &a.Method, &a.Strategy, &a.Notes, &a.Status, &a.CreatedBy); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetPaymentForUpdate(ctx context.Context, companyID, paymentID uuid.UUID) (Payment, error) {
	return scanPayment(r.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments
WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, paymentID))
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, companyID, invoiceID uuid.UUID) (OpenInvoice, error) {
	var inv OpenInvoice
	err := r.tx.QueryRow(ctx, `SELECT id, invoice_number, issue_date, due_date, balance_due
FROM invoices WHERE company_id=$1 AND id=$2 AND status NOT IN ('paid','cancelled') FOR UPDATE`,
		companyID, invoiceID).
		Scan(&inv.ID, &inv.Number, &inv.IssueDate, &inv.DueDate, &inv.Outstanding)
	if errors.Is(err, pgx.ErrNoRows) {
		return OpenInvoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return OpenInvoice{}, err
	}
	return inv, nil
}

func (r *txRepository) OpenInvoicesForUpdate(ctx context.Context, companyID, customerID uuid.UUID) ([]OpenInvoice, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, invoice_number, issue_date, due_date, balance_due
FROM invoices
WHERE company_id=$1 AND customer_id=$2 AND status NOT IN ('paid','cancelled') AND balance_due > 0
ORDER BY due_date ASC FOR UPDATE`, companyID, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OpenInvoice
	for rows.Next() {
		var inv OpenInvoice
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.IssueDate, &inv.DueDate, &inv.Outstanding); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertAllocation(ctx context.Context, a PaymentAllocation) (PaymentAllocation, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO payment_allocations
(company_id, payment_id, invoice_id, allocated_amount, allocation_date, allocation_method,
 allocation_strategy, notes, status, created_by_user_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id`,
		a.CompanyID, a.PaymentID, a.InvoiceID, a.Amount, a.Date, a.Method,
		a.Strategy, a.Notes, a.Status, a.CreatedBy).Scan(&a.ID)
	return a, err
}

func (r *txRepository) GetAllocationForUpdate(ctx context.Context, companyID, allocationID uuid.UUID) (PaymentAllocation, error) {
	var a PaymentAllocation
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, payment_id, invoice_id, allocated_amount,
allocation_date, allocation_method, allocation_strategy, notes, status, created_by_user_id
FROM payment_allocations WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, allocationID).
		Scan(&a.ID, &a.CompanyID, &a.PaymentID, &a.InvoiceID, &a.Amount,
			&a.Date, &a.Method, &a.Strategy, &a.Notes, &a.Status, &a.CreatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return PaymentAllocation{}, ErrAllocationNotFound
	}
	if err != nil {
		return PaymentAllocation{}, err
	}
	return a, nil
}

func (r *txRepository) MarkAllocationReversed(ctx context.Context, allocationID, actorID uuid.UUID, reason string, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE payment_allocations
SET status=$2, reversal_reason=$3, reversed_by_user_id=$4, reversed_at=$5
WHERE id=$1 AND status=$6`, allocationID, AllocationReversed, reason, actorID, at, AllocationActive)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyReversed
	}
	return nil
}

func (r *txRepository) AddInvoiceAllocated(ctx context.Context, companyID, invoiceID uuid.UUID, delta decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE invoices
SET total_allocated = total_allocated + $3, balance_due = balance_due - $3
WHERE company_id=$1 AND id=$2`, companyID, invoiceID, delta)
	return err
}

func (r *txRepository) AddPaymentAllocated(ctx context.Context, companyID, paymentID uuid.UUID, delta decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE payments
SET allocated_amount = allocated_amount + $3
WHERE company_id=$1 AND id=$2`, companyID, paymentID, delta)
	return err
}

func (r *txRepository) SetPaymentStatus(ctx context.Context, companyID, paymentID uuid.UUID, status string) error {
	_, err := r.tx.Exec(ctx, `UPDATE payments SET status=$3
WHERE company_id=$1 AND id=$2`, companyID, paymentID, status)
	return err
}
