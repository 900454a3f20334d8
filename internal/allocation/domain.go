package allocation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment statuses.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
)

// Allocation methods and statuses.
const (
	MethodManual    = "manual"
	MethodAutomatic = "automatic"

	AllocationActive   = "active"
	AllocationReversed = "reversed"
)

// Payment is money received from a customer, allocated across invoices
// over time. Allocated never exceeds Amount.
type Payment struct {
	ID         uuid.UUID
	CompanyID  uuid.UUID
	CustomerID uuid.UUID
	Number     string
	Amount     decimal.Decimal
	Allocated  decimal.Decimal
	Currency   string
	Method     string
	Status     string
}

// Remaining is the unallocated portion of the payment.
func (p Payment) Remaining() decimal.Decimal {
	return p.Amount.Sub(p.Allocated)
}

// FullyAllocated reports whether nothing remains to allocate.
func (p Payment) FullyAllocated() bool {
	return !p.Remaining().IsPositive()
}

// PaymentAllocation binds part of a payment to one invoice.
type PaymentAllocation struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	PaymentID uuid.UUID
	InvoiceID uuid.UUID
	Amount    decimal.Decimal
	Date      time.Time
	Method    string
	Strategy  string
	Notes     string
	Status    string
	CreatedBy uuid.UUID
}

// AllocationInput is one requested manual allocation line.
type AllocationInput struct {
	InvoiceID uuid.UUID
	Amount    decimal.Decimal
	Notes     string
}

// AllocationResult reports one applied allocation with the invoice
// balance movement.
type AllocationResult struct {
	AllocationID        uuid.UUID       `json:"allocation_id"`
	InvoiceID           uuid.UUID       `json:"invoice_id"`
	InvoiceNumber       string          `json:"invoice_number"`
	Amount              decimal.Decimal `json:"allocated_amount"`
	PreviousOutstanding decimal.Decimal `json:"previous_balance"`
	NewOutstanding      decimal.Decimal `json:"new_balance"`
}

// PaymentSummary is the allocation view of one payment.
type PaymentSummary struct {
	PaymentID      uuid.UUID           `json:"payment_id"`
	Number         string              `json:"payment_number"`
	Amount         decimal.Decimal     `json:"total_amount"`
	Allocated      decimal.Decimal     `json:"total_allocated"`
	Remaining      decimal.Decimal     `json:"remaining_amount"`
	FullyAllocated bool                `json:"is_fully_allocated"`
	Allocations    []PaymentAllocation `json:"allocations"`
}

var (
	// ErrPaymentNotFound indicates an unknown or foreign-company payment.
	ErrPaymentNotFound = errors.New("allocation: payment not found")
	// ErrInvoiceNotFound indicates an unknown invoice.
	ErrInvoiceNotFound = errors.New("allocation: invoice not found")
	// ErrAllocationNotFound indicates an unknown allocation.
	ErrAllocationNotFound = errors.New("allocation: allocation not found")
	// ErrNonPositiveAmount indicates a zero or negative allocation line.
	ErrNonPositiveAmount = errors.New("allocation: allocation amount must be positive")
	// ErrAlreadyReversed refuses a second reversal of the same allocation.
	ErrAlreadyReversed = errors.New("allocation: allocation already reversed")
)

// OverAllocationError refuses allocations beyond the payment's remaining
// amount.
type OverAllocationError struct {
	Requested decimal.Decimal
	Remaining decimal.Decimal
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("allocation: total allocation %s exceeds remaining payment amount %s",
		e.Requested, e.Remaining)
}

// InvoiceOverAllocationError refuses a line beyond the invoice's
// outstanding balance.
type InvoiceOverAllocationError struct {
	InvoiceID   uuid.UUID
	Requested   decimal.Decimal
	Outstanding decimal.Decimal
}

func (e *InvoiceOverAllocationError) Error() string {
	return fmt.Sprintf("allocation: amount %s exceeds outstanding balance %s on invoice %s",
		e.Requested, e.Outstanding, e.InvoiceID)
}
