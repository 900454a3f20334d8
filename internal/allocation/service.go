package allocation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stationledger/stationledger/internal/ledger"
)

// Service applies customer payments to invoices, manually or through a
// named strategy.
type Service struct {
	repo   RepositoryPort
	audit  ledger.AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the allocation service.
func NewService(repo RepositoryPort, audit ledger.AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Allocate applies the given lines to the payment. All lines commit or
// none do: the combined total must not exceed the payment's remaining
// amount, and no line may exceed its invoice's outstanding balance.
func (s *Service) Allocate(ctx context.Context, companyID uuid.UUID, paymentID uuid.UUID, lines []AllocationInput, actorID uuid.UUID) ([]AllocationResult, error) {
	var results []AllocationResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		results, err = s.allocate(ctx, tx, companyID, paymentID, lines, MethodManual, "", actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, companyID, "allocation.allocate", paymentID, map[string]any{
		"lines": len(results),
	})
	return results, nil
}

// ApplyStrategy allocates the payment's remaining amount across the
// customer's open invoices using the named strategy. A customer with no
// open invoices yields an empty result without error.
func (s *Service) ApplyStrategy(ctx context.Context, companyID uuid.UUID, paymentID uuid.UUID, strategy string, opts PlanOptions, actorID uuid.UUID) ([]AllocationResult, error) {
	if opts.AsOf.IsZero() {
		opts.AsOf = s.now()
	}
	var results []AllocationResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.GetPaymentForUpdate(ctx, companyID, paymentID)
		if err != nil {
			return err
		}
		if payment.FullyAllocated() {
			return nil
		}
		invoices, err := tx.OpenInvoicesForUpdate(ctx, companyID, payment.CustomerID)
		if err != nil {
			return err
		}
		if len(invoices) == 0 {
			return nil
		}
		proposals, err := Plan(strategy, invoices, payment.Remaining(), opts)
		if err != nil {
			return err
		}
		if len(proposals) == 0 {
			return nil
		}
		lines := make([]AllocationInput, 0, len(proposals))
		for _, p := range proposals {
			lines = append(lines, AllocationInput{InvoiceID: p.InvoiceID, Amount: p.Amount, Notes: p.Note})
		}
		results, err = s.allocate(ctx, tx, companyID, paymentID, lines, MethodAutomatic, strategy, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, companyID, "allocation.apply_strategy", paymentID, map[string]any{
		"strategy": strategy,
		"lines":    len(results),
	})
	return results, nil
}

func (s *Service) allocate(ctx context.Context, tx TxRepository, companyID, paymentID uuid.UUID, lines []AllocationInput, method, strategy string, actorID uuid.UUID) ([]AllocationResult, error) {
	payment, err := tx.GetPaymentForUpdate(ctx, companyID, paymentID)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, line := range lines {
		if !line.Amount.IsPositive() {
			return nil, ErrNonPositiveAmount
		}
		total = total.Add(line.Amount)
	}
	if total.GreaterThan(payment.Remaining()) {
		return nil, &OverAllocationError{Requested: total, Remaining: payment.Remaining()}
	}

	// Several lines may target the same invoice; bound their running sum
	// against the locked outstanding balance.
	outstanding := make(map[uuid.UUID]decimal.Decimal, len(lines))
	invoices := make(map[uuid.UUID]OpenInvoice, len(lines))
	now := s.now()
	results := make([]AllocationResult, 0, len(lines))
	for _, line := range lines {
		inv, ok := invoices[line.InvoiceID]
		if !ok {
			inv, err = tx.GetInvoiceForUpdate(ctx, companyID, line.InvoiceID)
			if err != nil {
				return nil, err
			}
			invoices[line.InvoiceID] = inv
			outstanding[line.InvoiceID] = inv.Outstanding
		}
		remaining := outstanding[line.InvoiceID]
		if line.Amount.GreaterThan(remaining) {
			return nil, &InvoiceOverAllocationError{
				InvoiceID:   line.InvoiceID,
				Requested:   line.Amount,
				Outstanding: remaining,
			}
		}
		alloc, err := tx.InsertAllocation(ctx, PaymentAllocation{
			CompanyID: companyID,
			PaymentID: paymentID,
			InvoiceID: line.InvoiceID,
			Amount:    line.Amount,
			Date:      now,
			Method:    method,
			Strategy:  strategy,
			Notes:     line.Notes,
			Status:    AllocationActive,
			CreatedBy: actorID,
		})
		if err != nil {
			return nil, err
		}
		if err := tx.AddInvoiceAllocated(ctx, companyID, line.InvoiceID, line.Amount); err != nil {
			return nil, err
		}
		newOutstanding := remaining.Sub(line.Amount)
		outstanding[line.InvoiceID] = newOutstanding
		results = append(results, AllocationResult{
			AllocationID:        alloc.ID,
			InvoiceID:           line.InvoiceID,
			InvoiceNumber:       inv.Number,
			Amount:              line.Amount,
			PreviousOutstanding: remaining,
			NewOutstanding:      newOutstanding,
		})
	}

	if err := tx.AddPaymentAllocated(ctx, companyID, paymentID, total); err != nil {
		return nil, err
	}
	if payment.Allocated.Add(total).GreaterThanOrEqual(payment.Amount) {
		if err := tx.SetPaymentStatus(ctx, companyID, paymentID, PaymentCompleted); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// ReverseAllocation undoes one allocation: the invoice's outstanding
// balance and the payment's unallocated amount both grow back, and a
// fully allocated payment returns to pending.
func (s *Service) ReverseAllocation(ctx context.Context, companyID, allocationID uuid.UUID, reason string, actorID uuid.UUID) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		alloc, err := tx.GetAllocationForUpdate(ctx, companyID, allocationID)
		if err != nil {
			return err
		}
		if alloc.Status == AllocationReversed {
			return ErrAlreadyReversed
		}
		payment, err := tx.GetPaymentForUpdate(ctx, companyID, alloc.PaymentID)
		if err != nil {
			return err
		}
		if err := tx.MarkAllocationReversed(ctx, allocationID, actorID, reason, s.now()); err != nil {
			return err
		}
		if err := tx.AddInvoiceAllocated(ctx, companyID, alloc.InvoiceID, alloc.Amount.Neg()); err != nil {
			return err
		}
		if err := tx.AddPaymentAllocated(ctx, companyID, alloc.PaymentID, alloc.Amount.Neg()); err != nil {
			return err
		}
		if payment.Status == PaymentCompleted {
			return tx.SetPaymentStatus(ctx, companyID, alloc.PaymentID, PaymentPending)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, companyID, "allocation.reverse", allocationID, map[string]any{
		"reason": reason,
	})
	return nil
}

// Summary reports the payment with its active allocations.
func (s *Service) Summary(ctx context.Context, companyID, paymentID uuid.UUID) (PaymentSummary, error) {
	payment, err := s.repo.GetPayment(ctx, companyID, paymentID)
	if err != nil {
		return PaymentSummary{}, err
	}
	allocations, err := s.repo.ActiveAllocations(ctx, companyID, paymentID)
	if err != nil {
		return PaymentSummary{}, err
	}
	return PaymentSummary{
		PaymentID:      payment.ID,
		Number:         payment.Number,
		Amount:         payment.Amount,
		Allocated:      payment.Allocated,
		Remaining:      payment.Remaining(),
		FullyAllocated: payment.FullyAllocated(),
		Allocations:    allocations,
	}, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID, companyID uuid.UUID, action string, entityID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, ledger.AuditEvent{
		ActorID:   actorID,
		CompanyID: companyID,
		Action:    action,
		EntityID:  entityID,
		Meta:      meta,
		At:        s.now(),
	})
}
