package ledger

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
)

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, event AuditEvent) error
}

// AuditEvent is an append-only trail entry for a ledger mutation.
type AuditEvent struct {
	ActorID   uuid.UUID
	CompanyID uuid.UUID
	Action    string
	EntityID  uuid.UUID
	Meta      map[string]any
	At        time.Time
}

// Service is the single choke point through which every GL transaction is
// created, amended, and locked.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the poster service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Post validates and persists a balanced transaction inside an existing
// transactional scope. Composed workflows (daily close, variance posting)
// call this so the header, lines, and their own side effects commit
// atomically.
func Post(ctx context.Context, tx TxRepository, in PostingInput) (Transaction, error) {
	if in.BaseCurrency == "" {
		in.BaseCurrency = in.Currency
	}
	if err := in.Validate(); err != nil {
		return Transaction{}, err
	}
	accountIDs := uniqueAccountIDs(in.Lines)
	if err := tx.ValidateAccounts(ctx, in.CompanyID, accountIDs); err != nil {
		return Transaction{}, err
	}
	debit, credit := Totals(in.Lines)
	entry, err := tx.InsertTransaction(ctx, in, debit, credit)
	if err != nil {
		return Transaction{}, err
	}
	if err := tx.InsertLines(ctx, in.CompanyID, entry.ID, in.Lines); err != nil {
		return Transaction{}, err
	}
	entry.Lines = toLines(entry.ID, in.Lines)
	return entry, nil
}

// PostBalancedTransaction runs Post inside its own atomic scope.
func (s *Service) PostBalancedTransaction(ctx context.Context, in PostingInput) (Transaction, error) {
	var entry Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = Post(ctx, tx, in)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	s.recordAudit(ctx, in.ActorID, in.CompanyID, "ledger.post", entry.ID, map[string]any{
		"number": entry.Number,
		"type":   entry.Type,
	})
	return entry, nil
}

// EnsureOriginalClose refuses a second original close entry for a date.
// Any history for the (company, type, date) tuple, reversed entries
// included, forces the caller onto the amendment flow.
func EnsureOriginalClose(ctx context.Context, tx TxRepository, companyID uuid.UUID, txType string, date time.Time) error {
	exists, err := tx.CloseExists(ctx, companyID, txType, date)
	if err != nil {
		return err
	}
	if exists {
		return &DuplicateCloseError{Type: txType, Date: date}
	}
	return nil
}

// CorrectionNumber computes the next -C{n} number for a close date,
// serialised by a per-company advisory lock so concurrent amendments
// cannot mint the same suffix.
func CorrectionNumber(ctx context.Context, tx TxRepository, companyID uuid.UUID, base string) (string, error) {
	if err := tx.AdvisoryLock(ctx, advisoryKey(companyID, base)); err != nil {
		return "", err
	}
	existing, err := tx.CorrectionNumbers(ctx, companyID, base)
	if err != nil {
		return "", err
	}
	return NextCorrectionNumber(base, existing), nil
}

// Lock gates a transaction against further amendment.
func (s *Service) Lock(ctx context.Context, companyID, id, actorID uuid.UUID, reason string) error {
	if reason == "" {
		reason = "manual"
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetTransaction(ctx, companyID, id)
		if err != nil {
			return err
		}
		if entry.IsLocked {
			return ErrAlreadyLocked
		}
		if entry.ReversedByID != nil {
			return ErrNotAmendable
		}
		return tx.SetLock(ctx, companyID, id, &actorID, reason, true, s.now())
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, companyID, "ledger.lock", id, map[string]any{"reason": reason})
	return nil
}

// Unlock releases a locked transaction.
func (s *Service) Unlock(ctx context.Context, companyID, id, actorID uuid.UUID) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetTransaction(ctx, companyID, id)
		if err != nil {
			return err
		}
		if !entry.IsLocked {
			return ErrNotLocked
		}
		return tx.SetLock(ctx, companyID, id, nil, "", false, s.now())
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, companyID, "ledger.unlock", id, nil)
	return nil
}

// LockMonth bulk-locks all unreversed close transactions in a calendar
// month. Used by month-end close.
func (s *Service) LockMonth(ctx context.Context, companyID uuid.UUID, txType string, year int, month time.Month, actorID uuid.UUID) (int64, error) {
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, -1)
	var locked int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		locked, err = tx.LockRange(ctx, companyID, txType, from, to, actorID, "month_end", s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	s.recordAudit(ctx, actorID, companyID, "ledger.lock_month", uuid.Nil, map[string]any{
		"type": txType, "year": year, "month": int(month), "locked": locked,
	})
	return locked, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID, companyID uuid.UUID, action string, entityID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, AuditEvent{
		ActorID:   actorID,
		CompanyID: companyID,
		Action:    action,
		EntityID:  entityID,
		Meta:      meta,
		At:        s.now(),
	})
}

func uniqueAccountIDs(lines []LineInput) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(lines))
	out := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.AccountID]; ok {
			continue
		}
		seen[line.AccountID] = struct{}{}
		out = append(out, line.AccountID)
	}
	return out
}

func toLines(transactionID uuid.UUID, lines []LineInput) []Line {
	out := make([]Line, 0, len(lines))
	for idx, line := range lines {
		out = append(out, Line{
			TransactionID: transactionID,
			AccountID:     line.AccountID,
			LineNumber:    idx + 1,
			Side:          line.Side,
			Amount:        line.Amount,
			Description:   line.Description,
		})
	}
	return out
}

func advisoryKey(companyID uuid.UUID, scope string) int64 {
	h := fnv.New64a()
	_, _ = h.Write(companyID[:])
	_, _ = h.Write([]byte(scope))
	return int64(h.Sum64())
}
