package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntrySide marks a journal line as debit or credit.
type EntrySide string

const (
	SideDebit  EntrySide = "debit"
	SideCredit EntrySide = "credit"
)

// Transaction types produced by the fuel-station workflows.
const (
	TypeDailyClose         = "fuel_daily_close"
	TypeDailyCloseReversal = "fuel_daily_close_reversal"
	TypeShiftClose         = "fuel_shift_close"
	TypeFuelVariance       = "fuel_variance"
	TypeRevaluation        = "inventory_revaluation"
	TypeInvestorDeposit    = "investor_deposit"
	TypeInvestorCommission = "investor_commission"
	TypeAmanatDeposit      = "amanat_deposit"
	TypeAmanatWithdrawal   = "amanat_withdrawal"
	TypeAmanatFuelPurchase = "amanat_fuel_purchase"
)

// BalanceTolerance is the maximum permitted debit/credit imbalance, in
// currency units. Anything beyond it is a data-integrity failure, never
// silently coerced into balance.
var BalanceTolerance = decimal.New(1, -2)

// Transaction is a posted general-ledger entry header. Created only by
// Post; mutated only to add amendment links or lock flags.
type Transaction struct {
	ID            uuid.UUID
	CompanyID     uuid.UUID
	Number        string
	Type          string
	Date          time.Time
	Currency      string
	BaseCurrency  string
	Description   string
	ReferenceType string
	ReferenceID   *uuid.UUID
	Metadata      map[string]any
	TotalDebit    decimal.Decimal
	TotalCredit   decimal.Decimal

	IsLocked   bool
	LockedBy   *uuid.UUID
	LockedAt   *time.Time
	LockReason string

	ReversedByID          *uuid.UUID
	ReversalOfID          *uuid.UUID
	CorrectsTransactionID *uuid.UUID
	AmendmentReason       string
	AmendedAt             *time.Time
	AmendedBy             *uuid.UUID

	PostedBy  uuid.UUID
	PostedAt  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time

	Lines []Line
}

// Line is a single debit or credit against an account. Amount is always
// positive; the side carries the sign.
type Line struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	AccountID     uuid.UUID
	LineNumber    int
	Side          EntrySide
	Amount        decimal.Decimal
	Description   string
}

// LineInput describes a journal line for a posting request.
type LineInput struct {
	AccountID   uuid.UUID
	Side        EntrySide
	Amount      decimal.Decimal
	Description string
}

// PostingInput groups everything required to create a transaction.
// CompanyID and ActorID are always explicit; nothing is resolved from
// ambient state.
type PostingInput struct {
	CompanyID     uuid.UUID
	Number        string
	Type          string
	Date          time.Time
	Currency      string
	BaseCurrency  string
	Description   string
	ReferenceType string
	ReferenceID   *uuid.UUID
	Metadata      map[string]any
	ReversalOfID  *uuid.UUID
	ActorID       uuid.UUID
	Lines         []LineInput
}

// ChainEntry is one node of an amendment chain, ordered root-first.
type ChainEntry struct {
	ID     uuid.UUID
	Number string
	Date   time.Time
	Type   string
	Status string
	Reason string
}

// ChainEntry status values.
const (
	ChainStatusActive   = "active"
	ChainStatusReversed = "reversed"
	ChainStatusReversal = "reversal"
)

var (
	// ErrTransactionNotFound indicates a missing ledger entry.
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	// ErrTooFewLines indicates a posting with fewer than two lines.
	ErrTooFewLines = errors.New("ledger: transaction requires at least one debit and one credit line")
	// ErrInvalidAccount indicates a line referencing an inactive or
	// foreign-company account.
	ErrInvalidAccount = errors.New("ledger: one or more accounts are invalid or inactive for this company")
	// ErrNotAmendable indicates the target is locked or already reversed.
	ErrNotAmendable = errors.New("ledger: entry cannot be amended; it may be locked or already reversed")
	// ErrNotLocked indicates an unlock on an unlocked transaction.
	ErrNotLocked = errors.New("ledger: transaction is not locked")
	// ErrAlreadyLocked indicates a lock on an already locked transaction.
	ErrAlreadyLocked = errors.New("ledger: transaction is already locked")
	// ErrChainCycle indicates an amendment chain loop or implausible depth.
	ErrChainCycle = errors.New("ledger: amendment chain cycle detected")
)

// UnbalancedError reports a debit/credit mismatch beyond BalanceTolerance.
type UnbalancedError struct {
	Imbalance decimal.Decimal
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("ledger: transaction out of balance by %s; debits must equal credits", e.Imbalance)
}

// DuplicateCloseError refuses a second original close for a date, directing
// the caller to the amendment flow. Deliberate business policy, not a bug.
type DuplicateCloseError struct {
	Type string
	Date time.Time
}

func (e *DuplicateCloseError) Error() string {
	return fmt.Sprintf("ledger: a %s entry already exists for %s; use the amendment flow to correct it",
		e.Type, e.Date.Format("2006-01-02"))
}

// Validate ensures a posting input meets the poster's minimum criteria.
func (in PostingInput) Validate() error {
	if in.CompanyID == uuid.Nil {
		return errors.New("ledger: company required")
	}
	if strings.TrimSpace(in.Number) == "" {
		return errors.New("ledger: transaction number required")
	}
	if in.Type == "" {
		return errors.New("ledger: transaction type required")
	}
	if in.Date.IsZero() {
		return errors.New("ledger: transaction date required")
	}
	if in.Currency == "" {
		return errors.New("ledger: currency required")
	}
	var debits, credits int
	for idx, line := range in.Lines {
		if line.AccountID == uuid.Nil {
			return fmt.Errorf("ledger: line %d missing account", idx)
		}
		if line.Side != SideDebit && line.Side != SideCredit {
			return fmt.Errorf("ledger: line %d has invalid side %q", idx, line.Side)
		}
		if !line.Amount.IsPositive() {
			return fmt.Errorf("ledger: line %d amount must be positive", idx)
		}
		if line.Side == SideDebit {
			debits++
		} else {
			credits++
		}
	}
	if debits == 0 || credits == 0 {
		return ErrTooFewLines
	}
	debit, credit := Totals(in.Lines)
	if imbalance := debit.Sub(credit); imbalance.Abs().GreaterThan(BalanceTolerance) {
		return &UnbalancedError{Imbalance: imbalance}
	}
	return nil
}

// Totals sums the debit and credit sides of a line set.
func Totals(lines []LineInput) (debit, credit decimal.Decimal) {
	for _, line := range lines {
		if line.Side == SideDebit {
			debit = debit.Add(line.Amount)
		} else {
			credit = credit.Add(line.Amount)
		}
	}
	return debit, credit
}

// IsAmendable reports whether the transaction may enter the amendment flow.
func (t Transaction) IsAmendable() bool {
	return !t.IsLocked && t.ReversedByID == nil && t.DeletedAt == nil
}

// ReverseLines mirrors a posted transaction's lines with sides flipped and
// descriptions prefixed for audit.
func ReverseLines(lines []Line) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		side := SideDebit
		if line.Side == SideDebit {
			side = SideCredit
		}
		out = append(out, LineInput{
			AccountID:   line.AccountID,
			Side:        side,
			Amount:      line.Amount,
			Description: "Reversal: " + line.Description,
		})
	}
	return out
}
