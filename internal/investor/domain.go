package investor

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// Lot status values.
const (
	StatusActive   = "active"
	StatusDepleted = "depleted"
)

// Investor is a capital partner entitled to fuel units against deposits.
// AccountID is the per-investor liability sub-account, created lazily on
// the first deposit.
type Investor struct {
	ID                    uuid.UUID
	CompanyID             uuid.UUID
	Name                  string
	AccountID             *uuid.UUID
	TotalInvested         decimal.Decimal
	TotalCommissionEarned decimal.Decimal
	TotalCommissionPaid   decimal.Decimal
	IsActive              bool
}

// OutstandingCommission is the earned-but-unpaid commission balance.
func (i Investor) OutstandingCommission() decimal.Decimal {
	return i.TotalCommissionEarned.Sub(i.TotalCommissionPaid)
}

// Lot is one investor deposit. The entitlement and commission rates are
// locked at deposit time; later rate changes never touch an existing lot.
type Lot struct {
	ID               uuid.UUID
	CompanyID        uuid.UUID
	InvestorID       uuid.UUID
	DepositDate      time.Time
	InvestmentAmount decimal.Decimal
	EntitlementRate  decimal.Decimal
	CommissionRate   decimal.Decimal
	UnitsEntitled    decimal.Decimal
	UnitsRemaining   decimal.Decimal
	CommissionEarned decimal.Decimal
	Status           string
	TransactionID    uuid.UUID
}

// CreateLotRequest describes a new investor deposit.
type CreateLotRequest struct {
	InvestorID  uuid.UUID       `json:"investor_id" validate:"required"`
	ItemID      uuid.UUID       `json:"item_id" validate:"required"`
	Amount      decimal.Decimal `json:"investment_amount"`
	DepositDate time.Time       `json:"deposit_date"`
}

// PayCommissionRequest describes a commission payout. PaymentAccountID
// overrides the default cash account when the payout leaves a bank
// account instead of the till.
type PayCommissionRequest struct {
	InvestorID       uuid.UUID       `json:"investor_id" validate:"required"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentDate      time.Time       `json:"payment_date"`
	PaymentAccountID uuid.UUID       `json:"payment_account_id"`
}

// LotConsumption records the units and commission drawn from one lot.
type LotConsumption struct {
	LotID      uuid.UUID       `json:"lot_id"`
	Units      decimal.Decimal `json:"units"`
	Commission decimal.Decimal `json:"commission"`
}

// ConsumeResult is the outcome of a FIFO draw across an investor's lots.
type ConsumeResult struct {
	Consumed   []LotConsumption `json:"consumed"`
	Commission decimal.Decimal  `json:"commission"`
}

// Summary aggregates investor positions for the dashboard.
type Summary struct {
	TotalInvestors        int             `json:"total_investors"`
	TotalInvested         decimal.Decimal `json:"total_invested"`
	TotalCommissionEarned decimal.Decimal `json:"total_commission_earned"`
	TotalCommissionPaid   decimal.Decimal `json:"total_commission_paid"`
	TotalOutstanding      decimal.Decimal `json:"total_outstanding"`
}

var (
	// ErrInvestorNotFound indicates an unknown or foreign-company investor.
	ErrInvestorNotFound = errors.New("investor: investor not found")
	// ErrNonPositiveAmount indicates a zero or negative money amount.
	ErrNonPositiveAmount = errors.New("investor: amount must be positive")
	// ErrNonPositiveUnits indicates a zero or negative unit demand.
	ErrNonPositiveUnits = errors.New("investor: units must be positive")
	// ErrNoCurrentRate indicates no purchase rate is on file for the fuel
	// item; rates must be set before deposits can be priced into units.
	ErrNoCurrentRate = errors.New("investor: no current rate found for fuel item; set rates first")
)

// InsufficientUnitsError refuses a draw that exceeds the investor's
// remaining units across all active lots. Nothing is consumed.
type InsufficientUnitsError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientUnitsError) Error() string {
	return fmt.Sprintf("investor: not enough units; requested %s, available %s",
		e.Requested, e.Available)
}

// ExcessCommissionError refuses a payout above the outstanding balance.
type ExcessCommissionError struct {
	Requested   decimal.Decimal
	Outstanding decimal.Decimal
}

func (e *ExcessCommissionError) Error() string {
	return fmt.Sprintf("investor: payment %s exceeds outstanding commission %s",
		e.Requested, e.Outstanding)
}

// Validate checks a deposit request.
func (r CreateLotRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if !r.Amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	return nil
}

// Validate checks a payout request.
func (r PayCommissionRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if !r.Amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	return nil
}
