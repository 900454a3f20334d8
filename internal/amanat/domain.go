package amanat

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// Amanat transaction types.
const (
	TypeDeposit      = "deposit"
	TypeWithdrawal   = "withdrawal"
	TypeFuelPurchase = "fuel_purchase"
)

// Profile is a customer's trust-deposit position. The balance is fuel
// money held on the customer's behalf and never goes negative.
type Profile struct {
	CompanyID      uuid.UUID
	CustomerID     uuid.UUID
	CustomerName   string
	IsAmanatHolder bool
	Balance        decimal.Decimal
}

// Transaction is one amanat movement, linked to the GL entry that booked
// it.
type Transaction struct {
	ID            uuid.UUID
	CompanyID     uuid.UUID
	CustomerID    uuid.UUID
	Type          string
	Amount        decimal.Decimal
	FuelItemID    *uuid.UUID
	FuelQuantity  decimal.Decimal
	Reference     string
	Notes         string
	RecordedBy    uuid.UUID
	TransactionID uuid.UUID
	CreatedAt     time.Time
}

// DepositRequest adds money to a customer's amanat balance.
type DepositRequest struct {
	CustomerID uuid.UUID       `json:"customer_id" validate:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Reference  string          `json:"reference,omitempty"`
	Notes      string          `json:"notes,omitempty"`
}

// Validate checks structural validity of the request.
func (r DepositRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if !r.Amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	return nil
}

// WithdrawRequest returns money from a customer's amanat balance.
type WithdrawRequest struct {
	CustomerID uuid.UUID       `json:"customer_id" validate:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Reference  string          `json:"reference,omitempty"`
	Notes      string          `json:"notes,omitempty"`
}

// Validate checks structural validity of the request.
func (r WithdrawRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if !r.Amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	return nil
}

// FuelPurchaseRequest draws down an amanat balance against fuel taken.
type FuelPurchaseRequest struct {
	CustomerID uuid.UUID       `json:"customer_id" validate:"required"`
	ItemID     uuid.UUID       `json:"item_id" validate:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Quantity   decimal.Decimal `json:"quantity"`
	Reference  string          `json:"reference,omitempty"`
}

// Validate checks structural validity of the request.
func (r FuelPurchaseRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if !r.Amount.IsPositive() || !r.Quantity.IsPositive() {
		return ErrNonPositiveAmount
	}
	return nil
}

// Summary is the dashboard view across all amanat holders.
type Summary struct {
	TotalHolders int             `json:"total_holders"`
	TotalBalance decimal.Decimal `json:"total_balance"`
}

var (
	// ErrNonPositiveAmount indicates a zero or negative amount or quantity.
	ErrNonPositiveAmount = errors.New("amanat: amount must be positive")
	// ErrInsufficientBalance refuses draws beyond the held balance.
	ErrInsufficientBalance = errors.New("amanat: amount exceeds available balance")
	// ErrCustomerNotFound indicates an unknown customer.
	ErrCustomerNotFound = errors.New("amanat: customer not found")
)
