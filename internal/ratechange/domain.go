package ratechange

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// RateChange is one regulated price announcement for a fuel item. Rows
// are immutable history; the latest row on or before a date is the rate
// in force.
type RateChange struct {
	ID                uuid.UUID
	CompanyID         uuid.UUID
	ItemID            uuid.UUID
	EffectiveDate     time.Time
	PurchaseRate      decimal.Decimal
	SaleRate          decimal.Decimal
	StockAtChange     decimal.Decimal
	PreviousAvgCost   decimal.Decimal
	MarginImpact      decimal.Decimal
	RevaluationAmount decimal.Decimal
	JournalEntryID    *uuid.UUID
	Notes             string
	CreatedBy         uuid.UUID
	CreatedAt         time.Time
}

// Margin is the per-liter spread between sale and purchase rate.
func (rc RateChange) Margin() decimal.Decimal {
	return rc.SaleRate.Sub(rc.PurchaseRate)
}

// CreateRequest describes a new regulated rate announcement.
type CreateRequest struct {
	ItemID        uuid.UUID        `json:"item_id" validate:"required"`
	EffectiveDate time.Time        `json:"effective_date"`
	PurchaseRate  decimal.Decimal  `json:"purchase_rate"`
	SaleRate      decimal.Decimal  `json:"sale_rate"`
	StockOverride *decimal.Decimal `json:"stock_quantity_at_change,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}

// Validate checks structural validity of the request.
func (r CreateRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if !r.PurchaseRate.IsPositive() || !r.SaleRate.IsPositive() {
		return ErrNonPositiveRate
	}
	return nil
}

var (
	// ErrNonPositiveRate indicates a zero or negative purchase or sale rate.
	ErrNonPositiveRate = errors.New("ratechange: rates must be positive")
	// ErrNotFuelItem refuses rate changes for items outside the fuel catalog.
	ErrNotFuelItem = errors.New("ratechange: item has no fuel category")
)
