package inventory

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementReceipt represents an inbound fuel delivery.
	MovementReceipt MovementType = "receipt"
	// MovementSale represents stock dispensed through nozzles.
	MovementSale MovementType = "sale"
	// MovementAdjustment covers variance corrections.
	MovementAdjustment MovementType = "adjustment"
)

// Item is a sellable fuel (or lubricant) product carrying its weighted
// average cost and live stock position.
type Item struct {
	ID           uuid.UUID
	CompanyID    uuid.UUID
	Name         string
	FuelCategory string
	Unit         string
	AvgCost      decimal.Decimal
	SaleRate     decimal.Decimal
	CurrentStock decimal.Decimal
	IsActive     bool
	UpdatedAt    time.Time
}

// Tank is a physical storage tank bound to one fuel item.
type Tank struct {
	ID             uuid.UUID
	CompanyID      uuid.UUID
	Name           string
	ItemID         uuid.UUID
	CapacityLiters decimal.Decimal
	IsActive       bool
}

// StockMovement is one stock ledger row. Quantity is always positive; the
// movement type carries the direction.
type StockMovement struct {
	ID           uuid.UUID
	CompanyID    uuid.UUID
	ItemID       uuid.UUID
	TankID       *uuid.UUID
	Type         MovementType
	Quantity     decimal.Decimal
	UnitCost     decimal.Decimal
	MovementDate time.Time
	RefModule    string
	RefID        *uuid.UUID
	Note         string
	CreatedBy    uuid.UUID
	CreatedAt    time.Time
}

// MovementTotals aggregates tank throughput over a window for the
// variance engine.
type MovementTotals struct {
	Receipts  decimal.Decimal
	Dispensed decimal.Decimal
}

var (
	// ErrItemNotFound indicates an unknown or inactive item.
	ErrItemNotFound = errors.New("inventory: item not found")
	// ErrTankNotFound indicates an unknown tank.
	ErrTankNotFound = errors.New("inventory: tank not found")
	// ErrInvalidQuantity indicates a zero or negative quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative cost value.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
)

// WeightedAverageCost folds a receipt into the running average. Zero or
// negative resulting stock keeps the incoming unit cost.
func WeightedAverageCost(currentStock, currentAvg, receiptQty, receiptCost decimal.Decimal) decimal.Decimal {
	newQty := currentStock.Add(receiptQty)
	if !newQty.IsPositive() {
		return receiptCost
	}
	total := currentStock.Mul(currentAvg).Add(receiptQty.Mul(receiptCost))
	return total.Div(newQty)
}
