package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service coordinates inventory movements.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// MovementInput describes one stock movement request.
type MovementInput struct {
	CompanyID uuid.UUID
	ItemID    uuid.UUID
	TankID    *uuid.UUID
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	Date      time.Time
	RefModule string
	RefID     *uuid.UUID
	Note      string
	ActorID   uuid.UUID
}

// ApplyReceipt records an inbound delivery inside the caller's scope:
// stock goes up and the weighted average cost absorbs the new units.
func ApplyReceipt(ctx context.Context, tx TxRepository, in MovementInput) (Item, error) {
	if !in.Quantity.IsPositive() {
		return Item{}, ErrInvalidQuantity
	}
	if in.UnitCost.IsNegative() {
		return Item{}, ErrInvalidUnitCost
	}
	item, err := tx.GetItemForUpdate(ctx, in.CompanyID, in.ItemID)
	if err != nil {
		return Item{}, err
	}
	newAvg := WeightedAverageCost(item.CurrentStock, item.AvgCost, in.Quantity, in.UnitCost)
	newStock := item.CurrentStock.Add(in.Quantity)
	if err := tx.UpdateItemStock(ctx, in.CompanyID, in.ItemID, newStock, newAvg); err != nil {
		return Item{}, err
	}
	if err := tx.InsertMovement(ctx, movement(in, MovementReceipt, in.UnitCost)); err != nil {
		return Item{}, err
	}
	item.CurrentStock = newStock
	item.AvgCost = newAvg
	return item, nil
}

// ApplySale decrements stock for dispensed fuel at the current average
// cost. The average never moves on an outbound movement.
func ApplySale(ctx context.Context, tx TxRepository, in MovementInput) (Item, error) {
	if !in.Quantity.IsPositive() {
		return Item{}, ErrInvalidQuantity
	}
	item, err := tx.GetItemForUpdate(ctx, in.CompanyID, in.ItemID)
	if err != nil {
		return Item{}, err
	}
	newStock := item.CurrentStock.Sub(in.Quantity)
	if err := tx.UpdateItemStock(ctx, in.CompanyID, in.ItemID, newStock, item.AvgCost); err != nil {
		return Item{}, err
	}
	if err := tx.InsertMovement(ctx, movement(in, MovementSale, item.AvgCost)); err != nil {
		return Item{}, err
	}
	item.CurrentStock = newStock
	return item, nil
}

// ApplyAdjustment corrects stock by a signed quantity (variance write-off
// or gain). Negative stock is allowed here; a dip measurement is the
// ground truth the adjustment reconciles against.
func ApplyAdjustment(ctx context.Context, tx TxRepository, in MovementInput) (Item, error) {
	if in.Quantity.IsZero() {
		return Item{}, ErrInvalidQuantity
	}
	item, err := tx.GetItemForUpdate(ctx, in.CompanyID, in.ItemID)
	if err != nil {
		return Item{}, err
	}
	newStock := item.CurrentStock.Add(in.Quantity)
	if err := tx.UpdateItemStock(ctx, in.CompanyID, in.ItemID, newStock, item.AvgCost); err != nil {
		return Item{}, err
	}
	m := movement(in, MovementAdjustment, item.AvgCost)
	m.Quantity = in.Quantity.Abs()
	if err := tx.InsertMovement(ctx, m); err != nil {
		return Item{}, err
	}
	item.CurrentStock = newStock
	return item, nil
}

// SetAvgCost overwrites an item's average cost without touching stock.
// Used by regulated rate changes, which always reset the cost basis.
func SetAvgCost(ctx context.Context, tx TxRepository, companyID, itemID uuid.UUID, avgCost decimal.Decimal) (Item, error) {
	item, err := tx.GetItemForUpdate(ctx, companyID, itemID)
	if err != nil {
		return Item{}, err
	}
	if err := tx.UpdateItemStock(ctx, companyID, itemID, item.CurrentStock, avgCost); err != nil {
		return Item{}, err
	}
	item.AvgCost = avgCost
	return item, nil
}

// RecordReceipt runs ApplyReceipt in its own atomic scope.
func (s *Service) RecordReceipt(ctx context.Context, in MovementInput) (Item, error) {
	if in.Date.IsZero() {
		in.Date = s.now()
	}
	var item Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		item, err = ApplyReceipt(ctx, tx, in)
		return err
	})
	return item, err
}

// RecordSale runs ApplySale in its own atomic scope.
func (s *Service) RecordSale(ctx context.Context, in MovementInput) (Item, error) {
	if in.Date.IsZero() {
		in.Date = s.now()
	}
	var item Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		item, err = ApplySale(ctx, tx, in)
		return err
	})
	return item, err
}

func movement(in MovementInput, mType MovementType, unitCost decimal.Decimal) StockMovement {
	return StockMovement{
		CompanyID:    in.CompanyID,
		ItemID:       in.ItemID,
		TankID:       in.TankID,
		Type:         mType,
		Quantity:     in.Quantity,
		UnitCost:     unitCost,
		MovementDate: in.Date,
		RefModule:    in.RefModule,
		RefID:        in.RefID,
		Note:         in.Note,
		CreatedBy:    in.ActorID,
	}
}
