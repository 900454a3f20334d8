package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryStock struct {
	items     map[uuid.UUID]*Item
	tanks     map[uuid.UUID]Tank
	movements []StockMovement
}

func newMemoryStock() *memoryStock {
	return &memoryStock{
		items: make(map[uuid.UUID]*Item),
		tanks: make(map[uuid.UUID]Tank),
	}
}

func (r *memoryStock) addItem(company uuid.UUID, stock, avgCost float64) uuid.UUID {
	item := &Item{
		ID:           uuid.New(),
		CompanyID:    company,
		Name:         "Petrol",
		FuelCategory: "petrol",
		Unit:         "liter",
		AvgCost:      decimal.NewFromFloat(avgCost),
		CurrentStock: decimal.NewFromFloat(stock),
		IsActive:     true,
	}
	r.items[item.ID] = item
	return item.ID
}

func (r *memoryStock) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryStock) GetItemForUpdate(ctx context.Context, companyID, itemID uuid.UUID) (Item, error) {
	item, ok := r.items[itemID]
	if !ok || item.CompanyID != companyID {
		return Item{}, ErrItemNotFound
	}
	return *item, nil
}

func (r *memoryStock) UpdateItemStock(ctx context.Context, companyID, itemID uuid.UUID, stock, avgCost decimal.Decimal) error {
	item, ok := r.items[itemID]
	if !ok {
		return ErrItemNotFound
	}
	item.CurrentStock = stock
	item.AvgCost = avgCost
	return nil
}

func (r *memoryStock) InsertMovement(ctx context.Context, m StockMovement) error {
	r.movements = append(r.movements, m)
	return nil
}

func (r *memoryStock) GetTank(ctx context.Context, companyID, tankID uuid.UUID) (Tank, error) {
	tank, ok := r.tanks[tankID]
	if !ok {
		return Tank{}, ErrTankNotFound
	}
	return tank, nil
}

func (r *memoryStock) TankMovementTotals(ctx context.Context, companyID, tankID uuid.UUID, from, to time.Time) (MovementTotals, error) {
	var totals MovementTotals
	for _, m := range r.movements {
		if m.TankID == nil || *m.TankID != tankID {
			continue
		}
		if m.MovementDate.Before(from) || !m.MovementDate.Before(to) {
			continue
		}
		switch m.Type {
		case MovementReceipt:
			totals.Receipts = totals.Receipts.Add(m.Quantity)
		case MovementSale:
			totals.Dispensed = totals.Dispensed.Add(m.Quantity)
		}
	}
	return totals, nil
}

func TestApplyReceiptBlendsWeightedAverage(t *testing.T) {
	repo := newMemoryStock()
	company := uuid.New()
	itemID := repo.addItem(company, 1000, 200)

	item, err := ApplyReceipt(context.Background(), repo, MovementInput{
		CompanyID: company,
		ItemID:    itemID,
		Quantity:  decimal.NewFromInt(1000),
		UnitCost:  decimal.NewFromInt(220),
		Date:      time.Now(),
		ActorID:   uuid.New(),
	})
	require.NoError(t, err)
	require.True(t, item.CurrentStock.Equal(decimal.NewFromInt(2000)))
	require.True(t, item.AvgCost.Equal(decimal.NewFromInt(210)), "avg cost %s", item.AvgCost)
	require.Len(t, repo.movements, 1)
	require.Equal(t, MovementReceipt, repo.movements[0].Type)
}

func TestApplyReceiptIntoEmptyStockTakesReceiptCost(t *testing.T) {
	repo := newMemoryStock()
	company := uuid.New()
	itemID := repo.addItem(company, 0, 0)

	item, err := ApplyReceipt(context.Background(), repo, MovementInput{
		CompanyID: company,
		ItemID:    itemID,
		Quantity:  decimal.NewFromInt(500),
		UnitCost:  decimal.NewFromFloat(253.50),
		Date:      time.Now(),
	})
	require.NoError(t, err)
	require.True(t, item.AvgCost.Equal(decimal.NewFromFloat(253.50)))
}

func TestApplySaleKeepsAverageCost(t *testing.T) {
	repo := newMemoryStock()
	company := uuid.New()
	itemID := repo.addItem(company, 1000, 210)

	item, err := ApplySale(context.Background(), repo, MovementInput{
		CompanyID: company,
		ItemID:    itemID,
		Quantity:  decimal.NewFromInt(300),
		Date:      time.Now(),
	})
	require.NoError(t, err)
	require.True(t, item.CurrentStock.Equal(decimal.NewFromInt(700)))
	require.True(t, item.AvgCost.Equal(decimal.NewFromInt(210)))
	require.Equal(t, MovementSale, repo.movements[0].Type)
	require.True(t, repo.movements[0].UnitCost.Equal(decimal.NewFromInt(210)), "sale priced at average cost")
}

func TestApplySaleRejectsNonPositiveQuantity(t *testing.T) {
	repo := newMemoryStock()
	company := uuid.New()
	itemID := repo.addItem(company, 100, 200)

	_, err := ApplySale(context.Background(), repo, MovementInput{
		CompanyID: company,
		ItemID:    itemID,
		Quantity:  decimal.Zero,
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestApplyAdjustmentSignsStock(t *testing.T) {
	repo := newMemoryStock()
	company := uuid.New()
	itemID := repo.addItem(company, 1000, 200)

	item, err := ApplyAdjustment(context.Background(), repo, MovementInput{
		CompanyID: company,
		ItemID:    itemID,
		Quantity:  decimal.NewFromFloat(-12.5),
		Date:      time.Now(),
	})
	require.NoError(t, err)
	require.True(t, item.CurrentStock.Equal(decimal.NewFromFloat(987.5)))
	require.True(t, repo.movements[0].Quantity.Equal(decimal.NewFromFloat(12.5)), "movement quantity stored unsigned")
}

func TestSetAvgCostLeavesStockAlone(t *testing.T) {
	repo := newMemoryStock()
	company := uuid.New()
	itemID := repo.addItem(company, 800, 200)

	item, err := SetAvgCost(context.Background(), repo, company, itemID, decimal.NewFromInt(225))
	require.NoError(t, err)
	require.True(t, item.AvgCost.Equal(decimal.NewFromInt(225)))
	require.True(t, item.CurrentStock.Equal(decimal.NewFromInt(800)))
	require.Empty(t, repo.movements)
}
