package ratechange

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stationledger/stationledger/internal/coa"
	"github.com/stationledger/stationledger/internal/inventory"
	"github.com/stationledger/stationledger/internal/ledger"
	"github.com/stationledger/stationledger/internal/station"
)

type stubLedger struct {
	entries  []ledger.Transaction
	lines    map[uuid.UUID][]ledger.LineInput
	accounts map[uuid.UUID]bool
}

func newStubLedger() *stubLedger {
	return &stubLedger{
		lines:    map[uuid.UUID][]ledger.LineInput{},
		accounts: map[uuid.UUID]bool{},
	}
}

func (l *stubLedger) InsertTransaction(ctx context.Context, in ledger.PostingInput, totalDebit, totalCredit decimal.Decimal) (ledger.Transaction, error) {
	t := ledger.Transaction{
		ID: uuid.New(), CompanyID: in.CompanyID, Number: in.Number, Type: in.Type,
		Date: in.Date, Currency: in.Currency, Description: in.Description,
		ReferenceType: in.ReferenceType, ReferenceID: in.ReferenceID,
		Metadata: in.Metadata, TotalDebit: totalDebit, TotalCredit: totalCredit,
		PostedBy: in.ActorID,
	}
	l.entries = append(l.entries, t)
	return t, nil
}

func (l *stubLedger) InsertLines(ctx context.Context, companyID, transactionID uuid.UUID, lines []ledger.LineInput) error {
	l.lines[transactionID] = lines
	return nil
}

func (l *stubLedger) ValidateAccounts(ctx context.Context, companyID uuid.UUID, accountIDs []uuid.UUID) error {
	for _, id := range accountIDs {
		if !l.accounts[id] {
			return ledger.ErrInvalidAccount
		}
	}
	return nil
}

func (l *stubLedger) GetTransaction(ctx context.Context, companyID, id uuid.UUID) (ledger.Transaction, error) {
	return ledger.Transaction{}, errors.New("not implemented")
}

func (l *stubLedger) GetTransactionWithLines(ctx context.Context, companyID, id uuid.UUID) (ledger.Transaction, []ledger.Line, error) {
	return ledger.Transaction{}, nil, errors.New("not implemented")
}

func (l *stubLedger) CloseExists(ctx context.Context, companyID uuid.UUID, txType string, date time.Time) (bool, error) {
	return false, errors.New("not implemented")
}

func (l *stubLedger) NumberExists(ctx context.Context, companyID uuid.UUID, number string) (bool, error) {
	return false, errors.New("not implemented")
}

func (l *stubLedger) CorrectionNumbers(ctx context.Context, companyID uuid.UUID, base string) ([]string, error) {
	return nil, errors.New("not implemented")
}

func (l *stubLedger) MarkReversed(ctx context.Context, originalID, reversalID, actorID uuid.UUID, reason string, at time.Time) error {
	return errors.New("not implemented")
}

func (l *stubLedger) LinkCorrection(ctx context.Context, correctionID, originalID uuid.UUID, reason string) error {
	return errors.New("not implemented")
}

func (l *stubLedger) FindCorrectionOf(ctx context.Context, companyID, originalID uuid.UUID) (ledger.Transaction, bool, error) {
	return ledger.Transaction{}, false, errors.New("not implemented")
}

func (l *stubLedger) LatestUnreversed(ctx context.Context, companyID uuid.UUID, txType string, date time.Time) (ledger.Transaction, error) {
	return ledger.Transaction{}, errors.New("not implemented")
}

func (l *stubLedger) SetLock(ctx context.Context, companyID, id uuid.UUID, actorID *uuid.UUID, reason string, locked bool, at time.Time) error {
	return errors.New("not implemented")
}

func (l *stubLedger) LockRange(ctx context.Context, companyID uuid.UUID, txType string, from, to time.Time, actorID uuid.UUID, reason string, at time.Time) (int64, error) {
	return 0, errors.New("not implemented")
}

func (l *stubLedger) RecentByType(ctx context.Context, companyID uuid.UUID, txType string, since time.Time) ([]ledger.Transaction, error) {
	return nil, errors.New("not implemented")
}

func (l *stubLedger) AdvisoryLock(ctx context.Context, key int64) error { return nil }

type memChart struct {
	gl     *stubLedger
	byCode map[string]coa.Account
}

func (c *memChart) ActiveByCode(ctx context.Context, companyID uuid.UUID, code string) (coa.Account, bool, error) {
	a, ok := c.byCode[code]
	return a, ok, nil
}

func (c *memChart) ActiveByCodeAndName(ctx context.Context, companyID uuid.UUID, code, namePattern string) (coa.Account, bool, error) {
	return coa.Account{}, false, nil
}

func (c *memChart) FirstBySubtype(ctx context.Context, companyID uuid.UUID, subtype string, order coa.Order) (coa.Account, bool, error) {
	return coa.Account{}, false, nil
}

func (c *memChart) FirstByType(ctx context.Context, companyID uuid.UUID, accType string, order coa.Order) (coa.Account, bool, error) {
	return coa.Account{}, false, nil
}

func (c *memChart) FirstByName(ctx context.Context, companyID uuid.UUID, accType, namePattern string) (coa.Account, bool, error) {
	return coa.Account{}, false, nil
}

func (c *memChart) InsertIfAbsent(ctx context.Context, a coa.Account) error {
	return errors.New("not implemented")
}

func (c *memChart) add(code string) uuid.UUID {
	a := coa.Account{ID: uuid.New(), Code: code, IsActive: true}
	c.byCode[code] = a
	c.gl.accounts[a.ID] = true
	return a.ID
}

type memStock struct {
	items map[uuid.UUID]*inventory.Item
}

func (m *memStock) GetItemForUpdate(ctx context.Context, companyID, itemID uuid.UUID) (inventory.Item, error) {
	item, ok := m.items[itemID]
	if !ok {
		return inventory.Item{}, inventory.ErrItemNotFound
	}
	return *item, nil
}

func (m *memStock) UpdateItemStock(ctx context.Context, companyID, itemID uuid.UUID, stock, avgCost decimal.Decimal) error {
	item, ok := m.items[itemID]
	if !ok {
		return inventory.ErrItemNotFound
	}
	item.CurrentStock = stock
	item.AvgCost = avgCost
	return nil
}

func (m *memStock) InsertMovement(ctx context.Context, mv inventory.StockMovement) error {
	return errors.New("not implemented")
}

func (m *memStock) GetTank(ctx context.Context, companyID, tankID uuid.UUID) (inventory.Tank, error) {
	return inventory.Tank{}, errors.New("not implemented")
}

func (m *memStock) TankMovementTotals(ctx context.Context, companyID, tankID uuid.UUID, from, to time.Time) (inventory.MovementTotals, error) {
	return inventory.MovementTotals{}, errors.New("not implemented")
}

type memRepo struct {
	gl      *stubLedger
	chart   *memChart
	stock   *memStock
	changes []*RateChange
	seq     int64
}

func newMemRepo() *memRepo {
	gl := newStubLedger()
	return &memRepo{
		gl:    gl,
		chart: &memChart{gl: gl, byCode: map[string]coa.Account{}},
		stock: &memStock{items: map[uuid.UUID]*inventory.Item{}},
	}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memRepo) Ledger() ledger.TxRepository   { return r.gl }
func (r *memRepo) Stock() inventory.TxRepository { return r.stock }
func (r *memRepo) Accounts() coa.AccountStore    { return r.chart }

func (r *memRepo) Settings(ctx context.Context, companyID uuid.UUID) (station.Settings, error) {
	return station.Settings{}, nil
}

func (r *memRepo) InsertRateChange(ctx context.Context, rc RateChange) (RateChange, error) {
	r.seq++
	rc.ID = uuid.New()
	rc.CreatedAt = time.Unix(r.seq, 0)
	copied := rc
	r.changes = append(r.changes, &copied)
	return rc, nil
}

func (r *memRepo) LatestEffective(ctx context.Context, companyID, itemID uuid.UUID, asOf time.Time) (RateChange, bool, error) {
	var candidates []*RateChange
	for _, rc := range r.changes {
		if rc.ItemID == itemID && !rc.EffectiveDate.After(asOf) {
			candidates = append(candidates, rc)
		}
	}
	if len(candidates) == 0 {
		return RateChange{}, false, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].EffectiveDate.Equal(candidates[j].EffectiveDate) {
			return candidates[i].EffectiveDate.After(candidates[j].EffectiveDate)
		}
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return *candidates[0], true, nil
}

func (r *memRepo) SetJournalEntry(ctx context.Context, companyID, rateChangeID, transactionID uuid.UUID) error {
	for _, rc := range r.changes {
		if rc.ID == rateChangeID {
			id := transactionID
			rc.JournalEntryID = &id
			return nil
		}
	}
	return errors.New("rate change not found")
}

func (r *memRepo) History(ctx context.Context, companyID, itemID uuid.UUID, limit int) ([]RateChange, error) {
	var out []RateChange
	for _, rc := range r.changes {
		if rc.ItemID == itemID {
			out = append(out, *rc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectiveDate.After(out[j].EffectiveDate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) seedChange(itemID uuid.UUID, effective time.Time, purchase, sale string) {
	r.seq++
	r.changes = append(r.changes, &RateChange{
		ID:            uuid.New(),
		CompanyID:     testCompany,
		ItemID:        itemID,
		EffectiveDate: effective,
		PurchaseRate:  dec(purchase),
		SaleRate:      dec(sale),
		CreatedAt:     time.Unix(r.seq, 0),
	})
}

func (r *memRepo) addItem(name, category, avgCost, stock string) uuid.UUID {
	id := uuid.New()
	r.stock.items[id] = &inventory.Item{
		ID:           id,
		CompanyID:    testCompany,
		Name:         name,
		FuelCategory: category,
		AvgCost:      dec(avgCost),
		CurrentStock: dec(stock),
		IsActive:     true,
	}
	return id
}

var (
	testCompany = uuid.New()
	testActor   = uuid.New()
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func date(month time.Month, d int) time.Time {
	return time.Date(2024, month, d, 0, 0, 0, 0, time.UTC)
}

func testService(repo *memRepo) *Service {
	svc := NewService(repo, nil, nil)
	svc.WithNow(func() time.Time { return date(time.February, 10).Add(9 * time.Hour) })
	return svc
}

func TestCreateWithRevaluationGain(t *testing.T) {
	repo := newMemRepo()
	itemID := repo.addItem("Petrol", "petrol", "200", "1000")
	inventoryAcc := repo.chart.add("1200")
	gainAcc := repo.chart.add("4900")

	got, err := testService(repo).CreateWithRevaluation(context.Background(), testCompany, CreateRequest{
		ItemID:        itemID,
		EffectiveDate: date(time.February, 1),
		PurchaseRate:  dec("210"),
		SaleRate:      dec("262"),
	}, testActor)
	require.NoError(t, err)

	require.True(t, got.RevaluationAmount.Equal(dec("10000")))
	require.True(t, got.PreviousAvgCost.Equal(dec("200")))
	require.NotNil(t, got.JournalEntryID)

	require.Len(t, repo.gl.entries, 1)
	entry := repo.gl.entries[0]
	require.Equal(t, "REVAL-"+strings.ToUpper(got.ID.String()[:8]), entry.Number)
	require.Equal(t, ledger.TypeRevaluation, entry.Type)
	require.True(t, entry.TotalDebit.Equal(entry.TotalCredit))

	lines := repo.gl.lines[entry.ID]
	require.Len(t, lines, 2)
	require.Equal(t, inventoryAcc, lines[0].AccountID)
	require.Equal(t, ledger.SideDebit, lines[0].Side)
	require.Equal(t, gainAcc, lines[1].AccountID)
	require.Equal(t, ledger.SideCredit, lines[1].Side)
	require.True(t, lines[0].Amount.Equal(dec("10000")))

	require.True(t, repo.stock.items[itemID].AvgCost.Equal(dec("210")))
}

func TestCreateWithRevaluationLoss(t *testing.T) {
	repo := newMemRepo()
	itemID := repo.addItem("Diesel", "diesel", "200", "1000")
	repo.chart.add("1200")
	lossAcc := repo.chart.add("6300")

	got, err := testService(repo).CreateWithRevaluation(context.Background(), testCompany, CreateRequest{
		ItemID:        itemID,
		EffectiveDate: date(time.February, 1),
		PurchaseRate:  dec("190"),
		SaleRate:      dec("240"),
	}, testActor)
	require.NoError(t, err)

	require.True(t, got.RevaluationAmount.Equal(dec("-10000")))
	require.Len(t, repo.gl.entries, 1)
	lines := repo.gl.lines[repo.gl.entries[0].ID]
	require.Len(t, lines, 2)
	require.Equal(t, lossAcc, lines[0].AccountID)
	require.Equal(t, ledger.SideDebit, lines[0].Side)
	require.Equal(t, ledger.SideCredit, lines[1].Side)
	require.True(t, lines[0].Amount.Equal(dec("10000")))
	require.True(t, repo.stock.items[itemID].AvgCost.Equal(dec("190")))
}

func TestCreateZeroStockSkipsPosting(t *testing.T) {
	repo := newMemRepo()
	itemID := repo.addItem("Petrol", "petrol", "200", "0")

	got, err := testService(repo).CreateWithRevaluation(context.Background(), testCompany, CreateRequest{
		ItemID:        itemID,
		EffectiveDate: date(time.February, 1),
		PurchaseRate:  dec("210"),
		SaleRate:      dec("262"),
	}, testActor)
	require.NoError(t, err)

	require.True(t, got.RevaluationAmount.IsZero())
	require.Nil(t, got.JournalEntryID)
	require.Empty(t, repo.gl.entries)
	require.True(t, repo.stock.items[itemID].AvgCost.Equal(dec("210")))
}

func TestCreateTinyRevaluationSkipsPosting(t *testing.T) {
	repo := newMemRepo()
	itemID := repo.addItem("Petrol", "petrol", "200", "1")

	got, err := testService(repo).CreateWithRevaluation(context.Background(), testCompany, CreateRequest{
		ItemID:        itemID,
		EffectiveDate: date(time.February, 1),
		PurchaseRate:  dec("200.01"),
		SaleRate:      dec("250"),
	}, testActor)
	require.NoError(t, err)

	require.True(t, got.RevaluationAmount.Equal(dec("0.01")))
	require.Nil(t, got.JournalEntryID)
	require.Empty(t, repo.gl.entries)
	require.True(t, repo.stock.items[itemID].AvgCost.Equal(dec("200.01")))
}

func TestCreateRecordsMarginImpact(t *testing.T) {
	repo := newMemRepo()
	itemID := repo.addItem("Petrol", "petrol", "200", "1000")
	repo.chart.add("1200")
	repo.chart.add("4900")
	repo.seedChange(itemID, date(time.January, 1), "200", "250")

	got, err := testService(repo).CreateWithRevaluation(context.Background(), testCompany, CreateRequest{
		ItemID:        itemID,
		EffectiveDate: date(time.February, 1),
		PurchaseRate:  dec("210"),
		SaleRate:      dec("265"),
	}, testActor)
	require.NoError(t, err)

	// Margin moves from 50 to 55 across 1000 liters on hand.
	require.True(t, got.MarginImpact.Equal(dec("5000")))
}

func TestCreateRefusesNonFuelItem(t *testing.T) {
	repo := newMemRepo()
	itemID := repo.addItem("Engine Oil 1L", "", "800", "40")

	_, err := testService(repo).CreateWithRevaluation(context.Background(), testCompany, CreateRequest{
		ItemID:        itemID,
		EffectiveDate: date(time.February, 1),
		PurchaseRate:  dec("850"),
		SaleRate:      dec("950"),
	}, testActor)

	require.ErrorIs(t, err, ErrNotFuelItem)
	require.Empty(t, repo.gl.entries)
	require.True(t, repo.stock.items[itemID].AvgCost.Equal(dec("800")))
}

func TestCreateRequestValidation(t *testing.T) {
	repo := newMemRepo()
	svc := testService(repo)

	_, err := svc.CreateWithRevaluation(context.Background(), testCompany, CreateRequest{
		ItemID:       uuid.New(),
		PurchaseRate: decimal.Zero,
		SaleRate:     dec("250"),
	}, testActor)
	require.ErrorIs(t, err, ErrNonPositiveRate)

	_, err = svc.CreateWithRevaluation(context.Background(), testCompany, CreateRequest{
		PurchaseRate: dec("200"),
		SaleRate:     dec("250"),
	}, testActor)
	require.Error(t, err)
}

func TestRateLookups(t *testing.T) {
	repo := newMemRepo()
	itemID := uuid.New()
	repo.seedChange(itemID, date(time.January, 1), "200", "250")
	repo.seedChange(itemID, date(time.February, 1), "210", "262")
	svc := testService(repo)

	sale, found, err := svc.SaleRateOn(context.Background(), testCompany, itemID, date(time.January, 15))
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, sale.Equal(dec("250")))

	// Clock is pinned past the February change.
	rate, found, err := svc.CurrentRate(context.Background(), testCompany, itemID)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, rate.Purchase.Equal(dec("210")))
	require.True(t, rate.Margin.Equal(dec("52")))

	_, found, err = svc.SaleRateOn(context.Background(), testCompany, itemID, date(time.January, 1).AddDate(0, 0, -1))
	require.NoError(t, err)
	require.False(t, found)
}

func TestHistoryNewestFirst(t *testing.T) {
	repo := newMemRepo()
	itemID := uuid.New()
	repo.seedChange(itemID, date(time.January, 1), "200", "250")
	repo.seedChange(itemID, date(time.February, 1), "210", "262")

	got, err := testService(repo).History(context.Background(), testCompany, itemID, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got[0].PurchaseRate.Equal(dec("210")))
}
