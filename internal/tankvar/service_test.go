package tankvar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stationledger/stationledger/internal/coa"
	"github.com/stationledger/stationledger/internal/inventory"
	"github.com/stationledger/stationledger/internal/ledger"
)

type stubStock struct {
	item   inventory.Item
	tank   inventory.Tank
	totals inventory.MovementTotals
}

func (s *stubStock) GetItemForUpdate(ctx context.Context, companyID, itemID uuid.UUID) (inventory.Item, error) {
	return s.item, nil
}

func (s *stubStock) UpdateItemStock(ctx context.Context, companyID, itemID uuid.UUID, stock, avgCost decimal.Decimal) error {
	return errors.New("not implemented")
}

func (s *stubStock) InsertMovement(ctx context.Context, m inventory.StockMovement) error {
	return errors.New("not implemented")
}

func (s *stubStock) GetTank(ctx context.Context, companyID, tankID uuid.UUID) (inventory.Tank, error) {
	return s.tank, nil
}

func (s *stubStock) TankMovementTotals(ctx context.Context, companyID, tankID uuid.UUID, from, to time.Time) (inventory.MovementTotals, error) {
	return s.totals, nil
}

type stubLedger struct {
	posted []ledger.PostingInput
}

func (l *stubLedger) InsertTransaction(ctx context.Context, in ledger.PostingInput, totalDebit, totalCredit decimal.Decimal) (ledger.Transaction, error) {
	l.posted = append(l.posted, in)
	return ledger.Transaction{ID: uuid.New(), CompanyID: in.CompanyID, Number: in.Number, Type: in.Type, Date: in.Date}, nil
}

func (l *stubLedger) InsertLines(ctx context.Context, companyID, transactionID uuid.UUID, lines []ledger.LineInput) error {
	return nil
}

func (l *stubLedger) GetTransaction(ctx context.Context, companyID, id uuid.UUID) (ledger.Transaction, error) {
	return ledger.Transaction{}, errors.New("not implemented")
}

func (l *stubLedger) GetTransactionWithLines(ctx context.Context, companyID, id uuid.UUID) (ledger.Transaction, []ledger.Line, error) {
	return ledger.Transaction{}, nil, errors.New("not implemented")
}

func (l *stubLedger) ValidateAccounts(ctx context.Context, companyID uuid.UUID, accountIDs []uuid.UUID) error {
	return nil
}

func (l *stubLedger) CloseExists(ctx context.Context, companyID uuid.UUID, txType string, date time.Time) (bool, error) {
	return false, nil
}

func (l *stubLedger) NumberExists(ctx context.Context, companyID uuid.UUID, number string) (bool, error) {
	return false, nil
}

func (l *stubLedger) CorrectionNumbers(ctx context.Context, companyID uuid.UUID, base string) ([]string, error) {
	return nil, nil
}

func (l *stubLedger) MarkReversed(ctx context.Context, originalID, reversalID, actorID uuid.UUID, reason string, at time.Time) error {
	return errors.New("not implemented")
}

func (l *stubLedger) LinkCorrection(ctx context.Context, correctionID, originalID uuid.UUID, reason string) error {
	return errors.New("not implemented")
}

func (l *stubLedger) FindCorrectionOf(ctx context.Context, companyID, originalID uuid.UUID) (ledger.Transaction, bool, error) {
	return ledger.Transaction{}, false, nil
}

func (l *stubLedger) LatestUnreversed(ctx context.Context, companyID uuid.UUID, txType string, date time.Time) (ledger.Transaction, error) {
	return ledger.Transaction{}, ledger.ErrTransactionNotFound
}

func (l *stubLedger) SetLock(ctx context.Context, companyID, id uuid.UUID, actorID *uuid.UUID, reason string, locked bool, at time.Time) error {
	return errors.New("not implemented")
}

func (l *stubLedger) LockRange(ctx context.Context, companyID uuid.UUID, txType string, from, to time.Time, actorID uuid.UUID, reason string, at time.Time) (int64, error) {
	return 0, errors.New("not implemented")
}

func (l *stubLedger) RecentByType(ctx context.Context, companyID uuid.UUID, txType string, since time.Time) ([]ledger.Transaction, error) {
	return nil, nil
}

func (l *stubLedger) AdvisoryLock(ctx context.Context, key int64) error { return nil }

type stubAccounts struct {
	byCode map[string]coa.Account
}

func (a *stubAccounts) ActiveByCode(ctx context.Context, companyID uuid.UUID, code string) (coa.Account, bool, error) {
	acc, ok := a.byCode[code]
	return acc, ok, nil
}

func (a *stubAccounts) ActiveByCodeAndName(ctx context.Context, companyID uuid.UUID, code, namePattern string) (coa.Account, bool, error) {
	return coa.Account{}, false, nil
}

func (a *stubAccounts) FirstBySubtype(ctx context.Context, companyID uuid.UUID, subtype string, order coa.Order) (coa.Account, bool, error) {
	return coa.Account{}, false, nil
}

func (a *stubAccounts) FirstByType(ctx context.Context, companyID uuid.UUID, accType string, order coa.Order) (coa.Account, bool, error) {
	return coa.Account{}, false, nil
}

func (a *stubAccounts) FirstByName(ctx context.Context, companyID uuid.UUID, accType, namePattern string) (coa.Account, bool, error) {
	return coa.Account{}, false, nil
}

func (a *stubAccounts) InsertIfAbsent(ctx context.Context, acc coa.Account) error {
	return errors.New("not implemented")
}

type memoryReadings struct {
	readings map[uuid.UUID]*TankReading
	lastDip  *TankReading
	pumped   decimal.Decimal
	stock    *stubStock
	gl       *stubLedger
	accounts *stubAccounts
}

func newMemoryReadings() *memoryReadings {
	return &memoryReadings{
		readings: make(map[uuid.UUID]*TankReading),
		stock:    &stubStock{},
		gl:       &stubLedger{},
		accounts: &stubAccounts{byCode: make(map[string]coa.Account)},
	}
}

func (r *memoryReadings) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryReadings) Ledger() ledger.TxRepository   { return r.gl }
func (r *memoryReadings) Stock() inventory.TxRepository { return r.stock }
func (r *memoryReadings) Accounts() coa.AccountStore    { return r.accounts }

func (r *memoryReadings) LastPostedReading(ctx context.Context, companyID, tankID uuid.UUID, before time.Time) (TankReading, bool, error) {
	if r.lastDip == nil {
		return TankReading{}, false, nil
	}
	return *r.lastDip, true, nil
}

func (r *memoryReadings) PumpDispensedTotal(ctx context.Context, companyID, tankID uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	return r.pumped, nil
}

func (r *memoryReadings) InsertReading(ctx context.Context, reading TankReading) (TankReading, error) {
	reading.ID = uuid.New()
	reading.CreatedAt = time.Now()
	r.readings[reading.ID] = &reading
	return reading, nil
}

func (r *memoryReadings) GetReadingForUpdate(ctx context.Context, companyID, readingID uuid.UUID) (TankReading, error) {
	reading, ok := r.readings[readingID]
	if !ok {
		return TankReading{}, ErrReadingNotFound
	}
	return *reading, nil
}

func (r *memoryReadings) MarkConfirmed(ctx context.Context, readingID, actorID uuid.UUID, at time.Time) error {
	r.readings[readingID].Status = StatusConfirmed
	return nil
}

func (r *memoryReadings) MarkPosted(ctx context.Context, readingID uuid.UUID, journalEntryID *uuid.UUID, at time.Time) error {
	reading := r.readings[readingID]
	reading.Status = StatusPosted
	reading.JournalEntryID = journalEntryID
	return nil
}

func TestClassifyDeadBand(t *testing.T) {
	require.Equal(t, VarianceNone, Classify(decimal.Zero))
	require.Equal(t, VarianceNone, Classify(decimal.NewFromFloat(0.5)))
	require.Equal(t, VarianceNone, Classify(decimal.NewFromFloat(-0.5)))
	require.Equal(t, VarianceGain, Classify(decimal.NewFromFloat(0.51)))
	require.Equal(t, VarianceLoss, Classify(decimal.NewFromFloat(-0.51)))
	require.Equal(t, VarianceLoss, Classify(decimal.NewFromInt(-120)))
}

func TestSystemLitersFromPriorReadingAndThroughput(t *testing.T) {
	repo := newMemoryReadings()
	repo.lastDip = &TankReading{
		DipLiters:   decimal.NewFromInt(8000),
		ReadingDate: time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC),
	}
	repo.stock.totals = inventory.MovementTotals{
		Receipts:  decimal.NewFromInt(5000),
		Dispensed: decimal.NewFromInt(3000),
	}
	repo.pumped = decimal.NewFromInt(3200)

	system, err := SystemLiters(context.Background(), repo, uuid.New(), uuid.New(), uuid.New(),
		time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	// Pump totaliser wins over movement-derived sales.
	require.True(t, system.Equal(decimal.NewFromInt(9800)), "system %s", system)
}

func TestSystemLitersFallsBackToBookStock(t *testing.T) {
	repo := newMemoryReadings()
	repo.stock.item = inventory.Item{CurrentStock: decimal.NewFromInt(6400)}

	system, err := SystemLiters(context.Background(), repo, uuid.New(), uuid.New(), uuid.New(), time.Now())
	require.NoError(t, err)
	require.True(t, system.Equal(decimal.NewFromInt(6400)))
}

func TestCreateReadingClassifiesVariance(t *testing.T) {
	repo := newMemoryReadings()
	repo.lastDip = &TankReading{
		DipLiters:   decimal.NewFromInt(10000),
		ReadingDate: time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC),
	}
	repo.stock.totals = inventory.MovementTotals{Dispensed: decimal.NewFromInt(2000)}
	svc := NewService(repo, nil, "PKR")

	reading, err := svc.CreateReading(context.Background(), CreateReadingInput{
		CompanyID:   uuid.New(),
		TankID:      uuid.New(),
		ItemID:      uuid.New(),
		ReadingDate: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		DipLiters:   decimal.NewFromInt(7950),
		ActorID:     uuid.New(),
	})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, reading.Status)
	require.True(t, reading.VarianceLiters.Equal(decimal.NewFromInt(-50)))
	require.Equal(t, VarianceLoss, reading.VarianceType)
}

func TestConfirmRequiresDraft(t *testing.T) {
	repo := newMemoryReadings()
	svc := NewService(repo, nil, "PKR")
	company := uuid.New()

	reading, err := repo.InsertReading(context.Background(), TankReading{CompanyID: company, Status: StatusPosted})
	require.NoError(t, err)
	require.ErrorIs(t, svc.Confirm(context.Background(), company, reading.ID, uuid.New()), ErrNotDraft)
}

func TestPostVarianceLossWritesShrinkagePair(t *testing.T) {
	repo := newMemoryReadings()
	company := uuid.New()
	repo.stock.item = inventory.Item{CompanyID: company, AvgCost: decimal.NewFromInt(200)}
	repo.accounts.byCode["1200"] = coa.Account{ID: uuid.New(), Code: "1200"}
	repo.accounts.byCode["5900"] = coa.Account{ID: uuid.New(), Code: "5900"}
	svc := NewService(repo, nil, "PKR")

	reading, err := repo.InsertReading(context.Background(), TankReading{
		CompanyID:      company,
		TankID:         uuid.New(),
		ItemID:         uuid.New(),
		ReadingDate:    time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		VarianceLiters: decimal.NewFromInt(-120),
		VarianceType:   VarianceLoss,
		Status:         StatusConfirmed,
	})
	require.NoError(t, err)

	posted, err := svc.Post(context.Background(), company, reading.ID, uuid.New())
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.NotNil(t, posted.JournalEntryID)

	require.Len(t, repo.gl.posted, 1)
	entry := repo.gl.posted[0]
	require.Equal(t, ledger.TypeFuelVariance, entry.Type)
	require.Len(t, entry.Lines, 2)
	// 120 L at 200 average cost.
	require.True(t, entry.Lines[0].Amount.Equal(decimal.NewFromInt(24000)))
	require.Equal(t, ledger.SideDebit, entry.Lines[0].Side)
	require.Equal(t, repo.accounts.byCode["5900"].ID, entry.Lines[0].AccountID)
	require.Equal(t, repo.accounts.byCode["1200"].ID, entry.Lines[1].AccountID)
}

func TestPostNoneVarianceIsStatusOnly(t *testing.T) {
	repo := newMemoryReadings()
	company := uuid.New()
	svc := NewService(repo, nil, "PKR")

	reading, err := repo.InsertReading(context.Background(), TankReading{
		CompanyID:    company,
		VarianceType: VarianceNone,
		Status:       StatusConfirmed,
	})
	require.NoError(t, err)

	posted, err := svc.Post(context.Background(), company, reading.ID, uuid.New())
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.Nil(t, posted.JournalEntryID)
	require.Empty(t, repo.gl.posted)
}

func TestPostRequiresConfirmed(t *testing.T) {
	repo := newMemoryReadings()
	company := uuid.New()
	svc := NewService(repo, nil, "PKR")

	reading, err := repo.InsertReading(context.Background(), TankReading{CompanyID: company, Status: StatusDraft})
	require.NoError(t, err)

	_, err = svc.Post(context.Background(), company, reading.ID, uuid.New())
	require.ErrorIs(t, err, ErrNotConfirmed)
}

func TestPostMissingVarianceAccount(t *testing.T) {
	repo := newMemoryReadings()
	company := uuid.New()
	repo.stock.item = inventory.Item{CompanyID: company, AvgCost: decimal.NewFromInt(200)}
	repo.accounts.byCode["1200"] = coa.Account{ID: uuid.New(), Code: "1200"}
	svc := NewService(repo, nil, "PKR")

	reading, err := repo.InsertReading(context.Background(), TankReading{
		CompanyID:      company,
		VarianceLiters: decimal.NewFromInt(-10),
		VarianceType:   VarianceLoss,
		Status:         StatusConfirmed,
	})
	require.NoError(t, err)

	_, err = svc.Post(context.Background(), company, reading.ID, uuid.New())
	var missing *coa.MissingAccountError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, coa.RoleFuelShrinkage, missing.Role)
}
