package allocation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	payments    map[uuid.UUID]*Payment
	invoices    map[uuid.UUID]*OpenInvoice
	customerOf  map[uuid.UUID]uuid.UUID
	allocations []*PaymentAllocation
}

func newMemRepo() *memRepo {
	return &memRepo{
		payments:   map[uuid.UUID]*Payment{},
		invoices:   map[uuid.UUID]*OpenInvoice{},
		customerOf: map[uuid.UUID]uuid.UUID{},
	}
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memRepo) GetPayment(ctx context.Context, companyID, paymentID uuid.UUID) (Payment, error) {
	return m.GetPaymentForUpdate(ctx, companyID, paymentID)
}

func (m *memRepo) ActiveAllocations(ctx context.Context, companyID, paymentID uuid.UUID) ([]PaymentAllocation, error) {
	var out []PaymentAllocation
	for _, a := range m.allocations {
		if a.PaymentID == paymentID && a.Status == AllocationActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memRepo) GetPaymentForUpdate(_ context.Context, _ uuid.UUID, paymentID uuid.UUID) (Payment, error) {
	p, ok := m.payments[paymentID]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return *p, nil
}

func (m *memRepo) GetInvoiceForUpdate(_ context.Context, _ uuid.UUID, invoiceID uuid.UUID) (OpenInvoice, error) {
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return OpenInvoice{}, ErrInvoiceNotFound
	}
	return *inv, nil
}

func (m *memRepo) OpenInvoicesForUpdate(_ context.Context, _ uuid.UUID, customerID uuid.UUID) ([]OpenInvoice, error) {
	var out []OpenInvoice
	for id, inv := range m.invoices {
		if m.customerOf[id] == customerID && inv.Outstanding.IsPositive() {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memRepo) InsertAllocation(_ context.Context, a PaymentAllocation) (PaymentAllocation, error) {
	a.ID = uuid.New()
	copied := a
	m.allocations = append(m.allocations, &copied)
	return a, nil
}

func (m *memRepo) GetAllocationForUpdate(_ context.Context, _ uuid.UUID, allocationID uuid.UUID) (PaymentAllocation, error) {
	for _, a := range m.allocations {
		if a.ID == allocationID {
			return *a, nil
		}
	}
	return PaymentAllocation{}, ErrAllocationNotFound
}

func (m *memRepo) MarkAllocationReversed(_ context.Context, allocationID, _ uuid.UUID, _ string, _ time.Time) error {
	for _, a := range m.allocations {
		if a.ID == allocationID {
			if a.Status == AllocationReversed {
				return ErrAlreadyReversed
			}
			a.Status = AllocationReversed
			return nil
		}
	}
	return ErrAllocationNotFound
}

func (m *memRepo) AddInvoiceAllocated(_ context.Context, _ uuid.UUID, invoiceID uuid.UUID, delta decimal.Decimal) error {
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.Outstanding = inv.Outstanding.Sub(delta)
	return nil
}

func (m *memRepo) AddPaymentAllocated(_ context.Context, _ uuid.UUID, paymentID uuid.UUID, delta decimal.Decimal) error {
	p, ok := m.payments[paymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	p.Allocated = p.Allocated.Add(delta)
	return nil
}

func (m *memRepo) SetPaymentStatus(_ context.Context, _ uuid.UUID, paymentID uuid.UUID, status string) error {
	p, ok := m.payments[paymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	p.Status = status
	return nil
}

func (m *memRepo) addPayment(customerID uuid.UUID, amount string) uuid.UUID {
	id := uuid.New()
	m.payments[id] = &Payment{
		ID:         id,
		CompanyID:  testCompany,
		CustomerID: customerID,
		Number:     "PAY-" + id.String()[:8],
		Amount:     dec(amount),
		Allocated:  decimal.Zero,
		Currency:   "PKR",
		Method:     "bank_transfer",
		Status:     PaymentPending,
	}
	return id
}

func (m *memRepo) addInvoice(customerID uuid.UUID, number, outstanding string, due time.Time) uuid.UUID {
	id := uuid.New()
	m.invoices[id] = &OpenInvoice{
		ID:          id,
		Number:      number,
		IssueDate:   due.AddDate(0, 0, -30),
		DueDate:     due,
		Outstanding: dec(outstanding),
	}
	m.customerOf[id] = customerID
	return id
}

var (
	testCompany = uuid.New()
	testActor   = uuid.New()
)

func testService(repo *memRepo) *Service {
	svc := NewService(repo, nil, nil)
	svc.WithNow(func() time.Time { return day(20).Add(9 * time.Hour) })
	return svc
}

func TestAllocateAppliesLinesAndCompletesPayment(t *testing.T) {
	repo := newMemRepo()
	customer := uuid.New()
	paymentID := repo.addPayment(customer, "1000")
	inv1 := repo.addInvoice(customer, "INV-001", "600", day(5))
	inv2 := repo.addInvoice(customer, "INV-002", "500", day(10))

	got, err := testService(repo).Allocate(context.Background(), testCompany, paymentID, []AllocationInput{
		{InvoiceID: inv1, Amount: dec("600")},
		{InvoiceID: inv2, Amount: dec("400"), Notes: "partial"},
	}, testActor)
	require.NoError(t, err)

	require.Len(t, got, 2)
	require.True(t, got[0].PreviousOutstanding.Equal(dec("600")))
	require.True(t, got[0].NewOutstanding.IsZero())
	require.Equal(t, "INV-002", got[1].InvoiceNumber)
	require.True(t, got[1].NewOutstanding.Equal(dec("100")))

	payment := repo.payments[paymentID]
	require.True(t, payment.Allocated.Equal(dec("1000")))
	require.Equal(t, PaymentCompleted, payment.Status)
	require.True(t, repo.invoices[inv2].Outstanding.Equal(dec("100")))
	require.Equal(t, MethodManual, repo.allocations[0].Method)
}

func TestAllocateRefusesOverPayment(t *testing.T) {
	repo := newMemRepo()
	customer := uuid.New()
	paymentID := repo.addPayment(customer, "500")
	inv := repo.addInvoice(customer, "INV-001", "900", day(5))

	_, err := testService(repo).Allocate(context.Background(), testCompany, paymentID, []AllocationInput{
		{InvoiceID: inv, Amount: dec("600")},
	}, testActor)

	var over *OverAllocationError
	require.ErrorAs(t, err, &over)
	require.True(t, over.Remaining.Equal(dec("500")))
	require.Empty(t, repo.allocations)
	require.True(t, repo.invoices[inv].Outstanding.Equal(dec("900")))
}

func TestAllocateRefusesOverInvoiceAcrossLines(t *testing.T) {
	repo := newMemRepo()
	customer := uuid.New()
	paymentID := repo.addPayment(customer, "1000")
	inv := repo.addInvoice(customer, "INV-001", "500", day(5))

	// Two lines against the same invoice; the second breaches the
	// outstanding balance only when summed with the first.
	_, err := testService(repo).Allocate(context.Background(), testCompany, paymentID, []AllocationInput{
		{InvoiceID: inv, Amount: dec("400")},
		{InvoiceID: inv, Amount: dec("200")},
	}, testActor)

	var over *InvoiceOverAllocationError
	require.ErrorAs(t, err, &over)
	require.Equal(t, inv, over.InvoiceID)
	require.True(t, over.Outstanding.Equal(dec("100")))
}

func TestAllocateRefusesNonPositiveLine(t *testing.T) {
	repo := newMemRepo()
	customer := uuid.New()
	paymentID := repo.addPayment(customer, "500")
	inv := repo.addInvoice(customer, "INV-001", "500", day(5))

	_, err := testService(repo).Allocate(context.Background(), testCompany, paymentID, []AllocationInput{
		{InvoiceID: inv, Amount: decimal.Zero},
	}, testActor)
	require.ErrorIs(t, err, ErrNonPositiveAmount)
}

func TestApplyStrategyFIFO(t *testing.T) {
	repo := newMemRepo()
	customer := uuid.New()
	paymentID := repo.addPayment(customer, "700")
	older := repo.addInvoice(customer, "INV-001", "400", day(5))
	newer := repo.addInvoice(customer, "INV-002", "500", day(15))

	got, err := testService(repo).ApplyStrategy(context.Background(), testCompany, paymentID,
		StrategyFIFO, PlanOptions{}, testActor)
	require.NoError(t, err)

	require.Len(t, got, 2)
	require.Equal(t, older, got[0].InvoiceID)
	require.True(t, got[0].Amount.Equal(dec("400")))
	require.Equal(t, newer, got[1].InvoiceID)
	require.True(t, got[1].Amount.Equal(dec("300")))

	payment := repo.payments[paymentID]
	require.Equal(t, PaymentCompleted, payment.Status)
	require.Equal(t, MethodAutomatic, repo.allocations[0].Method)
	require.Equal(t, StrategyFIFO, repo.allocations[0].Strategy)
}

func TestApplyStrategyNoOpenInvoices(t *testing.T) {
	repo := newMemRepo()
	customer := uuid.New()
	paymentID := repo.addPayment(customer, "700")

	got, err := testService(repo).ApplyStrategy(context.Background(), testCompany, paymentID,
		StrategyFIFO, PlanOptions{}, testActor)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, PaymentPending, repo.payments[paymentID].Status)
}

func TestApplyStrategyUnknownName(t *testing.T) {
	repo := newMemRepo()
	customer := uuid.New()
	paymentID := repo.addPayment(customer, "700")
	repo.addInvoice(customer, "INV-001", "400", day(5))

	_, err := testService(repo).ApplyStrategy(context.Background(), testCompany, paymentID,
		"coin_flip", PlanOptions{}, testActor)

	var unknown *UnknownStrategyError
	require.ErrorAs(t, err, &unknown)
	require.Empty(t, repo.allocations)
}

func TestReverseAllocationRestoresBalances(t *testing.T) {
	repo := newMemRepo()
	customer := uuid.New()
	paymentID := repo.addPayment(customer, "500")
	inv := repo.addInvoice(customer, "INV-001", "500", day(5))
	svc := testService(repo)

	got, err := svc.Allocate(context.Background(), testCompany, paymentID, []AllocationInput{
		{InvoiceID: inv, Amount: dec("500")},
	}, testActor)
	require.NoError(t, err)
	require.Equal(t, PaymentCompleted, repo.payments[paymentID].Status)

	err = svc.ReverseAllocation(context.Background(), testCompany, got[0].AllocationID, "posted to wrong customer", testActor)
	require.NoError(t, err)

	require.True(t, repo.invoices[inv].Outstanding.Equal(dec("500")))
	payment := repo.payments[paymentID]
	require.True(t, payment.Allocated.IsZero())
	require.Equal(t, PaymentPending, payment.Status)
	require.Equal(t, AllocationReversed, repo.allocations[0].Status)

	err = svc.ReverseAllocation(context.Background(), testCompany, got[0].AllocationID, "again", testActor)
	require.ErrorIs(t, err, ErrAlreadyReversed)
}

func TestSummaryListsActiveAllocations(t *testing.T) {
	repo := newMemRepo()
	customer := uuid.New()
	paymentID := repo.addPayment(customer, "1000")
	inv1 := repo.addInvoice(customer, "INV-001", "600", day(5))
	inv2 := repo.addInvoice(customer, "INV-002", "500", day(10))
	svc := testService(repo)

	got, err := svc.Allocate(context.Background(), testCompany, paymentID, []AllocationInput{
		{InvoiceID: inv1, Amount: dec("600")},
		{InvoiceID: inv2, Amount: dec("100")},
	}, testActor)
	require.NoError(t, err)
	require.NoError(t, svc.ReverseAllocation(context.Background(), testCompany, got[1].AllocationID, "typo", testActor))

	summary, err := svc.Summary(context.Background(), testCompany, paymentID)
	require.NoError(t, err)

	require.True(t, summary.Amount.Equal(dec("1000")))
	require.True(t, summary.Allocated.Equal(dec("600")))
	require.True(t, summary.Remaining.Equal(dec("400")))
	require.False(t, summary.FullyAllocated)
	require.Len(t, summary.Allocations, 1)
	require.Equal(t, inv1, summary.Allocations[0].InvoiceID)
}
