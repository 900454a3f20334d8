package allocation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func day(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

func openInvoices() []OpenInvoice {
	return []OpenInvoice{
		{ID: uuid.New(), Number: "INV-001", IssueDate: day(1), DueDate: day(10), Outstanding: dec("1000")},
		{ID: uuid.New(), Number: "INV-002", IssueDate: day(3), DueDate: day(5), Outstanding: dec("400")},
		{ID: uuid.New(), Number: "INV-003", IssueDate: day(5), DueDate: day(25), Outstanding: dec("600")},
	}
}

func planTotal(t *testing.T, proposals []Proposal) decimal.Decimal {
	t.Helper()
	total := decimal.Zero
	for _, p := range proposals {
		total = total.Add(p.Amount)
	}
	return total
}

func TestPlanFIFOOrdersByDueDate(t *testing.T) {
	invoices := openInvoices()

	got, err := Plan(StrategyFIFO, invoices, dec("1200"), PlanOptions{AsOf: day(20)})
	require.NoError(t, err)

	require.Len(t, got, 2)
	require.Equal(t, invoices[1].ID, got[0].InvoiceID)
	require.True(t, got[0].Amount.Equal(dec("400")))
	require.Equal(t, invoices[0].ID, got[1].InvoiceID)
	require.True(t, got[1].Amount.Equal(dec("800")))
	require.Contains(t, got[0].Note, "oldest invoice")
}

func TestPlanProportionalStaysWithinPayment(t *testing.T) {
	invoices := openInvoices()

	got, err := Plan(StrategyProportional, invoices, dec("1000"), PlanOptions{AsOf: day(20)})
	require.NoError(t, err)

	require.Len(t, got, 3)
	require.True(t, got[0].Amount.Equal(dec("500")))
	require.True(t, got[1].Amount.Equal(dec("200")))
	require.True(t, got[2].Amount.Equal(dec("300")))
	require.True(t, planTotal(t, got).LessThanOrEqual(dec("1000")))
}

func TestPlanProportionalRoundingNeverOvershoots(t *testing.T) {
	invoices := []OpenInvoice{
		{ID: uuid.New(), DueDate: day(10), Outstanding: dec("100")},
		{ID: uuid.New(), DueDate: day(11), Outstanding: dec("100")},
		{ID: uuid.New(), DueDate: day(12), Outstanding: dec("100")},
	}

	got, err := Plan(StrategyProportional, invoices, dec("100"), PlanOptions{AsOf: day(20)})
	require.NoError(t, err)

	// 100/3 rounds down per line, so the plan totals 99.99, not 100.02.
	require.True(t, planTotal(t, got).Equal(dec("99.99")))
	for _, p := range got {
		require.True(t, p.Amount.Equal(dec("33.33")))
	}
}

func TestPlanOverdueFirst(t *testing.T) {
	invoices := openInvoices()

	// As of day 20, INV-002 (due day 5) is more overdue than INV-001
	// (due day 10); INV-003 is current.
	got, err := Plan(StrategyOverdueFirst, invoices, dec("1500"), PlanOptions{AsOf: day(20)})
	require.NoError(t, err)

	require.Len(t, got, 3)
	require.Equal(t, invoices[1].ID, got[0].InvoiceID)
	require.Equal(t, invoices[0].ID, got[1].InvoiceID)
	require.Equal(t, invoices[2].ID, got[2].InvoiceID)
	require.True(t, got[2].Amount.Equal(dec("100")))
	require.Contains(t, got[0].Note, "overdue")
}

func TestPlanLargestFirst(t *testing.T) {
	invoices := openInvoices()

	got, err := Plan(StrategyLargestFirst, invoices, dec("1100"), PlanOptions{AsOf: day(20)})
	require.NoError(t, err)

	require.Len(t, got, 2)
	require.Equal(t, invoices[0].ID, got[0].InvoiceID)
	require.True(t, got[0].Amount.Equal(dec("1000")))
	require.Equal(t, invoices[2].ID, got[1].InvoiceID)
	require.True(t, got[1].Amount.Equal(dec("100")))
}

func TestPlanPercentageBased(t *testing.T) {
	invoices := openInvoices()

	got, err := Plan(StrategyPercentageBased, invoices, dec("1000"), PlanOptions{
		AsOf:        day(20),
		Percentages: []decimal.Decimal{dec("50"), dec("30"), dec("20")},
	})
	require.NoError(t, err)

	require.Len(t, got, 3)
	require.True(t, got[0].Amount.Equal(dec("500")))
	require.True(t, got[1].Amount.Equal(dec("300")))
	require.True(t, got[2].Amount.Equal(dec("200")))
}

func TestPlanPercentageBasedCapsAtOutstanding(t *testing.T) {
	invoices := openInvoices()

	// 90% of 1000 exceeds INV-002's 400 outstanding.
	got, err := Plan(StrategyPercentageBased, invoices[1:2], dec("1000"), PlanOptions{
		AsOf:        day(20),
		Percentages: []decimal.Decimal{dec("90")},
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	require.True(t, got[0].Amount.Equal(dec("400")))
}

func TestPlanEqualDistribution(t *testing.T) {
	invoices := openInvoices()

	got, err := Plan(StrategyEqualDistribution, invoices, dec("900"), PlanOptions{AsOf: day(20)})
	require.NoError(t, err)

	require.Len(t, got, 3)
	for _, p := range got {
		require.True(t, p.Amount.Equal(dec("300")))
	}
}

func TestPlanCustomPriority(t *testing.T) {
	invoices := openInvoices()

	got, err := Plan(StrategyCustomPriority, invoices, dec("700"), PlanOptions{
		AsOf:          day(20),
		PriorityOrder: []uuid.UUID{invoices[2].ID, invoices[1].ID},
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	require.Equal(t, invoices[2].ID, got[0].InvoiceID)
	require.True(t, got[0].Amount.Equal(dec("600")))
	require.Equal(t, invoices[1].ID, got[1].InvoiceID)
	require.True(t, got[1].Amount.Equal(dec("100")))
	require.Equal(t, "Custom priority allocation - priority #1", got[0].Note)
}

func TestPlanCustomPriorityUnrankedLast(t *testing.T) {
	invoices := openInvoices()

	got, err := Plan(StrategyCustomPriority, invoices, dec("2000"), PlanOptions{
		AsOf:          day(20),
		PriorityOrder: []uuid.UUID{invoices[2].ID},
	})
	require.NoError(t, err)

	require.Len(t, got, 3)
	require.Equal(t, invoices[2].ID, got[0].InvoiceID)
	require.Contains(t, got[1].Note, "unspecified priority")
}

func TestPlanUnknownStrategy(t *testing.T) {
	_, err := Plan("napkin_math", openInvoices(), dec("100"), PlanOptions{AsOf: day(20)})

	var unknown *UnknownStrategyError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "napkin_math", unknown.Strategy)
}

func TestPlanNeverExceedsPaymentOrOutstanding(t *testing.T) {
	invoices := openInvoices()
	strategies := []string{
		StrategyFIFO, StrategyProportional, StrategyOverdueFirst,
		StrategyLargestFirst, StrategyEqualDistribution, StrategyCustomPriority,
	}
	amount := dec("1700.37")

	for _, strategy := range strategies {
		got, err := Plan(strategy, invoices, amount, PlanOptions{AsOf: day(20)})
		require.NoError(t, err, strategy)
		require.True(t, planTotal(t, got).LessThanOrEqual(amount), strategy)

		byInvoice := map[uuid.UUID]decimal.Decimal{}
		for _, p := range got {
			byInvoice[p.InvoiceID] = byInvoice[p.InvoiceID].Add(p.Amount)
		}
		for _, inv := range invoices {
			require.True(t, byInvoice[inv.ID].LessThanOrEqual(inv.Outstanding), strategy)
		}
	}
}
