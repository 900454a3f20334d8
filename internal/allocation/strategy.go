package allocation

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Strategy names selectable by callers.
const (
	StrategyFIFO              = "fifo"
	StrategyProportional      = "proportional"
	StrategyOverdueFirst      = "overdue_first"
	StrategyLargestFirst      = "largest_first"
	StrategyPercentageBased   = "percentage_based"
	StrategyEqualDistribution = "equal_distribution"
	StrategyCustomPriority    = "custom_priority"
)

// OpenInvoice is the view of an unpaid invoice a strategy plans against.
type OpenInvoice struct {
	ID          uuid.UUID
	Number      string
	IssueDate   time.Time
	DueDate     time.Time
	Outstanding decimal.Decimal
}

// Overdue reports whether the invoice is past due as of a date.
func (i OpenInvoice) Overdue(asOf time.Time) bool {
	return i.DueDate.Before(asOf)
}

// DaysOverdue is the whole days past due, zero when not overdue.
func (i OpenInvoice) DaysOverdue(asOf time.Time) int {
	if !i.Overdue(asOf) {
		return 0
	}
	return int(asOf.Sub(i.DueDate).Hours() / 24)
}

// Proposal is one planned allocation line.
type Proposal struct {
	InvoiceID uuid.UUID
	Amount    decimal.Decimal
	Note      string
}

// PlanOptions carries the per-strategy extras: percentage shares aligned
// with the invoice slice, or an explicit invoice priority order.
type PlanOptions struct {
	Percentages   []decimal.Decimal
	PriorityOrder []uuid.UUID
	AsOf          time.Time
}

// UnknownStrategyError reports an unrecognised strategy name.
type UnknownStrategyError struct {
	Strategy string
}

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("allocation: unknown strategy %q", e.Strategy)
}

// Plan runs the named strategy over the open invoices. Every strategy
// guarantees the planned total never exceeds the available amount and no
// line exceeds its invoice's outstanding balance.
func Plan(strategy string, invoices []OpenInvoice, amount decimal.Decimal, opts PlanOptions) ([]Proposal, error) {
	if opts.AsOf.IsZero() {
		opts.AsOf = time.Now()
	}
	switch strategy {
	case StrategyFIFO:
		return planFIFO(invoices, amount), nil
	case StrategyProportional:
		return planProportional(invoices, amount), nil
	case StrategyOverdueFirst:
		return planOverdueFirst(invoices, amount, opts.AsOf), nil
	case StrategyLargestFirst:
		return planLargestFirst(invoices, amount), nil
	case StrategyPercentageBased:
		return planPercentageBased(invoices, amount, opts.Percentages), nil
	case StrategyEqualDistribution:
		return planEqualDistribution(invoices, amount), nil
	case StrategyCustomPriority:
		return planCustomPriority(invoices, amount, opts.PriorityOrder), nil
	default:
		return nil, &UnknownStrategyError{Strategy: strategy}
	}
}

// drain allocates greedily down an already-ordered invoice list.
func drain(invoices []OpenInvoice, amount decimal.Decimal, note string) []Proposal {
	var out []Proposal
	remaining := amount
	for _, inv := range invoices {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, inv.Outstanding)
		if !take.IsPositive() {
			continue
		}
		out = append(out, Proposal{InvoiceID: inv.ID, Amount: take, Note: note})
		remaining = remaining.Sub(take)
	}
	return out
}

func planFIFO(invoices []OpenInvoice, amount decimal.Decimal) []Proposal {
	ordered := append([]OpenInvoice(nil), invoices...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DueDate.Before(ordered[j].DueDate)
	})
	return drain(ordered, amount, "FIFO allocation - oldest invoice paid first")
}

func planProportional(invoices []OpenInvoice, amount decimal.Decimal) []Proposal {
	total := decimal.Zero
	for _, inv := range invoices {
		if inv.Outstanding.IsPositive() {
			total = total.Add(inv.Outstanding)
		}
	}
	if !total.IsPositive() {
		return nil
	}
	var out []Proposal
	remaining := amount
	for _, inv := range invoices {
		if !inv.Outstanding.IsPositive() {
			continue
		}
		// Rounding down keeps the planned total within the payment even
		// after per-line rounding.
		share := amount.Mul(inv.Outstanding).Div(total).RoundDown(2)
		take := decimal.Min(decimal.Min(share, inv.Outstanding), remaining)
		if !take.IsPositive() {
			continue
		}
		out = append(out, Proposal{
			InvoiceID: inv.ID, Amount: take,
			Note: "Proportional allocation - distributed by balance ratio",
		})
		remaining = remaining.Sub(take)
	}
	return out
}

func planOverdueFirst(invoices []OpenInvoice, amount decimal.Decimal, asOf time.Time) []Proposal {
	var overdue, current []OpenInvoice
	for _, inv := range invoices {
		if inv.Overdue(asOf) {
			overdue = append(overdue, inv)
		} else {
			current = append(current, inv)
		}
	}
	sort.SliceStable(overdue, func(i, j int) bool {
		return overdue[i].DaysOverdue(asOf) > overdue[j].DaysOverdue(asOf)
	})
	sort.SliceStable(current, func(i, j int) bool {
		return current[i].DueDate.Before(current[j].DueDate)
	})

	out := drain(overdue, amount, "Priority allocation - overdue invoice paid first")
	spent := decimal.Zero
	for _, p := range out {
		spent = spent.Add(p.Amount)
	}
	out = append(out, drain(current, amount.Sub(spent), "Priority allocation - non-overdue invoice")...)
	return out
}

func planLargestFirst(invoices []OpenInvoice, amount decimal.Decimal) []Proposal {
	ordered := append([]OpenInvoice(nil), invoices...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Outstanding.GreaterThan(ordered[j].Outstanding)
	})
	return drain(ordered, amount, "Amount-based allocation - largest balance paid first")
}

func planPercentageBased(invoices []OpenInvoice, amount decimal.Decimal, percentages []decimal.Decimal) []Proposal {
	var out []Proposal
	remaining := amount
	hundred := decimal.NewFromInt(100)
	for idx, inv := range invoices {
		if idx >= len(percentages) || !remaining.IsPositive() {
			break
		}
		pct := percentages[idx]
		if !pct.IsPositive() {
			continue
		}
		share := amount.Mul(pct).Div(hundred).RoundDown(2)
		take := decimal.Min(decimal.Min(share, inv.Outstanding), remaining)
		if !take.IsPositive() {
			continue
		}
		out = append(out, Proposal{
			InvoiceID: inv.ID, Amount: take,
			Note: fmt.Sprintf("Percentage-based allocation - %s%% of payment", pct),
		})
		remaining = remaining.Sub(take)
	}
	return out
}

func planEqualDistribution(invoices []OpenInvoice, amount decimal.Decimal) []Proposal {
	open := 0
	for _, inv := range invoices {
		if inv.Outstanding.IsPositive() {
			open++
		}
	}
	if open == 0 {
		return nil
	}
	perInvoice := amount.Div(decimal.NewFromInt(int64(open))).RoundDown(2)
	var out []Proposal
	remaining := amount
	for _, inv := range invoices {
		if !inv.Outstanding.IsPositive() || !remaining.IsPositive() {
			continue
		}
		take := decimal.Min(decimal.Min(perInvoice, inv.Outstanding), remaining)
		if !take.IsPositive() {
			continue
		}
		out = append(out, Proposal{
			InvoiceID: inv.ID, Amount: take,
			Note: "Equal distribution allocation - payment split equally",
		})
		remaining = remaining.Sub(take)
	}
	return out
}

func planCustomPriority(invoices []OpenInvoice, amount decimal.Decimal, order []uuid.UUID) []Proposal {
	rank := make(map[uuid.UUID]int, len(order))
	for idx, id := range order {
		rank[id] = idx
	}
	const unranked = 1 << 30
	position := func(id uuid.UUID) int {
		if r, ok := rank[id]; ok {
			return r
		}
		return unranked
	}
	ordered := append([]OpenInvoice(nil), invoices...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return position(ordered[i].ID) < position(ordered[j].ID)
	})

	var out []Proposal
	remaining := amount
	for _, inv := range ordered {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, inv.Outstanding)
		if !take.IsPositive() {
			continue
		}
		note := "Custom priority allocation - unspecified priority"
		if r, ok := rank[inv.ID]; ok {
			note = fmt.Sprintf("Custom priority allocation - priority #%d", r+1)
		}
		out = append(out, Proposal{InvoiceID: inv.ID, Amount: take, Note: note})
		remaining = remaining.Sub(take)
	}
	return out
}
