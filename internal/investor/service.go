package investor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stationledger/stationledger/internal/coa"
	"github.com/stationledger/stationledger/internal/ledger"
)

// PurchaseRate is the regulated pricing in force for a fuel item: the
// purchase rate units are bought at and the margin earned per unit.
type PurchaseRate struct {
	Purchase decimal.Decimal
	Margin   decimal.Decimal
}

// RateSource resolves the current purchase rate for an item. Wired to the
// rate-change history.
type RateSource interface {
	CurrentRate(ctx context.Context, companyID, itemID uuid.UUID) (PurchaseRate, bool, error)
}

// Service manages investor lots: deposits, FIFO draws, and commission
// payouts.
type Service struct {
	repo   RepositoryPort
	audit  ledger.AuditPort
	rates  RateSource
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the investor service.
func NewService(repo RepositoryPort, rates RateSource, audit ledger.AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, rates: rates, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateLot records an investor deposit: posts Dr cash / Cr the investor's
// liability sub-account and opens a lot with the entitlement and
// commission rates locked at today's pricing.
func (s *Service) CreateLot(ctx context.Context, companyID uuid.UUID, req CreateLotRequest, actorID uuid.UUID) (Lot, error) {
	if err := req.Validate(); err != nil {
		return Lot{}, err
	}
	var lot Lot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		investor, err := tx.GetInvestorForUpdate(ctx, companyID, req.InvestorID)
		if err != nil {
			return err
		}
		rate, found, err := s.rates.CurrentRate(ctx, companyID, req.ItemID)
		if err != nil {
			return err
		}
		if !found || !rate.Purchase.IsPositive() {
			return ErrNoCurrentRate
		}
		units := req.Amount.Div(rate.Purchase).Round(3)

		depositDate := req.DepositDate
		if depositDate.IsZero() {
			depositDate = s.now()
		}
		depositDate = depositDate.Truncate(24 * time.Hour)

		settings, err := tx.Settings(ctx, companyID)
		if err != nil {
			return err
		}
		currency := settings.Currency()

		cashID, err := coa.Resolve(ctx, tx.Accounts(), companyID, coa.RoleCashOnHand, settings.AccountOverrides)
		if err != nil {
			return err
		}
		if cashID == uuid.Nil {
			return &coa.MissingAccountError{Role: coa.RoleCashOnHand}
		}
		liability, err := s.liabilityAccount(ctx, tx, companyID, investor, currency)
		if err != nil {
			return err
		}

		description := fmt.Sprintf("Investment deposit - %s", investor.Name)
		entry, err := ledger.Post(ctx, tx.Ledger(), ledger.PostingInput{
			CompanyID:     companyID,
			Number:        fmt.Sprintf("INV-DEP-%s-%s", depositDate.Format("20060102"), shortID(investor.ID, 8)),
			Type:          ledger.TypeInvestorDeposit,
			Date:          depositDate,
			Currency:      currency,
			BaseCurrency:  currency,
			Description:   fmt.Sprintf("Investment deposit from: %s", investor.Name),
			ReferenceType: "fuel.investors",
			ReferenceID:   &investor.ID,
			ActorID:       actorID,
			Lines: []ledger.LineInput{
				{AccountID: cashID, Side: ledger.SideDebit, Amount: req.Amount, Description: description},
				{AccountID: liability, Side: ledger.SideCredit, Amount: req.Amount, Description: description},
			},
		})
		if err != nil {
			return err
		}

		lot, err = tx.InsertLot(ctx, Lot{
			CompanyID:        companyID,
			InvestorID:       investor.ID,
			DepositDate:      depositDate,
			InvestmentAmount: req.Amount,
			EntitlementRate:  rate.Purchase,
			CommissionRate:   rate.Margin,
			UnitsEntitled:    units,
			UnitsRemaining:   units,
			CommissionEarned: decimal.Zero,
			Status:           StatusActive,
			TransactionID:    entry.ID,
		})
		if err != nil {
			return err
		}
		return tx.AddInvestorTotals(ctx, companyID, investor.ID, req.Amount, decimal.Zero, decimal.Zero)
	})
	if err != nil {
		return Lot{}, err
	}
	s.recordAudit(ctx, actorID, companyID, "investor.create_lot", lot.ID, map[string]any{
		"investor_id": req.InvestorID,
		"amount":      req.Amount,
		"units":       lot.UnitsEntitled,
	})
	return lot, nil
}

// ConsumeUnits draws fuel units from an investor's lots, oldest deposit
// first, accumulating commission at each lot's locked rate. The draw is
// all-or-nothing: if the active lots cannot cover the demand, nothing is
// consumed and InsufficientUnitsError reports what was available.
func (s *Service) ConsumeUnits(ctx context.Context, companyID, investorID uuid.UUID, units decimal.Decimal) (ConsumeResult, error) {
	if !units.IsPositive() {
		return ConsumeResult{}, ErrNonPositiveUnits
	}
	var result ConsumeResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = ConsumeFIFO(ctx, tx, companyID, investorID, units)
		return err
	})
	if err != nil {
		return ConsumeResult{}, err
	}
	return result, nil
}

// ConsumeFIFO runs the FIFO draw inside an existing transactional scope,
// for callers that consume units as part of a larger posting.
func ConsumeFIFO(ctx context.Context, tx TxRepository, companyID, investorID uuid.UUID, units decimal.Decimal) (ConsumeResult, error) {
	lots, err := tx.ActiveLotsForUpdate(ctx, companyID, investorID)
	if err != nil {
		return ConsumeResult{}, err
	}

	// Plan the whole draw before touching any row, so an insufficient
	// balance leaves every lot untouched.
	remaining := units
	plan := make([]LotConsumption, 0, len(lots))
	totalCommission := decimal.Zero
	for _, lot := range lots {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, lot.UnitsRemaining)
		if !take.IsPositive() {
			continue
		}
		commission := take.Mul(lot.CommissionRate).Round(2)
		plan = append(plan, LotConsumption{LotID: lot.ID, Units: take, Commission: commission})
		totalCommission = totalCommission.Add(commission)
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		return ConsumeResult{}, &InsufficientUnitsError{
			Requested: units,
			Available: units.Sub(remaining),
		}
	}

	planned := map[uuid.UUID]LotConsumption{}
	for _, c := range plan {
		planned[c.LotID] = c
	}
	for _, lot := range lots {
		c, ok := planned[lot.ID]
		if !ok {
			continue
		}
		newRemaining := lot.UnitsRemaining.Sub(c.Units)
		status := StatusActive
		if newRemaining.IsZero() {
			status = StatusDepleted
		}
		earned := lot.CommissionEarned.Add(c.Commission)
		if err := tx.UpdateLotConsumption(ctx, lot.ID, newRemaining, earned, status); err != nil {
			return ConsumeResult{}, err
		}
	}
	if err := tx.AddInvestorTotals(ctx, companyID, investorID, decimal.Zero, totalCommission, decimal.Zero); err != nil {
		return ConsumeResult{}, err
	}
	return ConsumeResult{Consumed: plan, Commission: totalCommission}, nil
}

// PayCommission pays out earned commission: Dr commission expense / Cr
// cash (or an explicit payment account). Bounded by the investor's
// outstanding commission balance.
func (s *Service) PayCommission(ctx context.Context, companyID uuid.UUID, req PayCommissionRequest, actorID uuid.UUID) (ledger.Transaction, error) {
	if err := req.Validate(); err != nil {
		return ledger.Transaction{}, err
	}
	var entry ledger.Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		investor, err := tx.GetInvestorForUpdate(ctx, companyID, req.InvestorID)
		if err != nil {
			return err
		}
		outstanding := investor.OutstandingCommission()
		if req.Amount.GreaterThan(outstanding) {
			return &ExcessCommissionError{Requested: req.Amount, Outstanding: outstanding}
		}

		paymentDate := req.PaymentDate
		if paymentDate.IsZero() {
			paymentDate = s.now()
		}
		paymentDate = paymentDate.Truncate(24 * time.Hour)

		settings, err := tx.Settings(ctx, companyID)
		if err != nil {
			return err
		}
		currency := settings.Currency()

		expense, err := coa.EnsureAccount(ctx, tx.Accounts(), companyID, coa.RoleCommissionExp, currency)
		if err != nil {
			return err
		}
		paymentAccount := req.PaymentAccountID
		if paymentAccount == uuid.Nil {
			paymentAccount, err = coa.Resolve(ctx, tx.Accounts(), companyID, coa.RoleCashOnHand, settings.AccountOverrides)
			if err != nil {
				return err
			}
			if paymentAccount == uuid.Nil {
				return &coa.MissingAccountError{Role: coa.RoleCashOnHand}
			}
		}

		description := fmt.Sprintf("Commission payment - %s", investor.Name)
		entry, err = ledger.Post(ctx, tx.Ledger(), ledger.PostingInput{
			CompanyID:     companyID,
			Number:        fmt.Sprintf("INV-COMM-%s-%s", shortID(investor.ID, 8), paymentDate.Format("20060102")),
			Type:          ledger.TypeInvestorCommission,
			Date:          paymentDate,
			Currency:      currency,
			BaseCurrency:  currency,
			Description:   fmt.Sprintf("Commission payment to investor: %s", investor.Name),
			ReferenceType: "fuel.investors",
			ReferenceID:   &investor.ID,
			ActorID:       actorID,
			Lines: []ledger.LineInput{
				{AccountID: expense.ID, Side: ledger.SideDebit, Amount: req.Amount, Description: description},
				{AccountID: paymentAccount, Side: ledger.SideCredit, Amount: req.Amount, Description: description},
			},
		})
		if err != nil {
			return err
		}
		return tx.AddInvestorTotals(ctx, companyID, investor.ID, decimal.Zero, decimal.Zero, req.Amount)
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	s.recordAudit(ctx, actorID, companyID, "investor.pay_commission", entry.ID, map[string]any{
		"investor_id": req.InvestorID,
		"amount":      req.Amount,
	})
	return entry, nil
}

// InvestorSummary aggregates active investor positions.
func (s *Service) InvestorSummary(ctx context.Context, companyID uuid.UUID) (Summary, error) {
	return s.repo.Summary(ctx, companyID)
}

// liabilityAccount returns the investor's liability sub-account, creating
// it under the shared investor-deposits parent on first use.
func (s *Service) liabilityAccount(ctx context.Context, tx TxRepository, companyID uuid.UUID, investor Investor, currency string) (uuid.UUID, error) {
	if investor.AccountID != nil && *investor.AccountID != uuid.Nil {
		return *investor.AccountID, nil
	}
	parent, err := coa.EnsureAccount(ctx, tx.Accounts(), companyID, coa.RoleInvestorDeposits, currency)
	if err != nil {
		return uuid.Nil, err
	}
	account, err := coa.EnsureNamedAccount(ctx, tx.Accounts(), coa.Account{
		CompanyID: companyID,
		Code:      "2100-" + shortID(investor.ID, 4),
		Name:      fmt.Sprintf("Investor Deposit - %s", investor.Name),
		Type:      coa.TypeLiability,
		Subtype:   "current_liability",
		ParentID:  &parent.ID,
		Currency:  currency,
	})
	if err != nil {
		return uuid.Nil, err
	}
	if err := tx.SetInvestorAccount(ctx, companyID, investor.ID, account.ID); err != nil {
		return uuid.Nil, err
	}
	return account.ID, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID, companyID uuid.UUID, action string, entityID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, ledger.AuditEvent{
		ActorID:   actorID,
		CompanyID: companyID,
		Action:    action,
		EntityID:  entityID,
		Meta:      meta,
		At:        s.now(),
	})
}

func shortID(id uuid.UUID, n int) string {
	return strings.ToUpper(id.String()[:n])
}
