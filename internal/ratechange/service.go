package ratechange

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stationledger/stationledger/internal/coa"
	"github.com/stationledger/stationledger/internal/inventory"
	"github.com/stationledger/stationledger/internal/investor"
	"github.com/stationledger/stationledger/internal/ledger"
)

// postingThreshold is the smallest absolute revaluation worth a GL entry.
var postingThreshold = decimal.New(1, -2)

// Service records regulated rate changes and revalues on-hand stock.
type Service struct {
	repo   RepositoryPort
	audit  ledger.AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the rate-change service.
func NewService(repo RepositoryPort, audit ledger.AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateWithRevaluation records the new rates and revalues on-hand stock
// against the previous average cost. Positive stock with a cost movement
// above the threshold posts a gain or loss pair; the item's average cost
// is reset to the new purchase rate either way, so the change reaches
// every future COGS calculation.
func (s *Service) CreateWithRevaluation(ctx context.Context, companyID uuid.UUID, req CreateRequest, actorID uuid.UUID) (RateChange, error) {
	if err := req.Validate(); err != nil {
		return RateChange{}, err
	}
	var rc RateChange
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.Stock().GetItemForUpdate(ctx, companyID, req.ItemID)
		if err != nil {
			return err
		}
		if item.FuelCategory == "" {
			return ErrNotFuelItem
		}

		effective := req.EffectiveDate
		if effective.IsZero() {
			effective = s.now()
		}
		effective = effective.Truncate(24 * time.Hour)

		stock := item.CurrentStock
		if req.StockOverride != nil {
			stock = *req.StockOverride
		}
		previousAvgCost := item.AvgCost

		marginImpact := decimal.Zero
		if prev, found, err := tx.LatestEffective(ctx, companyID, req.ItemID, effective); err != nil {
			return err
		} else if found && stock.IsPositive() {
			newMargin := req.SaleRate.Sub(req.PurchaseRate)
			marginImpact = newMargin.Sub(prev.Margin()).Mul(stock).Round(2)
		}

		revaluation := decimal.Zero
		if stock.IsPositive() && previousAvgCost.IsPositive() {
			revaluation = req.PurchaseRate.Sub(previousAvgCost).Mul(stock).Round(2)
		}

		rc, err = tx.InsertRateChange(ctx, RateChange{
			CompanyID:         companyID,
			ItemID:            req.ItemID,
			EffectiveDate:     effective,
			PurchaseRate:      req.PurchaseRate,
			SaleRate:          req.SaleRate,
			StockAtChange:     stock,
			PreviousAvgCost:   previousAvgCost,
			MarginImpact:      marginImpact,
			RevaluationAmount: revaluation,
			Notes:             req.Notes,
			CreatedBy:         actorID,
		})
		if err != nil {
			return err
		}

		if stock.IsPositive() && revaluation.Abs().GreaterThan(postingThreshold) {
			entry, err := s.postRevaluation(ctx, tx, companyID, item, rc, revaluation, actorID)
			if err != nil {
				return err
			}
			if err := tx.SetJournalEntry(ctx, companyID, rc.ID, entry.ID); err != nil {
				return err
			}
			rc.JournalEntryID = &entry.ID
		}

		if _, err := inventory.SetAvgCost(ctx, tx.Stock(), companyID, req.ItemID, req.PurchaseRate); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return RateChange{}, err
	}
	s.logger.Info("rate change recorded",
		"company_id", companyID,
		"item_id", rc.ItemID,
		"purchase_rate", rc.PurchaseRate,
		"revaluation", rc.RevaluationAmount)
	s.recordAudit(ctx, actorID, companyID, "ratechange.create", rc.ID, map[string]any{
		"item_id":     rc.ItemID.String(),
		"revaluation": rc.RevaluationAmount.String(),
	})
	return rc, nil
}

func (s *Service) postRevaluation(ctx context.Context, tx TxRepository, companyID uuid.UUID, item inventory.Item, rc RateChange, revaluation decimal.Decimal, actorID uuid.UUID) (ledger.Transaction, error) {
	settings, err := tx.Settings(ctx, companyID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	currency := settings.Currency()

	inventoryID, err := coa.Resolve(ctx, tx.Accounts(), companyID, coa.RoleFuelInventory, settings.AccountOverrides)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if inventoryID == uuid.Nil {
		return ledger.Transaction{}, &coa.MissingAccountError{Role: coa.RoleFuelInventory}
	}

	gain := revaluation.IsPositive()
	role := coa.RoleRevaluationLoss
	if gain {
		role = coa.RoleRevaluationGain
	}
	revalID, err := coa.Resolve(ctx, tx.Accounts(), companyID, role, settings.AccountOverrides)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if revalID == uuid.Nil {
		return ledger.Transaction{}, &coa.MissingAccountError{Role: role}
	}

	amount := revaluation.Abs()
	direction := "loss"
	if gain {
		direction = "gain"
	}
	description := fmt.Sprintf("Rate change revaluation: %s - %s liters @ %s %s -> %s %s (%s)",
		item.Name, rc.StockAtChange, currency, rc.PreviousAvgCost.StringFixed(2),
		currency, rc.PurchaseRate.StringFixed(2), direction)

	var lines []ledger.LineInput
	if gain {
		lines = []ledger.LineInput{
			{AccountID: inventoryID, Side: ledger.SideDebit, Amount: amount, Description: "Inventory revaluation increase"},
			{AccountID: revalID, Side: ledger.SideCredit, Amount: amount, Description: "Rate increase gain"},
		}
	} else {
		lines = []ledger.LineInput{
			{AccountID: revalID, Side: ledger.SideDebit, Amount: amount, Description: "Rate decrease loss"},
			{AccountID: inventoryID, Side: ledger.SideCredit, Amount: amount, Description: "Inventory revaluation decrease"},
		}
	}

	return ledger.Post(ctx, tx.Ledger(), ledger.PostingInput{
		CompanyID:     companyID,
		Number:        "REVAL-" + strings.ToUpper(rc.ID.String()[:8]),
		Type:          ledger.TypeRevaluation,
		Date:          rc.EffectiveDate,
		Currency:      currency,
		BaseCurrency:  currency,
		Description:   description,
		ReferenceType: "fuel.rate_changes",
		ReferenceID:   &rc.ID,
		ActorID:       actorID,
		Lines:         lines,
	})
}

// RateOn returns the full rate record in force on a date.
func (s *Service) RateOn(ctx context.Context, companyID, itemID uuid.UUID, date time.Time) (RateChange, bool, error) {
	return s.repo.LatestEffective(ctx, companyID, itemID, date)
}

// SaleRateOn resolves the regulated sale rate for an item on a date.
func (s *Service) SaleRateOn(ctx context.Context, companyID, itemID uuid.UUID, date time.Time) (decimal.Decimal, bool, error) {
	rc, found, err := s.repo.LatestEffective(ctx, companyID, itemID, date)
	if err != nil || !found {
		return decimal.Zero, false, err
	}
	return rc.SaleRate, true, nil
}

// CurrentRate resolves today's purchase rate and margin for an item.
func (s *Service) CurrentRate(ctx context.Context, companyID, itemID uuid.UUID) (investor.PurchaseRate, bool, error) {
	rc, found, err := s.repo.LatestEffective(ctx, companyID, itemID, s.now())
	if err != nil || !found {
		return investor.PurchaseRate{}, false, err
	}
	return investor.PurchaseRate{Purchase: rc.PurchaseRate, Margin: rc.Margin()}, true, nil
}

// History lists the most recent rate changes for an item.
func (s *Service) History(ctx context.Context, companyID, itemID uuid.UUID, limit int) ([]RateChange, error) {
	return s.repo.History(ctx, companyID, itemID, limit)
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
