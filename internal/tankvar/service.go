package tankvar

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

// Service manages the tank reading lifecycle and variance postings.
type Service struct {
	repo     RepositoryPort
	logger   *slog.Logger
	currency string
	now      func() time.Time
}

// NewService constructs Service. Variance entries post in the given
// currency.
func NewService(repo RepositoryPort, logger *slog.Logger, currency string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if currency == "" {
		currency = "PKR"
	}
	return &Service{repo: repo, logger: logger, currency: currency, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateReadingInput captures a new dip measurement.
type CreateReadingInput struct {
	CompanyID      uuid.UUID
	TankID         uuid.UUID
	ItemID         uuid.UUID
	ReadingDate    time.Time
	DipLiters      decimal.Decimal
	VarianceReason string
	ActorID        uuid.UUID
}

// SystemLiters reconstructs what the tank should hold: the prior posted
// dip, plus receipts since, minus dispensed fuel. Dispensed is the larger
// of the stock-movement and pump-reading figures; pump totalisers are
// usually the more trustworthy source. With no history at all the item's
// book stock is the best available answer.
func SystemLiters(ctx context.Context, tx TxRepository, companyID, tankID, itemID uuid.UUID, readingDate time.Time) (decimal.Decimal, error) {
	last, found, err := tx.LastPostedReading(ctx, companyID, tankID, readingDate)
	if err != nil {
		return decimal.Zero, err
	}
	start := decimal.Zero
	since := readingDate.AddDate(-1, 0, 0)
	if found {
		start = last.DipLiters
		since = last.ReadingDate
	}

	totals, err := tx.Stock().TankMovementTotals(ctx, companyID, tankID, since, readingDate)
	if err != nil {
		return decimal.Zero, err
	}
	pumped, err := tx.PumpDispensedTotal(ctx, companyID, tankID, since, readingDate)
	if err != nil {
		return decimal.Zero, err
	}
	dispensed := totals.Dispensed
	if pumped.GreaterThan(dispensed) {
		dispensed = pumped
	}

	if !start.IsPositive() && !totals.Receipts.IsPositive() && !dispensed.IsPositive() {
		item, err := tx.Stock().GetItemForUpdate(ctx, companyID, itemID)
		if err == nil && item.CurrentStock.IsPositive() {
			return item.CurrentStock, nil
		}
	}
	return start.Add(totals.Receipts).Sub(dispensed), nil
}

// CreateReading computes the system position and stores a draft reading
// with its variance already classified.
func (s *Service) CreateReading(ctx context.Context, in CreateReadingInput) (TankReading, error) {
	var reading TankReading
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		itemID := in.ItemID
		if itemID == uuid.Nil {
			tank, err := tx.Stock().GetTank(ctx, in.CompanyID, in.TankID)
			if err != nil {
				return err
			}
			itemID = tank.ItemID
		}
		system, err := SystemLiters(ctx, tx, in.CompanyID, in.TankID, itemID, in.ReadingDate)
		if err != nil {
			return err
		}
		variance := in.DipLiters.Sub(system).Round(2)
		reading, err = tx.InsertReading(ctx, TankReading{
			CompanyID:      in.CompanyID,
			TankID:         in.TankID,
			ItemID:         itemID,
			ReadingDate:    in.ReadingDate,
			DipLiters:      in.DipLiters,
			SystemLiters:   system,
			VarianceLiters: variance,
			VarianceType:   Classify(variance),
			VarianceReason: in.VarianceReason,
			Status:         StatusDraft,
			CreatedBy:      in.ActorID,
		})
		return err
	})
	return reading, err
}

// Confirm moves a draft reading to confirmed.
func (s *Service) Confirm(ctx context.Context, companyID, readingID, actorID uuid.UUID) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		reading, err := tx.GetReadingForUpdate(ctx, companyID, readingID)
		if err != nil {
			return err
		}
		if reading.Status != StatusDraft {
			return ErrNotDraft
		}
		return tx.MarkConfirmed(ctx, readingID, actorID, s.now())
	})
}

// Post moves a confirmed reading to posted, writing the shrinkage or gain
// entry when the variance carries a monetary amount. A variance of none,
// or one that prices out to zero, is a pure status transition.
func (s *Service) Post(ctx context.Context, companyID, readingID, actorID uuid.UUID) (TankReading, error) {
	var posted TankReading
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		reading, err := tx.GetReadingForUpdate(ctx, companyID, readingID)
		if err != nil {
			return err
		}
		if reading.Status != StatusConfirmed {
			return ErrNotConfirmed
		}
		now := s.now()
		if reading.VarianceType == VarianceNone {
			posted = reading
			posted.Status = StatusPosted
			posted.PostedAt = &now
			return tx.MarkPosted(ctx, readingID, nil, now)
		}

		item, err := tx.Stock().GetItemForUpdate(ctx, companyID, reading.ItemID)
		if err != nil {
			return err
		}
		amount := reading.VarianceLiters.Abs().Mul(item.AvgCost).Round(2)
		if !amount.IsPositive() {
			s.logger.Warn("tank variance has no monetary impact, posting status only",
				slog.String("reading_id", readingID.String()))
			posted = reading
			posted.Status = StatusPosted
			posted.PostedAt = &now
			return tx.MarkPosted(ctx, readingID, nil, now)
		}

		entry, err := postVarianceEntry(ctx, tx, reading, amount, s.currency, actorID)
		if err != nil {
			return err
		}
		if err := tx.MarkPosted(ctx, readingID, &entry.ID, now); err != nil {
			return err
		}
		posted = reading
		posted.Status = StatusPosted
		posted.JournalEntryID = &entry.ID
		posted.PostedAt = &now
		return nil
	})
	return posted, err
}

func postVarianceEntry(ctx context.Context, tx TxRepository, reading TankReading, amount decimal.Decimal, currency string, actorID uuid.UUID) (ledger.Transaction, error) {
	companyID := reading.CompanyID
	inventoryAcc, err := coa.Resolve(ctx, tx.Accounts(), companyID, coa.RoleFuelInventory, nil)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if inventoryAcc == uuid.Nil {
		return ledger.Transaction{}, &coa.MissingAccountError{Role: coa.RoleFuelInventory}
	}
	varianceRole := coa.RoleFuelShrinkage
	if reading.VarianceType == VarianceGain {
		varianceRole = coa.RoleFuelVarianceGain
	}
	varianceAcc, err := coa.Resolve(ctx, tx.Accounts(), companyID, varianceRole, nil)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if varianceAcc == uuid.Nil {
		return ledger.Transaction{}, &coa.MissingAccountError{Role: varianceRole}
	}

	kind := "shrinkage"
	lines := []ledger.LineInput{
		{AccountID: varianceAcc, Side: ledger.SideDebit, Amount: amount, Description: "Fuel shrinkage expense"},
		{AccountID: inventoryAcc, Side: ledger.SideCredit, Amount: amount, Description: "Fuel inventory write-down"},
	}
	if reading.VarianceType == VarianceGain {
		kind = "gain"
		lines = []ledger.LineInput{
			{AccountID: inventoryAcc, Side: ledger.SideDebit, Amount: amount, Description: "Fuel inventory write-up"},
			{AccountID: varianceAcc, Side: ledger.SideCredit, Amount: amount, Description: "Fuel variance gain"},
		}
	}

	reason := reading.VarianceReason
	if reason == "" {
		reason = "unspecified"
	}
	return ledger.Post(ctx, tx.Ledger(), ledger.PostingInput{
		CompanyID:     companyID,
		Number:        varianceNumber(reading),
		Type:          ledger.TypeFuelVariance,
		Date:          reading.ReadingDate,
		Currency:      currency,
		Description:   fmt.Sprintf("Fuel variance %s: %s liters (%s)", kind, reading.VarianceLiters.Abs().String(), reason),
		ReferenceType: "tank_reading",
		ReferenceID:   &reading.ID,
		ActorID:       actorID,
		Metadata: map[string]any{
			"tank_id":         reading.TankID.String(),
			"variance_liters": reading.VarianceLiters.String(),
			"variance_type":   string(reading.VarianceType),
		},
		Lines: lines,
	})
}

func varianceNumber(reading TankReading) string {
	short := strings.ToUpper(strings.ReplaceAll(reading.ID.String(), "-", "")[:8])
	return fmt.Sprintf("FVR-%s-%s", reading.ReadingDate.Format("20060102"), short)
}
