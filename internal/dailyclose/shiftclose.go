package dailyclose

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stationledger/stationledger/internal/coa"
	"github.com/stationledger/stationledger/internal/ledger"
)

// Shift identifiers.
const (
	ShiftDay   = "day"
	ShiftNight = "night"
)

// shiftRoles are all required for a shift close; the resolver's clearing
// fallbacks mean a minimal chart still resolves every one.
var shiftRoles = []coa.Role{
	coa.RoleCashOnHand,
	coa.RoleUndepositedFunds,
	coa.RoleCardClearing,
	coa.RoleFuelCardClearing,
	coa.RoleFuelSales,
	coa.RoleFuelCOGS,
	coa.RoleFuelInventory,
	coa.RoleCashOverShort,
}

// ShiftCloseRequest is the per-shift collections form: fuel volumes plus
// the takings split by settlement channel.
type ShiftCloseRequest struct {
	Date               time.Time        `json:"date" validate:"required"`
	Shift              string           `json:"shift" validate:"required,oneof=day night"`
	Lines              []ShiftLineInput `json:"lines" validate:"required,min=1,dive"`
	CashAmount         decimal.Decimal  `json:"cash_amount"`
	MobileWalletAmount decimal.Decimal  `json:"mobile_wallet_amount"`
	BankTransferAmount decimal.Decimal  `json:"bank_transfer_amount"`
	CardSwipeAmount    decimal.Decimal  `json:"card_swipe_amount"`
	FuelCardAmount     decimal.Decimal  `json:"fuel_card_amount"`
	Notes              string           `json:"notes"`
}

// ShiftLineInput is one fuel item's volume for the shift. A zero sale
// rate falls back to the rate-change history for the date.
type ShiftLineInput struct {
	ItemID     uuid.UUID       `json:"item_id" validate:"required"`
	LitersSold decimal.Decimal `json:"liters_sold"`
	SaleRate   decimal.Decimal `json:"sale_rate"`
}

// Validate checks the request shape and sign rules.
func (r ShiftCloseRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	hasLiters := false
	for _, line := range r.Lines {
		if line.LitersSold.IsNegative() {
			return ErrNegativeAmount
		}
		if line.LitersSold.IsPositive() {
			hasLiters = true
		}
	}
	if !hasLiters {
		return ErrNoLiters
	}
	for _, amount := range []decimal.Decimal{
		r.CashAmount, r.MobileWalletAmount, r.BankTransferAmount, r.CardSwipeAmount, r.FuelCardAmount,
	} {
		if amount.IsNegative() {
			return ErrNegativeAmount
		}
	}
	return nil
}

// ProcessShiftClose posts the simpler per-shift reconciliation: revenue at
// the regulated rate, COGS at weighted average cost, collections split
// across cash and clearing accounts, and any difference to cash
// over/short. Unlike the daily close, the over/short leg here uses an
// exact comparison: a shift is expected to reconcile to the paisa.
func (s *Service) ProcessShiftClose(ctx context.Context, companyID uuid.UUID, req ShiftCloseRequest, actorID uuid.UUID) (CloseResult, error) {
	if err := req.Validate(); err != nil {
		return CloseResult{}, err
	}
	date := req.Date.Truncate(24 * time.Hour)
	number := ledger.ShiftCloseNumber(date, strings.ToUpper(req.Shift))

	var result CloseResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		gl := tx.Ledger()
		stock := tx.Stock()

		exists, err := gl.NumberExists(ctx, companyID, number)
		if err != nil {
			return err
		}
		if exists {
			return &ledger.DuplicateCloseError{Type: ledger.TypeShiftClose, Date: date}
		}

		settings, err := tx.Settings(ctx, companyID)
		if err != nil {
			return err
		}
		currency := settings.Currency()

		accounts, err := coa.ResolveSet(ctx, tx.Accounts(), companyID, shiftRoles, settings.AccountOverrides)
		if err != nil {
			return err
		}
		for _, role := range shiftRoles {
			if !accounts.Has(role) {
				return &coa.MissingAccountError{Role: role}
			}
		}

		totalRevenue := decimal.Zero
		totalCOGS := decimal.Zero
		for _, line := range req.Lines {
			if !line.LitersSold.IsPositive() {
				continue
			}
			item, err := stock.GetItemForUpdate(ctx, companyID, line.ItemID)
			if err != nil {
				return err
			}
			rate := line.SaleRate
			if !rate.IsPositive() && s.rates != nil {
				historic, found, err := s.rates.SaleRateOn(ctx, companyID, line.ItemID, date)
				if err != nil {
					return err
				}
				if found {
					rate = historic
				}
			}
			if !rate.IsPositive() {
				return &MissingRateError{ItemID: line.ItemID, Date: date}
			}
			if !item.AvgCost.IsPositive() {
				return &MissingCostError{ItemName: item.Name}
			}
			totalRevenue = totalRevenue.Add(line.LitersSold.Mul(rate).Round(2))
			totalCOGS = totalCOGS.Add(line.LitersSold.Mul(item.AvgCost).Round(2))
		}

		pending := req.MobileWalletAmount.Add(req.BankTransferAmount)

		var lines []ledger.LineInput
		addLine := func(role coa.Role, side ledger.EntrySide, amount decimal.Decimal, description string) {
			lines = append(lines, ledger.LineInput{
				AccountID: accounts[role], Side: side, Amount: amount.Round(2), Description: description,
			})
		}
		if req.CashAmount.IsPositive() {
			addLine(coa.RoleCashOnHand, ledger.SideDebit, req.CashAmount, "Cash collected")
		}
		if pending.IsPositive() {
			addLine(coa.RoleUndepositedFunds, ledger.SideDebit, pending, "Wallets / bank transfers (pending)")
		}
		if req.CardSwipeAmount.IsPositive() {
			addLine(coa.RoleCardClearing, ledger.SideDebit, req.CardSwipeAmount, "Card swipes (pending settlement)")
		}
		if req.FuelCardAmount.IsPositive() {
			addLine(coa.RoleFuelCardClearing, ledger.SideDebit, req.FuelCardAmount, "Fuel card sales (pending settlement)")
		}
		if totalCOGS.IsPositive() {
			addLine(coa.RoleFuelCOGS, ledger.SideDebit, totalCOGS, "Fuel COGS (WAC)")
			addLine(coa.RoleFuelInventory, ledger.SideCredit, totalCOGS, "Fuel inventory reduction (WAC)")
		}
		if totalRevenue.IsPositive() {
			addLine(coa.RoleFuelSales, ledger.SideCredit, totalRevenue, fmt.Sprintf("Fuel sales (%s shift)", req.Shift))
		}

		collections := req.CashAmount.Add(pending).Add(req.CardSwipeAmount).Add(req.FuelCardAmount).Round(2)
		variance := collections.Sub(totalRevenue).Round(2)
		if !variance.IsZero() {
			side := ledger.SideDebit
			if !variance.IsNegative() {
				side = ledger.SideCredit
			}
			addLine(coa.RoleCashOverShort, side, variance.Abs(), "Cash over/short vs expected sales")
		}

		description := fmt.Sprintf("Fuel shift close (%s) - %s", req.Shift, date.Format("2006-01-02"))
		if req.Notes != "" {
			description += " - " + req.Notes
		}

		metadata := map[string]any{
			"shift":         req.Shift,
			"collections":   collections,
			"total_revenue": totalRevenue,
			"total_cogs":    totalCOGS,
			"variance":      variance,
		}
		entry, err := ledger.Post(ctx, gl, ledger.PostingInput{
			CompanyID:     companyID,
			Number:        number,
			Type:          ledger.TypeShiftClose,
			Date:          date,
			Currency:      currency,
			BaseCurrency:  currency,
			Description:   description,
			ReferenceType: "fuel.shift_close",
			Metadata:      metadata,
			ActorID:       actorID,
			Lines:         lines,
		})
		if err != nil {
			return err
		}
		result = CloseResult{
			TransactionID:     entry.ID,
			TransactionNumber: number,
			Metadata:          metadata,
		}
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}
	s.recordAudit(ctx, actorID, companyID, "dailyclose.shift_post", result.TransactionID, map[string]any{
		"number": number, "shift": req.Shift,
	})
	return result, nil
}
