package dailyclose

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stationledger/stationledger/internal/tankvar"
)

var validate = validator.New()

// CloseRequest is the full inbound daily-close form. It is echoed verbatim
// into the posted transaction's metadata under form_input so an amendment
// can pre-fill the form with the data being corrected.
type CloseRequest struct {
	Date                time.Time              `json:"date" validate:"required"`
	OpeningCash         decimal.Decimal        `json:"opening_cash"`
	ClosingCash         decimal.Decimal        `json:"closing_cash"`
	NozzleReadings      []NozzleReadingInput   `json:"nozzle_readings" validate:"dive"`
	OtherSales          []OtherSaleInput       `json:"other_sales" validate:"dive"`
	TankReadings        []TankDipInput         `json:"tank_readings" validate:"dive"`
	PartnerDeposits     []PartnerMoveInput     `json:"partner_deposits" validate:"dive"`
	PaymentReceipts     map[string][]Receipt   `json:"payment_receipts"`
	BankDeposits        []CashMoveInput        `json:"bank_deposits" validate:"dive"`
	PartnerWithdrawals  []PartnerMoveInput     `json:"partner_withdrawals" validate:"dive"`
	EmployeeAdvances    []EmployeeAdvanceInput `json:"employee_advances" validate:"dive"`
	AmanatDisbursements []AmanatInput          `json:"amanat_disbursements" validate:"dive"`
	Expenses            []ExpenseInput         `json:"expenses" validate:"dive"`
	Notes               string                 `json:"notes"`
}

// NozzleReadingInput is one nozzle's totalizer capture for the day.
type NozzleReadingInput struct {
	NozzleID          uuid.UUID        `json:"nozzle_id" validate:"required"`
	ItemID            uuid.UUID        `json:"item_id" validate:"required"`
	LitersSold        decimal.Decimal  `json:"liters_sold"`
	SaleRate          decimal.Decimal  `json:"sale_rate"`
	OpeningElectronic decimal.Decimal  `json:"opening_electronic"`
	ClosingElectronic decimal.Decimal  `json:"closing_electronic"`
	OpeningManual     *decimal.Decimal `json:"opening_manual"`
	ClosingManual     *decimal.Decimal `json:"closing_manual"`
}

// OtherSaleInput is a non-fuel line item (lubricants, sundries).
type OtherSaleInput struct {
	ItemID    *uuid.UUID      `json:"item_id"`
	ItemName  string          `json:"item_name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Amount    decimal.Decimal `json:"amount"`
}

// TankDipInput is the physical dip measurement taken at close.
type TankDipInput struct {
	TankID    uuid.UUID       `json:"tank_id" validate:"required"`
	DipLiters decimal.Decimal `json:"liters"`
}

// PartnerMoveInput is a partner deposit or withdrawal in cash.
type PartnerMoveInput struct {
	PartnerID uuid.UUID       `json:"partner_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

// Receipt is one collected amount on a payment channel.
type Receipt struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// CashMoveInput is a plain cash movement such as a bank deposit run.
type CashMoveInput struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// EmployeeAdvanceInput is a salary advance paid out of the till.
type EmployeeAdvanceInput struct {
	EmployeeID uuid.UUID       `json:"employee_id" validate:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
}

// AmanatInput is a trust-deposit disbursement paid out of the till.
type AmanatInput struct {
	CustomerID uuid.UUID       `json:"customer_id" validate:"required"`
	Amount     decimal.Decimal `json:"amount"`
}

// ExpenseInput is a till expense posted to a caller-chosen account. Lines
// without an account are logged and skipped rather than aborting the close.
type ExpenseInput struct {
	AccountID   uuid.UUID       `json:"account_id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// CloseResult is the outcome of a processed close.
type CloseResult struct {
	TransactionID     uuid.UUID
	TransactionNumber string
	Metadata          map[string]any
}

// AmendResult links the three entries an amendment produces.
type AmendResult struct {
	OriginalID       uuid.UUID
	OriginalNumber   string
	ReversalID       uuid.UUID
	ReversalNumber   string
	CorrectionID     uuid.UUID
	CorrectionNumber string
}

// PreviousClosing reports the closing cash carried into a date.
type PreviousClosing struct {
	Date        time.Time
	ClosingCash decimal.Decimal
	Exists      bool
}

// CloseSummary is one row of the close history view.
type CloseSummary struct {
	ID            uuid.UUID
	Number        string
	Date          time.Time
	OpeningCash   decimal.Decimal
	ClosingCash   decimal.Decimal
	TotalRevenue  decimal.Decimal
	Variance      decimal.Decimal
	IsLocked      bool
	IsAmendable   bool
	HasAmendments bool
}

// FuelCategoryTotals accumulates per-category sales for the metadata
// snapshot.
type FuelCategoryTotals struct {
	Liters  decimal.Decimal `json:"liters"`
	Revenue decimal.Decimal `json:"revenue"`
	COGS    decimal.Decimal `json:"cogs"`
}

// TankVarianceSummary is one tank's posted variance as recorded in the
// metadata snapshot.
type TankVarianceSummary struct {
	TankName string               `json:"tank_name"`
	ItemName string               `json:"item_name"`
	Type     tankvar.VarianceType `json:"type"`
	Liters   decimal.Decimal      `json:"liters"`
	Amount   decimal.Decimal      `json:"amount"`
}

var (
	// ErrNegativeCash indicates a negative opening or closing cash figure.
	ErrNegativeCash = errors.New("dailyclose: opening and closing cash must not be negative")
	// ErrNegativeAmount indicates a negative amount on a nested line.
	ErrNegativeAmount = errors.New("dailyclose: amounts must not be negative")
	// ErrNoLiters indicates a shift close with no fuel volume at all.
	ErrNoLiters = errors.New("dailyclose: enter liters sold for at least one fuel item")
)

// MissingRateError indicates a fuel line with liters but no sale rate and
// no rate history to fall back on.
type MissingRateError struct {
	ItemID uuid.UUID
	Date   time.Time
}

func (e *MissingRateError) Error() string {
	return fmt.Sprintf("dailyclose: no sale rate available for item %s on %s",
		e.ItemID, e.Date.Format("2006-01-02"))
}

// MissingCostError indicates a fuel item without a weighted average cost;
// COGS cannot be derived until purchases are recorded.
type MissingCostError struct {
	ItemName string
}

func (e *MissingCostError) Error() string {
	return fmt.Sprintf("dailyclose: average cost is missing for %s; record purchases before closing", e.ItemName)
}

// Validate checks structural requirements plus the decimal sign rules the
// struct tags cannot express.
func (r CloseRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if r.OpeningCash.IsNegative() || r.ClosingCash.IsNegative() {
		return ErrNegativeCash
	}
	for _, n := range r.NozzleReadings {
		if n.LitersSold.IsNegative() {
			return ErrNegativeAmount
		}
		if n.LitersSold.IsPositive() && !n.SaleRate.IsPositive() {
			return &MissingRateError{ItemID: n.ItemID, Date: r.Date}
		}
	}
	for _, s := range r.OtherSales {
		if s.Amount.IsNegative() {
			return ErrNegativeAmount
		}
	}
	var flat []decimal.Decimal
	for _, v := range r.PartnerDeposits {
		flat = append(flat, v.Amount)
	}
	for _, v := range r.BankDeposits {
		flat = append(flat, v.Amount)
	}
	for _, v := range r.PartnerWithdrawals {
		flat = append(flat, v.Amount)
	}
	for _, v := range r.EmployeeAdvances {
		flat = append(flat, v.Amount)
	}
	for _, v := range r.AmanatDisbursements {
		flat = append(flat, v.Amount)
	}
	for _, entries := range r.PaymentReceipts {
		for _, entry := range entries {
			flat = append(flat, entry.Amount)
		}
	}
	for _, amount := range flat {
		if amount.IsNegative() {
			return ErrNegativeAmount
		}
	}
	return nil
}
