package tankvar

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReadingStatus enumerates the tank reading lifecycle.
type ReadingStatus string

const (
	// StatusDraft is a freshly captured dip measurement.
	StatusDraft ReadingStatus = "draft"
	// StatusConfirmed means a supervisor verified the dip.
	StatusConfirmed ReadingStatus = "confirmed"
	// StatusPosted means the variance entry hit the ledger.
	StatusPosted ReadingStatus = "posted"
)

// VarianceType classifies a dip-vs-system difference.
type VarianceType string

const (
	VarianceLoss VarianceType = "loss"
	VarianceGain VarianceType = "gain"
	VarianceNone VarianceType = "none"
)

// DeadBandLiters is the classification dead band. Differences within half
// a liter are measurement noise, not real shrinkage or gain.
var DeadBandLiters = decimal.New(5, -1)

// TankReading is one physical dip measurement against a tank.
type TankReading struct {
	ID             uuid.UUID
	CompanyID      uuid.UUID
	TankID         uuid.UUID
	ItemID         uuid.UUID
	ReadingDate    time.Time
	DipLiters      decimal.Decimal
	SystemLiters   decimal.Decimal
	VarianceLiters decimal.Decimal
	VarianceType   VarianceType
	VarianceReason string
	Status         ReadingStatus
	JournalEntryID *uuid.UUID
	ConfirmedBy    *uuid.UUID
	ConfirmedAt    *time.Time
	PostedAt       *time.Time
	CreatedBy      uuid.UUID
	CreatedAt      time.Time
}

var (
	// ErrReadingNotFound indicates a missing tank reading.
	ErrReadingNotFound = errors.New("tankvar: tank reading not found")
	// ErrNotDraft guards the confirm transition.
	ErrNotDraft = errors.New("tankvar: only draft readings can be confirmed")
	// ErrNotConfirmed guards the post transition.
	ErrNotConfirmed = errors.New("tankvar: only confirmed readings can be posted")
)

// Classify maps a variance quantity onto loss/gain/none using the dead
// band.
func Classify(varianceLiters decimal.Decimal) VarianceType {
	switch {
	case varianceLiters.LessThan(DeadBandLiters.Neg()):
		return VarianceLoss
	case varianceLiters.GreaterThan(DeadBandLiters):
		return VarianceGain
	default:
		return VarianceNone
	}
}
