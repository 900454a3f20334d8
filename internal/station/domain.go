package station

import (
	"github.com/google/uuid"

	"github.com/stationledger/stationledger/internal/coa"
)

// Payment channel types. A channel's type decides which clearing account
// its daily-close receipts land on.
const (
	ChannelCash         = "cash"
	ChannelBankTransfer = "bank_transfer"
	ChannelCardPOS      = "card_pos"
	ChannelFuelCard     = "fuel_card"
	ChannelMobileWallet = "mobile_wallet"
)

// DefaultCurrency applies when a company has no configured base currency.
const DefaultCurrency = "PKR"

// PaymentChannel is one configured non-cash collection channel, e.g.
// {"easypaisa", "mobile_wallet"} or {"hbl_pos", "card_pos"}.
type PaymentChannel struct {
	Code string `json:"code"`
	Type string `json:"type"`
}

// Settings carries a station's per-company configuration: base currency,
// explicit account-role overrides, and the payment channel list. The zero
// value is a valid unconfigured station.
type Settings struct {
	CompanyID        uuid.UUID
	BaseCurrency     string
	AccountOverrides coa.Overrides
	PaymentChannels  []PaymentChannel
}

// Currency returns the configured base currency or the default.
func (s Settings) Currency() string {
	if s.BaseCurrency == "" {
		return DefaultCurrency
	}
	return s.BaseCurrency
}

// ChannelType reports the configured type for a channel code. Unknown
// codes are treated as bank transfers.
func (s Settings) ChannelType(code string) string {
	for _, ch := range s.PaymentChannels {
		if ch.Code == code {
			return ch.Type
		}
	}
	return ChannelBankTransfer
}
