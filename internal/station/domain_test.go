package station

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCurrencyDefault(t *testing.T) {
	require.Equal(t, DefaultCurrency, Settings{}.Currency())
	require.Equal(t, "AED", Settings{BaseCurrency: "AED"}.Currency())
}

func TestChannelTypeFallsBackToBank(t *testing.T) {
	s := Settings{PaymentChannels: []PaymentChannel{
		{Code: "hbl_pos", Type: ChannelCardPOS},
		{Code: "parco", Type: ChannelFuelCard},
		{Code: "easypaisa", Type: ChannelMobileWallet},
	}}

	require.Equal(t, ChannelCardPOS, s.ChannelType("hbl_pos"))
	require.Equal(t, ChannelFuelCard, s.ChannelType("parco"))
	require.Equal(t, ChannelMobileWallet, s.ChannelType("easypaisa"))
	require.Equal(t, ChannelBankTransfer, s.ChannelType("alfalah"))
}
