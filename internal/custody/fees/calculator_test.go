package fees

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitax/custody/internal/custody/interfaces"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateReceivedAmount(t *testing.T) {
	calc := NewCalculator(Schedule{
		interfaces.AssetETH: {
			DefaultChain: interfaces.ChainEthereum,
			Fees: map[interfaces.Chain]decimal.Decimal{
				interfaces.ChainEthereum: dec("1"),
			},
		},
	})

	quote, err := calc.Calculate(interfaces.AssetETH, dec("100"), interfaces.ChainEthereum)
	require.NoError(t, err)
	assert.True(t, quote.Fee.Equal(dec("1")))
	assert.True(t, quote.ReceivedAmount.Equal(dec("99")))
	assert.Equal(t, interfaces.ChainEthereum, quote.Chain)
}

func TestCalculateIsDeterministic(t *testing.T) {
	calc := NewCalculator(nil)

	first, err := calc.Calculate(interfaces.AssetUSDC, dec("250"), interfaces.ChainPolygon)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := calc.Calculate(interfaces.AssetUSDC, dec("250"), interfaces.ChainPolygon)
		require.NoError(t, err)
		assert.True(t, first.Fee.Equal(again.Fee))
		assert.True(t, first.ReceivedAmount.Equal(again.ReceivedAmount))
	}
}

func TestCalculateInsufficientAmount(t *testing.T) {
	calc := NewCalculator(Schedule{
		interfaces.AssetBTC: {
			DefaultChain: interfaces.ChainBitcoin,
			Fees: map[interfaces.Chain]decimal.Decimal{
				interfaces.ChainBitcoin: dec("0.6"),
			},
		},
	})

	// fee > amount
	_, err := calc.Calculate(interfaces.AssetBTC, dec("0.5"), interfaces.ChainBitcoin)
	assert.ErrorIs(t, err, interfaces.ErrInsufficientAmount)

	// fee == amount is also rejected
	_, err = calc.Calculate(interfaces.AssetBTC, dec("0.6"), interfaces.ChainBitcoin)
	assert.ErrorIs(t, err, interfaces.ErrInsufficientAmount)

	// fee < amount succeeds
	quote, err := calc.Calculate(interfaces.AssetBTC, dec("0.61"), interfaces.ChainBitcoin)
	require.NoError(t, err)
	assert.True(t, quote.ReceivedAmount.Equal(dec("0.01")))
}

func TestCalculateRejectsBadInput(t *testing.T) {
	calc := NewCalculator(nil)

	_, err := calc.Calculate(interfaces.AssetETH, dec("0"), "")
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	_, err = calc.Calculate(interfaces.AssetETH, dec("-5"), "")
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	_, err = calc.Calculate(interfaces.Asset("DOGE"), dec("10"), "")
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	// ETH is not offered on Polygon in the default schedule
	_, err = calc.Calculate(interfaces.AssetETH, dec("10"), interfaces.ChainPolygon)
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestDefaultChain(t *testing.T) {
	calc := NewCalculator(nil)

	chain, err := calc.DefaultChain(interfaces.AssetUSDT)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ChainEthereum, chain)

	chain, err = calc.DefaultChain(interfaces.AssetBTC)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ChainBitcoin, chain)

	_, err = calc.DefaultChain(interfaces.Asset("XRP"))
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestOmittedChainUsesDefault(t *testing.T) {
	calc := NewCalculator(nil)

	quote, err := calc.Calculate(interfaces.AssetUSDC, dec("100"), "")
	require.NoError(t, err)
	assert.Equal(t, interfaces.ChainEthereum, quote.Chain)
	assert.True(t, quote.Fee.Equal(dec("5")))
}
