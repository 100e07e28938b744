// Package fees computes withdrawal fees per asset and chain
package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/orbitax/custody/internal/custody/interfaces"
)

// AssetSchedule holds the fee table for one asset class
type AssetSchedule struct {
	DefaultChain interfaces.Chain
	// Fees is the flat withdrawal fee per supported chain
	Fees map[interfaces.Chain]decimal.Decimal
}

// Schedule maps asset classes to their fee tables. A Schedule is immutable
// after construction; swapping schedules means constructing a new Calculator.
type Schedule map[interfaces.Asset]AssetSchedule

// DefaultSchedule returns the built-in fee schedule used when configuration
// does not override it. Stablecoins settle on Ethereum or Polygon with
// chain-specific fees.
func DefaultSchedule() Schedule {
	return Schedule{
		interfaces.AssetBTC: {
			DefaultChain: interfaces.ChainBitcoin,
			Fees: map[interfaces.Chain]decimal.Decimal{
				interfaces.ChainBitcoin: decimal.RequireFromString("0.0005"),
			},
		},
		interfaces.AssetETH: {
			DefaultChain: interfaces.ChainEthereum,
			Fees: map[interfaces.Chain]decimal.Decimal{
				interfaces.ChainEthereum: decimal.RequireFromString("0.005"),
			},
		},
		interfaces.AssetUSDC: {
			DefaultChain: interfaces.ChainEthereum,
			Fees: map[interfaces.Chain]decimal.Decimal{
				interfaces.ChainEthereum: decimal.RequireFromString("5"),
				interfaces.ChainPolygon:  decimal.RequireFromString("1"),
			},
		},
		interfaces.AssetUSDT: {
			DefaultChain: interfaces.ChainEthereum,
			Fees: map[interfaces.Chain]decimal.Decimal{
				interfaces.ChainEthereum: decimal.RequireFromString("5"),
				interfaces.ChainPolygon:  decimal.RequireFromString("1"),
			},
		},
	}
}

// Calculator resolves fees from a fixed schedule. All methods are pure and
// safe for concurrent use, so a single instance serves the whole process.
type Calculator struct {
	schedule Schedule
}

// NewCalculator creates a fee calculator over the given schedule
func NewCalculator(schedule Schedule) *Calculator {
	if schedule == nil {
		schedule = DefaultSchedule()
	}
	return &Calculator{schedule: schedule}
}

// DefaultChain returns the chain used when a withdrawal does not name one
func (c *Calculator) DefaultChain(asset interfaces.Asset) (interfaces.Chain, error) {
	s, ok := c.schedule[asset]
	if !ok {
		return "", fmt.Errorf("no fee schedule for asset %s: %w", asset, interfaces.ErrValidation)
	}
	return s.DefaultChain, nil
}

// Calculate returns the fee and net received amount for a withdrawal.
// receivedAmount = amount - fee; a fee that meets or exceeds the amount
// fails with ErrInsufficientAmount instead of going negative.
func (c *Calculator) Calculate(asset interfaces.Asset, amount decimal.Decimal, chain interfaces.Chain) (*interfaces.FeeQuote, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be positive: %w", interfaces.ErrValidation)
	}

	s, ok := c.schedule[asset]
	if !ok {
		return nil, fmt.Errorf("no fee schedule for asset %s: %w", asset, interfaces.ErrValidation)
	}
	if chain == "" {
		chain = s.DefaultChain
	}

	fee, ok := s.Fees[chain]
	if !ok {
		return nil, fmt.Errorf("asset %s not supported on chain %s: %w", asset, chain, interfaces.ErrValidation)
	}

	if fee.GreaterThanOrEqual(amount) {
		return nil, fmt.Errorf("fee %s >= amount %s: %w", fee, amount, interfaces.ErrInsufficientAmount)
	}

	return &interfaces.FeeQuote{
		Asset:          asset,
		Chain:          chain,
		Fee:            fee,
		ReceivedAmount: amount.Sub(fee),
	}, nil
}
