package strategy

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"loankeeper/internal/oracle"
)

// ProfitConfig locates the gas and price feeds and their native precisions.
// The reference deployment uses an 8-decimal quote feed and a 9-decimal gas
// feed; both are explicit configuration here, never inlined.
type ProfitConfig struct {
	GasFeed           common.Address
	GasFeedDecimals   uint8
	PriceFeed         common.Address
	PriceFeedDecimals uint8
	// MinProfitMargin is a WAD fraction of assets under management that the
	// projected profit must clear before new offers are issued. Nil or zero
	// keeps the bare profitability > 0 check.
	MinProfitMargin *big.Int
	// MaxAttestationAge bounds how old attested inputs may be. Zero disables
	// the bound.
	MaxAttestationAge time.Duration
}

// ProfitEstimator weighs projected monthly yield against projected gas
// expenditure.
type ProfitEstimator struct {
	prices oracle.PriceSource
	state  *State
	cfg    ProfitConfig
	clock  func() time.Time
	logger zerolog.Logger
}

// NewProfitEstimator builds a profitability estimator.
func NewProfitEstimator(prices oracle.PriceSource, state *State, cfg ProfitConfig, logger zerolog.Logger) *ProfitEstimator {
	return &ProfitEstimator{
		prices: prices,
		state:  state,
		cfg:    cfg,
		clock:  time.Now,
		logger: logger.With().Str("component", "profit_estimator").Logger(),
	}
}

// WithClock overrides the time source.
func (p *ProfitEstimator) WithClock(clock func() time.Time) *ProfitEstimator {
	p.clock = clock
	return p
}

// MonthlyGasUnits projects gas consumption from the attested operation counts
// and the configured per-operation estimates.
func (p *ProfitEstimator) MonthlyGasUnits(in AttestedInputs) *big.Int {
	createGas, removeGas := p.state.GasEstimates()
	units := new(big.Int).Mul(new(big.Int).SetUint64(in.OffersInLastMonth), new(big.Int).SetUint64(createGas))
	removes := new(big.Int).Mul(new(big.Int).SetUint64(in.RemovesInLastMonth), new(big.Int).SetUint64(removeGas))
	return units.Add(units, removes)
}

// MonthlyGasCost projects gas expenditure in base-asset units:
// units * gasPrice * quotePrice, rescaled by both feeds' precisions.
func (p *ProfitEstimator) MonthlyGasCost(ctx context.Context, in AttestedInputs) (*big.Int, error) {
	gasPrice, err := p.prices.LatestPrice(ctx, p.cfg.GasFeed)
	if err != nil {
		return nil, fmt.Errorf("read gas price: %w", err)
	}
	quotePrice, err := p.prices.LatestPrice(ctx, p.cfg.PriceFeed)
	if err != nil {
		return nil, fmt.Errorf("read quote price: %w", err)
	}

	cost := p.MonthlyGasUnits(in)
	cost.Mul(cost, gasPrice)
	cost.Mul(cost, quotePrice)
	cost.Quo(cost, pow10(p.cfg.GasFeedDecimals))
	cost.Quo(cost, pow10(p.cfg.PriceFeedDecimals))
	return cost, nil
}

// Profitability is the signed difference between the attested monthly profit
// potential and the projected gas cost. Stale attestations are an error, not
// a zero.
func (p *ProfitEstimator) Profitability(ctx context.Context, in AttestedInputs) (*big.Int, error) {
	if in.Stale(p.clock(), p.cfg.MaxAttestationAge) {
		return nil, fmt.Errorf("%w: attested at %s", ErrStaleAttestation, in.AttestedAt)
	}

	cost, err := p.MonthlyGasCost(ctx, in)
	if err != nil {
		return nil, err
	}

	potential := in.ThirtyDayProfitPotential
	if potential == nil {
		potential = new(big.Int)
	}
	return new(big.Int).Sub(potential, cost), nil
}

// IsProfitable reports whether projected profit clears the margin floor:
// with no margin configured the floor is zero, otherwise it is
// totalAssets * MinProfitMargin / WAD.
func (p *ProfitEstimator) IsProfitable(ctx context.Context, in AttestedInputs, totalAssets *big.Int) (bool, error) {
	prof, err := p.Profitability(ctx, in)
	if err != nil {
		return false, err
	}

	floor := new(big.Int)
	if p.cfg.MinProfitMargin != nil && p.cfg.MinProfitMargin.Sign() > 0 && totalAssets != nil {
		floor.Mul(totalAssets, p.cfg.MinProfitMargin)
		floor.Quo(floor, WAD)
	}

	profitable := prof.Cmp(floor) > 0
	p.logger.Debug().
		Str("profitability", prof.String()).
		Str("margin_floor", floor.String()).
		Bool("profitable", profitable).
		Msg("profitability evaluated")
	return profitable, nil
}
