package strategy

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"loankeeper/internal/oracle"
	"loankeeper/internal/pool"
)

// ErrEmptyPool indicates the pool holds no collateral-proxy tokens, leaving
// the reserve ratio undefined. This is a hard failure: the caller must not
// reprice on it and should keep the previous offer live.
var ErrEmptyPool = errors.New("strategy: pool has zero proxy-token reserve")

// FloorConfig locates the pricing pool and oracle feed.
type FloorConfig struct {
	// Pool is the paired liquidity pool whose reserve ratio approximates the
	// collection floor.
	Pool common.Address
	// QuoteToken is the pool's quote-asset side.
	QuoteToken common.Address
	// ProxyToken is the pool's collateral-proxy side (one token per floor
	// item).
	ProxyToken common.Address
	// PriceFeed quotes base asset per quote asset.
	PriceFeed common.Address
	// PriceFeedDecimals is the feed's native fixed-point precision.
	PriceFeedDecimals uint8
}

// FloorEstimator derives a floor valuation of the collateral collection from
// the pool reserve ratio and the price oracle.
type FloorEstimator struct {
	pools  pool.Reader
	prices oracle.PriceSource
	cfg    FloorConfig
	logger zerolog.Logger
}

// NewFloorEstimator builds a floor price estimator.
func NewFloorEstimator(pools pool.Reader, prices oracle.PriceSource, cfg FloorConfig, logger zerolog.Logger) *FloorEstimator {
	return &FloorEstimator{
		pools:  pools,
		prices: prices,
		cfg:    cfg,
		logger: logger.With().Str("component", "floor_estimator").Logger(),
	}
}

// Estimate returns the current floor price in base-asset units (WAD scaled):
// WAD * quoteReserve / proxyReserve, converted through the oracle's latest
// quote price. Every failure propagates; there is no default price.
func (e *FloorEstimator) Estimate(ctx context.Context) (*big.Int, error) {
	_, floorBase, err := e.EstimateParts(ctx)
	return floorBase, err
}

// EstimateParts returns both the quote-denominated and base-denominated floor
// prices for the same observation.
func (e *FloorEstimator) EstimateParts(ctx context.Context) (floorQuote, floorBase *big.Int, err error) {
	quoteReserve, err := e.pools.ReserveOf(ctx, e.cfg.Pool, e.cfg.QuoteToken)
	if err != nil {
		return nil, nil, fmt.Errorf("read quote reserve: %w", err)
	}
	proxyReserve, err := e.pools.ReserveOf(ctx, e.cfg.Pool, e.cfg.ProxyToken)
	if err != nil {
		return nil, nil, fmt.Errorf("read proxy reserve: %w", err)
	}
	if proxyReserve.Sign() == 0 {
		return nil, nil, ErrEmptyPool
	}

	floorQuote = new(big.Int).Mul(WAD, quoteReserve)
	floorQuote.Quo(floorQuote, proxyReserve)

	price, err := e.prices.LatestPrice(ctx, e.cfg.PriceFeed)
	if err != nil {
		return nil, nil, fmt.Errorf("read quote price: %w", err)
	}

	floorBase = new(big.Int).Mul(floorQuote, price)
	floorBase.Quo(floorBase, pow10(e.cfg.PriceFeedDecimals))

	e.logger.Debug().
		Str("floor_quote", floorQuote.String()).
		Str("floor_base", floorBase.String()).
		Msg("floor price estimated")

	return floorQuote, floorBase, nil
}
