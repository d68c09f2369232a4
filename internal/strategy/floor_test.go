package strategy

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

var (
	testPool       = common.HexToAddress("0x0000000000000000000000000000000000000001")
	testQuoteToken = common.HexToAddress("0x0000000000000000000000000000000000000002")
	testProxyToken = common.HexToAddress("0x0000000000000000000000000000000000000003")
	testPriceFeed  = common.HexToAddress("0x0000000000000000000000000000000000000004")
	testGasFeed    = common.HexToAddress("0x0000000000000000000000000000000000000005")
)

// fakeReserves implements pool.Reader over fixed balances.
type fakeReserves struct {
	quote *big.Int
	proxy *big.Int
}

func (f *fakeReserves) ReserveOf(ctx context.Context, pool, token common.Address) (*big.Int, error) {
	if token == testQuoteToken {
		return new(big.Int).Set(f.quote), nil
	}
	return new(big.Int).Set(f.proxy), nil
}

// fakePrices implements oracle.PriceSource with per-feed answers.
type fakePrices struct {
	answers map[common.Address]*big.Int
	err     error
}

func (f *fakePrices) LatestPrice(ctx context.Context, feed common.Address) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	answer, ok := f.answers[feed]
	if !ok {
		return nil, errors.New("no answer configured for feed")
	}
	return new(big.Int).Set(answer), nil
}

func testFloorConfig() FloorConfig {
	return FloorConfig{
		Pool:              testPool,
		QuoteToken:        testQuoteToken,
		ProxyToken:        testProxyToken,
		PriceFeed:         testPriceFeed,
		PriceFeedDecimals: 8,
	}
}

func TestFloorEstimate(t *testing.T) {
	reserves := &fakeReserves{quote: big.NewInt(1000), proxy: big.NewInt(10)}
	prices := &fakePrices{answers: map[common.Address]*big.Int{
		testPriceFeed: big.NewInt(200_000_000), // 2.0 at 8 decimals
	}}

	estimator := NewFloorEstimator(reserves, prices, testFloorConfig(), zerolog.Nop())

	floorQuote, floorBase, err := estimator.EstimateParts(context.Background())
	if err != nil {
		t.Fatalf("estimate failed: %v", err)
	}

	wantQuote := new(big.Int).Mul(big.NewInt(100), WAD)
	if floorQuote.Cmp(wantQuote) != 0 {
		t.Fatalf("floor quote: expected %s, got %s", wantQuote, floorQuote)
	}
	wantBase := new(big.Int).Mul(big.NewInt(200), WAD)
	if floorBase.Cmp(wantBase) != 0 {
		t.Fatalf("floor base: expected %s, got %s", wantBase, floorBase)
	}
}

func TestFloorEstimateEmptyPool(t *testing.T) {
	reserves := &fakeReserves{quote: big.NewInt(1000), proxy: new(big.Int)}
	prices := &fakePrices{answers: map[common.Address]*big.Int{
		testPriceFeed: big.NewInt(100_000_000),
	}}

	estimator := NewFloorEstimator(reserves, prices, testFloorConfig(), zerolog.Nop())

	if _, err := estimator.Estimate(context.Background()); !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("expected ErrEmptyPool, got %v", err)
	}
}

func TestFloorEstimateOracleFailure(t *testing.T) {
	reserves := &fakeReserves{quote: big.NewInt(1000), proxy: big.NewInt(10)}
	oracleErr := errors.New("feed unavailable")
	prices := &fakePrices{err: oracleErr}

	estimator := NewFloorEstimator(reserves, prices, testFloorConfig(), zerolog.Nop())

	if _, err := estimator.Estimate(context.Background()); !errors.Is(err, oracleErr) {
		t.Fatalf("oracle failure must propagate, got %v", err)
	}
}
