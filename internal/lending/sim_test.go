package lending

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestSimSupplyWithdrawRoundTrip(t *testing.T) {
	sim := NewSim(big.NewInt(1000), nil, nil)
	ctx := context.Background()

	if err := sim.SupplyAsset(ctx, common.Address{}, big.NewInt(400)); err != nil {
		t.Fatalf("supply failed: %v", err)
	}
	if sim.IdleBalance().Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("expected idle 600, got %s", sim.IdleBalance())
	}

	if err := sim.WithdrawAsset(ctx, common.Address{}, big.NewInt(400)); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if sim.IdleBalance().Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected idle 1000, got %s", sim.IdleBalance())
	}
}

func TestSimSupplyInsufficientIdle(t *testing.T) {
	sim := NewSim(big.NewInt(10), nil, nil)

	err := sim.SupplyAsset(context.Background(), common.Address{}, big.NewInt(11))
	if !errors.Is(err, ErrSimInsufficientIdle) {
		t.Fatalf("expected ErrSimInsufficientIdle, got %v", err)
	}
}

func TestSimWithdrawInsufficientCAssets(t *testing.T) {
	sim := NewSim(big.NewInt(0), big.NewInt(10), nil)

	err := sim.WithdrawAsset(context.Background(), common.Address{}, big.NewInt(11))
	if !errors.Is(err, ErrSimInsufficientCAssets) {
		t.Fatalf("expected ErrSimInsufficientCAssets, got %v", err)
	}
}

func TestSimExchangeRate(t *testing.T) {
	// 2.0 base units per collateralized unit.
	rate := new(big.Int).Mul(big.NewInt(2), simWAD)
	sim := NewSim(nil, big.NewInt(50), rate)

	out, err := sim.CAssetToAsset(context.Background(), common.Address{}, big.NewInt(50))
	if err != nil {
		t.Fatalf("conversion failed: %v", err)
	}
	if out.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected 100 base units, got %s", out)
	}

	back, err := sim.AssetToCAsset(context.Background(), common.Address{}, out)
	if err != nil {
		t.Fatalf("conversion failed: %v", err)
	}
	if back.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected 50 collateralized units, got %s", back)
	}
}

func TestSimOfferLifecycle(t *testing.T) {
	sim := NewSim(nil, nil, nil)
	ctx := context.Background()

	offer := Offer{
		Creator:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Collection: common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		Amount:     big.NewInt(100),
	}

	hash, err := sim.CreateOffer(ctx, offer)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if sim.LiveOffers() != 1 {
		t.Fatalf("expected 1 live offer, got %d", sim.LiveOffers())
	}

	if err := sim.RemoveOffer(ctx, offer.Collection, 0, hash, true); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if sim.LiveOffers() != 0 {
		t.Fatalf("expected no live offers, got %d", sim.LiveOffers())
	}

	if err := sim.RemoveOffer(ctx, offer.Collection, 0, hash, true); !errors.Is(err, ErrSimUnknownOffer) {
		t.Fatalf("expected ErrSimUnknownOffer, got %v", err)
	}
}
