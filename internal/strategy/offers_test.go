package strategy

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"loankeeper/internal/lending"
)

// recordingProtocol counts protocol calls and hands out deterministic hashes.
type recordingProtocol struct {
	creates int
	removes int
	removed []common.Hash
}

func (r *recordingProtocol) SupplyAsset(ctx context.Context, asset common.Address, amount *big.Int) error {
	return nil
}

func (r *recordingProtocol) WithdrawAsset(ctx context.Context, asset common.Address, amount *big.Int) error {
	return nil
}

func (r *recordingProtocol) CAssetBalance(ctx context.Context, holder, cAsset common.Address) (*big.Int, error) {
	return new(big.Int), nil
}

func (r *recordingProtocol) CAssetToAsset(ctx context.Context, cAsset common.Address, amount *big.Int) (*big.Int, error) {
	return new(big.Int).Set(amount), nil
}

func (r *recordingProtocol) AssetToCAsset(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	return new(big.Int).Set(amount), nil
}

func (r *recordingProtocol) CreateOffer(ctx context.Context, offer lending.Offer) (common.Hash, error) {
	r.creates++
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("offer-%d", r.creates))), nil
}

func (r *recordingProtocol) RemoveOffer(ctx context.Context, collection common.Address, index uint64, hash common.Hash, floorTerm bool) error {
	r.removes++
	r.removed = append(r.removed, hash)
	return nil
}

func (r *recordingProtocol) Seize(ctx context.Context, collection common.Address, itemID *big.Int) error {
	return nil
}

var _ lending.Protocol = (*recordingProtocol)(nil)

func testOfferTemplate() lending.Offer {
	return lending.Offer{
		Creator:               common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Collection:            common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		Duration:              30 * 24 * time.Hour,
		FloorTerm:             true,
		LenderOffer:           true,
		Asset:                 common.HexToAddress("0x00000000000000000000000000000000000000cc"),
		InterestRatePerSecond: big.NewInt(1),
	}
}

func testManager(t *testing.T, protocol lending.Protocol, prices *fakePrices) (*Manager, *State, *time.Time) {
	t.Helper()
	state := newTestState(t)

	reserves := &fakeReserves{quote: big.NewInt(1000), proxy: big.NewInt(10)}
	floor := NewFloorEstimator(reserves, prices, testFloorConfig(), zerolog.Nop())

	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	manager := NewManager(protocol, floor, state, testOfferTemplate(), zerolog.Nop()).
		WithClock(func() time.Time { return now })
	return manager, state, &now
}

func setPrice(prices *fakePrices, value int64) {
	prices.answers[testPriceFeed] = big.NewInt(value)
}

func TestManagerIssuesFirstOffer(t *testing.T) {
	protocol := &recordingProtocol{}
	prices := &fakePrices{answers: map[common.Address]*big.Int{}}
	setPrice(prices, 100_000_000)

	manager, state, _ := testManager(t, protocol, prices)

	repriced, floorPrice, err := manager.MaybeReprice(context.Background())
	if err != nil {
		t.Fatalf("first reprice failed: %v", err)
	}
	if !repriced {
		t.Fatal("first cycle must issue an offer")
	}

	// Floor is 100 WAD; a 25% collateral ratio offers 25 WAD.
	wantAmount := new(big.Int).Mul(big.NewInt(25), WAD)
	offer := manager.Offer()
	if offer.Amount.Cmp(wantAmount) != 0 {
		t.Fatalf("expected offer amount %s, got %s", wantAmount, offer.Amount)
	}
	if protocol.creates != 1 || protocol.removes != 0 {
		t.Fatalf("expected 1 create and 0 removes, got %d/%d", protocol.creates, protocol.removes)
	}
	if state.LastFloorPrice().Cmp(floorPrice) != 0 {
		t.Fatal("state must record the floor price behind the offer")
	}
}

func TestManagerKeepsOfferWithinDelta(t *testing.T) {
	protocol := &recordingProtocol{}
	prices := &fakePrices{answers: map[common.Address]*big.Int{}}
	setPrice(prices, 100_000_000)

	manager, _, _ := testManager(t, protocol, prices)

	if _, _, err := manager.MaybeReprice(context.Background()); err != nil {
		t.Fatalf("first reprice failed: %v", err)
	}

	// A 0.5% move stays inside the 1% tolerance.
	setPrice(prices, 100_500_000)
	repriced, _, err := manager.MaybeReprice(context.Background())
	if err != nil {
		t.Fatalf("second cycle failed: %v", err)
	}
	if repriced {
		t.Fatal("move within tolerance must not reprice")
	}
	if protocol.creates != 1 {
		t.Fatalf("expected no additional creates, got %d", protocol.creates)
	}
}

func TestManagerRepricesBeyondDelta(t *testing.T) {
	protocol := &recordingProtocol{}
	prices := &fakePrices{answers: map[common.Address]*big.Int{}}
	setPrice(prices, 100_000_000)

	manager, _, _ := testManager(t, protocol, prices)

	if _, _, err := manager.MaybeReprice(context.Background()); err != nil {
		t.Fatalf("first reprice failed: %v", err)
	}
	firstHash := manager.Offer().Hash

	// A 1.5% move breaches the 1% tolerance.
	setPrice(prices, 101_500_000)
	repriced, _, err := manager.MaybeReprice(context.Background())
	if err != nil {
		t.Fatalf("second cycle failed: %v", err)
	}
	if !repriced {
		t.Fatal("move beyond tolerance must reprice")
	}
	if protocol.creates != 2 || protocol.removes != 1 {
		t.Fatalf("expected 2 creates and 1 remove, got %d/%d", protocol.creates, protocol.removes)
	}
	if protocol.removed[0] != firstHash {
		t.Fatal("the previous offer must be the one cancelled")
	}
}

func TestManagerRepricesExpiredOffer(t *testing.T) {
	protocol := &recordingProtocol{}
	prices := &fakePrices{answers: map[common.Address]*big.Int{}}
	setPrice(prices, 100_000_000)

	manager, _, now := testManager(t, protocol, prices)

	if _, _, err := manager.MaybeReprice(context.Background()); err != nil {
		t.Fatalf("first reprice failed: %v", err)
	}

	// Price unchanged but the offer expired: replace it. No on-chain cancel
	// is needed for a dead offer.
	*now = (*now).Add(8 * 24 * time.Hour)
	repriced, _, err := manager.MaybeReprice(context.Background())
	if err != nil {
		t.Fatalf("reprice after expiry failed: %v", err)
	}
	if !repriced {
		t.Fatal("expired offer must be replaced even with an unchanged price")
	}
	if protocol.removes != 0 {
		t.Fatalf("expired offers need no removal, got %d removes", protocol.removes)
	}
	if protocol.creates != 2 {
		t.Fatalf("expected 2 creates, got %d", protocol.creates)
	}
}

func TestManagerCancelIdempotent(t *testing.T) {
	protocol := &recordingProtocol{}
	prices := &fakePrices{answers: map[common.Address]*big.Int{}}
	setPrice(prices, 100_000_000)

	manager, _, _ := testManager(t, protocol, prices)

	if err := manager.Cancel(context.Background()); err != nil {
		t.Fatalf("cancelling with no offer must be a no-op: %v", err)
	}
	if protocol.removes != 0 {
		t.Fatal("no-offer cancel must not call the protocol")
	}

	if _, _, err := manager.MaybeReprice(context.Background()); err != nil {
		t.Fatalf("reprice failed: %v", err)
	}
	if err := manager.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if err := manager.Cancel(context.Background()); err != nil {
		t.Fatalf("repeated cancel must be a no-op: %v", err)
	}
	if protocol.removes != 1 {
		t.Fatalf("expected exactly 1 remove, got %d", protocol.removes)
	}
	if manager.OfferState(time.Now()) != NoOffer {
		t.Fatal("cancelled offer must leave the no-offer state")
	}
}

func TestManagerIssueDisabled(t *testing.T) {
	protocol := &recordingProtocol{}
	prices := &fakePrices{answers: map[common.Address]*big.Int{}}
	setPrice(prices, 100_000_000)

	manager, state, _ := testManager(t, protocol, prices)
	state.SetOffersEnabled(false)

	_, _, err := manager.MaybeReprice(context.Background())
	if !errors.Is(err, ErrOffersDisabled) {
		t.Fatalf("expected ErrOffersDisabled, got %v", err)
	}
	if protocol.creates != 0 {
		t.Fatal("disabled issuance must not reach the protocol")
	}
}

func TestManagerDisabledKeepsStandingOffer(t *testing.T) {
	protocol := &recordingProtocol{}
	prices := &fakePrices{answers: map[common.Address]*big.Int{}}
	setPrice(prices, 100_000_000)

	manager, state, _ := testManager(t, protocol, prices)

	if _, _, err := manager.MaybeReprice(context.Background()); err != nil {
		t.Fatalf("first reprice failed: %v", err)
	}
	standing := manager.Offer().Hash

	// Issuance disabled while the price breaches the tolerance: the cycle
	// must abort without touching the standing offer.
	state.SetOffersEnabled(false)
	setPrice(prices, 101_500_000)

	_, _, err := manager.MaybeReprice(context.Background())
	if !errors.Is(err, ErrOffersDisabled) {
		t.Fatalf("expected ErrOffersDisabled, got %v", err)
	}
	if protocol.removes != 0 {
		t.Fatalf("disabled cycle must not cancel on-chain, got %d removes", protocol.removes)
	}
	if manager.OfferState(manager.clock()) != Active {
		t.Fatal("standing offer must stay active")
	}
	if manager.Offer().Hash != standing {
		t.Fatal("standing offer must be untouched")
	}
}

func TestManagerRepricesAtGivenObservation(t *testing.T) {
	protocol := &recordingProtocol{}
	// The estimator's oracle is down; the supplied observation alone must
	// drive the issued terms.
	prices := &fakePrices{err: errors.New("feed unavailable")}

	manager, state, _ := testManager(t, protocol, prices)

	floorPrice := new(big.Int).Mul(big.NewInt(200), WAD)
	repriced, err := manager.MaybeRepriceAt(context.Background(), floorPrice)
	if err != nil {
		t.Fatalf("reprice at observation failed: %v", err)
	}
	if !repriced {
		t.Fatal("first cycle must issue an offer")
	}

	wantAmount := new(big.Int).Mul(big.NewInt(50), WAD)
	if manager.Offer().Amount.Cmp(wantAmount) != 0 {
		t.Fatalf("expected offer amount %s, got %s", wantAmount, manager.Offer().Amount)
	}
	if state.LastFloorPrice().Cmp(floorPrice) != 0 {
		t.Fatal("state must record the supplied observation")
	}
}
