package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var simWAD = big.NewInt(1_000_000_000_000_000_000)

// Errors surfaced by the simulator.
var (
	ErrSimInsufficientIdle    = errors.New("lending sim: insufficient idle balance")
	ErrSimInsufficientCAssets = errors.New("lending sim: insufficient collateralized balance")
	ErrSimUnknownOffer        = errors.New("lending sim: unknown offer hash")
)

// Sim is a deterministic in-memory lending protocol. It doubles as an
// erc20.BalanceSource so withdrawn funds show up in the controller's idle
// balance, letting the reconciliation paths run end to end without a chain.
type Sim struct {
	mu sync.Mutex

	// rate is base-asset units per collateralized-asset unit, WAD-scaled.
	rate     *big.Int
	idle     *big.Int
	cBalance *big.Int

	offers  map[common.Hash]Offer
	seized  []*big.Int
	removes int
	creates int
}

// NewSim builds a simulator with the given idle base-asset balance,
// collateralized-asset balance, and WAD-scaled exchange rate.
func NewSim(idle, cBalance, rateWAD *big.Int) *Sim {
	if rateWAD == nil || rateWAD.Sign() <= 0 {
		rateWAD = new(big.Int).Set(simWAD)
	}
	if idle == nil {
		idle = new(big.Int)
	}
	if cBalance == nil {
		cBalance = new(big.Int)
	}
	return &Sim{
		rate:     new(big.Int).Set(rateWAD),
		idle:     new(big.Int).Set(idle),
		cBalance: new(big.Int).Set(cBalance),
		offers:   make(map[common.Hash]Offer),
	}
}

func (s *Sim) cToAsset(amount *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, s.rate)
	return out.Quo(out, simWAD)
}

func (s *Sim) assetToC(amount *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, simWAD)
	return out.Quo(out, s.rate)
}

// SupplyAsset moves idle balance into the lending pool.
func (s *Sim) SupplyAsset(ctx context.Context, asset common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idle.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, want %s", ErrSimInsufficientIdle, s.idle, amount)
	}
	s.idle.Sub(s.idle, amount)
	s.cBalance.Add(s.cBalance, s.assetToC(amount))
	return nil
}

// WithdrawAsset redeems collateralized balance back to the idle balance.
func (s *Sim) WithdrawAsset(ctx context.Context, asset common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	needed := s.assetToC(amount)
	if s.cBalance.Cmp(needed) < 0 {
		return fmt.Errorf("%w: have %s, want %s", ErrSimInsufficientCAssets, s.cBalance, needed)
	}
	s.cBalance.Sub(s.cBalance, needed)
	s.idle.Add(s.idle, amount)
	return nil
}

// CAssetBalance returns the controller's collateralized balance.
func (s *Sim) CAssetBalance(ctx context.Context, holder, cAsset common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.cBalance), nil
}

// CAssetToAsset converts at the fixed simulated exchange rate.
func (s *Sim) CAssetToAsset(ctx context.Context, cAsset common.Address, amount *big.Int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cToAsset(amount), nil
}

// AssetToCAsset converts at the fixed simulated exchange rate.
func (s *Sim) AssetToCAsset(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assetToC(amount), nil
}

// CreateOffer records the offer and derives a content hash from its terms.
func (s *Sim) CreateOffer(ctx context.Context, offer Offer) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := hashOffer(offer)
	s.offers[hash] = offer
	s.creates++
	return hash, nil
}

// RemoveOffer drops a recorded offer; removing an unknown hash is an error.
func (s *Sim) RemoveOffer(ctx context.Context, collection common.Address, index uint64, hash common.Hash, floorTerm bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.offers[hash]; !ok {
		return ErrSimUnknownOffer
	}
	delete(s.offers, hash)
	s.removes++
	return nil
}

// Seize records a seized collateral item.
func (s *Sim) Seize(ctx context.Context, collection common.Address, itemID *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seized = append(s.seized, new(big.Int).Set(itemID))
	return nil
}

// BalanceOf reports the controller's idle base-asset balance, satisfying
// erc20.BalanceSource.
func (s *Sim) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.idle), nil
}

// IdleBalance returns the current simulated idle balance.
func (s *Sim) IdleBalance() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.idle)
}

// LiveOffers returns the number of offers currently recorded.
func (s *Sim) LiveOffers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offers)
}

// Counts returns how many create/remove calls the simulator has seen.
func (s *Sim) Counts() (creates, removes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates, s.removes
}

// SeizedItems returns the item ids seized so far.
func (s *Sim) SeizedItems() []*big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*big.Int, len(s.seized))
	for i, id := range s.seized {
		out[i] = new(big.Int).Set(id)
	}
	return out
}

func hashOffer(o Offer) common.Hash {
	var buf []byte
	buf = append(buf, o.Creator.Bytes()...)
	buf = append(buf, o.Collection.Bytes()...)
	buf = append(buf, o.Asset.Bytes()...)
	if o.Amount != nil {
		buf = append(buf, o.Amount.Bytes()...)
	}
	if o.InterestRatePerSecond != nil {
		buf = append(buf, o.InterestRatePerSecond.Bytes()...)
	}
	if !o.Expiration.IsZero() {
		buf = append(buf, big.NewInt(o.Expiration.Unix()).Bytes()...)
	}
	return crypto.Keccak256Hash(buf)
}

var _ Protocol = (*Sim)(nil)
