package strategy

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"loankeeper/internal/lending"
)

// ErrOffersDisabled rejects issuing while new offers are gated off.
var ErrOffersDisabled = errors.New("strategy: new offers are disabled")

// OfferState is the standing offer's lifecycle state.
type OfferState int

const (
	// NoOffer means no offer is live (never issued, or cancelled).
	NoOffer OfferState = iota
	// Active means the offer is live and unexpired.
	Active
	// Expired means the offer's deadline passed; the protocol treats it as
	// dead, no cancellation is required.
	Expired
)

func (s OfferState) String() string {
	switch s {
	case Active:
		return "active"
	case Expired:
		return "expired"
	default:
		return "no_offer"
	}
}

// Manager owns the single standing loan offer: it decides repricing against
// the floor estimate and drives create/remove calls on the lending protocol.
type Manager struct {
	protocol lending.Protocol
	floor    *FloorEstimator
	state    *State
	template lending.Offer
	offer    lending.Offer
	clock    func() time.Time
	logger   zerolog.Logger
}

// NewManager builds an offer manager from caller-supplied template terms.
// The template fixes creator, collection, duration, flags, asset, and
// interest rate; amount and expiration are derived at issue time.
func NewManager(protocol lending.Protocol, floor *FloorEstimator, state *State, template lending.Offer, logger zerolog.Logger) *Manager {
	return &Manager{
		protocol: protocol,
		floor:    floor,
		state:    state,
		template: template,
		clock:    time.Now,
		logger:   logger.With().Str("component", "offer_manager").Logger(),
	}
}

// WithClock overrides the time source.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Offer returns a copy of the standing offer.
func (m *Manager) Offer() lending.Offer {
	o := m.offer
	if o.Amount != nil {
		o.Amount = new(big.Int).Set(o.Amount)
	}
	return o
}

// OfferState classifies the standing offer at the given instant.
func (m *Manager) OfferState(now time.Time) OfferState {
	switch {
	case !m.offer.Issued():
		return NoOffer
	case now.After(m.offer.Expiration):
		return Expired
	default:
		return Active
	}
}

// MaybeReprice estimates the floor price and applies the repricing decision
// against it. On estimation failure the previous offer stays live and the
// error propagates.
func (m *Manager) MaybeReprice(ctx context.Context) (bool, *big.Int, error) {
	floorPrice, err := m.floor.Estimate(ctx)
	if err != nil {
		return false, nil, err
	}
	repriced, err := m.MaybeRepriceAt(ctx, floorPrice)
	return repriced, floorPrice, err
}

// MaybeRepriceAt replaces the standing offer when the observed floor price
// moved beyond the allowed delta or the offer expired. Either condition
// triggers independently. The same observation drives both the decision and
// the issued terms. With issuance disabled the cycle aborts before any
// protocol call, so the standing offer stays live.
func (m *Manager) MaybeRepriceAt(ctx context.Context, floorPrice *big.Int) (bool, error) {
	now := m.clock()
	if last := m.state.LastFloorPrice(); last != nil && last.Sign() > 0 && m.offer.Issued() {
		delta, err := RelativeDelta(last, floorPrice)
		if err != nil {
			return false, err
		}
		if delta.Cmp(m.state.AllowedDelta()) <= 0 && !now.After(m.offer.Expiration) {
			m.logger.Debug().
				Str("delta", delta.String()).
				Str("allowed", m.state.AllowedDelta().String()).
				Msg("floor move within tolerance, keeping offer")
			return false, nil
		}
	}

	if !m.state.OffersEnabled() {
		return false, ErrOffersDisabled
	}

	if err := m.Cancel(ctx); err != nil {
		return false, err
	}
	if err := m.Issue(ctx, floorPrice); err != nil {
		return false, err
	}
	return true, nil
}

// Cancel removes the standing offer if it is still active. Cancelling an
// already-gone or expired offer is a no-op, so it is safe to call
// unconditionally before issuing.
func (m *Manager) Cancel(ctx context.Context) error {
	if m.OfferState(m.clock()) != Active {
		return nil
	}

	err := m.protocol.RemoveOffer(ctx, m.offer.Collection, 0, m.offer.Hash, m.offer.FloorTerm)
	if err != nil {
		return fmt.Errorf("remove offer: %w", err)
	}

	m.logger.Info().Str("hash", m.offer.Hash.Hex()).Msg("offer cancelled")
	m.offer.Amount = nil
	m.offer.Expiration = time.Time{}
	m.offer.Hash = common.Hash{}
	return nil
}

// Issue derives the offer amount from the floor price and the collateral
// ratio, submits it, and commits the new terms. State mutates only after the
// protocol accepted the offer.
func (m *Manager) Issue(ctx context.Context, floorPrice *big.Int) error {
	if !m.state.OffersEnabled() {
		return ErrOffersDisabled
	}

	amount := new(big.Int).Mul(floorPrice, m.state.CollateralRatio())
	amount.Quo(amount, WAD)

	now := m.clock()
	offer := m.template
	offer.Amount = amount
	offer.Expiration = now.Add(m.state.ExpirationWindow())

	hash, err := m.protocol.CreateOffer(ctx, offer)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}

	offer.Hash = hash
	m.offer = offer
	m.state.recordOffer(floorPrice, now)

	m.logger.Info().
		Str("amount", amount.String()).
		Time("expiration", offer.Expiration).
		Str("hash", hash.Hex()).
		Msg("offer issued")
	return nil
}
