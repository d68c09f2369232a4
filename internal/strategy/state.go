package strategy

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// MinExpirationWindow is the floor for the offer expiration window. The
// configured window must be strictly greater.
const MinExpirationWindow = 24 * time.Hour

var (
	// ErrWindowTooShort rejects expiration windows at or below the floor.
	ErrWindowTooShort = errors.New("strategy: expiration window must exceed one day")
	// ErrUnchanged rejects setters that would not change anything.
	ErrUnchanged = errors.New("strategy: value unchanged")
	// ErrBadFraction rejects fractions outside their valid range.
	ErrBadFraction = errors.New("strategy: fraction out of range")
	// ErrStaleAttestation rejects externally-attested inputs older than the
	// configured bound.
	ErrStaleAttestation = errors.New("strategy: attested inputs are stale")
)

// AttestedInputs are figures mirrored from an off-chain indexer by a trusted
// operator. They are authoritative but can go stale between attestations;
// consumers enforce the staleness bound.
type AttestedInputs struct {
	// ThirtyDayProfitPotential is the projected monthly yield in base-asset
	// units.
	ThirtyDayProfitPotential *big.Int
	// OffersInLastMonth and RemovesInLastMonth count protocol operations the
	// indexer observed over the trailing month.
	OffersInLastMonth  uint64
	RemovesInLastMonth uint64
	// OutstandingLoans is the base-asset value currently out on loan. The
	// lending protocol cannot report it directly.
	OutstandingLoans *big.Int
	// AttestedAt is when the operator pushed these figures.
	AttestedAt time.Time
}

// Stale reports whether the attestation is older than maxAge. A zero maxAge
// disables the bound.
func (a AttestedInputs) Stale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	if a.AttestedAt.IsZero() {
		return true
	}
	return now.Sub(a.AttestedAt) > maxAge
}

// StateConfig seeds the controller's mutable configuration.
type StateConfig struct {
	ExpirationWindow time.Duration
	AllowedDelta     *big.Int
	CollateralRatio  *big.Int
	CreateOfferGas   uint64
	RemoveOfferGas   uint64
	OffersEnabled    bool
}

// State is the controller's mutable configuration and bookkeeping. It is
// mutated only by admin setters and by the repricing routine; cycle execution
// is serialized above this layer.
type State struct {
	lastFloorPrice   *big.Int
	lastOfferDate    time.Time
	expirationWindow time.Duration
	allowedDelta     *big.Int
	collateralRatio  *big.Int
	createOfferGas   uint64
	removeOfferGas   uint64
	offersEnabled    bool
}

// NewState validates and materialises controller state.
func NewState(cfg StateConfig) (*State, error) {
	s := &State{
		allowedDelta:   new(big.Int),
		createOfferGas: cfg.CreateOfferGas,
		removeOfferGas: cfg.RemoveOfferGas,
		offersEnabled:  cfg.OffersEnabled,
	}
	if err := s.SetExpirationWindow(cfg.ExpirationWindow); err != nil {
		return nil, err
	}
	if cfg.AllowedDelta != nil {
		if err := s.SetAllowedDelta(cfg.AllowedDelta); err != nil {
			return nil, err
		}
	}
	if err := s.SetCollateralRatio(cfg.CollateralRatio); err != nil {
		return nil, err
	}
	return s, nil
}

// SetExpirationWindow updates the offer expiration window. The window must
// exceed one day and differ from the current value.
func (s *State) SetExpirationWindow(window time.Duration) error {
	if window <= MinExpirationWindow {
		return fmt.Errorf("%w: got %s", ErrWindowTooShort, window)
	}
	if window == s.expirationWindow {
		return ErrUnchanged
	}
	s.expirationWindow = window
	return nil
}

// SetAllowedDelta updates the repricing trigger threshold (WAD fraction).
func (s *State) SetAllowedDelta(delta *big.Int) error {
	if delta == nil || delta.Sign() < 0 {
		return fmt.Errorf("%w: allowed delta must be >= 0", ErrBadFraction)
	}
	s.allowedDelta = new(big.Int).Set(delta)
	return nil
}

// SetCollateralRatio updates the fraction of floor price offered (WAD
// fraction in (0, 1]).
func (s *State) SetCollateralRatio(ratio *big.Int) error {
	if ratio == nil || ratio.Sign() <= 0 || ratio.Cmp(WAD) > 0 {
		return fmt.Errorf("%w: collateral ratio must be in (0, 1]", ErrBadFraction)
	}
	s.collateralRatio = new(big.Int).Set(ratio)
	return nil
}

// SetGasEstimates updates the per-operation gas projections.
func (s *State) SetGasEstimates(createOffer, removeOffer uint64) {
	s.createOfferGas = createOffer
	s.removeOfferGas = removeOffer
}

// SetOffersEnabled toggles new-offer issuance.
func (s *State) SetOffersEnabled(enabled bool) {
	s.offersEnabled = enabled
}

// ExpirationWindow returns the current offer expiration window.
func (s *State) ExpirationWindow() time.Duration { return s.expirationWindow }

// AllowedDelta returns the repricing trigger threshold.
func (s *State) AllowedDelta() *big.Int { return new(big.Int).Set(s.allowedDelta) }

// CollateralRatio returns the fraction of floor price offered.
func (s *State) CollateralRatio() *big.Int { return new(big.Int).Set(s.collateralRatio) }

// GasEstimates returns the per-operation gas projections.
func (s *State) GasEstimates() (createOffer, removeOffer uint64) {
	return s.createOfferGas, s.removeOfferGas
}

// OffersEnabled reports whether new offers may be issued.
func (s *State) OffersEnabled() bool { return s.offersEnabled }

// LastFloorPrice returns the floor price behind the standing offer, or nil if
// none was ever issued.
func (s *State) LastFloorPrice() *big.Int {
	if s.lastFloorPrice == nil {
		return nil
	}
	return new(big.Int).Set(s.lastFloorPrice)
}

// LastOfferDate returns when the standing offer was last replaced.
func (s *State) LastOfferDate() time.Time { return s.lastOfferDate }

func (s *State) recordOffer(floorPrice *big.Int, at time.Time) {
	s.lastFloorPrice = new(big.Int).Set(floorPrice)
	s.lastOfferDate = at
}
