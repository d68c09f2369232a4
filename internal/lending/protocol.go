package lending

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Offer is the terms of the single standing loan offer the controller
// maintains on the lending protocol. Amount, Expiration and Hash are only
// ever set together by the repricing routine; an offer with a zero
// Expiration has never been issued.
type Offer struct {
	Creator               common.Address
	Collection            common.Address
	Duration              time.Duration
	FixedTerms            bool
	FloorTerm             bool
	LenderOffer           bool
	Asset                 common.Address
	InterestRatePerSecond *big.Int
	Amount                *big.Int
	Expiration            time.Time
	Hash                  common.Hash
}

// Issued reports whether the offer has ever been submitted to the protocol.
func (o Offer) Issued() bool {
	return !o.Expiration.IsZero()
}

// Protocol abstracts the external collateralized-lending protocol. All
// methods are synchronous and fallible; a failed call leaves the protocol
// state unchanged from the controller's point of view.
type Protocol interface {
	// SupplyAsset deposits base asset into the protocol's lending pool.
	SupplyAsset(ctx context.Context, asset common.Address, amount *big.Int) error
	// WithdrawAsset redeems collateralized-asset balance back to base asset.
	WithdrawAsset(ctx context.Context, asset common.Address, amount *big.Int) error
	// CAssetBalance returns holder's collateralized-asset balance.
	CAssetBalance(ctx context.Context, holder, cAsset common.Address) (*big.Int, error)
	// CAssetToAsset converts a collateralized-asset amount to base-asset terms.
	CAssetToAsset(ctx context.Context, cAsset common.Address, amount *big.Int) (*big.Int, error)
	// AssetToCAsset converts a base-asset amount to collateralized-asset terms.
	AssetToCAsset(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error)
	// CreateOffer submits a standing offer and returns its content hash.
	CreateOffer(ctx context.Context, offer Offer) (common.Hash, error)
	// RemoveOffer cancels an offer by its hash.
	RemoveOffer(ctx context.Context, collection common.Address, index uint64, hash common.Hash, floorTerm bool) error
	// Seize claims the collateral item of a defaulted loan.
	Seize(ctx context.Context, collection common.Address, itemID *big.Int) error
}
