package pool

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"loankeeper/internal/erc20"
)

// Reader exposes liquidity pool reserves.
type Reader interface {
	ReserveOf(ctx context.Context, pool, token common.Address) (*big.Int, error)
}

// PairReader derives reserves from the pair's token balances, which is
// equivalent to the pool's reported reserves for constant-product pairs
// outside of an in-flight swap.
type PairReader struct {
	balances erc20.BalanceSource
	logger   zerolog.Logger
}

// NewPairReader builds a Reader over an ERC-20 balance source.
func NewPairReader(balances erc20.BalanceSource, logger zerolog.Logger) *PairReader {
	return &PairReader{balances: balances, logger: logger.With().Str("component", "pool").Logger()}
}

// ReserveOf returns the pool's reserve of the given token.
func (r *PairReader) ReserveOf(ctx context.Context, pool, token common.Address) (*big.Int, error) {
	return r.balances.BalanceOf(ctx, token, pool)
}

var _ Reader = (*PairReader)(nil)
