package pool

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

type staticBalances struct {
	byToken map[common.Address]*big.Int
}

func (s *staticBalances) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	balance, ok := s.byToken[token]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(balance), nil
}

func TestPairReaderReserveOf(t *testing.T) {
	quote := common.HexToAddress("0x0000000000000000000000000000000000000002")
	proxy := common.HexToAddress("0x0000000000000000000000000000000000000003")

	balances := &staticBalances{byToken: map[common.Address]*big.Int{
		quote: big.NewInt(5000),
		proxy: big.NewInt(25),
	}}
	reader := NewPairReader(balances, zerolog.Nop())

	pool := common.HexToAddress("0x0000000000000000000000000000000000000001")
	reserve, err := reader.ReserveOf(context.Background(), pool, quote)
	if err != nil {
		t.Fatalf("reserve read failed: %v", err)
	}
	if reserve.Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("expected reserve 5000, got %s", reserve)
	}
}
