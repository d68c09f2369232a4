package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"loankeeper/internal/ethrpc"
)

func TestLatestPriceWithoutRPCURL(t *testing.T) {
	dialer := ethrpc.NewDialer(ethrpc.Options{})
	source := NewChainlink(dialer, zerolog.Nop())

	_, err := source.LatestPrice(context.Background(), common.Address{})
	if !errors.Is(err, ethrpc.ErrNoRPCURL) {
		t.Fatalf("expected ErrNoRPCURL, got %v", err)
	}
}
