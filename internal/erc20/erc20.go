package erc20

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"loankeeper/internal/ethrpc"
)

const erc20ABIJSON = `[{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// BalanceSource reads ERC-20 token balances.
type BalanceSource interface {
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
}

// Client resolves balances via Ethereum RPC.
type Client struct {
	dialer *ethrpc.Dialer
	logger zerolog.Logger
}

// NewClient builds an on-chain balance source.
func NewClient(dialer *ethrpc.Dialer, logger zerolog.Logger) *Client {
	return &Client{dialer: dialer, logger: logger.With().Str("component", "erc20").Logger()}
}

// BalanceOf returns holder's balance of token, in the token's smallest unit.
func (c *Client) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	ctx, cancel := c.dialer.CallContext(ctx)
	defer cancel()

	client, err := c.dialer.Client(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := erc20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w", err)
	}

	outputs, err := erc20ABI.Unpack("balanceOf", res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, errors.New("unexpected balanceOf response")
	}

	balance, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode balanceOf output")
	}

	return balance, nil
}

var _ BalanceSource = (*Client)(nil)
