package oracle

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

const aggregatorABIJSON = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ErrBadAnswer indicates the feed returned a non-positive price.
var ErrBadAnswer = errors.New("oracle: feed returned non-positive answer")

// PriceSource exposes read access to external price feeds. Answers are in the
// feed's native fixed-point precision; callers own the rescaling.
type PriceSource interface {
	LatestPrice(ctx context.Context, feed common.Address) (*big.Int, error)
}

// Chainlink reads aggregator feeds over Ethereum RPC.
type Chainlink struct {
	dialer *ethrpc.Dialer
	logger zerolog.Logger
}

// NewChainlink builds an on-chain price source.
func NewChainlink(dialer *ethrpc.Dialer, logger zerolog.Logger) *Chainlink {
	return &Chainlink{dialer: dialer, logger: logger.With().Str("component", "oracle").Logger()}
}

// LatestPrice returns the latest round answer of the given aggregator.
func (c *Chainlink) LatestPrice(ctx context.Context, feed common.Address) (*big.Int, error) {
	ctx, cancel := c.dialer.CallContext(ctx)
	defer cancel()

	client, err := c.dialer.Client(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return nil, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call latestRoundData: %w", err)
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 5 {
		return nil, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode aggregator answer")
	}
	if answer.Sign() <= 0 {
		return nil, ErrBadAnswer
	}

	return answer, nil
}

var _ PriceSource = (*Chainlink)(nil)
