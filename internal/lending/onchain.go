package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"loankeeper/internal/ethrpc"
)

const lendingABIJSON = `[
{"inputs":[{"internalType":"address","name":"asset","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"supplyErc20","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"address","name":"asset","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"withdrawErc20","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"address","name":"account","type":"address"},{"internalType":"address","name":"cAsset","type":"address"}],"name":"getCAssetBalance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"cAsset","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"cAssetAmountToAssetAmount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"asset","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"assetAmountToCAssetAmount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"components":[{"internalType":"address","name":"creator","type":"address"},{"internalType":"address","name":"nftContractAddress","type":"address"},{"internalType":"uint256","name":"interestRatePerSecond","type":"uint256"},{"internalType":"bool","name":"fixedTerms","type":"bool"},{"internalType":"bool","name":"floorTerm","type":"bool"},{"internalType":"bool","name":"lenderOffer","type":"bool"},{"internalType":"uint256","name":"nftId","type":"uint256"},{"internalType":"address","name":"asset","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"uint32","name":"duration","type":"uint32"},{"internalType":"uint32","name":"expiration","type":"uint32"}],"internalType":"struct Offer","name":"offer","type":"tuple"}],"name":"createOffer","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"components":[{"internalType":"address","name":"creator","type":"address"},{"internalType":"address","name":"nftContractAddress","type":"address"},{"internalType":"uint256","name":"interestRatePerSecond","type":"uint256"},{"internalType":"bool","name":"fixedTerms","type":"bool"},{"internalType":"bool","name":"floorTerm","type":"bool"},{"internalType":"bool","name":"lenderOffer","type":"bool"},{"internalType":"uint256","name":"nftId","type":"uint256"},{"internalType":"address","name":"asset","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"uint32","name":"duration","type":"uint32"},{"internalType":"uint32","name":"expiration","type":"uint32"}],"internalType":"struct Offer","name":"offer","type":"tuple"}],"name":"getOfferHash","outputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"nftContractAddress","type":"address"},{"internalType":"uint256","name":"nftId","type":"uint256"},{"internalType":"bytes32","name":"offerHash","type":"bytes32"},{"internalType":"bool","name":"floorTerm","type":"bool"}],"name":"removeOffer","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"address","name":"nftContractAddress","type":"address"},{"internalType":"uint256","name":"nftId","type":"uint256"}],"name":"seizeAsset","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var lendingABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(lendingABIJSON))
	if err != nil {
		panic("failed to parse lending protocol ABI: " + err.Error())
	}
	lendingABI = parsed
}

// ErrTxReverted indicates a mined transaction ended with a failure status.
var ErrTxReverted = errors.New("lending: transaction reverted")

// offerTuple mirrors the protocol's Offer calldata layout.
type offerTuple struct {
	Creator               common.Address
	NftContractAddress    common.Address
	InterestRatePerSecond *big.Int
	FixedTerms            bool
	FloorTerm             bool
	LenderOffer           bool
	NftId                 *big.Int
	Asset                 common.Address
	Amount                *big.Int
	Duration              uint32
	Expiration            uint32
}

func toTuple(o Offer) offerTuple {
	rate := o.InterestRatePerSecond
	if rate == nil {
		rate = new(big.Int)
	}
	amount := o.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	var expiration uint32
	if !o.Expiration.IsZero() {
		expiration = uint32(o.Expiration.Unix())
	}
	return offerTuple{
		Creator:               o.Creator,
		NftContractAddress:    o.Collection,
		InterestRatePerSecond: new(big.Int).Set(rate),
		FixedTerms:            o.FixedTerms,
		FloorTerm:             o.FloorTerm,
		LenderOffer:           o.LenderOffer,
		NftId:                 new(big.Int),
		Asset:                 o.Asset,
		Amount:                new(big.Int).Set(amount),
		Duration:              uint32(o.Duration / time.Second),
		Expiration:            expiration,
	}
}

// OnchainOptions parameterise the on-chain adapter.
type OnchainOptions struct {
	Address       common.Address
	ChainID       *big.Int
	PrivateKeyHex string
	TxTimeout     time.Duration
	// TxsPerMinute bounds transaction submission cadence. Zero disables
	// pacing.
	TxsPerMinute float64
}

// Onchain drives the deployed lending protocol through a bound contract.
type Onchain struct {
	dialer  *ethrpc.Dialer
	opts    OnchainOptions
	logger  zerolog.Logger
	limiter *rate.Limiter

	mu       sync.Mutex
	client   *ethclient.Client
	bound    *bind.BoundContract
	txSigner *bind.TransactOpts
}

// NewOnchain builds the on-chain adapter. The contract is bound on first use.
func NewOnchain(dialer *ethrpc.Dialer, opts OnchainOptions, logger zerolog.Logger) *Onchain {
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = 2 * time.Minute
	}
	var limiter *rate.Limiter
	if opts.TxsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.TxsPerMinute/60), 1)
	}
	return &Onchain{
		dialer:  dialer,
		opts:    opts,
		logger:  logger.With().Str("component", "lending").Logger(),
		limiter: limiter,
	}
}

func (o *Onchain) contract(ctx context.Context) (*bind.BoundContract, *ethclient.Client, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.bound != nil {
		return o.bound, o.client, nil
	}

	client, err := o.dialer.Client(ctx)
	if err != nil {
		return nil, nil, err
	}
	o.client = client
	o.bound = bind.NewBoundContract(o.opts.Address, lendingABI, client, client, client)
	return o.bound, o.client, nil
}

func (o *Onchain) signer() (*bind.TransactOpts, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.txSigner != nil {
		return o.txSigner, nil
	}
	if o.opts.PrivateKeyHex == "" {
		return nil, errors.New("lending: private key not configured")
	}
	if o.opts.ChainID == nil {
		return nil, errors.New("lending: chain id not configured")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(o.opts.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, o.opts.ChainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	o.txSigner = signer
	return signer, nil
}

func (o *Onchain) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	bound, _, err := o.contract(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := o.dialer.CallContext(ctx)
	defer cancel()

	var out []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

func (o *Onchain) transact(ctx context.Context, method string, args ...interface{}) error {
	bound, client, err := o.contract(ctx)
	if err != nil {
		return err
	}
	signer, err := o.signer()
	if err != nil {
		return err
	}

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	opts := *signer
	opts.Context = ctx

	tx, err := bound.Transact(&opts, method, args...)
	if err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, o.opts.TxTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, client, tx)
	if err != nil {
		return fmt.Errorf("wait %s: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s (%s)", ErrTxReverted, method, tx.Hash())
	}

	o.logger.Info().Str("method", method).Str("tx", tx.Hash().Hex()).Msg("transaction confirmed")
	return nil
}

func (o *Onchain) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	out, err := o.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s response", method)
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to decode %s output", method)
	}
	return value, nil
}

// SupplyAsset deposits base asset into the lending pool.
func (o *Onchain) SupplyAsset(ctx context.Context, asset common.Address, amount *big.Int) error {
	return o.transact(ctx, "supplyErc20", asset, amount)
}

// WithdrawAsset redeems base asset from the lending pool.
func (o *Onchain) WithdrawAsset(ctx context.Context, asset common.Address, amount *big.Int) error {
	return o.transact(ctx, "withdrawErc20", asset, amount)
}

// CAssetBalance returns holder's collateralized-asset balance.
func (o *Onchain) CAssetBalance(ctx context.Context, holder, cAsset common.Address) (*big.Int, error) {
	return o.callUint(ctx, "getCAssetBalance", holder, cAsset)
}

// CAssetToAsset converts collateralized-asset units to base-asset units.
func (o *Onchain) CAssetToAsset(ctx context.Context, cAsset common.Address, amount *big.Int) (*big.Int, error) {
	return o.callUint(ctx, "cAssetAmountToAssetAmount", cAsset, amount)
}

// AssetToCAsset converts base-asset units to collateralized-asset units.
func (o *Onchain) AssetToCAsset(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	return o.callUint(ctx, "assetAmountToCAssetAmount", asset, amount)
}

// CreateOffer submits the offer and resolves its content hash.
func (o *Onchain) CreateOffer(ctx context.Context, offer Offer) (common.Hash, error) {
	tuple := toTuple(offer)
	if err := o.transact(ctx, "createOffer", tuple); err != nil {
		return common.Hash{}, err
	}

	out, err := o.call(ctx, "getOfferHash", tuple)
	if err != nil {
		return common.Hash{}, err
	}
	if len(out) != 1 {
		return common.Hash{}, errors.New("unexpected getOfferHash response")
	}
	raw, ok := out[0].([32]byte)
	if !ok {
		return common.Hash{}, errors.New("failed to decode offer hash")
	}
	return common.Hash(raw), nil
}

// RemoveOffer cancels the offer identified by its hash.
func (o *Onchain) RemoveOffer(ctx context.Context, collection common.Address, index uint64, hash common.Hash, floorTerm bool) error {
	return o.transact(ctx, "removeOffer", collection, new(big.Int).SetUint64(index), [32]byte(hash), floorTerm)
}

// Seize claims the collateral item of a defaulted loan.
func (o *Onchain) Seize(ctx context.Context, collection common.Address, itemID *big.Int) error {
	return o.transact(ctx, "seizeAsset", collection, itemID)
}

var _ Protocol = (*Onchain)(nil)
