package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"loankeeper/internal/ethrpc"
)

const vaultABIJSON = `[
{"inputs":[{"internalType":"address","name":"strategy","type":"address"}],"name":"totalDebtOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"strategy","type":"address"}],"name":"debtOutstanding","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"uint256","name":"gain","type":"uint256"},{"internalType":"uint256","name":"loss","type":"uint256"},{"internalType":"uint256","name":"debtPayment","type":"uint256"}],"name":"report","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}
]`

var vaultABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(vaultABIJSON))
	if err != nil {
		panic("failed to parse vault ABI: " + err.Error())
	}
	vaultABI = parsed
}

// Ledger is the capital-providing vault's debt ledger. The controller reads
// how much it owes and reports harvest results back.
type Ledger interface {
	TotalDebt(ctx context.Context) (*big.Int, error)
	DebtOutstanding(ctx context.Context) (*big.Int, error)
	Report(ctx context.Context, profit, loss, debtPayment *big.Int) error
}

// OnchainOptions parameterise the on-chain ledger.
type OnchainOptions struct {
	Address       common.Address
	Controller    common.Address
	ChainID       *big.Int
	PrivateKeyHex string
}

// Onchain reads and reports against the deployed vault contract.
type Onchain struct {
	dialer *ethrpc.Dialer
	opts   OnchainOptions
	logger zerolog.Logger

	mu       sync.Mutex
	client   *ethclient.Client
	bound    *bind.BoundContract
	txSigner *bind.TransactOpts
}

// NewOnchain builds the on-chain ledger adapter.
func NewOnchain(dialer *ethrpc.Dialer, opts OnchainOptions, logger zerolog.Logger) *Onchain {
	return &Onchain{
		dialer: dialer,
		opts:   opts,
		logger: logger.With().Str("component", "vault").Logger(),
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
	o.bound = bind.NewBoundContract(o.opts.Address, vaultABI, client, client, client)
	return o.bound, o.client, nil
}

func (o *Onchain) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
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
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s response", method)
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to decode %s output", method)
	}
	return value, nil
}

// TotalDebt returns the vault's recorded debt for this controller.
func (o *Onchain) TotalDebt(ctx context.Context) (*big.Int, error) {
	return o.callUint(ctx, "totalDebtOf", o.opts.Controller)
}

// DebtOutstanding returns how much the vault wants repaid this cycle.
func (o *Onchain) DebtOutstanding(ctx context.Context) (*big.Int, error) {
	return o.callUint(ctx, "debtOutstanding", o.opts.Controller)
}

// Report submits harvest results to the vault ledger.
func (o *Onchain) Report(ctx context.Context, profit, loss, debtPayment *big.Int) error {
	bound, client, err := o.contract(ctx)
	if err != nil {
		return err
	}
	signer, err := o.signer()
	if err != nil {
		return err
	}

	opts := *signer
	opts.Context = ctx

	tx, err := bound.Transact(&opts, "report", profit, loss, debtPayment)
	if err != nil {
		return fmt.Errorf("send report: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, client, tx)
	if err != nil {
		return fmt.Errorf("wait report: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("report reverted: %s", tx.Hash())
	}

	o.logger.Info().Str("tx", tx.Hash().Hex()).Msg("harvest report confirmed")
	return nil
}

func (o *Onchain) signer() (*bind.TransactOpts, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.txSigner != nil {
		return o.txSigner, nil
	}
	if o.opts.PrivateKeyHex == "" {
		return nil, errors.New("vault: private key not configured")
	}
	if o.opts.ChainID == nil {
		return nil, errors.New("vault: chain id not configured")
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

// ReportCall captures one Report invocation on the static ledger.
type ReportCall struct {
	Profit      *big.Int
	Loss        *big.Int
	DebtPayment *big.Int
}

// Static is a fixed-figure ledger used by tests and dry runs.
type Static struct {
	mu          sync.Mutex
	Debt        *big.Int
	Outstanding *big.Int
	Reports     []ReportCall
}

// NewStatic builds a static ledger with the given debt figures.
func NewStatic(totalDebt, debtOutstanding *big.Int) *Static {
	if totalDebt == nil {
		totalDebt = new(big.Int)
	}
	if debtOutstanding == nil {
		debtOutstanding = new(big.Int)
	}
	return &Static{Debt: new(big.Int).Set(totalDebt), Outstanding: new(big.Int).Set(debtOutstanding)}
}

// TotalDebt returns the fixed total debt.
func (s *Static) TotalDebt(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.Debt), nil
}

// DebtOutstanding returns the fixed outstanding figure.
func (s *Static) DebtOutstanding(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.Outstanding), nil
}

// Report records the call.
func (s *Static) Report(ctx context.Context, profit, loss, debtPayment *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reports = append(s.Reports, ReportCall{
		Profit:      new(big.Int).Set(profit),
		Loss:        new(big.Int).Set(loss),
		DebtPayment: new(big.Int).Set(debtPayment),
	})
	return nil
}

var (
	_ Ledger = (*Onchain)(nil)
	_ Ledger = (*Static)(nil)
)
