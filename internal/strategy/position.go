package strategy

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"loankeeper/internal/erc20"
	"loankeeper/internal/lending"
	"loankeeper/internal/vault"
)

// Report is the outcome of one harvest reconciliation.
type Report struct {
	CycleID     uuid.UUID
	HarvestedAt time.Time

	Profit      *big.Int
	Loss        *big.Int
	DebtPayment *big.Int

	Freed       *big.Int
	IdleBalance *big.Int
	TotalAssets *big.Int
	TotalDebt   *big.Int
}

// AccountantConfig identifies the controller's holdings.
type AccountantConfig struct {
	// Controller is this controller's own address (offer creator, balance
	// holder).
	Controller common.Address
	Asset      common.Address
	CAsset     common.Address
}

// Accountant runs the harvest-time reconciliation: it computes profit, loss
// and debt payment from current balances, the outstanding-loan bookkeeping
// and the vault's required-liquidity target, freeing funds from the lending
// protocol when the idle balance is short.
type Accountant struct {
	protocol lending.Protocol
	ledger   vault.Ledger
	offers   *Manager
	state    *State
	balances erc20.BalanceSource
	cfg      AccountantConfig
	clock    func() time.Time
	logger   zerolog.Logger
}

// NewAccountant builds a position accountant.
func NewAccountant(protocol lending.Protocol, ledger vault.Ledger, offers *Manager, state *State, balances erc20.BalanceSource, cfg AccountantConfig, logger zerolog.Logger) *Accountant {
	return &Accountant{
		protocol: protocol,
		ledger:   ledger,
		offers:   offers,
		state:    state,
		balances: balances,
		cfg:      cfg,
		clock:    time.Now,
		logger:   logger.With().Str("component", "accountant").Logger(),
	}
}

// WithClock overrides the time source.
func (a *Accountant) WithClock(clock func() time.Time) *Accountant {
	a.clock = clock
	return a
}

func (a *Accountant) idleBalance(ctx context.Context) (*big.Int, error) {
	return a.balances.BalanceOf(ctx, a.cfg.Asset, a.cfg.Controller)
}

// EstimatedTotalAssets is idle balance plus the attested out-on-loan value.
func (a *Accountant) EstimatedTotalAssets(ctx context.Context, in AttestedInputs) (*big.Int, error) {
	idle, err := a.idleBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("read idle balance: %w", err)
	}
	total := new(big.Int).Set(idle)
	if in.OutstandingLoans != nil {
		total.Add(total, in.OutstandingLoans)
	}
	return total, nil
}

// Reconcile computes (profit, loss, debtPayment) for this harvest cycle.
//
// Debt payment takes priority over profit: when the cycle cannot free enough
// to cover both in full, profit absorbs the shortfall first, down to zero,
// and only then is the debt payment reported short. On every branch
// debtPayment <= debtOutstanding, profit >= 0, and debtPayment + profit never
// exceeds the funds actually freed this cycle.
func (a *Accountant) Reconcile(ctx context.Context, debtOutstanding *big.Int, in AttestedInputs) (Report, error) {
	if debtOutstanding == nil {
		debtOutstanding = new(big.Int)
	}

	// Pull any collateralized balance above the converted debt target back
	// to the base asset before splitting.
	if err := a.harvestExcess(ctx, debtOutstanding); err != nil {
		return Report{}, err
	}

	idle, err := a.idleBalance(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read idle balance: %w", err)
	}
	totalDebt, err := a.ledger.TotalDebt(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read total debt: %w", err)
	}

	totalAssets := new(big.Int).Set(idle)
	if in.OutstandingLoans != nil {
		totalAssets.Add(totalAssets, in.OutstandingLoans)
	}

	profit := clampZero(new(big.Int).Sub(totalAssets, totalDebt))
	required := new(big.Int).Add(debtOutstanding, profit)

	freed := new(big.Int).Set(required)
	if idle.Cmp(required) < 0 {
		freed, _, err = a.freeFunds(ctx, required)
		if err != nil {
			return Report{}, err
		}
		idle, err = a.idleBalance(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("read idle balance: %w", err)
		}
	}

	debtPayment := minBig(debtOutstanding, freed)
	profit = minBig(profit, new(big.Int).Sub(freed, debtPayment))
	// Loss is the unmet part of the vault's demand; a shortfall that only
	// eats into projected profit is not a loss.
	loss := clampZero(new(big.Int).Sub(debtOutstanding, freed))

	report := Report{
		CycleID:     uuid.New(),
		HarvestedAt: a.clock(),
		Profit:      profit,
		Loss:        loss,
		DebtPayment: debtPayment,
		Freed:       freed,
		IdleBalance: idle,
		TotalAssets: totalAssets,
		TotalDebt:   totalDebt,
	}

	a.logger.Info().
		Str("cycle_id", report.CycleID.String()).
		Str("profit", profit.String()).
		Str("loss", loss.String()).
		Str("debt_payment", debtPayment.String()).
		Msg("harvest reconciled")
	return report, nil
}

func (a *Accountant) harvestExcess(ctx context.Context, debtOutstanding *big.Int) error {
	debtC, err := a.protocol.AssetToCAsset(ctx, a.cfg.Asset, debtOutstanding)
	if err != nil {
		return fmt.Errorf("convert debt target: %w", err)
	}
	cBalance, err := a.protocol.CAssetBalance(ctx, a.cfg.Controller, a.cfg.CAsset)
	if err != nil {
		return fmt.Errorf("read collateralized balance: %w", err)
	}
	if cBalance.Cmp(debtC) <= 0 {
		return nil
	}

	surplus := new(big.Int).Sub(cBalance, debtC)
	amount, err := a.protocol.CAssetToAsset(ctx, a.cfg.CAsset, surplus)
	if err != nil {
		return fmt.Errorf("convert surplus: %w", err)
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := a.protocol.WithdrawAsset(ctx, a.cfg.Asset, amount); err != nil {
		return fmt.Errorf("withdraw surplus: %w", err)
	}

	a.logger.Info().Str("amount", amount.String()).Msg("harvested excess collateralized balance")
	return nil
}

// freeFunds makes amountNeeded available as idle balance, withdrawing from
// the lending protocol as far as the withdrawable balance allows. The
// remainder that could not be freed is the loss.
func (a *Accountant) freeFunds(ctx context.Context, amountNeeded *big.Int) (freed, loss *big.Int, err error) {
	idle, err := a.idleBalance(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read idle balance: %w", err)
	}
	if idle.Cmp(amountNeeded) >= 0 {
		return new(big.Int).Set(amountNeeded), new(big.Int), nil
	}

	cBalance, err := a.protocol.CAssetBalance(ctx, a.cfg.Controller, a.cfg.CAsset)
	if err != nil {
		return nil, nil, fmt.Errorf("read collateralized balance: %w", err)
	}
	withdrawable, err := a.protocol.CAssetToAsset(ctx, a.cfg.CAsset, cBalance)
	if err != nil {
		return nil, nil, fmt.Errorf("convert collateralized balance: %w", err)
	}

	shortfall := new(big.Int).Sub(amountNeeded, idle)
	toWithdraw := minBig(withdrawable, shortfall)
	if toWithdraw.Sign() > 0 {
		if err := a.protocol.WithdrawAsset(ctx, a.cfg.Asset, toWithdraw); err != nil {
			return nil, nil, fmt.Errorf("withdraw: %w", err)
		}
	}

	idle, err = a.idleBalance(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read idle balance: %w", err)
	}

	freed = minBig(idle, amountNeeded)
	loss = new(big.Int).Sub(amountNeeded, freed)
	if loss.Sign() > 0 {
		a.logger.Warn().
			Str("needed", amountNeeded.String()).
			Str("freed", freed.String()).
			Str("loss", loss.String()).
			Msg("could not free full amount")
	}
	return freed, loss, nil
}

// LiquidateAll disables new-offer issuance, withdraws the whole
// collateralized balance, cancels the standing offer, and returns the idle
// balance. Capital locked in unmatured loans cannot be recalled, so the
// result may undershoot total managed value.
func (a *Accountant) LiquidateAll(ctx context.Context) (*big.Int, error) {
	a.state.SetOffersEnabled(false)

	cBalance, err := a.protocol.CAssetBalance(ctx, a.cfg.Controller, a.cfg.CAsset)
	if err != nil {
		return nil, fmt.Errorf("read collateralized balance: %w", err)
	}
	withdrawable, err := a.protocol.CAssetToAsset(ctx, a.cfg.CAsset, cBalance)
	if err != nil {
		return nil, fmt.Errorf("convert collateralized balance: %w", err)
	}
	if withdrawable.Sign() > 0 {
		if err := a.protocol.WithdrawAsset(ctx, a.cfg.Asset, withdrawable); err != nil {
			return nil, fmt.Errorf("withdraw all: %w", err)
		}
	}

	if err := a.offers.Cancel(ctx); err != nil {
		return nil, err
	}

	idle, err := a.idleBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("read idle balance: %w", err)
	}

	a.logger.Info().Str("freed", idle.String()).Msg("position fully liquidated")
	return idle, nil
}
