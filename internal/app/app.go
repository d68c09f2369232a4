package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"loankeeper/internal/alerting"
	"loankeeper/internal/config"
	"loankeeper/internal/erc20"
	"loankeeper/internal/ethrpc"
	"loankeeper/internal/lending"
	"loankeeper/internal/oracle"
	"loankeeper/internal/pool"
	"loankeeper/internal/service"
	"loankeeper/internal/storage"
	"loankeeper/internal/strategy"
	"loankeeper/internal/vault"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// stack bundles the strategy components built over a shared RPC dialer.
type stack struct {
	dialer     *ethrpc.Dialer
	protocol   lending.Protocol
	ledger     vault.Ledger
	state      *strategy.State
	floor      *strategy.FloorEstimator
	profit     *strategy.ProfitEstimator
	offers     *strategy.Manager
	accountant *strategy.Accountant
}

func (s *stack) close() {
	if s.dialer != nil {
		s.dialer.Close()
	}
}

func parseAddress(name, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s is not a valid address: %q", name, value)
	}
	return common.HexToAddress(value), nil
}

func (a *App) newDialer() *ethrpc.Dialer {
	return ethrpc.NewDialer(ethrpc.Options{
		RPCURL:  a.Config.Ethereum.RPCURL,
		Timeout: a.Config.Ethereum.RequestTimeout,
	})
}

func (a *App) newState() (*strategy.State, error) {
	ctrl := a.Config.Controller
	return strategy.NewState(strategy.StateConfig{
		ExpirationWindow: ctrl.ExpirationWindow,
		AllowedDelta:     strategy.FractionToWAD(ctrl.AllowedDelta),
		CollateralRatio:  strategy.FractionToWAD(ctrl.CollateralRatio),
		CreateOfferGas:   ctrl.CreateOfferGas,
		RemoveOfferGas:   ctrl.RemoveOfferGas,
		OffersEnabled:    ctrl.OffersEnabled,
	})
}

func (a *App) offerTemplate() (lending.Offer, error) {
	ctrl := a.Config.Controller

	creator, err := parseAddress("controller.address", ctrl.Address)
	if err != nil {
		return lending.Offer{}, err
	}
	collection, err := parseAddress("controller.collection", ctrl.Collection)
	if err != nil {
		return lending.Offer{}, err
	}
	asset, err := parseAddress("controller.asset", ctrl.Asset)
	if err != nil {
		return lending.Offer{}, err
	}

	rate, ok := new(big.Int).SetString(a.Config.Offer.InterestRatePerSecond, 10)
	if !ok {
		return lending.Offer{}, fmt.Errorf("offer.interest_rate_per_second is not an integer: %q", a.Config.Offer.InterestRatePerSecond)
	}

	return lending.Offer{
		Creator:               creator,
		Collection:            collection,
		Duration:              a.Config.Offer.Duration,
		FixedTerms:            a.Config.Offer.FixedTerms,
		FloorTerm:             a.Config.Offer.FloorTerm,
		LenderOffer:           true,
		Asset:                 asset,
		InterestRatePerSecond: rate,
	}, nil
}

// newStack wires the on-chain strategy components. Contracts are bound
// lazily; no RPC traffic happens here.
func (a *App) newStack() (*stack, error) {
	ctrl := a.Config.Controller
	eth := a.Config.Ethereum

	controller, err := parseAddress("controller.address", ctrl.Address)
	if err != nil {
		return nil, err
	}
	asset, err := parseAddress("controller.asset", ctrl.Asset)
	if err != nil {
		return nil, err
	}
	cAsset, err := parseAddress("controller.c_asset", ctrl.CAsset)
	if err != nil {
		return nil, err
	}
	poolAddr, err := parseAddress("controller.pool", ctrl.Pool)
	if err != nil {
		return nil, err
	}
	quoteToken, err := parseAddress("controller.quote_token", ctrl.QuoteToken)
	if err != nil {
		return nil, err
	}
	proxyToken, err := parseAddress("controller.proxy_token", ctrl.ProxyToken)
	if err != nil {
		return nil, err
	}
	priceFeed, err := parseAddress("controller.price_feed", ctrl.PriceFeed)
	if err != nil {
		return nil, err
	}
	gasFeed, err := parseAddress("controller.gas_feed", ctrl.GasFeed)
	if err != nil {
		return nil, err
	}
	lendingAddr, err := parseAddress("controller.lending_protocol", ctrl.LendingProtocol)
	if err != nil {
		return nil, err
	}
	vaultAddr, err := parseAddress("controller.vault", ctrl.Vault)
	if err != nil {
		return nil, err
	}

	state, err := a.newState()
	if err != nil {
		return nil, err
	}
	template, err := a.offerTemplate()
	if err != nil {
		return nil, err
	}

	dialer := a.newDialer()
	prices := oracle.NewChainlink(dialer, a.Logger)
	balances := erc20.NewClient(dialer, a.Logger)
	pools := pool.NewPairReader(balances, a.Logger)

	protocol := lending.NewOnchain(dialer, lending.OnchainOptions{
		Address:       lendingAddr,
		ChainID:       big.NewInt(eth.ChainID),
		PrivateKeyHex: eth.PrivateKey,
		TxTimeout:     eth.TxTimeout,
		TxsPerMinute:  eth.TxsPerMinute,
	}, a.Logger)

	ledger := vault.NewOnchain(dialer, vault.OnchainOptions{
		Address:       vaultAddr,
		Controller:    controller,
		ChainID:       big.NewInt(eth.ChainID),
		PrivateKeyHex: eth.PrivateKey,
	}, a.Logger)

	floor := strategy.NewFloorEstimator(pools, prices, strategy.FloorConfig{
		Pool:              poolAddr,
		QuoteToken:        quoteToken,
		ProxyToken:        proxyToken,
		PriceFeed:         priceFeed,
		PriceFeedDecimals: ctrl.PriceFeedDecimals,
	}, a.Logger)

	profit := strategy.NewProfitEstimator(prices, state, strategy.ProfitConfig{
		GasFeed:           gasFeed,
		GasFeedDecimals:   ctrl.GasFeedDecimals,
		PriceFeed:         priceFeed,
		PriceFeedDecimals: ctrl.PriceFeedDecimals,
		MinProfitMargin:   strategy.FractionToWAD(ctrl.MinProfitMargin),
		MaxAttestationAge: ctrl.MaxAttestationAge,
	}, a.Logger)

	offers := strategy.NewManager(protocol, floor, state, template, a.Logger)

	accountant := strategy.NewAccountant(protocol, ledger, offers, state, balances, strategy.AccountantConfig{
		Controller: controller,
		Asset:      asset,
		CAsset:     cAsset,
	}, a.Logger)

	return &stack{
		dialer:     dialer,
		protocol:   protocol,
		ledger:     ledger,
		state:      state,
		floor:      floor,
		profit:     profit,
		offers:     offers,
		accountant: accountant,
	}, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running controller service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	components, err := a.newStack()
	if err != nil {
		return err
	}
	defer components.close()

	stores := service.Stores{}
	if store != nil {
		stores = service.Stores{
			Floors:       store,
			Harvests:     store,
			OfferEvents:  store,
			Attestations: store,
			Params:       store,
			Locks:        store,
		}
	}

	svc := service.New(
		components.floor,
		components.profit,
		components.offers,
		components.accountant,
		components.state,
		components.ledger,
		stores,
		a.newNotifier(),
		service.Options{
			TendInterval:     a.Config.Tend.Interval,
			TendAlign:        a.Config.Tend.AlignToBucket,
			TendStartupDelay: a.Config.Tend.StartupDelay,
			TendLockKey:      a.Config.Tend.AdvisoryLockKey,
			HarvestSchedule:  a.Config.Harvest.Schedule,
			HarvestTimeout:   a.Config.Harvest.Timeout,
			HarvestLockKey:   a.Config.Harvest.AdvisoryLockKey,
		},
		a.Logger,
	)

	a.Logger.Info().Msg("starting controller service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("controller service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical floor samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// AttestOptions carry operator-attested indexer figures.
type AttestOptions struct {
	ProfitPotential  string
	OffersLastMonth  int64
	RemovesLastMonth int64
	OutstandingLoans string
}

// ParamsOptions carry partial admin parameter updates; nil fields keep the
// stored value.
type ParamsOptions struct {
	ExpirationWindow *time.Duration
	AllowedDelta     *float64
	CollateralRatio  *float64
	OffersEnabled    *bool
}

// SimulateOptions parameterise a dry harvest run against the in-memory
// protocol.
type SimulateOptions struct {
	Idle             string
	CollateralAssets string
	ExchangeRate     float64
	OutstandingLoans string
	TotalDebt        string
	DebtOutstanding  string
}
