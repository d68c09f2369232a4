package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"loankeeper/internal/logging"
	"loankeeper/internal/storage"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   storage.Config   `mapstructure:"database"`
	Tend       TendConfig       `mapstructure:"tend"`
	Harvest    HarvestConfig    `mapstructure:"harvest"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum"`
	Controller ControllerConfig `mapstructure:"controller"`
	Offer      OfferConfig      `mapstructure:"offer"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// TendConfig governs the repricing cadence.
type TendConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// HarvestConfig governs the reconciliation cadence.
type HarvestConfig struct {
	// Schedule is a cron expression evaluated in UTC.
	Schedule        string        `mapstructure:"schedule"`
	Timeout         time.Duration `mapstructure:"timeout"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// EthereumConfig covers on-chain access.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	ChainID        int64         `mapstructure:"chain_id"`
	PrivateKey     string        `mapstructure:"private_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TxTimeout      time.Duration `mapstructure:"tx_timeout"`
	TxsPerMinute   float64       `mapstructure:"txs_per_minute"`
}

// ControllerConfig identifies the controller's holdings, feeds, and strategy
// parameters.
type ControllerConfig struct {
	Address    string `mapstructure:"address"`
	Asset      string `mapstructure:"asset"`
	CAsset     string `mapstructure:"c_asset"`
	Collection string `mapstructure:"collection"`

	LendingProtocol string `mapstructure:"lending_protocol"`
	Vault           string `mapstructure:"vault"`

	Pool       string `mapstructure:"pool"`
	QuoteToken string `mapstructure:"quote_token"`
	ProxyToken string `mapstructure:"proxy_token"`

	PriceFeed         string `mapstructure:"price_feed"`
	PriceFeedDecimals uint8  `mapstructure:"price_feed_decimals"`
	GasFeed           string `mapstructure:"gas_feed"`
	GasFeedDecimals   uint8  `mapstructure:"gas_feed_decimals"`

	CollateralRatio  float64       `mapstructure:"collateral_ratio"`
	AllowedDelta     float64       `mapstructure:"allowed_delta"`
	ExpirationWindow time.Duration `mapstructure:"expiration_window"`
	CreateOfferGas   uint64        `mapstructure:"create_offer_gas"`
	RemoveOfferGas   uint64        `mapstructure:"remove_offer_gas"`
	OffersEnabled    bool          `mapstructure:"offers_enabled"`

	MinProfitMargin   float64       `mapstructure:"min_profit_margin"`
	MaxAttestationAge time.Duration `mapstructure:"max_attestation_age"`
}

// OfferConfig is the standing offer's template terms.
type OfferConfig struct {
	Duration              time.Duration `mapstructure:"duration"`
	InterestRatePerSecond string        `mapstructure:"interest_rate_per_second"`
	FixedTerms            bool          `mapstructure:"fixed_terms"`
	FloorTerm             bool          `mapstructure:"floor_term"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LOANKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "loankeeper")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("tend.interval", "15m")
	v.SetDefault("tend.align_to_bucket", true)
	v.SetDefault("tend.startup_delay", "0s")
	v.SetDefault("tend.advisory_lock_key", int64(0x6c6f616e31))

	v.SetDefault("harvest.schedule", "0 6 * * *")
	v.SetDefault("harvest.timeout", "10m")
	v.SetDefault("harvest.advisory_lock_key", int64(0x6c6f616e32))

	v.SetDefault("ethereum.chain_id", int64(1))
	v.SetDefault("ethereum.request_timeout", "10s")
	v.SetDefault("ethereum.tx_timeout", "2m")
	v.SetDefault("ethereum.txs_per_minute", 6.0)

	v.SetDefault("controller.price_feed_decimals", uint8(8))
	v.SetDefault("controller.gas_feed_decimals", uint8(9))
	v.SetDefault("controller.collateral_ratio", 0.25)
	v.SetDefault("controller.allowed_delta", 0.01)
	v.SetDefault("controller.expiration_window", "168h")
	v.SetDefault("controller.create_offer_gas", uint64(271000))
	v.SetDefault("controller.remove_offer_gas", uint64(108000))
	v.SetDefault("controller.offers_enabled", true)
	v.SetDefault("controller.min_profit_margin", 0.0)
	v.SetDefault("controller.max_attestation_age", "720h")

	v.SetDefault("offer.duration", "720h")
	v.SetDefault("offer.interest_rate_per_second", "0")
	v.SetDefault("offer.fixed_terms", false)
	v.SetDefault("offer.floor_term", true)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Tend.Interval <= 0 {
		return fmt.Errorf("tend.interval must be greater than zero")
	}
	if c.Harvest.Schedule == "" {
		return fmt.Errorf("harvest.schedule is required")
	}
	if c.Controller.ExpirationWindow <= 24*time.Hour {
		return fmt.Errorf("controller.expiration_window must exceed 24h")
	}
	if c.Controller.CollateralRatio <= 0 || c.Controller.CollateralRatio > 1 {
		return fmt.Errorf("controller.collateral_ratio must be in (0, 1]")
	}
	if c.Controller.AllowedDelta < 0 {
		return fmt.Errorf("controller.allowed_delta cannot be negative")
	}
	if c.Controller.MinProfitMargin < 0 {
		return fmt.Errorf("controller.min_profit_margin cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
