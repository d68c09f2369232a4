package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("loading defaults failed: %v", err)
	}

	if cfg.Tend.Interval != 15*time.Minute {
		t.Fatalf("unexpected tend interval: %s", cfg.Tend.Interval)
	}
	if cfg.Harvest.Schedule == "" {
		t.Fatal("harvest schedule default missing")
	}
	if cfg.Controller.PriceFeedDecimals != 8 {
		t.Fatalf("unexpected price feed decimals: %d", cfg.Controller.PriceFeedDecimals)
	}
	if cfg.Controller.GasFeedDecimals != 9 {
		t.Fatalf("unexpected gas feed decimals: %d", cfg.Controller.GasFeedDecimals)
	}
	if cfg.Controller.ExpirationWindow <= 24*time.Hour {
		t.Fatalf("default expiration window must exceed 24h: %s", cfg.Controller.ExpirationWindow)
	}
}

func TestValidateRejectsShortWindow(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("loading defaults failed: %v", err)
	}

	cfg.Controller.ExpirationWindow = 10 * time.Hour
	if err := cfg.Validate(); err == nil {
		t.Fatal("expiration window at or below 24h must be rejected")
	}
}

func TestValidateRejectsBadRatio(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("loading defaults failed: %v", err)
	}

	cfg.Controller.CollateralRatio = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("collateral ratio above one must be rejected")
	}

	cfg.Controller.CollateralRatio = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero collateral ratio must be rejected")
	}
}

func TestValidateTelegramRequiresCredentials(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("loading defaults failed: %v", err)
	}

	cfg.Alerting.Telegram.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled telegram without credentials must be rejected")
	}
}
