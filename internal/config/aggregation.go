package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AggregationConfig carries the domain tunables of the aggregation engine:
// pricing constants, exchange-rate fallbacks, the session gap threshold and
// batch sizing. It is read once from aggregation.yml (or defaults) at
// startup; there is no hot reload, the engine treats configuration as
// immutable after process start.
type AggregationConfig struct {
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Rates    RatesConfig    `mapstructure:"rates"`
	Sessions SessionsConfig `mapstructure:"sessions"`
}

// PricingConfig fixes the base-currency prices applied by the cost model.
type PricingConfig struct {
	DataPricePerGB      float64 `mapstructure:"dataPricePerGb"`
	VoicePricePerMinute float64 `mapstructure:"voicePricePerMinute"`
}

// RatesConfig supplies fallback conversion rates used when the
// exchange_rates table has no observations yet.
type RatesConfig struct {
	FallbackWAKMRV float64 `mapstructure:"fallbackWakmrv"`
	FallbackMRVZAR float64 `mapstructure:"fallbackMrvzar"`
}

// SessionsConfig controls tower sessionization.
type SessionsConfig struct {
	GapThreshold time.Duration `mapstructure:"gapThreshold"`
}

func DefaultAggregationConfig() AggregationConfig {
	return AggregationConfig{
		Pricing: PricingConfig{
			DataPricePerGB:      49,
			VoicePricePerMinute: 1,
		},
		Rates: RatesConfig{
			FallbackWAKMRV: 1,
			FallbackMRVZAR: 1,
		},
		Sessions: SessionsConfig{
			GapThreshold: 2 * time.Minute,
		},
	}
}

// NewAggregationConfig loads aggregation.yml if present, falling back to
// defaults otherwise.
func NewAggregationConfig() (AggregationConfig, error) {
	v := viper.New()

	v.SetConfigName("aggregation")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/cdrflow/config")
	v.AddConfigPath("/etc/cdrflow")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CDRFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultAggregationConfig()
	v.SetDefault("aggregation.pricing.dataPricePerGb", defaults.Pricing.DataPricePerGB)
	v.SetDefault("aggregation.pricing.voicePricePerMinute", defaults.Pricing.VoicePricePerMinute)
	v.SetDefault("aggregation.rates.fallbackWakmrv", defaults.Rates.FallbackWAKMRV)
	v.SetDefault("aggregation.rates.fallbackMrvzar", defaults.Rates.FallbackMRVZAR)
	v.SetDefault("aggregation.sessions.gapThreshold", defaults.Sessions.GapThreshold)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return AggregationConfig{}, err
		}
	}

	var cfg AggregationConfig
	if err := v.UnmarshalKey("aggregation", &cfg); err != nil {
		return AggregationConfig{}, err
	}
	if err := validateAggregationConfig(cfg); err != nil {
		return AggregationConfig{}, err
	}
	return cfg, nil
}

func validateAggregationConfig(cfg AggregationConfig) error {
	if cfg.Pricing.DataPricePerGB < 0 || cfg.Pricing.VoicePricePerMinute < 0 {
		return errors.New("aggregation.pricing: prices cannot be negative")
	}
	if cfg.Rates.FallbackWAKMRV <= 0 || cfg.Rates.FallbackMRVZAR <= 0 {
		return errors.New("aggregation.rates: fallback rates must be positive")
	}
	if cfg.Sessions.GapThreshold <= 0 {
		return errors.New("aggregation.sessions.gapThreshold must be positive")
	}
	return nil
}
