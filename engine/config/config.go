package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "ENGINE"

// DefaultRiskConfig returns conservative risk thresholds
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxDailyLoss:         100,
		DailyProfitTarget:    200,
		MaxConcurrentTrades:  3,
		DefaultRiskPerTrade:  0.02,
		MaxRiskPerTrade:      0.05,
		EmergencyStopLoss:    200,
		MaxDrawdown:          0.15,
		MinAccountBalance:    50,
		ConsecutiveLossLimit: 5,
		DailyTradeLimit:      50,
		VolatilityThreshold:  0.02,
		CorrelationLimit:     2,
		MinTradeAmount:       0.35,
		MetricsInterval:      time.Minute,
	}
}

// DefaultConfig returns a template configuration with one demo venue
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Venues: []VenueConfig{
			{
				ID:       "primary",
				Endpoint: "wss://ws.derivws.com/websockets/v3?app_id=1089",
				Token:    "your_api_token_here",
				Priority: 0,
				Currency: "USD",
			},
		},
		Orchestrator: OrchestratorConfig{
			AutoFailover:     true,
			HealthInterval:   30 * time.Second,
			HealthMaxRetries: 3,
			VolatilityWindow: 50,
		},
		Risk:  DefaultRiskConfig(),
		Store: StoreConfig{Enabled: true, DSN: "engine.db"},
		API:   APIConfig{Enabled: true, Addr: ":8080"},
	}
}

// LoadConfig reads .env (if present), the config file and ENGINE_* env overrides
func LoadConfig(filename string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filename)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Per-venue tokens may come from the environment, e.g. ENGINE_VENUE_PRIMARY_TOKEN
	for i := range cfg.Venues {
		key := fmt.Sprintf("%s_VENUE_%s_TOKEN", envPrefix, strings.ToUpper(cfg.Venues[i].ID))
		if token := os.Getenv(key); token != "" {
			cfg.Venues[i].Token = token
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("logLevel", d.LogLevel)
	v.SetDefault("orchestrator.autoFailover", d.Orchestrator.AutoFailover)
	v.SetDefault("orchestrator.healthInterval", d.Orchestrator.HealthInterval)
	v.SetDefault("orchestrator.healthMaxRetries", d.Orchestrator.HealthMaxRetries)
	v.SetDefault("orchestrator.volatilityWindow", d.Orchestrator.VolatilityWindow)
	v.SetDefault("risk.maxDailyLoss", d.Risk.MaxDailyLoss)
	v.SetDefault("risk.dailyProfitTarget", d.Risk.DailyProfitTarget)
	v.SetDefault("risk.maxConcurrentTrades", d.Risk.MaxConcurrentTrades)
	v.SetDefault("risk.defaultRiskPerTrade", d.Risk.DefaultRiskPerTrade)
	v.SetDefault("risk.maxRiskPerTrade", d.Risk.MaxRiskPerTrade)
	v.SetDefault("risk.emergencyStopLoss", d.Risk.EmergencyStopLoss)
	v.SetDefault("risk.maxDrawdown", d.Risk.MaxDrawdown)
	v.SetDefault("risk.minAccountBalance", d.Risk.MinAccountBalance)
	v.SetDefault("risk.consecutiveLossLimit", d.Risk.ConsecutiveLossLimit)
	v.SetDefault("risk.dailyTradeLimit", d.Risk.DailyTradeLimit)
	v.SetDefault("risk.volatilityThreshold", d.Risk.VolatilityThreshold)
	v.SetDefault("risk.correlationLimit", d.Risk.CorrelationLimit)
	v.SetDefault("risk.minTradeAmount", d.Risk.MinTradeAmount)
	v.SetDefault("risk.metricsInterval", d.Risk.MetricsInterval)
	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("api.enabled", d.API.Enabled)
	v.SetDefault("api.addr", d.API.Addr)
	v.SetDefault("notify.topicPrefix", "engine")
}

// ApplyDefaults fills zero-valued venue settings and sorts venues by priority
func (c *Config) ApplyDefaults() {
	for i := range c.Venues {
		v := &c.Venues[i]
		if v.Currency == "" {
			v.Currency = "USD"
		}
		if v.MinStake == 0 {
			v.MinStake = 0.35
		}
		if v.MaxStake == 0 {
			v.MaxStake = 50000
		}
		if v.ConnectTimeout == 0 {
			v.ConnectTimeout = 10 * time.Second
		}
		if v.RequestTimeout == 0 {
			v.RequestTimeout = 30 * time.Second
		}
		if v.HeartbeatInterval == 0 {
			v.HeartbeatInterval = 30 * time.Second
		}
		if v.MaxReconnects == 0 {
			v.MaxReconnects = 5
		}
		if v.ReconnectMin == 0 {
			v.ReconnectMin = time.Second
		}
		if v.ReconnectMax == 0 {
			v.ReconnectMax = 30 * time.Second
		}
	}
	sort.SliceStable(c.Venues, func(i, j int) bool {
		return c.Venues[i].Priority < c.Venues[j].Priority
	})
	if c.Orchestrator.HealthInterval == 0 {
		c.Orchestrator.HealthInterval = 30 * time.Second
	}
	if c.Orchestrator.HealthMaxRetries == 0 {
		c.Orchestrator.HealthMaxRetries = 3
	}
	if c.Risk.MetricsInterval == 0 {
		c.Risk.MetricsInterval = time.Minute
	}
}

// Validate checks struct tags and cross-field rules
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Risk.DefaultRiskPerTrade > c.Risk.MaxRiskPerTrade {
		return fmt.Errorf("invalid config: defaultRiskPerTrade %.4f exceeds maxRiskPerTrade %.4f",
			c.Risk.DefaultRiskPerTrade, c.Risk.MaxRiskPerTrade)
	}
	seen := make(map[string]bool, len(c.Venues))
	for _, v := range c.Venues {
		if seen[v.ID] {
			return fmt.Errorf("invalid config: duplicate venue id %q", v.ID)
		}
		seen[v.ID] = true
		if v.MaxStake < v.MinStake {
			return fmt.Errorf("invalid config: venue %s maxStake below minStake", v.ID)
		}
	}
	return nil
}

// SaveConfig writes a configuration to a JSON file
func SaveConfig(filename string, config *Config) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CreateDefaultConfig creates a template configuration file
func CreateDefaultConfig(filename string) error {
	return SaveConfig(filename, DefaultConfig())
}
