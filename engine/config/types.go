package config

import "time"

// Config holds all configuration settings
type Config struct {
	LogLevel     string             `mapstructure:"logLevel" json:"logLevel"`
	Venues       []VenueConfig      `mapstructure:"venues" json:"venues" validate:"required,min=1,dive"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" json:"orchestrator"`
	Risk         RiskConfig         `mapstructure:"risk" json:"risk"`
	Store        StoreConfig        `mapstructure:"store" json:"store"`
	Notify       NotifyConfig       `mapstructure:"notify" json:"notify"`
	API          APIConfig          `mapstructure:"api" json:"api"`
}

// VenueConfig holds the endpoint and credentials of one venue
type VenueConfig struct {
	ID       string `mapstructure:"id" json:"id" validate:"required"`
	Endpoint string `mapstructure:"endpoint" json:"endpoint" validate:"required,url"`
	Token    string `mapstructure:"token" json:"token" validate:"required"`
	// Priority orders venues for connection and failover; lower goes first.
	Priority      int      `mapstructure:"priority" json:"priority"`
	Currency      string   `mapstructure:"currency" json:"currency"`
	AllowedAssets []string `mapstructure:"allowedAssets" json:"allowedAssets"`
	MinStake      float64  `mapstructure:"minStake" json:"minStake" validate:"gte=0"`
	MaxStake      float64  `mapstructure:"maxStake" json:"maxStake" validate:"gte=0"`

	ConnectTimeout    time.Duration `mapstructure:"connectTimeout" json:"connectTimeout"`
	RequestTimeout    time.Duration `mapstructure:"requestTimeout" json:"requestTimeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval" json:"heartbeatInterval"`
	MaxReconnects     int           `mapstructure:"maxReconnects" json:"maxReconnects"`
	ReconnectMin      time.Duration `mapstructure:"reconnectMin" json:"reconnectMin"`
	ReconnectMax      time.Duration `mapstructure:"reconnectMax" json:"reconnectMax"`
}

// OrchestratorConfig holds multi-venue behaviour
type OrchestratorConfig struct {
	AutoFailover     bool          `mapstructure:"autoFailover" json:"autoFailover"`
	HealthInterval   time.Duration `mapstructure:"healthInterval" json:"healthInterval"`
	HealthMaxRetries int           `mapstructure:"healthMaxRetries" json:"healthMaxRetries"`
	WatchedAssets    []string      `mapstructure:"watchedAssets" json:"watchedAssets"`
	VolatilityWindow int           `mapstructure:"volatilityWindow" json:"volatilityWindow"`
}

// RiskConfig holds risk management thresholds
type RiskConfig struct {
	MaxDailyLoss         float64 `mapstructure:"maxDailyLoss" json:"maxDailyLoss" validate:"gt=0"`
	DailyProfitTarget    float64 `mapstructure:"dailyProfitTarget" json:"dailyProfitTarget" validate:"gte=0"`
	MaxConcurrentTrades  int     `mapstructure:"maxConcurrentTrades" json:"maxConcurrentTrades" validate:"gt=0"`
	DefaultRiskPerTrade  float64 `mapstructure:"defaultRiskPerTrade" json:"defaultRiskPerTrade" validate:"gt=0,lte=1"`
	MaxRiskPerTrade      float64 `mapstructure:"maxRiskPerTrade" json:"maxRiskPerTrade" validate:"gt=0,lte=1"`
	EmergencyStopLoss    float64 `mapstructure:"emergencyStopLoss" json:"emergencyStopLoss" validate:"gt=0"`
	MaxDrawdown          float64 `mapstructure:"maxDrawdown" json:"maxDrawdown" validate:"gt=0,lte=1"`
	MinAccountBalance    float64 `mapstructure:"minAccountBalance" json:"minAccountBalance" validate:"gte=0"`
	ConsecutiveLossLimit int     `mapstructure:"consecutiveLossLimit" json:"consecutiveLossLimit" validate:"gt=0"`
	DailyTradeLimit      int     `mapstructure:"dailyTradeLimit" json:"dailyTradeLimit" validate:"gt=0"`
	VolatilityThreshold  float64 `mapstructure:"volatilityThreshold" json:"volatilityThreshold" validate:"gte=0"`
	CorrelationLimit     int     `mapstructure:"correlationLimit" json:"correlationLimit" validate:"gte=0"`
	MinTradeAmount       float64 `mapstructure:"minTradeAmount" json:"minTradeAmount" validate:"gte=0"`

	MetricsInterval time.Duration `mapstructure:"metricsInterval" json:"metricsInterval"`
}

// StoreConfig points the persistence sink at a sqlite file
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	DSN     string `mapstructure:"dsn" json:"dsn"`
}

// NotifyConfig configures the kafka notifier
type NotifyConfig struct {
	Enabled     bool     `mapstructure:"enabled" json:"enabled"`
	Brokers     []string `mapstructure:"brokers" json:"brokers"`
	TopicPrefix string   `mapstructure:"topicPrefix" json:"topicPrefix"`
}

// APIConfig configures the ops HTTP server
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Addr    string `mapstructure:"addr" json:"addr"`
}
