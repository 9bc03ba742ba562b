// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Accounts    AccountsConfig    `yaml:"accounts"`
	Quote       QuoteConfig       `yaml:"quote"`
	Position    PositionConfig    `yaml:"position"`
	Volatility  VolatilityConfig  `yaml:"volatility"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Skew        SkewConfig        `yaml:"skew"`
	Hedge       HedgeConfig       `yaml:"hedge"`
	Liquidation LiquidationConfig `yaml:"liquidation"`
	Server      ServerConfig      `yaml:"server"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Audit       AuditConfig       `yaml:"audit"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Venue    string `yaml:"venue"` // "standx" or "mock"
	Symbol   string `yaml:"symbol"`
	LogLevel string `yaml:"log_level"`
}

// AccountConfig contains credentials and endpoints for one venue account
type AccountConfig struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"`
	WSURL     string `yaml:"ws_url"`
}

// AccountsConfig holds the primary (quoting) and hedge accounts
type AccountsConfig struct {
	Primary AccountConfig `yaml:"primary"`
	Hedge   AccountConfig `yaml:"hedge"`
}

// QuoteConfig contains quote placement parameters
type QuoteConfig struct {
	StrategyMode         string  `yaml:"strategy_mode"` // "uptime" or "rebate"
	OrderDistanceBps     float64 `yaml:"order_distance_bps"`
	CancelDistanceBps    float64 `yaml:"cancel_distance_bps"`
	RebalanceDistanceBps float64 `yaml:"rebalance_distance_bps"`
	QueuePositionLimit   int     `yaml:"queue_position_limit"`
	BreakevenOffsetBps   float64 `yaml:"breakeven_offset_bps"`
}

// PositionConfig contains position limits and hard-stop parameters
type PositionConfig struct {
	OrderSize           float64 `yaml:"order_size"`
	MaxPosition         float64 `yaml:"max_position"`
	HardStopPosition    float64 `yaml:"hard_stop_position"`
	ResumePosition      float64 `yaml:"resume_position"`
	HardStopCooldownSec int     `yaml:"hard_stop_cooldown_sec"`
	ResumeConfirmCount  int     `yaml:"resume_confirm_count"`
}

// VolatilityConfig contains the rolling-window pause/resume parameters
type VolatilityConfig struct {
	WindowSec         float64 `yaml:"window_sec"`
	PauseThresholdBps float64 `yaml:"pause_threshold_bps"`
	ResumeThresholdBps float64 `yaml:"resume_threshold_bps"`
	StableSeconds     float64 `yaml:"stable_seconds"`
}

// ExecutionConfig contains tick loop and reconciliation parameters
type ExecutionConfig struct {
	TickIntervalMs    int     `yaml:"tick_interval_ms"`
	OrderThrottleSec  float64 `yaml:"order_throttle_sec"`
	DisappearGraceSec float64 `yaml:"disappear_grace_sec"`
	EventDedupTTLSec  float64 `yaml:"event_dedup_ttl_sec"`
	AdapterTimeoutMs  int     `yaml:"adapter_timeout_ms"`
	SafeModeThreshold int     `yaml:"safe_mode_threshold"`
	BookStaleMs       int     `yaml:"book_stale_ms"`
	BookDepth         int     `yaml:"book_depth"`
	RateLimitPerSec   int     `yaml:"rate_limit_per_sec"`
	RateLimitBurst    int     `yaml:"rate_limit_burst"`
}

// SkewConfig contains inventory skew parameters
type SkewConfig struct {
	Enabled bool    `yaml:"enabled"`
	PushBps float64 `yaml:"push_bps"`
	PullBps float64 `yaml:"pull_bps"`
}

// HedgeConfig contains hedge engine parameters
type HedgeConfig struct {
	Enabled          bool    `yaml:"enabled"`
	MaxUnhedged      float64 `yaml:"max_unhedged"`
	SweepIntervalSec int     `yaml:"sweep_interval_sec"`
	TimeoutMs        int     `yaml:"timeout_ms"`
	RetryMax         int     `yaml:"retry_max"`
}

// LiquidationConfig contains the liquidation guard thresholds
type LiquidationConfig struct {
	MarginRatioThreshold    float64 `yaml:"margin_ratio_threshold"`
	LiqDistanceThresholdPct float64 `yaml:"liq_distance_threshold_pct"`
}

// ServerConfig contains the live status/control server settings
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// AlertsConfig contains webhook alert settings
type AlertsConfig struct {
	SlackWebhookURL  string `yaml:"slack_webhook_url"`
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// AuditConfig contains the per-session trade log settings
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := os.Expand(string(data), os.Getenv)

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateApp(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateQuote(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validatePosition(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateVolatility(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateExecution(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateHedge(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}

func (c *Config) validateApp() error {
	validVenues := []string{"standx", "mock"}
	if !contains(validVenues, c.App.Venue) {
		return ValidationError{
			Field:   "app.venue",
			Value:   c.App.Venue,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validVenues, ", ")),
		}
	}
	if c.App.Symbol == "" {
		return ValidationError{
			Field:   "app.symbol",
			Message: "symbol is required",
		}
	}
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.App.LogLevel)) {
		return ValidationError{
			Field:   "app.log_level",
			Value:   c.App.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	if c.App.Venue != "mock" {
		if c.Accounts.Primary.APIKey == "" || c.Accounts.Primary.SecretKey == "" {
			return ValidationError{
				Field:   "accounts.primary",
				Message: "API key and secret key are required",
			}
		}
	}
	return nil
}

func (c *Config) validateQuote() error {
	if c.Quote.StrategyMode != "uptime" && c.Quote.StrategyMode != "rebate" {
		return ValidationError{
			Field:   "quote.strategy_mode",
			Value:   c.Quote.StrategyMode,
			Message: "must be one of: uptime, rebate",
		}
	}
	if c.Quote.OrderDistanceBps <= 0 {
		return ValidationError{
			Field:   "quote.order_distance_bps",
			Value:   c.Quote.OrderDistanceBps,
			Message: "must be positive",
		}
	}
	if c.Quote.CancelDistanceBps < 0 || c.Quote.RebalanceDistanceBps < 0 {
		return ValidationError{
			Field:   "quote",
			Message: "cancel_distance_bps and rebalance_distance_bps must be non-negative",
		}
	}
	return nil
}

func (c *Config) validatePosition() error {
	if c.Position.OrderSize <= 0 {
		return ValidationError{
			Field:   "position.order_size",
			Value:   c.Position.OrderSize,
			Message: "order size must be positive",
		}
	}
	if c.Position.MaxPosition <= 0 {
		return ValidationError{
			Field:   "position.max_position",
			Value:   c.Position.MaxPosition,
			Message: "max position must be positive",
		}
	}
	if c.Position.HardStopPosition <= 0 {
		return ValidationError{
			Field:   "position.hard_stop_position",
			Value:   c.Position.HardStopPosition,
			Message: "hard stop must be positive",
		}
	}
	if c.Position.ResumePosition >= c.Position.HardStopPosition {
		return ValidationError{
			Field:   "position.resume_position",
			Value:   c.Position.ResumePosition,
			Message: "resume position must be below the hard stop",
		}
	}
	if c.Position.ResumeConfirmCount < 1 {
		return ValidationError{
			Field:   "position.resume_confirm_count",
			Value:   c.Position.ResumeConfirmCount,
			Message: "must be at least 1",
		}
	}
	return nil
}

func (c *Config) validateVolatility() error {
	if c.Volatility.WindowSec <= 0 {
		return ValidationError{
			Field:   "volatility.window_sec",
			Value:   c.Volatility.WindowSec,
			Message: "window must be positive",
		}
	}
	if c.Volatility.ResumeThresholdBps >= c.Volatility.PauseThresholdBps {
		return ValidationError{
			Field:   "volatility.resume_threshold_bps",
			Value:   c.Volatility.ResumeThresholdBps,
			Message: "resume threshold must be below the pause threshold",
		}
	}
	return nil
}

func (c *Config) validateExecution() error {
	if c.Execution.TickIntervalMs < 10 || c.Execution.TickIntervalMs > 5000 {
		return ValidationError{
			Field:   "execution.tick_interval_ms",
			Value:   c.Execution.TickIntervalMs,
			Message: "must be between 10 and 5000",
		}
	}
	if c.Execution.SafeModeThreshold < 1 {
		return ValidationError{
			Field:   "execution.safe_mode_threshold",
			Value:   c.Execution.SafeModeThreshold,
			Message: "must be at least 1",
		}
	}
	return nil
}

func (c *Config) validateHedge() error {
	if !c.Hedge.Enabled {
		return nil
	}
	if c.Hedge.MaxUnhedged <= 0 {
		return ValidationError{
			Field:   "hedge.max_unhedged",
			Value:   c.Hedge.MaxUnhedged,
			Message: "must be positive when hedging is enabled",
		}
	}
	if c.App.Venue != "mock" && (c.Accounts.Hedge.APIKey == "" || c.Accounts.Hedge.SecretKey == "") {
		return ValidationError{
			Field:   "accounts.hedge",
			Message: "hedge account credentials are required when hedging is enabled",
		}
	}
	return nil
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	cp := *c
	cp.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	return &cp
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	cp := c.Clone()
	cp.Accounts.Primary.APIKey = maskString(cp.Accounts.Primary.APIKey)
	cp.Accounts.Primary.SecretKey = maskString(cp.Accounts.Primary.SecretKey)
	cp.Accounts.Hedge.APIKey = maskString(cp.Accounts.Hedge.APIKey)
	cp.Accounts.Hedge.SecretKey = maskString(cp.Accounts.Hedge.SecretKey)
	cp.Alerts.SlackWebhookURL = maskString(cp.Alerts.SlackWebhookURL)
	cp.Alerts.TelegramBotToken = maskString(cp.Alerts.TelegramBotToken)

	data, _ := yaml.Marshal(cp)
	return string(data)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns a default configuration for testing and as the
// baseline that a config file overrides
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Venue:    "mock",
			Symbol:   "BTC-USD",
			LogLevel: "INFO",
		},
		Quote: QuoteConfig{
			StrategyMode:         "uptime",
			OrderDistanceBps:     8,
			CancelDistanceBps:    3,
			RebalanceDistanceBps: 12,
			QueuePositionLimit:   0,
			BreakevenOffsetBps:   1,
		},
		Position: PositionConfig{
			OrderSize:           0.01,
			MaxPosition:         0.05,
			HardStopPosition:    0.035,
			ResumePosition:      0.02,
			HardStopCooldownSec: 30,
			ResumeConfirmCount:  3,
		},
		Volatility: VolatilityConfig{
			WindowSec:         5,
			PauseThresholdBps: 5.0,
			ResumeThresholdBps: 3.0,
			StableSeconds:     2.0,
		},
		Execution: ExecutionConfig{
			TickIntervalMs:    100,
			OrderThrottleSec:  1.0,
			DisappearGraceSec: 2.0,
			EventDedupTTLSec:  60,
			AdapterTimeoutMs:  2000,
			SafeModeThreshold: 3,
			BookStaleMs:       1000,
			BookDepth:         10,
			RateLimitPerSec:   25,
			RateLimitBurst:    30,
		},
		Skew: SkewConfig{
			Enabled: true,
			PushBps: 6,
			PullBps: 2,
		},
		Hedge: HedgeConfig{
			Enabled:          false,
			MaxUnhedged:      0.01,
			SweepIntervalSec: 30,
			TimeoutMs:        1000,
			RetryMax:         3,
		},
		Liquidation: LiquidationConfig{
			MarginRatioThreshold:    0.8,
			LiqDistanceThresholdPct: 1.5,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:8080"},
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
		Audit: AuditConfig{
			Enabled: true,
			DBPath:  "perpmm_session.db",
		},
	}
}
