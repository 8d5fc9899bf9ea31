package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"sniperswing/internal/domain"
	"sniperswing/internal/indicator"
	"sniperswing/internal/lifecycle"
	"sniperswing/internal/performance"
	"sniperswing/internal/risk"
	"sniperswing/internal/signal"
	"sniperswing/internal/timing"
)

// Config holds all application configuration. Numeric strategy thresholds
// default to the deployment values of their packages; the environment
// overrides only what it sets.
type Config struct {
	// Broker gateway
	KiteAPIKey           string
	KiteAccessToken      string
	KiteBaseURL          string
	KiteWSBaseURL        string
	HTTPTimeout          time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// Notifications
	TelegramBotToken string
	TelegramChatID   string

	// Predictive scorer
	ScorerModelPath   string
	ScorerLibraryPath string
	ScorerFeatureSize int

	// Engine
	CycleInterval   time.Duration
	WarmupPoolSize  int
	InstrumentsPath string
	Instruments     []domain.Instrument

	// Strategy sections, package defaults plus env overrides
	Indicator   indicator.Config
	Classifier  signal.Config
	Risk        risk.Config
	Performance performance.Config
	Lifecycle   lifecycle.Config
	Timing      timing.Config

	// Database
	DBPath string

	// Observability
	MetricsAddr string
	LogLevel    string
	LogPretty   bool
}

// LoadConfig loads configuration from environment variables (.env file) and
// the instruments YAML file.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	// Broker gateway
	cfg.KiteAPIKey = getEnv("KITE_API_KEY", "")
	cfg.KiteAccessToken = getEnv("KITE_ACCESS_TOKEN", "")
	cfg.KiteBaseURL = getEnv("KITE_BASE_URL", "")
	cfg.KiteWSBaseURL = getEnv("KITE_WS_BASE_URL", "")
	if cfg.KiteAPIKey == "" {
		errs = append(errs, "KITE_API_KEY must be set")
	}
	if cfg.KiteAccessToken == "" {
		errs = append(errs, "KITE_ACCESS_TOKEN must be set")
	}

	httpTimeoutSeconds := getEnvAsInt("HTTP_TIMEOUT_SECONDS", 10)
	if httpTimeoutSeconds <= 0 {
		errs = append(errs, "HTTP_TIMEOUT_SECONDS must be positive")
	}
	cfg.HTTPTimeout = time.Duration(httpTimeoutSeconds) * time.Second

	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 1)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Notifications (optional, empty disables)
	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	cfg.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")

	// Predictive scorer (optional, empty model path disables)
	cfg.ScorerModelPath = getEnv("SCORER_MODEL_PATH", "")
	cfg.ScorerLibraryPath = getEnv("SCORER_LIBRARY_PATH", "")
	cfg.ScorerFeatureSize = getEnvAsInt("SCORER_FEATURE_SIZE", 12)
	if cfg.ScorerFeatureSize <= 0 {
		errs = append(errs, "SCORER_FEATURE_SIZE must be positive")
	}

	// Engine
	cycleSeconds := getEnvAsInt("CYCLE_INTERVAL_SECONDS", 30)
	if cycleSeconds <= 0 {
		errs = append(errs, "CYCLE_INTERVAL_SECONDS must be positive")
	}
	cfg.CycleInterval = time.Duration(cycleSeconds) * time.Second

	cfg.WarmupPoolSize = getEnvAsInt("WARMUP_POOL_SIZE", 4)
	if cfg.WarmupPoolSize <= 0 {
		errs = append(errs, "WARMUP_POOL_SIZE must be positive")
	}

	cfg.InstrumentsPath = getEnv("INSTRUMENTS_PATH", "./instruments.yaml")
	instruments, err := LoadInstruments(cfg.InstrumentsPath)
	if err != nil {
		errs = append(errs, fmt.Sprintf("failed to load instruments: %v", err))
	} else {
		cfg.Instruments = instruments
	}

	// Strategy sections
	cfg.Indicator = indicator.DefaultConfig()
	cfg.Indicator.RSIPeriod = getEnvAsInt("RSI_PERIOD", cfg.Indicator.RSIPeriod)
	cfg.Indicator.SlopePeriod = getEnvAsInt("SLOPE_PERIOD", cfg.Indicator.SlopePeriod)
	if err := cfg.Indicator.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid indicator config: %v", err))
	}

	cfg.Classifier = signal.DefaultConfig()
	cfg.Classifier.WeakConfidence = getEnvAsFloat("WEAK_CONFIDENCE", cfg.Classifier.WeakConfidence)

	cfg.Risk = risk.DefaultConfig()
	cfg.Risk.MaxRiskPerTrade = getEnvAsFloat("MAX_RISK_PER_TRADE", cfg.Risk.MaxRiskPerTrade)
	cfg.Risk.StopLossFraction = getEnvAsFloat("STOP_LOSS_FRACTION", cfg.Risk.StopLossFraction)
	cfg.Risk.MaxLots = getEnvAsInt("MAX_LOTS", cfg.Risk.MaxLots)
	cfg.Risk.MaxOpenPositions = getEnvAsInt("MAX_OPEN_POSITIONS", cfg.Risk.MaxOpenPositions)
	cfg.Risk.MaxTradesPerDay = getEnvAsInt("MAX_TRADES_PER_DAY", cfg.Risk.MaxTradesPerDay)
	if err := cfg.Risk.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid risk config: %v", err))
	}

	cfg.Performance = performance.DefaultConfig()
	cfg.Performance.MinTrades = getEnvAsInt("PERF_MIN_TRADES", cfg.Performance.MinTrades)
	if err := cfg.Performance.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid performance config: %v", err))
	}

	cfg.Lifecycle = lifecycle.DefaultConfig()
	cfg.Lifecycle.PartialTargetFraction = getEnvAsFloat("PARTIAL_TARGET_FRACTION", cfg.Lifecycle.PartialTargetFraction)
	cfg.Lifecycle.FullTargetFraction = getEnvAsFloat("FULL_TARGET_FRACTION", cfg.Lifecycle.FullTargetFraction)
	cfg.Lifecycle.RolloverDays = getEnvAsInt("ROLLOVER_DAYS", cfg.Lifecycle.RolloverDays)
	if err := cfg.Lifecycle.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid lifecycle config: %v", err))
	}

	cfg.Timing = timing.DefaultConfig()
	cfg.Timing.Timezone = getEnv("EXCHANGE_TIMEZONE", cfg.Timing.Timezone)

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/sniperswing.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Observability
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9108")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogPretty = getEnvAsBool("LOG_PRETTY", false)

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// instrumentYAML is the on-disk shape of one tradeable series.
type instrumentYAML struct {
	Name        string `yaml:"name"`
	Symbol      string `yaml:"symbol"`
	Exchange    string `yaml:"exchange"`
	LotSize     int    `yaml:"lot_size"`
	Expiry      string `yaml:"expiry"`
	NextSymbol  string `yaml:"next_symbol"`
	NextExpiry  string `yaml:"next_expiry"`
	BarInterval string `yaml:"bar_interval"`
}

type instrumentsFile struct {
	Instruments []instrumentYAML `yaml:"instruments"`
}

// LoadInstruments reads and validates the instrument universe from a YAML
// file. Dates use YYYY-MM-DD.
func LoadInstruments(path string) ([]domain.Instrument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", path, err)
	}
	var file instrumentsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", path, err)
	}
	if len(file.Instruments) == 0 {
		return nil, fmt.Errorf("%s defines no instruments", path)
	}

	out := make([]domain.Instrument, 0, len(file.Instruments))
	for i, in := range file.Instruments {
		if in.Symbol == "" {
			return nil, fmt.Errorf("instrument %d: symbol is required", i)
		}
		if in.LotSize <= 0 {
			return nil, fmt.Errorf("instrument %s: lot_size must be positive", in.Symbol)
		}
		expiry, err := time.Parse("2006-01-02", in.Expiry)
		if err != nil {
			return nil, fmt.Errorf("instrument %s: invalid expiry %q: %w", in.Symbol, in.Expiry, err)
		}
		inst := domain.Instrument{
			Name:        in.Name,
			Symbol:      in.Symbol,
			Exchange:    in.Exchange,
			LotSize:     in.LotSize,
			Expiry:      expiry,
			NextSymbol:  in.NextSymbol,
			BarInterval: in.BarInterval,
		}
		if inst.BarInterval == "" {
			inst.BarInterval = "30minute"
		}
		if in.NextSymbol != "" {
			nextExpiry, err := time.Parse("2006-01-02", in.NextExpiry)
			if err != nil {
				return nil, fmt.Errorf("instrument %s: invalid next_expiry %q: %w", in.Symbol, in.NextExpiry, err)
			}
			if !nextExpiry.After(expiry) {
				return nil, fmt.Errorf("instrument %s: next_expiry must be after expiry", in.Symbol)
			}
			inst.NextExpiry = nextExpiry
		}
		out = append(out, inst)
	}
	return out, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
