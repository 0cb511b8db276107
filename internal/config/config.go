package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ismaiel54/lob-replay-sim/internal/strategy"
	"gopkg.in/yaml.v3"
)

const (
	StrategyStatic     = "static"
	StrategyAvellaneda = "avellaneda"
)

// Config holds configuration for the replay tools. Values are layered:
// built-in defaults, then the YAML file named by REPLAY_CONFIG, then
// environment variables.
type Config struct {
	// Service name
	ServiceName string `yaml:"-"`

	// gRPC health server port
	GRPCPort int `yaml:"grpc_port"`

	// HTTP monitor port
	HTTPPort int `yaml:"http_port"`

	// Log level: debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// Kafka brokers (comma-separated); empty disables publishing
	KafkaBrokers string `yaml:"kafka_brokers"`

	// Directory holding the run database
	DataDir string `yaml:"data_dir"`

	// LOBSTER message file to replay
	TapePath string `yaml:"tape_path"`

	// Ticks per dollar of the tape's price column
	PriceScale int64 `yaml:"price_scale"`

	QuoteSize      int64   `yaml:"quote_size"`
	SessionSeconds float64 `yaml:"session_seconds"`

	// Strategy: static or avellaneda
	Strategy  string          `yaml:"strategy"`
	StaticBid float64         `yaml:"static_bid"`
	StaticAsk float64         `yaml:"static_ask"`
	AS        strategy.Params `yaml:"avellaneda"`

	// Replace AS.Sigma with an EWMA estimate from a first pass over the tape
	EstimateSigma bool `yaml:"estimate_sigma"`
}

func defaults(serviceName string) *Config {
	return &Config{
		ServiceName:    serviceName,
		GRPCPort:       50051,
		HTTPPort:       8080,
		LogLevel:       "info",
		KafkaBrokers:   "",
		DataDir:        "./data",
		PriceScale:     10000,
		QuoteSize:      10,
		SessionSeconds: 23400,
		Strategy:       StrategyAvellaneda,
		AS: strategy.Params{
			Gamma: 0.1,
			Kappa: 1.5,
			Sigma: 2,
			QMax:  100,
		},
	}
}

// LoadConfig loads configuration for serviceName
func LoadConfig(serviceName string) (*Config, error) {
	cfg := defaults(serviceName)

	if path := os.Getenv("REPLAY_CONFIG"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.GRPCPort = getEnvAsInt("PORT_GRPC", cfg.GRPCPort)
	cfg.HTTPPort = getEnvAsInt("PORT_HTTP", cfg.HTTPPort)
	cfg.LogLevel = getEnvAsString("LOG_LEVEL", cfg.LogLevel)
	cfg.KafkaBrokers = getEnvAsString("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.DataDir = getEnvAsString("DATA_DIR", cfg.DataDir)
	cfg.TapePath = getEnvAsString("TAPE_PATH", cfg.TapePath)
	cfg.PriceScale = getEnvAsInt64("PRICE_SCALE", cfg.PriceScale)
	cfg.QuoteSize = getEnvAsInt64("QUOTE_SIZE", cfg.QuoteSize)
	cfg.SessionSeconds = getEnvAsFloat("SESSION_SECONDS", cfg.SessionSeconds)
	cfg.Strategy = strings.ToLower(getEnvAsString("STRATEGY", cfg.Strategy))
	cfg.StaticBid = getEnvAsFloat("STATIC_BID", cfg.StaticBid)
	cfg.StaticAsk = getEnvAsFloat("STATIC_ASK", cfg.StaticAsk)
	cfg.AS.Gamma = getEnvAsFloat("AS_GAMMA", cfg.AS.Gamma)
	cfg.AS.Kappa = getEnvAsFloat("AS_KAPPA", cfg.AS.Kappa)
	cfg.AS.Sigma = getEnvAsFloat("AS_SIGMA", cfg.AS.Sigma)
	cfg.AS.QMax = getEnvAsInt64("AS_QMAX", cfg.AS.QMax)
	cfg.EstimateSigma = getEnvAsBool("ESTIMATE_SIGMA", cfg.EstimateSigma)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		errs = append(errs, errors.New("invalid http port"))
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		errs = append(errs, errors.New("invalid grpc port"))
	}
	if c.PriceScale <= 0 {
		errs = append(errs, errors.New("price_scale must be positive"))
	}
	if c.QuoteSize <= 0 {
		errs = append(errs, errors.New("quote_size must be positive"))
	}
	if c.SessionSeconds <= 0 {
		errs = append(errs, errors.New("session_seconds must be positive"))
	}
	switch c.Strategy {
	case StrategyStatic:
	case StrategyAvellaneda:
		if err := c.AS.Validate(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("unknown strategy %q", c.Strategy))
	}
	return errors.Join(errs...)
}

// Brokers splits KafkaBrokers into seed addresses
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// GRPCAddr returns the gRPC server address
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// HTTPAddr returns the HTTP server address
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
