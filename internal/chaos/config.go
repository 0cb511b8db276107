package chaos

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds tape fault injection settings
type Config struct {
	Enabled    bool
	Profile    string
	DropPct    int
	InflatePct int
	DupPct     int
	Seed       int64
	MaxEvents  int
}

// LoadConfig loads chaos configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Enabled:    getEnvAsBool("CHAOS_ENABLED", false),
		Profile:    getEnvAsString("CHAOS_PROFILE", ""),
		DropPct:    getEnvAsInt("CHAOS_DROP_PCT", 0),
		InflatePct: getEnvAsInt("CHAOS_INFLATE_PCT", 0),
		DupPct:     getEnvAsInt("CHAOS_DUP_PCT", 0),
		Seed:       getEnvAsInt64("CHAOS_SEED", 1),
		MaxEvents:  getEnvAsInt("CHAOS_MAX_EVENTS", 0),
	}
}

// Rates are the per-event fault probabilities in percent
type Rates struct {
	Drop    int
	Inflate int
	Dup     int
}

// ParseProfile parses a profile string like "drop-pct=5,inflate-pct=2,dup-pct=1"
func ParseProfile(profile string) (Rates, error) {
	var r Rates
	if profile == "" {
		return r, nil
	}

	for _, part := range strings.Split(profile, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return Rates{}, fmt.Errorf("invalid profile entry %q", part)
		}
		pct, err := strconv.Atoi(val)
		if err != nil {
			return Rates{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if pct < 0 || pct > 100 {
			return Rates{}, fmt.Errorf("invalid %s: %d out of range", key, pct)
		}
		switch key {
		case "drop-pct":
			r.Drop = pct
		case "inflate-pct":
			r.Inflate = pct
		case "dup-pct":
			r.Dup = pct
		default:
			return Rates{}, fmt.Errorf("unknown profile key %q", key)
		}
	}
	return r, nil
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
