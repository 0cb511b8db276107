package msg

import (
	"os"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Topic names
const (
	TopicFills     = "replay.fills"
	TopicSummaries = "replay.summaries"
)

// Topics lists every topic a replay run publishes to
func Topics() []string {
	return []string{TopicFills, TopicSummaries}
}

// Config locates the brokers a replay run publishes to and the group a
// verifier reads back with
type Config struct {
	Brokers  []string
	ClientID string
	Group    string
}

// NewConfig builds a config for brokers with the default client id and group
func NewConfig(brokers []string) *Config {
	return &Config{
		Brokers:  brokers,
		ClientID: "lob-replay",
		Group:    "lob-replay-verifier",
	}
}

// LoadConfig reads KAFKA_BROKERS, KAFKA_CLIENT_ID and KAFKA_GROUP
func LoadConfig() *Config {
	cfg := NewConfig(SplitBrokers(getEnvAsString("KAFKA_BROKERS", "127.0.0.1:9092")))
	cfg.ClientID = getEnvAsString("KAFKA_CLIENT_ID", cfg.ClientID)
	cfg.Group = getEnvAsString("KAFKA_GROUP", cfg.Group)
	return cfg
}

// SplitBrokers parses a comma separated broker list, dropping blanks
func SplitBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (c *Config) clientOpts() []kgo.Opt {
	return []kgo.Opt{
		kgo.SeedBrokers(c.Brokers...),
		kgo.ClientID(c.ClientID),
	}
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
