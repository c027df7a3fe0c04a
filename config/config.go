package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              string
	Environment       string
	MongoDBURI        string
	ProviderBaseURL   string
	FanoutIntervalSec int
	QuoteTTLSec       int
	HistoryTTLSec     int
	ProviderSpacingMS int
	MaxStreamClients  int
}

var AppConfig *Config

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:              getEnv("PORT", "8080"),
		Environment:       getEnv("ENVIRONMENT", "development"),
		MongoDBURI:        getEnv("MONGODB_URI", ""),
		ProviderBaseURL:   getEnv("PROVIDER_BASE_URL", "https://query1.finance.yahoo.com"),
		FanoutIntervalSec: getEnvInt("FANOUT_INTERVAL_SEC", 30),
		QuoteTTLSec:       getEnvInt("QUOTE_TTL_SEC", 30),
		HistoryTTLSec:     getEnvInt("HISTORY_TTL_SEC", 300),
		ProviderSpacingMS: getEnvInt("PROVIDER_SPACING_MS", 500),
		MaxStreamClients:  getEnvInt("MAX_STREAM_CLIENTS", 100),
	}

	AppConfig = config
	return config, nil
}

// FanoutInterval returns the fanout tick interval as a duration
func (c *Config) FanoutInterval() time.Duration {
	return time.Duration(c.FanoutIntervalSec) * time.Second
}

// QuoteTTL returns the quote cache TTL as a duration
func (c *Config) QuoteTTL() time.Duration {
	return time.Duration(c.QuoteTTLSec) * time.Second
}

// HistoryTTL returns the history cache TTL as a duration
func (c *Config) HistoryTTL() time.Duration {
	return time.Duration(c.HistoryTTLSec) * time.Second
}

// ProviderSpacing returns the minimum spacing between upstream calls
func (c *Config) ProviderSpacing() time.Duration {
	return time.Duration(c.ProviderSpacingMS) * time.Millisecond
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}
