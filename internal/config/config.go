// Package config loads runtime configuration from the environment and the
// market seed file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/driftmark/lendcore/internal/models"
)

// Config is the assembled runtime configuration
type Config struct {
	Port string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisAddr     string
	RedisPassword string

	LedgerEndpoint string
	LedgerTimeout  time.Duration

	// MarketsFile points at the JSON seed of market configurations
	MarketsFile string

	// OperatorAddresses may sign price updates and liquidation runs
	OperatorAddresses []string
}

// Load reads configuration from the environment. A .env file is honored when
// present but never required.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logrus.Warn("No .env file found")
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     os.Getenv("DB_PASSWORD"),
		DBName:         getEnv("DB_NAME", "lendcore"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		LedgerEndpoint: getEnv("LEDGER_RPC_URL", "http://localhost:5005"),
		LedgerTimeout:  10 * time.Second,
		MarketsFile:    getEnv("MARKETS_FILE", "markets.json"),
	}

	if raw := os.Getenv("LEDGER_TIMEOUT_SECONDS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			cfg.LedgerTimeout = time.Duration(secs) * time.Second
		}
	}
	if raw := os.Getenv("OPERATOR_ADDRESSES"); raw != "" {
		for _, addr := range strings.Split(raw, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				cfg.OperatorAddresses = append(cfg.OperatorAddresses, addr)
			}
		}
	}
	return cfg
}

// DSN assembles the postgres connection string
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// LoadMarkets parses the market seed file
func LoadMarkets(path string) ([]*models.Market, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read markets file %s", path)
	}

	var markets []*models.Market
	if err := json.Unmarshal(raw, &markets); err != nil {
		return nil, errors.Wrapf(err, "parse markets file %s", path)
	}

	for _, m := range markets {
		if m.MarketID == "" {
			return nil, errors.Errorf("markets file %s: market without market_id", path)
		}
		if m.CustodyAddress == "" {
			return nil, errors.Errorf("market %s: custody address required", m.MarketID)
		}
		if m.LiquidationLTVRatio.LessThanOrEqual(m.MaxLTVRatio) {
			return nil, errors.Errorf("market %s: liquidation LTV must exceed max LTV", m.MarketID)
		}
	}
	return markets, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
