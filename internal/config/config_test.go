package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMarketsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "markets.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMarkets(t *testing.T) {
	path := writeMarketsFile(t, `[
		{
			"market_id": "XAU-USD",
			"collateral_currency": "XAU",
			"debt_currency": "USD",
			"custody_address": "rCustodyXAUUSDkQ3hZtP6fRnWm9LgYxBc",
			"pool_address": "rPoolXAUUSDvT2jMw8cKdQfXn5ZbHyGeR",
			"max_ltv_ratio": "0.7",
			"liquidation_ltv_ratio": "0.8",
			"base_interest_rate": "0.08"
		}
	]`)

	markets, err := LoadMarkets(path)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "XAU-USD", markets[0].MarketID)
	assert.True(t, markets[0].MaxLTVRatio.Equal(decimal.NewFromFloat(0.7)))
}

func TestLoadMarketsMissingFile(t *testing.T) {
	_, err := LoadMarkets(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadMarketsRejectsMissingMarketID(t *testing.T) {
	path := writeMarketsFile(t, `[{"custody_address": "rCustodyAbc123456789"}]`)
	_, err := LoadMarkets(path)
	assert.ErrorContains(t, err, "market_id")
}

func TestLoadMarketsRejectsMissingCustody(t *testing.T) {
	path := writeMarketsFile(t, `[{
		"market_id": "XAU-USD",
		"max_ltv_ratio": "0.7",
		"liquidation_ltv_ratio": "0.8"
	}]`)
	_, err := LoadMarkets(path)
	assert.ErrorContains(t, err, "custody")
}

func TestLoadMarketsRejectsInvertedThresholds(t *testing.T) {
	path := writeMarketsFile(t, `[{
		"market_id": "XAU-USD",
		"custody_address": "rCustodyXAUUSDkQ3hZtP6fRnWm9LgYxBc",
		"max_ltv_ratio": "0.8",
		"liquidation_ltv_ratio": "0.7"
	}]`)
	_, err := LoadMarkets(path)
	assert.ErrorContains(t, err, "liquidation LTV")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("OPERATOR_ADDRESSES", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "localhost", cfg.DBHost)
	assert.Empty(t, cfg.OperatorAddresses)
}

func TestLoadOperatorAddresses(t *testing.T) {
	t.Setenv("OPERATOR_ADDRESSES", "0xAbc, 0xDef ,")

	cfg := Load()
	assert.Equal(t, []string{"0xAbc", "0xDef"}, cfg.OperatorAddresses)
}
