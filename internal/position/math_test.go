package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftmark/lendcore/internal/models"
	"github.com/driftmark/lendcore/internal/pricefeed"
)

func testMarket() *models.Market {
	return &models.Market{
		MarketID:            "XAU-USD",
		CollateralCurrency:  "XAU",
		DebtCurrency:        "USD",
		MaxLTVRatio:         decimal.NewFromFloat(0.7),
		LiquidationLTVRatio: decimal.NewFromFloat(0.8),
		LiquidationPenalty:  decimal.NewFromFloat(0.05),
		BaseInterestRate:    decimal.NewFromFloat(0.08),
		TotalSupplied:       decimal.NewFromInt(1000),
		TotalBorrowed:       decimal.NewFromInt(200),
	}
}

func parPrices() *pricefeed.Prices {
	return &pricefeed.Prices{
		CollateralPriceUSD: decimal.NewFromInt(1),
		DebtPriceUSD:       decimal.NewFromInt(1),
	}
}

func TestAccrueSimpleInterest(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := &models.Position{
		Status:             models.PositionStatusOpen,
		LoanPrincipal:      decimal.NewFromInt(1000),
		InterestRateAtOpen: decimal.NewFromFloat(0.08),
		LastAccrualAt:      start,
	}

	// One full year at 8% simple interest.
	delta := Accrue(p, start.Add(time.Duration(SecondsPerYear)*time.Second))
	assert.True(t, delta.Equal(decimal.NewFromInt(80)), "expected 80, got %s", delta)
	assert.True(t, p.InterestAccrued.Equal(decimal.NewFromInt(80)))
	assert.True(t, p.OutstandingDebt().Equal(decimal.NewFromInt(1080)))
}

func TestAccrueIsIncremental(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := &models.Position{
		Status:             models.PositionStatusOpen,
		LoanPrincipal:      decimal.NewFromInt(1000),
		InterestRateAtOpen: decimal.NewFromFloat(0.08),
		LastAccrualAt:      start,
	}

	half := start.Add(time.Duration(SecondsPerYear/2) * time.Second)
	full := start.Add(time.Duration(SecondsPerYear) * time.Second)

	Accrue(p, half)
	Accrue(p, full)

	// Two half-year accruals must equal one full-year accrual.
	assert.True(t, p.InterestAccrued.Equal(decimal.NewFromInt(80)), "got %s", p.InterestAccrued)
	assert.Equal(t, full, p.LastAccrualAt)
}

func TestAccrueStaysExactWithSubSecondTimestamps(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := &models.Position{
		Status:             models.PositionStatusOpen,
		LoanPrincipal:      decimal.NewFromInt(1000),
		InterestRateAtOpen: decimal.NewFromFloat(0.08),
		LastAccrualAt:      start,
	}

	// A ragged wall-clock timestamp must not leak float noise into the
	// accrued amount: only whole elapsed seconds count.
	ragged := start.Add(time.Duration(SecondsPerYear)*time.Second + 517*time.Millisecond)
	delta := Accrue(p, ragged)
	assert.True(t, delta.Equal(decimal.NewFromInt(80)), "expected exactly 80, got %s", delta)
}

func TestAccrueNoOpCases(t *testing.T) {
	now := time.Now().UTC()

	closed := &models.Position{
		Status:             models.PositionStatusClosed,
		LoanPrincipal:      decimal.NewFromInt(1000),
		InterestRateAtOpen: decimal.NewFromFloat(0.08),
		LastAccrualAt:      now.Add(-time.Hour),
	}
	assert.True(t, Accrue(closed, now).IsZero())

	debtFree := &models.Position{
		Status:        models.PositionStatusOpen,
		LastAccrualAt: now.Add(-time.Hour),
	}
	assert.True(t, Accrue(debtFree, now).IsZero())

	backwards := &models.Position{
		Status:             models.PositionStatusOpen,
		LoanPrincipal:      decimal.NewFromInt(1000),
		InterestRateAtOpen: decimal.NewFromFloat(0.08),
		LastAccrualAt:      now.Add(time.Hour),
	}
	assert.True(t, Accrue(backwards, now).IsZero())
}

func TestBorrowCeilingAtMaxLTV(t *testing.T) {
	m := testMarket()
	p := parPrices()
	collateral := decimal.NewFromInt(100)

	// 70 against 100 at par sits exactly on the ceiling.
	assert.False(t, ExceedsMaxLTV(collateral, decimal.NewFromInt(70), m, p))
	assert.True(t, ExceedsMaxLTV(collateral, decimal.NewFromInt(71), m, p))
}

func TestMetricsBecomeLiquidatableOnPriceDrop(t *testing.T) {
	m := testMarket()
	pos := &models.Position{
		Status:           models.PositionStatusOpen,
		CollateralAmount: decimal.NewFromInt(100),
		LoanPrincipal:    decimal.NewFromInt(70),
	}

	healthy := ComputeMetrics(pos, m, parPrices())
	assert.False(t, healthy.Liquidatable)
	assert.True(t, healthy.CurrentLTV.Equal(decimal.NewFromFloat(0.7)))
	require.NotNil(t, healthy.HealthFactor)
	assert.True(t, healthy.HealthFactor.GreaterThan(decimal.NewFromInt(1)))

	dropped := ComputeMetrics(pos, m, &pricefeed.Prices{
		CollateralPriceUSD: decimal.NewFromFloat(0.80),
		DebtPriceUSD:       decimal.NewFromInt(1),
	})
	assert.True(t, dropped.CurrentLTV.Equal(decimal.NewFromFloat(0.875)), "got %s", dropped.CurrentLTV)
	assert.True(t, dropped.Liquidatable)
	require.NotNil(t, dropped.HealthFactor)
	assert.True(t, dropped.HealthFactor.LessThan(decimal.NewFromInt(1)))
}

func TestMetricsDebtFreePosition(t *testing.T) {
	m := testMarket()
	pos := &models.Position{
		Status:           models.PositionStatusOpen,
		CollateralAmount: decimal.NewFromInt(100),
	}

	metrics := ComputeMetrics(pos, m, parPrices())
	assert.Nil(t, metrics.HealthFactor)
	assert.False(t, metrics.Liquidatable)
	assert.True(t, metrics.CurrentLTV.IsZero())
	// Full collateral withdrawable, borrowable limited by the ceiling.
	assert.True(t, metrics.MaxWithdrawableAmount.Equal(decimal.NewFromInt(100)))
	assert.True(t, metrics.MaxBorrowableAmount.Equal(decimal.NewFromInt(70)))
}

func TestMaxBorrowableCappedByLiquidity(t *testing.T) {
	m := testMarket()
	m.TotalSupplied = decimal.NewFromInt(230)
	m.TotalBorrowed = decimal.NewFromInt(200)

	pos := &models.Position{
		Status:           models.PositionStatusOpen,
		CollateralAmount: decimal.NewFromInt(100),
	}
	metrics := ComputeMetrics(pos, m, parPrices())
	// Headroom allows 70 but only 30 sits unborrowed in the pool.
	assert.True(t, metrics.MaxBorrowableAmount.Equal(decimal.NewFromInt(30)), "got %s", metrics.MaxBorrowableAmount)
}

func TestAvailableLiquidityFloorsAtZero(t *testing.T) {
	m := testMarket()
	m.TotalSupplied = decimal.NewFromInt(100)
	m.TotalBorrowed = decimal.NewFromInt(150)
	assert.True(t, AvailableLiquidity(m).IsZero())
}

func TestComputeMetricsWithoutPrices(t *testing.T) {
	m := testMarket()
	pos := &models.Position{
		Status:           models.PositionStatusOpen,
		CollateralAmount: decimal.NewFromInt(100),
		LoanPrincipal:    decimal.NewFromInt(70),
	}
	metrics := ComputeMetrics(pos, m, nil)
	assert.False(t, metrics.Liquidatable)
	assert.True(t, metrics.AvailableLiquidity.Equal(decimal.NewFromInt(800)))
}
