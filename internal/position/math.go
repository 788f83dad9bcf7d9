package position

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftmark/lendcore/internal/models"
	"github.com/driftmark/lendcore/internal/pricefeed"
)

// SecondsPerYear is the accrual denominator for annualized rates
const SecondsPerYear = 31_536_000

// LedgerPrecision is the smallest representable unit on the external ledger,
// in decimal places. Quoted repayment amounts round up to it.
const LedgerPrecision = 6

// Accrue applies simple interest for the wall-clock time elapsed since the
// last accrual and returns the newly accrued amount. Accrual is lazy: it runs
// at read/mutation time instead of on a background schedule, so the view is
// current at the moment it is consulted.
func Accrue(p *models.Position, now time.Time) decimal.Decimal {
	if p.Status != models.PositionStatusOpen || p.LoanPrincipal.Sign() <= 0 {
		p.LastAccrualAt = now
		return decimal.Zero
	}

	// Whole elapsed seconds keep the arithmetic in decimal end to end; no
	// float ever enters the accounting.
	elapsed := now.Unix() - p.LastAccrualAt.Unix()
	if elapsed <= 0 {
		return decimal.Zero
	}

	delta := p.LoanPrincipal.
		Mul(p.InterestRateAtOpen).
		Mul(decimal.NewFromInt(elapsed)).
		Div(decimal.NewFromInt(SecondsPerYear))
	if delta.Sign() <= 0 {
		p.LastAccrualAt = now
		return decimal.Zero
	}

	p.InterestAccrued = p.InterestAccrued.Add(delta)
	p.LastAccrualAt = now
	return delta
}

// Metrics is the pure valuation snapshot of a position. HealthFactor is nil
// when the position has no debt, which reads as maximally healthy.
type Metrics struct {
	CurrentLTV            decimal.Decimal  `json:"current_ltv"`
	HealthFactor          *decimal.Decimal `json:"health_factor"`
	Liquidatable          bool             `json:"liquidatable"`
	CollateralValueUSD    decimal.Decimal  `json:"collateral_value_usd"`
	DebtValueUSD          decimal.Decimal  `json:"debt_value_usd"`
	MaxBorrowableAmount   decimal.Decimal  `json:"max_borrowable_amount"`
	MaxWithdrawableAmount decimal.Decimal  `json:"max_withdrawable_amount"`
	AvailableLiquidity    decimal.Decimal  `json:"available_liquidity"`
}

// ComputeMetrics values a position at the given prices. No mutation: callers
// accrue first when they need the economically current view.
func ComputeMetrics(p *models.Position, m *models.Market, prices *pricefeed.Prices) Metrics {
	metrics := Metrics{
		AvailableLiquidity: AvailableLiquidity(m),
	}
	if prices == nil {
		return metrics
	}

	collateralUSD := p.CollateralAmount.Mul(prices.CollateralPriceUSD)
	debtUSD := p.OutstandingDebt().Mul(prices.DebtPriceUSD)
	metrics.CollateralValueUSD = collateralUSD
	metrics.DebtValueUSD = debtUSD

	if debtUSD.Sign() > 0 && collateralUSD.Sign() > 0 {
		ltv := debtUSD.Div(collateralUSD)
		metrics.CurrentLTV = ltv
		hf := m.LiquidationLTVRatio.Div(ltv)
		metrics.HealthFactor = &hf
		metrics.Liquidatable = ltv.GreaterThanOrEqual(m.LiquidationLTVRatio)
	} else if debtUSD.Sign() > 0 {
		// Debt with no collateral value: as unhealthy as it gets.
		metrics.Liquidatable = true
	}

	if prices.DebtPriceUSD.Sign() > 0 {
		headroom := collateralUSD.Mul(m.MaxLTVRatio).Sub(debtUSD)
		if headroom.Sign() > 0 {
			borrowable := headroom.Div(prices.DebtPriceUSD)
			if borrowable.GreaterThan(metrics.AvailableLiquidity) {
				borrowable = metrics.AvailableLiquidity
			}
			metrics.MaxBorrowableAmount = borrowable
		}
	}

	if prices.CollateralPriceUSD.Sign() > 0 {
		required := decimal.Zero
		if debtUSD.Sign() > 0 && m.MaxLTVRatio.Sign() > 0 {
			required = debtUSD.Div(m.MaxLTVRatio).Div(prices.CollateralPriceUSD)
		}
		withdrawable := p.CollateralAmount.Sub(required)
		if withdrawable.Sign() > 0 {
			metrics.MaxWithdrawableAmount = withdrawable
		}
	}

	return metrics
}

// AvailableLiquidity is the unborrowed share of the market's pooled supply
func AvailableLiquidity(m *models.Market) decimal.Decimal {
	liquidity := m.TotalSupplied.Sub(m.TotalBorrowed)
	if liquidity.Sign() < 0 {
		return decimal.Zero
	}
	return liquidity
}

// ExceedsMaxLTV reports whether the hypothetical debt/collateral valuation
// violates the market's borrow ceiling. Borrows and withdrawals that would
// violate it are rejected outright, never clamped.
func ExceedsMaxLTV(collateralAmount, debtAmount decimal.Decimal, m *models.Market, prices *pricefeed.Prices) bool {
	if debtAmount.Sign() <= 0 {
		return false
	}
	collateralUSD := collateralAmount.Mul(prices.CollateralPriceUSD)
	if collateralUSD.Sign() <= 0 {
		return true
	}
	debtUSD := debtAmount.Mul(prices.DebtPriceUSD)
	return debtUSD.Div(collateralUSD).GreaterThan(m.MaxLTVRatio)
}
