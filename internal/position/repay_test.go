package position

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftmark/lendcore/internal/errs"
	"github.com/driftmark/lendcore/internal/models"
)

func TestRepayKindValid(t *testing.T) {
	assert.True(t, RepayKindRegular.Valid())
	assert.True(t, RepayKindFull.Valid())
	assert.True(t, RepayKindOverpayment.Valid())
	assert.True(t, RepayKindLate.Valid())
	assert.False(t, RepayKind("partial").Valid())
	assert.False(t, RepayKind("").Valid())
}

func TestChargeFullRoundsUpToLedgerUnit(t *testing.T) {
	outstanding := decimal.RequireFromString("50.0001234")

	charge, err := RepayKindFull.Charge(decimal.Zero, outstanding)
	require.NoError(t, err)

	// Exact payoff, rounded up to the smallest payable unit, no buffer.
	assert.True(t, charge.Amount.Equal(decimal.RequireFromString("50.000124")), "got %s", charge.Amount)
	assert.True(t, charge.AppliedToDebt.Equal(outstanding))
	assert.False(t, charge.Late)
}

func TestChargeRegularAddsBuffer(t *testing.T) {
	outstanding := decimal.NewFromInt(200)

	charge, err := RepayKindRegular.Charge(decimal.NewFromInt(100), outstanding)
	require.NoError(t, err)

	// 100 * 1.002 = 100.2
	assert.True(t, charge.Amount.Equal(decimal.RequireFromString("100.2")), "got %s", charge.Amount)
	assert.True(t, charge.AppliedToDebt.Equal(decimal.RequireFromString("100.2")))
	assert.False(t, charge.Late)
}

func TestChargeRegularClampsToOutstanding(t *testing.T) {
	outstanding := decimal.NewFromInt(50)

	charge, err := RepayKindRegular.Charge(decimal.NewFromInt(100), outstanding)
	require.NoError(t, err)

	// Scheduled amount never exceeds the debt; the buffer on top is absorbed.
	assert.True(t, charge.Amount.Equal(decimal.RequireFromString("50.1")), "got %s", charge.Amount)
	assert.True(t, charge.AppliedToDebt.Equal(outstanding))
}

func TestChargeLateFlagsTheCharge(t *testing.T) {
	regular, err := RepayKindRegular.Charge(decimal.NewFromInt(100), decimal.NewFromInt(200))
	require.NoError(t, err)
	late, err := RepayKindLate.Charge(decimal.NewFromInt(100), decimal.NewFromInt(200))
	require.NoError(t, err)

	assert.True(t, regular.Amount.Equal(late.Amount))
	assert.False(t, regular.Late)
	assert.True(t, late.Late)
}

func TestChargeOverpayment(t *testing.T) {
	charge, err := RepayKindOverpayment.Charge(decimal.NewFromInt(300), decimal.NewFromInt(200))
	require.NoError(t, err)

	assert.True(t, charge.Amount.Equal(decimal.RequireFromString("300.6")), "got %s", charge.Amount)
	assert.True(t, charge.AppliedToDebt.Equal(decimal.NewFromInt(200)))
}

func TestChargeErrors(t *testing.T) {
	_, err := RepayKindRegular.Charge(decimal.NewFromInt(10), decimal.Zero)
	assert.True(t, errs.Is(err, errs.CodeNoDebtToRepay))

	_, err = RepayKindRegular.Charge(decimal.Zero, decimal.NewFromInt(100))
	assert.True(t, errs.Is(err, errs.CodeInvalidAmount))

	_, err = RepayKindOverpayment.Charge(decimal.NewFromInt(-5), decimal.NewFromInt(100))
	assert.True(t, errs.Is(err, errs.CodeInvalidAmount))

	_, err = RepayKind("partial").Charge(decimal.NewFromInt(10), decimal.NewFromInt(100))
	assert.True(t, errs.Is(err, errs.CodeInvalidRepayKind))
}

func TestApplyRepaymentInterestFirst(t *testing.T) {
	p := &models.Position{
		LoanPrincipal:   decimal.NewFromInt(100),
		InterestAccrued: decimal.NewFromInt(8),
	}

	interestPaid, principalPaid := ApplyRepayment(p, decimal.NewFromInt(50))
	assert.True(t, interestPaid.Equal(decimal.NewFromInt(8)))
	assert.True(t, principalPaid.Equal(decimal.NewFromInt(42)))
	assert.True(t, p.InterestAccrued.IsZero())
	assert.True(t, p.LoanPrincipal.Equal(decimal.NewFromInt(58)))
}

func TestApplyRepaymentAbsorbsExcess(t *testing.T) {
	p := &models.Position{
		LoanPrincipal:   decimal.NewFromInt(100),
		InterestAccrued: decimal.NewFromInt(8),
	}

	interestPaid, principalPaid := ApplyRepayment(p, decimal.NewFromInt(500))
	assert.True(t, interestPaid.Equal(decimal.NewFromInt(8)))
	assert.True(t, principalPaid.Equal(decimal.NewFromInt(100)))
	// Debt never goes negative however large the payment.
	assert.True(t, p.OutstandingDebt().IsZero())
}

func TestApplyRepaymentSmallPaymentOnlyTouchesInterest(t *testing.T) {
	p := &models.Position{
		LoanPrincipal:   decimal.NewFromInt(100),
		InterestAccrued: decimal.NewFromInt(8),
	}

	interestPaid, principalPaid := ApplyRepayment(p, decimal.NewFromInt(5))
	assert.True(t, interestPaid.Equal(decimal.NewFromInt(5)))
	assert.True(t, principalPaid.IsZero())
	assert.True(t, p.InterestAccrued.Equal(decimal.NewFromInt(3)))
	assert.True(t, p.LoanPrincipal.Equal(decimal.NewFromInt(100)))
}
