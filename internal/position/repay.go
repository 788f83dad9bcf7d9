package position

import (
	"github.com/shopspring/decimal"

	"github.com/driftmark/lendcore/internal/errs"
	"github.com/driftmark/lendcore/internal/models"
)

// RepayKind selects the repayment policy. Each kind carries its own charge
// computation so adding a policy is a closed, exhaustively-matched change
// rather than string branching scattered through the service.
type RepayKind string

const (
	// RepayKindRegular pays the minimum scheduled amount plus the
	// confirmation-lag buffer.
	RepayKindRegular RepayKind = "regular"
	// RepayKindFull pays the exact outstanding principal plus interest, no
	// buffer, rounded up to the ledger's smallest unit.
	RepayKindFull RepayKind = "full"
	// RepayKindOverpayment pays the caller's amount above the minimum to
	// reduce future interest.
	RepayKindOverpayment RepayKind = "overpayment"
	// RepayKindLate computes the same charge as regular but is flagged for
	// reporting.
	RepayKindLate RepayKind = "late"
)

// bufferRate tolerates the lag between quoting a payoff and the ledger
// confirming it: accrual continues for a few seconds and a payment sized to
// the quote would otherwise land insufficient.
var bufferRate = decimal.NewFromFloat(0.002)

// RepayCharge is the resolved outcome of a repayment policy
type RepayCharge struct {
	// Amount is the total the borrower is charged
	Amount decimal.Decimal
	// AppliedToDebt is the portion applied against outstanding debt; any
	// excess is absorbed, never turned into negative debt.
	AppliedToDebt decimal.Decimal
	// Late marks the repayment for reporting without changing the math
	Late bool
}

// Valid reports whether the kind is one of the known policies
func (k RepayKind) Valid() bool {
	switch k {
	case RepayKindRegular, RepayKindFull, RepayKindOverpayment, RepayKindLate:
		return true
	}
	return false
}

// Charge computes the repayment for the requested amount against the
// outstanding debt at the moment of the call.
func (k RepayKind) Charge(requested, outstanding decimal.Decimal) (RepayCharge, error) {
	if outstanding.Sign() <= 0 {
		return RepayCharge{}, errs.New(errs.CodeNoDebtToRepay, "no outstanding debt to repay")
	}

	switch k {
	case RepayKindFull:
		amount := roundUpToLedger(outstanding)
		return RepayCharge{Amount: amount, AppliedToDebt: outstanding}, nil

	case RepayKindRegular, RepayKindLate:
		scheduled := decimal.Min(requested, outstanding)
		if scheduled.Sign() <= 0 {
			return RepayCharge{}, errs.New(errs.CodeInvalidAmount, "repay amount must be positive")
		}
		amount := roundUpToLedger(withBuffer(scheduled))
		return RepayCharge{
			Amount:        amount,
			AppliedToDebt: decimal.Min(amount, outstanding),
			Late:          k == RepayKindLate,
		}, nil

	case RepayKindOverpayment:
		if requested.Sign() <= 0 {
			return RepayCharge{}, errs.New(errs.CodeInvalidAmount, "repay amount must be positive")
		}
		amount := roundUpToLedger(withBuffer(requested))
		return RepayCharge{
			Amount:        amount,
			AppliedToDebt: decimal.Min(amount, outstanding),
		}, nil
	}

	return RepayCharge{}, errs.Newf(errs.CodeInvalidRepayKind, "unknown repay kind %q", k)
}

// ApplyRepayment credits a paid amount against the position, interest before
// principal. Returns the portions actually applied; any excess beyond the
// outstanding debt is absorbed rather than turned into negative debt.
func ApplyRepayment(p *models.Position, paid decimal.Decimal) (interestPaid, principalPaid decimal.Decimal) {
	interestPaid = decimal.Min(paid, p.InterestAccrued)
	p.InterestAccrued = p.InterestAccrued.Sub(interestPaid)

	principalPaid = decimal.Min(paid.Sub(interestPaid), p.LoanPrincipal)
	p.LoanPrincipal = p.LoanPrincipal.Sub(principalPaid)
	return interestPaid, principalPaid
}

func withBuffer(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(1).Add(bufferRate))
}

func roundUpToLedger(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundUp(LedgerPrecision)
}
