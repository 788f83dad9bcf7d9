// Package lending orchestrates the borrower and lender operations. Every
// mutation runs inside the guard: single-flight per (user, market), an
// append-only audit event around it, and idempotent replay on retry.
package lending

import (
	"context"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/driftmark/lendcore/internal/bridge"
	"github.com/driftmark/lendcore/internal/errs"
	"github.com/driftmark/lendcore/internal/guard"
	"github.com/driftmark/lendcore/internal/ledger"
	"github.com/driftmark/lendcore/internal/market"
	"github.com/driftmark/lendcore/internal/models"
	"github.com/driftmark/lendcore/internal/position"
	"github.com/driftmark/lendcore/internal/pricefeed"
	"github.com/driftmark/lendcore/internal/supply"
)

var addressPattern = regexp.MustCompile(`^[0-9A-Za-z]{10,64}$`)

// DepositCollateralInput carries the parameters of a collateral lock credit
type DepositCollateralInput struct {
	UserAddress    string `json:"user_address"`
	MarketID       string `json:"market_id"`
	TxHash         string `json:"tx_hash"`
	Condition      string `json:"condition"`
	Fulfillment    string `json:"fulfillment"`
	Preimage       string `json:"preimage"`
	IdempotencyKey string `json:"-"`
}

// BorrowInput carries the parameters of a loan drawdown
type BorrowInput struct {
	UserAddress    string          `json:"user_address"`
	MarketID       string          `json:"market_id"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"-"`
}

// RepayInput carries the parameters of a verified repayment
type RepayInput struct {
	UserAddress    string             `json:"user_address"`
	MarketID       string             `json:"market_id"`
	TxHash         string             `json:"tx_hash"`
	Kind           position.RepayKind `json:"kind"`
	IdempotencyKey string             `json:"-"`
}

// WithdrawCollateralInput carries the parameters of a collateral withdrawal
type WithdrawCollateralInput struct {
	UserAddress    string          `json:"user_address"`
	MarketID       string          `json:"market_id"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"-"`
}

// SupplyInput carries the parameters of a verified vault deposit
type SupplyInput struct {
	UserAddress    string `json:"user_address"`
	MarketID       string `json:"market_id"`
	TxHash         string `json:"tx_hash"`
	IdempotencyKey string `json:"-"`
}

// WithdrawSupplyInput carries the parameters of a verified supply withdrawal
type WithdrawSupplyInput struct {
	UserAddress    string          `json:"user_address"`
	MarketID       string          `json:"market_id"`
	TxHash         string          `json:"tx_hash"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"-"`
}

// CollectYieldInput carries the parameters of a yield collection
type CollectYieldInput struct {
	UserAddress    string `json:"user_address"`
	MarketID       string `json:"market_id"`
	IdempotencyKey string `json:"-"`
}

// PositionView is the read-side snapshot of a borrower position
type PositionView struct {
	Position *models.Position  `json:"position"`
	Metrics  position.Metrics  `json:"metrics"`
	Prices   *pricefeed.Prices `json:"prices"`
}

// SupplyView is the read-side snapshot of a lender position
type SupplyView struct {
	Position       *models.SupplyPosition `json:"position"`
	UnclaimedYield decimal.Decimal        `json:"unclaimed_yield"`
}

// RepayQuote is the planned charge for a repayment of the given kind
type RepayQuote struct {
	Kind            position.RepayKind `json:"kind"`
	OutstandingDebt decimal.Decimal    `json:"outstanding_debt"`
	Amount          decimal.Decimal    `json:"amount"`
	Late            bool               `json:"late"`
}

// Service defines the lending core operations
type Service interface {
	DepositCollateral(ctx context.Context, in DepositCollateralInput) (interface{}, error)
	Borrow(ctx context.Context, in BorrowInput) (interface{}, error)
	Repay(ctx context.Context, in RepayInput) (interface{}, error)
	WithdrawCollateral(ctx context.Context, in WithdrawCollateralInput) (interface{}, error)
	Supply(ctx context.Context, in SupplyInput) (interface{}, error)
	WithdrawSupply(ctx context.Context, in WithdrawSupplyInput) (interface{}, error)
	CollectYield(ctx context.Context, in CollectYieldInput) (interface{}, error)
	// QuoteRepay computes the planned charge for a repayment without mutating
	// anything. The requested amount only matters for partial kinds.
	QuoteRepay(ctx context.Context, userAddress, marketID string, kind position.RepayKind, requested decimal.Decimal) (*RepayQuote, error)
	GetPosition(ctx context.Context, userAddress, marketID string) (*PositionView, error)
	GetSupplyPosition(ctx context.Context, userAddress, marketID string) (*SupplyView, error)
}

type service struct {
	guard     *guard.Guard
	markets   market.Service
	prices    pricefeed.Service
	positions position.Repository
	supplies  supply.Service
	bridge    *bridge.Bridge
	log       *logrus.Entry
}

// NewService creates the lending service
func NewService(g *guard.Guard, markets market.Service, prices pricefeed.Service, positions position.Repository, supplies supply.Service, b *bridge.Bridge) Service {
	return &service{
		guard:     g,
		markets:   markets,
		prices:    prices,
		positions: positions,
		supplies:  supplies,
		bridge:    b,
		log:       logrus.WithField("component", "lending"),
	}
}

func validateAddress(address string) error {
	if address == "" {
		return errs.New(errs.CodeMissingAddress, "user address required")
	}
	if !addressPattern.MatchString(address) {
		return errs.Newf(errs.CodeInvalidAddress, "malformed address %q", address)
	}
	return nil
}

// DepositCollateral credits a verified escrow lock to the user's position
func (s *service) DepositCollateral(ctx context.Context, in DepositCollateralInput) (interface{}, error) {
	if err := validateAddress(in.UserAddress); err != nil {
		return nil, err
	}
	if in.MarketID == "" {
		return nil, errs.New(errs.CodeMissingMarket, "market id required")
	}
	if in.TxHash == "" {
		return nil, errs.New(errs.CodeMissingTxHash, "transaction hash required")
	}
	if in.Condition == "" {
		return nil, errs.New(errs.CodeMissingCondition, "escrow condition required")
	}
	if in.Fulfillment == "" {
		return nil, errs.New(errs.CodeMissingFulfillment, "escrow fulfillment required")
	}

	return s.guard.Run(ctx, guard.Request{
		Type:           models.EventTypeDepositCollateral,
		UserAddress:    in.UserAddress,
		MarketID:       in.MarketID,
		IdempotencyKey: in.IdempotencyKey,
		Params:         in,
	}, func(ctx context.Context, ev *models.Event) (interface{}, error) {
		m, err := s.markets.GetMarket(in.MarketID)
		if err != nil {
			return nil, err
		}

		deposit, err := s.bridge.VerifyCollateralDeposit(ctx, m, bridge.DepositIntent{
			TxHash:        in.TxHash,
			SenderAddress: in.UserAddress,
			Condition:     in.Condition,
			Fulfillment:   in.Fulfillment,
			Preimage:      in.Preimage,
		})
		if err != nil {
			return nil, err
		}
		ev.Amount = deposit.Amount
		ev.Currency = deposit.Currency

		now := time.Now().UTC()
		pos, err := s.positions.GetOpen(in.UserAddress, in.MarketID)
		if err != nil {
			return nil, errs.Internal(err)
		}
		if pos == nil {
			pos = &models.Position{
				UserAddress:      in.UserAddress,
				MarketID:         in.MarketID,
				CollateralAmount: deposit.Amount,
				Status:           models.PositionStatusOpen,
				OpenedAt:         now,
				LastAccrualAt:    now,
			}
			if err := s.positions.Create(pos); err != nil {
				// The escrow record exists, so the hash cannot be verified
				// again; a retry has to wait for resolution.
				return nil, guard.Unresolved(errs.Internal(err))
			}
		} else {
			position.Accrue(pos, now)
			pos.CollateralAmount = pos.CollateralAmount.Add(deposit.Amount)
			if err := s.positions.Update(pos); err != nil {
				return nil, guard.Unresolved(errs.Internal(err))
			}
		}

		view, err := s.view(ctx, pos, m)
		if err != nil {
			return nil, guard.Unresolved(err)
		}
		return view, nil
	})
}

// Borrow draws debt against the user's collateral and pays it out of the
// supply vault.
func (s *service) Borrow(ctx context.Context, in BorrowInput) (interface{}, error) {
	if err := validateAddress(in.UserAddress); err != nil {
		return nil, err
	}
	if in.MarketID == "" {
		return nil, errs.New(errs.CodeMissingMarket, "market id required")
	}
	if in.Amount.Sign() <= 0 {
		return nil, errs.New(errs.CodeInvalidAmount, "borrow amount must be positive")
	}

	return s.guard.Run(ctx, guard.Request{
		Type:           models.EventTypeBorrow,
		UserAddress:    in.UserAddress,
		MarketID:       in.MarketID,
		Amount:         in.Amount,
		IdempotencyKey: in.IdempotencyKey,
		Params:         in,
	}, func(ctx context.Context, ev *models.Event) (interface{}, error) {
		m, err := s.markets.GetMarket(in.MarketID)
		if err != nil {
			return nil, err
		}
		if m.PoolAddress == "" {
			return nil, errs.Newf(errs.CodeVaultNotConfigured, "market %s has no supply vault", in.MarketID)
		}
		ev.Currency = m.DebtCurrency

		p, err := s.prices.GetPrices(ctx, in.MarketID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, errs.Newf(errs.CodePriceUnavailable, "no prices recorded for market %s", in.MarketID)
		}

		pos, err := s.positions.GetOpen(in.UserAddress, in.MarketID)
		if err != nil {
			return nil, errs.Internal(err)
		}
		if pos == nil {
			return nil, errs.New(errs.CodeNoOpenPosition, "deposit collateral before borrowing")
		}

		position.Accrue(pos, time.Now().UTC())
		newDebt := pos.OutstandingDebt().Add(in.Amount)
		if position.ExceedsMaxLTV(pos.CollateralAmount, newDebt, m, p) {
			return nil, errs.Newf(errs.CodeBorrowLimitExceeded, "borrowing %s would exceed the market borrow ceiling", in.Amount)
		}

		// Reserve the liquidity before submitting the payout so a concurrent
		// borrow on another position cannot oversubscribe the pool.
		if _, err := s.markets.MutateAggregates(in.MarketID, func(agg *models.Market) error {
			agg.TotalBorrowed = agg.TotalBorrowed.Add(in.Amount)
			if agg.TotalBorrowed.GreaterThan(agg.TotalSupplied) {
				return errs.Newf(errs.CodeInsufficientPoolLiquidity, "pool has %s available, %s requested",
					position.AvailableLiquidity(agg), in.Amount)
			}
			return nil
		}); err != nil {
			return nil, err
		}

		payoutHash, err := s.bridge.PayOut(ctx, ledger.Payment{
			From:     m.PoolAddress,
			To:       in.UserAddress,
			Amount:   in.Amount,
			Currency: m.DebtCurrency,
			Issuer:   m.DebtIssuer,
			Memo:     "borrow",
		})
		if err != nil {
			if _, compErr := s.markets.MutateAggregates(in.MarketID, func(agg *models.Market) error {
				agg.TotalBorrowed = agg.TotalBorrowed.Sub(in.Amount)
				return nil
			}); compErr != nil {
				s.log.WithError(compErr).WithField("market", in.MarketID).Error("releasing reserved liquidity failed")
			}
			return nil, err
		}

		if pos.LoanPrincipal.Sign() == 0 {
			// The rate is locked for the life of the loan at first drawdown.
			pos.InterestRateAtOpen = m.BaseInterestRate
		}
		pos.LoanPrincipal = pos.LoanPrincipal.Add(in.Amount)
		if err := s.positions.Update(pos); err != nil {
			// The payout already left the vault; a retry must not submit a
			// second one.
			return nil, guard.Unresolved(errs.Internal(err))
		}

		view, err := s.view(ctx, pos, m)
		if err != nil {
			return nil, guard.Unresolved(err)
		}
		return map[string]interface{}{
			"payout_tx_hash": payoutHash,
			"position":       view.Position,
			"metrics":        view.Metrics,
		}, nil
	})
}

// Repay credits a verified vault payment against the user's debt
func (s *service) Repay(ctx context.Context, in RepayInput) (interface{}, error) {
	if err := validateAddress(in.UserAddress); err != nil {
		return nil, err
	}
	if in.MarketID == "" {
		return nil, errs.New(errs.CodeMissingMarket, "market id required")
	}
	if in.TxHash == "" {
		return nil, errs.New(errs.CodeMissingTxHash, "transaction hash required")
	}
	if !in.Kind.Valid() {
		return nil, errs.Newf(errs.CodeInvalidRepayKind, "unknown repay kind %q", in.Kind)
	}

	return s.guard.Run(ctx, guard.Request{
		Type:           models.EventTypeRepay,
		UserAddress:    in.UserAddress,
		MarketID:       in.MarketID,
		IdempotencyKey: in.IdempotencyKey,
		Params:         in,
	}, func(ctx context.Context, ev *models.Event) (interface{}, error) {
		m, err := s.markets.GetMarket(in.MarketID)
		if err != nil {
			return nil, err
		}

		pos, err := s.positions.GetOpen(in.UserAddress, in.MarketID)
		if err != nil {
			return nil, errs.Internal(err)
		}
		if pos == nil {
			return nil, errs.New(errs.CodeNoOpenPosition, "no open position to repay")
		}

		position.Accrue(pos, time.Now().UTC())
		outstanding := pos.OutstandingDebt()
		if outstanding.Sign() <= 0 {
			return nil, errs.New(errs.CodeNoDebtToRepay, "no outstanding debt to repay")
		}

		paid, err := s.bridge.VerifyVaultDeposit(ctx, m, in.TxHash, in.UserAddress)
		if err != nil {
			return nil, err
		}
		ev.Amount = paid
		ev.Currency = m.DebtCurrency

		if in.Kind == position.RepayKindFull && paid.LessThan(outstanding) {
			return nil, errs.Newf(errs.CodeInvalidAmount, "full repayment requires at least %s, got %s", outstanding, paid)
		}

		interestPaid, principalPaid := position.ApplyRepayment(pos, paid)
		if _, err := s.markets.MutateAggregates(in.MarketID, func(agg *models.Market) error {
			agg.TotalBorrowed = agg.TotalBorrowed.Sub(principalPaid)
			agg.GlobalYieldIndex = agg.GlobalYieldIndex.Add(supply.YieldIndexDelta(agg, interestPaid))
			return nil
		}); err != nil {
			// The repayment hash is consumed; a FAILED event would strand the
			// verified payment on retry.
			return nil, guard.Unresolved(err)
		}
		if err := s.positions.Update(pos); err != nil {
			return nil, guard.Unresolved(errs.Internal(err))
		}

		return map[string]interface{}{
			"paid":            paid,
			"interest_paid":   interestPaid,
			"principal_paid":  principalPaid,
			"excess_absorbed": paid.Sub(interestPaid).Sub(principalPaid),
			"remaining_debt":  pos.OutstandingDebt(),
			"late":            in.Kind == position.RepayKindLate,
		}, nil
	})
}

// WithdrawCollateral returns collateral to the user, closing the position
// when nothing remains.
func (s *service) WithdrawCollateral(ctx context.Context, in WithdrawCollateralInput) (interface{}, error) {
	if err := validateAddress(in.UserAddress); err != nil {
		return nil, err
	}
	if in.MarketID == "" {
		return nil, errs.New(errs.CodeMissingMarket, "market id required")
	}
	if in.Amount.Sign() <= 0 {
		return nil, errs.New(errs.CodeInvalidAmount, "withdraw amount must be positive")
	}

	return s.guard.Run(ctx, guard.Request{
		Type:           models.EventTypeWithdrawCollateral,
		UserAddress:    in.UserAddress,
		MarketID:       in.MarketID,
		Amount:         in.Amount,
		IdempotencyKey: in.IdempotencyKey,
		Params:         in,
	}, func(ctx context.Context, ev *models.Event) (interface{}, error) {
		m, err := s.markets.GetMarket(in.MarketID)
		if err != nil {
			return nil, err
		}
		ev.Currency = m.CollateralCurrency

		pos, err := s.positions.GetOpen(in.UserAddress, in.MarketID)
		if err != nil {
			return nil, errs.Internal(err)
		}
		if pos == nil {
			return nil, errs.New(errs.CodeNoOpenPosition, "no open position to withdraw from")
		}

		position.Accrue(pos, time.Now().UTC())
		if in.Amount.GreaterThan(pos.CollateralAmount) {
			return nil, errs.Newf(errs.CodeInsufficientCollateral, "position holds %s collateral, %s requested",
				pos.CollateralAmount, in.Amount)
		}

		remaining := pos.CollateralAmount.Sub(in.Amount)
		if pos.OutstandingDebt().Sign() > 0 {
			p, err := s.prices.GetPrices(ctx, in.MarketID)
			if err != nil {
				return nil, err
			}
			if p == nil {
				return nil, errs.Newf(errs.CodePriceUnavailable, "no prices recorded for market %s", in.MarketID)
			}
			if position.ExceedsMaxLTV(remaining, pos.OutstandingDebt(), m, p) {
				return nil, errs.New(errs.CodeInsufficientCollateral, "withdrawal would push the position past the borrow ceiling")
			}
		}

		payoutHash, err := s.bridge.PayOut(ctx, ledger.Payment{
			From:     m.CustodyAddress,
			To:       in.UserAddress,
			Amount:   in.Amount,
			Currency: m.CollateralCurrency,
			Issuer:   m.CollateralIssuer,
			Memo:     "withdraw_collateral",
		})
		if err != nil {
			return nil, err
		}

		pos.CollateralAmount = remaining
		closed := false
		if remaining.Sign() == 0 && pos.OutstandingDebt().Sign() == 0 {
			now := time.Now().UTC()
			pos.Status = models.PositionStatusClosed
			pos.ClosedAt = &now
			closed = true
		}
		if err := s.positions.Update(pos); err != nil {
			// Collateral already left custody; a retry must not pay twice.
			return nil, guard.Unresolved(errs.Internal(err))
		}
		if closed {
			s.bridge.ReleaseEscrows(ctx, in.UserAddress, in.MarketID)
		}

		return map[string]interface{}{
			"payout_tx_hash":       payoutHash,
			"remaining_collateral": remaining,
			"closed":               closed,
		}, nil
	})
}

// Supply credits a verified vault deposit to the user's supply position
func (s *service) Supply(ctx context.Context, in SupplyInput) (interface{}, error) {
	if err := validateAddress(in.UserAddress); err != nil {
		return nil, err
	}
	if in.MarketID == "" {
		return nil, errs.New(errs.CodeMissingMarket, "market id required")
	}
	if in.TxHash == "" {
		return nil, errs.New(errs.CodeMissingTxHash, "transaction hash required")
	}

	return s.guard.Run(ctx, guard.Request{
		Type:           models.EventTypeSupply,
		UserAddress:    in.UserAddress,
		MarketID:       in.MarketID,
		IdempotencyKey: in.IdempotencyKey,
		Params:         in,
	}, func(ctx context.Context, ev *models.Event) (interface{}, error) {
		m, err := s.markets.GetMarket(in.MarketID)
		if err != nil {
			return nil, err
		}

		paid, err := s.bridge.VerifyVaultDeposit(ctx, m, in.TxHash, in.UserAddress)
		if err != nil {
			return nil, err
		}
		ev.Amount = paid
		ev.Currency = m.DebtCurrency

		sp, err := s.supplies.Deposit(in.UserAddress, in.MarketID, paid)
		if err != nil {
			if errs.CodeOf(err) == errs.CodeInternal {
				// The deposit hash is consumed; only domain rejections may
				// fail the event outright.
				return nil, guard.Unresolved(err)
			}
			return nil, err
		}
		return sp, nil
	})
}

// WithdrawSupply registers a ledger-verified withdrawal from the supply vault
// and applies it to the lender's position.
func (s *service) WithdrawSupply(ctx context.Context, in WithdrawSupplyInput) (interface{}, error) {
	if err := validateAddress(in.UserAddress); err != nil {
		return nil, err
	}
	if in.MarketID == "" {
		return nil, errs.New(errs.CodeMissingMarket, "market id required")
	}
	if in.TxHash == "" {
		return nil, errs.New(errs.CodeMissingTxHash, "transaction hash required")
	}
	if in.Amount.Sign() <= 0 {
		return nil, errs.New(errs.CodeInvalidAmount, "withdraw amount must be positive")
	}

	return s.guard.Run(ctx, guard.Request{
		Type:           models.EventTypeWithdrawSupply,
		UserAddress:    in.UserAddress,
		MarketID:       in.MarketID,
		Amount:         in.Amount,
		IdempotencyKey: in.IdempotencyKey,
		Params:         in,
	}, func(ctx context.Context, ev *models.Event) (interface{}, error) {
		m, err := s.markets.GetMarket(in.MarketID)
		if err != nil {
			return nil, err
		}
		ev.Currency = m.DebtCurrency

		// Liquidity and balance checks run before the hash is consumed so a
		// rejected request leaves the transaction registrable on retry.
		quote, err := s.supplies.QuoteWithdraw(in.UserAddress, in.MarketID, in.Amount)
		if err != nil {
			return nil, err
		}
		ev.Amount = quote.Amount

		if err := s.bridge.VerifyVaultWithdrawal(ctx, m, in.TxHash, in.UserAddress, quote.Amount); err != nil {
			return nil, err
		}

		sp, err := s.supplies.CommitWithdraw(quote)
		if err != nil {
			// The withdrawal hash is consumed; failing the event here would
			// let a retry double-register it.
			return nil, guard.Unresolved(err)
		}
		return map[string]interface{}{
			"tx_hash":          in.TxHash,
			"withdrawn_amount": quote.Amount,
			"remaining_supply": sp.SupplyAmount,
			"position":         sp,
		}, nil
	})
}

// CollectYield pays out the yield accrued to the lender since their last
// interaction.
func (s *service) CollectYield(ctx context.Context, in CollectYieldInput) (interface{}, error) {
	if err := validateAddress(in.UserAddress); err != nil {
		return nil, err
	}
	if in.MarketID == "" {
		return nil, errs.New(errs.CodeMissingMarket, "market id required")
	}

	return s.guard.Run(ctx, guard.Request{
		Type:           models.EventTypeCollectYield,
		UserAddress:    in.UserAddress,
		MarketID:       in.MarketID,
		IdempotencyKey: in.IdempotencyKey,
		Params:         in,
	}, func(ctx context.Context, ev *models.Event) (interface{}, error) {
		m, err := s.markets.GetMarket(in.MarketID)
		if err != nil {
			return nil, err
		}
		ev.Currency = m.DebtCurrency

		quote, err := s.supplies.QuoteYield(in.UserAddress, in.MarketID)
		if err != nil {
			return nil, err
		}

		payable := quote.Amount.RoundDown(position.LedgerPrecision)
		if payable.Sign() <= 0 {
			return map[string]interface{}{"amount": decimal.Zero}, nil
		}
		ev.Amount = payable

		payoutHash, err := s.bridge.PayOut(ctx, ledger.Payment{
			From:     m.PoolAddress,
			To:       in.UserAddress,
			Amount:   payable,
			Currency: m.DebtCurrency,
			Issuer:   m.DebtIssuer,
			Memo:     "collect_yield",
		})
		if err != nil {
			return nil, err
		}
		if err := s.supplies.SettleYield(quote); err != nil {
			// The yield payout already left the vault.
			return nil, guard.Unresolved(err)
		}

		return map[string]interface{}{
			"payout_tx_hash": payoutHash,
			"amount":         payable,
		}, nil
	})
}

// QuoteRepay computes the planned repayment charge for the kind
func (s *service) QuoteRepay(ctx context.Context, userAddress, marketID string, kind position.RepayKind, requested decimal.Decimal) (*RepayQuote, error) {
	if err := validateAddress(userAddress); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, errs.Newf(errs.CodeInvalidRepayKind, "unknown repay kind %q", kind)
	}
	if _, err := s.markets.GetMarket(marketID); err != nil {
		return nil, err
	}

	pos, err := s.positions.GetOpen(userAddress, marketID)
	if err != nil {
		return nil, errs.Internal(err)
	}
	if pos == nil {
		return nil, errs.New(errs.CodeNoOpenPosition, "no open position to repay")
	}

	// Accrue on a copy so a read never mutates the stored position.
	snapshot := *pos
	position.Accrue(&snapshot, time.Now().UTC())

	charge, err := kind.Charge(requested, snapshot.OutstandingDebt())
	if err != nil {
		return nil, err
	}
	return &RepayQuote{
		Kind:            kind,
		OutstandingDebt: snapshot.OutstandingDebt(),
		Amount:          charge.Amount,
		Late:            charge.Late,
	}, nil
}

// GetPosition returns the borrower position with current valuation
func (s *service) GetPosition(ctx context.Context, userAddress, marketID string) (*PositionView, error) {
	if err := validateAddress(userAddress); err != nil {
		return nil, err
	}
	m, err := s.markets.GetMarket(marketID)
	if err != nil {
		return nil, err
	}

	pos, err := s.positions.GetOpen(userAddress, marketID)
	if err != nil {
		return nil, errs.Internal(err)
	}
	if pos == nil {
		return nil, errs.New(errs.CodeNoOpenPosition, "no open position for this user and market")
	}

	snapshot := *pos
	position.Accrue(&snapshot, time.Now().UTC())
	return s.view(ctx, &snapshot, m)
}

// GetSupplyPosition returns the lender position with derived unclaimed yield
func (s *service) GetSupplyPosition(ctx context.Context, userAddress, marketID string) (*SupplyView, error) {
	if err := validateAddress(userAddress); err != nil {
		return nil, err
	}
	m, err := s.markets.GetMarket(marketID)
	if err != nil {
		return nil, err
	}

	sp, err := s.supplies.GetActive(userAddress, marketID)
	if err != nil {
		return nil, errs.Internal(err)
	}
	if sp == nil {
		return nil, errs.New(errs.CodeNoSupplyPosition, "no active supply position")
	}
	return &SupplyView{
		Position:       sp,
		UnclaimedYield: supply.UnclaimedYield(sp, m.GlobalYieldIndex),
	}, nil
}

func (s *service) view(ctx context.Context, pos *models.Position, m *models.Market) (*PositionView, error) {
	p, err := s.prices.GetPrices(ctx, m.MarketID)
	if err != nil {
		return nil, err
	}
	return &PositionView{
		Position: pos,
		Metrics:  position.ComputeMetrics(pos, m, p),
		Prices:   p,
	}, nil
}
