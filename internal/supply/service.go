// Package supply keeps the pooled-liquidity accounting. Yield owed to a
// lender is never stored; it is always derived from the gap between the
// market's global yield index and the index snapshot taken at the lender's
// last interaction.
package supply

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/driftmark/lendcore/internal/errs"
	"github.com/driftmark/lendcore/internal/market"
	"github.com/driftmark/lendcore/internal/models"
)

// UnclaimedYield derives the yield accrued to a supply position since its
// last index snapshot.
func UnclaimedYield(sp *models.SupplyPosition, globalIndex decimal.Decimal) decimal.Decimal {
	gap := globalIndex.Sub(sp.YieldIndex)
	if gap.Sign() <= 0 {
		return decimal.Zero
	}
	return sp.SupplyAmount.Mul(gap)
}

// YieldIndexDelta converts realized borrower interest into a global index
// increment. The reserve factor's share stays with the protocol and the vault
// scale translates vault units into index units. Zero when nothing is
// supplied: interest realized against an empty pool has no one to accrue to.
func YieldIndexDelta(m *models.Market, realizedInterest decimal.Decimal) decimal.Decimal {
	if realizedInterest.Sign() <= 0 || m.TotalSupplied.Sign() <= 0 {
		return decimal.Zero
	}
	lenderShare := decimal.NewFromInt(1).Sub(m.ReserveFactor)
	if lenderShare.Sign() <= 0 {
		return decimal.Zero
	}
	return realizedInterest.Mul(lenderShare).Mul(m.VaultScale).Div(m.TotalSupplied)
}

// YieldQuote pins the yield owed to a lender at a specific global index so a
// payout and the snapshot update settle the same amount even if the index
// moves in between.
type YieldQuote struct {
	Position *models.SupplyPosition
	Amount   decimal.Decimal
	Index    decimal.Decimal
}

// WithdrawQuote pins a principal withdrawal before the payout is submitted
type WithdrawQuote struct {
	Position *models.SupplyPosition
	// Amount is what gets paid out to the lender
	Amount decimal.Decimal
	// YieldFolded is unclaimed yield converted into principal at quote time
	YieldFolded    decimal.Decimal
	Index          decimal.Decimal
	ClosesPosition bool
}

// Service defines supply-side pool operations. Mutations that touch the
// market's shared counters run under the per-market aggregate lock.
type Service interface {
	GetActive(userAddress, marketID string) (*models.SupplyPosition, error)
	ListForUser(userAddress string, limit, offset int) ([]*models.SupplyPosition, error)
	// Deposit credits verified vault funds to the user's supply position,
	// folding any unclaimed yield into principal first.
	Deposit(userAddress, marketID string, amount decimal.Decimal) (*models.SupplyPosition, error)
	QuoteYield(userAddress, marketID string) (*YieldQuote, error)
	// SettleYield advances the position's index snapshot to the quoted index.
	// Callers pay the quoted amount out before settling.
	SettleYield(quote *YieldQuote) error
	QuoteWithdraw(userAddress, marketID string, requested decimal.Decimal) (*WithdrawQuote, error)
	// CommitWithdraw applies a quoted withdrawal to the position and the pool
	// counters, closing the position when nothing remains.
	CommitWithdraw(quote *WithdrawQuote) (*models.SupplyPosition, error)
}

type service struct {
	repo    Repository
	markets market.Service
	log     *logrus.Entry
}

// NewService creates a new supply service
func NewService(repo Repository, markets market.Service) Service {
	return &service{
		repo:    repo,
		markets: markets,
		log:     logrus.WithField("component", "supply"),
	}
}

func (s *service) GetActive(userAddress, marketID string) (*models.SupplyPosition, error) {
	return s.repo.GetActive(userAddress, marketID)
}

func (s *service) ListForUser(userAddress string, limit, offset int) ([]*models.SupplyPosition, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListForUser(userAddress, limit, offset)
}

func (s *service) Deposit(userAddress, marketID string, amount decimal.Decimal) (*models.SupplyPosition, error) {
	if amount.Sign() <= 0 {
		return nil, errs.New(errs.CodeInvalidAmount, "supply amount must be positive")
	}

	var position *models.SupplyPosition
	_, err := s.markets.MutateAggregates(marketID, func(m *models.Market) error {
		if amount.LessThan(m.MinSupplyAmount) {
			return errs.Newf(errs.CodeMinSupplyNotMet, "supply amount %s below market minimum %s", amount, m.MinSupplyAmount)
		}

		existing, err := s.repo.GetActive(userAddress, marketID)
		if err != nil {
			return errs.Internal(err)
		}

		now := time.Now().UTC()
		if existing == nil {
			position = &models.SupplyPosition{
				UserAddress:     userAddress,
				MarketID:        marketID,
				SupplyAmount:    amount,
				YieldIndex:      m.GlobalYieldIndex,
				Status:          models.SupplyStatusActive,
				SuppliedAt:      now,
				LastYieldUpdate: now,
			}
			if err := s.repo.Create(position); err != nil {
				return errs.Internal(err)
			}
			m.TotalSupplied = m.TotalSupplied.Add(amount)
			return nil
		}

		// Folding unclaimed yield into principal keeps a single index
		// snapshot valid for the whole balance.
		folded := UnclaimedYield(existing, m.GlobalYieldIndex)
		existing.SupplyAmount = existing.SupplyAmount.Add(folded).Add(amount)
		existing.YieldIndex = m.GlobalYieldIndex
		existing.LastYieldUpdate = now
		if err := s.repo.Update(existing); err != nil {
			return errs.Internal(err)
		}
		m.TotalSupplied = m.TotalSupplied.Add(amount).Add(folded)
		position = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return position, nil
}

func (s *service) QuoteYield(userAddress, marketID string) (*YieldQuote, error) {
	m, err := s.markets.GetMarket(marketID)
	if err != nil {
		return nil, err
	}
	if m.PoolAddress == "" {
		return nil, errs.Newf(errs.CodeUnsupportedOperation, "market %s has no supply vault", marketID)
	}

	position, err := s.repo.GetActive(userAddress, marketID)
	if err != nil {
		return nil, errs.Internal(err)
	}
	if position == nil {
		return nil, errs.New(errs.CodeNoSupplyPosition, "no active supply position")
	}

	return &YieldQuote{
		Position: position,
		Amount:   UnclaimedYield(position, m.GlobalYieldIndex),
		Index:    m.GlobalYieldIndex,
	}, nil
}

func (s *service) SettleYield(quote *YieldQuote) error {
	quote.Position.YieldIndex = quote.Index
	quote.Position.LastYieldUpdate = time.Now().UTC()
	if err := s.repo.Update(quote.Position); err != nil {
		return errs.Internal(err)
	}
	s.log.WithFields(logrus.Fields{
		"user":   quote.Position.UserAddress,
		"market": quote.Position.MarketID,
		"amount": quote.Amount.String(),
	}).Info("yield settled")
	return nil
}

func (s *service) QuoteWithdraw(userAddress, marketID string, requested decimal.Decimal) (*WithdrawQuote, error) {
	if requested.Sign() <= 0 {
		return nil, errs.New(errs.CodeInvalidAmount, "withdraw amount must be positive")
	}

	m, err := s.markets.GetMarket(marketID)
	if err != nil {
		return nil, err
	}
	if m.PoolAddress == "" {
		return nil, errs.Newf(errs.CodeUnsupportedOperation, "market %s has no supply vault", marketID)
	}

	position, err := s.repo.GetActive(userAddress, marketID)
	if err != nil {
		return nil, errs.Internal(err)
	}
	if position == nil {
		return nil, errs.New(errs.CodeNoSupplyPosition, "no active supply position")
	}

	folded := UnclaimedYield(position, m.GlobalYieldIndex)
	balance := position.SupplyAmount.Add(folded)
	if requested.GreaterThan(balance) {
		return nil, errs.Newf(errs.CodeInvalidAmount, "withdraw amount %s exceeds supply balance %s", requested, balance)
	}

	available := m.TotalSupplied.Sub(m.TotalBorrowed)
	if requested.GreaterThan(available) {
		return nil, errs.Newf(errs.CodeInsufficientPoolLiquidity, "pool has %s available, %s requested", available, requested)
	}

	return &WithdrawQuote{
		Position:       position,
		Amount:         requested,
		YieldFolded:    folded,
		Index:          m.GlobalYieldIndex,
		ClosesPosition: requested.Equal(balance),
	}, nil
}

func (s *service) CommitWithdraw(quote *WithdrawQuote) (*models.SupplyPosition, error) {
	position := quote.Position
	_, err := s.markets.MutateAggregates(position.MarketID, func(m *models.Market) error {
		// Folded yield enters the principal counters so the removal below
		// nets out against what was actually paid from the vault.
		m.TotalSupplied = m.TotalSupplied.Add(quote.YieldFolded).Sub(quote.Amount)

		now := time.Now().UTC()
		position.SupplyAmount = position.SupplyAmount.Add(quote.YieldFolded).Sub(quote.Amount)
		position.YieldIndex = quote.Index
		position.LastYieldUpdate = now
		if position.SupplyAmount.Sign() == 0 || quote.ClosesPosition {
			position.Status = models.SupplyStatusClosed
			position.ClosedAt = &now
		}
		if err := s.repo.Update(position); err != nil {
			return errs.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"user":   position.UserAddress,
		"market": position.MarketID,
		"amount": quote.Amount.String(),
		"closed": position.Status == models.SupplyStatusClosed,
	}).Info("supply withdrawn")
	return position, nil
}
