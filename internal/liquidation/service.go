// Package liquidation closes undercollateralized positions. Runs are batched
// and operator-driven; one bad position never aborts the rest of the batch.
package liquidation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/driftmark/lendcore/internal/errs"
	"github.com/driftmark/lendcore/internal/event"
	"github.com/driftmark/lendcore/internal/guard"
	"github.com/driftmark/lendcore/internal/market"
	"github.com/driftmark/lendcore/internal/models"
	"github.com/driftmark/lendcore/internal/position"
	"github.com/driftmark/lendcore/internal/pricefeed"
	"github.com/driftmark/lendcore/internal/supply"
)

// DefaultBatchLimit bounds a run when the caller does not set one
const DefaultBatchLimit = 10

// ItemResult describes one liquidated position
type ItemResult struct {
	PositionID       uint            `json:"position_id"`
	UserAddress      string          `json:"user_address"`
	DebtCovered      decimal.Decimal `json:"debt_covered"`
	SeizedCollateral decimal.Decimal `json:"seized_collateral"`
	CurrentLTV       decimal.Decimal `json:"current_ltv"`
}

// ItemError describes one position that was eligible but could not be closed
type ItemError struct {
	PositionID  uint   `json:"position_id"`
	UserAddress string `json:"user_address"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

// BatchResult is the outcome of one liquidation run. The run itself succeeds
// even when individual positions fail.
type BatchResult struct {
	MarketID string       `json:"market_id"`
	Scanned  int          `json:"scanned"`
	Results  []ItemResult `json:"results"`
	Errors   []ItemError  `json:"errors"`
}

// Service drives liquidation runs over a market
type Service interface {
	// Run scans OPEN positions in the market, optionally restricted to one
	// user, and liquidates those at or past the liquidation threshold.
	Run(ctx context.Context, marketID, userAddress string, limit int) (*BatchResult, error)
}

type service struct {
	positions position.Repository
	markets   market.Service
	prices    pricefeed.Service
	events    event.Service
	locks     *guard.Guard
	log       *logrus.Entry
}

// NewService creates a new liquidation service. Liquidations share the
// guard's single-flight lock with the borrower operations: a position cannot
// be force-closed while a mutation on the same (user, market) is in flight.
func NewService(positions position.Repository, markets market.Service, prices pricefeed.Service, events event.Service, locks *guard.Guard) Service {
	return &service{
		positions: positions,
		markets:   markets,
		prices:    prices,
		events:    events,
		locks:     locks,
		log:       logrus.WithField("component", "liquidation"),
	}
}

func (s *service) Run(ctx context.Context, marketID, userAddress string, limit int) (*BatchResult, error) {
	m, err := s.markets.GetMarket(marketID)
	if err != nil {
		return nil, err
	}

	p, err := s.prices.GetPrices(ctx, marketID)
	if err != nil {
		return nil, errs.Internal(err)
	}
	if p == nil {
		return nil, errs.Newf(errs.CodePriceUnavailable, "no prices recorded for market %s", marketID)
	}

	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	// Every OPEN position is examined; the limit caps how many liquidatable
	// ones get processed, not how many get scanned. A capped scan would let
	// an eligible position hide behind older healthy rows.
	candidates, err := s.positions.ListOpenByMarket(marketID, userAddress, 0)
	if err != nil {
		return nil, errs.Internal(err)
	}

	batch := &BatchResult{
		MarketID: marketID,
		Scanned:  len(candidates),
		Results:  []ItemResult{},
		Errors:   []ItemError{},
	}

	now := time.Now().UTC()
	processed := 0
	for _, pos := range candidates {
		if processed >= limit {
			break
		}
		position.Accrue(pos, now)
		metrics := position.ComputeMetrics(pos, m, p)
		if !metrics.Liquidatable {
			continue
		}
		processed++

		if !s.locks.TryLock(pos.UserAddress, marketID) {
			// A borrower mutation holds the pair; this position is picked up
			// again on the next run.
			batch.Errors = append(batch.Errors, ItemError{
				PositionID:  pos.ID,
				UserAddress: pos.UserAddress,
				Code:        string(errs.CodeOperationInProgress),
				Message:     "another operation is in progress for this user and market",
			})
			continue
		}
		result, err := s.liquidate(pos.UserAddress, m, p)
		s.locks.Unlock(pos.UserAddress, marketID)
		if err != nil {
			batch.Errors = append(batch.Errors, ItemError{
				PositionID:  pos.ID,
				UserAddress: pos.UserAddress,
				Code:        string(errs.CodeOf(err)),
				Message:     errs.MessageOf(err),
			})
			continue
		}
		if result == nil {
			// The position changed hands between the scan and the lock and is
			// no longer eligible.
			continue
		}
		batch.Results = append(batch.Results, *result)
	}

	s.log.WithFields(logrus.Fields{
		"market":     marketID,
		"scanned":    batch.Scanned,
		"liquidated": len(batch.Results),
		"errors":     len(batch.Errors),
	}).Info("liquidation run finished")
	return batch, nil
}

// liquidate closes one position, seizing collateral worth the outstanding
// debt plus the liquidation penalty, capped at what the position holds.
// Runs with the (user, market) lock held; the position is re-read and
// re-checked under it, returning (nil, nil) when no longer eligible.
func (s *service) liquidate(userAddress string, m *models.Market, p *pricefeed.Prices) (*ItemResult, error) {
	pos, err := s.positions.GetOpen(userAddress, m.MarketID)
	if err != nil {
		return nil, errs.Internal(err)
	}
	if pos == nil {
		return nil, nil
	}
	position.Accrue(pos, time.Now().UTC())
	metrics := position.ComputeMetrics(pos, m, p)
	if !metrics.Liquidatable {
		return nil, nil
	}

	debt := pos.OutstandingDebt()
	principal := pos.LoanPrincipal
	interest := pos.InterestAccrued

	ev, err := s.events.RecordPending(event.PendingParams{
		Type:        models.EventTypeLiquidate,
		UserAddress: pos.UserAddress,
		MarketID:    m.MarketID,
		Amount:      debt,
		Currency:    m.DebtCurrency,
	})
	if err != nil {
		return nil, errs.Internal(err)
	}

	seized, err := s.close(pos, m, principal, interest, metrics, p)
	if err != nil {
		_ = s.events.Fail(ev, errs.CodeOf(err), errs.MessageOf(err))
		return nil, err
	}

	result := &ItemResult{
		PositionID:       pos.ID,
		UserAddress:      pos.UserAddress,
		DebtCovered:      debt,
		SeizedCollateral: seized,
		CurrentLTV:       metrics.CurrentLTV,
	}
	if err := s.events.Complete(ev, result); err != nil {
		return nil, errs.Internal(err)
	}
	return result, nil
}

func (s *service) close(pos *models.Position, m *models.Market, principal, interest decimal.Decimal, metrics position.Metrics, p *pricefeed.Prices) (decimal.Decimal, error) {
	seized := pos.CollateralAmount
	if p.CollateralPriceUSD.Sign() > 0 {
		target := metrics.DebtValueUSD.
			Mul(decimal.NewFromInt(1).Add(m.LiquidationPenalty)).
			Div(p.CollateralPriceUSD)
		if target.LessThan(seized) {
			seized = target
		}
	}

	_, err := s.markets.MutateAggregates(m.MarketID, func(agg *models.Market) error {
		agg.TotalBorrowed = agg.TotalBorrowed.Sub(principal)
		// Seized collateral covers the accrued interest, so lenders still
		// earn their share of it.
		agg.GlobalYieldIndex = agg.GlobalYieldIndex.Add(supply.YieldIndexDelta(agg, interest))
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	now := time.Now().UTC()
	pos.CollateralAmount = pos.CollateralAmount.Sub(seized)
	pos.LoanPrincipal = decimal.Zero
	pos.InterestAccrued = decimal.Zero
	pos.Status = models.PositionStatusLiquidated
	pos.ClosedAt = &now
	if err := s.positions.Update(pos); err != nil {
		return decimal.Zero, errs.Internal(err)
	}

	s.log.WithFields(logrus.Fields{
		"position": pos.ID,
		"user":     pos.UserAddress,
		"market":   m.MarketID,
		"seized":   seized.String(),
	}).Info("position liquidated")
	return seized, nil
}
