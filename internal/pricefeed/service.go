package pricefeed

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftmark/lendcore/internal/errs"
	"github.com/driftmark/lendcore/internal/models"
)

// Side selects which leg of the market pair a price update targets
type Side string

const (
	SideCollateral Side = "collateral"
	SideDebt       Side = "debt"
)

// Prices is the valuation snapshot consumed by the lending math
type Prices struct {
	CollateralPriceUSD decimal.Decimal `json:"collateral_price_usd"`
	DebtPriceUSD       decimal.Decimal `json:"debt_price_usd"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Service defines price feed operations. Reads return whatever value is
// present; there is no staleness cutoff.
type Service interface {
	// GetPrices returns the latest known prices, nil when never set
	GetPrices(ctx context.Context, marketID string) (*Prices, error)
	SetPrice(ctx context.Context, marketID string, side Side, value decimal.Decimal, source string) error
}

type service struct {
	repo Repository
}

// NewService creates a new price feed service
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) GetPrices(ctx context.Context, marketID string) (*Prices, error) {
	price, err := s.repo.Get(ctx, marketID)
	if err != nil {
		return nil, errs.Internal(err)
	}
	if price == nil {
		return nil, nil
	}
	updated := price.CollateralUpdatedAt
	if price.DebtUpdatedAt.After(updated) {
		updated = price.DebtUpdatedAt
	}
	return &Prices{
		CollateralPriceUSD: price.CollateralPriceUSD,
		DebtPriceUSD:       price.DebtPriceUSD,
		UpdatedAt:          updated,
	}, nil
}

func (s *service) SetPrice(ctx context.Context, marketID string, side Side, value decimal.Decimal, source string) error {
	if marketID == "" {
		return errs.New(errs.CodeMissingMarket, "market id required")
	}
	if side != SideCollateral && side != SideDebt {
		return errs.Newf(errs.CodeInvalidAmount, "unknown price side %q", side)
	}
	if value.IsNegative() {
		return errs.New(errs.CodeInvalidAmount, "price must be >= 0")
	}

	price, err := s.repo.Get(ctx, marketID)
	if err != nil {
		return errs.Internal(err)
	}
	if price == nil {
		price = &models.MarketPrice{MarketID: marketID}
	}

	now := time.Now().UTC()
	switch side {
	case SideCollateral:
		price.CollateralPriceUSD = value
		price.CollateralUpdatedAt = now
	case SideDebt:
		price.DebtPriceUSD = value
		price.DebtUpdatedAt = now
	}
	price.Source = source

	if err := s.repo.Save(ctx, price); err != nil {
		return errs.Internal(err)
	}
	return nil
}
