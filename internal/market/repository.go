package market

import (
	"errors"

	"gorm.io/gorm"

	"github.com/driftmark/lendcore/internal/models"
)

// Repository defines market registry database operations
type Repository interface {
	Create(market *models.Market) error
	GetByMarketID(marketID string) (*models.Market, error)
	Update(market *models.Market) error
	List(limit, offset int) ([]*models.Market, error)
	GetActiveMarkets() ([]*models.Market, error)
	Upsert(market *models.Market) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new market repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Create creates a new market
func (r *repository) Create(market *models.Market) error {
	if market == nil {
		return errors.New("market cannot be nil")
	}
	return r.db.Create(market).Error
}

// GetByMarketID retrieves a market by its market ID
func (r *repository) GetByMarketID(marketID string) (*models.Market, error) {
	if marketID == "" {
		return nil, errors.New("marketID cannot be empty")
	}

	var market models.Market
	err := r.db.Where("market_id = ?", marketID).First(&market).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &market, nil
}

// Update updates an existing market
func (r *repository) Update(market *models.Market) error {
	if market == nil {
		return errors.New("market cannot be nil")
	}
	if market.ID == 0 {
		return errors.New("id cannot be zero")
	}
	return r.db.Save(market).Error
}

// List retrieves markets with pagination
func (r *repository) List(limit, offset int) ([]*models.Market, error) {
	var markets []*models.Market
	err := r.db.Limit(limit).Offset(offset).Find(&markets).Error
	return markets, err
}

// GetActiveMarkets retrieves all active markets
func (r *repository) GetActiveMarkets() ([]*models.Market, error) {
	var markets []*models.Market
	err := r.db.Where("is_active = ?", true).Find(&markets).Error
	return markets, err
}

// Upsert inserts a market or refreshes its configuration fields, leaving the
// pool aggregates untouched for existing rows.
func (r *repository) Upsert(market *models.Market) error {
	if market == nil {
		return errors.New("market cannot be nil")
	}
	existing, err := r.GetByMarketID(market.MarketID)
	if err != nil {
		return err
	}
	if existing == nil {
		return r.db.Create(market).Error
	}
	return r.db.Model(existing).Updates(map[string]interface{}{
		"collateral_currency":   market.CollateralCurrency,
		"collateral_issuer":     market.CollateralIssuer,
		"debt_currency":         market.DebtCurrency,
		"debt_issuer":           market.DebtIssuer,
		"custody_address":       market.CustodyAddress,
		"pool_address":          market.PoolAddress,
		"max_ltv_ratio":         market.MaxLTVRatio,
		"liquidation_ltv_ratio": market.LiquidationLTVRatio,
		"liquidation_penalty":   market.LiquidationPenalty,
		"base_interest_rate":    market.BaseInterestRate,
		"reserve_factor":        market.ReserveFactor,
		"vault_scale":           market.VaultScale,
		"min_supply_amount":     market.MinSupplyAmount,
	}).Error
}
