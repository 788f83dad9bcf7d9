package position

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/driftmark/lendcore/internal/models"
)

// Repository defines borrower position database operations
type Repository interface {
	Create(position *models.Position) error
	// GetOpen retrieves the active position for a user and market, nil when
	// the user has never deposited or the position is terminal.
	GetOpen(userAddress, marketID string) (*models.Position, error)
	Update(position *models.Position) error
	// ListOpenByMarket enumerates OPEN positions in a market, optionally
	// filtered to one user, oldest first.
	ListOpenByMarket(marketID, userAddress string, limit int) ([]*models.Position, error)
	ListForUser(userAddress string, limit, offset int) ([]*models.Position, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new position repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Create creates a new position
func (r *repository) Create(position *models.Position) error {
	if position == nil {
		return errors.New("position cannot be nil")
	}
	if position.OpenedAt.IsZero() {
		position.OpenedAt = time.Now().UTC()
	}
	if position.LastAccrualAt.IsZero() {
		position.LastAccrualAt = position.OpenedAt
	}
	return r.db.Create(position).Error
}

// GetOpen retrieves the active position for a user and market
func (r *repository) GetOpen(userAddress, marketID string) (*models.Position, error) {
	if userAddress == "" || marketID == "" {
		return nil, errors.New("userAddress and marketID cannot be empty")
	}

	var position models.Position
	err := r.db.Where(
		"user_address = ? AND market_id = ? AND status = ?",
		userAddress, marketID, models.PositionStatusOpen,
	).First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &position, nil
}

// Update updates an existing position
func (r *repository) Update(position *models.Position) error {
	if position == nil {
		return errors.New("position cannot be nil")
	}
	if position.ID == 0 {
		return errors.New("id cannot be zero")
	}
	return r.db.Save(position).Error
}

// ListOpenByMarket enumerates OPEN positions in a market
func (r *repository) ListOpenByMarket(marketID, userAddress string, limit int) ([]*models.Position, error) {
	if marketID == "" {
		return nil, errors.New("marketID cannot be empty")
	}

	query := r.db.Where("market_id = ? AND status = ?", marketID, models.PositionStatusOpen)
	if userAddress != "" {
		query = query.Where("user_address = ?", userAddress)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var positions []*models.Position
	err := query.Order("id ASC").Find(&positions).Error
	return positions, err
}

// ListForUser retrieves a user's positions across markets, newest first
func (r *repository) ListForUser(userAddress string, limit, offset int) ([]*models.Position, error) {
	if userAddress == "" {
		return nil, errors.New("userAddress cannot be empty")
	}

	var positions []*models.Position
	err := r.db.Where("user_address = ?", userAddress).
		Order("id DESC").Limit(limit).Offset(offset).Find(&positions).Error
	return positions, err
}
