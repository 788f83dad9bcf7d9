package supply

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/driftmark/lendcore/internal/models"
)

// Repository defines supply position database operations
type Repository interface {
	Create(position *models.SupplyPosition) error
	// GetActive retrieves the active supply position for a user and market,
	// nil when the user has never supplied or the position is closed.
	GetActive(userAddress, marketID string) (*models.SupplyPosition, error)
	Update(position *models.SupplyPosition) error
	ListForUser(userAddress string, limit, offset int) ([]*models.SupplyPosition, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new supply position repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Create creates a new supply position
func (r *repository) Create(position *models.SupplyPosition) error {
	if position == nil {
		return errors.New("position cannot be nil")
	}
	now := time.Now().UTC()
	if position.SuppliedAt.IsZero() {
		position.SuppliedAt = now
	}
	if position.LastYieldUpdate.IsZero() {
		position.LastYieldUpdate = now
	}
	return r.db.Create(position).Error
}

// GetActive retrieves the active supply position for a user and market
func (r *repository) GetActive(userAddress, marketID string) (*models.SupplyPosition, error) {
	if userAddress == "" || marketID == "" {
		return nil, errors.New("userAddress and marketID cannot be empty")
	}

	var position models.SupplyPosition
	err := r.db.Where(
		"user_address = ? AND market_id = ? AND status = ?",
		userAddress, marketID, models.SupplyStatusActive,
	).First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &position, nil
}

// Update updates an existing supply position
func (r *repository) Update(position *models.SupplyPosition) error {
	if position == nil {
		return errors.New("position cannot be nil")
	}
	if position.ID == 0 {
		return errors.New("id cannot be zero")
	}
	return r.db.Save(position).Error
}

// ListForUser retrieves a user's supply positions across markets, newest first
func (r *repository) ListForUser(userAddress string, limit, offset int) ([]*models.SupplyPosition, error) {
	if userAddress == "" {
		return nil, errors.New("userAddress cannot be empty")
	}

	var positions []*models.SupplyPosition
	err := r.db.Where("user_address = ?", userAddress).
		Order("id DESC").Limit(limit).Offset(offset).Find(&positions).Error
	return positions, err
}
