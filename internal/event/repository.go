package event

import (
	"errors"

	"gorm.io/gorm"

	"github.com/driftmark/lendcore/internal/models"
)

// Repository defines audit log database operations
type Repository interface {
	Create(event *models.Event) error
	GetByEventID(eventID string) (*models.Event, error)
	Update(event *models.Event) error
	// LatestByIdempotencyKey returns the most recent event recorded for the
	// (user, market, type, key) tuple, nil when none exists.
	LatestByIdempotencyKey(userAddress, marketID string, eventType models.EventType, key string) (*models.Event, error)
	// HasPending reports whether a PENDING event exists for the (user, market)
	// pair.
	HasPending(userAddress, marketID string) (bool, error)
	ListForUser(userAddress string, limit, offset int) ([]*models.Event, error)
	ListForUserMarket(userAddress, marketID string, limit, offset int) ([]*models.Event, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new event repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Create appends a new event
func (r *repository) Create(event *models.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	return r.db.Create(event).Error
}

// GetByEventID retrieves an event by its external identifier
func (r *repository) GetByEventID(eventID string) (*models.Event, error) {
	if eventID == "" {
		return nil, errors.New("eventID cannot be empty")
	}

	var event models.Event
	err := r.db.Where("event_id = ?", eventID).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// Update writes the one allowed terminal transition
func (r *repository) Update(event *models.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	if event.ID == 0 {
		return errors.New("id cannot be zero")
	}
	return r.db.Save(event).Error
}

// LatestByIdempotencyKey retrieves the newest event for an idempotency key
func (r *repository) LatestByIdempotencyKey(userAddress, marketID string, eventType models.EventType, key string) (*models.Event, error) {
	if key == "" {
		return nil, errors.New("idempotency key cannot be empty")
	}

	var event models.Event
	err := r.db.Where(
		"user_address = ? AND market_id = ? AND type = ? AND idempotency_key = ?",
		userAddress, marketID, eventType, key,
	).Order("id DESC").First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// HasPending reports whether a mutation is in flight for the pair
func (r *repository) HasPending(userAddress, marketID string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Event{}).
		Where("user_address = ? AND market_id = ? AND status = ?", userAddress, marketID, models.EventStatusPending).
		Count(&count).Error
	return count > 0, err
}

// ListForUser retrieves a user's events with pagination, newest first
func (r *repository) ListForUser(userAddress string, limit, offset int) ([]*models.Event, error) {
	if userAddress == "" {
		return nil, errors.New("userAddress cannot be empty")
	}

	var events []*models.Event
	err := r.db.Where("user_address = ?", userAddress).
		Order("id DESC").Limit(limit).Offset(offset).Find(&events).Error
	return events, err
}

// ListForUserMarket retrieves a user's events in one market, newest first
func (r *repository) ListForUserMarket(userAddress, marketID string, limit, offset int) ([]*models.Event, error) {
	if userAddress == "" || marketID == "" {
		return nil, errors.New("userAddress and marketID cannot be empty")
	}

	var events []*models.Event
	err := r.db.Where("user_address = ? AND market_id = ?", userAddress, marketID).
		Order("id DESC").Limit(limit).Offset(offset).Find(&events).Error
	return events, err
}
