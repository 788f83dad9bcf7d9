package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/driftmark/lendcore/internal/models"
)

const (
	cacheKeyPrefix = "price:"
	cacheTTL       = 5 * time.Minute
)

// Repository defines price storage operations. The database row is the source
// of truth; redis is a write-through cache for the hot read path.
type Repository interface {
	Get(ctx context.Context, marketID string) (*models.MarketPrice, error)
	Save(ctx context.Context, price *models.MarketPrice) error
}

type repository struct {
	db  *gorm.DB
	rdb *redis.Client
	log *logrus.Entry
}

// NewRepository creates a new price repository. rdb may be nil, in which case
// all reads go straight to the database.
func NewRepository(db *gorm.DB, rdb *redis.Client) Repository {
	return &repository{
		db:  db,
		rdb: rdb,
		log: logrus.WithField("component", "pricefeed"),
	}
}

// Get retrieves the latest price pair for a market, nil when never set
func (r *repository) Get(ctx context.Context, marketID string) (*models.MarketPrice, error) {
	if marketID == "" {
		return nil, errors.New("marketID cannot be empty")
	}

	if cached := r.fromCache(ctx, marketID); cached != nil {
		return cached, nil
	}

	var price models.MarketPrice
	err := r.db.Where("market_id = ?", marketID).First(&price).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	r.toCache(ctx, &price)
	return &price, nil
}

// Save persists a price pair and refreshes the cache
func (r *repository) Save(ctx context.Context, price *models.MarketPrice) error {
	if price == nil {
		return errors.New("price cannot be nil")
	}

	var existing models.MarketPrice
	err := r.db.Where("market_id = ?", price.MarketID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		err = r.db.Create(price).Error
	case err == nil:
		price.ID = existing.ID
		price.CreatedAt = existing.CreatedAt
		err = r.db.Save(price).Error
	}
	if err != nil {
		return err
	}
	r.toCache(ctx, price)
	return nil
}

func (r *repository) fromCache(ctx context.Context, marketID string) *models.MarketPrice {
	if r.rdb == nil {
		return nil
	}
	raw, err := r.rdb.Get(ctx, cacheKeyPrefix+marketID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.WithError(err).Warn("price cache read failed")
		}
		return nil
	}
	var price models.MarketPrice
	if err := json.Unmarshal(raw, &price); err != nil {
		return nil
	}
	return &price
}

func (r *repository) toCache(ctx context.Context, price *models.MarketPrice) {
	if r.rdb == nil {
		return
	}
	raw, err := json.Marshal(price)
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, cacheKeyPrefix+price.MarketID, raw, cacheTTL).Err(); err != nil {
		r.log.WithError(err).Warn("price cache write failed")
	}
}
