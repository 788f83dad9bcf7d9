package bridge

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/driftmark/lendcore/internal/models"
)

// Repository tracks which external ledger transactions have been processed.
// The unique tx_hash index is the double-credit backstop.
type Repository interface {
	Create(record *models.EscrowRecord) error
	GetByTxHash(txHash string) (*models.EscrowRecord, error)
	ActiveEscrows(userAddress, marketID string) ([]*models.EscrowRecord, error)
	MarkConsumed(txHash string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new escrow record repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Create records a processed transaction
func (r *repository) Create(record *models.EscrowRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	return r.db.Create(record).Error
}

// GetByTxHash retrieves a record by its ledger transaction hash
func (r *repository) GetByTxHash(txHash string) (*models.EscrowRecord, error) {
	if txHash == "" {
		return nil, errors.New("txHash cannot be empty")
	}

	var record models.EscrowRecord
	err := r.db.Where("tx_hash = ?", txHash).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ActiveEscrows retrieves unconsumed escrow locks for a user and market,
// oldest first
func (r *repository) ActiveEscrows(userAddress, marketID string) ([]*models.EscrowRecord, error) {
	if userAddress == "" || marketID == "" {
		return nil, errors.New("userAddress and marketID cannot be empty")
	}

	var records []*models.EscrowRecord
	err := r.db.Where(
		"user_address = ? AND market_id = ? AND consumed = ? AND condition <> ''",
		userAddress, marketID, false,
	).Order("id ASC").Find(&records).Error
	return records, err
}

// MarkConsumed flags an escrow as finished or cancelled
func (r *repository) MarkConsumed(txHash string) error {
	if txHash == "" {
		return errors.New("txHash cannot be empty")
	}
	now := time.Now().UTC()
	return r.db.Model(&models.EscrowRecord{}).
		Where("tx_hash = ?", txHash).
		Updates(map[string]interface{}{"consumed": true, "consumed_at": now}).Error
}
