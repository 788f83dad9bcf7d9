package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PositionStatus represents the lifecycle state of a borrower position
type PositionStatus string

const (
	PositionStatusOpen       PositionStatus = "OPEN"
	PositionStatusLiquidated PositionStatus = "LIQUIDATED"
	PositionStatusClosed     PositionStatus = "CLOSED"
)

// SupplyStatus represents the lifecycle state of a supply position
type SupplyStatus string

const (
	SupplyStatusActive SupplyStatus = "ACTIVE"
	SupplyStatusClosed SupplyStatus = "CLOSED"
)

// EventType identifies the mutation recorded in the audit log
type EventType string

const (
	EventTypeDepositCollateral  EventType = "deposit_collateral"
	EventTypeBorrow             EventType = "borrow"
	EventTypeRepay              EventType = "repay"
	EventTypeWithdrawCollateral EventType = "withdraw_collateral"
	EventTypeSupply             EventType = "supply"
	EventTypeWithdrawSupply     EventType = "withdraw_supply"
	EventTypeCollectYield       EventType = "collect_yield"
	EventTypeLiquidate          EventType = "liquidate"
)

// EventStatus represents the lifecycle of an audit event
type EventStatus string

const (
	EventStatusPending   EventStatus = "PENDING"
	EventStatusCompleted EventStatus = "COMPLETED"
	EventStatusFailed    EventStatus = "FAILED"
)

// Market holds the per-market risk parameters and pool aggregates
type Market struct {
	ID                  uint            `json:"id" gorm:"primaryKey"`
	MarketID            string          `json:"market_id" gorm:"uniqueIndex;not null;size:66"`
	CollateralCurrency  string          `json:"collateral_currency" gorm:"not null;size:20"`
	CollateralIssuer    string          `json:"collateral_issuer" gorm:"size:64"`
	DebtCurrency        string          `json:"debt_currency" gorm:"not null;size:20"`
	DebtIssuer          string          `json:"debt_issuer" gorm:"size:64"`
	CustodyAddress      string          `json:"custody_address" gorm:"not null;size:64"` // escrow destination for collateral locks
	PoolAddress         string          `json:"pool_address" gorm:"size:64"`             // supply vault address, empty when no pool is configured
	MaxLTVRatio         decimal.Decimal `json:"max_ltv_ratio" gorm:"type:decimal(10,6);not null"`
	LiquidationLTVRatio decimal.Decimal `json:"liquidation_ltv_ratio" gorm:"type:decimal(10,6);not null"`
	LiquidationPenalty  decimal.Decimal `json:"liquidation_penalty" gorm:"type:decimal(10,6)"`
	BaseInterestRate    decimal.Decimal `json:"base_interest_rate" gorm:"type:decimal(10,6);not null"` // annualized
	ReserveFactor       decimal.Decimal `json:"reserve_factor" gorm:"type:decimal(10,6)"`
	VaultScale          decimal.Decimal `json:"vault_scale" gorm:"type:decimal(20,8)"`
	GlobalYieldIndex    decimal.Decimal `json:"global_yield_index" gorm:"type:decimal(36,18)"`
	TotalSupplied       decimal.Decimal `json:"total_supplied" gorm:"type:decimal(36,18)"`
	TotalBorrowed       decimal.Decimal `json:"total_borrowed" gorm:"type:decimal(36,18)"`
	MinSupplyAmount     decimal.Decimal `json:"min_supply_amount" gorm:"type:decimal(36,18)"`
	IsActive            *bool           `json:"is_active" gorm:"default:true"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	DeletedAt           gorm.DeletedAt  `json:"deleted_at" gorm:"index"`
}

// TableName returns the table name for Market model
func (Market) TableName() string {
	return "markets"
}

// BeforeCreate hook to validate market risk parameters
func (m *Market) BeforeCreate(tx *gorm.DB) error {
	if m.LiquidationLTVRatio.LessThanOrEqual(m.MaxLTVRatio) {
		return gorm.ErrInvalidData
	}
	if m.GlobalYieldIndex.IsZero() {
		m.GlobalYieldIndex = decimal.NewFromInt(1)
	}
	if m.VaultScale.IsZero() {
		m.VaultScale = decimal.NewFromInt(1)
	}
	return nil
}

// MarketPrice stores the latest known USD prices for a market's asset pair.
// Only the latest value per side is kept; no historical series.
type MarketPrice struct {
	ID                  uint            `json:"id" gorm:"primaryKey"`
	MarketID            string          `json:"market_id" gorm:"uniqueIndex;not null;size:66"`
	CollateralPriceUSD  decimal.Decimal `json:"collateral_price_usd" gorm:"type:decimal(36,18)"`
	DebtPriceUSD        decimal.Decimal `json:"debt_price_usd" gorm:"type:decimal(36,18)"`
	CollateralUpdatedAt time.Time       `json:"collateral_updated_at"`
	DebtUpdatedAt       time.Time       `json:"debt_updated_at"`
	Source              string          `json:"source" gorm:"size:64"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// TableName returns the table name for MarketPrice model
func (MarketPrice) TableName() string {
	return "market_prices"
}

// Position represents a borrower's collateralized position, one active row
// per user and market. Terminal rows are retained for audit.
type Position struct {
	ID                 uint            `json:"id" gorm:"primaryKey"`
	UserAddress        string          `json:"user_address" gorm:"not null;size:64;index:idx_position_user_market"`
	MarketID           string          `json:"market_id" gorm:"not null;size:66;index:idx_position_user_market"`
	CollateralAmount   decimal.Decimal `json:"collateral_amount" gorm:"type:decimal(36,18)"`
	LoanPrincipal      decimal.Decimal `json:"loan_principal" gorm:"type:decimal(36,18)"`
	InterestAccrued    decimal.Decimal `json:"interest_accrued" gorm:"type:decimal(36,18)"`
	InterestRateAtOpen decimal.Decimal `json:"interest_rate_at_open" gorm:"type:decimal(10,6)"` // locked at first borrow
	Status             PositionStatus  `json:"status" gorm:"not null;size:20;default:'OPEN';index"`
	OpenedAt           time.Time       `json:"opened_at"`
	LastAccrualAt      time.Time       `json:"last_accrual_at"`
	ClosedAt           *time.Time      `json:"closed_at"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// TableName returns the table name for Position model
func (Position) TableName() string {
	return "positions"
}

// OutstandingDebt returns principal plus interest accrued so far
func (p *Position) OutstandingDebt() decimal.Decimal {
	return p.LoanPrincipal.Add(p.InterestAccrued)
}

// BeforeSave hook to enforce the non-negativity invariants
func (p *Position) BeforeSave(tx *gorm.DB) error {
	if p.CollateralAmount.IsNegative() || p.LoanPrincipal.IsNegative() || p.InterestAccrued.IsNegative() {
		return gorm.ErrInvalidData
	}
	return nil
}

// SupplyPosition represents a lender's share of a market's pooled liquidity
type SupplyPosition struct {
	ID              uint            `json:"id" gorm:"primaryKey"`
	UserAddress     string          `json:"user_address" gorm:"not null;size:64;index:idx_supply_user_market"`
	MarketID        string          `json:"market_id" gorm:"not null;size:66;index:idx_supply_user_market"`
	SupplyAmount    decimal.Decimal `json:"supply_amount" gorm:"type:decimal(36,18)"`
	YieldIndex      decimal.Decimal `json:"yield_index" gorm:"type:decimal(36,18)"` // global index captured at last interaction
	SuppliedAt      time.Time       `json:"supplied_at"`
	LastYieldUpdate time.Time       `json:"last_yield_update"`
	ClosedAt        *time.Time      `json:"closed_at"`
	Status          SupplyStatus    `json:"status" gorm:"not null;size:20;default:'ACTIVE';index"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TableName returns the table name for SupplyPosition model
func (SupplyPosition) TableName() string {
	return "supply_positions"
}

// BeforeSave hook to enforce the non-negative supply invariant
func (sp *SupplyPosition) BeforeSave(tx *gorm.DB) error {
	if sp.SupplyAmount.IsNegative() {
		return gorm.ErrInvalidData
	}
	return nil
}

// Event is the append-only audit record for every attempted mutation.
// A row is inserted PENDING before any external side effect and receives
// exactly one terminal update to COMPLETED or FAILED.
type Event struct {
	ID             uint            `json:"id" gorm:"primaryKey"`
	EventID        string          `json:"event_id" gorm:"uniqueIndex;not null;size:36"`
	Type           EventType       `json:"type" gorm:"not null;size:32;index"`
	Status         EventStatus     `json:"status" gorm:"not null;size:20;default:'PENDING';index"`
	UserAddress    string          `json:"user_address" gorm:"not null;size:64;index:idx_event_user_market"`
	MarketID       string          `json:"market_id" gorm:"not null;size:66;index:idx_event_user_market"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:decimal(36,18)"`
	Currency       string          `json:"currency" gorm:"size:20"`
	IdempotencyKey string          `json:"idempotency_key" gorm:"size:128;index"`
	ParamsHash     string          `json:"params_hash" gorm:"size:64"`
	ResultJSON     string          `json:"result_json" gorm:"type:text"` // terminal success payload, replayed on idempotent retry
	ErrorCode      string          `json:"error_code" gorm:"size:64"`
	ErrorMessage   string          `json:"error_message" gorm:"size:512"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TableName returns the table name for Event model
func (Event) TableName() string {
	return "events"
}

// EscrowRecord tracks an external escrow lock credited as collateral.
// A ledger transaction hash is processed at most once.
type EscrowRecord struct {
	ID          uint            `json:"id" gorm:"primaryKey"`
	TxHash      string          `json:"tx_hash" gorm:"uniqueIndex;not null;size:66"`
	UserAddress string          `json:"user_address" gorm:"not null;size:64;index"`
	MarketID    string          `json:"market_id" gorm:"not null;size:66;index"`
	Condition   string          `json:"condition" gorm:"size:128"`   // cryptographic commitment, empty for plain vault payments
	Fulfillment string          `json:"fulfillment" gorm:"size:256"` // satisfies the commitment on release
	Preimage    string          `json:"preimage" gorm:"size:256"`
	Destination string          `json:"destination" gorm:"not null;size:64"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(36,18)"`
	Currency    string          `json:"currency" gorm:"size:20"`
	ExpiresAt   *time.Time      `json:"expires_at"`
	Consumed    bool            `json:"consumed" gorm:"default:false"`
	ConsumedAt  *time.Time      `json:"consumed_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TableName returns the table name for EscrowRecord model
func (EscrowRecord) TableName() string {
	return "escrow_records"
}
