package supply

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"

	"github.com/driftmark/lendcore/internal/errs"
	"github.com/driftmark/lendcore/internal/market"
	"github.com/driftmark/lendcore/internal/models"
)

const (
	lenderOne = "rLenderOne1234567890"
	lenderTwo = "rLenderTwo1234567890"
)

// ServiceTestSuite exercises supply position lifecycle and yield accounting
type ServiceTestSuite struct {
	suite.Suite
	db      *gorm.DB
	markets market.Service
	service Service
}

// SetupSuite initializes the test suite
func (suite *ServiceTestSuite) SetupSuite() {
	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: "file::memory:?cache=shared&_pragma=foreign_keys(1)"}, &gorm.Config{})
	suite.Require().NoError(err)

	err = db.AutoMigrate(&models.Market{}, &models.SupplyPosition{})
	suite.Require().NoError(err)
	suite.db = db
}

// SetupTest runs before each test
func (suite *ServiceTestSuite) SetupTest() {
	suite.db.Exec("DELETE FROM supply_positions")
	suite.db.Exec("DELETE FROM markets")

	suite.markets = market.NewService(market.NewRepository(suite.db))
	suite.service = NewService(NewRepository(suite.db), suite.markets)

	err := suite.markets.SeedMarkets([]*models.Market{{
		MarketID:            "XAU-USD",
		CollateralCurrency:  "XAU",
		DebtCurrency:        "USD",
		CustodyAddress:      "rCustodyXAUUSDkQ3hZtP6fRnWm9LgYxBc",
		PoolAddress:         "rPoolXAUUSDvT2jMw8cKdQfXn5ZbHyGeR",
		MaxLTVRatio:         decimal.NewFromFloat(0.7),
		LiquidationLTVRatio: decimal.NewFromFloat(0.8),
		BaseInterestRate:    decimal.NewFromFloat(0.08),
		ReserveFactor:       decimal.NewFromFloat(0.1),
		MinSupplyAmount:     decimal.NewFromInt(10),
	}})
	suite.Require().NoError(err)
}

// TearDownSuite cleans up after all tests
func (suite *ServiceTestSuite) TearDownSuite() {
	if sqlDB, err := suite.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (suite *ServiceTestSuite) TestDepositCreatesPosition() {
	sp, err := suite.service.Deposit(lenderOne, "XAU-USD", decimal.NewFromInt(1000))
	suite.NoError(err)
	suite.Require().NotNil(sp)
	suite.True(sp.SupplyAmount.Equal(decimal.NewFromInt(1000)))
	suite.True(sp.YieldIndex.Equal(decimal.NewFromInt(1)))
	suite.Equal(models.SupplyStatusActive, sp.Status)

	m, err := suite.markets.GetMarket("XAU-USD")
	suite.NoError(err)
	suite.True(m.TotalSupplied.Equal(decimal.NewFromInt(1000)))
}

func (suite *ServiceTestSuite) TestDepositBelowMinimum() {
	_, err := suite.service.Deposit(lenderOne, "XAU-USD", decimal.NewFromInt(5))
	suite.True(errs.Is(err, errs.CodeMinSupplyNotMet))
}

func (suite *ServiceTestSuite) TestDepositTopUpFoldsYield() {
	_, err := suite.service.Deposit(lenderOne, "XAU-USD", decimal.NewFromInt(1000))
	suite.NoError(err)

	// Borrower interest pushed the index from 1 to 1.01.
	suite.bumpIndex(decimal.NewFromFloat(0.01))

	sp, err := suite.service.Deposit(lenderOne, "XAU-USD", decimal.NewFromInt(500))
	suite.NoError(err)
	// 1000 principal + 10 folded yield + 500 new.
	suite.True(sp.SupplyAmount.Equal(decimal.NewFromInt(1510)), "got %s", sp.SupplyAmount)
	suite.True(sp.YieldIndex.Equal(decimal.NewFromFloat(1.01)))

	m, err := suite.markets.GetMarket("XAU-USD")
	suite.NoError(err)
	suite.True(m.TotalSupplied.Equal(decimal.NewFromInt(1510)))
}

func (suite *ServiceTestSuite) TestQuoteYield() {
	_, err := suite.service.Deposit(lenderOne, "XAU-USD", decimal.NewFromInt(1000))
	suite.NoError(err)
	suite.bumpIndex(decimal.NewFromFloat(0.02))

	quote, err := suite.service.QuoteYield(lenderOne, "XAU-USD")
	suite.NoError(err)
	suite.True(quote.Amount.Equal(decimal.NewFromInt(20)), "got %s", quote.Amount)
	suite.True(quote.Index.Equal(decimal.NewFromFloat(1.02)))
}

func (suite *ServiceTestSuite) TestQuoteYieldNoPosition() {
	_, err := suite.service.QuoteYield(lenderOne, "XAU-USD")
	suite.True(errs.Is(err, errs.CodeNoSupplyPosition))
}

func (suite *ServiceTestSuite) TestSettleYieldAdvancesSnapshot() {
	_, err := suite.service.Deposit(lenderOne, "XAU-USD", decimal.NewFromInt(1000))
	suite.NoError(err)
	suite.bumpIndex(decimal.NewFromFloat(0.02))

	quote, err := suite.service.QuoteYield(lenderOne, "XAU-USD")
	suite.NoError(err)
	suite.NoError(suite.service.SettleYield(quote))

	// Settled yield is no longer claimable.
	again, err := suite.service.QuoteYield(lenderOne, "XAU-USD")
	suite.NoError(err)
	suite.True(again.Amount.IsZero(), "got %s", again.Amount)
}

func (suite *ServiceTestSuite) TestWithdrawPartial() {
	_, err := suite.service.Deposit(lenderOne, "XAU-USD", decimal.NewFromInt(1000))
	suite.NoError(err)

	quote, err := suite.service.QuoteWithdraw(lenderOne, "XAU-USD", decimal.NewFromInt(400))
	suite.NoError(err)
	suite.False(quote.ClosesPosition)

	sp, err := suite.service.CommitWithdraw(quote)
	suite.NoError(err)
	suite.True(sp.SupplyAmount.Equal(decimal.NewFromInt(600)))
	suite.Equal(models.SupplyStatusActive, sp.Status)

	m, err := suite.markets.GetMarket("XAU-USD")
	suite.NoError(err)
	suite.True(m.TotalSupplied.Equal(decimal.NewFromInt(600)))
}

func (suite *ServiceTestSuite) TestWithdrawEverythingClosesPosition() {
	_, err := suite.service.Deposit(lenderOne, "XAU-USD", decimal.NewFromInt(1000))
	suite.NoError(err)

	quote, err := suite.service.QuoteWithdraw(lenderOne, "XAU-USD", decimal.NewFromInt(1000))
	suite.NoError(err)
	suite.True(quote.ClosesPosition)

	sp, err := suite.service.CommitWithdraw(quote)
	suite.NoError(err)
	suite.Equal(models.SupplyStatusClosed, sp.Status)
	suite.NotNil(sp.ClosedAt)

	active, err := suite.service.GetActive(lenderOne, "XAU-USD")
	suite.NoError(err)
	suite.Nil(active)
}

func (suite *ServiceTestSuite) TestWithdrawMoreThanBalance() {
	_, err := suite.service.Deposit(lenderOne, "XAU-USD", decimal.NewFromInt(1000))
	suite.NoError(err)

	_, err = suite.service.QuoteWithdraw(lenderOne, "XAU-USD", decimal.NewFromInt(2000))
	suite.True(errs.Is(err, errs.CodeInvalidAmount))
}

func (suite *ServiceTestSuite) TestWithdrawBlockedByBorrowedLiquidity() {
	_, err := suite.service.Deposit(lenderOne, "XAU-USD", decimal.NewFromInt(1000))
	suite.NoError(err)

	// 700 of the pool is lent out; only 300 can leave.
	_, err = suite.markets.MutateAggregates("XAU-USD", func(m *models.Market) error {
		m.TotalBorrowed = decimal.NewFromInt(700)
		return nil
	})
	suite.Require().NoError(err)

	_, err = suite.service.QuoteWithdraw(lenderOne, "XAU-USD", decimal.NewFromInt(500))
	suite.True(errs.Is(err, errs.CodeInsufficientPoolLiquidity))

	quote, err := suite.service.QuoteWithdraw(lenderOne, "XAU-USD", decimal.NewFromInt(300))
	suite.NoError(err)
	suite.True(quote.Amount.Equal(decimal.NewFromInt(300)))
}

func (suite *ServiceTestSuite) TestYieldSplitsProRata() {
	_, err := suite.service.Deposit(lenderOne, "XAU-USD", decimal.NewFromInt(750))
	suite.NoError(err)
	_, err = suite.service.Deposit(lenderTwo, "XAU-USD", decimal.NewFromInt(250))
	suite.NoError(err)

	// Realize 100 of borrower interest: 90 to lenders after the 10% reserve.
	_, err = suite.markets.MutateAggregates("XAU-USD", func(m *models.Market) error {
		m.GlobalYieldIndex = m.GlobalYieldIndex.Add(YieldIndexDelta(m, decimal.NewFromInt(100)))
		return nil
	})
	suite.Require().NoError(err)

	one, err := suite.service.QuoteYield(lenderOne, "XAU-USD")
	suite.NoError(err)
	two, err := suite.service.QuoteYield(lenderTwo, "XAU-USD")
	suite.NoError(err)

	// Pro-rata split of the lender share, conserved across positions.
	suite.True(one.Amount.Equal(decimal.NewFromFloat(67.5)), "got %s", one.Amount)
	suite.True(two.Amount.Equal(decimal.NewFromFloat(22.5)), "got %s", two.Amount)
	suite.True(one.Amount.Add(two.Amount).Equal(decimal.NewFromInt(90)))
}

func (suite *ServiceTestSuite) bumpIndex(delta decimal.Decimal) {
	_, err := suite.markets.MutateAggregates("XAU-USD", func(m *models.Market) error {
		m.GlobalYieldIndex = m.GlobalYieldIndex.Add(delta)
		return nil
	})
	suite.Require().NoError(err)
}

func TestYieldIndexDelta(t *testing.T) {
	m := &models.Market{
		ReserveFactor: decimal.NewFromFloat(0.1),
		VaultScale:    decimal.NewFromInt(1),
		TotalSupplied: decimal.NewFromInt(1000),
	}

	delta := YieldIndexDelta(m, decimal.NewFromInt(100))
	// 100 * 0.9 / 1000
	assert.True(t, delta.Equal(decimal.NewFromFloat(0.09)), "got %s", delta)

	assert.True(t, YieldIndexDelta(m, decimal.Zero).IsZero())
	assert.True(t, YieldIndexDelta(m, decimal.NewFromInt(-5)).IsZero())

	empty := &models.Market{ReserveFactor: decimal.NewFromFloat(0.1), VaultScale: decimal.NewFromInt(1)}
	assert.True(t, YieldIndexDelta(empty, decimal.NewFromInt(100)).IsZero())
}

func TestUnclaimedYield(t *testing.T) {
	sp := &models.SupplyPosition{
		SupplyAmount: decimal.NewFromInt(1000),
		YieldIndex:   decimal.NewFromInt(1),
	}
	assert.True(t, UnclaimedYield(sp, decimal.NewFromFloat(1.05)).Equal(decimal.NewFromInt(50)))
	assert.True(t, UnclaimedYield(sp, decimal.NewFromInt(1)).IsZero())
	// An index behind the snapshot never produces negative yield.
	assert.True(t, UnclaimedYield(sp, decimal.NewFromFloat(0.9)).IsZero())
}

// TestServiceTestSuite runs the test suite
func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}
