package market

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"

	"github.com/driftmark/lendcore/internal/errs"
	"github.com/driftmark/lendcore/internal/models"
)

// ServiceTestSuite provides tests for the market registry
type ServiceTestSuite struct {
	suite.Suite
	db      *gorm.DB
	service Service
}

// SetupSuite initializes the test suite
func (suite *ServiceTestSuite) SetupSuite() {
	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: "file::memory:?cache=shared&_pragma=foreign_keys(1)"}, &gorm.Config{})
	suite.Require().NoError(err)

	err = db.AutoMigrate(&models.Market{})
	suite.Require().NoError(err)
	suite.db = db
}

// SetupTest runs before each test
func (suite *ServiceTestSuite) SetupTest() {
	suite.db.Exec("DELETE FROM markets")
	suite.service = NewService(NewRepository(suite.db))
}

// TearDownSuite cleans up after all tests
func (suite *ServiceTestSuite) TearDownSuite() {
	if sqlDB, err := suite.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (suite *ServiceTestSuite) seedMarket(marketID string) {
	err := suite.service.SeedMarkets([]*models.Market{{
		MarketID:            marketID,
		CollateralCurrency:  "XAU",
		DebtCurrency:        "USD",
		CustodyAddress:      "rCustodyXAUUSDkQ3hZtP6fRnWm9LgYxBc",
		PoolAddress:         "rPoolXAUUSDvT2jMw8cKdQfXn5ZbHyGeR",
		MaxLTVRatio:         decimal.NewFromFloat(0.7),
		LiquidationLTVRatio: decimal.NewFromFloat(0.8),
		BaseInterestRate:    decimal.NewFromFloat(0.08),
	}})
	suite.Require().NoError(err)
}

func (suite *ServiceTestSuite) TestSeedMarketsDefaultsIndexAndScale() {
	suite.seedMarket("XAU-USD")

	m, err := suite.service.GetMarket("XAU-USD")
	suite.NoError(err)
	suite.True(m.GlobalYieldIndex.Equal(decimal.NewFromInt(1)))
	suite.True(m.VaultScale.Equal(decimal.NewFromInt(1)))
	suite.Require().NotNil(m.IsActive)
	suite.True(*m.IsActive)
}

func (suite *ServiceTestSuite) TestSeedMarketsRejectsInvertedThresholds() {
	err := suite.service.SeedMarkets([]*models.Market{{
		MarketID:            "BAD-USD",
		CollateralCurrency:  "BAD",
		DebtCurrency:        "USD",
		CustodyAddress:      "rCustodyBadMarket123456",
		MaxLTVRatio:         decimal.NewFromFloat(0.8),
		LiquidationLTVRatio: decimal.NewFromFloat(0.7),
	}})
	suite.Error(err)
}

func (suite *ServiceTestSuite) TestSeedMarketsReseedPreservesAggregates() {
	suite.seedMarket("XAU-USD")

	_, err := suite.service.MutateAggregates("XAU-USD", func(m *models.Market) error {
		m.TotalSupplied = decimal.NewFromInt(5000)
		m.GlobalYieldIndex = decimal.NewFromFloat(1.25)
		return nil
	})
	suite.Require().NoError(err)

	// A restart reseeds configuration; running totals must survive it.
	suite.seedMarket("XAU-USD")

	m, err := suite.service.GetMarket("XAU-USD")
	suite.NoError(err)
	suite.True(m.TotalSupplied.Equal(decimal.NewFromInt(5000)))
	suite.True(m.GlobalYieldIndex.Equal(decimal.NewFromFloat(1.25)))
}

func (suite *ServiceTestSuite) TestGetMarketNotFound() {
	_, err := suite.service.GetMarket("NOPE-USD")
	suite.True(errs.Is(err, errs.CodeMarketNotFound))
}

func (suite *ServiceTestSuite) TestGetMarketMissingID() {
	_, err := suite.service.GetMarket("")
	suite.True(errs.Is(err, errs.CodeMissingMarket))
}

func (suite *ServiceTestSuite) TestMutateAggregatesRejectsNegativeTotals() {
	suite.seedMarket("XAU-USD")

	_, err := suite.service.MutateAggregates("XAU-USD", func(m *models.Market) error {
		m.TotalSupplied = decimal.NewFromInt(-1)
		return nil
	})
	suite.True(errs.Is(err, errs.CodeInsufficientPoolLiquidity))

	// Nothing was persisted.
	m, err := suite.service.GetMarket("XAU-USD")
	suite.NoError(err)
	suite.True(m.TotalSupplied.IsZero())
}

func (suite *ServiceTestSuite) TestMutateAggregatesPropagatesCallbackError() {
	suite.seedMarket("XAU-USD")

	_, err := suite.service.MutateAggregates("XAU-USD", func(m *models.Market) error {
		return errs.New(errs.CodeInsufficientPoolLiquidity, "no headroom")
	})
	suite.True(errs.Is(err, errs.CodeInsufficientPoolLiquidity))
}

func (suite *ServiceTestSuite) TestMutateAggregatesSerializesWriters() {
	suite.seedMarket("XAU-USD")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := suite.service.MutateAggregates("XAU-USD", func(m *models.Market) error {
				m.TotalSupplied = m.TotalSupplied.Add(decimal.NewFromInt(10))
				return nil
			})
			suite.NoError(err)
		}()
	}
	wg.Wait()

	m, err := suite.service.GetMarket("XAU-USD")
	suite.NoError(err)
	suite.True(m.TotalSupplied.Equal(decimal.NewFromInt(200)), "got %s", m.TotalSupplied)
}

// TestServiceTestSuite runs the test suite
func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}
