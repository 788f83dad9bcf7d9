package market

import (
	"sync"

	"github.com/driftmark/lendcore/internal/errs"
	"github.com/driftmark/lendcore/internal/models"
)

// Service defines market registry operations
type Service interface {
	GetActiveMarkets() ([]*models.Market, error)
	GetMarket(marketID string) (*models.Market, error)
	SeedMarkets(markets []*models.Market) error
	// MutateAggregates applies fn to the market's shared pool counters
	// (totalSupplied, totalBorrowed, globalYieldIndex) under a per-market
	// lock. Distinct users mutate the same market concurrently, so the
	// per-(user,market) single-flight lock is not enough here.
	MutateAggregates(marketID string, fn func(m *models.Market) error) (*models.Market, error)
}

type service struct {
	repo Repository

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a new market service
func NewService(repo Repository) Service {
	return &service{
		repo:  repo,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *service) GetActiveMarkets() ([]*models.Market, error) {
	return s.repo.GetActiveMarkets()
}

func (s *service) GetMarket(marketID string) (*models.Market, error) {
	if marketID == "" {
		return nil, errs.New(errs.CodeMissingMarket, "market id required")
	}
	market, err := s.repo.GetByMarketID(marketID)
	if err != nil {
		return nil, errs.Internal(err)
	}
	if market == nil {
		return nil, errs.Newf(errs.CodeMarketNotFound, "market %s not found", marketID)
	}
	return market, nil
}

func (s *service) SeedMarkets(markets []*models.Market) error {
	for _, m := range markets {
		if err := s.repo.Upsert(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) marketLock(marketID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[marketID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[marketID] = lock
	}
	return lock
}

func (s *service) MutateAggregates(marketID string, fn func(m *models.Market) error) (*models.Market, error) {
	lock := s.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	market, err := s.GetMarket(marketID)
	if err != nil {
		return nil, err
	}
	if err := fn(market); err != nil {
		return nil, err
	}
	if market.TotalSupplied.IsNegative() || market.TotalBorrowed.IsNegative() {
		return nil, errs.New(errs.CodeInsufficientPoolLiquidity, "pool aggregates cannot go negative")
	}
	if err := s.repo.Update(market); err != nil {
		return nil, errs.Internal(err)
	}
	return market, nil
}
