package event

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/driftmark/lendcore/internal/errs"
	"github.com/driftmark/lendcore/internal/models"
)

// ErrTerminalEvent is returned when a second terminal write is attempted.
// Corrections require a new compensating event, never a rewrite.
var ErrTerminalEvent = errors.New("event already terminal")

// PendingParams captures what gets recorded before any side effect runs
type PendingParams struct {
	Type           models.EventType
	UserAddress    string
	MarketID       string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	ParamsHash     string
}

// Service defines the append-only audit log contract
type Service interface {
	RecordPending(params PendingParams) (*models.Event, error)
	Complete(event *models.Event, result interface{}) error
	Fail(event *models.Event, code errs.Code, message string) error
	ListForUser(userAddress, marketID string, limit, offset int) ([]*models.Event, error)
}

// Sink receives completed events for read-side fanout (websocket stream).
// Delivery is best effort and must not block the mutation path.
type Sink interface {
	Publish(event *models.Event)
}

type service struct {
	repo Repository
	sink Sink
	log  *logrus.Entry
}

// NewService creates a new event service. sink may be nil.
func NewService(repo Repository, sink Sink) Service {
	return &service{
		repo: repo,
		sink: sink,
		log:  logrus.WithField("component", "event"),
	}
}

func (s *service) RecordPending(params PendingParams) (*models.Event, error) {
	event := &models.Event{
		EventID:        uuid.NewString(),
		Type:           params.Type,
		Status:         models.EventStatusPending,
		UserAddress:    params.UserAddress,
		MarketID:       params.MarketID,
		Amount:         params.Amount,
		Currency:       params.Currency,
		IdempotencyKey: params.IdempotencyKey,
		ParamsHash:     params.ParamsHash,
	}
	if err := s.repo.Create(event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) Complete(event *models.Event, result interface{}) error {
	if event.Status != models.EventStatusPending {
		return ErrTerminalEvent
	}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return err
		}
		event.ResultJSON = string(raw)
	}
	event.Status = models.EventStatusCompleted
	if err := s.repo.Update(event); err != nil {
		return err
	}
	if s.sink != nil {
		s.sink.Publish(event)
	}
	s.log.WithFields(logrus.Fields{
		"event_id": event.EventID,
		"type":     event.Type,
		"market":   event.MarketID,
	}).Info("event completed")
	return nil
}

func (s *service) Fail(event *models.Event, code errs.Code, message string) error {
	if event.Status != models.EventStatusPending {
		return ErrTerminalEvent
	}
	event.Status = models.EventStatusFailed
	event.ErrorCode = string(code)
	event.ErrorMessage = message
	if err := s.repo.Update(event); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"event_id": event.EventID,
		"type":     event.Type,
		"market":   event.MarketID,
		"code":     code,
	}).Warn("event failed")
	return nil
}

func (s *service) ListForUser(userAddress, marketID string, limit, offset int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if marketID != "" {
		return s.repo.ListForUserMarket(userAddress, marketID, limit, offset)
	}
	return s.repo.ListForUser(userAddress, limit, offset)
}
