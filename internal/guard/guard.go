// Package guard makes every mutating operation safe to retry. It enforces
// single-flight per (user, market) and deduplicates retried requests by
// client-supplied idempotency key, backed by the append-only event log.
package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/driftmark/lendcore/internal/errs"
	"github.com/driftmark/lendcore/internal/event"
	"github.com/driftmark/lendcore/internal/models"
)

// Request describes a mutation entering the guard
type Request struct {
	Type           models.EventType
	UserAddress    string
	MarketID       string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	// Params are the logical parameters of the call. A retry with the same
	// idempotency key must carry identical params or be rejected.
	Params interface{}
}

// Guard serializes mutations per (user, market) pair
type Guard struct {
	events    event.Service
	eventRepo event.Repository
	log       *logrus.Entry

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a guard backed by the event log
func New(events event.Service, eventRepo event.Repository) *Guard {
	return &Guard{
		events:    events,
		eventRepo: eventRepo,
		log:       logrus.WithField("component", "guard"),
		inflight:  make(map[string]struct{}),
	}
}

// Unresolved marks an error that occurred after an external side effect had
// already happened. The guard leaves the audit event PENDING instead of FAILED
// so a retried request cannot re-run the side effect; resolution is an
// operator action against the event log.
func Unresolved(err error) error {
	return &unresolvedError{err: err}
}

type unresolvedError struct {
	err error
}

func (e *unresolvedError) Error() string { return e.err.Error() }
func (e *unresolvedError) Unwrap() error { return e.err }

// Run executes fn under the single-flight lock for (user, market), recording
// a PENDING event before fn runs and the terminal outcome after. The lock is
// held across the whole of fn, including any external ledger I/O: releasing
// early would let a retried request interleave with the original and
// double-apply a credit.
//
// When the idempotency key matches a COMPLETED event with identical
// parameters, the recorded result is replayed without re-executing fn.
func (g *Guard) Run(ctx context.Context, req Request, fn func(ctx context.Context, ev *models.Event) (interface{}, error)) (interface{}, error) {
	if !g.TryLock(req.UserAddress, req.MarketID) {
		return nil, errs.New(errs.CodeOperationInProgress, "another operation is in progress for this user and market")
	}
	defer g.Unlock(req.UserAddress, req.MarketID)

	paramsHash, err := hashParams(req.Params)
	if err != nil {
		return nil, errs.Internal(err)
	}

	if req.IdempotencyKey != "" {
		prior, err := g.eventRepo.LatestByIdempotencyKey(req.UserAddress, req.MarketID, req.Type, req.IdempotencyKey)
		if err != nil {
			return nil, errs.Internal(err)
		}
		if prior != nil {
			if prior.ParamsHash != paramsHash {
				return nil, errs.New(errs.CodeIdempotencyMismatch, "idempotency key reused with different parameters")
			}
			switch prior.Status {
			case models.EventStatusCompleted:
				return json.RawMessage(prior.ResultJSON), nil
			case models.EventStatusPending:
				// A terminal write never landed; the safe answer is the same
				// one a concurrent caller gets.
				return nil, errs.New(errs.CodeOperationInProgress, "previous attempt has not resolved")
			}
			// FAILED attempts may be retried with the same key; fall through
			// and record a fresh event.
		}
	}

	ev, err := g.events.RecordPending(event.PendingParams{
		Type:           req.Type,
		UserAddress:    req.UserAddress,
		MarketID:       req.MarketID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
		ParamsHash:     paramsHash,
	})
	if err != nil {
		return nil, errs.Internal(err)
	}

	result, err := fn(ctx, ev)
	if err != nil {
		var unresolved *unresolvedError
		if errors.As(err, &unresolved) {
			// A side effect has already landed but settlement did not. The
			// event stays PENDING so retries with the same key are held off
			// instead of re-running the side effect.
			g.log.WithError(unresolved.err).WithFields(logrus.Fields{
				"event_id": ev.EventID,
				"type":     ev.Type,
				"user":     ev.UserAddress,
				"market":   ev.MarketID,
			}).Error("settlement failed after external side effect, event left pending")
			return nil, unresolved.err
		}
		_ = g.events.Fail(ev, errs.CodeOf(err), errs.MessageOf(err))
		return nil, err
	}
	if err := g.events.Complete(ev, result); err != nil {
		return nil, errs.Internal(err)
	}
	return result, nil
}

// TryLock attempts to take the single-flight lock for (user, market).
// Liquidation takes the same lock per position so a forced close cannot
// interleave with a borrower mutation in flight on that pair.
func (g *Guard) TryLock(userAddress, marketID string) bool {
	key := userAddress + "|" + marketID
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inflight[key]; busy {
		return false
	}
	g.inflight[key] = struct{}{}
	return true
}

// Unlock releases the single-flight lock for (user, market)
func (g *Guard) Unlock(userAddress, marketID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, userAddress+"|"+marketID)
}

func hashParams(params interface{}) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
