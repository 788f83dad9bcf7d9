package ledger

import (
	"context"
	"fmt"
	"sync"
)

// FakeClient is an in-memory Client used by tests across the lending packages.
type FakeClient struct {
	mu         sync.Mutex
	txs        map[string]*Tx
	submitErr  error
	finishErr  error
	submitted  []Payment
	finished   []EscrowFinish
	nextSubmit int
}

// NewFakeClient constructs an empty fake ledger
func NewFakeClient() *FakeClient {
	return &FakeClient{txs: make(map[string]*Tx)}
}

// AddTx registers a transaction retrievable by hash
func (f *FakeClient) AddTx(tx *Tx) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[tx.Hash] = tx
}

// FailSubmits makes subsequent SubmitPayment calls return err
func (f *FakeClient) FailSubmits(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErr = err
}

// FailFinishes makes subsequent FinishEscrow calls return err
func (f *FakeClient) FailFinishes(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishErr = err
}

// Submitted returns the payments submitted so far
func (f *FakeClient) Submitted() []Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Payment, len(f.submitted))
	copy(out, f.submitted)
	return out
}

// Finished returns the escrow finishes submitted so far
func (f *FakeClient) Finished() []EscrowFinish {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]EscrowFinish, len(f.finished))
	copy(out, f.finished)
	return out
}

// Tx implements Client
func (f *FakeClient) Tx(ctx context.Context, hash string) (*Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[hash]
	if !ok {
		return nil, ErrTxNotFound
	}
	cloned := *tx
	return &cloned, nil
}

// SubmitPayment implements Client
func (f *FakeClient) SubmitPayment(ctx context.Context, p Payment) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.nextSubmit++
	f.submitted = append(f.submitted, p)
	return fmt.Sprintf("FAKE_SUBMIT_%04d", f.nextSubmit), nil
}

// FinishEscrow implements Client
func (f *FakeClient) FinishEscrow(ctx context.Context, e EscrowFinish) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finishErr != nil {
		return "", f.finishErr
	}
	f.nextSubmit++
	f.finished = append(f.finished, e)
	return fmt.Sprintf("FAKE_FINISH_%04d", f.nextSubmit), nil
}
