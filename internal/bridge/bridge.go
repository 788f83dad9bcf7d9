// Package bridge translates externally observable ledger events into locally
// verified facts. Every ledger-side failure is mapped onto the error taxonomy
// before it reaches the position or supply accounting; raw transport errors
// never cross this boundary.
package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/driftmark/lendcore/internal/errs"
	"github.com/driftmark/lendcore/internal/ledger"
	"github.com/driftmark/lendcore/internal/models"
)

// DepositIntent carries the caller-supplied facts for a collateral lock
type DepositIntent struct {
	TxHash        string
	SenderAddress string
	Condition     string
	Fulfillment   string
	Preimage      string
}

// VerifiedDeposit is the locally verified outcome of a collateral lock
type VerifiedDeposit struct {
	Amount   decimal.Decimal
	Currency string
	Record   *models.EscrowRecord
}

// Bridge verifies external transactions against expected parameters
type Bridge struct {
	client ledger.Client
	repo   Repository
	log    *logrus.Entry
}

// New creates an escrow-collateral bridge
func New(client ledger.Client, repo Repository) *Bridge {
	return &Bridge{
		client: client,
		repo:   repo,
		log:    logrus.WithField("component", "bridge"),
	}
}

// VerifyCollateralDeposit validates an escrow-creation transaction that locks
// collateral for the given market and records it. A tx hash is credited at
// most once.
func (b *Bridge) VerifyCollateralDeposit(ctx context.Context, market *models.Market, in DepositIntent) (*VerifiedDeposit, error) {
	existing, err := b.repo.GetByTxHash(in.TxHash)
	if err != nil {
		return nil, errs.Internal(err)
	}
	if existing != nil {
		return nil, errs.Newf(errs.CodeTxAlreadyProcessed, "transaction %s already processed", in.TxHash)
	}

	tx, err := b.fetchValidated(ctx, in.TxHash)
	if err != nil {
		return nil, err
	}

	if tx.Type != ledger.TxTypeEscrowCreate {
		return nil, errs.Newf(errs.CodeNotVaultDeposit, "transaction %s is not an escrow lock", in.TxHash)
	}
	if !strings.EqualFold(tx.Destination, market.CustodyAddress) {
		return nil, errs.New(errs.CodeNotVaultDeposit, "escrow does not target the market custody account")
	}
	if !assetMatches(tx, market.CollateralCurrency, market.CollateralIssuer) {
		return nil, errs.Newf(errs.CodeNotVaultDeposit, "escrow locks %s, expected %s", tx.Currency, market.CollateralCurrency)
	}
	if !strings.EqualFold(tx.Account, in.SenderAddress) {
		return nil, errs.New(errs.CodeInvalidAddress, "escrow sender does not match the caller")
	}
	if tx.Amount.Sign() <= 0 {
		return nil, errs.New(errs.CodeInvalidAmount, "escrow amount must be positive")
	}
	if !strings.EqualFold(tx.Condition, in.Condition) {
		return nil, errs.New(errs.CodeInvalidCondition, "escrow condition does not match the supplied condition")
	}
	if !VerifyCondition(in.Condition, in.Preimage) {
		return nil, errs.New(errs.CodeInvalidCondition, "condition is not the hash of the supplied preimage")
	}
	if tx.CancelAfter != nil && time.Now().After(*tx.CancelAfter) {
		// The ledger-side expiry safety net has already fired; the lock can no
		// longer be relied on.
		return nil, errs.Newf(errs.CodeTxFailed, "escrow %s expired on the ledger", in.TxHash)
	}

	record := &models.EscrowRecord{
		TxHash:      tx.Hash,
		UserAddress: in.SenderAddress,
		MarketID:    market.MarketID,
		Condition:   in.Condition,
		Fulfillment: in.Fulfillment,
		Preimage:    in.Preimage,
		Destination: tx.Destination,
		Amount:      tx.Amount,
		Currency:    tx.Currency,
		ExpiresAt:   tx.CancelAfter,
	}
	if err := b.repo.Create(record); err != nil {
		// A concurrent insert hitting the unique index counts as already
		// processed, not an internal fault.
		if existing, lookupErr := b.repo.GetByTxHash(tx.Hash); lookupErr == nil && existing != nil {
			return nil, errs.Newf(errs.CodeTxAlreadyProcessed, "transaction %s already processed", in.TxHash)
		}
		return nil, errs.Internal(err)
	}

	b.log.WithFields(logrus.Fields{
		"tx_hash": tx.Hash,
		"market":  market.MarketID,
		"amount":  tx.Amount.String(),
	}).Info("collateral lock verified")

	return &VerifiedDeposit{Amount: tx.Amount, Currency: tx.Currency, Record: record}, nil
}

// VerifyVaultDeposit validates a payment into the market's supply vault and
// records its hash, enforcing at-most-once processing.
func (b *Bridge) VerifyVaultDeposit(ctx context.Context, market *models.Market, txHash, senderAddress string) (decimal.Decimal, error) {
	zero := decimal.Zero

	if market.PoolAddress == "" {
		return zero, errs.Newf(errs.CodeVaultNotConfigured, "market %s has no supply vault", market.MarketID)
	}

	existing, err := b.repo.GetByTxHash(txHash)
	if err != nil {
		return zero, errs.Internal(err)
	}
	if existing != nil {
		return zero, errs.Newf(errs.CodeTxAlreadyProcessed, "transaction %s already processed", txHash)
	}

	tx, err := b.fetchValidated(ctx, txHash)
	if err != nil {
		return zero, err
	}

	if tx.Type != ledger.TxTypePayment {
		return zero, errs.Newf(errs.CodeNotVaultDeposit, "transaction %s is not a vault deposit", txHash)
	}
	if !strings.EqualFold(tx.Destination, market.PoolAddress) {
		return zero, errs.New(errs.CodeWrongVault, "payment does not target the market supply vault")
	}
	if !assetMatches(tx, market.DebtCurrency, market.DebtIssuer) {
		return zero, errs.Newf(errs.CodeWrongVault, "vault deposit in %s, expected %s", tx.Currency, market.DebtCurrency)
	}
	if !strings.EqualFold(tx.Account, senderAddress) {
		return zero, errs.New(errs.CodeInvalidAddress, "vault deposit sender does not match the caller")
	}
	if tx.Amount.Sign() <= 0 {
		return zero, errs.New(errs.CodeInvalidAmount, "vault deposit amount must be positive")
	}

	record := &models.EscrowRecord{
		TxHash:      tx.Hash,
		UserAddress: senderAddress,
		MarketID:    market.MarketID,
		Destination: tx.Destination,
		Amount:      tx.Amount,
		Currency:    tx.Currency,
	}
	if err := b.repo.Create(record); err != nil {
		if existing, lookupErr := b.repo.GetByTxHash(tx.Hash); lookupErr == nil && existing != nil {
			return zero, errs.Newf(errs.CodeTxAlreadyProcessed, "transaction %s already processed", txHash)
		}
		return zero, errs.Internal(err)
	}
	return tx.Amount, nil
}

// VerifyVaultWithdrawal validates a payment out of the supply vault to the
// user for the requested amount.
func (b *Bridge) VerifyVaultWithdrawal(ctx context.Context, market *models.Market, txHash, userAddress string, amount decimal.Decimal) error {
	if market.PoolAddress == "" {
		return errs.Newf(errs.CodeVaultNotConfigured, "market %s has no supply vault", market.MarketID)
	}

	existing, err := b.repo.GetByTxHash(txHash)
	if err != nil {
		return errs.Internal(err)
	}
	if existing != nil {
		return errs.Newf(errs.CodeTxAlreadyProcessed, "transaction %s already processed", txHash)
	}

	tx, err := b.fetchValidated(ctx, txHash)
	if err != nil {
		return err
	}

	if tx.Type != ledger.TxTypePayment && tx.Type != ledger.TxTypeEscrowFinish {
		return errs.Newf(errs.CodeWrongVault, "transaction %s is not a vault withdrawal", txHash)
	}
	if !strings.EqualFold(tx.Account, market.PoolAddress) {
		return errs.New(errs.CodeWrongVault, "withdrawal does not originate from the market supply vault")
	}
	if !strings.EqualFold(tx.Destination, userAddress) {
		return errs.New(errs.CodeInvalidAddress, "withdrawal does not pay the caller")
	}
	if !tx.Amount.Equal(amount) {
		return errs.Newf(errs.CodeInvalidAmount, "withdrawal amount %s does not match requested %s", tx.Amount, amount)
	}

	record := &models.EscrowRecord{
		TxHash:      tx.Hash,
		UserAddress: userAddress,
		MarketID:    market.MarketID,
		Destination: tx.Destination,
		Amount:      tx.Amount,
		Currency:    tx.Currency,
	}
	if err := b.repo.Create(record); err != nil {
		if existing, lookupErr := b.repo.GetByTxHash(tx.Hash); lookupErr == nil && existing != nil {
			return errs.Newf(errs.CodeTxAlreadyProcessed, "transaction %s already processed", txHash)
		}
		return errs.Internal(err)
	}
	return nil
}

// PayOut submits a payment from a protocol account, translating any ledger
// failure into TX_FAILED so callers can treat internal state as unmutated.
func (b *Bridge) PayOut(ctx context.Context, p ledger.Payment) (string, error) {
	hash, err := b.client.SubmitPayment(ctx, p)
	if err != nil {
		return "", errs.Wrap(errs.CodeTxFailed, "payout submission failed", err)
	}
	return hash, nil
}

// ReleaseEscrows finishes unconsumed escrow locks for a closing position.
// Finish failures are logged, not fatal: the ledger-side expiry eventually
// returns unreleased locks to their owner.
func (b *Bridge) ReleaseEscrows(ctx context.Context, userAddress, marketID string) {
	records, err := b.repo.ActiveEscrows(userAddress, marketID)
	if err != nil {
		b.log.WithError(err).Warn("listing active escrows failed")
		return
	}
	for _, rec := range records {
		_, err := b.client.FinishEscrow(ctx, ledger.EscrowFinish{
			Owner:       rec.UserAddress,
			TxHash:      rec.TxHash,
			Condition:   rec.Condition,
			Fulfillment: rec.Fulfillment,
		})
		if err != nil {
			b.log.WithError(err).WithField("tx_hash", rec.TxHash).Warn("escrow finish failed")
			continue
		}
		if err := b.repo.MarkConsumed(rec.TxHash); err != nil {
			b.log.WithError(err).WithField("tx_hash", rec.TxHash).Warn("marking escrow consumed failed")
		}
	}
}

// fetchValidated retrieves a transaction and requires it to be validated and
// successful. Not found, not yet validated, failed, and transport errors all
// collapse to TX_FAILED: internal state has not been mutated and the caller
// may resubmit.
func (b *Bridge) fetchValidated(ctx context.Context, txHash string) (*ledger.Tx, error) {
	tx, err := b.client.Tx(ctx, txHash)
	if err != nil {
		return nil, errs.Wrap(errs.CodeTxFailed, "ledger transaction lookup failed", err)
	}
	if !tx.Validated {
		return nil, errs.Newf(errs.CodeTxFailed, "transaction %s is not yet validated", txHash)
	}
	if !tx.Successful {
		return nil, errs.Newf(errs.CodeTxFailed, "transaction %s failed on the ledger", txHash)
	}
	return tx, nil
}

// VerifyCondition reports whether the condition commits to the preimage. The
// condition encoding is opaque to the core: it is the hex SHA-256 digest of
// the hex-decoded preimage.
func VerifyCondition(condition, preimage string) bool {
	if condition == "" || preimage == "" {
		return false
	}
	raw, err := hex.DecodeString(strings.TrimSpace(preimage))
	if err != nil {
		return false
	}
	sum := sha256.Sum256(raw)
	return strings.EqualFold(condition, hex.EncodeToString(sum[:]))
}

func assetMatches(tx *ledger.Tx, currency, issuer string) bool {
	if !strings.EqualFold(tx.Currency, currency) {
		return false
	}
	if issuer == "" {
		return true
	}
	return strings.EqualFold(tx.Issuer, issuer)
}
