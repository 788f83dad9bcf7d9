// Package errs defines the coded error taxonomy shared by the lending core.
// Client retry logic depends on the codes, so they are part of the contract:
// OPERATION_IN_PROGRESS means retry later, IDEMPOTENCY_MISMATCH means client
// bug, TX_FAILED means resubmit the ledger transaction.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error identifier
type Code string

const (
	// Validation errors: caller mistake, never retried automatically
	CodeMissingTxHash      Code = "MISSING_TX_HASH"
	CodeMissingAddress     Code = "MISSING_ADDRESS"
	CodeMissingMarket      Code = "MISSING_MARKET"
	CodeMissingCondition   Code = "MISSING_CONDITION"
	CodeMissingFulfillment Code = "MISSING_FULFILLMENT"
	CodeInvalidAmount      Code = "INVALID_AMOUNT"
	CodeInvalidAddress     Code = "INVALID_ADDRESS"
	CodeInvalidCondition   Code = "INVALID_CONDITION"
	CodeInvalidRepayKind   Code = "INVALID_REPAY_KIND"

	// State conflicts: safe to retry after backoff or treat as already applied
	CodeOperationInProgress Code = "OPERATION_IN_PROGRESS"
	CodeIdempotencyMismatch Code = "IDEMPOTENCY_MISMATCH"
	CodeTxAlreadyProcessed  Code = "TX_ALREADY_PROCESSED"

	// External-dependency failures: internal state was not mutated,
	// recoverable by resubmission
	CodeTxFailed Code = "TX_FAILED"

	// Business-rule rejections: terminal for the given parameters
	CodeMarketNotFound            Code = "MARKET_NOT_FOUND"
	CodeNotVaultDeposit           Code = "NOT_VAULT_DEPOSIT"
	CodeWrongVault                Code = "WRONG_VAULT"
	CodeVaultNotConfigured        Code = "VAULT_NOT_CONFIGURED"
	CodeUnsupportedOperation      Code = "UNSUPPORTED_OPERATION"
	CodeBorrowLimitExceeded       Code = "BORROW_LIMIT_EXCEEDED"
	CodeInsufficientPoolLiquidity Code = "INSUFFICIENT_POOL_LIQUIDITY"
	CodeInsufficientCollateral    Code = "INSUFFICIENT_COLLATERAL"
	CodeNoSupplyPosition          Code = "NO_SUPPLY_POSITION"
	CodeNoOpenPosition            Code = "NO_OPEN_POSITION"
	CodeNoDebtToRepay             Code = "NO_DEBT_TO_REPAY"
	CodePriceUnavailable          Code = "PRICE_UNAVAILABLE"
	CodeMinSupplyNotMet           Code = "MIN_SUPPLY_NOT_MET"

	// Internal faults: logged with full context, generic message outward
	CodeInternal Code = "INTERNAL_ERROR"
)

// Error carries a taxonomy code alongside a human-readable message
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains
func (e *Error) Unwrap() error {
	return e.cause
}

// New constructs a coded error
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs a coded error with a formatted message
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a taxonomy code to an underlying error
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Internal wraps an unexpected error. The cause is retained for logging but
// never serialized to the caller.
func Internal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", cause: cause}
}

// CodeOf extracts the taxonomy code from an error chain, defaulting to
// INTERNAL_ERROR for unclassified failures.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// MessageOf extracts the outward-safe message from an error chain
func MessageOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Message
	}
	return "internal error"
}

// Is reports whether the error chain carries the given code
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps a taxonomy code to an HTTP status. Routing concern only;
// the code itself is the load-bearing contract.
func HTTPStatus(code Code) int {
	switch code {
	case CodeMissingTxHash, CodeMissingAddress, CodeMissingMarket,
		CodeMissingCondition, CodeMissingFulfillment,
		CodeInvalidAmount, CodeInvalidAddress, CodeInvalidCondition,
		CodeInvalidRepayKind:
		return http.StatusBadRequest
	case CodeMarketNotFound, CodeNoSupplyPosition, CodeNoOpenPosition:
		return http.StatusNotFound
	case CodeOperationInProgress, CodeIdempotencyMismatch, CodeTxAlreadyProcessed:
		return http.StatusConflict
	case CodeTxFailed:
		return http.StatusBadGateway
	case CodeNotVaultDeposit, CodeWrongVault, CodeVaultNotConfigured,
		CodeUnsupportedOperation, CodeBorrowLimitExceeded,
		CodeInsufficientPoolLiquidity, CodeInsufficientCollateral,
		CodeNoDebtToRepay, CodePriceUnavailable, CodeMinSupplyNotMet:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
