package walletkit

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSignerUnavailable is returned when no credential or provider is
	// present to build a signer from.
	ErrSignerUnavailable = errors.New("walletkit: signer unavailable")

	// ErrUserRejected is returned when the user declines a signing prompt.
	// Never retried automatically.
	ErrUserRejected = errors.New("walletkit: signing rejected by user")

	// ErrSignerTimeout is returned when the platform authenticator gives up
	// waiting for the user. Never retried automatically.
	ErrSignerTimeout = errors.New("walletkit: signer timed out")

	// ErrInvalidSignatureEncoding is returned for any DER encoding violation.
	ErrInvalidSignatureEncoding = errors.New("walletkit: invalid signature encoding")

	// ErrReceiptTimeout means the receipt wait elapsed. The operation may
	// still land on-chain; the outcome is unknown, not failed.
	ErrReceiptTimeout = errors.New("walletkit: no receipt before timeout")

	// ErrSponsorshipUnavailable marks a failed sponsorship attempt. It never
	// fails an operation; the negotiator degrades to unsponsored instead.
	ErrSponsorshipUnavailable = errors.New("walletkit: sponsorship unavailable")

	// ErrNotReady is returned by the controller when no wallet session is
	// initialized.
	ErrNotReady = errors.New("walletkit: wallet not ready")
)

// ValidationError indicates a malformed call or an insufficient balance.
// It is a programming or input error and is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("walletkit: invalid %s: %s", e.Field, e.Reason)
}

// BundlerError is the uniform shape for bundler transport and RPC failures,
// so callers never see transport-specific errors.
type BundlerError struct {
	Code    int
	Message string
	Cause   error
}

func (e *BundlerError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("walletkit: bundler error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("walletkit: bundler error: %s", e.Message)
}

func (e *BundlerError) Unwrap() error { return e.Cause }

// JSON-RPC codes that indicate the operation itself is invalid. Resubmitting
// the same payload cannot succeed, so these are not retried.
func bundlerCodeRetryable(code int) bool {
	if code >= -32602 && code <= -32600 {
		return false
	}
	// ERC-4337 validation rejections (-325xx range).
	if code >= -32599 && code <= -32500 {
		return false
	}
	return true
}

// retryable reports whether a submission failure is transient. Validation
// errors, signature-encoding errors, user rejection, and cancellation
// propagate immediately.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return false
	}
	if errors.Is(err, ErrUserRejected) ||
		errors.Is(err, ErrSignerTimeout) ||
		errors.Is(err, ErrSignerUnavailable) ||
		errors.Is(err, ErrInvalidSignatureEncoding) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var berr *BundlerError
	if errors.As(err, &berr) {
		return bundlerCodeRetryable(berr.Code)
	}
	return true
}
