// Package apperrors defines the standardized adapter error taxonomy
package apperrors

import (
	"context"
	"errors"
	"net"
)

// Standardized Exchange Errors
var (
	ErrTransient         = errors.New("transient error")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrPostOnlyRejected  = errors.New("post-only order rejected")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPositionLimit     = errors.New("position limit exceeded")
	ErrUnknownOutcome    = errors.New("unknown outcome")
)

// Category classifies an adapter error for executor-level handling
type Category int

const (
	CategoryNone Category = iota
	CategoryTransient
	CategoryRateLimited
	CategoryInvalidRequest
	CategoryPostOnlyRejected
	CategoryOrderNotFound
	CategoryInsufficientFunds
	CategoryPositionLimit
	CategoryUnknown
)

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryTransient:
		return "transient"
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryInvalidRequest:
		return "invalid_request"
	case CategoryPostOnlyRejected:
		return "post_only_rejected"
	case CategoryOrderNotFound:
		return "order_not_found"
	case CategoryInsufficientFunds:
		return "insufficient_funds"
	case CategoryPositionLimit:
		return "position_limit"
	default:
		return "unknown"
	}
}

// Classify maps any error to a taxonomy category. Timeouts and network
// failures without a definite venue reply are Unknown: the caller must
// reconcile against the authoritative REST view before retrying.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrPostOnlyRejected):
		return CategoryPostOnlyRejected
	case errors.Is(err, ErrOrderNotFound):
		return CategoryOrderNotFound
	case errors.Is(err, ErrRateLimited):
		return CategoryRateLimited
	case errors.Is(err, ErrInvalidRequest):
		return CategoryInvalidRequest
	case errors.Is(err, ErrInsufficientFunds):
		return CategoryInsufficientFunds
	case errors.Is(err, ErrPositionLimit):
		return CategoryPositionLimit
	case errors.Is(err, ErrUnknownOutcome),
		errors.Is(err, context.DeadlineExceeded):
		return CategoryUnknown
	case errors.Is(err, ErrTransient):
		return CategoryTransient
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			if netErr.Timeout() {
				return CategoryUnknown
			}
			return CategoryTransient
		}
		return CategoryTransient
	}
}

// IsTransient reports whether the operation may be retried as-is
func IsTransient(err error) bool {
	c := Classify(err)
	return c == CategoryTransient || c == CategoryRateLimited
}
