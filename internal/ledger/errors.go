package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/store"
)

// Kind classifies a settlement failure.
type Kind string

const (
	KindInvalidArgument      Kind = "invalid_argument"
	KindNotFound             Kind = "not_found"
	KindInsufficientSupply   Kind = "insufficient_supply"
	KindInsufficientHoldings Kind = "insufficient_holdings"
	KindContention           Kind = "contention"
	KindStoreUnavailable     Kind = "store_unavailable"
)

// Retryable reports whether the caller may resubmit the whole call.
func (k Kind) Retryable() bool { return k == KindContention }

var (
	ErrInvalidArgument      = &Error{Kind: KindInvalidArgument}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrInsufficientSupply   = &Error{Kind: KindInsufficientSupply}
	ErrInsufficientHoldings = &Error{Kind: KindInsufficientHoldings}
	ErrContention           = &Error{Kind: KindContention}
	ErrStoreUnavailable     = &Error{Kind: KindStoreUnavailable}
)

// Error is returned by every failed settlement. Available is set for
// InsufficientSupply (issuable shares left) and InsufficientHoldings
// (shares the user holds).
type Error struct {
	Kind      Kind
	Message   string
	Available *decimal.Decimal
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("ledger: %s: %v", msg, e.Err)
	}
	return "ledger: " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of a ledger error, or "" if err is not one.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

func invalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

func insufficient(kind Kind, available decimal.Decimal, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Available: &available}
}

// fromStore translates a store error into a ledger error. Errors that are
// already ledger errors pass through unchanged.
func fromStore(err error, what string) error {
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: what + " not found", Err: err}
	case errors.Is(err, store.ErrContention):
		return &Error{Kind: KindContention, Message: "concurrent settlement in progress, retry", Err: err}
	default:
		return &Error{Kind: KindStoreUnavailable, Message: "store failure during " + what, Err: err}
	}
}
