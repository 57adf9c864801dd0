package cdp

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies engine failures so callers can decide whether to retry with
// different inputs.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindUnauthorized
	KindInvalidAmount
	KindInsufficientCollateral
	KindInsufficientFunds
	KindOverflow
	KindInvalidOrdering
	KindNotLiquidatable
	KindPriceInvalid
	KindPriceStale
	KindTroveNotFound
	KindTroveInactive
	KindTroveExists
	KindUnsupportedDenom
	KindUninitializedDeposit
	KindPaused
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown",
	KindUnauthorized:           "unauthorized",
	KindInvalidAmount:          "invalid amount",
	KindInsufficientCollateral: "insufficient collateral",
	KindInsufficientFunds:      "insufficient funds",
	KindOverflow:               "arithmetic overflow",
	KindInvalidOrdering:        "invalid ordering",
	KindNotLiquidatable:        "trove not liquidatable",
	KindPriceInvalid:           "invalid price",
	KindPriceStale:             "stale price",
	KindTroveNotFound:          "trove not found",
	KindTroveInactive:          "trove inactive",
	KindTroveExists:            "trove already open",
	KindUnsupportedDenom:       "unsupported collateral denom",
	KindUninitializedDeposit:   "uninitialized stability deposit",
	KindPaused:                 "operation paused",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Code returns a stable snake_case identifier suitable for wire responses.
func (k Kind) Code() string {
	return strings.ReplaceAll(k.String(), " ", "_")
}

// Error is the structured failure returned by every engine operation. Op names
// the operation and Detail carries the trove, denom or threshold involved.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("cdp")
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches any *Error of the same kind, so sentinel comparisons work
// regardless of context.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthorized           = &Error{Kind: KindUnauthorized}
	ErrInvalidAmount          = &Error{Kind: KindInvalidAmount}
	ErrInsufficientCollateral = &Error{Kind: KindInsufficientCollateral}
	ErrInsufficientFunds      = &Error{Kind: KindInsufficientFunds}
	ErrOverflow               = &Error{Kind: KindOverflow}
	ErrInvalidOrdering        = &Error{Kind: KindInvalidOrdering}
	ErrNotLiquidatable        = &Error{Kind: KindNotLiquidatable}
	ErrPriceInvalid           = &Error{Kind: KindPriceInvalid}
	ErrPriceStale             = &Error{Kind: KindPriceStale}
	ErrTroveNotFound          = &Error{Kind: KindTroveNotFound}
	ErrTroveInactive          = &Error{Kind: KindTroveInactive}
	ErrTroveExists            = &Error{Kind: KindTroveExists}
	ErrUnsupportedDenom       = &Error{Kind: KindUnsupportedDenom}
	ErrUninitializedDeposit   = &Error{Kind: KindUninitializedDeposit}
	ErrPaused                 = &Error{Kind: KindPaused}
)

var errNilState = errors.New("cdp engine: state not configured")

func newError(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// withOp stamps the operation name on structured errors that lack one.
func withOp(op string, err error) error {
	var e *Error
	if errors.As(err, &e) && e.Op == "" {
		clone := *e
		clone.Op = op
		return &clone
	}
	return err
}

// KindOf extracts the Kind from err, or KindUnknown when err is not structured.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
