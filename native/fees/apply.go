package fees

import (
	"errors"
	"fmt"
)

// MaxPercent bounds the protocol fee percentage.
const MaxPercent = 100

var (
	errPercentRange = errors.New("fees: percentage exceeds 100")
	errNoLedger     = errors.New("fees: token ledger not configured")
	errNoRecipient  = errors.New("fees: fee recipient not configured")
)

// ApplyResult summarises the fee charged on an operation amount.
type ApplyResult struct {
	Gross uint64
	Fee   uint64
	Net   uint64
}

// Apply computes fee = floor(amount * percent / 100) and net = amount - fee.
func Apply(amount, percent uint64) (ApplyResult, error) {
	if percent > MaxPercent {
		return ApplyResult{}, fmt.Errorf("%w: %d", errPercentRange, percent)
	}
	// Split amount = 100q + r so the product never leaves 64 bits.
	fee := (amount/100)*percent + (amount%100)*percent/100
	return ApplyResult{Gross: amount, Fee: fee, Net: amount - fee}, nil
}
