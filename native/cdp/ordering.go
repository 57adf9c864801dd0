package cdp

import (
	"math"

	"aerocdp/crypto"
)

// NoThreshold disables the early exit of ValidateSequence.
const NoThreshold uint64 = math.MaxUint64

// ValidateNeighbors verifies prev <= icr <= next for a trove's claimed position.
// A nil neighbor marks the head or tail of the list. Ties are permitted.
func ValidateNeighbors(prev *uint64, icr uint64, next *uint64) error {
	if prev != nil && *prev > icr {
		return newError(KindInvalidOrdering, "", "previous ICR %d above %d", *prev, icr)
	}
	if next != nil && icr > *next {
		return newError(KindInvalidOrdering, "", "next ICR %d below %d", *next, icr)
	}
	return nil
}

// ValidateSequence verifies that icrs is non-decreasing and returns the length
// of the prefix strictly below threshold. Scanning stops at the first entry at
// or above threshold; nothing after it can be eligible once the list is sorted.
func ValidateSequence(icrs []uint64, threshold uint64) (int, error) {
	for i, icr := range icrs {
		if i > 0 && icrs[i-1] > icr {
			return 0, newError(KindInvalidOrdering, "", "position %d: ICR %d follows %d", i, icr, icrs[i-1])
		}
		if icr >= threshold {
			return i, nil
		}
	}
	return len(icrs), nil
}

// candidate is a trove reference that passed authenticity checks together with
// its freshly computed ICR.
type candidate struct {
	trove *Trove
	icr   uint64
}

// loadCandidates resolves caller-supplied references. Each record must exist,
// belong to the claimed owner and be active; duplicates are rejected. Troves
// whose denom differs from denom are skipped.
func (e *Engine) loadCandidates(op string, owners []crypto.Address, denom string) ([]*Trove, error) {
	seen := make(map[string]bool, len(owners))
	out := make([]*Trove, 0, len(owners))
	for i, owner := range owners {
		if owner.IsZero() {
			return nil, newError(KindInvalidOrdering, op, "position %d: empty trove reference", i)
		}
		key := string(owner.Bytes())
		if seen[key] {
			return nil, newError(KindInvalidOrdering, op, "position %d: duplicate trove %s", i, owner)
		}
		seen[key] = true
		trove, err := e.state.GetTrove(owner)
		if err != nil {
			return nil, err
		}
		if trove == nil {
			return nil, newError(KindTroveNotFound, op, "position %d: %s", i, owner)
		}
		if !trove.Owner.Equal(owner) {
			return nil, newError(KindUnauthorized, op, "position %d: record owner %s does not match %s", i, trove.Owner, owner)
		}
		if !trove.Active || trove.Debt == 0 {
			return nil, newError(KindTroveInactive, op, "position %d: %s", i, owner)
		}
		if trove.Denom != denom {
			continue
		}
		out = append(out, trove.Clone())
	}
	return out, nil
}

// rankCandidates prices every trove with a single quote and validates the order.
// It returns the candidates and the length of the prefix below threshold.
func rankCandidates(op string, troves []*Trove, price uint64, decimal uint8, threshold uint64) ([]candidate, int, error) {
	ranked := make([]candidate, len(troves))
	icrs := make([]uint64, len(troves))
	for i, trove := range troves {
		icr, err := TroveICR(trove.Collateral, trove.Debt, price, decimal)
		if err != nil {
			return nil, 0, withOp(op, err)
		}
		ranked[i] = candidate{trove: trove, icr: icr}
		icrs[i] = icr
	}
	eligible, err := ValidateSequence(icrs, threshold)
	if err != nil {
		return nil, 0, withOp(op, err)
	}
	return ranked, eligible, nil
}
