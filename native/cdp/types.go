package cdp

import (
	"math/big"

	"aerocdp/crypto"
)

// Trove is a borrower's collateralized debt position. Each trove holds a single
// collateral denom; the denom is fixed while the trove is active.
type Trove struct {
	Owner crypto.Address
	Denom string
	// Collateral is the amount of Denom locked in protocol custody.
	Collateral uint64
	// Debt is the outstanding stable-token debt in 18-decimal units.
	Debt uint64
	// ICR is the collateral ratio in micro-percent captured at the last
	// mutation. It is informational; eligibility is always recomputed.
	ICR    uint64
	Active bool
	// UpdatedAt is the unix timestamp of the last mutation.
	UpdatedAt uint64
}

// Clone returns a copy safe to mutate.
func (t *Trove) Clone() *Trove {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// GlobalLedger is the protocol-wide accounting singleton.
type GlobalLedger struct {
	TotalDebt              uint64
	TotalStake             uint64
	MinimumCollateralRatio uint64
	ProtocolFeePercent     uint64
	// P is the stability pool product factor scaled by ScaleFactor.
	P     *big.Int
	Epoch uint64
}

// Clone returns a deep copy of the ledger.
func (l *GlobalLedger) Clone() *GlobalLedger {
	if l == nil {
		return nil
	}
	clone := *l
	if l.P != nil {
		clone.P = new(big.Int).Set(l.P)
	}
	return &clone
}

// StabilityDeposit is a staker's recorded position in the stability pool. The
// present value is Amount * P / PSnapshot while EpochSnapshot matches the
// ledger epoch, and zero once the pool has been fully depleted since.
type StabilityDeposit struct {
	Owner         crypto.Address
	Amount        uint64
	PSnapshot     *big.Int
	EpochSnapshot uint64
	LastUpdate    uint64
}

// Clone returns a deep copy of the deposit.
func (d *StabilityDeposit) Clone() *StabilityDeposit {
	if d == nil {
		return nil
	}
	clone := *d
	if d.PSnapshot != nil {
		clone.PSnapshot = new(big.Int).Set(d.PSnapshot)
	}
	return &clone
}

// GainSnapshot records the S accumulator value when a staker's gain in Denom
// was last settled. Pending holds gains settled but not yet paid out.
type GainSnapshot struct {
	Owner       crypto.Address
	Denom       string
	S           *big.Int
	Epoch       uint64
	Pending     uint64
	Initialized bool
}

// DenomAccumulator is the per-denom S factor for the epoch it belongs to.
type DenomAccumulator struct {
	Denom string
	Epoch uint64
	S     *big.Int
}

// CollateralTotal tracks the protocol-held amount of a denom. Vault is the
// portion seized by liquidations and owed to stability pool depositors; the
// remainder is locked in troves.
type CollateralTotal struct {
	Denom string
	Total uint64
	Vault uint64
}

// StakePosition is the query view of a stability deposit.
type StakePosition struct {
	Owner      crypto.Address
	Recorded   uint64
	Compounded uint64
	// Share is Compounded / TotalStake scaled by ScaleFactor.
	Share *big.Int
	Epoch uint64
}

// Totals is the query view of the protocol's aggregate state.
type Totals struct {
	TotalDebt              uint64
	TotalStake             uint64
	MinimumCollateralRatio uint64
	ProtocolFeePercent     uint64
	P                      *big.Int
	Epoch                  uint64
	Collateral             []CollateralTotal
}

// LiquidationReport aggregates the outcome of a batch liquidation.
type LiquidationReport struct {
	Denom           string
	Liquidated      []crypto.Address
	TotalDebt       uint64
	TotalCollateral uint64
	// ByDenom breaks down seized collateral per denom.
	ByDenom map[string]uint64
}

// Processed reports the number of troves liquidated.
func (r LiquidationReport) Processed() int { return len(r.Liquidated) }

// RedemptionLeg is the effect of a redemption on a single trove.
type RedemptionLeg struct {
	Owner      crypto.Address
	Debt       uint64
	Collateral uint64
	Closed     bool
}

// RedemptionReport aggregates the outcome of a redemption.
type RedemptionReport struct {
	Denom      string
	Gross      uint64
	Fee        uint64
	Net        uint64
	Collateral uint64
	Legs       []RedemptionLeg
}
