package events

import (
	"strings"

	"aerocdp/core/types"
	"aerocdp/crypto"
)

const (
	// TypeTroveOpened is emitted when a new trove is opened.
	TypeTroveOpened = "cdp.trove.opened"
	// TypeTroveAdjusted is emitted on collateral or debt changes to an open trove.
	TypeTroveAdjusted = "cdp.trove.adjusted"
	// TypeTroveClosed is emitted when a trove is fully repaid and its collateral returned.
	TypeTroveClosed = "cdp.trove.closed"
	// TypeTroveLiquidated is emitted for every trove absorbed by the stability pool.
	TypeTroveLiquidated = "cdp.trove.liquidated"
	// TypeLiquidationBatch summarises a batch liquidation.
	TypeLiquidationBatch = "cdp.liquidation.batch"
	// TypeRedemption is emitted when stable tokens are redeemed for collateral.
	TypeRedemption = "cdp.redemption"
	// TypeStabilityStaked is emitted when a deposit is added to the stability pool.
	TypeStabilityStaked = "cdp.stability.staked"
	// TypeStabilityUnstaked is emitted when a depositor withdraws stable tokens.
	TypeStabilityUnstaked = "cdp.stability.unstaked"
	// TypeGainsWithdrawn is emitted when a depositor claims collateral gains.
	TypeGainsWithdrawn = "cdp.stability.gains_withdrawn"
	// TypePoolDepleted is emitted when a liquidation consumes the whole pool.
	TypePoolDepleted = "cdp.stability.depleted"
)

// TroveOpened records the initial shape of a trove.
type TroveOpened struct {
	Owner      crypto.Address
	Denom      string
	Collateral uint64
	Debt       uint64
	Fee        uint64
	ICR        uint64
}

func (TroveOpened) EventType() string { return TypeTroveOpened }

func (e TroveOpened) Event() *types.Event {
	return &types.Event{
		Type: TypeTroveOpened,
		Attributes: map[string]string{
			"owner":      e.Owner.String(),
			"denom":      normalizeDenom(e.Denom),
			"collateral": formatUint(e.Collateral),
			"debt":       formatUint(e.Debt),
			"fee":        formatUint(e.Fee),
			"icr":        formatUint(e.ICR),
		},
	}
}

// TroveAdjusted records one collateral or debt change.
type TroveAdjusted struct {
	Owner      crypto.Address
	Action     string
	Denom      string
	Amount     uint64
	Fee        uint64
	Collateral uint64
	Debt       uint64
	ICR        uint64
}

func (TroveAdjusted) EventType() string { return TypeTroveAdjusted }

func (e TroveAdjusted) Event() *types.Event {
	return &types.Event{
		Type: TypeTroveAdjusted,
		Attributes: map[string]string{
			"owner":      e.Owner.String(),
			"action":     strings.TrimSpace(e.Action),
			"denom":      normalizeDenom(e.Denom),
			"amount":     formatUint(e.Amount),
			"fee":        formatUint(e.Fee),
			"collateral": formatUint(e.Collateral),
			"debt":       formatUint(e.Debt),
			"icr":        formatUint(e.ICR),
		},
	}
}

// TroveClosed records the final settlement of a trove.
type TroveClosed struct {
	Owner              crypto.Address
	Denom              string
	DebtRepaid         uint64
	CollateralReturned uint64
}

func (TroveClosed) EventType() string { return TypeTroveClosed }

func (e TroveClosed) Event() *types.Event {
	return &types.Event{
		Type: TypeTroveClosed,
		Attributes: map[string]string{
			"owner":              e.Owner.String(),
			"denom":              normalizeDenom(e.Denom),
			"debtRepaid":         formatUint(e.DebtRepaid),
			"collateralReturned": formatUint(e.CollateralReturned),
		},
	}
}

// TroveLiquidated records a trove absorbed by the stability pool.
type TroveLiquidated struct {
	Owner      crypto.Address
	Denom      string
	Debt       uint64
	Collateral uint64
	ICR        uint64
	Epoch      uint64
	P          string
}

func (TroveLiquidated) EventType() string { return TypeTroveLiquidated }

func (e TroveLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeTroveLiquidated,
		Attributes: map[string]string{
			"owner":      e.Owner.String(),
			"denom":      normalizeDenom(e.Denom),
			"debt":       formatUint(e.Debt),
			"collateral": formatUint(e.Collateral),
			"icr":        formatUint(e.ICR),
			"epoch":      formatUint(e.Epoch),
			"p":          e.P,
		},
	}
}

// LiquidationBatch summarises a batch liquidation.
type LiquidationBatch struct {
	Denom           string
	Processed       int
	TotalDebt       uint64
	TotalCollateral uint64
}

func (LiquidationBatch) EventType() string { return TypeLiquidationBatch }

func (e LiquidationBatch) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidationBatch,
		Attributes: map[string]string{
			"denom":           normalizeDenom(e.Denom),
			"processed":       formatUint(uint64(e.Processed)),
			"totalDebt":       formatUint(e.TotalDebt),
			"totalCollateral": formatUint(e.TotalCollateral),
		},
	}
}

// Redemption records a completed redemption.
type Redemption struct {
	Redeemer   crypto.Address
	Denom      string
	Gross      uint64
	Fee        uint64
	Net        uint64
	Collateral uint64
	Troves     int
}

func (Redemption) EventType() string { return TypeRedemption }

func (e Redemption) Event() *types.Event {
	return &types.Event{
		Type: TypeRedemption,
		Attributes: map[string]string{
			"redeemer":   e.Redeemer.String(),
			"denom":      normalizeDenom(e.Denom),
			"gross":      formatUint(e.Gross),
			"fee":        formatUint(e.Fee),
			"net":        formatUint(e.Net),
			"collateral": formatUint(e.Collateral),
			"troves":     formatUint(uint64(e.Troves)),
		},
	}
}

// StabilityStaked records a stake into the stability pool.
type StabilityStaked struct {
	Owner      crypto.Address
	Amount     uint64
	Compounded uint64
	Deposit    uint64
}

func (StabilityStaked) EventType() string { return TypeStabilityStaked }

func (e StabilityStaked) Event() *types.Event {
	return &types.Event{
		Type: TypeStabilityStaked,
		Attributes: map[string]string{
			"owner":      e.Owner.String(),
			"amount":     formatUint(e.Amount),
			"compounded": formatUint(e.Compounded),
			"deposit":    formatUint(e.Deposit),
		},
	}
}

// StabilityUnstaked records a withdrawal from the stability pool.
type StabilityUnstaked struct {
	Owner   crypto.Address
	Amount  uint64
	Deposit uint64
}

func (StabilityUnstaked) EventType() string { return TypeStabilityUnstaked }

func (e StabilityUnstaked) Event() *types.Event {
	return &types.Event{
		Type: TypeStabilityUnstaked,
		Attributes: map[string]string{
			"owner":   e.Owner.String(),
			"amount":  formatUint(e.Amount),
			"deposit": formatUint(e.Deposit),
		},
	}
}

// GainsWithdrawn records a collateral gain payout.
type GainsWithdrawn struct {
	Owner  crypto.Address
	Denom  string
	Amount uint64
}

func (GainsWithdrawn) EventType() string { return TypeGainsWithdrawn }

func (e GainsWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeGainsWithdrawn,
		Attributes: map[string]string{
			"owner":  e.Owner.String(),
			"denom":  normalizeDenom(e.Denom),
			"amount": formatUint(e.Amount),
		},
	}
}

// PoolDepleted records the start of a new stability pool epoch.
type PoolDepleted struct {
	Epoch uint64
}

func (PoolDepleted) EventType() string { return TypePoolDepleted }

func (e PoolDepleted) Event() *types.Event {
	return &types.Event{
		Type:       TypePoolDepleted,
		Attributes: map[string]string{"epoch": formatUint(e.Epoch)},
	}
}
