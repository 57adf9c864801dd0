package cdp

import (
	"context"
	"math/big"

	"aerocdp/crypto"
)

// Trove returns the stored trove for owner.
func (e *Engine) Trove(owner crypto.Address) (*Trove, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	trove, err := e.state.GetTrove(owner)
	if err != nil {
		return nil, err
	}
	if trove == nil {
		return nil, newError(KindTroveNotFound, "trove", "%s", owner)
	}
	return trove.Clone(), nil
}

// CurrentICR prices owner's trove at the latest oracle quote.
func (e *Engine) CurrentICR(ctx context.Context, owner crypto.Address) (uint64, error) {
	const op = "icr"
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	trove, err := e.loadActiveTrove(op, owner)
	if err != nil {
		return 0, err
	}
	price, err := e.quote(ctx, op, trove.Denom)
	if err != nil {
		return 0, err
	}
	icr, err := TroveICR(trove.Collateral, trove.Debt, price.Price, price.Decimal)
	if err != nil {
		return 0, withOp(op, err)
	}
	return icr, nil
}

// StakePosition reports owner's compounded stability deposit and pool share.
func (e *Engine) StakePosition(owner crypto.Address) (*StakePosition, error) {
	const op = "stake_position"
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	deposit, err := e.loadDeposit(owner)
	if err != nil {
		return nil, withOp(op, err)
	}
	position := &StakePosition{Owner: owner, Share: new(big.Int), Epoch: ledger.Epoch}
	if deposit == nil {
		return position, nil
	}
	value, err := depositValue(deposit, ledger)
	if err != nil {
		return nil, withOp(op, err)
	}
	position.Recorded = deposit.Amount
	position.Compounded = value
	if ledger.TotalStake > 0 {
		share := new(big.Int).SetUint64(value)
		share.Mul(share, scaleFactor)
		position.Share = share.Quo(share, new(big.Int).SetUint64(ledger.TotalStake))
	}
	return position, nil
}

// PendingGain reports the collateral gain in denom owner could withdraw now.
func (e *Engine) PendingGain(owner crypto.Address, denom string) (uint64, error) {
	const op = "pending_gain"
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	deposit, err := e.loadDeposit(owner)
	if err != nil {
		return 0, withOp(op, err)
	}
	gain, _, err := e.accruedGain(deposit, owner, normalizeDenom(denom))
	if err != nil {
		return 0, withOp(op, err)
	}
	return gain, nil
}

// Totals reports the global ledger and per-denom collateral totals for every
// registered denom.
func (e *Engine) Totals() (*Totals, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	out := &Totals{
		TotalDebt:              ledger.TotalDebt,
		TotalStake:             ledger.TotalStake,
		MinimumCollateralRatio: ledger.MinimumCollateralRatio,
		ProtocolFeePercent:     ledger.ProtocolFeePercent,
		P:                      new(big.Int).Set(ledger.P),
		Epoch:                  ledger.Epoch,
	}
	for _, denom := range e.params.CollateralDenoms {
		total, err := e.loadCollateralTotal(denom)
		if err != nil {
			return nil, err
		}
		out.Collateral = append(out.Collateral, *total)
	}
	return out, nil
}

// Liquidatable returns the owners from a sorted candidate list that
// LiquidateBatch would absorb at the current price, without side effects.
func (e *Engine) Liquidatable(ctx context.Context, denom string, owners []crypto.Address) ([]crypto.Address, error) {
	const op = "liquidatable"
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	denom = normalizeDenom(denom)
	if !e.params.SupportsDenom(denom) {
		return nil, newError(KindUnsupportedDenom, op, "%q", denom)
	}
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	troves, err := e.loadCandidates(op, owners, denom)
	if err != nil || len(troves) == 0 {
		return nil, err
	}
	price, err := e.quote(ctx, op, denom)
	if err != nil {
		return nil, err
	}
	ranked, eligible, err := rankCandidates(op, troves, price.Price, price.Decimal, ledger.MinimumCollateralRatio)
	if err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, eligible)
	for _, c := range ranked[:eligible] {
		out = append(out, c.trove.Owner)
	}
	return out, nil
}
