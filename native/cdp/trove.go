package cdp

import (
	"context"

	"aerocdp/core/events"
	"aerocdp/crypto"
)

// OpenTrove locks collateral of denom from owner and mints loan stable tokens to
// them. The protocol fee is charged on the loan; the recorded debt is the full
// loan amount.
func (e *Engine) OpenTrove(ctx context.Context, owner crypto.Address, denom string, collateral, loan uint64) (*Trove, error) {
	const op = "open_trove"
	if err := e.begin(op, true); err != nil {
		return nil, err
	}
	if owner.IsZero() {
		return nil, newError(KindUnauthorized, op, "owner required")
	}
	denom = normalizeDenom(denom)
	if !e.params.SupportsDenom(denom) {
		return nil, newError(KindUnsupportedDenom, op, "%q", denom)
	}
	if collateral == 0 || collateral < e.params.MinimumCollateralAmount {
		return nil, newError(KindInvalidAmount, op, "collateral %d below minimum %d", collateral, e.params.MinimumCollateralAmount)
	}
	if loan == 0 || loan < e.params.MinimumLoanAmount {
		return nil, newError(KindInvalidAmount, op, "loan %d below minimum %d", loan, e.params.MinimumLoanAmount)
	}
	existing, err := e.state.GetTrove(owner)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Active {
		return nil, newError(KindTroveExists, op, "%s", owner)
	}
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	price, err := e.quote(ctx, op, denom)
	if err != nil {
		return nil, err
	}
	icr, err := TroveICR(collateral, loan, price.Price, price.Decimal)
	if err != nil {
		return nil, withOp(op, err)
	}
	if icr < ledger.MinimumCollateralRatio {
		return nil, newError(KindInsufficientCollateral, op, "icr %d below minimum %d", icr, ledger.MinimumCollateralRatio)
	}
	if err := e.requireBalance(op, denom, owner, collateral); err != nil {
		return nil, err
	}
	fee, err := e.planFee(op, loan, ledger.ProtocolFeePercent)
	if err != nil {
		return nil, err
	}
	if ledger.TotalDebt, err = checkedAdd(ledger.TotalDebt, loan, "total debt"); err != nil {
		return nil, withOp(op, err)
	}
	total, err := e.loadCollateralTotal(denom)
	if err != nil {
		return nil, err
	}
	if total.Total, err = checkedAdd(total.Total, collateral, "collateral total"); err != nil {
		return nil, withOp(op, err)
	}

	if err := e.bank.Transfer(denom, owner, e.custody, collateral); err != nil {
		return nil, err
	}
	if err := e.bank.Mint(e.params.StableDenom, owner, loan); err != nil {
		return nil, err
	}
	if err := e.chargeFee(owner, loan, ledger.ProtocolFeePercent, fee); err != nil {
		return nil, err
	}
	trove := &Trove{
		Owner:      owner,
		Denom:      denom,
		Collateral: collateral,
		Debt:       loan,
		ICR:        icr,
		Active:     true,
		UpdatedAt:  e.timestamp(),
	}
	if err := e.state.PutTrove(trove); err != nil {
		return nil, err
	}
	if err := e.state.PutCollateralTotal(total); err != nil {
		return nil, err
	}
	if err := e.state.PutLedger(ledger); err != nil {
		return nil, err
	}
	e.emit(events.TroveOpened{Owner: owner, Denom: denom, Collateral: collateral, Debt: loan, Fee: fee.Fee, ICR: icr})
	e.logger.Info("trove opened", "owner", owner.String(), "denom", denom, "collateral", collateral, "debt", loan, "icr", icr)
	return trove.Clone(), nil
}

// AddCollateral locks additional collateral into owner's trove.
func (e *Engine) AddCollateral(ctx context.Context, owner crypto.Address, denom string, amount uint64) (*Trove, error) {
	const op = "add_collateral"
	if err := e.begin(op, true); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, newError(KindInvalidAmount, op, "amount must be positive")
	}
	trove, err := e.loadActiveTrove(op, owner)
	if err != nil {
		return nil, err
	}
	denom = normalizeDenom(denom)
	if denom != trove.Denom {
		return nil, newError(KindUnsupportedDenom, op, "trove holds %q, got %q", trove.Denom, denom)
	}
	if trove.Collateral, err = checkedAdd(trove.Collateral, amount, "trove collateral"); err != nil {
		return nil, withOp(op, err)
	}
	total, err := e.loadCollateralTotal(denom)
	if err != nil {
		return nil, err
	}
	if total.Total, err = checkedAdd(total.Total, amount, "collateral total"); err != nil {
		return nil, withOp(op, err)
	}
	price, err := e.quote(ctx, op, denom)
	if err != nil {
		return nil, err
	}
	if trove.ICR, err = TroveICR(trove.Collateral, trove.Debt, price.Price, price.Decimal); err != nil {
		return nil, withOp(op, err)
	}
	if err := e.requireBalance(op, denom, owner, amount); err != nil {
		return nil, err
	}

	if err := e.bank.Transfer(denom, owner, e.custody, amount); err != nil {
		return nil, err
	}
	trove.UpdatedAt = e.timestamp()
	if err := e.state.PutTrove(trove); err != nil {
		return nil, err
	}
	if err := e.state.PutCollateralTotal(total); err != nil {
		return nil, err
	}
	e.emitAdjusted(trove, "add_collateral", amount, 0)
	return trove.Clone(), nil
}

// RemoveCollateral releases collateral to owner provided the trove stays at or
// above the minimum collateral ratio.
func (e *Engine) RemoveCollateral(ctx context.Context, owner crypto.Address, amount uint64) (*Trove, error) {
	const op = "remove_collateral"
	if err := e.begin(op, true); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, newError(KindInvalidAmount, op, "amount must be positive")
	}
	trove, err := e.loadActiveTrove(op, owner)
	if err != nil {
		return nil, err
	}
	if amount > trove.Collateral {
		return nil, newError(KindInsufficientCollateral, op, "requested %d, trove holds %d", amount, trove.Collateral)
	}
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	trove.Collateral -= amount
	price, err := e.quote(ctx, op, trove.Denom)
	if err != nil {
		return nil, err
	}
	if trove.ICR, err = TroveICR(trove.Collateral, trove.Debt, price.Price, price.Decimal); err != nil {
		return nil, withOp(op, err)
	}
	if trove.ICR < ledger.MinimumCollateralRatio {
		return nil, newError(KindInsufficientCollateral, op, "icr %d below minimum %d", trove.ICR, ledger.MinimumCollateralRatio)
	}
	total, err := e.loadCollateralTotal(trove.Denom)
	if err != nil {
		return nil, err
	}
	if total.Total < amount {
		return nil, newError(KindInsufficientCollateral, op, "collateral total %d below %d", total.Total, amount)
	}
	total.Total -= amount

	if err := e.bank.Transfer(trove.Denom, e.custody, owner, amount); err != nil {
		return nil, err
	}
	trove.UpdatedAt = e.timestamp()
	if err := e.state.PutTrove(trove); err != nil {
		return nil, err
	}
	if err := e.state.PutCollateralTotal(total); err != nil {
		return nil, err
	}
	e.emitAdjusted(trove, "remove_collateral", amount, 0)
	return trove.Clone(), nil
}

// Borrow mints additional stable tokens against an existing trove.
func (e *Engine) Borrow(ctx context.Context, owner crypto.Address, amount uint64) (*Trove, error) {
	const op = "borrow"
	if err := e.begin(op, true); err != nil {
		return nil, err
	}
	if amount == 0 || amount < e.params.MinimumLoanAmount {
		return nil, newError(KindInvalidAmount, op, "amount %d below minimum %d", amount, e.params.MinimumLoanAmount)
	}
	trove, err := e.loadActiveTrove(op, owner)
	if err != nil {
		return nil, err
	}
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	if trove.Debt, err = checkedAdd(trove.Debt, amount, "trove debt"); err != nil {
		return nil, withOp(op, err)
	}
	if ledger.TotalDebt, err = checkedAdd(ledger.TotalDebt, amount, "total debt"); err != nil {
		return nil, withOp(op, err)
	}
	price, err := e.quote(ctx, op, trove.Denom)
	if err != nil {
		return nil, err
	}
	if trove.ICR, err = TroveICR(trove.Collateral, trove.Debt, price.Price, price.Decimal); err != nil {
		return nil, withOp(op, err)
	}
	if trove.ICR < ledger.MinimumCollateralRatio {
		return nil, newError(KindInsufficientCollateral, op, "icr %d below minimum %d", trove.ICR, ledger.MinimumCollateralRatio)
	}
	fee, err := e.planFee(op, amount, ledger.ProtocolFeePercent)
	if err != nil {
		return nil, err
	}

	if err := e.bank.Mint(e.params.StableDenom, owner, amount); err != nil {
		return nil, err
	}
	if err := e.chargeFee(owner, amount, ledger.ProtocolFeePercent, fee); err != nil {
		return nil, err
	}
	trove.UpdatedAt = e.timestamp()
	if err := e.state.PutTrove(trove); err != nil {
		return nil, err
	}
	if err := e.state.PutLedger(ledger); err != nil {
		return nil, err
	}
	e.emitAdjusted(trove, "borrow", amount, fee.Fee)
	return trove.Clone(), nil
}

// Repay burns stable tokens from owner against the trove's debt. Repaying the
// full debt closes the trove and returns all collateral.
func (e *Engine) Repay(ctx context.Context, owner crypto.Address, amount uint64) (*Trove, error) {
	const op = "repay"
	if err := e.begin(op, true); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, newError(KindInvalidAmount, op, "amount must be positive")
	}
	trove, err := e.loadActiveTrove(op, owner)
	if err != nil {
		return nil, err
	}
	if amount > trove.Debt {
		return nil, newError(KindInvalidAmount, op, "repayment %d exceeds debt %d", amount, trove.Debt)
	}
	if amount == trove.Debt {
		return e.close(op, trove)
	}
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	if ledger.TotalDebt < amount {
		return nil, newError(KindInvalidAmount, op, "total debt %d below repayment %d", ledger.TotalDebt, amount)
	}
	ledger.TotalDebt -= amount
	trove.Debt -= amount
	price, err := e.quote(ctx, op, trove.Denom)
	if err != nil {
		return nil, err
	}
	if trove.ICR, err = TroveICR(trove.Collateral, trove.Debt, price.Price, price.Decimal); err != nil {
		return nil, withOp(op, err)
	}
	if err := e.requireBalance(op, e.params.StableDenom, owner, amount); err != nil {
		return nil, err
	}

	if err := e.bank.Burn(e.params.StableDenom, owner, amount); err != nil {
		return nil, err
	}
	trove.UpdatedAt = e.timestamp()
	if err := e.state.PutTrove(trove); err != nil {
		return nil, err
	}
	if err := e.state.PutLedger(ledger); err != nil {
		return nil, err
	}
	e.emitAdjusted(trove, "repay", amount, 0)
	return trove.Clone(), nil
}

// CloseTrove repays the full outstanding debt and returns all collateral.
func (e *Engine) CloseTrove(ctx context.Context, owner crypto.Address) (*Trove, error) {
	const op = "close_trove"
	if err := e.begin(op, true); err != nil {
		return nil, err
	}
	trove, err := e.loadActiveTrove(op, owner)
	if err != nil {
		return nil, err
	}
	return e.close(op, trove)
}

func (e *Engine) close(op string, trove *Trove) (*Trove, error) {
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	if ledger.TotalDebt < trove.Debt {
		return nil, newError(KindInvalidAmount, op, "total debt %d below trove debt %d", ledger.TotalDebt, trove.Debt)
	}
	total, err := e.loadCollateralTotal(trove.Denom)
	if err != nil {
		return nil, err
	}
	if total.Total < trove.Collateral {
		return nil, newError(KindInsufficientCollateral, op, "collateral total %d below %d", total.Total, trove.Collateral)
	}
	if err := e.requireBalance(op, e.params.StableDenom, trove.Owner, trove.Debt); err != nil {
		return nil, err
	}
	repaid, returned := trove.Debt, trove.Collateral
	ledger.TotalDebt -= repaid
	total.Total -= returned

	if err := e.bank.Burn(e.params.StableDenom, trove.Owner, repaid); err != nil {
		return nil, err
	}
	if returned > 0 {
		if err := e.bank.Transfer(trove.Denom, e.custody, trove.Owner, returned); err != nil {
			return nil, err
		}
	}
	trove.Debt = 0
	trove.Collateral = 0
	trove.ICR = 0
	trove.Active = false
	trove.UpdatedAt = e.timestamp()
	if err := e.state.PutTrove(trove); err != nil {
		return nil, err
	}
	if err := e.state.PutCollateralTotal(total); err != nil {
		return nil, err
	}
	if err := e.state.PutLedger(ledger); err != nil {
		return nil, err
	}
	e.emit(events.TroveClosed{Owner: trove.Owner, Denom: trove.Denom, DebtRepaid: repaid, CollateralReturned: returned})
	e.logger.Info("trove closed", "owner", trove.Owner.String(), "denom", trove.Denom, "repaid", repaid, "returned", returned)
	return trove.Clone(), nil
}

func (e *Engine) emitAdjusted(trove *Trove, action string, amount, fee uint64) {
	e.emit(events.TroveAdjusted{
		Owner:      trove.Owner,
		Action:     action,
		Denom:      trove.Denom,
		Amount:     amount,
		Fee:        fee,
		Collateral: trove.Collateral,
		Debt:       trove.Debt,
		ICR:        trove.ICR,
	})
}
