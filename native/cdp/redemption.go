package cdp

import (
	"context"

	"aerocdp/core/events"
	"aerocdp/crypto"
)

type redemptionStep struct {
	trove *Trove
	leg   RedemptionLeg
}

// Redeem exchanges amount stable tokens for collateral of denom at the oracle
// price, drawing from the supplied troves in ascending ICR order. The protocol
// fee is taken from amount first and the remainder retires debt. The full plan
// is computed up front; if the listed troves cannot absorb the net amount the
// call fails without effects.
func (e *Engine) Redeem(ctx context.Context, redeemer crypto.Address, denom string, amount uint64, owners []crypto.Address) (*RedemptionReport, error) {
	const op = "redeem"
	if err := e.begin(op, true); err != nil {
		return nil, err
	}
	if redeemer.IsZero() {
		return nil, newError(KindUnauthorized, op, "redeemer required")
	}
	denom = normalizeDenom(denom)
	if !e.params.SupportsDenom(denom) {
		return nil, newError(KindUnsupportedDenom, op, "%q", denom)
	}
	if amount == 0 || amount < e.params.MinimumLoanAmount {
		return nil, newError(KindInvalidAmount, op, "redemption %d below minimum %d", amount, e.params.MinimumLoanAmount)
	}
	if len(owners) > e.params.MaxLiquidationBatch {
		return nil, newError(KindInvalidAmount, op, "list of %d exceeds limit %d", len(owners), e.params.MaxLiquidationBatch)
	}
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	fee, err := e.planFee(op, amount, ledger.ProtocolFeePercent)
	if err != nil {
		return nil, err
	}
	net := fee.Net
	if net > ledger.TotalDebt {
		return nil, newError(KindInsufficientCollateral, op, "net redemption %d exceeds total debt %d", net, ledger.TotalDebt)
	}
	if err := e.requireBalance(op, e.params.StableDenom, redeemer, amount); err != nil {
		return nil, err
	}
	troves, err := e.loadCandidates(op, owners, denom)
	if err != nil {
		return nil, err
	}
	var (
		ranked []candidate
		price  uint64
		dec    uint8
	)
	if len(troves) > 0 {
		quote, err := e.quote(ctx, op, denom)
		if err != nil {
			return nil, err
		}
		price, dec = quote.Price, quote.Decimal
		if ranked, _, err = rankCandidates(op, troves, price, dec, NoThreshold); err != nil {
			return nil, err
		}
	}
	total, err := e.loadCollateralTotal(denom)
	if err != nil {
		return nil, err
	}

	remaining := net
	var sent uint64
	steps := make([]redemptionStep, 0, len(ranked))
	for _, c := range ranked {
		if remaining == 0 {
			break
		}
		trove := c.trove.Clone()
		take := remaining
		if take > trove.Debt {
			take = trove.Debt
		}
		collateral, err := mulDiv(trove.Collateral, take, trove.Debt)
		if err != nil {
			return nil, withOp(op, err)
		}
		trove.Debt -= take
		trove.Collateral -= collateral
		remaining -= take
		if sent, err = checkedAdd(sent, collateral, "redeemed collateral"); err != nil {
			return nil, withOp(op, err)
		}
		step := redemptionStep{trove: trove, leg: RedemptionLeg{Owner: trove.Owner, Debt: take, Collateral: collateral}}
		if trove.Debt == 0 {
			// collateral*take/debt with take == debt releases everything.
			step.leg.Closed = true
			trove.ICR = 0
			trove.Active = false
		} else if trove.ICR, err = TroveICR(trove.Collateral, trove.Debt, price, dec); err != nil {
			return nil, withOp(op, err)
		}
		steps = append(steps, step)
	}
	if remaining > 0 {
		return nil, newError(KindInsufficientCollateral, op, "%d of %d left unredeemed after %d troves", remaining, net, len(steps))
	}
	if total.Total < sent {
		return nil, newError(KindInsufficientCollateral, op, "collateral total %d below %d", total.Total, sent)
	}
	total.Total -= sent
	ledger.TotalDebt -= net

	if err := e.chargeFee(redeemer, amount, ledger.ProtocolFeePercent, fee); err != nil {
		return nil, err
	}
	if net > 0 {
		if err := e.bank.Burn(e.params.StableDenom, redeemer, net); err != nil {
			return nil, err
		}
	}
	if sent > 0 {
		if err := e.bank.Transfer(denom, e.custody, redeemer, sent); err != nil {
			return nil, err
		}
	}
	report := &RedemptionReport{Denom: denom, Gross: amount, Fee: fee.Fee, Net: net, Collateral: sent}
	now := e.timestamp()
	for _, step := range steps {
		step.trove.UpdatedAt = now
		if err := e.state.PutTrove(step.trove); err != nil {
			return nil, err
		}
		report.Legs = append(report.Legs, step.leg)
	}
	if err := e.state.PutCollateralTotal(total); err != nil {
		return nil, err
	}
	if err := e.state.PutLedger(ledger); err != nil {
		return nil, err
	}
	e.emit(events.Redemption{
		Redeemer:   redeemer,
		Denom:      denom,
		Gross:      amount,
		Fee:        fee.Fee,
		Net:        net,
		Collateral: sent,
		Troves:     len(steps),
	})
	e.logger.Info("redemption", "redeemer", redeemer.String(), "denom", denom, "net", net, "collateral", sent, "troves", len(steps))
	return report, nil
}
