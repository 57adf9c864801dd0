package cdp

import (
	"context"
	"math/big"

	"aerocdp/core/events"
	"aerocdp/crypto"
)

type epochSum struct {
	denom string
	epoch uint64
	sum   *big.Int
}

type absorbed struct {
	trove      *Trove
	debt       uint64
	collateral uint64
	icr        uint64
	epoch      uint64
	p          string
}

// poolPlan accumulates the effect of one or more liquidations on a working
// copy of the pool so nothing is written until every trove has been absorbed.
type poolPlan struct {
	engine   *Engine
	ledger   *GlobalLedger
	accs     map[string]*DenomAccumulator
	totals   map[string]*CollateralTotal
	archives []epochSum
	absorbed []absorbed
	burned   uint64
	depleted []uint64
}

func (e *Engine) newPoolPlan(ledger *GlobalLedger) *poolPlan {
	return &poolPlan{
		engine: e,
		ledger: ledger,
		accs:   make(map[string]*DenomAccumulator),
		totals: make(map[string]*CollateralTotal),
	}
}

// accumulator returns the working accumulator for denom rolled forward to the
// ledger epoch. The final S of a closed epoch is archived before the reset.
func (p *poolPlan) accumulator(denom string) (*DenomAccumulator, error) {
	acc, ok := p.accs[denom]
	if !ok {
		stored, err := p.engine.state.GetAccumulator(denom)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			acc = &DenomAccumulator{Denom: denom, Epoch: p.ledger.Epoch, S: new(big.Int)}
		} else {
			acc = &DenomAccumulator{Denom: denom, Epoch: stored.Epoch, S: new(big.Int)}
			if stored.S != nil {
				acc.S.Set(stored.S)
			}
		}
		p.accs[denom] = acc
	}
	if acc.Epoch != p.ledger.Epoch {
		if acc.S.Sign() > 0 {
			p.archives = append(p.archives, epochSum{denom: denom, epoch: acc.Epoch, sum: new(big.Int).Set(acc.S)})
		}
		acc.Epoch = p.ledger.Epoch
		acc.S = new(big.Int)
	}
	return acc, nil
}

func (p *poolPlan) collateralTotal(denom string) (*CollateralTotal, error) {
	if total, ok := p.totals[denom]; ok {
		return total, nil
	}
	total, err := p.engine.loadCollateralTotal(denom)
	if err != nil {
		return nil, err
	}
	p.totals[denom] = total
	return total, nil
}

// absorb offsets the trove's debt against the stability pool and distributes its
// collateral to depositors through the S accumulator.
func (p *poolPlan) absorb(op string, trove *Trove, icr uint64) error {
	ledger := p.ledger
	debt, seized := trove.Debt, trove.Collateral
	if ledger.TotalStake < debt {
		return newError(KindInsufficientFunds, op, "stability pool holds %d, trove %s owes %d", ledger.TotalStake, trove.Owner, debt)
	}
	if ledger.TotalDebt < debt {
		return newError(KindInvalidAmount, op, "total debt %d below trove debt %d", ledger.TotalDebt, debt)
	}
	stake := ledger.TotalStake
	depleted := stake == debt
	var next *big.Int
	if !depleted {
		// A remainder too small to keep P positive cannot be tracked by any
		// depositor, so the absorption is refused rather than treated as depletion.
		next = nextProduct(ledger.P, stake, debt)
		if next.Sign() == 0 {
			return newError(KindOverflow, op, "pool product underflows absorbing debt %d from stake %d", debt, stake)
		}
	}
	acc, err := p.accumulator(trove.Denom)
	if err != nil {
		return err
	}
	total, err := p.collateralTotal(trove.Denom)
	if err != nil {
		return err
	}
	if total.Vault, err = checkedAdd(total.Vault, seized, "collateral vault"); err != nil {
		return withOp(op, err)
	}
	if total.Vault > total.Total {
		return newError(KindInsufficientCollateral, op, "vault %d exceeds collateral total %d", total.Vault, total.Total)
	}
	acc.S.Add(acc.S, sumIncrement(seized, ledger.P, stake))
	epoch := ledger.Epoch

	ledger.TotalStake -= debt
	ledger.TotalDebt -= debt
	if depleted {
		ledger.P = new(big.Int).Set(scaleFactor)
		ledger.Epoch++
		p.depleted = append(p.depleted, ledger.Epoch)
	} else {
		ledger.P = next
	}
	if p.burned, err = checkedAdd(p.burned, debt, "burned stable"); err != nil {
		return withOp(op, err)
	}

	trove.Debt = 0
	trove.Collateral = 0
	trove.ICR = 0
	trove.Active = false
	trove.UpdatedAt = p.engine.timestamp()
	p.absorbed = append(p.absorbed, absorbed{
		trove:      trove,
		debt:       debt,
		collateral: seized,
		icr:        icr,
		epoch:      epoch,
		p:          ledger.P.String(),
	})
	return nil
}

func (p *poolPlan) commit(op string) error {
	e := p.engine
	if p.burned > 0 {
		if err := e.requireBalance(op, e.params.StableDenom, e.poolVault, p.burned); err != nil {
			return err
		}
		if err := e.bank.Burn(e.params.StableDenom, e.poolVault, p.burned); err != nil {
			return err
		}
	}
	for _, archived := range p.archives {
		if err := e.state.PutEpochSum(archived.denom, archived.epoch, archived.sum); err != nil {
			return err
		}
	}
	for _, acc := range p.accs {
		if err := e.state.PutAccumulator(acc); err != nil {
			return err
		}
	}
	for _, total := range p.totals {
		if err := e.state.PutCollateralTotal(total); err != nil {
			return err
		}
	}
	for _, item := range p.absorbed {
		if err := e.state.PutTrove(item.trove); err != nil {
			return err
		}
	}
	if err := e.state.PutLedger(p.ledger); err != nil {
		return err
	}
	for _, item := range p.absorbed {
		e.emit(events.TroveLiquidated{
			Owner:      item.trove.Owner,
			Denom:      item.trove.Denom,
			Debt:       item.debt,
			Collateral: item.collateral,
			ICR:        item.icr,
			Epoch:      item.epoch,
			P:          item.p,
		})
		e.logger.Info("trove liquidated", "owner", item.trove.Owner.String(), "denom", item.trove.Denom, "debt", item.debt, "collateral", item.collateral, "icr", item.icr)
	}
	for _, epoch := range p.depleted {
		e.emit(events.PoolDepleted{Epoch: epoch})
		e.logger.Warn("stability pool depleted", "epoch", epoch)
	}
	return nil
}

// Liquidate absorbs a single trove whose ICR has fallen below the minimum
// collateral ratio.
func (e *Engine) Liquidate(ctx context.Context, owner crypto.Address) (*LiquidationReport, error) {
	const op = "liquidate"
	if err := e.begin(op, true); err != nil {
		return nil, err
	}
	trove, err := e.loadActiveTrove(op, owner)
	if err != nil {
		return nil, err
	}
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	price, err := e.quote(ctx, op, trove.Denom)
	if err != nil {
		return nil, err
	}
	icr, err := TroveICR(trove.Collateral, trove.Debt, price.Price, price.Decimal)
	if err != nil {
		return nil, withOp(op, err)
	}
	if icr >= ledger.MinimumCollateralRatio {
		return nil, newError(KindNotLiquidatable, op, "icr %d at or above minimum %d", icr, ledger.MinimumCollateralRatio)
	}
	plan := e.newPoolPlan(ledger)
	if err := plan.absorb(op, trove, icr); err != nil {
		return nil, err
	}
	if err := plan.commit(op); err != nil {
		return nil, err
	}
	return plan.report(trove.Denom), nil
}

// LiquidateBatch walks a caller-supplied list of troves sorted by ascending ICR
// and liquidates the prefix below the minimum collateral ratio. Entries of other
// denoms are skipped. The list is validated in full against a single price
// before anything is written; a list with no eligible trove is not an error.
func (e *Engine) LiquidateBatch(ctx context.Context, denom string, owners []crypto.Address) (*LiquidationReport, error) {
	const op = "liquidate_batch"
	if err := e.begin(op, true); err != nil {
		return nil, err
	}
	denom = normalizeDenom(denom)
	if !e.params.SupportsDenom(denom) {
		return nil, newError(KindUnsupportedDenom, op, "%q", denom)
	}
	if len(owners) > e.params.MaxLiquidationBatch {
		return nil, newError(KindInvalidAmount, op, "batch of %d exceeds limit %d", len(owners), e.params.MaxLiquidationBatch)
	}
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	plan := e.newPoolPlan(ledger)
	troves, err := e.loadCandidates(op, owners, denom)
	if err != nil {
		return nil, err
	}
	if len(troves) == 0 {
		return plan.report(denom), nil
	}
	price, err := e.quote(ctx, op, denom)
	if err != nil {
		return nil, err
	}
	ranked, eligible, err := rankCandidates(op, troves, price.Price, price.Decimal, ledger.MinimumCollateralRatio)
	if err != nil {
		return nil, err
	}
	for _, c := range ranked[:eligible] {
		if err := plan.absorb(op, c.trove, c.icr); err != nil {
			return nil, err
		}
	}
	if eligible == 0 {
		return plan.report(denom), nil
	}
	if err := plan.commit(op); err != nil {
		return nil, err
	}
	report := plan.report(denom)
	e.emit(events.LiquidationBatch{
		Denom:           denom,
		Processed:       report.Processed(),
		TotalDebt:       report.TotalDebt,
		TotalCollateral: report.TotalCollateral,
	})
	return report, nil
}

func (p *poolPlan) report(denom string) *LiquidationReport {
	report := &LiquidationReport{Denom: denom, ByDenom: make(map[string]uint64)}
	for _, item := range p.absorbed {
		report.Liquidated = append(report.Liquidated, item.trove.Owner)
		report.TotalDebt += item.debt
		report.TotalCollateral += item.collateral
		report.ByDenom[item.trove.Denom] += item.collateral
	}
	return report
}
