package cdp

import (
	"math/big"
	"sort"

	"aerocdp/core/events"
	"aerocdp/crypto"
)

// depositValue returns the compounded value of deposit under ledger. Deposits
// recorded before the last depletion are worth nothing.
func depositValue(deposit *StabilityDeposit, ledger *GlobalLedger) (uint64, error) {
	if deposit == nil {
		return 0, nil
	}
	if deposit.PSnapshot == nil || deposit.PSnapshot.Sign() <= 0 {
		return 0, newError(KindUninitializedDeposit, "", "%s", deposit.Owner)
	}
	if deposit.Amount == 0 || deposit.EpochSnapshot != ledger.Epoch {
		return 0, nil
	}
	return compounded(deposit.Amount, ledger.P, deposit.PSnapshot)
}

func (e *Engine) loadDeposit(owner crypto.Address) (*StabilityDeposit, error) {
	deposit, err := e.state.GetDeposit(owner)
	if err != nil {
		return nil, err
	}
	if deposit == nil {
		return nil, nil
	}
	deposit = deposit.Clone()
	if deposit.PSnapshot == nil || deposit.PSnapshot.Sign() <= 0 {
		return nil, newError(KindUninitializedDeposit, "", "%s", owner)
	}
	return deposit, nil
}

func (e *Engine) loadGainSnapshot(owner crypto.Address, denom string) (*GainSnapshot, error) {
	snap, err := e.state.GetGainSnapshot(owner, denom)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return &GainSnapshot{Owner: owner, Denom: denom, S: new(big.Int)}, nil
	}
	clone := *snap
	if snap.S != nil {
		clone.S = new(big.Int).Set(snap.S)
	} else {
		clone.S = new(big.Int)
	}
	return &clone, nil
}

// accruedGain returns the claimable gain in denom: pending settled gains plus
// what accrued since the snapshot within the deposit's epoch.
func (e *Engine) accruedGain(deposit *StabilityDeposit, owner crypto.Address, denom string) (uint64, *GainSnapshot, error) {
	snap, err := e.loadGainSnapshot(owner, denom)
	if err != nil {
		return 0, nil, err
	}
	if deposit == nil || deposit.Amount == 0 {
		return snap.Pending, snap, nil
	}
	base := new(big.Int)
	if snap.Initialized && snap.Epoch == deposit.EpochSnapshot {
		base = snap.S
	}
	sNow, err := e.sumAt(denom, deposit.EpochSnapshot)
	if err != nil {
		return 0, nil, err
	}
	fresh, err := collateralGain(deposit.Amount, sNow, base, deposit.PSnapshot)
	if err != nil {
		return 0, nil, err
	}
	total, err := checkedAdd(snap.Pending, fresh, "pending gain")
	if err != nil {
		return 0, nil, err
	}
	return total, snap, nil
}

// gainDenoms returns the accepted collateral denoms merged with every denom
// that has accrued gains, so retired denoms keep settling.
func (e *Engine) gainDenoms() ([]string, error) {
	stored, err := e.state.AccumulatorDenoms()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(e.params.CollateralDenoms)+len(stored))
	out := make([]string, 0, len(e.params.CollateralDenoms)+len(stored))
	for _, list := range [][]string{e.params.CollateralDenoms, stored} {
		for _, denom := range list {
			if !seen[denom] {
				seen[denom] = true
				out = append(out, denom)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// settlement moves accrued gains for every denom with an accumulator into
// Pending and re-snapshots S at the current epoch. It is computed before any
// write.
func (e *Engine) settlement(deposit *StabilityDeposit, owner crypto.Address, ledger *GlobalLedger) ([]*GainSnapshot, error) {
	denoms, err := e.gainDenoms()
	if err != nil {
		return nil, err
	}
	out := make([]*GainSnapshot, 0, len(denoms))
	for _, denom := range denoms {
		gain, snap, err := e.accruedGain(deposit, owner, denom)
		if err != nil {
			return nil, err
		}
		sNow, err := e.currentSum(denom, ledger.Epoch)
		if err != nil {
			return nil, err
		}
		snap.Pending = gain
		snap.S = sNow
		snap.Epoch = ledger.Epoch
		snap.Initialized = true
		out = append(out, snap)
	}
	return out, nil
}

func (e *Engine) putSnapshots(snaps []*GainSnapshot) error {
	for _, snap := range snaps {
		if err := e.state.PutGainSnapshot(snap); err != nil {
			return err
		}
	}
	return nil
}

// Stake moves amount stable tokens from owner into the stability pool. Any
// existing deposit is compounded first and collateral gains are settled.
func (e *Engine) Stake(owner crypto.Address, amount uint64) (*StabilityDeposit, error) {
	const op = "stake"
	if err := e.begin(op, true); err != nil {
		return nil, err
	}
	if owner.IsZero() {
		return nil, newError(KindUnauthorized, op, "owner required")
	}
	if amount == 0 || amount < e.params.MinimumLoanAmount {
		return nil, newError(KindInvalidAmount, op, "stake %d below minimum %d", amount, e.params.MinimumLoanAmount)
	}
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	deposit, err := e.loadDeposit(owner)
	if err != nil {
		return nil, withOp(op, err)
	}
	current, err := depositValue(deposit, ledger)
	if err != nil {
		return nil, withOp(op, err)
	}
	next, err := checkedAdd(current, amount, "deposit")
	if err != nil {
		return nil, withOp(op, err)
	}
	if ledger.TotalStake, err = checkedAdd(ledger.TotalStake, amount, "total stake"); err != nil {
		return nil, withOp(op, err)
	}
	snaps, err := e.settlement(deposit, owner, ledger)
	if err != nil {
		return nil, withOp(op, err)
	}
	if err := e.requireBalance(op, e.params.StableDenom, owner, amount); err != nil {
		return nil, err
	}

	if err := e.bank.Transfer(e.params.StableDenom, owner, e.poolVault, amount); err != nil {
		return nil, err
	}
	if err := e.putSnapshots(snaps); err != nil {
		return nil, err
	}
	updated := &StabilityDeposit{
		Owner:         owner,
		Amount:        next,
		PSnapshot:     new(big.Int).Set(ledger.P),
		EpochSnapshot: ledger.Epoch,
		LastUpdate:    e.timestamp(),
	}
	if err := e.state.PutDeposit(updated); err != nil {
		return nil, err
	}
	if err := e.state.PutLedger(ledger); err != nil {
		return nil, err
	}
	e.emit(events.StabilityStaked{Owner: owner, Amount: amount, Compounded: current, Deposit: next})
	return updated.Clone(), nil
}

// Unstake returns up to the compounded deposit value to owner.
func (e *Engine) Unstake(owner crypto.Address, amount uint64) (*StabilityDeposit, error) {
	const op = "unstake"
	if err := e.begin(op, true); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, newError(KindInvalidAmount, op, "amount must be positive")
	}
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	deposit, err := e.loadDeposit(owner)
	if err != nil {
		return nil, withOp(op, err)
	}
	if deposit == nil {
		return nil, newError(KindInsufficientFunds, op, "%s has no stability deposit", owner)
	}
	current, err := depositValue(deposit, ledger)
	if err != nil {
		return nil, withOp(op, err)
	}
	if amount > current {
		return nil, newError(KindInsufficientFunds, op, "requested %d, deposit worth %d", amount, current)
	}
	if amount > ledger.TotalStake {
		return nil, newError(KindInsufficientFunds, op, "requested %d, pool holds %d", amount, ledger.TotalStake)
	}
	ledger.TotalStake -= amount
	snaps, err := e.settlement(deposit, owner, ledger)
	if err != nil {
		return nil, withOp(op, err)
	}
	if err := e.requireBalance(op, e.params.StableDenom, e.poolVault, amount); err != nil {
		return nil, err
	}

	if err := e.bank.Transfer(e.params.StableDenom, e.poolVault, owner, amount); err != nil {
		return nil, err
	}
	if err := e.putSnapshots(snaps); err != nil {
		return nil, err
	}
	updated := &StabilityDeposit{
		Owner:         owner,
		Amount:        current - amount,
		PSnapshot:     new(big.Int).Set(ledger.P),
		EpochSnapshot: ledger.Epoch,
		LastUpdate:    e.timestamp(),
	}
	if err := e.state.PutDeposit(updated); err != nil {
		return nil, err
	}
	if err := e.state.PutLedger(ledger); err != nil {
		return nil, err
	}
	e.emit(events.StabilityUnstaked{Owner: owner, Amount: amount, Deposit: updated.Amount})
	return updated.Clone(), nil
}

// WithdrawGains pays owner's accumulated collateral gain in denom. A second
// call without an intervening liquidation pays nothing.
func (e *Engine) WithdrawGains(owner crypto.Address, denom string) (uint64, error) {
	const op = "withdraw_gains"
	if err := e.begin(op, true); err != nil {
		return 0, err
	}
	denom = normalizeDenom(denom)
	if denom == "" {
		return 0, newError(KindUnsupportedDenom, op, "denom required")
	}
	deposit, err := e.loadDeposit(owner)
	if err != nil {
		return 0, withOp(op, err)
	}
	gain, snap, err := e.accruedGain(deposit, owner, denom)
	if err != nil {
		return 0, withOp(op, err)
	}
	if gain == 0 {
		return 0, nil
	}
	total, err := e.loadCollateralTotal(denom)
	if err != nil {
		return 0, err
	}
	if total.Vault < gain || total.Total < gain {
		return 0, newError(KindInsufficientFunds, op, "vault holds %d %s, owed %d", total.Vault, denom, gain)
	}
	total.Vault -= gain
	total.Total -= gain
	if deposit != nil {
		sNow, err := e.sumAt(denom, deposit.EpochSnapshot)
		if err != nil {
			return 0, err
		}
		snap.S = sNow
		snap.Epoch = deposit.EpochSnapshot
	}
	snap.Pending = 0
	snap.Initialized = true

	if err := e.bank.Transfer(denom, e.custody, owner, gain); err != nil {
		return 0, err
	}
	if err := e.state.PutGainSnapshot(snap); err != nil {
		return 0, err
	}
	if err := e.state.PutCollateralTotal(total); err != nil {
		return 0, err
	}
	e.emit(events.GainsWithdrawn{Owner: owner, Denom: denom, Amount: gain})
	return gain, nil
}
