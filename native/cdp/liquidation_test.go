package cdp

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"aerocdp/core/events"
	"aerocdp/crypto"
)

func TestLiquidateDistributesToDepositors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	buffer := &events.Buffer{}
	f.engine.SetEmitter(buffer)

	s1 := makeAddress(crypto.AccountPrefix, 0x31)
	s2 := makeAddress(crypto.AccountPrefix, 0x32)
	borrower := makeAddress(crypto.AccountPrefix, 0x33)
	f.stake(t, s1, 150)
	f.stake(t, s2, 50)
	f.openTrove(t, borrower, "atom", 120, 100)

	if _, err := f.engine.Liquidate(ctx, borrower); !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("expected not liquidatable, got %v", err)
	}

	f.setPrice(t, "atom", 9)
	report, err := f.engine.Liquidate(ctx, borrower)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if report.Processed() != 1 || report.TotalDebt != 100*unit || report.TotalCollateral != 120 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.ByDenom["atom"] != 120 {
		t.Fatalf("unexpected denom breakdown %v", report.ByDenom)
	}

	ledger := f.ledger(t)
	if ledger.TotalStake != 100*unit || ledger.TotalDebt != 0 || ledger.Epoch != 0 {
		t.Fatalf("unexpected ledger %+v", ledger)
	}
	if ledger.P.Cmp(big.NewInt(500_000_000_000_000_000)) != 0 {
		t.Fatalf("unexpected product %s", ledger.P)
	}
	if got := f.bank.balance("ausd", f.vault); got != 100*unit {
		t.Fatalf("expected debt burned from the vault, got %d", got)
	}
	f.checkConsistency(t)

	p1, err := f.engine.StakePosition(s1)
	if err != nil {
		t.Fatalf("position s1: %v", err)
	}
	p2, err := f.engine.StakePosition(s2)
	if err != nil {
		t.Fatalf("position s2: %v", err)
	}
	if p1.Compounded != 75*unit || p2.Compounded != 25*unit {
		t.Fatalf("unexpected compounded deposits %d %d", p1.Compounded, p2.Compounded)
	}
	if p1.Compounded+p2.Compounded != ledger.TotalStake {
		t.Fatalf("compounded deposits do not sum to the pool")
	}

	g1, err := f.engine.WithdrawGains(s1, "atom")
	if err != nil || g1 != 90 {
		t.Fatalf("unexpected s1 gain %d, %v", g1, err)
	}
	again, err := f.engine.WithdrawGains(s1, "atom")
	if err != nil || again != 0 {
		t.Fatalf("second withdrawal must pay nothing, got %d, %v", again, err)
	}
	g2, err := f.engine.WithdrawGains(s2, "atom")
	if err != nil || g2 != 30 {
		t.Fatalf("unexpected s2 gain %d, %v", g2, err)
	}
	if f.bank.balance("atom", s1) != 90 || f.bank.balance("atom", s2) != 30 {
		t.Fatalf("gains not delivered")
	}
	if f.bank.balance("atom", f.custody) != 0 {
		t.Fatalf("custody should be empty")
	}
	f.checkConsistency(t)

	var liquidated int
	for _, evt := range buffer.Drain() {
		if evt.EventType() == events.TypeTroveLiquidated {
			liquidated++
		}
	}
	if liquidated != 1 {
		t.Fatalf("expected one liquidation event, got %d", liquidated)
	}
}

func TestStakeSettlesPendingGains(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s1 := makeAddress(crypto.AccountPrefix, 0x34)
	s2 := makeAddress(crypto.AccountPrefix, 0x35)
	borrower := makeAddress(crypto.AccountPrefix, 0x36)
	f.stake(t, s1, 150)
	f.stake(t, s2, 50)
	f.openTrove(t, borrower, "atom", 120, 100)
	f.setPrice(t, "atom", 9)
	if _, err := f.engine.Liquidate(ctx, borrower); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	f.stake(t, s1, 10)
	deposit := f.state.deposits[f.state.key(s1)]
	if deposit.Amount != 85*unit {
		t.Fatalf("expected compounded 75 plus 10, got %d", deposit.Amount)
	}
	pending, err := f.engine.PendingGain(s1, "atom")
	if err != nil || pending != 90 {
		t.Fatalf("settled gain lost on restake: %d, %v", pending, err)
	}
	if _, err := f.engine.Unstake(s1, 5*unit); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	gain, err := f.engine.WithdrawGains(s1, "atom")
	if err != nil || gain != 90 {
		t.Fatalf("unexpected gain %d, %v", gain, err)
	}
	if gain, _ := f.engine.WithdrawGains(s1, "atom"); gain != 0 {
		t.Fatalf("second withdrawal paid %d", gain)
	}
	f.checkConsistency(t)
}

func TestPoolDepletionStartsNewEpoch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s1 := makeAddress(crypto.AccountPrefix, 0x41)
	s2 := makeAddress(crypto.AccountPrefix, 0x42)
	b1 := makeAddress(crypto.AccountPrefix, 0x43)
	b2 := makeAddress(crypto.AccountPrefix, 0x44)
	f.stake(t, s1, 100)
	f.openTrove(t, b1, "atom", 120, 100)
	f.openTrove(t, b2, "atom", 300, 100)

	f.setPrice(t, "atom", 9)
	if _, err := f.engine.Liquidate(ctx, b1); err != nil {
		t.Fatalf("liquidate b1: %v", err)
	}
	ledger := f.ledger(t)
	if ledger.Epoch != 1 || ledger.TotalStake != 0 || ledger.P.Cmp(scaleFactor) != 0 {
		t.Fatalf("expected reset pool, got %+v", ledger)
	}
	position, err := f.engine.StakePosition(s1)
	if err != nil || position.Compounded != 0 {
		t.Fatalf("depleted deposit should be worth nothing: %+v, %v", position, err)
	}
	if pending, _ := f.engine.PendingGain(s1, "atom"); pending != 120 {
		t.Fatalf("unexpected pending gain %d", pending)
	}

	f.setPrice(t, "atom", 3)
	if _, err := f.engine.Liquidate(ctx, b2); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient pool funds, got %v", err)
	}
	if trove := f.state.troves[f.state.key(b2)]; !trove.Active || trove.Debt != 100*unit {
		t.Fatalf("failed liquidation must leave the trove intact: %+v", trove)
	}

	f.stake(t, s2, 100)
	if _, err := f.engine.Liquidate(ctx, b2); err != nil {
		t.Fatalf("liquidate b2: %v", err)
	}
	if ledger := f.ledger(t); ledger.Epoch != 2 {
		t.Fatalf("expected epoch 2, got %d", ledger.Epoch)
	}
	if archived := f.state.sums["atom/0"]; archived == nil || archived.Cmp(big.NewInt(1_200_000)) != 0 {
		t.Fatalf("unexpected archived sum %v", archived)
	}

	g1, err := f.engine.WithdrawGains(s1, "atom")
	if err != nil || g1 != 120 {
		t.Fatalf("unexpected s1 gain %d, %v", g1, err)
	}
	g2, err := f.engine.WithdrawGains(s2, "atom")
	if err != nil || g2 != 300 {
		t.Fatalf("unexpected s2 gain %d, %v", g2, err)
	}
	f.checkConsistency(t)

	f.stake(t, s1, 10)
	if deposit := f.state.deposits[f.state.key(s1)]; deposit.Amount != 10*unit || deposit.EpochSnapshot != 2 {
		t.Fatalf("restake after depletion should start fresh: %+v", deposit)
	}
}

func TestLiquidateBatchValidatesOrdering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	staker := makeAddress(crypto.AccountPrefix, 0x50)
	b0 := makeAddress(crypto.AccountPrefix, 0x55)
	b1 := makeAddress(crypto.AccountPrefix, 0x51)
	b2 := makeAddress(crypto.AccountPrefix, 0x52)
	b3 := makeAddress(crypto.AccountPrefix, 0x53)
	b4 := makeAddress(crypto.AccountPrefix, 0x54)
	f.stake(t, staker, 300)
	f.openTrove(t, b0, "atom", 116, 100)
	f.openTrove(t, b1, "atom", 120, 100)
	f.openTrove(t, b2, "atom", 130, 100)
	f.openTrove(t, b3, "atom", 200, 100)
	f.openTrove(t, b4, "osmo", 120, 100)
	f.setPrice(t, "atom", 9)

	// b1 at 108% followed by b0 at 104%.
	if _, err := f.engine.LiquidateBatch(ctx, "atom", []crypto.Address{b1, b0, b3}); !errors.Is(err, ErrInvalidOrdering) {
		t.Fatalf("expected invalid ordering, got %v", err)
	}
	// Scanning stops at a head above the threshold, so the order behind it is
	// never inspected.
	report, err := f.engine.LiquidateBatch(ctx, "atom", []crypto.Address{b2, b1, b3})
	if err != nil || report.Processed() != 0 {
		t.Fatalf("healthy head should end the batch with nothing processed: %+v, %v", report, err)
	}
	if _, err := f.engine.LiquidateBatch(ctx, "atom", []crypto.Address{b1, b1}); !errors.Is(err, ErrInvalidOrdering) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if _, err := f.engine.LiquidateBatch(ctx, "atom", []crypto.Address{b1, makeAddress(crypto.AccountPrefix, 0x5F)}); !errors.Is(err, ErrTroveNotFound) {
		t.Fatalf("expected trove not found, got %v", err)
	}
	if ledger := f.ledger(t); ledger.TotalDebt != 500*unit || ledger.TotalStake != 300*unit {
		t.Fatalf("rejected batch mutated the ledger: %+v", ledger)
	}

	report, err = f.engine.LiquidateBatch(ctx, "atom", []crypto.Address{b1, b4, b2, b3})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if report.Processed() != 1 || !report.Liquidated[0].Equal(b1) {
		t.Fatalf("unexpected report %+v", report)
	}
	if !f.state.troves[f.state.key(b2)].Active || !f.state.troves[f.state.key(b4)].Active {
		t.Fatalf("troves above the threshold or of another denom must survive")
	}

	report, err = f.engine.LiquidateBatch(ctx, "atom", []crypto.Address{b2, b3})
	if err != nil || report.Processed() != 0 {
		t.Fatalf("empty batch should succeed with nothing processed: %+v, %v", report, err)
	}
	if _, err := f.engine.LiquidateBatch(ctx, "atom", []crypto.Address{b1}); !errors.Is(err, ErrTroveInactive) {
		t.Fatalf("expected inactive trove, got %v", err)
	}
	f.checkConsistency(t)

	long := make([]crypto.Address, DefaultMaxLiquidationBatch+1)
	for i := range long {
		long[i] = makeAddress(crypto.AccountPrefix, byte(0x80+i))
	}
	if _, err := f.engine.LiquidateBatch(ctx, "atom", long); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected oversized batch rejection, got %v", err)
	}
}

func TestLiquidateBatchRejectsForgedRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	victim := makeAddress(crypto.AccountPrefix, 0x61)
	claimed := makeAddress(crypto.AccountPrefix, 0x62)
	f.state.troves[f.state.key(claimed)] = &Trove{Owner: victim, Denom: "atom", Collateral: 1, Debt: unit, Active: true}

	if _, err := f.engine.LiquidateBatch(ctx, "atom", []crypto.Address{claimed}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestLiquidateRejectsProductUnderflow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	staker := makeAddress(crypto.AccountPrefix, 0x71)
	borrower := makeAddress(crypto.AccountPrefix, 0x72)
	const stake uint64 = 2_000_000_000_000_000_000
	f.bank.Mint("ausd", staker, stake)
	if _, err := f.engine.Stake(staker, stake); err != nil {
		t.Fatalf("stake: %v", err)
	}
	// Leaves a single base unit in a pool of 2e18, which floors P to zero.
	f.bank.Mint("atom", borrower, 2_400_000)
	if _, err := f.engine.OpenTrove(ctx, borrower, "atom", 2_400_000, stake-1); err != nil {
		t.Fatalf("open trove: %v", err)
	}
	f.setPrice(t, "atom", 9)

	if _, err := f.engine.Liquidate(ctx, borrower); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected product underflow rejection, got %v", err)
	}
	ledger := f.ledger(t)
	if ledger.Epoch != 0 || ledger.TotalStake != stake || ledger.TotalDebt != stake-1 {
		t.Fatalf("rejected liquidation mutated the ledger: %+v", ledger)
	}
	if ledger.P.Cmp(scaleFactor) != 0 {
		t.Fatalf("unexpected product %s", ledger.P)
	}
	if trove := f.state.troves[f.state.key(borrower)]; !trove.Active || trove.Debt != stake-1 {
		t.Fatalf("trove must survive: %+v", trove)
	}
	f.checkConsistency(t)
}
