package cdp

import (
	"context"
	"errors"
	"testing"
	"time"

	"aerocdp/crypto"
	nativecommon "aerocdp/native/common"
)

func TestOpenTroveMintsAndChargesFee(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x10)

	trove := f.openTrove(t, owner, "atom", 200, 100)
	if trove.ICR != 200_000_000 {
		t.Fatalf("unexpected icr %d", trove.ICR)
	}
	if trove.Debt != 100*unit || trove.Collateral != 200 || !trove.Active {
		t.Fatalf("unexpected trove %+v", trove)
	}
	if got := f.bank.balance("ausd", owner); got != 95*unit {
		t.Fatalf("expected borrower to net 95 units, got %d", got)
	}
	if got := f.bank.balance("ausd", f.fee1); got != 5*unit/2 {
		t.Fatalf("unexpected fee1 balance %d", got)
	}
	if got := f.bank.balance("ausd", f.fee2); got != 5*unit/2 {
		t.Fatalf("unexpected fee2 balance %d", got)
	}
	if got := f.bank.balance("atom", f.custody); got != 200 {
		t.Fatalf("unexpected custody balance %d", got)
	}
	if ledger := f.ledger(t); ledger.TotalDebt != 100*unit {
		t.Fatalf("unexpected total debt %d", ledger.TotalDebt)
	}
	f.checkConsistency(t)
}

func TestOpenTroveValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x11)
	f.bank.Mint("atom", owner, 1_000)
	f.bank.Mint("btc", owner, 1_000)

	if _, err := f.engine.OpenTrove(ctx, owner, "atom", 114, 100*unit); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected insufficient collateral, got %v", err)
	}
	if _, err := f.engine.OpenTrove(ctx, owner, "btc", 500, 100*unit); !errors.Is(err, ErrUnsupportedDenom) {
		t.Fatalf("expected unsupported denom, got %v", err)
	}
	if _, err := f.engine.OpenTrove(ctx, owner, "atom", 0, 100*unit); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := f.engine.OpenTrove(ctx, owner, "atom", 2_000, 100*unit); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if _, err := f.engine.OpenTrove(ctx, owner, "ATOM", 115, 100*unit); err != nil {
		t.Fatalf("open at the minimum ratio: %v", err)
	}
	if _, err := f.engine.OpenTrove(ctx, owner, "atom", 300, 100*unit); !errors.Is(err, ErrTroveExists) {
		t.Fatalf("expected trove exists, got %v", err)
	}
	f.checkConsistency(t)
}

func TestOpenTroveRejectsBadPrices(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x12)
	f.bank.Mint("osmo", owner, 1_000)

	f.feed.Remove("osmo")
	if _, err := f.engine.OpenTrove(ctx, owner, "osmo", 500, 100*unit); !errors.Is(err, ErrPriceInvalid) {
		t.Fatalf("expected invalid price, got %v", err)
	}

	f.setPrice(t, "osmo", 10)
	f.feed.SetMaxAge(time.Minute)
	f.feed.SetClock(func() time.Time { return time.Unix(3_600, 0) })
	if _, err := f.engine.OpenTrove(ctx, owner, "osmo", 500, 100*unit); !errors.Is(err, ErrPriceStale) {
		t.Fatalf("expected stale price, got %v", err)
	}
	if f.bank.balance("osmo", owner) != 1_000 || f.bank.supply["ausd"] != 0 {
		t.Fatalf("failed open must not move funds")
	}
}

func TestRemoveCollateralEnforcesMinimumRatio(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x13)
	f.openTrove(t, owner, "atom", 200, 100)

	if _, err := f.engine.RemoveCollateral(ctx, owner, 86); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected insufficient collateral, got %v", err)
	}
	trove, err := f.engine.RemoveCollateral(ctx, owner, 85)
	if err != nil {
		t.Fatalf("remove down to the minimum: %v", err)
	}
	if trove.Collateral != 115 || trove.ICR != DefaultMinimumCollateralRatio {
		t.Fatalf("unexpected trove %+v", trove)
	}
	if got := f.bank.balance("atom", owner); got != 85 {
		t.Fatalf("unexpected owner collateral %d", got)
	}
	if _, err := f.engine.AddCollateral(ctx, owner, "osmo", 10); !errors.Is(err, ErrUnsupportedDenom) {
		t.Fatalf("expected denom mismatch, got %v", err)
	}
	trove, err = f.engine.AddCollateral(ctx, owner, "atom", 85)
	if err != nil {
		t.Fatalf("add collateral: %v", err)
	}
	if trove.Collateral != 200 || trove.ICR != 200_000_000 {
		t.Fatalf("unexpected trove after add %+v", trove)
	}
	f.checkConsistency(t)
}

func TestBorrowRepayAndClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x14)
	f.openTrove(t, owner, "atom", 300, 100)

	if _, err := f.engine.Borrow(ctx, owner, 200*unit); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected insufficient collateral, got %v", err)
	}
	trove, err := f.engine.Borrow(ctx, owner, 50*unit)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if trove.Debt != 150*unit || trove.ICR != 200_000_000 {
		t.Fatalf("unexpected trove %+v", trove)
	}
	if got := f.bank.balance("ausd", owner); got != 95*unit+475*unit/10 {
		t.Fatalf("unexpected borrower balance %d", got)
	}

	if _, err := f.engine.Repay(ctx, owner, 151*unit); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	trove, err = f.engine.Repay(ctx, owner, 50*unit)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if trove.Debt != 100*unit || trove.ICR != 300_000_000 {
		t.Fatalf("unexpected trove after repay %+v", trove)
	}

	if _, err := f.engine.CloseTrove(ctx, owner); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	f.bank.Mint("ausd", owner, 10*unit)
	trove, err = f.engine.Repay(ctx, owner, 100*unit)
	if err != nil {
		t.Fatalf("full repay: %v", err)
	}
	if trove.Active || trove.Debt != 0 || trove.Collateral != 0 {
		t.Fatalf("expected closed trove, got %+v", trove)
	}
	if got := f.bank.balance("atom", owner); got != 300 {
		t.Fatalf("expected collateral returned, got %d", got)
	}
	if _, err := f.engine.Repay(ctx, owner, 1); !errors.Is(err, ErrTroveInactive) {
		t.Fatalf("expected inactive trove, got %v", err)
	}
	if ledger := f.ledger(t); ledger.TotalDebt != 0 {
		t.Fatalf("unexpected total debt %d", ledger.TotalDebt)
	}
	f.checkConsistency(t)

	// A closed trove can be reopened.
	f.openTrove(t, owner, "osmo", 500, 100)
	f.checkConsistency(t)
}

func TestPausedActionsLeaveStateUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x15)
	f.bank.Mint("atom", owner, 500)

	pauses := nativecommon.NewPauseSet("cdp.open_trove")
	f.engine.SetPauses(pauses)
	_, err := f.engine.OpenTrove(ctx, owner, "atom", 200, 100*unit)
	if !errors.Is(err, ErrPaused) || !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	if f.bank.balance("atom", owner) != 500 || len(f.state.troves) != 0 {
		t.Fatalf("paused open must not mutate state")
	}

	pauses.Set("cdp.open_trove", false)
	f.openTrove(t, owner, "atom", 200, 100)

	pauses.Set("cdp", true)
	if _, err := f.engine.Borrow(ctx, owner, unit); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected module pause to block borrow, got %v", err)
	}
	if _, err := f.engine.Trove(owner); err != nil {
		t.Fatalf("queries must ignore pauses: %v", err)
	}
}
