package cdp

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"aerocdp/crypto"
)

func TestStakeAndUnstake(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x20)
	f.stake(t, owner, 100)

	ledger := f.ledger(t)
	if ledger.TotalStake != 100*unit {
		t.Fatalf("unexpected total stake %d", ledger.TotalStake)
	}
	if got := f.bank.balance("ausd", f.vault); got != 100*unit {
		t.Fatalf("unexpected vault balance %d", got)
	}

	deposit, err := f.engine.Unstake(owner, 40*unit)
	if err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if deposit.Amount != 60*unit {
		t.Fatalf("unexpected deposit %d", deposit.Amount)
	}
	if got := f.bank.balance("ausd", owner); got != 40*unit {
		t.Fatalf("unexpected owner balance %d", got)
	}
	if _, err := f.engine.Unstake(owner, 61*unit); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if _, err := f.engine.Unstake(makeAddress(crypto.AccountPrefix, 0x2F), 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds for unknown staker, got %v", err)
	}
	if _, err := f.engine.Stake(owner, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := f.engine.Stake(owner, 1_000*unit); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	position, err := f.engine.StakePosition(owner)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.Compounded != 60*unit || position.Share.Cmp(scaleFactor) != 0 {
		t.Fatalf("unexpected position %+v", position)
	}
}

func TestStakeRejectsUninitializedDeposit(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x21)
	f.bank.Mint("ausd", owner, 10*unit)

	f.state.deposits[f.state.key(owner)] = &StabilityDeposit{Owner: owner, Amount: 5 * unit, PSnapshot: new(big.Int)}
	if _, err := f.engine.Stake(owner, unit); !errors.Is(err, ErrUninitializedDeposit) {
		t.Fatalf("expected uninitialized deposit, got %v", err)
	}
	f.state.deposits[f.state.key(owner)] = &StabilityDeposit{Owner: owner, Amount: 5 * unit}
	if _, err := f.engine.Unstake(owner, unit); !errors.Is(err, ErrUninitializedDeposit) {
		t.Fatalf("expected uninitialized deposit, got %v", err)
	}
	if _, err := f.engine.WithdrawGains(owner, "atom"); !errors.Is(err, ErrUninitializedDeposit) {
		t.Fatalf("expected uninitialized deposit, got %v", err)
	}
	if f.bank.balance("ausd", owner) != 10*unit {
		t.Fatalf("rejected stake must not move funds")
	}
}

func TestStakeSettlesGainsOfRetiredDenom(t *testing.T) {
	f := newFixture(t)
	s1 := makeAddress(crypto.AccountPrefix, 0x61)
	s2 := makeAddress(crypto.AccountPrefix, 0x62)
	borrower := makeAddress(crypto.AccountPrefix, 0x63)
	f.stake(t, s1, 100)
	f.stake(t, s2, 100)
	f.openTrove(t, borrower, "atom", 120, 100)
	f.setPrice(t, "atom", 9)
	if _, err := f.engine.Liquidate(context.Background(), borrower); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	params := testParams()
	params.CollateralDenoms = []string{"osmo"}
	if err := f.engine.UpdateParams(params); err != nil {
		t.Fatalf("update params: %v", err)
	}
	f.stake(t, s1, 20)

	pending, err := f.engine.PendingGain(s1, "atom")
	if err != nil || pending != 60 {
		t.Fatalf("restake must settle the retired denom: %d, %v", pending, err)
	}
	g1, err := f.engine.WithdrawGains(s1, "atom")
	if err != nil || g1 != 60 {
		t.Fatalf("unexpected s1 gain %d, %v", g1, err)
	}
	g2, err := f.engine.WithdrawGains(s2, "atom")
	if err != nil || g2 != 60 {
		t.Fatalf("unexpected s2 gain %d, %v", g2, err)
	}
	if got := f.state.totals["atom"]; got == nil || got.Vault != 0 {
		t.Fatalf("expected an empty atom vault, got %+v", got)
	}
}
