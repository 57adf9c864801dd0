package common

import (
	"errors"
	"testing"
)

func TestGuardAction(t *testing.T) {
	pauses := NewPauseSet("cdp.redeem")

	if err := GuardAction(pauses, "cdp", "stake"); err != nil {
		t.Fatalf("stake should not be paused: %v", err)
	}
	if err := GuardAction(pauses, "cdp", "redeem"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected redeem paused, got %v", err)
	}

	pauses.Set("CDP", true)
	if err := GuardAction(pauses, "cdp", "stake"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("module pause must cover every action, got %v", err)
	}

	pauses.Set("cdp", false)
	pauses.Set("cdp.redeem", false)
	if got := pauses.List(); len(got) != 0 {
		t.Fatalf("expected no pauses, got %v", got)
	}
}

func TestGuardNilView(t *testing.T) {
	if err := GuardAction(nil, "cdp", "stake"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	var set *PauseSet
	if set.IsPaused("cdp") {
		t.Fatalf("nil set reports nothing paused")
	}
}
