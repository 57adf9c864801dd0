package oracle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type stubSource struct {
	data PriceData
	err  error
}

func (s stubSource) Price(context.Context, string) (PriceData, error) { return s.data, s.err }

func TestFeedStaleness(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	feed := NewFeed(time.Minute)
	feed.SetClock(func() time.Time { return now })

	if err := feed.Set(context.Background(), PriceData{Denom: "INJ", Price: 2_500_000_000, Decimal: 18, Timestamp: now.Unix()}); err != nil {
		t.Fatalf("set: %v", err)
	}
	data, err := feed.Price(context.Background(), "inj")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if data.Denom != "inj" || data.Price != 2_500_000_000 {
		t.Fatalf("unexpected quote %+v", data)
	}

	now = now.Add(2 * time.Minute)
	if _, err := feed.Price(context.Background(), "inj"); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected stale price, got %v", err)
	}

	feed.SetMaxAge(0)
	if _, err := feed.Price(context.Background(), "inj"); err != nil {
		t.Fatalf("staleness disabled: %v", err)
	}
}

func TestFeedRejectsInvalidQuotes(t *testing.T) {
	feed := NewFeed(0)
	if err := feed.Set(context.Background(), PriceData{Denom: "sol", Price: 0, Decimal: 8}); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price, got %v", err)
	}
	if _, err := feed.Price(context.Background(), "sol"); !errors.Is(err, ErrUnknownDenom) {
		t.Fatalf("expected unknown denom, got %v", err)
	}
}

func TestFeedConfidence(t *testing.T) {
	feed := NewFeed(0)
	feed.SetMaxConfidenceBps(100)
	if err := feed.Set(context.Background(), PriceData{Denom: "sol", Price: 10_000, Confidence: 101, Decimal: 8}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := feed.Price(context.Background(), "sol"); !errors.Is(err, ErrLowConfidence) {
		t.Fatalf("expected low confidence, got %v", err)
	}
	if err := feed.Set(context.Background(), PriceData{Denom: "sol", Price: 10_000, Confidence: 100, Decimal: 8}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := feed.Price(context.Background(), "sol"); err != nil {
		t.Fatalf("confidence at bound should pass: %v", err)
	}
}

func TestAggregatorFallsBack(t *testing.T) {
	agg := NewAggregator()
	agg.Register("primary", stubSource{err: ErrStalePrice})
	agg.Register("secondary", stubSource{data: PriceData{Denom: "sol", Price: 5, Decimal: 2}})

	data, err := agg.Price(context.Background(), "sol")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if data.Price != 5 {
		t.Fatalf("expected secondary quote, got %+v", data)
	}

	agg = NewAggregator()
	agg.Register("primary", stubSource{err: ErrStalePrice})
	if _, err := agg.Price(context.Background(), "sol"); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected primary error, got %v", err)
	}
}

func TestSeedApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.yaml")
	body := "prices:\n  - denom: sol\n    price: 15000000000\n    decimal: 11\n  - denom: inj\n    price: 2500\n    decimal: 3\n    timestamp: 42\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	seed, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	feed := NewFeed(0)
	now := time.Unix(1_000, 0)
	if err := seed.Apply(context.Background(), feed, now); err != nil {
		t.Fatalf("apply: %v", err)
	}
	sol, err := feed.Price(context.Background(), "sol")
	if err != nil {
		t.Fatalf("sol: %v", err)
	}
	if sol.Timestamp != now.Unix() || sol.Decimal != 11 {
		t.Fatalf("unexpected sol quote %+v", sol)
	}
	inj, err := feed.Price(context.Background(), "inj")
	if err != nil {
		t.Fatalf("inj: %v", err)
	}
	if inj.Timestamp != 42 {
		t.Fatalf("expected explicit timestamp, got %d", inj.Timestamp)
	}
	if got := feed.Denoms(); len(got) != 2 || got[0] != "inj" {
		t.Fatalf("unexpected denoms %v", got)
	}
}
