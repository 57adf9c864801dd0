package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"aerocdp/core/events"
	"aerocdp/core/state"
	"aerocdp/crypto"
	"aerocdp/native/cdp"
	"aerocdp/native/fees"
	"aerocdp/native/oracle"
	"aerocdp/storage"
)

const unit uint64 = 1_000_000_000_000

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

func addr(suffix byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

type harness struct {
	svc  *Service
	sink *recorder
	fee1 crypto.Address
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	feed := oracle.NewFeed(0)
	params := cdp.DefaultParams()
	params.MinimumLoanAmount = 1
	params.CollateralDenoms = []string{"atom"}
	routing := fees.Routing{FeeAddress1: addr(0xF1), FeeAddress2: addr(0xF2)}
	sink := &recorder{}
	svc, err := New(state.NewManager(db), feed, params, routing, WithSink(sink))
	require.NoError(t, err)
	require.NoError(t, svc.SetPrice(context.Background(), oracle.PriceData{Denom: "atom", Price: 10, Decimal: 1, Timestamp: 1}))
	return &harness{svc: svc, sink: sink, fee1: routing.FeeAddress1}
}

func (h *harness) open(t *testing.T, owner crypto.Address, collateral, k uint64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.svc.Credit(ctx, "atom", owner, collateral))
	_, err := h.svc.OpenTrove(ctx, owner, "atom", collateral, k*unit)
	require.NoError(t, err)
}

func TestServiceCommitsAndDiscards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := addr(1)
	h.open(t, alice, 200, 100)

	balance, err := h.svc.Balance("ausd", alice)
	require.NoError(t, err)
	require.Equal(t, 95*unit, balance)
	fee, err := h.svc.Balance("ausd", h.fee1)
	require.NoError(t, err)
	require.Equal(t, 5*unit/2, fee)

	_, err = h.svc.OpenTrove(ctx, alice, "atom", 1, unit)
	require.ErrorIs(t, err, cdp.ErrTroveExists)
	require.Equal(t, 1, h.sink.count(events.TypeTroveOpened))

	// The failed borrow must leave no partial effects behind.
	_, err = h.svc.Borrow(ctx, alice, 100*unit)
	require.ErrorIs(t, err, cdp.ErrInsufficientCollateral)
	trove, err := h.svc.Trove(alice)
	require.NoError(t, err)
	require.Equal(t, 100*unit, trove.Debt)
	balance, err = h.svc.Balance("ausd", alice)
	require.NoError(t, err)
	require.Equal(t, 95*unit, balance)

	icr, err := h.svc.CurrentICR(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(200_000_000), icr)

	require.ErrorIs(t, h.svc.Credit(ctx, "ausd", alice, 1), cdp.ErrUnsupportedDenom)
}

func TestServiceSortAndLiquidate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice, bob, carol := addr(1), addr(2), addr(3)
	h.open(t, alice, 200, 100)
	h.open(t, bob, 150, 100)
	h.open(t, carol, 1_000, 200)
	_, err := h.svc.Stake(ctx, carol, 150*unit)
	require.NoError(t, err)

	ranked, err := h.svc.SortedTroves(ctx, "ATOM", 0)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	require.True(t, ranked[0].Owner.Equal(bob))
	require.True(t, ranked[1].Owner.Equal(alice))
	require.Equal(t, uint64(150_000_000), ranked[0].ICR)

	require.NoError(t, h.svc.SetPrice(ctx, oracle.PriceData{Denom: "atom", Price: 7, Decimal: 1, Timestamp: 2}))
	report, err := h.svc.LiquidateSorted(ctx, "atom")
	require.NoError(t, err)
	require.Equal(t, 1, report.Processed())
	require.True(t, report.Liquidated[0].Equal(bob))
	require.Equal(t, 100*unit, report.TotalDebt)
	require.Equal(t, 1, h.sink.count(events.TypeLiquidationBatch))

	totals, err := h.svc.Totals()
	require.NoError(t, err)
	require.Equal(t, 300*unit, totals.TotalDebt)
	require.Equal(t, 50*unit, totals.TotalStake)

	gain, err := h.svc.PendingGain(carol, "atom")
	require.NoError(t, err)
	require.Equal(t, uint64(150), gain)
	paid, err := h.svc.WithdrawGains(ctx, carol, "atom")
	require.NoError(t, err)
	require.Equal(t, uint64(150), paid)

	hints, err := h.svc.RedemptionHints(ctx, "atom", 50*unit)
	require.NoError(t, err)
	require.Len(t, hints, 1)
	require.True(t, hints[0].Equal(alice))

	h.svc.SetPaused("cdp.redeem", true)
	_, err = h.svc.Redeem(ctx, carol, "atom", 10*unit, hints)
	require.ErrorIs(t, err, cdp.ErrPaused)
	h.svc.SetPaused("cdp.redeem", false)
	redemption, err := h.svc.Redeem(ctx, carol, "atom", 10*unit, hints)
	require.NoError(t, err)
	require.Equal(t, 19*unit/2, redemption.Net)
}

func TestServiceUpdateParams(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	params := h.svc.Params()
	params.MinimumCollateralRatio = 150_000_000
	require.NoError(t, h.svc.UpdateParams(ctx, params))
	require.Equal(t, uint64(150_000_000), h.svc.Params().MinimumCollateralRatio)

	totals, err := h.svc.Totals()
	require.NoError(t, err)
	require.Equal(t, uint64(150_000_000), totals.MinimumCollateralRatio)

	params.MinimumCollateralRatio = 50_000_000
	require.ErrorIs(t, h.svc.UpdateParams(ctx, params), cdp.ErrInvalidAmount)
}

var errDiskFull = errors.New("disk full")

// flakyDB fails batch writes while failing is set.
type flakyDB struct {
	*storage.MemDB
	failing atomic.Bool
}

func (db *flakyDB) NewBatch() storage.Batch {
	return &flakyBatch{Batch: db.MemDB.NewBatch(), db: db}
}

type flakyBatch struct {
	storage.Batch
	db *flakyDB
}

func (b *flakyBatch) Write() error {
	if b.db.failing.Load() {
		return errDiskFull
	}
	return b.Batch.Write()
}

func TestServiceUpdateParamsKeepsPreviousOnCommitFailure(t *testing.T) {
	ctx := context.Background()
	db := &flakyDB{MemDB: storage.NewMemDB()}
	t.Cleanup(db.Close)
	params := cdp.DefaultParams()
	params.MinimumLoanAmount = 1
	params.CollateralDenoms = []string{"atom"}
	routing := fees.Routing{FeeAddress1: addr(0xF1), FeeAddress2: addr(0xF2)}
	svc, err := New(state.NewManager(db), oracle.NewFeed(0), params, routing)
	require.NoError(t, err)

	before := svc.Params().MinimumCollateralRatio
	next := svc.Params()
	next.MinimumCollateralRatio = 200_000_000
	next.CollateralDenoms = []string{"atom", "osmo"}

	db.failing.Store(true)
	err = svc.UpdateParams(ctx, next)
	require.ErrorIs(t, err, errDiskFull)
	require.Equal(t, before, svc.Params().MinimumCollateralRatio)
	require.Equal(t, []string{"atom"}, svc.Params().CollateralDenoms)

	totals, err := svc.Totals()
	require.NoError(t, err)
	require.Equal(t, before, totals.MinimumCollateralRatio)

	db.failing.Store(false)
	require.NoError(t, svc.UpdateParams(ctx, next))
	require.Equal(t, uint64(200_000_000), svc.Params().MinimumCollateralRatio)
	require.Equal(t, []string{"atom", "osmo"}, svc.Params().CollateralDenoms)
}
