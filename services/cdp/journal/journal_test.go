package journal

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"aerocdp/core/events"
	"aerocdp/crypto"
	"aerocdp/native/oracle"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	j, err := Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

type untyped struct{}

func (untyped) EventType() string { return "untyped" }

func TestJournalEvents(t *testing.T) {
	ctx := context.Background()
	j := openTest(t)
	owner := crypto.ModuleAddress("owner")

	j.Emit(events.TroveOpened{Owner: owner, Denom: "ATOM", Collateral: 10, Debt: 5})
	j.Emit(untyped{})
	j.Emit(events.StabilityStaked{Owner: owner, Amount: 7, Deposit: 7})

	all, err := j.Events(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, events.TypeTroveOpened, all[0].Type)
	require.Contains(t, all[0].Attributes, `"denom":"atom"`)
	require.NotEmpty(t, all[0].EventID)

	after, err := j.Events(ctx, "", all[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, events.TypeStabilityStaked, after[0].Type)

	filtered, err := j.Events(ctx, events.TypeTroveOpened, 0, 10)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
}

func TestJournalRecordsFeedPrices(t *testing.T) {
	ctx := context.Background()
	j := openTest(t)
	feed := oracle.NewFeed(0)
	feed.SetRecorder(j)

	require.NoError(t, feed.Set(ctx, oracle.PriceData{Denom: "atom", Price: 9, Decimal: 1, Timestamp: 1}))
	require.NoError(t, feed.Set(ctx, oracle.PriceData{Denom: "atom", Price: 11, Decimal: 1, Timestamp: 2}))

	prices, err := j.Prices(ctx, "ATOM", 10)
	require.NoError(t, err)
	require.Len(t, prices, 2)
	require.Equal(t, uint64(11), prices[0].Price)
}

func TestJournalIdempotency(t *testing.T) {
	ctx := context.Background()
	j := openTest(t)
	digest := Digest("post", "/v1/troves/open", []byte(`{"collateral":"1"}`))
	require.Len(t, digest, 64)
	require.NotEqual(t, digest, Digest("POST", "/v1/troves/open", []byte(`{"collateral":"2"}`)))

	missing, err := j.Lookup(ctx, "k1", digest)
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, j.Remember(ctx, &IdempotencyRecord{Key: "k1", Digest: digest, Status: 200, Response: `{"ok":true}`}))
	found, err := j.Lookup(ctx, "k1", digest)
	require.NoError(t, err)
	require.Equal(t, 200, found.Status)
	require.NotEmpty(t, found.RequestID)

	_, err = j.Lookup(ctx, "k1", "other")
	require.ErrorIs(t, err, ErrDigestMismatch)

	_, err = Open("mysql", "x")
	require.Error(t, err)
}
