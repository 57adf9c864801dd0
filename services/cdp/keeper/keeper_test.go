package keeper

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"aerocdp/core/state"
	"aerocdp/crypto"
	"aerocdp/native/cdp"
	"aerocdp/native/fees"
	"aerocdp/native/oracle"
	"aerocdp/services/cdp/engine"
	"aerocdp/storage"
)

const unit uint64 = 1_000_000_000_000

func addr(suffix byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func newService(t *testing.T) *engine.Service {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	params := cdp.DefaultParams()
	params.MinimumLoanAmount = 1
	params.CollateralDenoms = []string{"atom"}
	routing := fees.Routing{FeeAddress1: addr(0xF1), FeeAddress2: addr(0xF2)}
	svc, err := engine.New(state.NewManager(db), oracle.NewFeed(0), params, routing)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, svc.SetPrice(ctx, oracle.PriceData{Denom: "atom", Price: 10, Decimal: 1, Timestamp: 1}))
	for _, tc := range []struct {
		owner      crypto.Address
		collateral uint64
		k          uint64
	}{{addr(1), 200, 100}, {addr(2), 150, 100}, {addr(3), 1_000, 200}} {
		require.NoError(t, svc.Credit(ctx, "atom", tc.owner, tc.collateral))
		_, err := svc.OpenTrove(ctx, tc.owner, "atom", tc.collateral, tc.k*unit)
		require.NoError(t, err)
	}
	_, err = svc.Stake(ctx, addr(3), 150*unit)
	require.NoError(t, err)
	return svc
}

func dialBuffered(t *testing.T, svc *engine.Service, secret, token string) *Client {
	t.Helper()
	listener := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(New(svc), NewTokenAuthenticator(secret), nil)
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(srv.Stop)

	client, err := Dial("passthrough:///bufnet", token, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestKeeperSortsAndLiquidates(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	client := dialBuffered(t, svc, "keeper-secret", "keeper-secret")

	troves, err := client.SortedTroves(ctx, "atom", 0)
	require.NoError(t, err)
	require.Len(t, troves, 3)
	require.Equal(t, addr(2).String(), troves[0].Owner)
	require.Equal(t, uint64(150_000_000), troves[0].ICR)

	_, err = client.Liquidate(ctx, addr(2).String())
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	require.NoError(t, svc.SetPrice(ctx, oracle.PriceData{Denom: "atom", Price: 7, Decimal: 1, Timestamp: 2}))
	_, err = client.LiquidateBatch(ctx, "atom", []string{addr(1).String(), addr(2).String()})
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	report, err := client.LiquidateSorted(ctx, "atom")
	require.NoError(t, err)
	require.Equal(t, []string{addr(2).String()}, report.Liquidated)
	require.Equal(t, 100*unit, report.TotalDebt)

	totals, err := client.Totals(ctx)
	require.NoError(t, err)
	require.Equal(t, 300*unit, totals.TotalDebt)
	require.Equal(t, 50*unit, totals.TotalStake)

	_, err = client.SortedTroves(ctx, "osmo", 0)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	_, err = client.Liquidate(ctx, "not-an-address")
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestKeeperRejectsMissingToken(t *testing.T) {
	svc := newService(t)
	client := dialBuffered(t, svc, "keeper-secret", "wrong")
	_, err := client.Totals(context.Background())
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	open := dialBuffered(t, svc, "", "")
	_, err = open.Totals(context.Background())
	require.NoError(t, err)
}
