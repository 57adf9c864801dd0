package state

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"aerocdp/crypto"
	"aerocdp/native/cdp"
	"aerocdp/native/oracle"
	"aerocdp/storage"
)

func testAddress(suffix byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func TestCDPStoreRecords(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	store := NewCDPStore(NewManager(db))
	owner := testAddress(0x01)

	missing, err := store.GetTrove(owner)
	require.NoError(t, err)
	require.Nil(t, missing)

	trove := &cdp.Trove{Owner: owner, Denom: "atom", Collateral: 120, Debt: 100, ICR: 120_000_000, Active: true, UpdatedAt: 7}
	require.NoError(t, store.PutTrove(trove))
	require.NoError(t, store.PutTrove(trove))
	loaded, err := store.GetTrove(owner)
	require.NoError(t, err)
	require.Equal(t, trove.Collateral, loaded.Collateral)
	require.True(t, loaded.Owner.Equal(owner))
	require.True(t, loaded.Active)

	owners, err := store.TroveOwners()
	require.NoError(t, err)
	require.Len(t, owners, 1)
	require.True(t, owners[0].Equal(owner))

	ledger := &cdp.GlobalLedger{TotalDebt: 100, TotalStake: 50, P: big.NewInt(5), Epoch: 3}
	require.NoError(t, store.PutLedger(ledger))
	gotLedger, err := store.GetLedger()
	require.NoError(t, err)
	require.Equal(t, uint64(3), gotLedger.Epoch)
	require.Zero(t, gotLedger.P.Cmp(big.NewInt(5)))

	require.NoError(t, store.PutEpochSum("atom", 2, big.NewInt(99)))
	sum, err := store.GetEpochSum("ATOM", 2)
	require.NoError(t, err)
	require.Zero(t, sum.Cmp(big.NewInt(99)))
	none, err := store.GetEpochSum("atom", 3)
	require.NoError(t, err)
	require.Nil(t, none)

	require.NoError(t, store.PutGainSnapshot(&cdp.GainSnapshot{Owner: owner, Denom: "atom", Epoch: 1, Pending: 4, Initialized: true}))
	snap, err := store.GetGainSnapshot(owner, "atom")
	require.NoError(t, err)
	require.Equal(t, uint64(4), snap.Pending)
	require.Zero(t, snap.S.Sign())
}

func TestEngineOverTransaction(t *testing.T) {
	ctx := context.Background()
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	owner := testAddress(0x02)
	vault := crypto.ModuleAddress("stability-pool")
	custody := crypto.ModuleAddress("cdp-custody")
	require.NoError(t, NewBank(mgr).Mint("atom", owner, 1_000))

	feed := oracle.NewFeed(0)
	require.NoError(t, feed.Set(ctx, oracle.PriceData{Denom: "atom", Price: 10, Decimal: 1}))

	params := cdp.DefaultParams()
	params.ProtocolFeePercent = 0
	params.MinimumLoanAmount = 1
	params.CollateralDenoms = []string{"atom"}
	engine := cdp.NewEngine(vault, custody, params)
	engine.SetPriceSource(feed)

	run := func(commit bool) {
		tx := mgr.Begin()
		engine.SetState(NewCDPStore(tx))
		engine.SetBank(NewBank(tx))
		_, err := engine.OpenTrove(ctx, owner, "atom", 200, 100_000_000_000_000)
		require.NoError(t, err)
		if commit {
			require.NoError(t, tx.Commit())
		} else {
			tx.Discard()
		}
	}

	run(false)
	store := NewCDPStore(mgr)
	trove, err := store.GetTrove(owner)
	require.NoError(t, err)
	require.Nil(t, trove)
	balance, err := NewBank(mgr).Balance("atom", owner)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), balance)

	run(true)
	trove, err = store.GetTrove(owner)
	require.NoError(t, err)
	require.NotNil(t, trove)
	require.Equal(t, uint64(200_000_000), trove.ICR)
	held, err := NewBank(mgr).Balance("atom", custody)
	require.NoError(t, err)
	require.Equal(t, uint64(200), held)
	supply, err := NewBank(mgr).Supply("ausd")
	require.NoError(t, err)
	require.Equal(t, uint64(100_000_000_000_000), supply)
	ledger, err := store.GetLedger()
	require.NoError(t, err)
	require.Equal(t, uint64(100_000_000_000_000), ledger.TotalDebt)
}

func TestCDPStoreAccumulatorIndex(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	store := NewCDPStore(NewManager(db))

	denoms, err := store.AccumulatorDenoms()
	require.NoError(t, err)
	require.Empty(t, denoms)

	require.NoError(t, store.PutAccumulator(&cdp.DenomAccumulator{Denom: "osmo", S: big.NewInt(1)}))
	require.NoError(t, store.PutAccumulator(&cdp.DenomAccumulator{Denom: "atom", S: big.NewInt(2)}))
	require.NoError(t, store.PutAccumulator(&cdp.DenomAccumulator{Denom: "ATOM", Epoch: 1, S: big.NewInt(3)}))

	denoms, err = store.AccumulatorDenoms()
	require.NoError(t, err)
	require.Equal(t, []string{"atom", "osmo"}, denoms)
}
