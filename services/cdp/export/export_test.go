package export

import (
	"context"
	"encoding/csv"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

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

func TestSnapshotWritesRankedFiles(t *testing.T) {
	ctx := context.Background()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	params := cdp.DefaultParams()
	params.MinimumLoanAmount = 1
	params.CollateralDenoms = []string{"atom"}
	svc, err := engine.New(state.NewManager(db), oracle.NewFeed(0), params, fees.Routing{FeeAddress1: addr(0xF1), FeeAddress2: addr(0xF2)})
	require.NoError(t, err)
	require.NoError(t, svc.SetPrice(ctx, oracle.PriceData{Denom: "atom", Price: 10, Decimal: 1, Timestamp: 1}))
	for _, owner := range []crypto.Address{addr(1), addr(2)} {
		collateral := uint64(200)
		if owner.Equal(addr(2)) {
			collateral = 150
		}
		require.NoError(t, svc.Credit(ctx, "atom", owner, collateral))
		_, err := svc.OpenTrove(ctx, owner, "atom", collateral, 100*unit)
		require.NoError(t, err)
	}

	rows, err := Snapshot(ctx, svc, time.Unix(1_700_000_000, 0))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, addr(2).String(), rows[0].Owner)
	require.Equal(t, int32(1), rows[0].Rank)
	require.Equal(t, int64(150_000_000), rows[0].ICR)
	require.Equal(t, "2023-11-14T22:13:20Z", rows[0].ExportedAt)

	dir := t.TempDir()
	csvPath, parquetPath, err := WriteFiles(dir, "troves", rows)
	require.NoError(t, err)

	file, err := os.Open(csvPath)
	require.NoError(t, err)
	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, file.Close())
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, csvHeader, records[0])
	require.Equal(t, "100000000000000", records[1][3])

	fr, err := local.NewLocalFileReader(parquetPath)
	require.NoError(t, err)
	pr, err := reader.NewParquetReader(fr, new(TroveRow), 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), pr.GetNumRows())
	decoded := make([]TroveRow, 2)
	require.NoError(t, pr.Read(&decoded))
	pr.ReadStop()
	require.NoError(t, fr.Close())
	require.Equal(t, rows, decoded)
}
