// Package export writes point-in-time trove snapshots for offline analysis.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"aerocdp/native/cdp"
	"aerocdp/services/cdp/engine"
)

// TroveRow is one exported trove.
type TroveRow struct {
	Owner      string `parquet:"name=owner, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Denom      string `parquet:"name=denom, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Collateral string `parquet:"name=collateral, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Debt       string `parquet:"name=debt, type=UTF8, encoding=PLAIN_DICTIONARY"`
	ICR        int64  `parquet:"name=icr, type=INT64"`
	Rank       int32  `parquet:"name=rank, type=INT32"`
	ExportedAt string `parquet:"name=exported_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

var csvHeader = []string{"owner", "denom", "collateral", "debt", "icr", "rank", "exported_at"}

// Ranker lists troves in ascending ICR order. *engine.Service implements it
// in process; cdpctl adapts the HTTP API to it.
type Ranker interface {
	Params() cdp.Params
	SortedTroves(ctx context.Context, denom string, limit int) ([]engine.RankedTrove, error)
}

// Snapshot ranks the active troves of every supported denom at current prices.
func Snapshot(ctx context.Context, src Ranker, now time.Time) ([]TroveRow, error) {
	stamp := now.UTC().Format(time.RFC3339)
	var rows []TroveRow
	for _, denom := range src.Params().CollateralDenoms {
		ranked, err := src.SortedTroves(ctx, denom, 0)
		if err != nil {
			return nil, fmt.Errorf("export: rank %s: %w", denom, err)
		}
		for i, r := range ranked {
			rows = append(rows, TroveRow{
				Owner:      r.Owner.String(),
				Denom:      r.Denom,
				Collateral: strconv.FormatUint(r.Collateral, 10),
				Debt:       strconv.FormatUint(r.Debt, 10),
				ICR:        int64(r.ICR),
				Rank:       int32(i + 1),
				ExportedAt: stamp,
			})
		}
	}
	return rows, nil
}

// WriteFiles writes rows as <name>.csv and <name>.parquet under dir and
// returns both paths.
func WriteFiles(dir, name string, rows []TroveRow) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("export: create dir: %w", err)
	}
	csvPath := filepath.Join(dir, name+".csv")
	if err := writeCSV(csvPath, rows); err != nil {
		return "", "", err
	}
	parquetPath := filepath.Join(dir, name+".parquet")
	if err := writeParquet(parquetPath, rows); err != nil {
		return "", "", err
	}
	return csvPath, parquetPath, nil
}

func writeCSV(path string, rows []TroveRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create csv: %w", err)
	}
	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		file.Close()
		return fmt.Errorf("export: csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Owner,
			row.Denom,
			row.Collateral,
			row.Debt,
			strconv.FormatInt(row.ICR, 10),
			strconv.Itoa(int(row.Rank)),
			row.ExportedAt,
		}
		if err := w.Write(record); err != nil {
			file.Close()
			return fmt.Errorf("export: csv write: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return fmt.Errorf("export: csv flush: %w", err)
	}
	return file.Close()
}

func writeParquet(path string, rows []TroveRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(TroveRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range rows {
		if err := pw.Write(&rows[i]); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet file: %w", err)
	}
	return nil
}
