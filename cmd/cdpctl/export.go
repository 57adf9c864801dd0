package main

import (
	"context"
	"fmt"
	"time"

	"aerocdp/crypto"
	"aerocdp/native/cdp"
	"aerocdp/services/cdp/client"
	"aerocdp/services/cdp/engine"
	"aerocdp/services/cdp/export"
	"aerocdp/services/cdp/server"
)

// troveLister is the slice of the HTTP client remoteRanker needs.
type troveLister interface {
	SortedTroves(ctx context.Context, denom string, limit int) ([]server.TroveView, error)
}

// remoteRanker serves export.Ranker from a running cdpd.
type remoteRanker struct {
	api    troveLister
	params cdp.Params
}

func newRemoteRanker(ctx context.Context, c *client.Client) (*remoteRanker, error) {
	view, err := c.Params(ctx)
	if err != nil {
		return nil, err
	}
	return &remoteRanker{api: c, params: paramsFromView(view)}, nil
}

func paramsFromView(v *server.ParamsView) cdp.Params {
	return cdp.Params{
		MinimumCollateralRatio:  v.MinimumCollateralRatio,
		ProtocolFeePercent:      v.ProtocolFeePercent,
		MinimumLoanAmount:       v.MinimumLoanAmount,
		MinimumCollateralAmount: v.MinimumCollateralAmount,
		MaxLiquidationBatch:     v.MaxLiquidationBatch,
		StableDenom:             v.StableDenom,
		CollateralDenoms:        v.CollateralDenoms,
	}
}

func (r *remoteRanker) Params() cdp.Params { return r.params }

func (r *remoteRanker) SortedTroves(ctx context.Context, denom string, limit int) ([]engine.RankedTrove, error) {
	views, err := r.api.SortedTroves(ctx, denom, limit)
	if err != nil {
		return nil, err
	}
	out := make([]engine.RankedTrove, 0, len(views))
	for _, v := range views {
		owner, err := crypto.DecodeAddress(v.Owner)
		if err != nil {
			return nil, fmt.Errorf("decode owner %q: %w", v.Owner, err)
		}
		out = append(out, engine.RankedTrove{
			Owner:      owner,
			Denom:      v.Denom,
			Collateral: v.Collateral,
			Debt:       v.Debt,
			ICR:        v.ICR,
		})
	}
	return out, nil
}

func runExport(ctx context.Context, args []string) error {
	fs := newFlagSet("export")
	api := addAPIFlags(fs)
	dir := fs.String("out", "exports", "Output directory")
	name := fs.String("name", "", "File base name (default troves-<timestamp>)")
	fs.Parse(args)

	c, err := api.client()
	if err != nil {
		return err
	}
	ranker, err := newRemoteRanker(ctx, c)
	if err != nil {
		return err
	}
	now := time.Now()
	rows, err := export.Snapshot(ctx, ranker, now)
	if err != nil {
		return err
	}
	base := *name
	if base == "" {
		base = "troves-" + now.UTC().Format("20060102T150405Z")
	}
	csvPath, parquetPath, err := export.WriteFiles(*dir, base, rows)
	if err != nil {
		return err
	}
	fmt.Printf("Exported %d troves to %s and %s\n", len(rows), csvPath, parquetPath)
	return nil
}
