package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"aerocdp/observability/logging"
	"aerocdp/services/cdp/keeper"
)

func runKeeper(ctx context.Context, args []string) error {
	fs := newFlagSet("keeper")
	target := fs.String("target", defaultKeeper, "cdpd keeper gRPC address")
	tokenVar := fs.String("token-env", "CDPD_KEEPER_TOKEN", "Environment variable holding the keeper token")
	denoms := fs.String("denoms", "", "Comma separated collateral denoms to watch")
	interval := fs.Duration("interval", 15*time.Second, "Delay between liquidation sweeps")
	once := fs.Bool("once", false, "Run a single sweep and exit")
	level := fs.String("log-level", "info", "Log level")
	fs.Parse(args)

	if *interval <= 0 {
		return fmt.Errorf("invalid -interval %s", *interval)
	}
	logger, closer, err := logging.Setup("cdpctl-keeper", "local", logging.Options{Level: *level, Format: "text"})
	if err != nil {
		return err
	}
	defer closer.Close()

	watch := splitList(*denoms)
	if len(watch) == 0 {
		return errors.New("-denoms is required")
	}
	conn, err := keeper.Dial(*target, strings.TrimSpace(os.Getenv(*tokenVar)))
	if err != nil {
		return err
	}
	defer conn.Close()

	totals, err := conn.Totals(ctx)
	if err != nil {
		return fmt.Errorf("keeper: fetch totals: %w", err)
	}
	logger.Info("keeper connected", "target", *target, "denoms", watch, "total_debt", totals.TotalDebt)

	w := &keeperLoop{client: conn, logger: logger, denoms: watch}
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		if err := w.sweep(ctx); err != nil {
			return err
		}
		if *once {
			return nil
		}
		select {
		case <-ctx.Done():
			logger.Info("keeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

type liquidator interface {
	LiquidateSorted(ctx context.Context, denom string) (*keeper.LiquidationResponse, error)
}

type keeperLoop struct {
	client liquidator
	logger *slog.Logger
	denoms []string
}

// sweep liquidates each watched denom once. Per-denom failures are logged;
// only authentication failures abort the loop.
func (k *keeperLoop) sweep(ctx context.Context) error {
	for _, denom := range k.denoms {
		report, err := k.client.LiquidateSorted(ctx, denom)
		switch status.Code(err) {
		case codes.OK:
			if len(report.Liquidated) == 0 {
				k.logger.Debug("nothing to liquidate", "denom", denom)
				continue
			}
			k.logger.Info("liquidated troves",
				"denom", report.Denom,
				"count", len(report.Liquidated),
				"debt", report.TotalDebt,
				"collateral", report.TotalCollateral)
		case codes.FailedPrecondition, codes.NotFound:
			k.logger.Debug("nothing to liquidate", "denom", denom)
		case codes.Unauthenticated, codes.PermissionDenied:
			return fmt.Errorf("keeper: %w", err)
		default:
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			k.logger.Warn("liquidation sweep failed", "denom", denom, "error", err)
		}
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
