package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"aerocdp/services/cdp/client"
)

// apiFlags are shared by every command that talks to cdpd over HTTP.
type apiFlags struct {
	api      *string
	token    *string
	tokenEnv *string
}

func addAPIFlags(fs *flag.FlagSet) apiFlags {
	return apiFlags{
		api:      fs.String("api", defaultAPI, "cdpd base URL"),
		token:    fs.String("token", "", "Bearer token (overrides -token-env)"),
		tokenEnv: fs.String("token-env", tokenEnv, "Environment variable holding the bearer token"),
	}
}

func (f apiFlags) client() (*client.Client, error) {
	token := strings.TrimSpace(*f.token)
	if token == "" && *f.tokenEnv != "" {
		token = strings.TrimSpace(os.Getenv(*f.tokenEnv))
	}
	return client.New(*f.api, token)
}

// ownerFlags resolve the acting account either from -owner or from a keystore.
type ownerFlags struct {
	owner    *string
	keystore *string
	passEnv  *string
}

func addOwnerFlags(fs *flag.FlagSet) ownerFlags {
	return ownerFlags{
		owner:    fs.String("owner", "", "Owner address"),
		keystore: fs.String("keystore", "", "Keystore holding the owner key"),
		passEnv:  fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase"),
	}
}

func (f ownerFlags) resolve() (string, error) {
	if owner := strings.TrimSpace(*f.owner); owner != "" {
		return owner, nil
	}
	if *f.keystore == "" {
		return "", errors.New("-owner or -keystore is required")
	}
	addr, err := keystoreAddress(*f.keystore, *f.passEnv)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

func parseAmount(name, raw string) (uint64, error) {
	if err := required(name, raw); err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid -%s %q: %w", name, raw, err)
	}
	return v, nil
}

func runParams(ctx context.Context, args []string) error {
	fs := newFlagSet("params")
	api := addAPIFlags(fs)
	fs.Parse(args)
	c, err := api.client()
	if err != nil {
		return err
	}
	params, err := c.Params(ctx)
	if err != nil {
		return err
	}
	return printJSON(params)
}

func runTotals(ctx context.Context, args []string) error {
	fs := newFlagSet("totals")
	api := addAPIFlags(fs)
	fs.Parse(args)
	c, err := api.client()
	if err != nil {
		return err
	}
	totals, err := c.Totals(ctx)
	if err != nil {
		return err
	}
	return printJSON(totals)
}

func runTrove(ctx context.Context, args []string) error {
	fs := newFlagSet("trove")
	api := addAPIFlags(fs)
	who := addOwnerFlags(fs)
	fs.Parse(args)
	owner, err := who.resolve()
	if err != nil {
		return err
	}
	c, err := api.client()
	if err != nil {
		return err
	}
	trove, err := c.Trove(ctx, owner)
	if err != nil {
		return err
	}
	return printJSON(trove)
}

func runTroves(ctx context.Context, args []string) error {
	fs := newFlagSet("troves")
	api := addAPIFlags(fs)
	denom := fs.String("denom", "", "Collateral denom")
	limit := fs.Int("limit", 0, "Maximum number of troves (0 for all)")
	fs.Parse(args)
	if err := required("denom", *denom); err != nil {
		return err
	}
	c, err := api.client()
	if err != nil {
		return err
	}
	troves, err := c.SortedTroves(ctx, *denom, *limit)
	if err != nil {
		return err
	}
	return printJSON(troves)
}

func runStakePosition(ctx context.Context, args []string) error {
	fs := newFlagSet("stake-position")
	api := addAPIFlags(fs)
	who := addOwnerFlags(fs)
	fs.Parse(args)
	owner, err := who.resolve()
	if err != nil {
		return err
	}
	c, err := api.client()
	if err != nil {
		return err
	}
	position, err := c.Stake(ctx, owner)
	if err != nil {
		return err
	}
	return printJSON(position)
}

func runOpen(ctx context.Context, args []string) error {
	fs := newFlagSet("open")
	api := addAPIFlags(fs)
	who := addOwnerFlags(fs)
	denom := fs.String("denom", "", "Collateral denom")
	collateral := fs.String("collateral", "", "Collateral amount in base units")
	loan := fs.String("loan", "", "Loan amount in stable base units")
	fs.Parse(args)

	if err := required("denom", *denom); err != nil {
		return err
	}
	coll, err := parseAmount("collateral", *collateral)
	if err != nil {
		return err
	}
	debt, err := parseAmount("loan", *loan)
	if err != nil {
		return err
	}
	owner, err := who.resolve()
	if err != nil {
		return err
	}
	c, err := api.client()
	if err != nil {
		return err
	}
	trove, err := c.OpenTrove(ctx, owner, *denom, coll, debt)
	if err != nil {
		return err
	}
	return printJSON(trove)
}

// adjustCommand builds the collateral/borrow/repay commands. Only adding
// collateral names a denom; the others act on the trove's own denom.
func adjustCommand(action string, withDenom bool) func(context.Context, []string) error {
	return func(ctx context.Context, args []string) error {
		fs := newFlagSet(action)
		api := addAPIFlags(fs)
		who := addOwnerFlags(fs)
		value := fs.String("amount", "", "Amount in base units")
		var denom *string
		if withDenom {
			denom = fs.String("denom", "", "Collateral denom")
		}
		fs.Parse(args)

		amount, err := parseAmount("amount", *value)
		if err != nil {
			return err
		}
		owner, err := who.resolve()
		if err != nil {
			return err
		}
		c, err := api.client()
		if err != nil {
			return err
		}
		var d string
		if denom != nil {
			d = *denom
		}
		trove, err := c.Adjust(ctx, action, owner, d, amount)
		if err != nil {
			return err
		}
		return printJSON(trove)
	}
}

func runClose(ctx context.Context, args []string) error {
	fs := newFlagSet("close")
	api := addAPIFlags(fs)
	who := addOwnerFlags(fs)
	fs.Parse(args)
	owner, err := who.resolve()
	if err != nil {
		return err
	}
	c, err := api.client()
	if err != nil {
		return err
	}
	trove, err := c.CloseTrove(ctx, owner)
	if err != nil {
		return err
	}
	return printJSON(trove)
}

func stakeCommand(action string) func(context.Context, []string) error {
	return func(ctx context.Context, args []string) error {
		fs := newFlagSet(action)
		api := addAPIFlags(fs)
		who := addOwnerFlags(fs)
		value := fs.String("amount", "", "Stable amount in base units")
		fs.Parse(args)

		amount, err := parseAmount("amount", *value)
		if err != nil {
			return err
		}
		owner, err := who.resolve()
		if err != nil {
			return err
		}
		c, err := api.client()
		if err != nil {
			return err
		}
		deposit, err := c.StakeAction(ctx, action, owner, amount)
		if err != nil {
			return err
		}
		return printJSON(deposit)
	}
}

func runWithdrawGains(ctx context.Context, args []string) error {
	fs := newFlagSet("withdraw-gains")
	api := addAPIFlags(fs)
	who := addOwnerFlags(fs)
	denom := fs.String("denom", "", "Collateral denom")
	fs.Parse(args)
	if err := required("denom", *denom); err != nil {
		return err
	}
	owner, err := who.resolve()
	if err != nil {
		return err
	}
	c, err := api.client()
	if err != nil {
		return err
	}
	paid, err := c.WithdrawGains(ctx, owner, *denom)
	if err != nil {
		return err
	}
	fmt.Printf("Withdrew %d %s\n", paid, *denom)
	return nil
}

func runRedeem(ctx context.Context, args []string) error {
	fs := newFlagSet("redeem")
	api := addAPIFlags(fs)
	who := addOwnerFlags(fs)
	denom := fs.String("denom", "", "Collateral denom to receive")
	value := fs.String("amount", "", "Stable amount to burn")
	fs.Parse(args)

	if err := required("denom", *denom); err != nil {
		return err
	}
	amount, err := parseAmount("amount", *value)
	if err != nil {
		return err
	}
	owner, err := who.resolve()
	if err != nil {
		return err
	}
	c, err := api.client()
	if err != nil {
		return err
	}
	report, err := c.Redeem(ctx, owner, *denom, amount)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runLiquidate(ctx context.Context, args []string) error {
	fs := newFlagSet("liquidate")
	api := addAPIFlags(fs)
	denom := fs.String("denom", "", "Collateral denom")
	fs.Parse(args)
	if err := required("denom", *denom); err != nil {
		return err
	}
	c, err := api.client()
	if err != nil {
		return err
	}
	report, err := c.LiquidateSorted(ctx, *denom)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runCredit(ctx context.Context, args []string) error {
	fs := newFlagSet("credit")
	api := addAPIFlags(fs)
	who := addOwnerFlags(fs)
	denom := fs.String("denom", "", "Collateral denom")
	value := fs.String("amount", "", "Amount in base units")
	fs.Parse(args)

	if err := required("denom", *denom); err != nil {
		return err
	}
	amount, err := parseAmount("amount", *value)
	if err != nil {
		return err
	}
	to, err := who.resolve()
	if err != nil {
		return err
	}
	c, err := api.client()
	if err != nil {
		return err
	}
	if err := c.Credit(ctx, *denom, to, amount); err != nil {
		return err
	}
	fmt.Printf("Credited %d %s to %s\n", amount, *denom, to)
	return nil
}

func runSetPrice(ctx context.Context, args []string) error {
	fs := newFlagSet("set-price")
	api := addAPIFlags(fs)
	denom := fs.String("denom", "", "Collateral denom")
	value := fs.String("price", "", "Quote mantissa")
	decimal := fs.Uint("decimal", 0, "Decimal exponent of the quote")
	timestamp := fs.Int64("timestamp", 0, "Quote timestamp in unix seconds (default now)")
	fs.Parse(args)

	if err := required("denom", *denom); err != nil {
		return err
	}
	price, err := parseAmount("price", *value)
	if err != nil {
		return err
	}
	if *decimal > 255 {
		return fmt.Errorf("invalid -decimal %d", *decimal)
	}
	ts := *timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	c, err := api.client()
	if err != nil {
		return err
	}
	quote, err := c.SetPrice(ctx, *denom, price, uint8(*decimal), ts)
	if err != nil {
		return err
	}
	return printJSON(quote)
}

func runPause(ctx context.Context, args []string) error {
	fs := newFlagSet("pause")
	api := addAPIFlags(fs)
	name := fs.String("name", "cdp", `Operation to toggle ("cdp" or "cdp.<action>")`)
	resume := fs.Bool("resume", false, "Clear the pause instead of setting it")
	fs.Parse(args)
	c, err := api.client()
	if err != nil {
		return err
	}
	paused, err := c.SetPaused(ctx, *name, !*resume)
	if err != nil {
		return err
	}
	return printJSON(map[string][]string{"paused": paused})
}
