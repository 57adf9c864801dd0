package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
)

const (
	defaultAPI     = "http://127.0.0.1:8545"
	defaultKeeper  = "127.0.0.1:9545"
	defaultPassEnv = "CDPCTL_PASSPHRASE"
	tokenEnv       = "CDPCTL_TOKEN"
)

type command struct {
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = map[string]command{
	"keygen":            {"create an operator keystore", runKeygen},
	"address":           {"print the address held by a keystore", runAddress},
	"token":             {"sign an API bearer token", runToken},
	"params":            {"show engine parameters", runParams},
	"totals":            {"show protocol totals", runTotals},
	"trove":             {"show one trove", runTrove},
	"troves":            {"list troves by ascending ICR", runTroves},
	"stake-position":    {"show a stability deposit", runStakePosition},
	"open":              {"open a trove", runOpen},
	"add-collateral":    {"add collateral to a trove", adjustCommand("collateral/add", true)},
	"remove-collateral": {"withdraw collateral from a trove", adjustCommand("collateral/remove", false)},
	"borrow":            {"borrow against a trove", adjustCommand("borrow", false)},
	"repay":             {"repay trove debt", adjustCommand("repay", false)},
	"close":             {"repay and close a trove", runClose},
	"stake":             {"deposit into the stability pool", stakeCommand("stake")},
	"unstake":           {"withdraw from the stability pool", stakeCommand("unstake")},
	"withdraw-gains":    {"claim stability pool collateral gains", runWithdrawGains},
	"redeem":            {"redeem stable tokens for collateral", runRedeem},
	"liquidate":         {"liquidate eligible troves of a denom", runLiquidate},
	"credit":            {"mint collateral to an account (admin)", runCredit},
	"set-price":         {"publish an oracle quote (admin)", runSetPrice},
	"pause":             {"pause or resume an operation (admin)", runPause},
	"keeper":            {"run the liquidation keeper loop", runKeeper},
	"export":            {"export ranked troves to csv and parquet", runExport},
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.run(ctx, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: cdpctl <command> [flags]")
	fmt.Fprintln(os.Stderr)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-18s %s\n", name, commands[name].summary)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("-%s is required", name)
	}
	return nil
}
