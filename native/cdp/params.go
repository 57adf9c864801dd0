package cdp

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// DefaultMinimumCollateralRatio is 115% in micro-percent.
	DefaultMinimumCollateralRatio uint64 = 115_000_000
	// DefaultProtocolFeePercent is charged on borrows and redemptions.
	DefaultProtocolFeePercent uint64 = 5
	// DefaultMinimumLoanAmount is 0.01 stable tokens in 18-decimal units.
	DefaultMinimumLoanAmount uint64 = 10_000_000_000_000_000
	// DefaultMaxLiquidationBatch bounds the candidates accepted per batch.
	DefaultMaxLiquidationBatch = 50
	// DefaultStableDenom names the protocol's stable token.
	DefaultStableDenom = "ausd"
)

// Params groups the governance-controlled engine settings.
type Params struct {
	// MinimumCollateralRatio is the liquidation threshold in micro-percent.
	MinimumCollateralRatio uint64
	// ProtocolFeePercent is charged as floor(amount*pct/100).
	ProtocolFeePercent uint64
	// MinimumLoanAmount bounds loans, stakes and redemptions from below.
	MinimumLoanAmount uint64
	// MinimumCollateralAmount bounds the collateral used to open a trove.
	MinimumCollateralAmount uint64
	// MaxLiquidationBatch bounds the candidate list of a batch liquidation.
	MaxLiquidationBatch int
	// StableDenom is the bank denom of the stable token.
	StableDenom string
	// CollateralDenoms lists the accepted collateral denoms.
	CollateralDenoms []string
}

// DefaultParams returns the protocol defaults with no collateral registered.
func DefaultParams() Params {
	return Params{
		MinimumCollateralRatio:  DefaultMinimumCollateralRatio,
		ProtocolFeePercent:      DefaultProtocolFeePercent,
		MinimumLoanAmount:       DefaultMinimumLoanAmount,
		MinimumCollateralAmount: 1,
		MaxLiquidationBatch:     DefaultMaxLiquidationBatch,
		StableDenom:             DefaultStableDenom,
	}
}

// Normalize canonicalises denoms and fills zero values with defaults.
func (p Params) Normalize() Params {
	defaults := DefaultParams()
	if p.MinimumCollateralRatio == 0 {
		p.MinimumCollateralRatio = defaults.MinimumCollateralRatio
	}
	if p.MaxLiquidationBatch <= 0 {
		p.MaxLiquidationBatch = defaults.MaxLiquidationBatch
	}
	if p.MinimumCollateralAmount == 0 {
		p.MinimumCollateralAmount = defaults.MinimumCollateralAmount
	}
	p.StableDenom = normalizeDenom(p.StableDenom)
	if p.StableDenom == "" {
		p.StableDenom = defaults.StableDenom
	}
	seen := make(map[string]bool, len(p.CollateralDenoms))
	denoms := make([]string, 0, len(p.CollateralDenoms))
	for _, denom := range p.CollateralDenoms {
		d := normalizeDenom(denom)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		denoms = append(denoms, d)
	}
	sort.Strings(denoms)
	p.CollateralDenoms = denoms
	return p
}

// Validate rejects settings the engine cannot operate under.
func (p Params) Validate() error {
	if p.MinimumCollateralRatio < 100_000_000 {
		return fmt.Errorf("cdp params: minimum collateral ratio %d below 100%%", p.MinimumCollateralRatio)
	}
	if p.ProtocolFeePercent > 100 {
		return fmt.Errorf("cdp params: protocol fee %d%% exceeds 100%%", p.ProtocolFeePercent)
	}
	if p.MaxLiquidationBatch <= 0 {
		return errors.New("cdp params: max liquidation batch must be positive")
	}
	if p.StableDenom == "" {
		return errors.New("cdp params: stable denom required")
	}
	for _, denom := range p.CollateralDenoms {
		if denom == p.StableDenom {
			return fmt.Errorf("cdp params: stable denom %q cannot be collateral", denom)
		}
	}
	return nil
}

// SupportsDenom reports whether denom is registered as collateral.
func (p Params) SupportsDenom(denom string) bool {
	d := normalizeDenom(denom)
	for _, candidate := range p.CollateralDenoms {
		if candidate == d {
			return true
		}
	}
	return false
}

func normalizeDenom(denom string) string {
	return strings.ToLower(strings.TrimSpace(denom))
}
