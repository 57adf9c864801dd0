package config

import (
	"fmt"
	"strings"
	"time"

	"aerocdp/crypto"
	"aerocdp/native/cdp"
	"aerocdp/native/fees"
)

// Params converts the engine section into engine parameters.
func (c *Config) Params() cdp.Params {
	return cdp.Params{
		MinimumCollateralRatio:  c.Engine.MinimumCollateralRatio,
		ProtocolFeePercent:      c.Engine.ProtocolFeePercent,
		MinimumLoanAmount:       c.Engine.MinimumLoanAmount,
		MinimumCollateralAmount: c.Engine.MinimumCollateralAmount,
		MaxLiquidationBatch:     c.Engine.MaxLiquidationBatch,
		StableDenom:             c.Engine.StableDenom,
		CollateralDenoms:        append([]string(nil), c.Engine.CollateralDenoms...),
	}.Normalize()
}

// Routing decodes the fee section.
func (c *Config) Routing() (fees.Routing, error) {
	routing := fees.Routing{StakeEnabled: c.Fees.StakeEnabled}
	var err error
	if routing.StakeAddress, err = optionalAddress("fees.StakeAddress", c.Fees.StakeAddress); err != nil {
		return fees.Routing{}, err
	}
	if routing.FeeAddress1, err = optionalAddress("fees.FeeAddress1", c.Fees.FeeAddress1); err != nil {
		return fees.Routing{}, err
	}
	if routing.FeeAddress2, err = optionalAddress("fees.FeeAddress2", c.Fees.FeeAddress2); err != nil {
		return fees.Routing{}, err
	}
	return routing, nil
}

// OracleMaxAge returns the price freshness window; zero disables the check.
func (c *Config) OracleMaxAge() time.Duration {
	return time.Duration(c.Oracle.MaxAgeSeconds) * time.Second
}

// ClockSkew returns the tolerated token clock skew.
func (c *Config) ClockSkew() time.Duration {
	if c.Auth.ClockSkewSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.Auth.ClockSkewSeconds) * time.Second
}

func optionalAddress(field, value string) (crypto.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return crypto.Address{}, nil
	}
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}
