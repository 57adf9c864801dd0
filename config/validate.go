package config

import (
	"errors"
	"fmt"
	"strings"

	"aerocdp/observability/logging"
)

// Validate reports the first setting cdpd cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return errors.New("config: ListenAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("config: DataDir required")
	}
	params := c.Params()
	if err := params.Validate(); err != nil {
		return fmt.Errorf("config: engine: %w", err)
	}
	if len(params.CollateralDenoms) == 0 {
		return errors.New("config: engine: at least one collateral denom required")
	}
	routing, err := c.Routing()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if params.ProtocolFeePercent > 0 {
		if err := routing.Validate(); err != nil {
			return fmt.Errorf("config: fees: %w", err)
		}
	}
	if c.Oracle.MaxConfidenceBps > 10_000 {
		return fmt.Errorf("config: oracle: MaxConfidenceBps %d exceeds 10000", c.Oracle.MaxConfidenceBps)
	}
	switch c.Journal.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: journal: unknown driver %q", c.Journal.Driver)
	}
	if c.Journal.Driver != "" && strings.TrimSpace(c.Journal.DSN) == "" {
		return errors.New("config: journal: DSN required")
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return errors.New("config: auth: HMACSecret required when auth is enabled")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return errors.New("config: rate_limit: values must not be negative")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: telemetry: SampleRatio %v outside [0,1]", c.Telemetry.SampleRatio)
	}
	return nil
}
