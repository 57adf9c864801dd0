package config

// Engine holds the governance-controlled engine parameters.
type Engine struct {
	// MinimumCollateralRatio is expressed in micro-percent (115% == 115000000).
	MinimumCollateralRatio  uint64   `toml:"MinimumCollateralRatio"`
	ProtocolFeePercent      uint64   `toml:"ProtocolFeePercent"`
	MinimumLoanAmount       uint64   `toml:"MinimumLoanAmount"`
	MinimumCollateralAmount uint64   `toml:"MinimumCollateralAmount"`
	MaxLiquidationBatch     int      `toml:"MaxLiquidationBatch"`
	StableDenom             string   `toml:"StableDenom"`
	CollateralDenoms        []string `toml:"CollateralDenoms"`
}

// Fees selects the protocol fee route. Addresses are bech32 strings.
type Fees struct {
	StakeEnabled bool   `toml:"StakeEnabled"`
	StakeAddress string `toml:"StakeAddress"`
	FeeAddress1  string `toml:"FeeAddress1"`
	FeeAddress2  string `toml:"FeeAddress2"`
}

// Oracle tunes the in-process price feed.
type Oracle struct {
	MaxAgeSeconds    uint64 `toml:"MaxAgeSeconds"`
	MaxConfidenceBps uint64 `toml:"MaxConfidenceBps"`
	// SeedFile is an optional YAML list of initial quotes.
	SeedFile string `toml:"SeedFile"`
}

// Journal configures the SQL audit journal. An empty driver disables it.
type Journal struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
	DSNEnv string `toml:"DSNEnv"`
}

// Auth configures bearer-token verification on the HTTP API and the shared
// token required by keeper gRPC clients.
type Auth struct {
	Enabled          bool   `toml:"Enabled"`
	HMACSecret       string `toml:"HMACSecret"`
	HMACSecretEnv    string `toml:"HMACSecretEnv"`
	Issuer           string `toml:"Issuer"`
	Audience         string `toml:"Audience"`
	ClockSkewSeconds int    `toml:"ClockSkewSeconds"`
	KeeperToken      string `toml:"KeeperToken"`
	KeeperTokenEnv   string `toml:"KeeperTokenEnv"`
}

// RateLimit bounds mutating API calls per client.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// Logging mirrors logging.Options.
type Logging struct {
	Level      string `toml:"Level"`
	Format     string `toml:"Format"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	// Headers uses the OTEL_EXPORTER_OTLP_HEADERS format (k=v,k2=v2).
	Headers string `toml:"Headers"`
	Traces  bool   `toml:"Traces"`
	Metrics bool   `toml:"Metrics"`
	// SampleRatio keeps this fraction of root spans; zero keeps all.
	SampleRatio float64 `toml:"SampleRatio"`
}
