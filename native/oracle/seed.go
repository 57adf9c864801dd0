package oracle

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SeedFile is the on-disk layout of an operator-maintained price list.
type SeedFile struct {
	Prices []SeedPrice `yaml:"prices"`
}

// SeedPrice is one entry of a SeedFile. A zero timestamp is replaced by the
// load time.
type SeedPrice struct {
	Denom      string `yaml:"denom"`
	Price      uint64 `yaml:"price"`
	Decimal    uint8  `yaml:"decimal"`
	Confidence uint64 `yaml:"confidence"`
	Exponent   int32  `yaml:"exponent"`
	Timestamp  int64  `yaml:"timestamp"`
}

// LoadSeed parses a YAML seed file.
func LoadSeed(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("oracle: read seed: %w", err)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("oracle: decode seed: %w", err)
	}
	return &seed, nil
}

// Apply stores every seed price in the feed, stopping at the first invalid entry.
func (s *SeedFile) Apply(ctx context.Context, feed *Feed, now time.Time) error {
	if s == nil {
		return nil
	}
	for i, entry := range s.Prices {
		ts := entry.Timestamp
		if ts == 0 {
			ts = now.Unix()
		}
		err := feed.Set(ctx, PriceData{
			Denom:      entry.Denom,
			Price:      entry.Price,
			Decimal:    entry.Decimal,
			Confidence: entry.Confidence,
			Exponent:   entry.Exponent,
			Timestamp:  ts,
		})
		if err != nil {
			return fmt.Errorf("oracle: seed entry %d (%s): %w", i, entry.Denom, err)
		}
	}
	return nil
}
