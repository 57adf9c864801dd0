package oracle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

var (
	// ErrUnknownDenom indicates that no quote has ever been recorded for the denom.
	ErrUnknownDenom = errors.New("oracle: no price configured for denom")
	// ErrStalePrice indicates that the latest quote is older than the freshness window.
	ErrStalePrice = errors.New("oracle: price is stale")
	// ErrInvalidPrice rejects non-positive prices and malformed quotes.
	ErrInvalidPrice = errors.New("oracle: invalid price data")
	// ErrLowConfidence rejects quotes whose confidence band is wider than allowed.
	ErrLowConfidence = errors.New("oracle: confidence interval exceeds tolerance")
)

// PriceData is a single quote for a collateral denom. Price is expressed so that
// amount*Price/10^Decimal yields the value in micro-USD.
type PriceData struct {
	Denom      string
	Price      uint64
	Decimal    uint8
	Confidence uint64
	Timestamp  int64
	Exponent   int32
}

// Source resolves the current price for a collateral denom.
type Source interface {
	Price(ctx context.Context, denom string) (PriceData, error)
}

// Recorder receives every accepted quote, for example to keep a price history.
type Recorder interface {
	RecordPrice(ctx context.Context, data PriceData) error
}

func normalizeDenom(denom string) string {
	return strings.ToLower(strings.TrimSpace(denom))
}

// Validate checks the structural constraints on a quote.
func (p PriceData) Validate() error {
	if normalizeDenom(p.Denom) == "" {
		return fmt.Errorf("%w: denom required", ErrInvalidPrice)
	}
	if p.Price == 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidPrice)
	}
	if p.Decimal == 0 || p.Decimal > 38 {
		return fmt.Errorf("%w: decimal %d out of range", ErrInvalidPrice, p.Decimal)
	}
	return nil
}

// Feed is an in-memory price source populated by an operator or an ingestion
// job. Freshness and confidence policies are applied on read.
type Feed struct {
	mu               sync.RWMutex
	quotes           map[string]PriceData
	maxAge           time.Duration
	maxConfidenceBps uint64
	now              func() time.Time
	recorder         Recorder
}

// NewFeed constructs a feed rejecting quotes older than maxAge. A zero maxAge
// disables the staleness check.
func NewFeed(maxAge time.Duration) *Feed {
	return &Feed{
		quotes: make(map[string]PriceData),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// SetMaxAge updates the freshness window used when serving quotes.
func (f *Feed) SetMaxAge(maxAge time.Duration) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.maxAge = maxAge
	f.mu.Unlock()
}

// SetMaxConfidenceBps bounds confidence/price in basis points. Zero disables
// the check.
func (f *Feed) SetMaxConfidenceBps(bps uint64) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.maxConfidenceBps = bps
	f.mu.Unlock()
}

// SetClock overrides the time source, primarily for tests.
func (f *Feed) SetClock(now func() time.Time) {
	if f == nil || now == nil {
		return
	}
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

// SetRecorder wires an optional sink notified of every accepted quote.
func (f *Feed) SetRecorder(r Recorder) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.recorder = r
	f.mu.Unlock()
}

// Set stores a quote, replacing any previous value for the denom.
func (f *Feed) Set(ctx context.Context, data PriceData) error {
	if f == nil {
		return ErrUnknownDenom
	}
	if err := data.Validate(); err != nil {
		return err
	}
	data.Denom = normalizeDenom(data.Denom)
	f.mu.Lock()
	f.quotes[data.Denom] = data
	recorder := f.recorder
	f.mu.Unlock()
	if recorder != nil {
		if err := recorder.RecordPrice(ctx, data); err != nil {
			return fmt.Errorf("oracle: record price: %w", err)
		}
	}
	return nil
}

// Remove drops the quote for denom. Subsequent reads fail with ErrUnknownDenom.
func (f *Feed) Remove(denom string) {
	if f == nil {
		return
	}
	f.mu.Lock()
	delete(f.quotes, normalizeDenom(denom))
	f.mu.Unlock()
}

// Denoms lists every denom with a stored quote in lexical order.
func (f *Feed) Denoms() []string {
	if f == nil {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.quotes))
	for denom := range f.quotes {
		out = append(out, denom)
	}
	sort.Strings(out)
	return out
}

// Price implements Source.
func (f *Feed) Price(ctx context.Context, denom string) (PriceData, error) {
	if err := ctx.Err(); err != nil {
		return PriceData{}, err
	}
	if f == nil {
		return PriceData{}, ErrUnknownDenom
	}
	key := normalizeDenom(denom)
	f.mu.RLock()
	data, ok := f.quotes[key]
	maxAge := f.maxAge
	maxConf := f.maxConfidenceBps
	now := f.now()
	f.mu.RUnlock()
	if !ok {
		return PriceData{}, fmt.Errorf("%w: %s", ErrUnknownDenom, key)
	}
	if maxAge > 0 {
		age := now.Sub(time.Unix(data.Timestamp, 0))
		if age > maxAge {
			return PriceData{}, fmt.Errorf("%w: %s quote is %s old (max %s)", ErrStalePrice, key, age.Truncate(time.Second), maxAge)
		}
	}
	if maxConf > 0 && exceedsConfidence(data.Confidence, data.Price, maxConf) {
		return PriceData{}, fmt.Errorf("%w: %s confidence %d on price %d", ErrLowConfidence, key, data.Confidence, data.Price)
	}
	return data, nil
}

func exceedsConfidence(confidence, price, maxBps uint64) bool {
	// confidence/price > maxBps/10_000, compared without division.
	lhs := new(uint256.Int).Mul(uint256.NewInt(confidence), uint256.NewInt(10_000))
	rhs := new(uint256.Int).Mul(uint256.NewInt(price), uint256.NewInt(maxBps))
	return lhs.Gt(rhs)
}

// Aggregator consults registered sources in priority order and returns the
// first quote that is fresh and valid.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	sources  map[string]Source
}

// NewAggregator constructs an aggregator with no registered sources.
func NewAggregator() *Aggregator {
	return &Aggregator{sources: make(map[string]Source)}
}

// Register adds or replaces a source. Newly registered names are appended to
// the end of the priority list.
func (a *Aggregator) Register(name string, source Source) {
	if a == nil || source == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.sources[trimmed]; !exists {
		a.priority = append(a.priority, trimmed)
	}
	a.sources[trimmed] = source
}

// Price implements Source. When every source fails the error from the highest
// priority source is returned.
func (a *Aggregator) Price(ctx context.Context, denom string) (PriceData, error) {
	if a == nil {
		return PriceData{}, ErrUnknownDenom
	}
	a.mu.RLock()
	names := append([]string(nil), a.priority...)
	sources := make([]Source, 0, len(names))
	for _, name := range names {
		sources = append(sources, a.sources[name])
	}
	a.mu.RUnlock()

	var firstErr error
	for i, source := range sources {
		data, err := source.Price(ctx, denom)
		if err == nil {
			if err = data.Validate(); err == nil {
				return data, nil
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return PriceData{}, ctxErr
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("oracle source %s: %w", names[i], err)
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("%w: %s", ErrUnknownDenom, normalizeDenom(denom))
	}
	return PriceData{}, firstErr
}
