package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"aerocdp/core/events"
	"aerocdp/core/state"
	"aerocdp/crypto"
	nativecommon "aerocdp/native/common"
	"aerocdp/native/cdp"
	"aerocdp/native/fees"
	"aerocdp/native/oracle"
	"aerocdp/observability"
)

const instrumentation = "aerocdp/services/cdp"

var (
	// PoolVault holds stable tokens staked in the stability pool.
	PoolVault = crypto.ModuleAddress("stability-pool")
	// Custody holds trove collateral and undistributed liquidation gains.
	Custody = crypto.ModuleAddress("cdp-custody")
)

// Service serialises engine operations over a state manager. Every mutating
// call runs inside its own transaction; events reach the sink only after the
// transaction commits.
type Service struct {
	mu      sync.Mutex
	manager *state.Manager
	engine  *cdp.Engine
	feed    *oracle.Feed
	pauses  *nativecommon.PauseSet
	routing fees.Routing
	// bank is bound to the open transaction while mu is held.
	bank    *state.Bank
	sink    events.Emitter
	logger  *slog.Logger
	metrics *observability.CDPMetrics
	tracer  trace.Tracer
	ops     metric.Int64Counter
}

// Option customises a Service.
type Option func(*Service)

// WithSink forwards committed events to sink.
func WithSink(sink events.Emitter) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithLogger overrides the service and engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPauses installs the pause switches consulted by the engine.
func WithPauses(pauses *nativecommon.PauseSet) Option {
	return func(s *Service) {
		if pauses != nil {
			s.pauses = pauses
		}
	}
}

// WithClock overrides the engine time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.engine.SetClock(now) }
}

// New constructs a service. The persisted ledger ratio and fee are brought in
// line with params on start.
func New(manager *state.Manager, feed *oracle.Feed, params cdp.Params, routing fees.Routing, opts ...Option) (*Service, error) {
	if manager == nil {
		return nil, errors.New("cdp service: state manager required")
	}
	if feed == nil {
		return nil, errors.New("cdp service: price feed required")
	}
	s := &Service{
		manager: manager,
		engine:  cdp.NewEngine(PoolVault, Custody, params),
		feed:    feed,
		pauses:  nativecommon.NewPauseSet(),
		routing: routing,
		sink:    events.NoopEmitter{},
		logger:  slog.Default(),
		metrics: observability.CDP(),
		tracer:  otel.Tracer(instrumentation),
	}
	for _, opt := range opts {
		opt(s)
	}
	counter, err := otel.Meter(instrumentation).Int64Counter("cdp.operations",
		metric.WithDescription("Engine operations by name and result."))
	if err != nil {
		return nil, fmt.Errorf("cdp service: create counter: %w", err)
	}
	s.ops = counter
	s.engine.SetPriceSource(feed)
	s.engine.SetPauses(s.pauses)
	s.engine.SetLogger(s.logger)

	if err := s.UpdateParams(context.Background(), params); err != nil {
		return nil, err
	}
	return s, nil
}

// Params returns the active engine parameters.
func (s *Service) Params() cdp.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Params()
}

// Feed exposes the price feed for administrative updates.
func (s *Service) Feed() *oracle.Feed { return s.feed }

// Pauses exposes the pause switches.
func (s *Service) Pauses() *nativecommon.PauseSet { return s.pauses }

func (s *Service) bind(kv state.KVStore, emitter events.Emitter) *state.Bank {
	bank := state.NewBank(kv)
	s.engine.SetState(state.NewCDPStore(kv))
	s.engine.SetBank(bank)
	s.engine.SetFeeCollector(fees.NewDistributor(bank, s.engine.Params().StableDenom, s.routing))
	s.engine.SetEmitter(emitter)
	return bank
}

// mutate runs fn inside a transaction, committing on success.
func (s *Service) mutate(ctx context.Context, op string, fn func(*cdp.Engine) error) error {
	return s.mutateThen(ctx, op, fn, nil)
}

// mutateThen is mutate with a hook that runs under mu after a successful
// commit, before the engine is rebound and events are released.
func (s *Service) mutateThen(ctx context.Context, op string, fn func(*cdp.Engine) error, committed func(*cdp.Engine)) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "cdp."+op)
	start := time.Now()
	defer func() {
		s.observe(ctx, span, op, start, err)
	}()

	tx := s.manager.Begin()
	buffer := &events.Buffer{}
	s.bank = s.bind(tx, buffer)
	err = fn(s.engine)
	if err != nil {
		tx.Discard()
	} else if commitErr := tx.Commit(); commitErr != nil {
		err = fmt.Errorf("cdp service: commit %s: %w", op, commitErr)
	}
	if err == nil && committed != nil {
		committed(s.engine)
	}
	s.bank = s.bind(s.manager, events.NoopEmitter{})
	if err != nil {
		return err
	}
	for _, evt := range buffer.Drain() {
		s.record(evt)
		s.sink.Emit(evt)
	}
	s.publish()
	return nil
}

// view runs a read-only fn against committed state.
func (s *Service) view(fn func(*cdp.Engine) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bank = s.bind(s.manager, events.NoopEmitter{})
	return fn(s.engine)
}

func (s *Service) observe(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = cdp.KindOf(err).Code()
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		if cdp.KindOf(err) == cdp.KindUnknown {
			s.logger.Error("cdp operation failed", "op", op, "error", err)
		}
	}
	span.SetAttributes(attribute.String("cdp.result", result))
	span.End()
	s.metrics.ObserveOperation(op, result, time.Since(start))
	s.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", result),
	))
}

func (s *Service) record(evt events.Event) {
	switch e := evt.(type) {
	case events.LiquidationBatch:
		s.metrics.RecordLiquidations(e.Denom, e.Processed, e.TotalDebt)
	case events.Redemption:
		s.metrics.RecordRedemption(e.Denom, e.Net)
	case events.PoolDepleted:
		s.metrics.RecordDepletion()
	}
}

// publish refreshes the ledger gauges from committed state. Caller holds mu.
func (s *Service) publish() {
	totals, err := s.engine.Totals()
	if err != nil {
		s.logger.Warn("cdp totals unavailable", "error", err)
		return
	}
	s.metrics.SetLedger(totals.TotalDebt, totals.TotalStake, totals.Epoch, totals.P)
	for _, c := range totals.Collateral {
		s.metrics.SetCollateral(c.Denom, c.Total, c.Vault)
	}
}

// OpenTrove opens a trove for owner.
func (s *Service) OpenTrove(ctx context.Context, owner crypto.Address, denom string, collateral, loan uint64) (*cdp.Trove, error) {
	var out *cdp.Trove
	err := s.mutate(ctx, "open_trove", func(e *cdp.Engine) (err error) {
		out, err = e.OpenTrove(ctx, owner, denom, collateral, loan)
		return err
	})
	return out, err
}

// AddCollateral locks more collateral in owner's trove.
func (s *Service) AddCollateral(ctx context.Context, owner crypto.Address, denom string, amount uint64) (*cdp.Trove, error) {
	var out *cdp.Trove
	err := s.mutate(ctx, "add_collateral", func(e *cdp.Engine) (err error) {
		out, err = e.AddCollateral(ctx, owner, denom, amount)
		return err
	})
	return out, err
}

// RemoveCollateral releases collateral from owner's trove.
func (s *Service) RemoveCollateral(ctx context.Context, owner crypto.Address, amount uint64) (*cdp.Trove, error) {
	var out *cdp.Trove
	err := s.mutate(ctx, "remove_collateral", func(e *cdp.Engine) (err error) {
		out, err = e.RemoveCollateral(ctx, owner, amount)
		return err
	})
	return out, err
}

// Borrow mints additional debt against owner's trove.
func (s *Service) Borrow(ctx context.Context, owner crypto.Address, amount uint64) (*cdp.Trove, error) {
	var out *cdp.Trove
	err := s.mutate(ctx, "borrow", func(e *cdp.Engine) (err error) {
		out, err = e.Borrow(ctx, owner, amount)
		return err
	})
	return out, err
}

// Repay burns stable tokens against owner's debt.
func (s *Service) Repay(ctx context.Context, owner crypto.Address, amount uint64) (*cdp.Trove, error) {
	var out *cdp.Trove
	err := s.mutate(ctx, "repay", func(e *cdp.Engine) (err error) {
		out, err = e.Repay(ctx, owner, amount)
		return err
	})
	return out, err
}

// CloseTrove repays all debt and returns all collateral.
func (s *Service) CloseTrove(ctx context.Context, owner crypto.Address) (*cdp.Trove, error) {
	var out *cdp.Trove
	err := s.mutate(ctx, "close_trove", func(e *cdp.Engine) (err error) {
		out, err = e.CloseTrove(ctx, owner)
		return err
	})
	return out, err
}

// Stake deposits stable tokens into the stability pool.
func (s *Service) Stake(ctx context.Context, owner crypto.Address, amount uint64) (*cdp.StabilityDeposit, error) {
	var out *cdp.StabilityDeposit
	err := s.mutate(ctx, "stake", func(e *cdp.Engine) (err error) {
		out, err = e.Stake(owner, amount)
		return err
	})
	return out, err
}

// Unstake withdraws stable tokens from the stability pool.
func (s *Service) Unstake(ctx context.Context, owner crypto.Address, amount uint64) (*cdp.StabilityDeposit, error) {
	var out *cdp.StabilityDeposit
	err := s.mutate(ctx, "unstake", func(e *cdp.Engine) (err error) {
		out, err = e.Unstake(owner, amount)
		return err
	})
	return out, err
}

// WithdrawGains pays out owner's liquidation gains in denom.
func (s *Service) WithdrawGains(ctx context.Context, owner crypto.Address, denom string) (uint64, error) {
	var out uint64
	err := s.mutate(ctx, "withdraw_gains", func(e *cdp.Engine) (err error) {
		out, err = e.WithdrawGains(owner, denom)
		return err
	})
	return out, err
}

// Liquidate absorbs a single trove below the minimum ratio.
func (s *Service) Liquidate(ctx context.Context, owner crypto.Address) (*cdp.LiquidationReport, error) {
	var out *cdp.LiquidationReport
	err := s.mutate(ctx, "liquidate", func(e *cdp.Engine) (err error) {
		out, err = e.Liquidate(ctx, owner)
		return err
	})
	return out, err
}

// LiquidateBatch absorbs the liquidatable prefix of an ascending owner list.
func (s *Service) LiquidateBatch(ctx context.Context, denom string, owners []crypto.Address) (*cdp.LiquidationReport, error) {
	var out *cdp.LiquidationReport
	err := s.mutate(ctx, "liquidate_batch", func(e *cdp.Engine) (err error) {
		out, err = e.LiquidateBatch(ctx, denom, owners)
		return err
	})
	return out, err
}

// Redeem exchanges stable tokens for collateral across an ascending owner list.
func (s *Service) Redeem(ctx context.Context, redeemer crypto.Address, denom string, amount uint64, owners []crypto.Address) (*cdp.RedemptionReport, error) {
	var out *cdp.RedemptionReport
	err := s.mutate(ctx, "redeem", func(e *cdp.Engine) (err error) {
		out, err = e.Redeem(ctx, redeemer, denom, amount, owners)
		return err
	})
	return out, err
}

// UpdateParams installs new engine parameters. The engine keeps its previous
// parameters unless the ledger update commits.
func (s *Service) UpdateParams(ctx context.Context, params cdp.Params) error {
	var staged cdp.Params
	return s.mutateThen(ctx, "update_params", func(e *cdp.Engine) (err error) {
		staged, err = e.StageParams(params)
		return err
	}, func(e *cdp.Engine) {
		e.SetParams(staged)
	})
}

// Credit mints collateral to an account. It backs devnet faucets and tests;
// the stable denom can only be minted by borrowing.
func (s *Service) Credit(ctx context.Context, denom string, to crypto.Address, amount uint64) error {
	denom = strings.ToLower(strings.TrimSpace(denom))
	return s.mutate(ctx, "credit", func(e *cdp.Engine) error {
		params := e.Params()
		if !params.SupportsDenom(denom) {
			return &cdp.Error{Kind: cdp.KindUnsupportedDenom, Op: "credit", Detail: denom}
		}
		if amount == 0 || to.IsZero() {
			return &cdp.Error{Kind: cdp.KindInvalidAmount, Op: "credit", Detail: "recipient and amount required"}
		}
		return s.bank.Mint(denom, to, amount)
	})
}

// SetPrice records an operator-supplied quote.
func (s *Service) SetPrice(ctx context.Context, data oracle.PriceData) error {
	return s.feed.Set(ctx, data)
}

// SetPaused flips a pause switch such as "cdp" or "cdp.redeem".
func (s *Service) SetPaused(name string, paused bool) {
	s.pauses.Set(name, paused)
	s.logger.Info("cdp pause updated", "name", name, "paused", paused)
}
