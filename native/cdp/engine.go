package cdp

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"aerocdp/core/events"
	"aerocdp/crypto"
	nativecommon "aerocdp/native/common"
	"aerocdp/native/fees"
	"aerocdp/native/oracle"
)

const moduleName = "cdp"

// engineState is the persistence surface the engine reads and writes. Getters
// return a nil record without error when nothing is stored.
type engineState interface {
	GetTrove(owner crypto.Address) (*Trove, error)
	PutTrove(trove *Trove) error
	GetLedger() (*GlobalLedger, error)
	PutLedger(ledger *GlobalLedger) error
	GetDeposit(owner crypto.Address) (*StabilityDeposit, error)
	PutDeposit(deposit *StabilityDeposit) error
	GetGainSnapshot(owner crypto.Address, denom string) (*GainSnapshot, error)
	PutGainSnapshot(snapshot *GainSnapshot) error
	GetAccumulator(denom string) (*DenomAccumulator, error)
	PutAccumulator(acc *DenomAccumulator) error
	// AccumulatorDenoms lists every denom that has ever stored an
	// accumulator, including denoms no longer accepted as collateral.
	AccumulatorDenoms() ([]string, error)
	GetEpochSum(denom string, epoch uint64) (*big.Int, error)
	PutEpochSum(denom string, epoch uint64, sum *big.Int) error
	GetCollateralTotal(denom string) (*CollateralTotal, error)
	PutCollateralTotal(total *CollateralTotal) error
}

// Bank executes token movements on behalf of the engine.
type Bank interface {
	Balance(denom string, addr crypto.Address) (uint64, error)
	Transfer(denom string, from, to crypto.Address, amount uint64) error
	Mint(denom string, to crypto.Address, amount uint64) error
	Burn(denom string, from crypto.Address, amount uint64) error
}

// FeeCollector charges protocol fees. Plan must describe exactly what
// Distribute would move.
type FeeCollector interface {
	Plan(amount, percent uint64) (fees.Distribution, error)
	Distribute(payer crypto.Address, amount, percent uint64) (fees.Distribution, error)
}

// PriceSource resolves collateral prices.
type PriceSource interface {
	Price(ctx context.Context, denom string) (oracle.PriceData, error)
}

// Engine implements trove management, the stability pool, liquidations and
// redemptions. Every operation validates its complete effect before writing,
// and the caller is expected to run it inside an all-or-nothing transaction.
type Engine struct {
	state     engineState
	bank      Bank
	fees      FeeCollector
	prices    PriceSource
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	logger    *slog.Logger
	params    Params
	poolVault crypto.Address
	custody   crypto.Address
	now       func() time.Time
}

// NewEngine constructs an engine. poolVault holds staked stable tokens and
// custody holds collateral for troves and undistributed liquidation gains.
func NewEngine(poolVault, custody crypto.Address, params Params) *Engine {
	return &Engine{
		poolVault: poolVault,
		custody:   custody,
		params:    params.Normalize(),
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBank wires the token ledger.
func (e *Engine) SetBank(bank Bank) {
	if e == nil {
		return
	}
	e.bank = bank
}

// SetFeeCollector wires the protocol fee distributor.
func (e *Engine) SetFeeCollector(collector FeeCollector) {
	if e == nil {
		return
	}
	e.fees = collector
}

// SetPriceSource wires the collateral price oracle.
func (e *Engine) SetPriceSource(source PriceSource) {
	if e == nil {
		return
	}
	e.prices = source
}

// SetEmitter configures the event sink. A nil emitter discards events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

// SetClock overrides the time source used for record timestamps.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// Params returns the active engine parameters.
func (e *Engine) Params() Params {
	if e == nil {
		return Params{}
	}
	return e.params
}

// PoolVault returns the account holding staked stable tokens.
func (e *Engine) PoolVault() crypto.Address { return e.poolVault }

// Custody returns the account holding collateral.
func (e *Engine) Custody() crypto.Address { return e.custody }

// UpdateParams validates and installs new parameters and records the ratio and
// fee on the global ledger.
func (e *Engine) UpdateParams(params Params) error {
	staged, err := e.StageParams(params)
	if err != nil {
		return err
	}
	e.SetParams(staged)
	return nil
}

// StageParams validates params and records the ratio and fee on the global
// ledger without installing them. The caller installs the returned value with
// SetParams once the ledger write is durable.
func (e *Engine) StageParams(params Params) (Params, error) {
	if e == nil || e.state == nil {
		return Params{}, errNilState
	}
	params = params.Normalize()
	if err := params.Validate(); err != nil {
		return Params{}, newError(KindInvalidAmount, "update_params", "%v", err)
	}
	ledger, err := e.loadLedger()
	if err != nil {
		return Params{}, err
	}
	ledger.MinimumCollateralRatio = params.MinimumCollateralRatio
	ledger.ProtocolFeePercent = params.ProtocolFeePercent
	if err := e.state.PutLedger(ledger); err != nil {
		return Params{}, err
	}
	return params, nil
}

// SetParams installs already validated parameters.
func (e *Engine) SetParams(params Params) {
	if e == nil {
		return
	}
	e.params = params.Normalize()
}

func (e *Engine) begin(action string, needBank bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if needBank && e.bank == nil {
		return errors.New("cdp engine: bank not configured")
	}
	if err := nativecommon.GuardAction(e.pauses, moduleName, action); err != nil {
		return &Error{Kind: KindPaused, Op: action, Err: err}
	}
	return nil
}

func (e *Engine) timestamp() uint64 {
	ts := e.now().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(evt)
	}
}

func (e *Engine) loadLedger() (*GlobalLedger, error) {
	ledger, err := e.state.GetLedger()
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		return &GlobalLedger{
			MinimumCollateralRatio: e.params.MinimumCollateralRatio,
			ProtocolFeePercent:     e.params.ProtocolFeePercent,
			P:                      new(big.Int).Set(scaleFactor),
		}, nil
	}
	ledger = ledger.Clone()
	if ledger.P == nil || ledger.P.Sign() <= 0 {
		ledger.P = new(big.Int).Set(scaleFactor)
	}
	if ledger.MinimumCollateralRatio == 0 {
		ledger.MinimumCollateralRatio = e.params.MinimumCollateralRatio
	}
	return ledger, nil
}

func (e *Engine) loadActiveTrove(op string, owner crypto.Address) (*Trove, error) {
	trove, err := e.state.GetTrove(owner)
	if err != nil {
		return nil, err
	}
	if trove == nil {
		return nil, newError(KindTroveNotFound, op, "%s", owner)
	}
	if !trove.Active {
		return nil, newError(KindTroveInactive, op, "%s", owner)
	}
	return trove.Clone(), nil
}

func (e *Engine) loadCollateralTotal(denom string) (*CollateralTotal, error) {
	total, err := e.state.GetCollateralTotal(denom)
	if err != nil {
		return nil, err
	}
	if total == nil {
		return &CollateralTotal{Denom: denom}, nil
	}
	clone := *total
	return &clone, nil
}

// quote fetches and validates a price for denom.
func (e *Engine) quote(ctx context.Context, op, denom string) (oracle.PriceData, error) {
	if e.prices == nil {
		return oracle.PriceData{}, newError(KindPriceInvalid, op, "price source not configured")
	}
	data, err := e.prices.Price(ctx, denom)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return oracle.PriceData{}, ctxErr
		}
		if errors.Is(err, oracle.ErrStalePrice) {
			return oracle.PriceData{}, wrapError(KindPriceStale, op, err)
		}
		return oracle.PriceData{}, wrapError(KindPriceInvalid, op, err)
	}
	if data.Price == 0 {
		return oracle.PriceData{}, newError(KindPriceInvalid, op, "%s price must be positive", denom)
	}
	return data, nil
}

func (e *Engine) requireBalance(op, denom string, addr crypto.Address, amount uint64) error {
	balance, err := e.bank.Balance(denom, addr)
	if err != nil {
		return err
	}
	if balance < amount {
		return newError(KindInsufficientFunds, op, "%s holds %d %s, needs %d", addr, balance, denom, amount)
	}
	return nil
}

// planFee computes the protocol fee on amount without moving funds.
func (e *Engine) planFee(op string, amount, percent uint64) (fees.Distribution, error) {
	if percent == 0 {
		return fees.Distribution{ApplyResult: fees.ApplyResult{Gross: amount, Net: amount}}, nil
	}
	if e.fees == nil {
		return fees.Distribution{}, newError(KindInvalidAmount, op, "fee collector not configured")
	}
	dist, err := e.fees.Plan(amount, percent)
	if err != nil {
		return fees.Distribution{}, wrapError(KindInvalidAmount, op, err)
	}
	return dist, nil
}

func (e *Engine) chargeFee(payer crypto.Address, amount, percent uint64, planned fees.Distribution) error {
	if planned.Fee == 0 {
		return nil
	}
	_, err := e.fees.Distribute(payer, amount, percent)
	return err
}

// currentSum returns S for denom in the given (current) epoch.
func (e *Engine) currentSum(denom string, epoch uint64) (*big.Int, error) {
	acc, err := e.state.GetAccumulator(denom)
	if err != nil {
		return nil, err
	}
	if acc == nil || acc.S == nil || acc.Epoch != epoch {
		return new(big.Int), nil
	}
	return new(big.Int).Set(acc.S), nil
}

// sumAt returns the final (or current) S for denom in epoch.
func (e *Engine) sumAt(denom string, epoch uint64) (*big.Int, error) {
	acc, err := e.state.GetAccumulator(denom)
	if err != nil {
		return nil, err
	}
	if acc != nil && acc.Epoch == epoch && acc.S != nil {
		return new(big.Int).Set(acc.S), nil
	}
	archived, err := e.state.GetEpochSum(denom, epoch)
	if err != nil {
		return nil, err
	}
	if archived == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(archived), nil
}
