package cdp

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"testing"

	"aerocdp/crypto"
	"aerocdp/native/fees"
	"aerocdp/native/oracle"
)

// unit is one micro-USD of 18-decimal debt. With a price of 10 at decimal 1 a
// collateral amount equals its micro-USD value, so c collateral against k*unit
// debt yields an ICR of c*1e8/k.
const unit uint64 = 1_000_000_000_000

type mockEngineState struct {
	troves   map[string]*Trove
	ledger   *GlobalLedger
	deposits map[string]*StabilityDeposit
	gains    map[string]*GainSnapshot
	accs     map[string]*DenomAccumulator
	sums     map[string]*big.Int
	totals   map[string]*CollateralTotal
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		troves:   make(map[string]*Trove),
		deposits: make(map[string]*StabilityDeposit),
		gains:    make(map[string]*GainSnapshot),
		accs:     make(map[string]*DenomAccumulator),
		sums:     make(map[string]*big.Int),
		totals:   make(map[string]*CollateralTotal),
	}
}

func (m *mockEngineState) key(addr crypto.Address) string {
	return string(addr.Bytes())
}

func (m *mockEngineState) GetTrove(owner crypto.Address) (*Trove, error) {
	return m.troves[m.key(owner)], nil
}

func (m *mockEngineState) PutTrove(trove *Trove) error {
	m.troves[m.key(trove.Owner)] = trove.Clone()
	return nil
}

func (m *mockEngineState) GetLedger() (*GlobalLedger, error) { return m.ledger, nil }

func (m *mockEngineState) PutLedger(ledger *GlobalLedger) error {
	m.ledger = ledger.Clone()
	return nil
}

func (m *mockEngineState) GetDeposit(owner crypto.Address) (*StabilityDeposit, error) {
	return m.deposits[m.key(owner)], nil
}

func (m *mockEngineState) PutDeposit(deposit *StabilityDeposit) error {
	m.deposits[m.key(deposit.Owner)] = deposit.Clone()
	return nil
}

func (m *mockEngineState) GetGainSnapshot(owner crypto.Address, denom string) (*GainSnapshot, error) {
	return m.gains[m.key(owner)+"/"+denom], nil
}

func (m *mockEngineState) PutGainSnapshot(snapshot *GainSnapshot) error {
	clone := *snapshot
	clone.S = new(big.Int).Set(snapshot.S)
	m.gains[m.key(snapshot.Owner)+"/"+snapshot.Denom] = &clone
	return nil
}

func (m *mockEngineState) GetAccumulator(denom string) (*DenomAccumulator, error) {
	return m.accs[denom], nil
}

func (m *mockEngineState) PutAccumulator(acc *DenomAccumulator) error {
	m.accs[acc.Denom] = &DenomAccumulator{Denom: acc.Denom, Epoch: acc.Epoch, S: new(big.Int).Set(acc.S)}
	return nil
}

func (m *mockEngineState) AccumulatorDenoms() ([]string, error) {
	out := make([]string, 0, len(m.accs))
	for denom := range m.accs {
		out = append(out, denom)
	}
	sort.Strings(out)
	return out, nil
}

func (m *mockEngineState) GetEpochSum(denom string, epoch uint64) (*big.Int, error) {
	return m.sums[fmt.Sprintf("%s/%d", denom, epoch)], nil
}

func (m *mockEngineState) PutEpochSum(denom string, epoch uint64, sum *big.Int) error {
	m.sums[fmt.Sprintf("%s/%d", denom, epoch)] = new(big.Int).Set(sum)
	return nil
}

func (m *mockEngineState) GetCollateralTotal(denom string) (*CollateralTotal, error) {
	return m.totals[denom], nil
}

func (m *mockEngineState) PutCollateralTotal(total *CollateralTotal) error {
	clone := *total
	m.totals[total.Denom] = &clone
	return nil
}

type mockBank struct {
	balances map[string]uint64
	supply   map[string]uint64
}

func newMockBank() *mockBank {
	return &mockBank{balances: make(map[string]uint64), supply: make(map[string]uint64)}
}

func (b *mockBank) key(denom string, addr crypto.Address) string {
	return denom + "/" + string(addr.Bytes())
}

func (b *mockBank) Balance(denom string, addr crypto.Address) (uint64, error) {
	return b.balances[b.key(denom, addr)], nil
}

func (b *mockBank) Transfer(denom string, from, to crypto.Address, amount uint64) error {
	if b.balances[b.key(denom, from)] < amount {
		return fmt.Errorf("insufficient %s balance", denom)
	}
	b.balances[b.key(denom, from)] -= amount
	b.balances[b.key(denom, to)] += amount
	return nil
}

func (b *mockBank) Mint(denom string, to crypto.Address, amount uint64) error {
	b.balances[b.key(denom, to)] += amount
	b.supply[denom] += amount
	return nil
}

func (b *mockBank) Burn(denom string, from crypto.Address, amount uint64) error {
	if b.balances[b.key(denom, from)] < amount {
		return fmt.Errorf("insufficient %s balance", denom)
	}
	b.balances[b.key(denom, from)] -= amount
	b.supply[denom] -= amount
	return nil
}

func (b *mockBank) balance(denom string, addr crypto.Address) uint64 {
	return b.balances[b.key(denom, addr)]
}

func makeAddress(prefix crypto.AddressPrefix, suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(prefix, raw)
}

type fixture struct {
	engine  *Engine
	state   *mockEngineState
	bank    *mockBank
	feed    *oracle.Feed
	vault   crypto.Address
	custody crypto.Address
	fee1    crypto.Address
	fee2    crypto.Address
}

func testParams() Params {
	return Params{
		MinimumCollateralRatio:  DefaultMinimumCollateralRatio,
		ProtocolFeePercent:      5,
		MinimumLoanAmount:       1,
		MinimumCollateralAmount: 1,
		StableDenom:             "ausd",
		CollateralDenoms:        []string{"atom", "osmo"},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		state:   newMockEngineState(),
		bank:    newMockBank(),
		feed:    oracle.NewFeed(0),
		vault:   makeAddress(crypto.ModulePrefix, 0x01),
		custody: makeAddress(crypto.ModulePrefix, 0x02),
		fee1:    makeAddress(crypto.AccountPrefix, 0xF1),
		fee2:    makeAddress(crypto.AccountPrefix, 0xF2),
	}
	f.engine = NewEngine(f.vault, f.custody, testParams())
	f.engine.SetState(f.state)
	f.engine.SetBank(f.bank)
	f.engine.SetPriceSource(f.feed)
	f.engine.SetFeeCollector(fees.NewDistributor(f.bank, "ausd", fees.Routing{FeeAddress1: f.fee1, FeeAddress2: f.fee2}))
	f.setPrice(t, "atom", 10)
	f.setPrice(t, "osmo", 10)
	return f
}

func (f *fixture) setPrice(t *testing.T, denom string, price uint64) {
	t.Helper()
	if err := f.feed.Set(context.Background(), oracle.PriceData{Denom: denom, Price: price, Decimal: 1}); err != nil {
		t.Fatalf("set price: %v", err)
	}
}

// openTrove funds owner with collateral and opens a trove of debt k*unit.
func (f *fixture) openTrove(t *testing.T, owner crypto.Address, denom string, collateral, k uint64) *Trove {
	t.Helper()
	f.bank.Mint(denom, owner, collateral)
	trove, err := f.engine.OpenTrove(context.Background(), owner, denom, collateral, k*unit)
	if err != nil {
		t.Fatalf("open trove: %v", err)
	}
	return trove
}

func (f *fixture) stake(t *testing.T, owner crypto.Address, k uint64) {
	t.Helper()
	f.bank.Mint("ausd", owner, k*unit)
	if _, err := f.engine.Stake(owner, k*unit); err != nil {
		t.Fatalf("stake: %v", err)
	}
}

func (f *fixture) ledger(t *testing.T) *GlobalLedger {
	t.Helper()
	ledger, err := f.engine.loadLedger()
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	return ledger
}

// checkConsistency asserts that global totals match the per-trove records and
// that custody holds exactly the tracked collateral.
func (f *fixture) checkConsistency(t *testing.T) {
	t.Helper()
	ledger := f.ledger(t)
	var debt uint64
	collateral := make(map[string]uint64)
	for _, trove := range f.state.troves {
		if trove.Active {
			debt += trove.Debt
		} else if trove.Debt != 0 || trove.Collateral != 0 {
			t.Fatalf("inactive trove %s retains debt=%d collateral=%d", trove.Owner, trove.Debt, trove.Collateral)
		}
		collateral[trove.Denom] += trove.Collateral
	}
	if debt != ledger.TotalDebt {
		t.Fatalf("total debt %d, troves owe %d", ledger.TotalDebt, debt)
	}
	for denom, total := range f.state.totals {
		if total.Total != collateral[denom]+total.Vault {
			t.Fatalf("%s total %d, troves %d + vault %d", denom, total.Total, collateral[denom], total.Vault)
		}
		if held := f.bank.balance(denom, f.custody); held != total.Total {
			t.Fatalf("%s custody holds %d, tracked %d", denom, held, total.Total)
		}
	}
}
