package state

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"aerocdp/crypto"
	"aerocdp/native/cdp"
)

var (
	cdpTrovePrefix      = []byte("cdp/trove/")
	cdpTroveIndexKey    = []byte("cdp/trove-index")
	cdpLedgerKey        = []byte("cdp/ledger")
	cdpDepositPrefix    = []byte("cdp/deposit/")
	cdpDepositIndexKey  = []byte("cdp/deposit-index")
	cdpGainPrefix       = []byte("cdp/gain/")
	cdpAccumulatorPref  = []byte("cdp/acc/")
	cdpAccumulatorIndex = []byte("cdp/acc-index")
	cdpEpochSumPrefix   = []byte("cdp/epoch-sum/")
	cdpCollateralPrefix = []byte("cdp/collateral/")
)

func prefixed(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part) + 1
	}
	key := make([]byte, 0, size)
	key = append(key, prefix...)
	for i, part := range parts {
		if i > 0 {
			key = append(key, '/')
		}
		key = append(key, part...)
	}
	return key
}

func denomBytes(denom string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(denom)))
}

func troveKey(owner crypto.Address) []byte { return prefixed(cdpTrovePrefix, owner.Bytes()) }

func depositKey(owner crypto.Address) []byte { return prefixed(cdpDepositPrefix, owner.Bytes()) }

func gainKey(owner crypto.Address, denom string) []byte {
	return prefixed(cdpGainPrefix, owner.Bytes(), denomBytes(denom))
}

func accumulatorKey(denom string) []byte { return prefixed(cdpAccumulatorPref, denomBytes(denom)) }

func epochSumKey(denom string, epoch uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], epoch)
	return prefixed(cdpEpochSumPrefix, denomBytes(denom), buf[:])
}

func collateralKey(denom string) []byte { return prefixed(cdpCollateralPrefix, denomBytes(denom)) }

// CDPStore persists engine records in a KVStore. Wrapping a Tx makes every
// write part of that transaction.
type CDPStore struct {
	kv KVStore
}

// NewCDPStore wraps kv.
func NewCDPStore(kv KVStore) *CDPStore {
	return &CDPStore{kv: kv}
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func (s *CDPStore) GetTrove(owner crypto.Address) (*cdp.Trove, error) {
	var trove cdp.Trove
	ok, err := s.kv.KVGet(troveKey(owner), &trove)
	if err != nil {
		return nil, fmt.Errorf("state: load trove %s: %w", owner, err)
	}
	if !ok {
		return nil, nil
	}
	return &trove, nil
}

// PutTrove stores the trove and records its owner in the trove index.
func (s *CDPStore) PutTrove(trove *cdp.Trove) error {
	if trove == nil || trove.Owner.IsZero() {
		return fmt.Errorf("state: trove owner required")
	}
	if err := s.kv.KVPut(troveKey(trove.Owner), trove); err != nil {
		return err
	}
	return s.kv.KVAppend(cdpTroveIndexKey, []byte(trove.Owner.String()))
}

// TroveOwners lists every owner that has ever stored a trove, in creation order.
func (s *CDPStore) TroveOwners() ([]crypto.Address, error) {
	return s.index(cdpTroveIndexKey)
}

// DepositOwners lists every owner that has ever staked.
func (s *CDPStore) DepositOwners() ([]crypto.Address, error) {
	return s.index(cdpDepositIndexKey)
}

func (s *CDPStore) index(key []byte) ([]crypto.Address, error) {
	var raw [][]byte
	if err := s.kv.KVGetList(key, &raw); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(raw))
	for _, b := range raw {
		addr, err := crypto.DecodeAddress(string(b))
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func (s *CDPStore) GetLedger() (*cdp.GlobalLedger, error) {
	var ledger cdp.GlobalLedger
	ok, err := s.kv.KVGet(cdpLedgerKey, &ledger)
	if err != nil {
		return nil, fmt.Errorf("state: load cdp ledger: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &ledger, nil
}

func (s *CDPStore) PutLedger(ledger *cdp.GlobalLedger) error {
	if ledger == nil {
		return fmt.Errorf("state: nil cdp ledger")
	}
	clone := ledger.Clone()
	clone.P = bigOrZero(clone.P)
	return s.kv.KVPut(cdpLedgerKey, clone)
}

func (s *CDPStore) GetDeposit(owner crypto.Address) (*cdp.StabilityDeposit, error) {
	var deposit cdp.StabilityDeposit
	ok, err := s.kv.KVGet(depositKey(owner), &deposit)
	if err != nil {
		return nil, fmt.Errorf("state: load deposit %s: %w", owner, err)
	}
	if !ok {
		return nil, nil
	}
	return &deposit, nil
}

func (s *CDPStore) PutDeposit(deposit *cdp.StabilityDeposit) error {
	if deposit == nil || deposit.Owner.IsZero() {
		return fmt.Errorf("state: deposit owner required")
	}
	clone := deposit.Clone()
	clone.PSnapshot = bigOrZero(clone.PSnapshot)
	if err := s.kv.KVPut(depositKey(deposit.Owner), clone); err != nil {
		return err
	}
	return s.kv.KVAppend(cdpDepositIndexKey, []byte(deposit.Owner.String()))
}

func (s *CDPStore) GetGainSnapshot(owner crypto.Address, denom string) (*cdp.GainSnapshot, error) {
	var snap cdp.GainSnapshot
	ok, err := s.kv.KVGet(gainKey(owner, denom), &snap)
	if err != nil {
		return nil, fmt.Errorf("state: load gain snapshot: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (s *CDPStore) PutGainSnapshot(snap *cdp.GainSnapshot) error {
	if snap == nil {
		return fmt.Errorf("state: nil gain snapshot")
	}
	clone := *snap
	clone.S = bigOrZero(clone.S)
	return s.kv.KVPut(gainKey(snap.Owner, snap.Denom), &clone)
}

func (s *CDPStore) GetAccumulator(denom string) (*cdp.DenomAccumulator, error) {
	var acc cdp.DenomAccumulator
	ok, err := s.kv.KVGet(accumulatorKey(denom), &acc)
	if err != nil {
		return nil, fmt.Errorf("state: load accumulator %s: %w", denom, err)
	}
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (s *CDPStore) PutAccumulator(acc *cdp.DenomAccumulator) error {
	if acc == nil {
		return fmt.Errorf("state: nil accumulator")
	}
	clone := *acc
	clone.S = bigOrZero(clone.S)
	if err := s.kv.KVPut(accumulatorKey(acc.Denom), &clone); err != nil {
		return err
	}
	return s.kv.KVAppend(cdpAccumulatorIndex, denomBytes(acc.Denom))
}

// AccumulatorDenoms lists the denoms with a stored accumulator, sorted.
func (s *CDPStore) AccumulatorDenoms() ([]string, error) {
	var raw [][]byte
	if err := s.kv.KVGetList(cdpAccumulatorIndex, &raw); err != nil {
		return nil, fmt.Errorf("state: load accumulator index: %w", err)
	}
	out := make([]string, 0, len(raw))
	for _, b := range raw {
		out = append(out, string(b))
	}
	sort.Strings(out)
	return out, nil
}

// GetEpochSum returns the final S of denom for a closed epoch.
func (s *CDPStore) GetEpochSum(denom string, epoch uint64) (*big.Int, error) {
	sum := new(big.Int)
	ok, err := s.kv.KVGet(epochSumKey(denom, epoch), sum)
	if err != nil {
		return nil, fmt.Errorf("state: load epoch sum: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return sum, nil
}

func (s *CDPStore) PutEpochSum(denom string, epoch uint64, sum *big.Int) error {
	return s.kv.KVPut(epochSumKey(denom, epoch), bigOrZero(sum))
}

func (s *CDPStore) GetCollateralTotal(denom string) (*cdp.CollateralTotal, error) {
	var total cdp.CollateralTotal
	ok, err := s.kv.KVGet(collateralKey(denom), &total)
	if err != nil {
		return nil, fmt.Errorf("state: load collateral total %s: %w", denom, err)
	}
	if !ok {
		return nil, nil
	}
	return &total, nil
}

func (s *CDPStore) PutCollateralTotal(total *cdp.CollateralTotal) error {
	if total == nil {
		return fmt.Errorf("state: nil collateral total")
	}
	return s.kv.KVPut(collateralKey(total.Denom), total)
}
