package state

import (
	"errors"
	"fmt"
	"math"

	"aerocdp/crypto"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the account balance.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrBalanceOverflow is returned when a credit would exceed 64 bits.
	ErrBalanceOverflow = errors.New("state: balance overflow")

	bankBalancePrefix = []byte("bank/balance/")
	bankSupplyPrefix  = []byte("bank/supply/")
)

func balanceKey(denom string, addr crypto.Address) []byte {
	return prefixed(bankBalancePrefix, denomBytes(denom), addr.Bytes())
}

func supplyKey(denom string) []byte { return prefixed(bankSupplyPrefix, denomBytes(denom)) }

// Bank keeps per-denom token balances and supplies in a KVStore.
type Bank struct {
	kv KVStore
}

// NewBank wraps kv.
func NewBank(kv KVStore) *Bank {
	return &Bank{kv: kv}
}

func (b *Bank) load(key []byte) (uint64, error) {
	var v uint64
	if _, err := b.kv.KVGet(key, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (b *Bank) store(key []byte, v uint64) error {
	if v == 0 {
		return b.kv.KVDelete(key)
	}
	return b.kv.KVPut(key, v)
}

// Balance returns the balance of addr in denom.
func (b *Bank) Balance(denom string, addr crypto.Address) (uint64, error) {
	return b.load(balanceKey(denom, addr))
}

// Supply returns the minted supply of denom.
func (b *Bank) Supply(denom string) (uint64, error) {
	return b.load(supplyKey(denom))
}

func (b *Bank) debit(denom string, addr crypto.Address, amount uint64) error {
	key := balanceKey(denom, addr)
	balance, err := b.load(key)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("%w: %s holds %d %s, needs %d", ErrInsufficientBalance, addr, balance, denom, amount)
	}
	return b.store(key, balance-amount)
}

func (b *Bank) credit(denom string, addr crypto.Address, amount uint64) error {
	key := balanceKey(denom, addr)
	balance, err := b.load(key)
	if err != nil {
		return err
	}
	if balance > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s %s", ErrBalanceOverflow, addr, denom)
	}
	return b.store(key, balance+amount)
}

// Transfer moves amount of denom between accounts.
func (b *Bank) Transfer(denom string, from, to crypto.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := b.debit(denom, from, amount); err != nil {
		return err
	}
	return b.credit(denom, to, amount)
}

// Mint credits newly issued tokens to addr.
func (b *Bank) Mint(denom string, to crypto.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	supply, err := b.Supply(denom)
	if err != nil {
		return err
	}
	if supply > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s supply", ErrBalanceOverflow, denom)
	}
	if err := b.credit(denom, to, amount); err != nil {
		return err
	}
	return b.store(supplyKey(denom), supply+amount)
}

// Burn destroys tokens held by addr.
func (b *Bank) Burn(denom string, from crypto.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	supply, err := b.Supply(denom)
	if err != nil {
		return err
	}
	if supply < amount {
		return fmt.Errorf("%w: %s supply %d below burn %d", ErrInsufficientBalance, denom, supply, amount)
	}
	if err := b.debit(denom, from, amount); err != nil {
		return err
	}
	return b.store(supplyKey(denom), supply-amount)
}
