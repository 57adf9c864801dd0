package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"aerocdp/core/state"
	"aerocdp/crypto"
	"aerocdp/native/cdp"
)

// RankedTrove is one entry of the ICR-sorted trove list.
type RankedTrove struct {
	Owner      crypto.Address
	Denom      string
	Collateral uint64
	Debt       uint64
	ICR        uint64
}

// Trove returns owner's stored trove.
func (s *Service) Trove(owner crypto.Address) (*cdp.Trove, error) {
	var out *cdp.Trove
	err := s.view(func(e *cdp.Engine) (err error) {
		out, err = e.Trove(owner)
		return err
	})
	return out, err
}

// CurrentICR prices owner's trove at the latest quote.
func (s *Service) CurrentICR(ctx context.Context, owner crypto.Address) (uint64, error) {
	var out uint64
	err := s.view(func(e *cdp.Engine) (err error) {
		out, err = e.CurrentICR(ctx, owner)
		return err
	})
	return out, err
}

// StakePosition returns owner's compounded stability deposit.
func (s *Service) StakePosition(owner crypto.Address) (*cdp.StakePosition, error) {
	var out *cdp.StakePosition
	err := s.view(func(e *cdp.Engine) (err error) {
		out, err = e.StakePosition(owner)
		return err
	})
	return out, err
}

// PendingGain returns owner's withdrawable gain in denom.
func (s *Service) PendingGain(owner crypto.Address, denom string) (uint64, error) {
	var out uint64
	err := s.view(func(e *cdp.Engine) (err error) {
		out, err = e.PendingGain(owner, denom)
		return err
	})
	return out, err
}

// Totals returns the protocol aggregates.
func (s *Service) Totals() (*cdp.Totals, error) {
	var out *cdp.Totals
	err := s.view(func(e *cdp.Engine) (err error) {
		out, err = e.Totals()
		return err
	})
	return out, err
}

// Liquidatable returns the liquidatable prefix of an ascending owner list.
func (s *Service) Liquidatable(ctx context.Context, denom string, owners []crypto.Address) ([]crypto.Address, error) {
	var out []crypto.Address
	err := s.view(func(e *cdp.Engine) (err error) {
		out, err = e.Liquidatable(ctx, denom, owners)
		return err
	})
	return out, err
}

// Balance returns addr's bank balance in denom.
func (s *Service) Balance(denom string, addr crypto.Address) (uint64, error) {
	var out uint64
	err := s.view(func(*cdp.Engine) (err error) {
		out, err = s.bank.Balance(denom, addr)
		return err
	})
	return out, err
}

// SortedTroves lists active troves of denom in ascending ICR order at the
// current price, breaking ties by owner. A positive limit truncates the list.
// This is the off-chain sorter that produces the ordered candidate lists the
// engine verifies.
func (s *Service) SortedTroves(ctx context.Context, denom string, limit int) ([]RankedTrove, error) {
	denom = strings.ToLower(strings.TrimSpace(denom))
	var out []RankedTrove
	err := s.view(func(e *cdp.Engine) error {
		if !e.Params().SupportsDenom(denom) {
			return &cdp.Error{Kind: cdp.KindUnsupportedDenom, Op: "sorted_troves", Detail: denom}
		}
		store := state.NewCDPStore(s.manager)
		owners, err := store.TroveOwners()
		if err != nil {
			return err
		}
		price, err := s.feed.Price(ctx, denom)
		if err != nil {
			return fmt.Errorf("cdp service: price %s: %w", denom, err)
		}
		for _, owner := range owners {
			trove, err := store.GetTrove(owner)
			if err != nil {
				return err
			}
			if trove == nil || !trove.Active || trove.Debt == 0 || trove.Denom != denom {
				continue
			}
			icr, err := cdp.TroveICR(trove.Collateral, trove.Debt, price.Price, price.Decimal)
			if err != nil {
				return err
			}
			out = append(out, RankedTrove{
				Owner:      trove.Owner,
				Denom:      trove.Denom,
				Collateral: trove.Collateral,
				Debt:       trove.Debt,
				ICR:        icr,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ICR != out[j].ICR {
			return out[i].ICR < out[j].ICR
		}
		return out[i].Owner.String() < out[j].Owner.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LiquidateSorted sorts the troves of denom and liquidates the eligible
// prefix, up to the batch cap.
func (s *Service) LiquidateSorted(ctx context.Context, denom string) (*cdp.LiquidationReport, error) {
	ranked, err := s.SortedTroves(ctx, denom, s.Params().MaxLiquidationBatch)
	if err != nil {
		return nil, err
	}
	return s.LiquidateBatch(ctx, denom, owners(ranked))
}

// RedemptionHints returns the lowest-ICR owners whose combined debt covers
// amount, capped by the batch limit.
func (s *Service) RedemptionHints(ctx context.Context, denom string, amount uint64) ([]crypto.Address, error) {
	ranked, err := s.SortedTroves(ctx, denom, s.Params().MaxLiquidationBatch)
	if err != nil {
		return nil, err
	}
	var covered uint64
	for i, r := range ranked {
		covered += r.Debt
		if covered >= amount || covered < r.Debt {
			return owners(ranked[:i+1]), nil
		}
	}
	return owners(ranked), nil
}

func owners(ranked []RankedTrove) []crypto.Address {
	out := make([]crypto.Address, len(ranked))
	for i, r := range ranked {
		out[i] = r.Owner
	}
	return out
}
