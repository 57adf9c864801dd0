package server

import (
	"aerocdp/crypto"
	"aerocdp/native/cdp"
	"aerocdp/native/oracle"
	"aerocdp/services/cdp/engine"
	"aerocdp/services/cdp/journal"
)

// Amounts travel as decimal strings so 64-bit values survive JavaScript
// clients.

type openTroveRequest struct {
	Owner      string `json:"owner"`
	Denom      string `json:"denom"`
	Collateral uint64 `json:"collateral,string"`
	Loan       uint64 `json:"loan,string"`
}

type amountRequest struct {
	Owner  string `json:"owner"`
	Denom  string `json:"denom,omitempty"`
	Amount uint64 `json:"amount,string"`
}

type ownerRequest struct {
	Owner string `json:"owner"`
	Denom string `json:"denom,omitempty"`
}

type batchRequest struct {
	Denom  string   `json:"denom"`
	Owners []string `json:"owners"`
}

type redeemRequest struct {
	Owner  string   `json:"owner"`
	Denom  string   `json:"denom"`
	Amount uint64   `json:"amount,string"`
	Owners []string `json:"owners,omitempty"`
}

type creditRequest struct {
	Denom  string `json:"denom"`
	To     string `json:"to"`
	Amount uint64 `json:"amount,string"`
}

type priceRequest struct {
	Denom      string `json:"denom"`
	Price      uint64 `json:"price,string"`
	Decimal    uint8  `json:"decimal"`
	Confidence uint64 `json:"confidence,string,omitempty"`
	Exponent   int32  `json:"exponent,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

type pauseRequest struct {
	Name   string `json:"name"`
	Paused bool   `json:"paused"`
}

// ParamsView is the wire form of cdp.Params.
type ParamsView struct {
	MinimumCollateralRatio  uint64   `json:"minimum_collateral_ratio,string"`
	ProtocolFeePercent      uint64   `json:"protocol_fee_percent,string"`
	MinimumLoanAmount       uint64   `json:"minimum_loan_amount,string"`
	MinimumCollateralAmount uint64   `json:"minimum_collateral_amount,string"`
	MaxLiquidationBatch     int      `json:"max_liquidation_batch"`
	StableDenom             string   `json:"stable_denom"`
	CollateralDenoms        []string `json:"collateral_denoms"`
}

func paramsView(p cdp.Params) ParamsView {
	return ParamsView{
		MinimumCollateralRatio:  p.MinimumCollateralRatio,
		ProtocolFeePercent:      p.ProtocolFeePercent,
		MinimumLoanAmount:       p.MinimumLoanAmount,
		MinimumCollateralAmount: p.MinimumCollateralAmount,
		MaxLiquidationBatch:     p.MaxLiquidationBatch,
		StableDenom:             p.StableDenom,
		CollateralDenoms:        p.CollateralDenoms,
	}
}

func (v ParamsView) params() cdp.Params {
	return cdp.Params{
		MinimumCollateralRatio:  v.MinimumCollateralRatio,
		ProtocolFeePercent:      v.ProtocolFeePercent,
		MinimumLoanAmount:       v.MinimumLoanAmount,
		MinimumCollateralAmount: v.MinimumCollateralAmount,
		MaxLiquidationBatch:     v.MaxLiquidationBatch,
		StableDenom:             v.StableDenom,
		CollateralDenoms:        v.CollateralDenoms,
	}
}

// TroveView is the wire form of a trove.
type TroveView struct {
	Owner      string `json:"owner"`
	Denom      string `json:"denom"`
	Collateral uint64 `json:"collateral,string"`
	Debt       uint64 `json:"debt,string"`
	ICR        uint64 `json:"icr,string"`
	Active     bool   `json:"active"`
	UpdatedAt  uint64 `json:"updated_at"`
}

func troveView(t *cdp.Trove) TroveView {
	return TroveView{
		Owner:      t.Owner.String(),
		Denom:      t.Denom,
		Collateral: t.Collateral,
		Debt:       t.Debt,
		ICR:        t.ICR,
		Active:     t.Active,
		UpdatedAt:  t.UpdatedAt,
	}
}

func rankedView(r engine.RankedTrove) TroveView {
	return TroveView{
		Owner:      r.Owner.String(),
		Denom:      r.Denom,
		Collateral: r.Collateral,
		Debt:       r.Debt,
		ICR:        r.ICR,
		Active:     true,
	}
}

// DepositView is the wire form of a recorded stability deposit.
type DepositView struct {
	Owner      string `json:"owner"`
	Amount     uint64 `json:"amount,string"`
	Epoch      uint64 `json:"epoch"`
	LastUpdate uint64 `json:"last_update"`
}

func depositView(d *cdp.StabilityDeposit) DepositView {
	return DepositView{Owner: d.Owner.String(), Amount: d.Amount, Epoch: d.EpochSnapshot, LastUpdate: d.LastUpdate}
}

// StakeView is the wire form of a compounded stake position.
type StakeView struct {
	Owner      string `json:"owner"`
	Recorded   uint64 `json:"recorded,string"`
	Compounded uint64 `json:"compounded,string"`
	Share      string `json:"share"`
	Epoch      uint64 `json:"epoch"`
}

func stakeView(p *cdp.StakePosition) StakeView {
	share := "0"
	if p.Share != nil {
		share = p.Share.String()
	}
	return StakeView{Owner: p.Owner.String(), Recorded: p.Recorded, Compounded: p.Compounded, Share: share, Epoch: p.Epoch}
}

type collateralView struct {
	Denom string `json:"denom"`
	Total uint64 `json:"total,string"`
	Vault uint64 `json:"vault,string"`
}

// TotalsView is the wire form of the protocol aggregates.
type TotalsView struct {
	TotalDebt              uint64           `json:"total_debt,string"`
	TotalStake             uint64           `json:"total_stake,string"`
	MinimumCollateralRatio uint64           `json:"minimum_collateral_ratio,string"`
	ProtocolFeePercent     uint64           `json:"protocol_fee_percent,string"`
	ProductFactor          string           `json:"product_factor"`
	Epoch                  uint64           `json:"epoch"`
	Collateral             []collateralView `json:"collateral"`
}

func totalsView(t *cdp.Totals) TotalsView {
	out := TotalsView{
		TotalDebt:              t.TotalDebt,
		TotalStake:             t.TotalStake,
		MinimumCollateralRatio: t.MinimumCollateralRatio,
		ProtocolFeePercent:     t.ProtocolFeePercent,
		ProductFactor:          "0",
		Epoch:                  t.Epoch,
		Collateral:             make([]collateralView, 0, len(t.Collateral)),
	}
	if t.P != nil {
		out.ProductFactor = t.P.String()
	}
	for _, c := range t.Collateral {
		out.Collateral = append(out.Collateral, collateralView{Denom: c.Denom, Total: c.Total, Vault: c.Vault})
	}
	return out
}

// LiquidationView is the wire form of a liquidation report.
type LiquidationView struct {
	Denom           string   `json:"denom"`
	Liquidated      []string `json:"liquidated"`
	TotalDebt       uint64   `json:"total_debt,string"`
	TotalCollateral uint64   `json:"total_collateral,string"`
}

func liquidationView(r *cdp.LiquidationReport) LiquidationView {
	return LiquidationView{
		Denom:           r.Denom,
		Liquidated:      addressStrings(r.Liquidated),
		TotalDebt:       r.TotalDebt,
		TotalCollateral: r.TotalCollateral,
	}
}

type redemptionLegView struct {
	Owner      string `json:"owner"`
	Debt       uint64 `json:"debt,string"`
	Collateral uint64 `json:"collateral,string"`
	Closed     bool   `json:"closed"`
}

// RedemptionView is the wire form of a redemption report.
type RedemptionView struct {
	Denom      string              `json:"denom"`
	Gross      uint64              `json:"gross,string"`
	Fee        uint64              `json:"fee,string"`
	Net        uint64              `json:"net,string"`
	Collateral uint64              `json:"collateral,string"`
	Legs       []redemptionLegView `json:"legs"`
}

func redemptionView(r *cdp.RedemptionReport) RedemptionView {
	out := RedemptionView{Denom: r.Denom, Gross: r.Gross, Fee: r.Fee, Net: r.Net, Collateral: r.Collateral}
	out.Legs = make([]redemptionLegView, 0, len(r.Legs))
	for _, leg := range r.Legs {
		out.Legs = append(out.Legs, redemptionLegView{Owner: leg.Owner.String(), Debt: leg.Debt, Collateral: leg.Collateral, Closed: leg.Closed})
	}
	return out
}

type amountView struct {
	Denom  string `json:"denom"`
	Amount uint64 `json:"amount,string"`
}

type icrView struct {
	Owner string `json:"owner"`
	ICR   uint64 `json:"icr,string"`
}

// PriceView is the wire form of an oracle quote.
type PriceView struct {
	Denom      string `json:"denom"`
	Price      uint64 `json:"price,string"`
	Decimal    uint8  `json:"decimal"`
	Confidence uint64 `json:"confidence,string"`
	Exponent   int32  `json:"exponent"`
	Timestamp  int64  `json:"timestamp"`
}

func priceView(p oracle.PriceData) PriceView {
	return PriceView{Denom: p.Denom, Price: p.Price, Decimal: p.Decimal, Confidence: p.Confidence, Exponent: p.Exponent, Timestamp: p.Timestamp}
}

func recordedPriceView(p journal.PriceRecord) PriceView {
	return PriceView{Denom: p.Denom, Price: p.Price, Decimal: p.Decimal, Confidence: p.Confidence, Exponent: p.Exponent, Timestamp: p.Timestamp}
}

// EventView is the wire form of a journaled or streamed event.
type EventView struct {
	ID         uint64            `json:"id,omitempty"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  string            `json:"created_at,omitempty"`
}

func (r priceRequest) priceData() oracle.PriceData {
	return oracle.PriceData{
		Denom:      r.Denom,
		Price:      r.Price,
		Decimal:    r.Decimal,
		Confidence: r.Confidence,
		Exponent:   r.Exponent,
		Timestamp:  r.Timestamp,
	}
}

func addressStrings(addrs []crypto.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
