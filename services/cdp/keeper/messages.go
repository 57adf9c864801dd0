package keeper

// SortedTrovesRequest asks for the troves of Denom in ascending ICR order.
type SortedTrovesRequest struct {
	Denom string `json:"denom"`
	Limit int    `json:"limit,omitempty"`
}

// Trove is one ranked trove.
type Trove struct {
	Owner      string `json:"owner"`
	Denom      string `json:"denom"`
	Collateral uint64 `json:"collateral,string"`
	Debt       uint64 `json:"debt,string"`
	ICR        uint64 `json:"icr,string"`
}

type SortedTrovesResponse struct {
	Troves []Trove `json:"troves"`
}

// LiquidateRequest targets one trove.
type LiquidateRequest struct {
	Owner string `json:"owner"`
}

// LiquidateBatchRequest carries a candidate list sorted by ascending ICR.
type LiquidateBatchRequest struct {
	Denom  string   `json:"denom"`
	Owners []string `json:"owners"`
}

// LiquidateSortedRequest lets the daemon rank candidates itself.
type LiquidateSortedRequest struct {
	Denom string `json:"denom"`
}

type LiquidationResponse struct {
	Denom           string   `json:"denom"`
	Liquidated      []string `json:"liquidated"`
	TotalDebt       uint64   `json:"total_debt,string"`
	TotalCollateral uint64   `json:"total_collateral,string"`
}

type TotalsRequest struct{}

type TotalsResponse struct {
	TotalDebt              uint64 `json:"total_debt,string"`
	TotalStake             uint64 `json:"total_stake,string"`
	MinimumCollateralRatio uint64 `json:"minimum_collateral_ratio,string"`
	Epoch                  uint64 `json:"epoch"`
}
