package fees

import (
	"fmt"

	"aerocdp/crypto"
)

// Ledger moves tokens between accounts.
type Ledger interface {
	Transfer(denom string, from, to crypto.Address, amount uint64) error
}

// Routing selects where collected fees are sent. When StakeEnabled is set the
// whole fee goes to StakeAddress; otherwise it is split evenly between the two
// fee addresses with any odd unit going to FeeAddress1.
type Routing struct {
	StakeEnabled bool
	StakeAddress crypto.Address
	FeeAddress1  crypto.Address
	FeeAddress2  crypto.Address
}

// Validate ensures the active route has its recipients configured.
func (r Routing) Validate() error {
	if r.StakeEnabled {
		if r.StakeAddress.IsZero() {
			return fmt.Errorf("%w: stake address", errNoRecipient)
		}
		return nil
	}
	if r.FeeAddress1.IsZero() || r.FeeAddress2.IsZero() {
		return fmt.Errorf("%w: fee addresses", errNoRecipient)
	}
	return nil
}

// Transfer is one leg of a fee distribution.
type Transfer struct {
	To     crypto.Address
	Amount uint64
}

// Distribution records the fee legs executed for an operation.
type Distribution struct {
	ApplyResult
	Denom     string
	Transfers []Transfer
}

// Distributor charges protocol fees from a payer and routes them.
type Distributor struct {
	ledger  Ledger
	denom   string
	routing Routing
}

// NewDistributor constructs a distributor charging fees in the supplied denom.
func NewDistributor(ledger Ledger, denom string, routing Routing) *Distributor {
	return &Distributor{ledger: ledger, denom: denom, routing: routing}
}

// Routing returns the configured fee routing.
func (d *Distributor) Routing() Routing {
	if d == nil {
		return Routing{}
	}
	return d.routing
}

// Plan returns the transfers that Distribute would execute without moving funds.
func (d *Distributor) Plan(amount, percent uint64) (Distribution, error) {
	result, err := Apply(amount, percent)
	if err != nil {
		return Distribution{}, err
	}
	dist := Distribution{ApplyResult: result, Denom: d.denom}
	if result.Fee == 0 {
		return dist, nil
	}
	if err := d.routing.Validate(); err != nil {
		return Distribution{}, err
	}
	if d.routing.StakeEnabled {
		dist.Transfers = []Transfer{{To: d.routing.StakeAddress, Amount: result.Fee}}
		return dist, nil
	}
	half := result.Fee / 2
	first := result.Fee - half
	dist.Transfers = []Transfer{{To: d.routing.FeeAddress1, Amount: first}}
	if half > 0 {
		dist.Transfers = append(dist.Transfers, Transfer{To: d.routing.FeeAddress2, Amount: half})
	}
	return dist, nil
}

// Distribute charges floor(amount*percent/100) from payer. A zero fee is a no-op.
func (d *Distributor) Distribute(payer crypto.Address, amount, percent uint64) (Distribution, error) {
	if d == nil || d.ledger == nil {
		return Distribution{}, errNoLedger
	}
	dist, err := d.Plan(amount, percent)
	if err != nil {
		return Distribution{}, err
	}
	for _, leg := range dist.Transfers {
		if err := d.ledger.Transfer(d.denom, payer, leg.To, leg.Amount); err != nil {
			return Distribution{}, fmt.Errorf("fees: transfer to %s: %w", leg.To, err)
		}
	}
	return dist, nil
}
