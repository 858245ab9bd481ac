package core

import (
	"fmt"
	"time"
)

// Address identifies a participant (bidder or admin).
type Address string

// BidID is the monotonically assigned identifier of a bid.
type BidID uint64

// Bid represents a live bid in the auction.
// Quantity is the remaining quantity: it shrinks when the bid is partially displaced.
type Bid struct {
	ID       BidID   `json:"id" cbor:"1,keyasint"`
	Price    Mutez   `json:"price" cbor:"2,keyasint"`
	Quantity uint64  `json:"quantity" cbor:"3,keyasint"`
	Bidder   Address `json:"bidder" cbor:"4,keyasint"`
}

// Phase is the lifecycle stage of the auction relative to a point in time.
type Phase string

const (
	PhaseCreated Phase = "created"
	PhaseOpen    Phase = "open"
	PhaseClosed  Phase = "closed"
)

const (
	// DefaultMinBidPrice is the minimum bid price per unit.
	DefaultMinBidPrice Mutez = 100000

	// DefaultTotalSupply is the number of units on sale.
	DefaultTotalSupply uint64 = 100

	// DefaultMetadataURI is attached to every minted token under the empty key.
	DefaultMetadataURI = "https://example.com"
)

// Config holds the auction parameters. They are fixed for the lifetime of a run.
type Config struct {
	AuctionID    string
	Admin        Address
	BiddingStart time.Time
	BiddingEnd   time.Time
	MinBidPrice  Mutez
	TotalSupply  uint64

	// TokenMetadata is sent with every mint request.
	TokenMetadata map[string][]byte
}

// Validate checks that the configuration describes a usable auction.
func (c Config) Validate() error {
	if c.Admin == "" {
		return fmt.Errorf("%w: admin is required", ErrInvalidConfig)
	}
	if !c.BiddingStart.Before(c.BiddingEnd) {
		return fmt.Errorf("%w: bidding start %s must be before bidding end %s",
			ErrInvalidConfig, c.BiddingStart.Format(time.RFC3339), c.BiddingEnd.Format(time.RFC3339))
	}
	if c.TotalSupply == 0 {
		return fmt.Errorf("%w: total supply must be positive", ErrInvalidConfig)
	}
	return nil
}

// PhaseAt returns the lifecycle phase at the given time.
func (c Config) PhaseAt(now time.Time) Phase {
	switch {
	case now.Before(c.BiddingStart):
		return PhaseCreated
	case now.Before(c.BiddingEnd):
		return PhaseOpen
	default:
		return PhaseClosed
	}
}

func (c Config) metadata() map[string][]byte {
	if len(c.TokenMetadata) > 0 {
		return c.TokenMetadata
	}
	return map[string][]byte{"": []byte(DefaultMetadataURI)}
}

// BidOutcome describes the effect of an accepted bid.
type BidOutcome struct {
	// Accepted is the bid as recorded, with the quantity that fit.
	Accepted Bid

	// Unfilled is the part of the requested quantity that could not be accommodated.
	Unfilled uint64

	// Evicted contains bids removed entirely to make room, lowest first.
	Evicted []Bid

	// Reduced is the bid that was shrunk in place (nil if none), after the reduction.
	Reduced *Bid

	// ReducedBy is how many units Reduced lost.
	ReducedBy uint64
}

// MintRequest is one allocation sent to the minting collaborator.
type MintRequest struct {
	TokenID   uint64            `json:"token_id"`
	Amount    uint64            `json:"amount"`
	Recipient Address           `json:"recipient"`
	Metadata  map[string][]byte `json:"metadata"`
}

// TokenMetadata is a metadata update forwarded to the minting collaborator.
type TokenMetadata struct {
	TokenID   uint64            `json:"token_id"`
	TokenInfo map[string][]byte `json:"token_info"`
}

// Settlement is the result of a successful claim.
type Settlement struct {
	Bidder        Address
	ClearingPrice Mutez
	Quantity      uint64
	Cost          Mutez
	Refund        Mutez
	Deposit       Mutez

	// WinningBids are the claimant's live bids at claim time.
	WinningBids []Bid

	// TokenIDs are the minted token ids, in mint order.
	TokenIDs []uint64
}

// State is a point-in-time copy of all mutable auction state.
// Bids are stored in heap slot order so the heap can be rebuilt without reordering.
type State struct {
	NextBidID        BidID             `cbor:"1,keyasint"`
	QuantityUnderBid uint64            `cbor:"2,keyasint"`
	MintIndex        uint64            `cbor:"3,keyasint"`
	ClearingPrice    *Mutez            `cbor:"4,keyasint,omitempty"`
	Bids             []Bid             `cbor:"5,keyasint"`
	Deposits         map[Address]Mutez `cbor:"6,keyasint"`

	// AuctionID and Admin tie the state to the auction it was created for.
	AuctionID string  `cbor:"7,keyasint,omitempty"`
	Admin     Address `cbor:"8,keyasint,omitempty"`
}
