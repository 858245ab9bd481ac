package core

import (
	"fmt"
	"maps"
	"time"
)

// Auction is the aggregate holding all mutable auction state.
// It is not safe for concurrent use; callers serialise operations.
type Auction struct {
	cfg    Config
	book   *Book
	minter Minter
	payer  Payer

	nextBidID        BidID
	quantityUnderBid uint64
	mintIndex        uint64
	clearingPrice    *Mutez
	deposits         map[Address]Mutez
}

// NewAuction creates an auction with no bids. minter and payer may be nil, in which case
// claims fail with ErrInvalidCollaborator.
func NewAuction(cfg Config, minter Minter, payer Payer) (*Auction, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Auction{
		cfg:      cfg,
		book:     NewBook(),
		minter:   minter,
		payer:    payer,
		deposits: make(map[Address]Mutez),
	}, nil
}

// RestoreAuction rebuilds an auction from a State snapshot and verifies its invariants.
// A snapshot taken under a different auction id or admin is rejected; a snapshot that
// records neither is accepted.
func RestoreAuction(cfg Config, state State, minter Minter, payer Payer) (*Auction, error) {
	a, err := NewAuction(cfg, minter, payer)
	if err != nil {
		return nil, err
	}

	if state.AuctionID != "" && state.AuctionID != cfg.AuctionID {
		return nil, fmt.Errorf("%w: stored state belongs to auction %q, not %q", ErrInvalidConfig, state.AuctionID, cfg.AuctionID)
	}
	if state.Admin != "" && state.Admin != cfg.Admin {
		return nil, fmt.Errorf("%w: stored state was created with admin %s, not %s", ErrInvalidConfig, state.Admin, cfg.Admin)
	}

	book, err := restoreBook(state.Bids)
	if err != nil {
		return nil, fmt.Errorf("failed to restore book: %w", err)
	}
	a.book = book
	a.nextBidID = state.NextBidID
	a.quantityUnderBid = state.QuantityUnderBid
	a.mintIndex = state.MintIndex
	if state.ClearingPrice != nil {
		price := *state.ClearingPrice
		a.clearingPrice = &price
	}
	if state.Deposits != nil {
		a.deposits = maps.Clone(state.Deposits)
	}

	for _, bid := range state.Bids {
		if bid.ID > a.nextBidID {
			return nil, fmt.Errorf("%w: bid %d is above next bid id %d", ErrCorruptState, bid.ID, a.nextBidID)
		}
	}

	if err := a.CheckInvariants(); err != nil {
		return nil, err
	}
	return a, nil
}

// Config returns the auction parameters.
func (a *Auction) Config() Config {
	return a.cfg
}

// State returns a deep copy of the mutable state.
func (a *Auction) State() State {
	s := State{
		NextBidID:        a.nextBidID,
		QuantityUnderBid: a.quantityUnderBid,
		MintIndex:        a.mintIndex,
		Bids:             a.book.Bids(),
		Deposits:         maps.Clone(a.deposits),
		AuctionID:        a.cfg.AuctionID,
		Admin:            a.cfg.Admin,
	}
	if a.clearingPrice != nil {
		price := *a.clearingPrice
		s.ClearingPrice = &price
	}
	return s
}

// QuantityUnderBid returns the sum of remaining quantities over live bids.
func (a *Auction) QuantityUnderBid() uint64 {
	return a.quantityUnderBid
}

// MintIndex returns the next token id to be minted.
func (a *Auction) MintIndex() uint64 {
	return a.mintIndex
}

// Deposit returns the gross deposit recorded for an address.
func (a *Auction) Deposit(owner Address) (Mutez, bool) {
	d, ok := a.deposits[owner]
	return d, ok
}

// Book exposes the live bids for read access. Callers must not mutate it.
func (a *Auction) Book() *Book {
	return a.book
}

// PlaceBid admits a bid of quantity units at price per unit, paid with payment.
//
// Processing flow:
//  1. Validate window, quantity, floor and payment
//  2. Compute the quantity that does not fit in the remaining supply
//  3. Displace strictly lower priced bids from the bottom of the book until it fits
//  4. Reject if nothing fits, otherwise record the (possibly reduced) bid and the deposit
//
// A rejected bid leaves the auction unchanged, deposit included.
func (a *Auction) PlaceBid(sender Address, price Mutez, quantity uint64, payment Mutez, now time.Time) (*BidOutcome, error) {
	// Step 1: Admission checks
	if err := ValidateBid(a.cfg, price, quantity, payment, now); err != nil {
		return nil, err
	}
	deposit, err := addMutez(a.deposits[sender], payment)
	if err != nil {
		return nil, err
	}

	// Step 2: Quantity that would remain unfilled due to limited supply
	available := a.cfg.TotalSupply - a.quantityUnderBid
	var unfilled uint64
	if quantity > available {
		unfilled = quantity - available
	}

	// Nothing can be displaced unless the lowest bid is strictly cheaper, and the
	// displacement loop only ever lowers unfilled. Rejecting here therefore happens
	// before any mutation.
	if unfilled == quantity {
		if lowest, ok := a.book.Min(); !ok || lowest.Price >= price {
			return nil, fmt.Errorf("%w: price %d, lowest live bid %d, no supply available",
				ErrBidPriceTooLow, price, lowest.Price)
		}
	}

	// Step 3: Displace the lowest bids
	outcome := &BidOutcome{}
	for unfilled > 0 {
		lowest, ok := a.book.Min()
		if !ok || lowest.Price >= price {
			break
		}

		if lowest.Quantity <= unfilled {
			evicted, _ := a.book.EvictMin()
			a.quantityUnderBid -= evicted.Quantity
			unfilled -= evicted.Quantity
			outcome.Evicted = append(outcome.Evicted, evicted)
			continue
		}

		reduced, err := a.book.ShrinkMin(unfilled)
		if err != nil {
			return nil, err
		}
		a.quantityUnderBid -= unfilled
		outcome.Reduced = &reduced
		outcome.ReducedBy = unfilled
		unfilled = 0
	}

	// Step 4: Record the accepted part
	accepted := quantity - unfilled
	a.nextBidID++
	bid := Bid{
		ID:       a.nextBidID,
		Price:    price,
		Quantity: accepted,
		Bidder:   sender,
	}
	if err := a.book.Insert(bid); err != nil {
		return nil, err
	}
	a.quantityUnderBid += accepted
	a.deposits[sender] = deposit

	outcome.Accepted = bid
	outcome.Unfilled = unfilled
	return outcome, nil
}

// CheckInvariants verifies the book invariants, supply conservation and the supply cap.
func (a *Auction) CheckInvariants() error {
	if err := a.book.CheckInvariants(); err != nil {
		return err
	}
	if total := a.book.TotalQuantity(); total != a.quantityUnderBid {
		return fmt.Errorf("%w: quantity under bid %d, live bids hold %d", ErrCorruptState, a.quantityUnderBid, total)
	}
	if a.quantityUnderBid > a.cfg.TotalSupply {
		return fmt.Errorf("%w: quantity under bid %d exceeds supply %d", ErrCorruptState, a.quantityUnderBid, a.cfg.TotalSupply)
	}
	return nil
}
