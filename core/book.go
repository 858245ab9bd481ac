package core

import (
	"fmt"
	"sort"
)

// Book keeps the bid ledger, the priority heap and the owner index consistent.
// Every mutation goes through Book so the three collections change together.
type Book struct {
	bids   map[BidID]*Bid
	heap   *MinHeap[BidID]
	owners map[Address]map[BidID]struct{}
}

// NewBook returns an empty book.
func NewBook() *Book {
	b := &Book{
		bids:   make(map[BidID]*Bid),
		owners: make(map[Address]map[BidID]struct{}),
	}
	b.heap = NewMinHeap(b.lessByID)
	return b
}

// lessByID orders bids by price, then quantity, reading both from the ledger.
func (b *Book) lessByID(x, y BidID) bool {
	return bidLess(b.bids[x], b.bids[y])
}

func bidLess(x, y *Bid) bool {
	if x.Price != y.Price {
		return x.Price < y.Price
	}
	return x.Quantity < y.Quantity
}

// Insert records a new live bid.
func (b *Book) Insert(bid Bid) error {
	if bid.Quantity == 0 {
		return fmt.Errorf("bid %d: %w", bid.ID, ErrInvalidQuantity)
	}
	if _, exists := b.bids[bid.ID]; exists {
		return fmt.Errorf("%w: duplicate bid id %d", ErrCorruptState, bid.ID)
	}

	stored := bid
	b.bids[bid.ID] = &stored
	b.heap.Insert(bid.ID)
	b.addOwner(bid.Bidder, bid.ID)
	return nil
}

// Min returns the lowest ranked live bid.
func (b *Book) Min() (Bid, bool) {
	id, ok := b.heap.PeekMin()
	if !ok {
		return Bid{}, false
	}
	return *b.bids[id], true
}

// EvictMin removes the lowest ranked bid from the heap, its owner's index and the ledger.
func (b *Book) EvictMin() (Bid, bool) {
	id, ok := b.heap.DeleteMin()
	if !ok {
		return Bid{}, false
	}

	evicted := *b.bids[id]
	b.removeOwner(evicted.Bidder, id)
	delete(b.bids, id)
	return evicted, true
}

// ShrinkMin reduces the remaining quantity of the lowest ranked bid by the given amount.
// The bid keeps its heap slot: with price unchanged and quantity lower it still compares
// less than or equal to its children. Shrinking to zero is an eviction and is rejected.
func (b *Book) ShrinkMin(by uint64) (Bid, error) {
	id, ok := b.heap.PeekMin()
	if !ok {
		return Bid{}, fmt.Errorf("%w: shrink on empty book", ErrCorruptState)
	}

	bid := b.bids[id]
	if by >= bid.Quantity {
		return Bid{}, fmt.Errorf("%w: cannot shrink bid %d (quantity %d) by %d",
			ErrCorruptState, id, bid.Quantity, by)
	}
	bid.Quantity -= by
	return *bid, nil
}

// Get returns the live bid with the given id.
func (b *Book) Get(id BidID) (Bid, bool) {
	bid, ok := b.bids[id]
	if !ok {
		return Bid{}, false
	}
	return *bid, true
}

// BidsOf returns the live bids owned by an address, ordered by id.
func (b *Book) BidsOf(owner Address) []Bid {
	ids := b.owners[owner]
	out := make([]Bid, 0, len(ids))
	for id := range ids {
		out = append(out, *b.bids[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Bids returns all live bids in heap slot order.
func (b *Book) Bids() []Bid {
	ids := b.heap.Items()
	out := make([]Bid, len(ids))
	for i, id := range ids {
		out[i] = *b.bids[id]
	}
	return out
}

// Len returns the number of live bids.
func (b *Book) Len() int {
	return b.heap.Len()
}

// TotalQuantity sums the remaining quantity over all live bids.
func (b *Book) TotalQuantity() uint64 {
	var total uint64
	for _, bid := range b.bids {
		total += bid.Quantity
	}
	return total
}

// CheckInvariants verifies heap order and that ledger, heap and owner index agree.
func (b *Book) CheckInvariants() error {
	ids := b.heap.Items()
	if len(ids) != len(b.bids) {
		return fmt.Errorf("%w: heap holds %d ids, ledger holds %d bids", ErrCorruptState, len(ids), len(b.bids))
	}

	seen := make(map[BidID]struct{}, len(ids))
	for _, id := range ids {
		bid, ok := b.bids[id]
		if !ok {
			return fmt.Errorf("%w: heap references missing bid %d", ErrCorruptState, id)
		}
		if bid.Quantity == 0 {
			return fmt.Errorf("%w: live bid %d has zero quantity", ErrCorruptState, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: bid %d appears twice in heap", ErrCorruptState, id)
		}
		seen[id] = struct{}{}
		if _, owned := b.owners[bid.Bidder][id]; !owned {
			return fmt.Errorf("%w: bid %d missing from owner index of %s", ErrCorruptState, id, bid.Bidder)
		}
	}

	indexed := 0
	for owner, set := range b.owners {
		for id := range set {
			bid, ok := b.bids[id]
			if !ok || bid.Bidder != owner {
				return fmt.Errorf("%w: owner index of %s lists bid %d it does not own", ErrCorruptState, owner, id)
			}
			indexed++
		}
	}
	if indexed != len(b.bids) {
		return fmt.Errorf("%w: owner index holds %d ids, ledger holds %d bids", ErrCorruptState, indexed, len(b.bids))
	}

	if !b.heap.Valid() {
		return fmt.Errorf("%w: heap order violated", ErrCorruptState)
	}
	return nil
}

// restoreBook rebuilds a book from bids in heap slot order.
func restoreBook(bids []Bid) (*Book, error) {
	b := NewBook()
	ids := make([]BidID, 0, len(bids))
	for _, bid := range bids {
		if _, exists := b.bids[bid.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate bid id %d", ErrCorruptState, bid.ID)
		}
		stored := bid
		b.bids[bid.ID] = &stored
		b.addOwner(bid.Bidder, bid.ID)
		ids = append(ids, bid.ID)
	}
	b.heap.restore(ids)

	if err := b.CheckInvariants(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Book) addOwner(owner Address, id BidID) {
	set, ok := b.owners[owner]
	if !ok {
		set = make(map[BidID]struct{})
		b.owners[owner] = set
	}
	set[id] = struct{}{}
}

// removeOwner drops id from the owner's set. Empty sets are kept; iterating them is a no-op.
func (b *Book) removeOwner(owner Address, id BidID) {
	delete(b.owners[owner], id)
}
