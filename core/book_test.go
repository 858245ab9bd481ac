package core

import (
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestBook_OrdersByPriceThenQuantity(t *testing.T) {
	b := NewBook()
	assert.NoError(t, b.Insert(Bid{ID: 1, Price: 200, Quantity: 5, Bidder: "alice"}))
	assert.NoError(t, b.Insert(Bid{ID: 2, Price: 100, Quantity: 9, Bidder: "bob"}))
	assert.NoError(t, b.Insert(Bid{ID: 3, Price: 100, Quantity: 4, Bidder: "carol"}))

	lowest, ok := b.Min()
	assert.True(t, ok)
	check.Equal(t, BidID(3), lowest.ID)
	check.NoError(t, b.CheckInvariants())
}

func TestBook_EvictMinUpdatesAllCollections(t *testing.T) {
	b := NewBook()
	assert.NoError(t, b.Insert(Bid{ID: 1, Price: 100, Quantity: 5, Bidder: "alice"}))
	assert.NoError(t, b.Insert(Bid{ID: 2, Price: 300, Quantity: 5, Bidder: "alice"}))
	assert.NoError(t, b.Insert(Bid{ID: 3, Price: 200, Quantity: 5, Bidder: "bob"}))

	evicted, ok := b.EvictMin()
	assert.True(t, ok)
	check.Equal(t, BidID(1), evicted.ID)

	_, live := b.Get(1)
	check.False(t, live)
	check.Equal(t, []Bid{{ID: 2, Price: 300, Quantity: 5, Bidder: "alice"}}, b.BidsOf("alice"))
	check.Equal(t, 2, b.Len())
	check.Equal(t, uint64(10), b.TotalQuantity())
	check.NoError(t, b.CheckInvariants())

	lowest, _ := b.Min()
	check.Equal(t, BidID(3), lowest.ID)
}

func TestBook_EvictMinEmpty(t *testing.T) {
	b := NewBook()
	_, ok := b.EvictMin()
	check.False(t, ok)
}

func TestBook_ShrinkMinKeepsSlot(t *testing.T) {
	b := NewBook()
	assert.NoError(t, b.Insert(Bid{ID: 1, Price: 100, Quantity: 50, Bidder: "alice"}))
	assert.NoError(t, b.Insert(Bid{ID: 2, Price: 100, Quantity: 60, Bidder: "bob"}))

	reduced, err := b.ShrinkMin(10)
	assert.NoError(t, err)
	check.Equal(t, uint64(40), reduced.Quantity)

	lowest, _ := b.Min()
	check.Equal(t, BidID(1), lowest.ID)
	check.Equal(t, uint64(40), lowest.Quantity)
	check.NoError(t, b.CheckInvariants())
}

func TestBook_ShrinkMinRejectsFullShrink(t *testing.T) {
	b := NewBook()
	assert.NoError(t, b.Insert(Bid{ID: 1, Price: 100, Quantity: 5, Bidder: "alice"}))

	_, err := b.ShrinkMin(5)
	check.True(t, errors.Is(err, ErrCorruptState))

	_, err = NewBook().ShrinkMin(1)
	check.True(t, errors.Is(err, ErrCorruptState))
}

func TestBook_InsertRejectsDuplicatesAndZeroQuantity(t *testing.T) {
	b := NewBook()
	assert.NoError(t, b.Insert(Bid{ID: 1, Price: 100, Quantity: 5, Bidder: "alice"}))

	check.True(t, errors.Is(b.Insert(Bid{ID: 1, Price: 100, Quantity: 5, Bidder: "bob"}), ErrCorruptState))
	check.True(t, errors.Is(b.Insert(Bid{ID: 2, Price: 100, Quantity: 0, Bidder: "bob"}), ErrInvalidQuantity))
}

func TestBook_BidsOfUnknownOwnerIsEmpty(t *testing.T) {
	check.Equal(t, 0, len(NewBook().BidsOf("nobody")))
}

func TestRestoreBook_DetectsHeapViolation(t *testing.T) {
	_, err := restoreBook([]Bid{
		{ID: 1, Price: 300, Quantity: 5, Bidder: "alice"},
		{ID: 2, Price: 100, Quantity: 5, Bidder: "bob"},
	})
	check.True(t, errors.Is(err, ErrCorruptState))

	b, err := restoreBook([]Bid{
		{ID: 2, Price: 100, Quantity: 5, Bidder: "bob"},
		{ID: 1, Price: 300, Quantity: 5, Bidder: "alice"},
	})
	assert.NoError(t, err)
	check.Equal(t, []BidID{2, 1}, []BidID{b.Bids()[0].ID, b.Bids()[1].ID})
}
