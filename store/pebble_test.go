package store

import (
	"errors"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/batchauction/core"
)

func openMem(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := Open("auction", &Options{FS: vfs.NewMem()})
	assert.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleState() core.State {
	price := core.Mutez(1000000)
	return core.State{
		NextBidID:        3,
		QuantityUnderBid: 100,
		MintIndex:        40,
		ClearingPrice:    &price,
		Bids: []core.Bid{
			{ID: 3, Price: 1000000, Quantity: 30, Bidder: "tz1alice"},
			{ID: 1, Price: 2000000, Quantity: 50, Bidder: "tz1bob"},
			{ID: 2, Price: 1500000, Quantity: 20, Bidder: "tz1alice"},
		},
		Deposits: map[core.Address]core.Mutez{
			"tz1alice": 60000000,
			"tz1bob":   100000000,
		},
		AuctionID: "auction-1",
		Admin:     "tz1admin",
	}
}

func TestLoad_EmptyStore(t *testing.T) {
	s := openMem(t)

	state, ok, err := s.Load()
	assert.NoError(t, err)
	check.False(t, ok)
	check.Nil(t, state)
}

func TestSaveLoad_PreservesSlotOrder(t *testing.T) {
	s := openMem(t)
	want := sampleState()
	assert.NoError(t, s.Save(want))

	got, ok, err := s.Load()
	assert.NoError(t, err)
	assert.True(t, ok)
	check.Equal(t, want, *got)
}

func TestSave_ReplacesPreviousState(t *testing.T) {
	s := openMem(t)
	assert.NoError(t, s.Save(sampleState()))

	next := core.State{
		NextBidID:        3,
		QuantityUnderBid: 50,
		Bids:             []core.Bid{{ID: 1, Price: 2000000, Quantity: 50, Bidder: "tz1bob"}},
		Deposits:         map[core.Address]core.Mutez{"tz1bob": 100000000},
	}
	assert.NoError(t, s.Save(next))

	got, ok, err := s.Load()
	assert.NoError(t, err)
	assert.True(t, ok)
	check.Equal(t, next, *got)

	_, closer, err := s.db.Get(bidKey(3))
	if closer != nil {
		_ = closer.Close()
	}
	check.True(t, errors.Is(err, pebble.ErrNotFound))
}

func TestLoad_DetectsMissingBid(t *testing.T) {
	s := openMem(t)
	assert.NoError(t, s.Save(sampleState()))
	assert.NoError(t, s.db.Delete(bidKey(2), pebble.Sync))

	_, _, err := s.Load()
	check.True(t, errors.Is(err, core.ErrCorruptState))
}

func TestSaveLoad_RestoresAuction(t *testing.T) {
	s := openMem(t)
	cfg := core.Config{
		AuctionID:    "auction-1",
		Admin:        "tz1admin",
		BiddingStart: time.Unix(0, 0),
		BiddingEnd:   time.Unix(10, 0),
		MinBidPrice:  core.DefaultMinBidPrice,
		TotalSupply:  core.DefaultTotalSupply,
	}
	a, err := core.NewAuction(cfg, nil, nil)
	assert.NoError(t, err)

	for _, bid := range []struct {
		sender   core.Address
		price    core.Mutez
		quantity uint64
	}{
		{"tz1alice", 1000000, 50},
		{"tz1bob", 2000000, 40},
		{"tz1john", 1500000, 30},
	} {
		_, err := a.PlaceBid(bid.sender, bid.price, bid.quantity, bid.price*core.Mutez(bid.quantity), time.Unix(5, 0))
		assert.NoError(t, err)
	}
	assert.NoError(t, s.Save(a.State()))

	loaded, ok, err := s.Load()
	assert.NoError(t, err)
	assert.True(t, ok)

	restored, err := core.RestoreAuction(cfg, *loaded, nil, nil)
	assert.NoError(t, err)
	check.Equal(t, a.State(), restored.State())
	check.Equal(t, core.ComputeStateHash(a.State()), core.ComputeStateHash(restored.State()))
}
