package core

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

const (
	alice Address = "tz1KfEsrtDaA1sX7vdM4qmEPWuSytuqCDp5j"
	bob   Address = "tz1Kt4P8BCaP93AEV4eA7gmpRryWt5hznjCP"
	john  Address = "tz1L2fvQBRrZyStHbNPQWCxWiRUo5MEisKox"
	admin Address = "tz1ZczbHu1iLWRa88n9CUiCKDGex5ticp19S"
)

var (
	biddingOpen   = time.Unix(5, 0)
	biddingClosed = time.Unix(10, 0)
)

func testConfig() Config {
	return Config{
		AuctionID:    "test-auction",
		Admin:        admin,
		BiddingStart: time.Unix(0, 0),
		BiddingEnd:   time.Unix(10, 0),
		MinBidPrice:  DefaultMinBidPrice,
		TotalSupply:  DefaultTotalSupply,
	}
}

func newTestAuction(t *testing.T) *Auction {
	t.Helper()
	a, err := NewAuction(testConfig(), nil, nil)
	assert.NoError(t, err)
	return a
}

// seededAuction holds ALICE (50 @ 1,000,000) and BOB (40 @ 2,000,000), leaving 10 units of supply.
func seededAuction(t *testing.T) *Auction {
	t.Helper()
	a, err := RestoreAuction(testConfig(), State{
		NextBidID:        2,
		QuantityUnderBid: 90,
		Bids: []Bid{
			{ID: 1, Price: 1000000, Quantity: 50, Bidder: alice},
			{ID: 2, Price: 2000000, Quantity: 40, Bidder: bob},
		},
	}, nil, nil)
	assert.NoError(t, err)
	return a
}

func placeBid(t *testing.T, a *Auction, sender Address, price Mutez, quantity uint64) (*BidOutcome, error) {
	t.Helper()
	payment, err := MulQuantity(price, quantity)
	assert.NoError(t, err)
	return a.PlaceBid(sender, price, quantity, payment, biddingOpen)
}

func slotIDs(a *Auction) []BidID {
	bids := a.Book().Bids()
	ids := make([]BidID, len(bids))
	for i, bid := range bids {
		ids[i] = bid.ID
	}
	return ids
}

func TestPlaceBid_NoUnfilledSupply(t *testing.T) {
	a := newTestAuction(t)

	// ALICE bids for 20 units at 1,000,000 each
	outcome, err := placeBid(t, a, alice, 1000000, 20)
	assert.NoError(t, err)
	check.Equal(t, Bid{ID: 1, Price: 1000000, Quantity: 20, Bidder: alice}, outcome.Accepted)
	check.Equal(t, uint64(0), outcome.Unfilled)
	check.Equal(t, []BidID{1}, slotIDs(a))
	check.Equal(t, []Bid{outcome.Accepted}, a.Book().BidsOf(alice))

	deposit, ok := a.Deposit(alice)
	check.True(t, ok)
	check.Equal(t, Mutez(20000000), deposit)
	check.Equal(t, uint64(20), a.QuantityUnderBid())

	// BOB bids for 30 units at 500,000 each and takes the root
	outcome, err = placeBid(t, a, bob, 500000, 30)
	assert.NoError(t, err)
	check.Equal(t, Bid{ID: 2, Price: 500000, Quantity: 30, Bidder: bob}, outcome.Accepted)
	check.Equal(t, []BidID{2, 1}, slotIDs(a))

	deposit, _ = a.Deposit(bob)
	check.Equal(t, Mutez(15000000), deposit)
	check.Equal(t, uint64(50), a.QuantityUnderBid())

	// BOB bids again; deposits accumulate per owner
	_, err = placeBid(t, a, bob, 800000, 30)
	assert.NoError(t, err)
	deposit, _ = a.Deposit(bob)
	check.Equal(t, Mutez(39000000), deposit)
	check.Equal(t, 2, len(a.Book().BidsOf(bob)))
	check.Equal(t, uint64(80), a.QuantityUnderBid())
	check.NoError(t, a.CheckInvariants())
}

func TestPlaceBid_SmallestBidPartiallyRemoved(t *testing.T) {
	a := seededAuction(t)

	// JOHN bids for 20 units at 1,500,000 each
	outcome, err := placeBid(t, a, john, 1500000, 20)
	assert.NoError(t, err)

	// ALICE's bid drops by 10 units
	alicesBid, _ := a.Book().Get(1)
	check.Equal(t, uint64(40), alicesBid.Quantity)
	check.NotNil(t, outcome.Reduced)
	check.Equal(t, BidID(1), outcome.Reduced.ID)
	check.Equal(t, uint64(10), outcome.ReducedBy)
	check.Equal(t, 0, len(outcome.Evicted))

	check.Equal(t, uint64(20), outcome.Accepted.Quantity)
	check.Equal(t, []BidID{1, 2, 3}, slotIDs(a))
	check.Equal(t, uint64(100), a.QuantityUnderBid())
	check.NoError(t, a.CheckInvariants())
}

func TestPlaceBid_SmallestBidCompletelyRemoved(t *testing.T) {
	a := seededAuction(t)

	// JOHN bids for 70 units at 1,500,000 each
	outcome, err := placeBid(t, a, john, 1500000, 70)
	assert.NoError(t, err)

	// ALICE's bid is removed; BOB's higher price stops the displacement
	check.Equal(t, 0, len(a.Book().BidsOf(alice)))
	check.Equal(t, []Bid{{ID: 1, Price: 1000000, Quantity: 50, Bidder: alice}}, outcome.Evicted)
	check.Nil(t, outcome.Reduced)
	check.Equal(t, []BidID{3, 2}, slotIDs(a))

	// JOHN's bid is only 60 units, 10 unfilled
	johnsBid, _ := a.Book().Get(3)
	check.Equal(t, uint64(60), johnsBid.Quantity)
	check.Equal(t, uint64(10), outcome.Unfilled)

	// The full payment for 70 units is locked
	deposit, _ := a.Deposit(john)
	check.Equal(t, Mutez(105000000), deposit)
	check.Equal(t, uint64(100), a.QuantityUnderBid())
	check.NoError(t, a.CheckInvariants())
}

func TestPlaceBid_SmallestRemovedSecondSmallestReduced(t *testing.T) {
	a := seededAuction(t)

	// JOHN bids for 70 units at 2,500,000 each
	outcome, err := placeBid(t, a, john, 2500000, 70)
	assert.NoError(t, err)

	check.Equal(t, 0, len(a.Book().BidsOf(alice)))
	check.Equal(t, []BidID{2, 3}, slotIDs(a))

	bobsBid, _ := a.Book().Get(2)
	check.Equal(t, uint64(30), bobsBid.Quantity)
	check.Equal(t, 1, len(outcome.Evicted))
	check.Equal(t, uint64(10), outcome.ReducedBy)

	johnsBid, _ := a.Book().Get(3)
	check.Equal(t, uint64(70), johnsBid.Quantity)
	check.Equal(t, uint64(100), a.QuantityUnderBid())
	check.NoError(t, a.CheckInvariants())
}

func TestPlaceBid_RejectedBidLeavesStateUnchanged(t *testing.T) {
	a := seededAuction(t)
	_, err := placeBid(t, a, john, 1500000, 10)
	assert.NoError(t, err)
	before := a.State()

	// Supply is exhausted and the lowest live bid is not cheaper than the new one
	_, err = placeBid(t, a, bob, 1000000, 5)
	check.True(t, errors.Is(err, ErrBidPriceTooLow))
	check.Equal(t, before, a.State())
}

func TestPlaceBid_EqualPriceIsNeverDisplaced(t *testing.T) {
	a := newTestAuction(t)
	_, err := placeBid(t, a, alice, 1000000, 100)
	assert.NoError(t, err)

	_, err = placeBid(t, a, bob, 1000000, 1000)
	check.True(t, errors.Is(err, ErrBidPriceTooLow))

	_, hasDeposit := a.Deposit(bob)
	check.False(t, hasDeposit)
	alicesBid, _ := a.Book().Get(1)
	check.Equal(t, uint64(100), alicesBid.Quantity)
}

func TestPlaceBid_ValidationFailures(t *testing.T) {
	tests := []struct {
		name     string
		price    Mutez
		quantity uint64
		payment  Mutez
		now      time.Time
		expected error
	}{
		{"before bidding start", 1000000, 1, 1000000, time.Unix(-1, 0), ErrBiddingNotActive},
		{"at bidding end", 1000000, 1, 1000000, biddingClosed, ErrBiddingNotActive},
		{"zero quantity", 1000000, 0, 0, biddingOpen, ErrInvalidQuantity},
		{"price below minimum", 99999, 1, 99999, biddingOpen, ErrBidPriceBelowMinimum},
		{"payment too low", 1000000, 2, 1999999, biddingOpen, ErrInvalidPaymentAmount},
		{"payment too high", 1000000, 2, 2000001, biddingOpen, ErrInvalidPaymentAmount},
		{"payment overflows", math.MaxUint64, 2, 0, biddingOpen, ErrInvalidPaymentAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAuction(t)
			before := a.State()

			_, err := a.PlaceBid(alice, tt.price, tt.quantity, tt.payment, tt.now)
			check.True(t, errors.Is(err, tt.expected))
			check.Equal(t, before, a.State())
		})
	}
}

func TestPlaceBid_OpensAtBiddingStart(t *testing.T) {
	a := newTestAuction(t)
	_, err := a.PlaceBid(alice, 1000000, 1, 1000000, time.Unix(0, 0))
	check.NoError(t, err)
}

func TestPlaceBid_RandomBidsPreserveInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := newTestAuction(t)
	bidders := []Address{alice, bob, john}
	grossDeposits := make(map[Address]Mutez)

	for i := 0; i < 500; i++ {
		sender := bidders[rng.Intn(len(bidders))]
		price := DefaultMinBidPrice + Mutez(rng.Intn(20))*50000
		quantity := uint64(rng.Intn(40) + 1)

		before := a.State()
		outcome, err := placeBid(t, a, sender, price, quantity)
		if err != nil {
			assert.True(t, errors.Is(err, ErrBidPriceTooLow))
			check.Equal(t, before, a.State())
			continue
		}

		// Only strictly cheaper bids are displaced
		for _, evicted := range outcome.Evicted {
			check.True(t, evicted.Price < price)
		}
		if outcome.Reduced != nil {
			check.True(t, outcome.Reduced.Price < price)
		}
		check.Equal(t, quantity, outcome.Accepted.Quantity+outcome.Unfilled)

		grossDeposits[sender] += price * Mutez(quantity)
		deposit, _ := a.Deposit(sender)
		check.Equal(t, grossDeposits[sender], deposit)

		assert.NoError(t, a.CheckInvariants())
		assert.True(t, a.QuantityUnderBid() <= DefaultTotalSupply)
	}
}

func TestRestoreAuction_RejectsInconsistentCounters(t *testing.T) {
	_, err := RestoreAuction(testConfig(), State{
		NextBidID:        1,
		QuantityUnderBid: 7,
		Bids:             []Bid{{ID: 1, Price: 1000000, Quantity: 5, Bidder: alice}},
	}, nil, nil)
	check.True(t, errors.Is(err, ErrCorruptState))

	_, err = RestoreAuction(testConfig(), State{
		NextBidID:        0,
		QuantityUnderBid: 5,
		Bids:             []Bid{{ID: 1, Price: 1000000, Quantity: 5, Bidder: alice}},
	}, nil, nil)
	check.True(t, errors.Is(err, ErrCorruptState))
}

func TestRestoreAuction_RejectsStateOfAnotherAuction(t *testing.T) {
	a := newTestAuction(t)
	_, err := placeBid(t, a, alice, 1000000, 10)
	assert.NoError(t, err)
	state := a.State()
	check.Equal(t, "test-auction", state.AuctionID)
	check.Equal(t, admin, state.Admin)

	otherID := testConfig()
	otherID.AuctionID = "another-auction"
	_, err = RestoreAuction(otherID, state, nil, nil)
	check.True(t, errors.Is(err, ErrInvalidConfig))

	otherAdmin := testConfig()
	otherAdmin.Admin = bob
	_, err = RestoreAuction(otherAdmin, state, nil, nil)
	check.True(t, errors.Is(err, ErrInvalidConfig))

	restored, err := RestoreAuction(testConfig(), state, nil, nil)
	assert.NoError(t, err)
	check.Equal(t, state, restored.State())
}

func TestConfig_Validate(t *testing.T) {
	check.NoError(t, testConfig().Validate())

	cfg := testConfig()
	cfg.Admin = ""
	check.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))

	cfg = testConfig()
	cfg.BiddingEnd = cfg.BiddingStart
	check.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))

	cfg = testConfig()
	cfg.TotalSupply = 0
	check.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))
}

func TestConfig_PhaseAt(t *testing.T) {
	cfg := testConfig()
	check.Equal(t, PhaseCreated, cfg.PhaseAt(time.Unix(-1, 0)))
	check.Equal(t, PhaseOpen, cfg.PhaseAt(time.Unix(0, 0)))
	check.Equal(t, PhaseOpen, cfg.PhaseAt(time.Unix(9, 0)))
	check.Equal(t, PhaseClosed, cfg.PhaseAt(time.Unix(10, 0)))
}
