package core

import (
	"fmt"
	"time"
)

// BidMeetsFloor returns true if the bid price meets or exceeds the floor price.
func BidMeetsFloor(bidPrice, floorPrice Mutez) bool {
	return bidPrice >= floorPrice
}

// ValidateBid runs the admission checks that do not depend on the book:
// bidding window, quantity, price floor and exact payment.
func ValidateBid(cfg Config, price Mutez, quantity uint64, payment Mutez, now time.Time) error {
	if cfg.PhaseAt(now) != PhaseOpen {
		return fmt.Errorf("%w: now %s, window [%s, %s)", ErrBiddingNotActive,
			now.UTC().Format(time.RFC3339), cfg.BiddingStart.UTC().Format(time.RFC3339), cfg.BiddingEnd.UTC().Format(time.RFC3339))
	}

	if quantity == 0 {
		return ErrInvalidQuantity
	}

	if !BidMeetsFloor(price, cfg.MinBidPrice) {
		return fmt.Errorf("%w: price %d < minimum %d", ErrBidPriceBelowMinimum, price, cfg.MinBidPrice)
	}

	// The attached payment must lock exactly price * quantity.
	expected, err := MulQuantity(price, quantity)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPaymentAmount, err)
	}
	if payment != expected {
		return fmt.Errorf("%w: got %d, expected %d", ErrInvalidPaymentAmount, payment, expected)
	}
	return nil
}
