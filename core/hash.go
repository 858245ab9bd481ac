package core

import (
	"crypto/sha256"
	"fmt"
	"sort"
)

// ComputeBidHash computes the commitment hash of a bid.
// This is used by the claim receipt signer (to embed hashes) and by verifiers (to check them).
//
// Formula: SHA256(bid_id + "|" + price + "|" + quantity + "|" + bidder + "|" + nonce)
//
// Price is in mutez and quantity is the remaining quantity at claim time.
func ComputeBidHash(bid Bid, nonce string) string {
	data := fmt.Sprintf("%d|%d|%d|%s|%s", bid.ID, bid.Price, bid.Quantity, bid.Bidder, nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeBidHashes hashes bids in ascending id order so the result is deterministic.
func ComputeBidHashes(bids []Bid, nonce string) []string {
	sorted := make([]Bid, len(bids))
	copy(sorted, bids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	hashes := make([]string, 0, len(sorted))
	for _, bid := range sorted {
		hashes = append(hashes, ComputeBidHash(bid, nonce))
	}
	return hashes
}

// ComputeStateHash computes a digest of the live book and counters.
//
// Formula: SHA256(next_bid_id + "|" + quantity_under_bid + "|" + mint_index + "|" + sorted_bid_entries)
// where sorted_bid_entries = "id:price:quantity:bidder|..." (sorted by bid id)
func ComputeStateHash(state State) string {
	data := fmt.Sprintf("%d|%d|%d", state.NextBidID, state.QuantityUnderBid, state.MintIndex)

	bids := make([]Bid, len(state.Bids))
	copy(bids, state.Bids)
	sort.Slice(bids, func(i, j int) bool { return bids[i].ID < bids[j].ID })

	for _, bid := range bids {
		data += fmt.Sprintf("|%d:%d:%d:%s", bid.ID, bid.Price, bid.Quantity, bid.Bidder)
	}
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
