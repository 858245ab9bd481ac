// Package receipt issues and verifies signed claim receipts.
//
// A receipt is a COSE_Sign1 message (ES256) whose payload is the CBOR encoded
// ClaimReceipt. Winning bids are committed to as salted hashes so a bidder can
// prove inclusion of its own bids without the receipt revealing them.
package receipt

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/batchauction/core"
)

// ClaimReceipt records the outcome of one claim.
type ClaimReceipt struct {
	ID            string       `cbor:"1,keyasint" json:"id"`
	AuctionID     string       `cbor:"2,keyasint" json:"auction_id"`
	Bidder        core.Address `cbor:"3,keyasint" json:"bidder"`
	ClearingPrice core.Mutez   `cbor:"4,keyasint" json:"clearing_price"`
	Quantity      uint64       `cbor:"5,keyasint" json:"quantity"`
	Cost          core.Mutez   `cbor:"6,keyasint" json:"cost"`
	Refund        core.Mutez   `cbor:"7,keyasint" json:"refund"`

	// FirstTokenID and LastTokenID bound the minted range; both are zero when
	// Quantity is zero.
	FirstTokenID uint64 `cbor:"8,keyasint" json:"first_token_id"`
	LastTokenID  uint64 `cbor:"9,keyasint" json:"last_token_id"`

	BidHashes    []string  `cbor:"10,keyasint" json:"bid_hashes"`
	BidHashNonce string    `cbor:"11,keyasint" json:"bid_hash_nonce"`
	IssuedAt     time.Time `cbor:"12,keyasint" json:"issued_at"`
}

// NewClaimReceipt builds the receipt for a settlement with a fresh id and nonce.
func NewClaimReceipt(auctionID string, s *core.Settlement, now time.Time) (ClaimReceipt, error) {
	nonce, err := generateNonce()
	if err != nil {
		return ClaimReceipt{}, err
	}

	r := ClaimReceipt{
		ID:            uuid.NewString(),
		AuctionID:     auctionID,
		Bidder:        s.Bidder,
		ClearingPrice: s.ClearingPrice,
		Quantity:      s.Quantity,
		Cost:          s.Cost,
		Refund:        s.Refund,
		BidHashes:     core.ComputeBidHashes(s.WinningBids, nonce),
		BidHashNonce:  nonce,
		IssuedAt:      now.UTC(),
	}
	if n := len(s.TokenIDs); n > 0 {
		r.FirstTokenID = s.TokenIDs[0]
		r.LastTokenID = s.TokenIDs[n-1]
	}
	return r, nil
}

func generateNonce() (string, error) {
	randomBytes := make([]byte, 32) // 256 bits of entropy
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate secure nonce - %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}
