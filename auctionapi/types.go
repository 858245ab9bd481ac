// Package auctionapi defines the JSON types exchanged with the auction HTTP API.
//
// Amounts are carried as integer mutez. Responses add a decimal tez string next to
// each amount for display; requests may give either form.
package auctionapi

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/cloudx-io/batchauction/core"
	"github.com/cloudx-io/batchauction/receipt"
)

// PlaceBidRequest submits a bid. Price and Payment may be given in mutez or, with the
// _tez fields, as decimal tez; a _tez field takes precedence when both are set.
type PlaceBidRequest struct {
	Bidder     core.Address `json:"bidder"`
	Price      core.Mutez   `json:"price,omitempty"`
	PriceTez   string       `json:"price_tez,omitempty"`
	Quantity   uint64       `json:"quantity"`
	Payment    core.Mutez   `json:"payment,omitempty"`
	PaymentTez string       `json:"payment_tez,omitempty"`
}

// Amounts resolves the price and payment in mutez.
func (r PlaceBidRequest) Amounts() (price, payment core.Mutez, err error) {
	price, payment = r.Price, r.Payment
	if r.PriceTez != "" {
		if price, err = core.ParseTez(r.PriceTez); err != nil {
			return 0, 0, fmt.Errorf("invalid price_tez: %w", err)
		}
	}
	if r.PaymentTez != "" {
		if payment, err = core.ParseTez(r.PaymentTez); err != nil {
			return 0, 0, fmt.Errorf("invalid payment_tez: %w", err)
		}
	}
	return price, payment, nil
}

// BidView is a live bid as shown to clients.
type BidView struct {
	ID       core.BidID   `json:"id"`
	Bidder   core.Address `json:"bidder"`
	Price    core.Mutez   `json:"price"`
	PriceTez string       `json:"price_tez"`
	Quantity uint64       `json:"quantity"`
}

func NewBidView(b core.Bid) BidView {
	return BidView{
		ID:       b.ID,
		Bidder:   b.Bidder,
		Price:    b.Price,
		PriceTez: b.Price.String(),
		Quantity: b.Quantity,
	}
}

func NewBidViews(bids []core.Bid) []BidView {
	views := make([]BidView, 0, len(bids))
	for _, b := range bids {
		views = append(views, NewBidView(b))
	}
	return views
}

// PlaceBidResponse describes an accepted bid and what it displaced.
type PlaceBidResponse struct {
	Bid       BidView   `json:"bid"`
	Unfilled  uint64    `json:"unfilled"`
	Evicted   []BidView `json:"evicted"`
	Reduced   *BidView  `json:"reduced,omitempty"`
	ReducedBy uint64    `json:"reduced_by,omitempty"`
}

func NewPlaceBidResponse(o *core.BidOutcome) PlaceBidResponse {
	resp := PlaceBidResponse{
		Bid:       NewBidView(o.Accepted),
		Unfilled:  o.Unfilled,
		Evicted:   NewBidViews(o.Evicted),
		ReducedBy: o.ReducedBy,
	}
	if o.Reduced != nil {
		reduced := NewBidView(*o.Reduced)
		resp.Reduced = &reduced
	}
	return resp
}

// BidderBidsResponse lists a bidder's live bids and gross deposit.
type BidderBidsResponse struct {
	Bidder     core.Address `json:"bidder"`
	Bids       []BidView    `json:"bids"`
	Deposit    core.Mutez   `json:"deposit"`
	DepositTez string       `json:"deposit_tez"`
}

type ClaimRequest struct {
	Bidder core.Address `json:"bidder"`
}

// ClaimResponse reports a settlement and carries its signed receipt. The receipt is
// omitted if it could not be issued; the settlement stands either way.
type ClaimResponse struct {
	Bidder           core.Address `json:"bidder"`
	ClearingPrice    core.Mutez   `json:"clearing_price"`
	ClearingPriceTez string       `json:"clearing_price_tez"`
	Quantity         uint64       `json:"quantity"`
	Cost             core.Mutez   `json:"cost"`
	CostTez          string       `json:"cost_tez"`
	Refund           core.Mutez   `json:"refund"`
	RefundTez        string       `json:"refund_tez"`
	TokenIDs         []uint64     `json:"token_ids"`

	Receipt           *receipt.ClaimReceipt `json:"receipt,omitempty"`
	ReceiptCOSEBase64 ReceiptCOSEBase64     `json:"receipt_cose_base64,omitempty"`
}

func NewClaimResponse(s *core.Settlement, r *receipt.ClaimReceipt, coseBytes []byte) ClaimResponse {
	tokenIDs := s.TokenIDs
	if tokenIDs == nil {
		tokenIDs = []uint64{}
	}
	return ClaimResponse{
		Bidder:            s.Bidder,
		ClearingPrice:     s.ClearingPrice,
		ClearingPriceTez:  s.ClearingPrice.String(),
		Quantity:          s.Quantity,
		Cost:              s.Cost,
		CostTez:           s.Cost.String(),
		Refund:            s.Refund,
		RefundTez:         s.Refund.String(),
		TokenIDs:          tokenIDs,
		Receipt:           r,
		ReceiptCOSEBase64: EncodeReceiptCOSE(coseBytes),
	}
}

// TokenMetadataUpdate replaces the metadata of one token. Values are strings on
// the wire.
type TokenMetadataUpdate struct {
	TokenID uint64            `json:"token_id"`
	Info    map[string]string `json:"info"`
}

type RevealMetadataRequest struct {
	Sender core.Address          `json:"sender"`
	Tokens []TokenMetadataUpdate `json:"tokens"`
}

// TokenMetadata converts the request into the core representation.
func (r RevealMetadataRequest) TokenMetadata() []core.TokenMetadata {
	updates := make([]core.TokenMetadata, 0, len(r.Tokens))
	for _, t := range r.Tokens {
		info := make(map[string][]byte, len(t.Info))
		for k, v := range t.Info {
			info[k] = []byte(v)
		}
		updates = append(updates, core.TokenMetadata{TokenID: t.TokenID, TokenInfo: info})
	}
	return updates
}

// AuctionStatusResponse is a snapshot of the auction.
type AuctionStatusResponse struct {
	AuctionID        string       `json:"auction_id"`
	Admin            core.Address `json:"admin"`
	Phase            core.Phase   `json:"phase"`
	BiddingStart     time.Time    `json:"bidding_start"`
	BiddingEnd       time.Time    `json:"bidding_end"`
	MinBidPrice      core.Mutez   `json:"min_bid_price"`
	MinBidPriceTez   string       `json:"min_bid_price_tez"`
	TotalSupply      uint64       `json:"total_supply"`
	QuantityUnderBid uint64       `json:"quantity_under_bid"`
	Available        uint64       `json:"available"`
	LiveBids         int          `json:"live_bids"`
	MintIndex        uint64       `json:"mint_index"`

	// ClearingPrice is the current lowest winning price, or the fixed price once a
	// claim has been made. Absent while there are no live bids.
	ClearingPrice      *core.Mutez `json:"clearing_price,omitempty"`
	ClearingPriceTez   string      `json:"clearing_price_tez,omitempty"`
	ClearingPriceFixed bool        `json:"clearing_price_fixed"`

	StateHash string `json:"state_hash"`
}

type PublicKeyResponse struct {
	Algorithm string `json:"algorithm"`
	KeyID     string `json:"key_id"`
	PublicKey string `json:"public_key"` // PEM format
}

type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ReceiptCOSEBase64 is a COSE_Sign1 receipt in standard base64 for JSON transport.
type ReceiptCOSEBase64 string

func EncodeReceiptCOSE(coseBytes []byte) ReceiptCOSEBase64 {
	return ReceiptCOSEBase64(base64.StdEncoding.EncodeToString(coseBytes))
}

// Decode returns the raw COSE bytes.
func (r ReceiptCOSEBase64) Decode() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(string(r))
	if err != nil {
		return nil, fmt.Errorf("decode receipt base64: %w", err)
	}
	return data, nil
}
