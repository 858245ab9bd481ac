// Package service runs one auction: it serialises operations, persists every state
// change and publishes the resulting events.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/batchauction/auctionapi"
	"github.com/cloudx-io/batchauction/core"
	"github.com/cloudx-io/batchauction/events"
	"github.com/cloudx-io/batchauction/receipt"
)

// ErrPersistence is returned when a state change could not be written to the store.
var ErrPersistence = errors.New("failed to persist auction state")

// Store persists auction state. store.PebbleStore implements it.
type Store interface {
	Save(state core.State) error
	Load() (*core.State, bool, error)
}

// Options wires the service. Minter, Payer and Publisher may be nil: claims then
// fail with core.ErrInvalidCollaborator and events are dropped.
type Options struct {
	Config    core.Config
	Store     Store
	Minter    core.Minter
	Payer     core.Payer
	Publisher events.Publisher
	Keys      *receipt.KeyManager
	Log       *logrus.Entry
	Now       func() time.Time
}

// AuctionService is safe for concurrent use. Operations run one at a time.
type AuctionService struct {
	mu sync.Mutex

	auction   *core.Auction
	cfg       core.Config
	store     Store
	minter    core.Minter
	payer     core.Payer
	publisher events.Publisher
	keys      *receipt.KeyManager
	signer    receiptSigner
	log       *logrus.Entry
	now       func() time.Time
}

// ClaimResult is a settlement together with its signed receipt. Receipt is nil if
// the receipt could not be issued.
type ClaimResult struct {
	Settlement  *core.Settlement
	Receipt     *receipt.ClaimReceipt
	ReceiptCOSE []byte
}

type receiptSigner interface {
	Sign(r receipt.ClaimReceipt) ([]byte, error)
}

// New restores the auction from the store, or starts a fresh one if the store is empty.
func New(opts Options) (*AuctionService, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", core.ErrInvalidConfig)
	}
	if opts.Keys == nil {
		return nil, fmt.Errorf("%w: receipt key is required", core.ErrInvalidConfig)
	}

	s := &AuctionService{
		cfg:       opts.Config,
		store:     opts.Store,
		minter:    opts.Minter,
		payer:     opts.Payer,
		publisher: opts.Publisher,
		keys:      opts.Keys,
		log:       opts.Log,
		now:       opts.Now,
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	s.log = s.log.WithFields(logrus.Fields{
		"package":    "service",
		"auction_id": opts.Config.AuctionID,
	})
	if s.now == nil {
		s.now = time.Now
	}

	signer, err := receipt.NewSigner(opts.Keys)
	if err != nil {
		return nil, err
	}
	s.signer = signer

	state, ok, err := s.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load auction state: %w", err)
	}
	if ok {
		s.auction, err = core.RestoreAuction(s.cfg, *state, s.minter, s.payer)
		if err != nil {
			return nil, fmt.Errorf("failed to restore auction: %w", err)
		}
		s.log.WithFields(logrus.Fields{
			"live_bids":          s.auction.Book().Len(),
			"quantity_under_bid": s.auction.QuantityUnderBid(),
			"mint_index":         s.auction.MintIndex(),
		}).Info("restored auction state")
		return s, nil
	}

	s.auction, err = core.NewAuction(s.cfg, s.minter, s.payer)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(s.auction.State()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.log.Info("created new auction")
	return s, nil
}

// PlaceBid admits a bid. If the new state cannot be persisted the bid is undone.
func (s *AuctionService) PlaceBid(ctx context.Context, sender core.Address, price core.Mutez, quantity uint64, payment core.Mutez) (*core.BidOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	before := s.auction.State()

	outcome, err := s.auction.PlaceBid(sender, price, quantity, payment, now)
	if err != nil {
		return nil, err
	}

	if err := s.store.Save(s.auction.State()); err != nil {
		if restoreErr := s.rollback(before); restoreErr != nil {
			s.log.WithError(restoreErr).Error("failed to roll back bid")
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	log := s.log.WithFields(logrus.Fields{
		"bid_id":   outcome.Accepted.ID,
		"bidder":   sender,
		"price":    price.String(),
		"quantity": outcome.Accepted.Quantity,
	})
	if len(outcome.Evicted) > 0 || outcome.Reduced != nil {
		log = log.WithFields(logrus.Fields{
			"evicted":    len(outcome.Evicted),
			"reduced_by": outcome.ReducedBy,
		})
	}
	log.Info("bid placed")

	s.publish(ctx, events.FromOutcome(s.cfg.AuctionID, outcome, now)...)
	return outcome, nil
}

// Claim settles the sender's bids and issues a signed receipt. Once the collaborators
// have been called the claim is committed in memory even if persisting it fails.
// A receipt failure is logged and the settlement is returned without one, since the
// claim cannot be repeated.
func (s *AuctionService) Claim(ctx context.Context, sender core.Address) (*ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	settlement, err := s.auction.Claim(ctx, sender, now)
	if err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{
		"bidder":         sender,
		"clearing_price": settlement.ClearingPrice.String(),
		"quantity":       settlement.Quantity,
		"cost":           settlement.Cost.String(),
		"refund":         settlement.Refund.String(),
	})

	if err := s.store.Save(s.auction.State()); err != nil {
		log.WithError(err).Error("claim settled but state was not persisted")
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	result := &ClaimResult{Settlement: settlement}
	r, coseBytes, err := s.issueReceipt(settlement, now)
	if err != nil {
		log.WithError(err).Error("claim settled without a receipt")
	} else {
		result.Receipt, result.ReceiptCOSE = r, coseBytes
		log = log.WithField("receipt_id", r.ID)
	}

	log.Info("claim settled")
	s.publish(ctx, events.FromSettlement(s.cfg.AuctionID, settlement, now))
	return result, nil
}

func (s *AuctionService) issueReceipt(settlement *core.Settlement, now time.Time) (*receipt.ClaimReceipt, []byte, error) {
	r, err := receipt.NewClaimReceipt(s.cfg.AuctionID, settlement, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build claim receipt: %w", err)
	}
	coseBytes, err := s.signer.Sign(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign claim receipt: %w", err)
	}
	return &r, coseBytes, nil
}

// RevealMetadata forwards token metadata updates on behalf of the admin.
func (s *AuctionService) RevealMetadata(ctx context.Context, sender core.Address, updates []core.TokenMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.auction.RevealMetadata(ctx, sender, updates); err != nil {
		return err
	}
	s.log.WithField("tokens", len(updates)).Info("metadata revealed")
	s.publish(ctx, events.MetadataRevealed(s.cfg.AuctionID, sender, len(updates), s.now()))
	return nil
}

// Status returns a snapshot of the auction.
func (s *AuctionService) Status() auctionapi.AuctionStatusResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.auction.State()
	resp := auctionapi.AuctionStatusResponse{
		AuctionID:          s.cfg.AuctionID,
		Admin:              s.cfg.Admin,
		Phase:              s.cfg.PhaseAt(s.now()),
		BiddingStart:       s.cfg.BiddingStart.UTC(),
		BiddingEnd:         s.cfg.BiddingEnd.UTC(),
		MinBidPrice:        s.cfg.MinBidPrice,
		MinBidPriceTez:     s.cfg.MinBidPrice.String(),
		TotalSupply:        s.cfg.TotalSupply,
		QuantityUnderBid:   state.QuantityUnderBid,
		Available:          s.cfg.TotalSupply - state.QuantityUnderBid,
		LiveBids:           len(state.Bids),
		MintIndex:          state.MintIndex,
		ClearingPriceFixed: state.ClearingPrice != nil,
		StateHash:          core.ComputeStateHash(state),
	}
	if price, ok := s.auction.ClearingPrice(); ok {
		resp.ClearingPrice = &price
		resp.ClearingPriceTez = price.String()
	}
	return resp
}

// BidsOf returns the live bids and deposit of an address.
func (s *AuctionService) BidsOf(owner core.Address) auctionapi.BidderBidsResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	deposit, _ := s.auction.Deposit(owner)
	return auctionapi.BidderBidsResponse{
		Bidder:     owner,
		Bids:       auctionapi.NewBidViews(s.auction.Book().BidsOf(owner)),
		Deposit:    deposit,
		DepositTez: deposit.String(),
	}
}

// PublicKey describes the key that signs claim receipts.
func (s *AuctionService) PublicKey() (auctionapi.PublicKeyResponse, error) {
	publicKeyPEM, err := s.keys.PublicKeyPEM()
	if err != nil {
		return auctionapi.PublicKeyResponse{}, fmt.Errorf("failed to export public key: %w", err)
	}
	kid, err := s.keys.KeyID()
	if err != nil {
		return auctionapi.PublicKeyResponse{}, err
	}
	return auctionapi.PublicKeyResponse{
		Algorithm: "ES256",
		KeyID:     kid,
		PublicKey: publicKeyPEM,
	}, nil
}

func (s *AuctionService) rollback(before core.State) error {
	restored, err := core.RestoreAuction(s.cfg, before, s.minter, s.payer)
	if err != nil {
		return err
	}
	s.auction = restored
	return nil
}

// publish delivers events for a change that is already committed; a failure is
// logged and does not fail the operation.
func (s *AuctionService) publish(ctx context.Context, evs ...events.Event) {
	if err := s.publisher.Publish(ctx, evs...); err != nil {
		s.log.WithError(err).WithField("events", len(evs)).Error("failed to publish events")
	}
}
