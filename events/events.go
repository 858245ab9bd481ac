// Package events publishes auction activity and collaborator instructions to Kafka.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/batchauction/core"
)

// Type names an auction event.
type Type string

const (
	TypeBidPlaced        Type = "bid_placed"
	TypeBidReduced       Type = "bid_reduced"
	TypeBidEvicted       Type = "bid_evicted"
	TypeClaimed          Type = "claimed"
	TypeMetadataRevealed Type = "metadata_revealed"
)

// Event is a committed state change, published after it has been persisted.
type Event struct {
	ID        uuid.UUID    `json:"id"`
	Type      Type         `json:"type"`
	AuctionID string       `json:"auction_id"`
	BidID     core.BidID   `json:"bid_id,omitempty"`
	Bidder    core.Address `json:"bidder,omitempty"`
	Price     core.Mutez   `json:"price,omitempty"`
	Quantity  uint64       `json:"quantity,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) error { return nil }
func (NopPublisher) Close() error                            { return nil }

// FromOutcome converts an accepted bid into its events: evictions first,
// then the reduction, then the placement itself.
func FromOutcome(auctionID string, outcome *core.BidOutcome, now time.Time) []Event {
	events := make([]Event, 0, len(outcome.Evicted)+2)
	for _, bid := range outcome.Evicted {
		events = append(events, newBidEvent(TypeBidEvicted, auctionID, bid, now))
	}
	if outcome.Reduced != nil {
		events = append(events, newBidEvent(TypeBidReduced, auctionID, *outcome.Reduced, now))
	}
	return append(events, newBidEvent(TypeBidPlaced, auctionID, outcome.Accepted, now))
}

// FromSettlement builds the claimed event. Price is the clearing price and
// Quantity the number of units minted.
func FromSettlement(auctionID string, s *core.Settlement, now time.Time) Event {
	return Event{
		ID:        uuid.New(),
		Type:      TypeClaimed,
		AuctionID: auctionID,
		Bidder:    s.Bidder,
		Price:     s.ClearingPrice,
		Quantity:  s.Quantity,
		Timestamp: now,
	}
}

// MetadataRevealed builds the event for a metadata update of count tokens.
func MetadataRevealed(auctionID string, admin core.Address, count int, now time.Time) Event {
	return Event{
		ID:        uuid.New(),
		Type:      TypeMetadataRevealed,
		AuctionID: auctionID,
		Bidder:    admin,
		Quantity:  uint64(count),
		Timestamp: now,
	}
}

func newBidEvent(t Type, auctionID string, bid core.Bid, now time.Time) Event {
	return Event{
		ID:        uuid.New(),
		Type:      t,
		AuctionID: auctionID,
		BidID:     bid.ID,
		Bidder:    bid.Bidder,
		Price:     bid.Price,
		Quantity:  bid.Quantity,
		Timestamp: now,
	}
}
