package core

import (
	"context"
	"fmt"
	"time"
)

// Minter issues tokens for won units and forwards metadata updates.
type Minter interface {
	Mint(ctx context.Context, req MintRequest) error
	UpdateTokenMetadata(ctx context.Context, updates []TokenMetadata) error
}

// Payer moves value from the auction to another party.
// A Transfer either completes or returns an error.
type Payer interface {
	Transfer(ctx context.Context, to Address, amount Mutez) error
}

// TransferLeg names the side of a claim a transfer settles.
type TransferLeg string

const (
	LegProceeds TransferLeg = "proceeds"
	LegRefund   TransferLeg = "refund"
)

// TransferRef identifies the claim a transfer belongs to. Claim attaches it to the
// context passed to Payer.Transfer; a retried claim sends the same refs.
type TransferRef struct {
	Claimant Address
	Leg      TransferLeg
}

type transferRefKey struct{}

func WithTransferRef(ctx context.Context, ref TransferRef) context.Context {
	return context.WithValue(ctx, transferRefKey{}, ref)
}

// TransferRefFrom returns the claim leg a Transfer call settles, if any.
func TransferRefFrom(ctx context.Context) (TransferRef, bool) {
	ref, ok := ctx.Value(transferRefKey{}).(TransferRef)
	return ref, ok
}

// ClearingPrice returns the uniform price winners pay: the price of the lowest ranked
// live bid. Once the first claim has fixed it, that value is returned. ok is false if
// there are no live bids and no claim has fixed a price yet.
func (a *Auction) ClearingPrice() (price Mutez, ok bool) {
	if a.clearingPrice != nil {
		return *a.clearingPrice, true
	}
	lowest, ok := a.book.Min()
	if !ok {
		return 0, false
	}
	return lowest.Price, true
}

// Claim settles the sender's winning bids at the clearing price: one token is minted per
// unit won, the cost goes to the admin and the rest of the sender's gross deposit is
// refunded. The deposit entry is removed, so a second claim fails with ErrNothingToClaim.
//
// Collaborator calls happen before any state is committed; if one fails the auction is
// left unchanged. Instructions already dispatched are not recalled, so a retry repeats
// the same mint requests and transfer refs and receivers must drop repeats.
func (a *Auction) Claim(ctx context.Context, sender Address, now time.Time) (*Settlement, error) {
	if now.Before(a.cfg.BiddingEnd) {
		return nil, fmt.Errorf("%w: bidding ends at %s", ErrBiddingStillActive, a.cfg.BiddingEnd.UTC().Format(time.RFC3339))
	}

	deposit, ok := a.deposits[sender]
	if !ok {
		return nil, fmt.Errorf("%w: no deposit for %s", ErrNothingToClaim, sender)
	}

	if a.minter == nil {
		return nil, fmt.Errorf("%w: no minter configured", ErrInvalidCollaborator)
	}
	if a.payer == nil {
		return nil, fmt.Errorf("%w: no payer configured", ErrInvalidCollaborator)
	}

	// An empty book means no one won anything: every claimant owns no live bid,
	// pays nothing and gets the full deposit back.
	clearingPrice, _ := a.ClearingPrice()

	settlement := &Settlement{
		Bidder:        sender,
		ClearingPrice: clearingPrice,
		Deposit:       deposit,
		WinningBids:   a.book.BidsOf(sender),
	}

	for _, bid := range settlement.WinningBids {
		bidCost, err := MulQuantity(clearingPrice, bid.Quantity)
		if err != nil {
			return nil, err
		}
		if settlement.Cost, err = addMutez(settlement.Cost, bidCost); err != nil {
			return nil, err
		}
		settlement.Quantity += bid.Quantity
	}

	// Bids were paid for at their own price, which is never below the clearing price.
	if settlement.Cost > deposit {
		return nil, fmt.Errorf("%w: cost %d exceeds deposit %d for %s", ErrCorruptState, settlement.Cost, deposit, sender)
	}
	settlement.Refund = deposit - settlement.Cost

	mintIndex := a.mintIndex
	metadata := a.cfg.metadata()
	for _, bid := range settlement.WinningBids {
		for i := uint64(0); i < bid.Quantity; i++ {
			req := MintRequest{
				TokenID:   mintIndex,
				Amount:    1,
				Recipient: sender,
				Metadata:  metadata,
			}
			if err := a.minter.Mint(ctx, req); err != nil {
				return nil, fmt.Errorf("failed to mint token %d for %s: %w", mintIndex, sender, err)
			}
			settlement.TokenIDs = append(settlement.TokenIDs, mintIndex)
			mintIndex++
		}
	}

	proceedsCtx := WithTransferRef(ctx, TransferRef{Claimant: sender, Leg: LegProceeds})
	if err := a.payer.Transfer(proceedsCtx, a.cfg.Admin, settlement.Cost); err != nil {
		return nil, fmt.Errorf("failed to transfer proceeds %d to admin: %w", settlement.Cost, err)
	}
	refundCtx := WithTransferRef(ctx, TransferRef{Claimant: sender, Leg: LegRefund})
	if err := a.payer.Transfer(refundCtx, sender, settlement.Refund); err != nil {
		return nil, fmt.Errorf("failed to refund %d to %s: %w", settlement.Refund, sender, err)
	}

	// Commit
	if a.clearingPrice == nil && a.book.Len() > 0 {
		price := clearingPrice
		a.clearingPrice = &price
	}
	a.mintIndex = mintIndex
	delete(a.deposits, sender)

	return settlement, nil
}
