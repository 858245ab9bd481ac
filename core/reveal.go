package core

import (
	"context"
	"fmt"
)

// RevealMetadata forwards a batch of token metadata updates to the minter.
// Only the admin may call it.
func (a *Auction) RevealMetadata(ctx context.Context, sender Address, updates []TokenMetadata) error {
	if sender != a.cfg.Admin {
		return fmt.Errorf("%w: %s is not the admin", ErrNotAuthorized, sender)
	}
	if a.minter == nil {
		return fmt.Errorf("%w: no minter configured", ErrInvalidCollaborator)
	}
	if err := a.minter.UpdateTokenMetadata(ctx, updates); err != nil {
		return fmt.Errorf("failed to update metadata for %d tokens: %w", len(updates), err)
	}
	return nil
}
