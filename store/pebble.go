// Package store persists auction state in a pebble database.
package store

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/batchauction/core"
)

const schemaVersion = 1

// -------------------- Keys --------------------

var (
	metaKey       = []byte("meta")
	bidPrefix     = []byte("bid/")
	heapPrefix    = []byte("heap/")
	depositPrefix = []byte("deposit/")
)

func bidKey(id core.BidID) []byte {
	return []byte(fmt.Sprintf("bid/%020d", id))
}

func heapKey(slot int) []byte {
	return []byte(fmt.Sprintf("heap/%020d", slot))
}

func depositKey(owner core.Address) []byte {
	return append(append([]byte{}, depositPrefix...), owner...)
}

// prefixEnd returns the smallest key greater than every key with the given prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	end[len(end)-1]++
	return end
}

// -------------------- Records --------------------

type metaRecord struct {
	Version          int          `cbor:"1,keyasint"`
	NextBidID        core.BidID   `cbor:"2,keyasint"`
	QuantityUnderBid uint64       `cbor:"3,keyasint"`
	MintIndex        uint64       `cbor:"4,keyasint"`
	ClearingPrice    *core.Mutez  `cbor:"5,keyasint,omitempty"`
	HeapLen          int          `cbor:"6,keyasint"`
	AuctionID        string       `cbor:"7,keyasint,omitempty"`
	Admin            core.Address `cbor:"8,keyasint,omitempty"`
}

// Deterministic encoding keeps identical states byte-identical on disk.
var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// -------------------- Store --------------------

// Options configures Open.
type Options struct {
	// FS overrides the filesystem; tests use vfs.NewMem().
	FS vfs.FS
}

// PebbleStore keeps the latest auction State. Every Save replaces the previous state
// in one synced batch so a crash never exposes a partially written state.
type PebbleStore struct {
	db *pebble.DB
}

// Open opens (or creates) the store in dir.
func Open(dir string, opts *Options) (*PebbleStore, error) {
	pebbleOpts := &pebble.Options{}
	if opts != nil && opts.FS != nil {
		pebbleOpts.FS = opts.FS
	}
	db, err := pebble.Open(dir, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store at %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// Save atomically replaces the stored state.
func (s *PebbleStore) Save(state core.State) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, prefix := range [][]byte{bidPrefix, heapPrefix, depositPrefix} {
		if err := batch.DeleteRange(prefix, prefixEnd(prefix), nil); err != nil {
			return fmt.Errorf("failed to clear %s records: %w", prefix, err)
		}
	}

	for slot, bid := range state.Bids {
		value, err := encMode.Marshal(bid)
		if err != nil {
			return fmt.Errorf("failed to encode bid %d: %w", bid.ID, err)
		}
		if err := batch.Set(bidKey(bid.ID), value, nil); err != nil {
			return err
		}
		slotValue, err := encMode.Marshal(bid.ID)
		if err != nil {
			return fmt.Errorf("failed to encode heap slot %d: %w", slot, err)
		}
		if err := batch.Set(heapKey(slot), slotValue, nil); err != nil {
			return err
		}
	}

	for owner, amount := range state.Deposits {
		value, err := encMode.Marshal(amount)
		if err != nil {
			return fmt.Errorf("failed to encode deposit of %s: %w", owner, err)
		}
		if err := batch.Set(depositKey(owner), value, nil); err != nil {
			return err
		}
	}

	meta, err := encMode.Marshal(metaRecord{
		Version:          schemaVersion,
		NextBidID:        state.NextBidID,
		QuantityUnderBid: state.QuantityUnderBid,
		MintIndex:        state.MintIndex,
		ClearingPrice:    state.ClearingPrice,
		HeapLen:          len(state.Bids),
		AuctionID:        state.AuctionID,
		Admin:            state.Admin,
	})
	if err != nil {
		return fmt.Errorf("failed to encode meta record: %w", err)
	}
	if err := batch.Set(metaKey, meta, nil); err != nil {
		return err
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}

// Load returns the stored state. ok is false if nothing has been saved yet.
func (s *PebbleStore) Load() (state *core.State, ok bool, err error) {
	var meta metaRecord
	if err := s.get(metaKey, &meta); err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read meta record: %w", err)
	}
	if meta.Version != schemaVersion {
		return nil, false, fmt.Errorf("%w: unsupported schema version %d", core.ErrCorruptState, meta.Version)
	}

	state = &core.State{
		NextBidID:        meta.NextBidID,
		QuantityUnderBid: meta.QuantityUnderBid,
		MintIndex:        meta.MintIndex,
		ClearingPrice:    meta.ClearingPrice,
		Bids:             make([]core.Bid, 0, meta.HeapLen),
		Deposits:         make(map[core.Address]core.Mutez),
		AuctionID:        meta.AuctionID,
		Admin:            meta.Admin,
	}

	// Heap keys are zero padded, so iteration yields slots in order.
	err = s.scan(heapPrefix, func(key, value []byte) error {
		var id core.BidID
		if err := cbor.Unmarshal(value, &id); err != nil {
			return fmt.Errorf("failed to decode heap slot %s: %w", key, err)
		}
		var bid core.Bid
		if err := s.get(bidKey(id), &bid); err != nil {
			return fmt.Errorf("%w: heap slot %s references bid %d: %w", core.ErrCorruptState, key, id, err)
		}
		state.Bids = append(state.Bids, bid)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if len(state.Bids) != meta.HeapLen {
		return nil, false, fmt.Errorf("%w: found %d heap slots, meta records %d",
			core.ErrCorruptState, len(state.Bids), meta.HeapLen)
	}

	err = s.scan(depositPrefix, func(key, value []byte) error {
		var amount core.Mutez
		if err := cbor.Unmarshal(value, &amount); err != nil {
			return fmt.Errorf("failed to decode deposit %s: %w", key, err)
		}
		state.Deposits[core.Address(key[len(depositPrefix):])] = amount
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return state, true, nil
}

// -------------------- Helpers --------------------

func (s *PebbleStore) get(key []byte, v any) error {
	value, closer, err := s.db.Get(key)
	if err != nil {
		return err
	}
	defer closer.Close()
	return cbor.Unmarshal(value, v)
}

func (s *PebbleStore) scan(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
