// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package whitelist maintains the block-synchronized set of pools the
// core observes (spec §3, §4.2). Mutations are queued by any task at
// any time but only drain into the live, readable sets between blocks,
// which is what makes concurrent event scanning and whitelist updates
// safe to run on separate tasks (spec §5).
package whitelist

import (
	"errors"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/luxfi/liquidity-exex/internal/poolid"
)

// ErrAlreadyInBlock is the single fatal invariant violation named in
// spec §7: BeginBlock called while a block is already open.
var ErrAlreadyInBlock = errors.New("whitelist: begin_block called while already in-block")

// MutationKind discriminates the pending-mutation queue's three
// variants (spec §3).
type MutationKind uint8

const (
	Add MutationKind = iota
	Remove
	Replace
)

// Mutation is one queued change. Add and Replace carry descriptors;
// Remove carries bare identifiers (the feed does not necessarily know
// the full descriptor of a pool it is asked to drop).
type Mutation struct {
	Kind        MutationKind
	Descriptors []poolid.Descriptor
	Identifiers []poolid.ID
}

// Tracker is the single owner of the whitelist's live state and pending
// mutation queue (spec §4.2, §9). The zero value is not usable; build
// one with New.
type Tracker struct {
	// mu guards the live state: addresses, poolIDs, descriptors,
	// v4Count, and inBlock. It is held exclusively only for the brief
	// BeginBlock/EndBlock transitions and for shared reads during event
	// scanning, never across an entire block.
	mu        sync.RWMutex
	addresses mapset.Set[common.Address]
	poolIDs   mapset.Set[common.Hash]
	descriptors map[poolid.ID]poolid.Descriptor
	v4Count   int
	inBlock   bool

	// singleton is the well-known V4 PoolManager address (spec §6):
	// shared by every V4 pool, added to addresses on first V4 add and
	// kept until the last V4 pool is removed (spec §4.2, §9).
	singleton common.Address

	// qmu guards only the pending queue, independent of mu: the feed
	// task never touches live state, only this queue (spec §5).
	qmu     sync.Mutex
	pending []Mutation
}

// New builds an empty tracker. singleton is the V4 PoolManager address
// this chain uses; see spec §6's known constant for Ethereum mainnet.
func New(singleton common.Address) *Tracker {
	return &Tracker{
		addresses:   mapset.NewSet[common.Address](),
		poolIDs:     mapset.NewSet[common.Hash](),
		descriptors: make(map[poolid.ID]poolid.Descriptor),
		singleton:   singleton,
	}
}

// BeginBlock opens a block frame. It must be paired with exactly one
// EndBlock before the next BeginBlock; violating that is the one fatal
// invariant error in this system (spec §7) and is left to the caller
// (the notification processor) to treat as such.
func (t *Tracker) BeginBlock() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inBlock {
		return ErrAlreadyInBlock
	}
	t.inBlock = true
	return nil
}

// EndBlock drains the pending mutation queue into the live state in
// FIFO order, then closes the block. Draining and flag-clearing happen
// under one write-lock acquisition so readers never observe a
// partially-applied mutation batch (spec §4.2, testable property 2).
func (t *Tracker) EndBlock() {
	t.qmu.Lock()
	drained := t.pending
	t.pending = nil
	t.qmu.Unlock()

	t.mu.Lock()
	for _, m := range drained {
		t.apply(m)
	}
	t.inBlock = false
	t.mu.Unlock()
}

// Queue appends a mutation to the pending queue. Safe to call from any
// task at any time, including mid-block (spec §4.2).
func (t *Tracker) Queue(m Mutation) {
	t.qmu.Lock()
	t.pending = append(t.pending, m)
	t.qmu.Unlock()
}

// IsTrackedAddress reports whether addr may emit events of interest.
// Safe to call concurrently with Queue and with other reads; blocks
// only for the duration of an in-flight EndBlock drain.
func (t *Tracker) IsTrackedAddress(addr common.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.addresses.Contains(addr)
}

// IsTrackedPoolID reports whether id is a tracked V4 pool.
func (t *Tracker) IsTrackedPoolID(id common.Hash) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.poolIDs.Contains(id)
}

// DescriptorOf returns the descriptor tagging id, used only to stamp
// outgoing messages (spec §3).
func (t *Tracker) DescriptorOf(id poolid.ID) (poolid.Descriptor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.descriptors[id]
	return d, ok
}

// Len reports how many pools are currently tracked, across both
// protocols. Used to drive the periodic empty-whitelist warning of
// spec §7.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.descriptors)
}

// apply must be called with t.mu held for writing.
func (t *Tracker) apply(m Mutation) {
	switch m.Kind {
	case Add:
		for _, d := range m.Descriptors {
			t.insertLocked(d)
		}
	case Remove:
		for _, id := range m.Identifiers {
			t.removeLocked(id)
		}
	case Replace:
		t.clearLocked()
		for _, d := range m.Descriptors {
			t.insertLocked(d)
		}
	}
}

func (t *Tracker) insertLocked(d poolid.Descriptor) {
	if _, exists := t.descriptors[d.ID]; exists {
		// Duplicate add: a no-op, not an error (spec §4.2).
		return
	}
	t.descriptors[d.ID] = d
	if d.Protocol == poolid.V4 {
		poolID, _ := d.ID.PoolID()
		t.poolIDs.Add(poolID)
		t.v4Count++
		if !t.addresses.Contains(t.singleton) {
			t.addresses.Add(t.singleton)
		}
		return
	}
	addr, _ := d.ID.Address()
	t.addresses.Add(addr)
}

func (t *Tracker) removeLocked(id poolid.ID) {
	d, exists := t.descriptors[id]
	if !exists {
		// Removing an absent identifier is a no-op (spec §4.2,
		// testable property 8).
		return
	}
	delete(t.descriptors, id)
	if d.Protocol == poolid.V4 {
		poolID, _ := id.PoolID()
		t.poolIDs.Remove(poolID)
		t.v4Count--
		if t.v4Count <= 0 {
			t.v4Count = 0
			// Stricter rule preferred by spec §4.2/§9: drop the
			// singleton only once no V4 pool remains.
			t.addresses.Remove(t.singleton)
		}
		return
	}
	addr, _ := id.Address()
	t.addresses.Remove(addr)
}

func (t *Tracker) clearLocked() {
	t.addresses = mapset.NewSet[common.Address]()
	t.poolIDs = mapset.NewSet[common.Hash]()
	t.descriptors = make(map[poolid.ID]poolid.Descriptor)
	t.v4Count = 0
}
