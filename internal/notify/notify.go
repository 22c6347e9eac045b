// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package notify defines the host execution-client notification contract
// (spec §6): the three chain-notification variants the node delivers and
// the minimal block/receipt/log shape the processor reads them through.
// The host's block-import pipeline, its transport, and its own internal
// types are out of scope (spec §1) — this package only names the fields
// the core actually touches.
package notify

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Log is the minimal log record the decoder needs: emitter address, the
// ordered topic list (topic 0 is the event signature hash), and the
// opaque ABI-encoded data region.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// Receipt carries the logs emitted by one transaction, in log order.
type Receipt struct {
	Logs []Log
}

// Block is the minimal per-block payload the processor walks: its
// number and timestamp, and its receipts in transaction order.
type Block struct {
	Number    uint64
	Timestamp uint64
	Receipts  []Receipt
}

// Kind discriminates the three notification variants of spec §4.5.
type Kind uint8

const (
	Committed Kind = iota
	Reverted
	Reorged
)

// Notification is one item from the host's notification stream.
//
//   - Committed: Old is empty, New holds the canonically extended blocks.
//   - Reverted: New is empty, Old holds the blocks being unwound.
//   - Reorged: Old holds the blocks removed, New holds the blocks
//     installed in their place; the shared ancestor is in neither list.
type Notification struct {
	Kind Kind
	Old  []Block
	New  []Block
}

// HighestBlock returns the highest block number touched by this
// notification, used to stamp the host acknowledgment.
func (n Notification) HighestBlock() uint64 {
	var highest uint64
	for _, b := range n.Old {
		if b.Number > highest {
			highest = b.Number
		}
	}
	for _, b := range n.New {
		if b.Number > highest {
			highest = b.Number
		}
	}
	return highest
}

// Ack is the acknowledgment the processor sends back to the host after
// a notification has been fully processed (spec §4.5, §6).
type Ack struct {
	HighestProcessedBlock uint64
}

// Source is the host notification stream itself (spec §1's "host
// execution client and its block-import pipeline" is explicitly out of
// scope; this is the narrow seam a concrete host integration implements
// against). Next blocks until a notification is available or ctx is
// done. Ack reports the result of Handle back to the host via whatever
// side channel it exposes (spec §4.5).
type Source interface {
	Next(ctx context.Context) (Notification, error)
	Ack(ctx context.Context, ack Ack) error
}
