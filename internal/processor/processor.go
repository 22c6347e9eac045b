// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package processor drives the core block-processing loop of spec
// §4.5: for each host notification it opens a block frame, walks
// receipts and logs through the two-stage filter and decoder, emits
// updates, closes the frame, applies pending whitelist mutations, and
// finally acknowledges the notification.
package processor

import (
	"fmt"

	luxlog "github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/liquidity-exex/internal/decoder"
	"github.com/luxfi/liquidity-exex/internal/ipc"
	"github.com/luxfi/liquidity-exex/internal/notify"
	"github.com/luxfi/liquidity-exex/internal/poolid"
	"github.com/luxfi/liquidity-exex/internal/whitelist"
)

// warnEveryNBlocks is the periodicity of the empty-whitelist warning
// named in spec §7.
const warnEveryNBlocks = 100

// frameSink is the subset of *ipc.Sink the processor depends on; kept
// as an interface so tests can substitute an in-memory recorder.
type frameSink interface {
	Send(ipc.Frame)
}

// Processor owns the single notification task: it is the only caller
// of tracker.BeginBlock/EndBlock and the only writer of the block-frame
// stream (spec §5).
type Processor struct {
	tracker *whitelist.Tracker
	sink    frameSink
	log     luxlog.Logger
	metrics *metricsBundle

	totalBlocksProcessed uint64
}

// New builds a processor over tracker and sink. reg may be nil to skip
// metric registration (used in tests).
func New(tracker *whitelist.Tracker, sink frameSink, logger luxlog.Logger, reg prometheus.Registerer) *Processor {
	return &Processor{
		tracker: tracker,
		sink:    sink,
		log:     logger.With("component", "processor"),
		metrics: newMetricsBundle(reg),
	}
}

// Handle processes one host notification to completion and returns the
// acknowledgment to send back to the host (spec §4.5, §6). It is the
// only method that should be called from the notification task.
func (p *Processor) Handle(n notify.Notification) notify.Ack {
	switch n.Kind {
	case notify.Committed:
		for _, b := range ascending(n.New) {
			p.processBlock(b, false)
		}
	case notify.Reverted:
		for _, b := range descending(n.Old) {
			p.processBlock(b, true)
		}
	case notify.Reorged:
		// Unwind the old chain tip-down, then replay the new chain
		// base-up (spec §4.5, testable property 5). Whitelist
		// mutations may land at any of the intervening block
		// boundaries; BeginBlock/EndBlock pairing is preserved across
		// the revert-then-apply transition because processBlock always
		// completes one full pair before the next begins.
		for _, b := range descending(n.Old) {
			p.processBlock(b, true)
		}
		for _, b := range ascending(n.New) {
			p.processBlock(b, false)
		}
	}
	return notify.Ack{HighestProcessedBlock: n.HighestBlock()}
}

func (p *Processor) processBlock(b notify.Block, isRevert bool) {
	if err := p.tracker.BeginBlock(); err != nil {
		// The one fatal invariant violation named in spec §7: the host
		// will re-deliver this notification after restart.
		p.log.Crit("whitelist tracker invariant violated", "err", fmt.Errorf("block %d: %w", b.Number, err))
		return
	}

	p.sink.Send(ipc.BeginBlock{
		BlockNumber:    b.Number,
		BlockTimestamp: b.Timestamp,
		IsRevert:       isRevert,
	})

	var numUpdates uint32
	for txIndex, receipt := range b.Receipts {
		for logIndex, lg := range receipt.Logs {
			if !p.tracker.IsTrackedAddress(lg.Address) {
				p.metrics.stage1Rejected.Inc()
				continue
			}
			ev, ok := decoder.Decode(lg)
			if !ok {
				p.metrics.decodeRejected.Inc()
				continue
			}
			if !p.stage2Tracked(ev) {
				p.metrics.stage2Rejected.Inc()
				continue
			}
			p.sink.Send(ipc.PoolUpdate{
				ID:             ev.ID,
				Protocol:       ev.Protocol,
				Kind:           ev.Kind,
				BlockNumber:    b.Number,
				BlockTimestamp: b.Timestamp,
				TxIndex:        uint32(txIndex),
				LogIndex:       uint32(logIndex),
				IsRevert:       isRevert,
				Payload:        ev.Payload,
			})
			numUpdates++
			p.metrics.updatesEmitted.WithLabelValues(ev.Protocol.String(), ev.Kind.String()).Inc()
		}
	}

	p.sink.Send(ipc.EndBlock{BlockNumber: b.Number, NumUpdates: numUpdates})
	p.tracker.EndBlock()

	p.totalBlocksProcessed++
	p.metrics.blocksProcessed.Inc()
	p.maybeWarnEmptyWhitelist()
}

// stage2Tracked re-asserts pool identity after decode (spec §4.5 step
// 3c): for V2/V3 this is always true given stage 1 already passed, but
// it is checked defensively; for V4 it is load-bearing, since many
// pools share the singleton's address.
func (p *Processor) stage2Tracked(ev decoder.Event) bool {
	if ev.Protocol == poolid.V4 {
		id, ok := ev.ID.PoolID()
		if !ok {
			return false
		}
		return p.tracker.IsTrackedPoolID(id)
	}
	addr, ok := ev.ID.Address()
	if !ok {
		return false
	}
	return p.tracker.IsTrackedAddress(addr)
}

func (p *Processor) maybeWarnEmptyWhitelist() {
	empty := p.tracker.Len() == 0
	if empty {
		p.metrics.emptyWhitelist.Set(1)
	} else {
		p.metrics.emptyWhitelist.Set(0)
	}
	if empty && p.totalBlocksProcessed%warnEveryNBlocks == 0 {
		p.log.Warn("whitelist is empty", "blocksProcessed", p.totalBlocksProcessed)
	}
}

func ascending(blocks []notify.Block) []notify.Block {
	out := make([]notify.Block, len(blocks))
	copy(out, blocks)
	sortBlocks(out, func(a, b notify.Block) bool { return a.Number < b.Number })
	return out
}

func descending(blocks []notify.Block) []notify.Block {
	out := make([]notify.Block, len(blocks))
	copy(out, blocks)
	sortBlocks(out, func(a, b notify.Block) bool { return a.Number > b.Number })
	return out
}

// sortBlocks is a small insertion sort: notification batches are at
// most a handful of blocks, so there is no need to pull in sort.Slice's
// reflection-based comparator for this.
func sortBlocks(blocks []notify.Block, less func(a, b notify.Block) bool) {
	for i := 1; i < len(blocks); i++ {
		for j := i; j > 0 && less(blocks[j], blocks[j-1]); j-- {
			blocks[j], blocks[j-1] = blocks[j-1], blocks[j]
		}
	}
}
