// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package processor

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	luxlog "github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/liquidity-exex/internal/ipc"
	"github.com/luxfi/liquidity-exex/internal/notify"
	"github.com/luxfi/liquidity-exex/internal/poolid"
	"github.com/luxfi/liquidity-exex/internal/whitelist"
)

var singleton = common.HexToAddress("0x000000000004444c5dc75cB358380D2e3dE08A90")

type recordingSink struct {
	frames []ipc.Frame
}

func (r *recordingSink) Send(f ipc.Frame) {
	r.frames = append(r.frames, f)
}

var sigV2Swap = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))

func v2Swap(addr common.Address) notify.Log {
	data := make([]byte, 32*4)
	amount0Out := big.NewInt(500)
	amount0Out.FillBytes(data[64:96])
	return notify.Log{Address: addr, Topics: []common.Hash{sigV2Swap}, Data: data}
}

func newTracker(t *testing.T) *whitelist.Tracker {
	t.Helper()
	return whitelist.New(singleton)
}

func newProcessor(tr *whitelist.Tracker, sink *recordingSink) *Processor {
	return New(tr, sink, luxlog.NewNoOpLogger(), nil)
}

func TestHandleCommittedEmitsBalancedFrames(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	tr := newTracker(t)
	tr.Queue(whitelist.Mutation{Kind: whitelist.Add, Descriptors: []poolid.Descriptor{
		{ID: poolid.FromAddress(addr), Protocol: poolid.V2},
	}})
	tr.BeginBlock()
	tr.EndBlock()

	sink := &recordingSink{}
	proc := newProcessor(tr, sink)

	block := notify.Block{
		Number:    10,
		Timestamp: 100,
		Receipts: []notify.Receipt{
			{Logs: []notify.Log{v2Swap(addr)}},
		},
	}
	ack := proc.Handle(notify.Notification{Kind: notify.Committed, New: []notify.Block{block}})
	require.Equal(t, uint64(10), ack.HighestProcessedBlock)

	require.Len(t, sink.frames, 3)
	require.IsType(t, ipc.BeginBlock{}, sink.frames[0])
	require.IsType(t, ipc.PoolUpdate{}, sink.frames[1])
	require.IsType(t, ipc.EndBlock{}, sink.frames[2])
	require.Equal(t, uint32(1), sink.frames[2].(ipc.EndBlock).NumUpdates)
}

func TestHandleRejectsUntrackedAddressAtStage1(t *testing.T) {
	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	tr := newTracker(t)
	sink := &recordingSink{}
	proc := newProcessor(tr, sink)

	block := notify.Block{Number: 1, Receipts: []notify.Receipt{{Logs: []notify.Log{v2Swap(addr)}}}}
	proc.Handle(notify.Notification{Kind: notify.Committed, New: []notify.Block{block}})

	require.Len(t, sink.frames, 2) // BeginBlock, EndBlock only
	require.Equal(t, uint32(0), sink.frames[1].(ipc.EndBlock).NumUpdates)
}

func TestHandleProcessesMultipleBlocksInOrder(t *testing.T) {
	tr := newTracker(t)
	sink := &recordingSink{}
	proc := newProcessor(tr, sink)

	blocks := []notify.Block{{Number: 3}, {Number: 1}, {Number: 2}}
	proc.Handle(notify.Notification{Kind: notify.Committed, New: blocks})

	var seen []uint64
	for _, f := range sink.frames {
		if bb, ok := f.(ipc.BeginBlock); ok {
			seen = append(seen, bb.BlockNumber)
		}
	}
	require.Equal(t, []uint64{1, 2, 3}, seen)
}

func TestHandleRevertedProcessesDescending(t *testing.T) {
	tr := newTracker(t)
	sink := &recordingSink{}
	proc := newProcessor(tr, sink)

	blocks := []notify.Block{{Number: 1}, {Number: 2}, {Number: 3}}
	proc.Handle(notify.Notification{Kind: notify.Reverted, Old: blocks})

	var seen []uint64
	var reverts []bool
	for _, f := range sink.frames {
		if bb, ok := f.(ipc.BeginBlock); ok {
			seen = append(seen, bb.BlockNumber)
			reverts = append(reverts, bb.IsRevert)
		}
	}
	require.Equal(t, []uint64{3, 2, 1}, seen)
	for _, r := range reverts {
		require.True(t, r)
	}
}

func TestHandleReorgedUnwindsThenReplays(t *testing.T) {
	tr := newTracker(t)
	sink := &recordingSink{}
	proc := newProcessor(tr, sink)

	old := []notify.Block{{Number: 5}, {Number: 6}}
	newB := []notify.Block{{Number: 5}, {Number: 6}, {Number: 7}}
	ack := proc.Handle(notify.Notification{Kind: notify.Reorged, Old: old, New: newB})
	require.Equal(t, uint64(7), ack.HighestProcessedBlock)

	var order []struct {
		num    uint64
		revert bool
	}
	for _, f := range sink.frames {
		if bb, ok := f.(ipc.BeginBlock); ok {
			order = append(order, struct {
				num    uint64
				revert bool
			}{bb.BlockNumber, bb.IsRevert})
		}
	}
	require.Equal(t, uint64(6), order[0].num)
	require.True(t, order[0].revert)
	require.Equal(t, uint64(5), order[1].num)
	require.True(t, order[1].revert)
	require.Equal(t, uint64(5), order[2].num)
	require.False(t, order[2].revert)
	require.Equal(t, uint64(6), order[3].num)
	require.Equal(t, uint64(7), order[4].num)
}

func TestBeginBlockReentranceAbortsBlock(t *testing.T) {
	// This drives the one fatal path (log.Crit) only up to the point
	// where BeginBlock itself reports the violation; asserting the
	// process-exit behavior of Crit is out of scope for a unit test.
	tr := newTracker(t)
	require.NoError(t, tr.BeginBlock())
	require.ErrorIs(t, tr.BeginBlock(), whitelist.ErrAlreadyInBlock)
	tr.EndBlock()
}
