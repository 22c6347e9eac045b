// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/liquidity-exex/internal/decoder"
	"github.com/luxfi/liquidity-exex/internal/poolid"
)

func roundTrip(t *testing.T, f Frame) Frame {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, f))
	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	return got
}

func TestBeginEndBlockRoundTrip(t *testing.T) {
	bb := BeginBlock{BlockNumber: 42, BlockTimestamp: 1000, IsRevert: true}
	require.Equal(t, bb, roundTrip(t, bb))

	eb := EndBlock{BlockNumber: 42, NumUpdates: 7}
	require.Equal(t, eb, roundTrip(t, eb))
}

func TestShutdownRoundTrip(t *testing.T) {
	require.Equal(t, Shutdown{}, roundTrip(t, Shutdown{}))
}

func TestPoolUpdateV2RoundTrip(t *testing.T) {
	p := PoolUpdate{
		ID:             poolid.FromAddress(common.HexToAddress("0x1111111111111111111111111111111111111111")),
		Protocol:       poolid.V2,
		Kind:           decoder.KindSwap,
		BlockNumber:    10,
		BlockTimestamp: 20,
		TxIndex:        1,
		LogIndex:       2,
		IsRevert:       false,
		Payload:        decoder.V2Delta{Reserve0: big.NewInt(-500), Reserve1: big.NewInt(1000)},
	}
	got := roundTrip(t, p).(PoolUpdate)
	require.Equal(t, p.ID, got.ID)
	require.Equal(t, p.Protocol, got.Protocol)
	delta := got.Payload.(decoder.V2Delta)
	require.Equal(t, big.NewInt(-500), delta.Reserve0)
	require.Equal(t, big.NewInt(1000), delta.Reserve1)
}

func TestPoolUpdateV4SwapRoundTrip(t *testing.T) {
	p := PoolUpdate{
		ID:       poolid.FromPoolID(common.HexToHash("0xabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcd")),
		Protocol: poolid.V4,
		Kind:     decoder.KindSwap,
		Payload: decoder.V4SwapState{
			SqrtPriceX96: uint256.NewInt(12345),
			Liquidity:    uint256.NewInt(999),
			Tick:         -150,
			Fee:          3000,
		},
	}
	got := roundTrip(t, p).(PoolUpdate)
	state := got.Payload.(decoder.V4SwapState)
	require.Equal(t, uint256.NewInt(12345), state.SqrtPriceX96)
	require.Equal(t, int32(-150), state.Tick)
	require.Equal(t, uint32(3000), state.Fee)
}

func TestPoolUpdateV4LiquidityChangeRoundTrip(t *testing.T) {
	salt := common.HexToHash("0x0102030405060708090001020304050607080900010203040506070809000a")
	p := PoolUpdate{
		ID:       poolid.FromPoolID(common.HexToHash("0xdead")),
		Protocol: poolid.V4,
		Kind:     decoder.KindModifyLiquidity,
		Payload: decoder.V4LiquidityChange{
			LiquidityDelta: big.NewInt(-42),
			TickLower:      -200,
			TickUpper:      200,
			Salt:           salt,
		},
	}
	got := roundTrip(t, p).(PoolUpdate)
	change := got.Payload.(decoder.V4LiquidityChange)
	require.Equal(t, big.NewInt(-42), change.LiquidityDelta)
	require.Equal(t, int32(-200), change.TickLower)
	require.Equal(t, salt, change.Salt)
}

func TestFrameLengthPrefixMatchesBody(t *testing.T) {
	b, err := Encode(EndBlock{BlockNumber: 1, NumUpdates: 0})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(b), 8)
	require.Equal(t, uint64(len(b)-8), binary.LittleEndian.Uint64(b[:8]))
}
