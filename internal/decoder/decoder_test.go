// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package decoder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/liquidity-exex/internal/notify"
	"github.com/luxfi/liquidity-exex/internal/poolid"
)

// word32 renders v as a 32-byte big-endian ABI word, two's-complement
// encoding negative values the way the EVM sign-extends them.
func word32(v *big.Int) []byte {
	b := make([]byte, 32)
	if v.Sign() >= 0 {
		v.FillBytes(b)
		return b
	}
	mod := new(big.Int).Lsh(big.NewInt(1), 256)
	t := new(big.Int).Add(mod, v)
	t.FillBytes(b)
	return b
}

func concatWords(words ...[]byte) []byte {
	var out []byte
	for _, w := range words {
		out = append(out, w...)
	}
	return out
}

func TestDecodeV2SwapSignConvention(t *testing.T) {
	// S6-style scenario: amount0In=0, amount0Out=5e17 -> reserve0=-5e17;
	// amount1In=1000e6, amount1Out=0 -> reserve1=+1000e6.
	amount0In := big.NewInt(0)
	amount1In := new(big.Int).Mul(big.NewInt(1000e6), big.NewInt(1))
	amount0Out := new(big.Int).SetUint64(5e17)
	amount1Out := big.NewInt(0)

	data := concatWords(word32(amount0In), word32(amount1In), word32(amount0Out), word32(amount1Out))
	addr := common.HexToAddress("0x1234567890123456789012345678901234567890")
	log := notify.Log{
		Address: addr,
		Topics:  []common.Hash{sigV2Swap},
		Data:    data,
	}

	ev, ok := Decode(log)
	require.True(t, ok)
	require.Equal(t, poolid.V2, ev.Protocol)
	require.Equal(t, KindSwap, ev.Kind)
	delta, ok := ev.Payload.(V2Delta)
	require.True(t, ok)
	require.Equal(t, big.NewInt(-5e17), delta.Reserve0)
	require.Equal(t, big.NewInt(1000e6), delta.Reserve1)
}

func TestDecodeV2BurnIsAllNegative(t *testing.T) {
	amount0 := big.NewInt(100)
	amount1 := big.NewInt(200)
	data := concatWords(word32(amount0), word32(amount1))
	log := notify.Log{
		Address: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Topics:  []common.Hash{sigV2Burn},
		Data:    data,
	}
	ev, ok := Decode(log)
	require.True(t, ok)
	delta := ev.Payload.(V2Delta)
	require.Equal(t, big.NewInt(-100), delta.Reserve0)
	require.Equal(t, big.NewInt(-200), delta.Reserve1)
}

func TestDecodeV3SwapNegativeTick(t *testing.T) {
	amount0 := word32(big.NewInt(1))
	amount1 := word32(big.NewInt(-1))
	sqrtPrice := word32(big.NewInt(12345))
	liquidity := word32(big.NewInt(999))
	// int24(-100) two's-complement, sign-extended to 32 bytes.
	tick := word32(big.NewInt(-100))
	data := concatWords(amount0, amount1, sqrtPrice, liquidity, tick)
	log := notify.Log{
		Address: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Topics:  []common.Hash{sigV3Swap},
		Data:    data,
	}
	ev, ok := Decode(log)
	require.True(t, ok)
	state := ev.Payload.(V3SwapState)
	require.Equal(t, int32(-100), state.Tick)
}

func TestDecodeV4IdentityComesFromTopic1NotAddress(t *testing.T) {
	poolIDHash := common.HexToHash("0xabababababababababababababababababababababababababababababab")
	amount0 := word32(big.NewInt(5))
	amount1 := word32(big.NewInt(-5))
	sqrtPrice := word32(big.NewInt(1))
	liquidity := word32(big.NewInt(2))
	tick := word32(big.NewInt(10))
	fee := word32(big.NewInt(3000))
	data := concatWords(amount0, amount1, sqrtPrice, liquidity, tick, fee)

	log := notify.Log{
		// Every V4 pool shares the singleton's address; identity must
		// come from topic 1, not Address.
		Address: common.HexToAddress("0x000000000004444c5dc75cB358380D2e3dE08A90"),
		Topics:  []common.Hash{sigV4Swap, poolIDHash},
		Data:    data,
	}
	ev, ok := Decode(log)
	require.True(t, ok)
	require.Equal(t, poolid.V4, ev.Protocol)
	gotPoolID, ok := ev.ID.PoolID()
	require.True(t, ok)
	require.Equal(t, poolIDHash, gotPoolID)
}

func TestDecodeUnknownSignatureIsNotOurs(t *testing.T) {
	log := notify.Log{
		Address: common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Topics:  []common.Hash{crypto.Keccak256Hash([]byte("SomeOtherEvent(uint256)"))},
		Data:    nil,
	}
	_, ok := Decode(log)
	require.False(t, ok)
}

func TestDecodeV4ModifyLiquidityRejectsOutOfRangeDelta(t *testing.T) {
	poolIDHash := common.HexToHash("0xcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcd")
	tickLower := word32(big.NewInt(-100))
	tickUpper := word32(big.NewInt(100))
	// 2^127, one past the signed 128-bit maximum.
	tooLarge := new(big.Int).Lsh(big.NewInt(1), 127)
	delta := word32(tooLarge)
	var salt [32]byte
	data := concatWords(tickLower, tickUpper, delta, salt[:])

	log := notify.Log{
		Address: common.HexToAddress("0x000000000004444c5dc75cB358380D2e3dE08A90"),
		Topics:  []common.Hash{sigV4ModifyLiquidity, poolIDHash},
		Data:    data,
	}
	_, ok := Decode(log)
	require.False(t, ok)
}
