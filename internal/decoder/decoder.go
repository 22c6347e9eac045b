// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package decoder recognizes V2/V3/V4 AMM event signatures and decodes
// indexed topics plus ABI-encoded data into typed events (spec §4.1).
//
// The dispatch is by topic 0 only; identity is established separately
// per protocol (emitter address for V2/V3, topic 1 for V4) and is the
// caller's (the notification processor's) responsibility to re-check
// against the whitelist (spec §4.5 stage 2) — this package only decodes.
package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/luxfi/liquidity-exex/internal/notify"
	"github.com/luxfi/liquidity-exex/internal/poolid"
)

// UpdateKind mirrors the outgoing message's update kind (spec §3).
type UpdateKind uint8

const (
	KindSwap UpdateKind = iota
	KindMint
	KindBurn
	KindModifyLiquidity
)

func (k UpdateKind) String() string {
	switch k {
	case KindSwap:
		return "swap"
	case KindMint:
		return "mint"
	case KindBurn:
		return "burn"
	case KindModifyLiquidity:
		return "modify_liquidity"
	default:
		return "unknown"
	}
}

// Payload is the closed sum type carried by a decoded Event. The
// unexported marker method keeps it closed to this package's five
// variants, matching spec §3's outgoing-payload sum type.
type Payload interface {
	isPayload()
}

// V2Delta carries signed reserve deltas for a V2 pool event, per the
// sign convention of spec §4.1/§9: Mint is all-positive, Burn is
// all-negative, Swap carries the "in" side positive and "out" side
// negative.
type V2Delta struct {
	Reserve0 *big.Int
	Reserve1 *big.Int
}

func (V2Delta) isPayload() {}

// V3SwapState is a V3 swap's post-swap state observation.
type V3SwapState struct {
	SqrtPriceX96 *uint256.Int // masked to 160 bits
	Liquidity    *uint256.Int // 128-bit unsigned
	Tick         int32        // sign-extended from int24
}

func (V3SwapState) isPayload() {}

// V3LiquidityChange is a V3 Mint/Burn liquidity delta magnitude; the
// sign is carried by the Event's Kind, not by this value (spec §4.1).
type V3LiquidityChange struct {
	Amount     *uint256.Int // 128-bit unsigned magnitude
	TickLower  int32
	TickUpper  int32
}

func (V3LiquidityChange) isPayload() {}

// V4SwapState is a V4 singleton swap's post-swap state observation.
type V4SwapState struct {
	SqrtPriceX96 *uint256.Int
	Liquidity    *uint256.Int
	Tick         int32
	Fee          uint32 // 24-bit fee, widened
}

func (V4SwapState) isPayload() {}

// V4LiquidityChange is a V4 ModifyLiquidity delta. LiquidityDelta has
// already been range-checked to fit a signed 128-bit value by the
// decoder; out-of-range deltas are rejected at decode time (spec §4.1).
type V4LiquidityChange struct {
	LiquidityDelta *big.Int
	TickLower      int32
	TickUpper      int32
	Salt           common.Hash
}

func (V4LiquidityChange) isPayload() {}

// Event is a decoded log: its protocol, update kind, pool identifier,
// and typed payload.
type Event struct {
	Protocol poolid.Protocol
	Kind     UpdateKind
	ID       poolid.ID
	Payload  Payload
}

// Event signatures are computed at init time rather than hardcoded, so
// a typo in a hex literal can never silently desync from the canonical
// name+type tuple named in spec §4.1.
var (
	sigV2Swap = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))
	sigV2Mint = crypto.Keccak256Hash([]byte("Mint(address,uint256,uint256)"))
	sigV2Burn = crypto.Keccak256Hash([]byte("Burn(address,uint256,uint256,address)"))

	sigV3Swap = crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)"))
	sigV3Mint = crypto.Keccak256Hash([]byte("Mint(address,address,int24,int24,uint128,uint256,uint256)"))
	sigV3Burn = crypto.Keccak256Hash([]byte("Burn(address,int24,int24,uint128,uint256,uint256)"))

	sigV4Swap             = crypto.Keccak256Hash([]byte("Swap(bytes32,address,int128,int128,uint160,uint128,int24,uint24)"))
	sigV4ModifyLiquidity  = crypto.Keccak256Hash([]byte("ModifyLiquidity(bytes32,address,int24,int24,int256,bytes32)"))
)

// mask160 zeroes bits 160..255, used to defensively narrow a
// potentially-widened sqrtPriceX96 word to its true 160-bit range
// (spec §4.1).
var mask160 = func() *uint256.Int {
	m := new(uint256.Int).Lsh(uint256.NewInt(1), 160)
	return m.SubUint64(m, 1)
}()

// maxInt128, minInt128 bound the V4 liquidityDelta range check.
var (
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Decode recognizes a log by topic 0 and decodes it. It returns
// (Event{}, false) for anything that is not one of the eight known
// signatures, or whose data/topics fail the shape checks of spec §4.1.
// It never returns an error — an unrecognized or malformed log is
// simply "not ours" (spec §4.1, §7).
func Decode(log notify.Log) (Event, bool) {
	if len(log.Topics) == 0 {
		return Event{}, false
	}
	switch log.Topics[0] {
	case sigV2Swap:
		return decodeV2Swap(log)
	case sigV2Mint:
		return decodeV2Mint(log)
	case sigV2Burn:
		return decodeV2Burn(log)
	case sigV3Swap:
		return decodeV3Swap(log)
	case sigV3Mint:
		return decodeV3Mint(log)
	case sigV3Burn:
		return decodeV3Burn(log)
	case sigV4Swap:
		return decodeV4Swap(log)
	case sigV4ModifyLiquidity:
		return decodeV4ModifyLiquidity(log)
	default:
		return Event{}, false
	}
}

// word returns the i-th 32-byte ABI word of data, or false if data is
// too short.
func word(data []byte, i int) ([]byte, bool) {
	start := i * 32
	end := start + 32
	if end > len(data) {
		return nil, false
	}
	return data[start:end], true
}

func unsignedWord(w []byte) *big.Int {
	return new(big.Int).SetBytes(w)
}

// signedWord interprets a 32-byte ABI word as a two's-complement signed
// 256-bit integer, matching the Solidity ABI encoding of negative
// fixed-width signed integers (already sign-extended to 32 bytes by the
// EVM when the log is emitted).
func signedWord(w []byte) *big.Int {
	v := new(big.Int).SetBytes(w)
	if w[0]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return v
}

// int32Word narrows a signed word known to hold an int24 (or smaller)
// value to a transportable signed 32-bit integer (spec §4.1).
func int32Word(w []byte) int32 {
	return int32(signedWord(w).Int64())
}

func uint256Word(w []byte) *uint256.Int {
	return new(uint256.Int).SetBytes(w)
}

func decodeV2Swap(log notify.Log) (Event, bool) {
	amount0In, ok := word(log.Data, 0)
	if !ok {
		return Event{}, false
	}
	amount1In, ok := word(log.Data, 1)
	if !ok {
		return Event{}, false
	}
	amount0Out, ok := word(log.Data, 2)
	if !ok {
		return Event{}, false
	}
	amount1Out, ok := word(log.Data, 3)
	if !ok {
		return Event{}, false
	}
	reserve0 := new(big.Int).Sub(unsignedWord(amount0In), unsignedWord(amount0Out))
	reserve1 := new(big.Int).Sub(unsignedWord(amount1In), unsignedWord(amount1Out))
	return Event{
		Protocol: poolid.V2,
		Kind:     KindSwap,
		ID:       poolid.FromAddress(log.Address),
		Payload:  V2Delta{Reserve0: reserve0, Reserve1: reserve1},
	}, true
}

func decodeV2Mint(log notify.Log) (Event, bool) {
	amount0, ok := word(log.Data, 0)
	if !ok {
		return Event{}, false
	}
	amount1, ok := word(log.Data, 1)
	if !ok {
		return Event{}, false
	}
	return Event{
		Protocol: poolid.V2,
		Kind:     KindMint,
		ID:       poolid.FromAddress(log.Address),
		Payload:  V2Delta{Reserve0: unsignedWord(amount0), Reserve1: unsignedWord(amount1)},
	}, true
}

func decodeV2Burn(log notify.Log) (Event, bool) {
	amount0, ok := word(log.Data, 0)
	if !ok {
		return Event{}, false
	}
	amount1, ok := word(log.Data, 1)
	if !ok {
		return Event{}, false
	}
	r0 := new(big.Int).Neg(unsignedWord(amount0))
	r1 := new(big.Int).Neg(unsignedWord(amount1))
	return Event{
		Protocol: poolid.V2,
		Kind:     KindBurn,
		ID:       poolid.FromAddress(log.Address),
		Payload:  V2Delta{Reserve0: r0, Reserve1: r1},
	}, true
}

func decodeV3Swap(log notify.Log) (Event, bool) {
	// data: amount0, amount1, sqrtPriceX96, liquidity, tick (5 words).
	sqrtPriceW, ok := word(log.Data, 2)
	if !ok {
		return Event{}, false
	}
	liquidityW, ok := word(log.Data, 3)
	if !ok {
		return Event{}, false
	}
	tickW, ok := word(log.Data, 4)
	if !ok {
		return Event{}, false
	}
	sqrtPrice := new(uint256.Int).And(uint256Word(sqrtPriceW), mask160)
	return Event{
		Protocol: poolid.V3,
		Kind:     KindSwap,
		ID:       poolid.FromAddress(log.Address),
		Payload: V3SwapState{
			SqrtPriceX96: sqrtPrice,
			Liquidity:    uint256Word(liquidityW),
			Tick:         int32Word(tickW),
		},
	}, true
}

func decodeV3Mint(log notify.Log) (Event, bool) {
	// topics: sig, owner, tickLower, tickUpper. data: sender, amount, amount0, amount1.
	if len(log.Topics) < 4 {
		return Event{}, false
	}
	amountW, ok := word(log.Data, 1)
	if !ok {
		return Event{}, false
	}
	return Event{
		Protocol: poolid.V3,
		Kind:     KindMint,
		ID:       poolid.FromAddress(log.Address),
		Payload: V3LiquidityChange{
			Amount:    uint256Word(amountW),
			TickLower: int32Word(log.Topics[2].Bytes()),
			TickUpper: int32Word(log.Topics[3].Bytes()),
		},
	}, true
}

func decodeV3Burn(log notify.Log) (Event, bool) {
	// topics: sig, owner, tickLower, tickUpper. data: amount, amount0, amount1.
	if len(log.Topics) < 4 {
		return Event{}, false
	}
	amountW, ok := word(log.Data, 0)
	if !ok {
		return Event{}, false
	}
	return Event{
		Protocol: poolid.V3,
		Kind:     KindBurn,
		ID:       poolid.FromAddress(log.Address),
		Payload: V3LiquidityChange{
			Amount:    uint256Word(amountW),
			TickLower: int32Word(log.Topics[2].Bytes()),
			TickUpper: int32Word(log.Topics[3].Bytes()),
		},
	}, true
}

// v4PoolID extracts topic 1 as the load-bearing V4 pool identifier
// (spec §4.1, §9): indexed parameters never appear in the data region,
// so a decoder that only schema-decodes data silently loses identity.
func v4PoolID(log notify.Log) (poolid.ID, bool) {
	if len(log.Topics) < 2 {
		return poolid.ID{}, false
	}
	return poolid.FromPoolID(log.Topics[1]), true
}

func decodeV4Swap(log notify.Log) (Event, bool) {
	id, ok := v4PoolID(log)
	if !ok {
		return Event{}, false
	}
	// data: amount0, amount1, sqrtPriceX96, liquidity, tick, fee (6 words).
	sqrtPriceW, ok := word(log.Data, 2)
	if !ok {
		return Event{}, false
	}
	liquidityW, ok := word(log.Data, 3)
	if !ok {
		return Event{}, false
	}
	tickW, ok := word(log.Data, 4)
	if !ok {
		return Event{}, false
	}
	feeW, ok := word(log.Data, 5)
	if !ok {
		return Event{}, false
	}
	sqrtPrice := new(uint256.Int).And(uint256Word(sqrtPriceW), mask160)
	return Event{
		Protocol: poolid.V4,
		Kind:     KindSwap,
		ID:       id,
		Payload: V4SwapState{
			SqrtPriceX96: sqrtPrice,
			Liquidity:    uint256Word(liquidityW),
			Tick:         int32Word(tickW),
			Fee:          uint32(unsignedWord(feeW).Uint64()),
		},
	}, true
}

func decodeV4ModifyLiquidity(log notify.Log) (Event, bool) {
	id, ok := v4PoolID(log)
	if !ok {
		return Event{}, false
	}
	// data: tickLower, tickUpper, liquidityDelta, salt (4 words).
	tickLowerW, ok := word(log.Data, 0)
	if !ok {
		return Event{}, false
	}
	tickUpperW, ok := word(log.Data, 1)
	if !ok {
		return Event{}, false
	}
	deltaW, ok := word(log.Data, 2)
	if !ok {
		return Event{}, false
	}
	saltW, ok := word(log.Data, 3)
	if !ok {
		return Event{}, false
	}
	delta := signedWord(deltaW)
	if delta.Cmp(maxInt128) > 0 || delta.Cmp(minInt128) < 0 {
		// Does not fit the consumer's signed 128-bit liquidity field;
		// treat as not decoded (spec §4.1).
		return Event{}, false
	}
	return Event{
		Protocol: poolid.V4,
		Kind:     KindModifyLiquidity,
		ID:       id,
		Payload: V4LiquidityChange{
			LiquidityDelta: delta,
			TickLower:      int32Word(tickLowerW),
			TickUpper:      int32Word(tickUpperW),
			Salt:           common.BytesToHash(saltW),
		},
	}, true
}
