// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ipc frames the control-message stream delivered to local
// consumers (spec §4.4) and runs the broadcast unix-socket sink that
// fans a single producer's frames out to every connected consumer.
package ipc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/luxfi/liquidity-exex/internal/decoder"
	"github.com/luxfi/liquidity-exex/internal/poolid"
)

// Frame discriminants, encoded as u32 on the wire (spec §4.4).
const (
	kindBeginBlock uint32 = iota
	kindPoolUpdate
	kindEndBlock
	kindShutdown
)

// Frame is the closed sum type of spec §3's control message: exactly
// one of BeginBlock, PoolUpdate, EndBlock, or the Shutdown terminal
// message this repository adds (SPEC_FULL §10).
type Frame interface {
	encodeBody(buf *bytes.Buffer) error
	wireKind() uint32
}

// BeginBlock opens a per-block frame sequence.
type BeginBlock struct {
	BlockNumber    uint64
	BlockTimestamp uint64
	IsRevert       bool
}

func (BeginBlock) wireKind() uint32 { return kindBeginBlock }

func (b BeginBlock) encodeBody(buf *bytes.Buffer) error {
	putU64(buf, b.BlockNumber)
	putU64(buf, b.BlockTimestamp)
	putBool(buf, b.IsRevert)
	return nil
}

// EndBlock closes a per-block frame sequence; NumUpdates must equal the
// count of PoolUpdate frames emitted since the matching BeginBlock
// (spec §3, testable property 1).
type EndBlock struct {
	BlockNumber uint64
	NumUpdates  uint32
}

func (EndBlock) wireKind() uint32 { return kindEndBlock }

func (e EndBlock) encodeBody(buf *bytes.Buffer) error {
	putU64(buf, e.BlockNumber)
	putU32(buf, e.NumUpdates)
	return nil
}

// Shutdown is the terminal message emitted to every consumer when the
// core is stopping (spec §5, SPEC_FULL §10 item 3).
type Shutdown struct{}

func (Shutdown) wireKind() uint32                      { return kindShutdown }
func (Shutdown) encodeBody(buf *bytes.Buffer) error     { return nil }

// PoolUpdate is the outgoing update message of spec §3.
type PoolUpdate struct {
	ID             poolid.ID
	Protocol       poolid.Protocol
	Kind           decoder.UpdateKind
	BlockNumber    uint64
	BlockTimestamp uint64
	TxIndex        uint32
	LogIndex       uint32
	IsRevert       bool
	Payload        decoder.Payload
}

func (PoolUpdate) wireKind() uint32 { return kindPoolUpdate }

func (p PoolUpdate) encodeBody(buf *bytes.Buffer) error {
	if err := putID(buf, p.ID); err != nil {
		return err
	}
	putU32(buf, uint32(p.Protocol))
	putU32(buf, uint32(p.Kind))
	putU64(buf, p.BlockNumber)
	putU64(buf, p.BlockTimestamp)
	putU32(buf, p.TxIndex)
	putU32(buf, p.LogIndex)
	putBool(buf, p.IsRevert)
	return putPayload(buf, p.Payload)
}

// Encode serializes f as a length-prefixed frame: an 8-byte
// little-endian length (of everything that follows), then a 4-byte
// little-endian discriminant, then the variant's fields (spec §4.4).
func Encode(f Frame) ([]byte, error) {
	var body bytes.Buffer
	putU32(&body, f.wireKind())
	if err := f.encodeBody(&body); err != nil {
		return nil, fmt.Errorf("ipc: encode frame: %w", err)
	}
	out := make([]byte, 8+body.Len())
	binary.LittleEndian.PutUint64(out[:8], uint64(body.Len()))
	copy(out[8:], body.Bytes())
	return out, nil
}

// WriteFrame encodes and writes f to w.
func WriteFrame(w io.Writer, f Frame) error {
	b, err := Encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadFrame reads one length-prefixed frame from r and decodes it.
// Used by tests and by any future consumer-side tooling; the core
// itself is write-only over this wire.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return decodeFrame(body)
}

func decodeFrame(body []byte) (Frame, error) {
	buf := bytes.NewReader(body)
	kind, err := getU32(buf)
	if err != nil {
		return nil, err
	}
	switch kind {
	case kindBeginBlock:
		blockNumber, err := getU64(buf)
		if err != nil {
			return nil, err
		}
		blockTimestamp, err := getU64(buf)
		if err != nil {
			return nil, err
		}
		isRevert, err := getBool(buf)
		if err != nil {
			return nil, err
		}
		return BeginBlock{BlockNumber: blockNumber, BlockTimestamp: blockTimestamp, IsRevert: isRevert}, nil
	case kindEndBlock:
		blockNumber, err := getU64(buf)
		if err != nil {
			return nil, err
		}
		numUpdates, err := getU32(buf)
		if err != nil {
			return nil, err
		}
		return EndBlock{BlockNumber: blockNumber, NumUpdates: numUpdates}, nil
	case kindShutdown:
		return Shutdown{}, nil
	case kindPoolUpdate:
		return decodePoolUpdate(buf)
	default:
		return nil, fmt.Errorf("ipc: unknown frame discriminant %d", kind)
	}
}

func decodePoolUpdate(buf *bytes.Reader) (Frame, error) {
	id, err := getID(buf)
	if err != nil {
		return nil, err
	}
	protoRaw, err := getU32(buf)
	if err != nil {
		return nil, err
	}
	kindRaw, err := getU32(buf)
	if err != nil {
		return nil, err
	}
	blockNumber, err := getU64(buf)
	if err != nil {
		return nil, err
	}
	blockTimestamp, err := getU64(buf)
	if err != nil {
		return nil, err
	}
	txIndex, err := getU32(buf)
	if err != nil {
		return nil, err
	}
	logIndex, err := getU32(buf)
	if err != nil {
		return nil, err
	}
	isRevert, err := getBool(buf)
	if err != nil {
		return nil, err
	}
	protocol := poolid.Protocol(protoRaw)
	kind := decoder.UpdateKind(kindRaw)
	payload, err := getPayload(buf, protocol, kind)
	if err != nil {
		return nil, err
	}
	return PoolUpdate{
		ID:             id,
		Protocol:       protocol,
		Kind:           kind,
		BlockNumber:    blockNumber,
		BlockTimestamp: blockTimestamp,
		TxIndex:        txIndex,
		LogIndex:       logIndex,
		IsRevert:       isRevert,
		Payload:        payload,
	}, nil
}

// --- primitive field codecs ---

func putU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putI32(buf *bytes.Buffer, v int32) {
	putU32(buf, uint32(v))
}

func putBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func putBytes(buf *bytes.Buffer, b []byte) {
	putU64(buf, uint64(len(b)))
	buf.Write(b)
}

func getU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func getU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func getI32(r *bytes.Reader) (int32, error) {
	v, err := getU32(r)
	return int32(v), err
}

func getBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func getBytes(r *bytes.Reader) ([]byte, error) {
	n, err := getU64(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// putID encodes a pool identifier as a 1-byte kind tag followed by a
// length-prefixed byte string (spec §4.4's variable-length-string
// rule), so address (20 bytes) and pool-id (32 bytes) share one codec.
func putID(buf *bytes.Buffer, id poolid.ID) error {
	if addr, ok := id.Address(); ok {
		buf.WriteByte(byte(poolid.KindAddress))
		putBytes(buf, addr.Bytes())
		return nil
	}
	if pid, ok := id.PoolID(); ok {
		buf.WriteByte(byte(poolid.KindPoolID))
		putBytes(buf, pid.Bytes())
		return nil
	}
	return fmt.Errorf("ipc: pool id has neither address nor pool-id payload")
}

func getID(r *bytes.Reader) (poolid.ID, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return poolid.ID{}, err
	}
	raw, err := getBytes(r)
	if err != nil {
		return poolid.ID{}, err
	}
	switch poolid.Kind(kindByte) {
	case poolid.KindAddress:
		if len(raw) != common.AddressLength {
			return poolid.ID{}, fmt.Errorf("ipc: address id has %d bytes, want %d", len(raw), common.AddressLength)
		}
		return poolid.FromAddress(common.BytesToAddress(raw)), nil
	case poolid.KindPoolID:
		if len(raw) != common.HashLength {
			return poolid.ID{}, fmt.Errorf("ipc: pool id has %d bytes, want %d", len(raw), common.HashLength)
		}
		return poolid.FromPoolID(common.BytesToHash(raw)), nil
	default:
		return poolid.ID{}, fmt.Errorf("ipc: unknown id kind %d", kindByte)
	}
}

// --- U256/I256 wire codec: 32 little-endian bytes, two's complement
// for signed values (spec §4.4). uint256.Int and big.Int expose their
// bytes big-endian, so every put/get here reverses byte order.

func putU256(buf *bytes.Buffer, v *uint256.Int) {
	be := v.Bytes32()
	le := reverse32(be)
	buf.Write(le[:])
}

func getU256(r *bytes.Reader) (*uint256.Int, error) {
	var le [32]byte
	if _, err := io.ReadFull(r, le[:]); err != nil {
		return nil, err
	}
	be := reverse32(le)
	return new(uint256.Int).SetBytes32(be[:]), nil
}

func putSignedBig(buf *bytes.Buffer, v *big.Int) {
	be := twosComplement32(v)
	le := reverse32(be)
	buf.Write(le[:])
}

func getSignedBig(r *bytes.Reader) (*big.Int, error) {
	var le [32]byte
	if _, err := io.ReadFull(r, le[:]); err != nil {
		return nil, err
	}
	be := reverse32(le)
	return fromTwosComplement32(be[:]), nil
}

func reverse32(b [32]byte) [32]byte {
	var out [32]byte
	for i := 0; i < 32; i++ {
		out[i] = b[31-i]
	}
	return out
}

func twosComplement32(v *big.Int) [32]byte {
	var out [32]byte
	if v.Sign() >= 0 {
		b := v.Bytes()
		copy(out[32-len(b):], b)
		return out
	}
	mod := new(big.Int).Lsh(big.NewInt(1), 256)
	t := new(big.Int).Add(mod, v)
	b := t.Bytes()
	copy(out[32-len(b):], b)
	return out
}

func fromTwosComplement32(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b)
	if len(b) > 0 && b[0]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return v
}

// --- payload codec, dispatched by (protocol, kind) ---

func putPayload(buf *bytes.Buffer, p decoder.Payload) error {
	switch v := p.(type) {
	case decoder.V2Delta:
		putSignedBig(buf, v.Reserve0)
		putSignedBig(buf, v.Reserve1)
	case decoder.V3SwapState:
		putU256(buf, v.SqrtPriceX96)
		putU256(buf, v.Liquidity)
		putI32(buf, v.Tick)
	case decoder.V3LiquidityChange:
		putU256(buf, v.Amount)
		putI32(buf, v.TickLower)
		putI32(buf, v.TickUpper)
	case decoder.V4SwapState:
		putU256(buf, v.SqrtPriceX96)
		putU256(buf, v.Liquidity)
		putI32(buf, v.Tick)
		putU32(buf, v.Fee)
	case decoder.V4LiquidityChange:
		putSignedBig(buf, v.LiquidityDelta)
		putI32(buf, v.TickLower)
		putI32(buf, v.TickUpper)
		buf.Write(v.Salt.Bytes())
	default:
		return fmt.Errorf("ipc: unknown payload type %T", p)
	}
	return nil
}

func getPayload(r *bytes.Reader, protocol poolid.Protocol, kind decoder.UpdateKind) (decoder.Payload, error) {
	switch {
	case protocol == poolid.V2:
		r0, err := getSignedBig(r)
		if err != nil {
			return nil, err
		}
		r1, err := getSignedBig(r)
		if err != nil {
			return nil, err
		}
		return decoder.V2Delta{Reserve0: r0, Reserve1: r1}, nil
	case protocol == poolid.V3 && kind == decoder.KindSwap:
		sqrtPrice, err := getU256(r)
		if err != nil {
			return nil, err
		}
		liquidity, err := getU256(r)
		if err != nil {
			return nil, err
		}
		tick, err := getI32(r)
		if err != nil {
			return nil, err
		}
		return decoder.V3SwapState{SqrtPriceX96: sqrtPrice, Liquidity: liquidity, Tick: tick}, nil
	case protocol == poolid.V3:
		amount, err := getU256(r)
		if err != nil {
			return nil, err
		}
		tickLower, err := getI32(r)
		if err != nil {
			return nil, err
		}
		tickUpper, err := getI32(r)
		if err != nil {
			return nil, err
		}
		return decoder.V3LiquidityChange{Amount: amount, TickLower: tickLower, TickUpper: tickUpper}, nil
	case protocol == poolid.V4 && kind == decoder.KindSwap:
		sqrtPrice, err := getU256(r)
		if err != nil {
			return nil, err
		}
		liquidity, err := getU256(r)
		if err != nil {
			return nil, err
		}
		tick, err := getI32(r)
		if err != nil {
			return nil, err
		}
		fee, err := getU32(r)
		if err != nil {
			return nil, err
		}
		return decoder.V4SwapState{SqrtPriceX96: sqrtPrice, Liquidity: liquidity, Tick: tick, Fee: fee}, nil
	case protocol == poolid.V4:
		delta, err := getSignedBig(r)
		if err != nil {
			return nil, err
		}
		tickLower, err := getI32(r)
		if err != nil {
			return nil, err
		}
		tickUpper, err := getI32(r)
		if err != nil {
			return nil, err
		}
		var salt [32]byte
		if _, err := io.ReadFull(r, salt[:]); err != nil {
			return nil, err
		}
		return decoder.V4LiquidityChange{LiquidityDelta: delta, TickLower: tickLower, TickUpper: tickUpper, Salt: common.BytesToHash(salt[:])}, nil
	default:
		return nil, fmt.Errorf("ipc: unrecognized (protocol=%v, kind=%v) payload combination", protocol, kind)
	}
}
