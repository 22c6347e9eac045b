// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package poolid defines the tagged pool-identifier type shared by every
// component that names a pool: a V2/V3 pool is identified by its 20-byte
// contract address, a V4 pool by its 32-byte pool id.
package poolid

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol tags which AMM family a pool belongs to.
type Protocol uint8

const (
	V2 Protocol = iota
	V3
	V4
)

func (p Protocol) String() string {
	switch p {
	case V2:
		return "v2"
	case V3:
		return "v3"
	case V4:
		return "v4"
	default:
		return fmt.Sprintf("protocol(%d)", uint8(p))
	}
}

// ParseProtocol accepts the canonical lower-case tags plus the legacy
// mixed-case strings the whitelist feed has historically published
// (e.g. "UniswapV3"), per spec §4.3.
func ParseProtocol(s string) (Protocol, bool) {
	switch s {
	case "v2", "V2", "UniswapV2", "uniswapv2":
		return V2, true
	case "v3", "V3", "UniswapV3", "uniswapv3":
		return V3, true
	case "v4", "V4", "UniswapV4", "uniswapv4":
		return V4, true
	default:
		return 0, false
	}
}

// Kind distinguishes the two physical representations an ID can carry.
type Kind uint8

const (
	KindAddress Kind = iota
	KindPoolID
)

// ID is a tagged pool identifier. It is a plain comparable struct so it
// can be used directly as a map key: equality and hashing follow from
// Go's struct equality, which compares the kind tag before the payload,
// so an address-kind ID and a pool-id-kind ID never alias even when both
// payload fields are zero.
type ID struct {
	kind Kind
	addr common.Address
	pool common.Hash
}

// FromAddress builds a V2/V3-style identifier from a contract address.
func FromAddress(addr common.Address) ID {
	return ID{kind: KindAddress, addr: addr}
}

// FromPoolID builds a V4-style identifier from a 32-byte pool id.
func FromPoolID(id common.Hash) ID {
	return ID{kind: KindPoolID, pool: id}
}

func (id ID) Kind() Kind { return id.kind }

// Address returns the address payload and true if this ID is
// address-kind.
func (id ID) Address() (common.Address, bool) {
	if id.kind != KindAddress {
		return common.Address{}, false
	}
	return id.addr, true
}

// PoolID returns the pool-id payload and true if this ID is
// pool-id-kind.
func (id ID) PoolID() (common.Hash, bool) {
	if id.kind != KindPoolID {
		return common.Hash{}, false
	}
	return id.pool, true
}

func (id ID) String() string {
	switch id.kind {
	case KindAddress:
		return id.addr.Hex()
	case KindPoolID:
		return id.pool.Hex()
	default:
		return "invalid-id"
	}
}

// Descriptor is the pool descriptor of spec §3. Only ID and Protocol are
// load-bearing for the core; the remaining fields exist so the core can
// tag outgoing messages for downstream convenience.
type Descriptor struct {
	ID          ID
	Protocol    Protocol
	Token0      *common.Address
	Token1      *common.Address
	Fee         *uint32
	TickSpacing *int32
	// Factory is the factory address (V2/V3) or singleton address (V4)
	// that produced/owns this pool.
	Factory *common.Address
}
