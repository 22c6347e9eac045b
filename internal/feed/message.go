// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package feed

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/luxfi/liquidity-exex/internal/poolid"
	"github.com/luxfi/liquidity-exex/internal/whitelist"
)

// envelope is the wire shape of spec §4.3's JSON message.
type envelope struct {
	Type       string            `json:"type"`
	Pools      []json.RawMessage `json:"pools"`
	Chain      string            `json:"chain"`
	Timestamp  string            `json:"timestamp"`
	SnapshotID *int64            `json:"snapshot_id,omitempty"`
}

// poolWire is one element of the "pools" array, used when the element
// is a JSON object (descriptor form). Remove messages may instead send
// bare hex strings; see parseIdentifier.
type poolWire struct {
	Protocol    string  `json:"protocol"`
	Address     string  `json:"address,omitempty"`
	PoolID      string  `json:"pool_id,omitempty"`
	Token0      string  `json:"token0,omitempty"`
	Token1      string  `json:"token1,omitempty"`
	Fee         *uint32 `json:"fee,omitempty"`
	TickSpacing *int32  `json:"tick_spacing,omitempty"`
	Factory     string  `json:"factory,omitempty"`
}

// Parse decodes one whitelist feed message into a tracker mutation, per
// spec §4.3's parsing rules. A missing "type" is treated as "full" for
// backward compatibility.
func Parse(data []byte) (whitelist.Mutation, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return whitelist.Mutation{}, fmt.Errorf("feed: invalid JSON envelope: %w", err)
	}
	typ := env.Type
	if typ == "" {
		typ = "full"
	}
	switch typ {
	case "full":
		descs, err := parseDescriptors(env.Pools)
		if err != nil {
			return whitelist.Mutation{}, err
		}
		return whitelist.Mutation{Kind: whitelist.Replace, Descriptors: descs}, nil
	case "add":
		descs, err := parseDescriptors(env.Pools)
		if err != nil {
			return whitelist.Mutation{}, err
		}
		return whitelist.Mutation{Kind: whitelist.Add, Descriptors: descs}, nil
	case "remove":
		ids, err := parseIdentifiers(env.Pools)
		if err != nil {
			return whitelist.Mutation{}, err
		}
		return whitelist.Mutation{Kind: whitelist.Remove, Identifiers: ids}, nil
	default:
		return whitelist.Mutation{}, fmt.Errorf("feed: unknown message type %q", typ)
	}
}

func parseDescriptors(raw []json.RawMessage) ([]poolid.Descriptor, error) {
	descs := make([]poolid.Descriptor, 0, len(raw))
	for i, r := range raw {
		d, err := parseDescriptor(r)
		if err != nil {
			return nil, fmt.Errorf("feed: pool %d: %w", i, err)
		}
		descs = append(descs, d)
	}
	return descs, nil
}

func parseDescriptor(raw json.RawMessage) (poolid.Descriptor, error) {
	var w poolWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return poolid.Descriptor{}, fmt.Errorf("malformed pool descriptor: %w", err)
	}
	proto, ok := poolid.ParseProtocol(w.Protocol)
	if !ok {
		return poolid.Descriptor{}, fmt.Errorf("unknown protocol %q", w.Protocol)
	}
	id, err := identifierFromWire(w, proto)
	if err != nil {
		return poolid.Descriptor{}, err
	}
	d := poolid.Descriptor{ID: id, Protocol: proto}
	if w.Token0 != "" {
		a := common.HexToAddress(w.Token0)
		d.Token0 = &a
	}
	if w.Token1 != "" {
		a := common.HexToAddress(w.Token1)
		d.Token1 = &a
	}
	if w.Fee != nil {
		d.Fee = w.Fee
	}
	if w.TickSpacing != nil {
		d.TickSpacing = w.TickSpacing
	}
	if w.Factory != "" {
		a := common.HexToAddress(w.Factory)
		d.Factory = &a
	}
	return d, nil
}

func identifierFromWire(w poolWire, proto poolid.Protocol) (poolid.ID, error) {
	if proto == poolid.V4 {
		if w.PoolID == "" {
			return poolid.ID{}, fmt.Errorf("v4 pool missing pool_id")
		}
		b := common.FromHex(w.PoolID)
		if len(b) != 32 {
			return poolid.ID{}, fmt.Errorf("v4 pool_id %q is not 32 bytes", w.PoolID)
		}
		return poolid.FromPoolID(common.BytesToHash(b)), nil
	}
	if w.Address == "" {
		return poolid.ID{}, fmt.Errorf("%s pool missing address", proto)
	}
	b := common.FromHex(w.Address)
	if len(b) != 20 {
		return poolid.ID{}, fmt.Errorf("%s address %q is not 20 bytes", proto, w.Address)
	}
	return poolid.FromAddress(common.BytesToAddress(b)), nil
}

// parseIdentifiers parses the "remove" message's pools array, whose
// elements are identifiers only: either bare hex strings (byte length
// decides address vs. pool id) or objects carrying an explicit protocol
// tag, which is authoritative on ambiguity (spec §4.3).
func parseIdentifiers(raw []json.RawMessage) ([]poolid.ID, error) {
	ids := make([]poolid.ID, 0, len(raw))
	for i, r := range raw {
		id, err := parseIdentifier(r)
		if err != nil {
			return nil, fmt.Errorf("feed: identifier %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseIdentifier(raw json.RawMessage) (poolid.ID, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return identifierFromHex(s)
	}
	var w poolWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return poolid.ID{}, fmt.Errorf("malformed identifier: %w", err)
	}
	if proto, ok := poolid.ParseProtocol(w.Protocol); ok {
		return identifierFromWire(w, proto)
	}
	if w.PoolID != "" {
		return identifierFromHex(w.PoolID)
	}
	return identifierFromHex(w.Address)
}

func identifierFromHex(hexStr string) (poolid.ID, error) {
	b := common.FromHex(hexStr)
	switch len(b) {
	case 20:
		return poolid.FromAddress(common.BytesToAddress(b)), nil
	case 32:
		return poolid.FromPoolID(common.BytesToHash(b)), nil
	default:
		return poolid.ID{}, fmt.Errorf("identifier %q is neither a 20-byte address nor a 32-byte pool id", hexStr)
	}
}
