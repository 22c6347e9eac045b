// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package hostfeed is the reference notify.Source adapter: it reads
// newline-delimited JSON notification envelopes from an io.Reader,
// mirroring the teacher's own JSONL block-export convention
// (cmd/evm-node/chaincmd's jsonl-to-rlp). A real deployment replaces
// this with whatever side channel its host execution client actually
// exposes (spec §1); this adapter exists so the binary has a runnable
// default and so the notification task can be exercised end to end.
package hostfeed

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/luxfi/liquidity-exex/internal/notify"
)

// jsonLog mirrors notify.Log with hex-encoded binary fields.
type jsonLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    string         `json:"data"` // 0x-prefixed hex
}

type jsonReceipt struct {
	Logs []jsonLog `json:"logs"`
}

type jsonBlock struct {
	Number    uint64        `json:"number"`
	Timestamp uint64        `json:"timestamp"`
	Receipts  []jsonReceipt `json:"receipts"`
}

// jsonNotification is one line of the JSONL stream.
type jsonNotification struct {
	Kind string      `json:"kind"` // "committed", "reverted", "reorged"
	Old  []jsonBlock `json:"old,omitempty"`
	New  []jsonBlock `json:"new,omitempty"`
}

// Source reads one notification per line from r. It has no way to
// deliver acknowledgments anywhere; Ack just logs nothing and returns
// nil, since a line-oriented file has no reply channel.
type Source struct {
	scanner *bufio.Scanner
}

// New wraps r as a notify.Source. Lines are expected to fit within
// bufio.Scanner's default token size; callers streaming larger blocks
// should grow the buffer via NewWithBuffer.
func New(r io.Reader) *Source {
	return &Source{scanner: bufio.NewScanner(r)}
}

// NewWithBuffer is like New but sets an explicit maximum line size,
// needed once blocks carry enough logs to exceed bufio.Scanner's 64KiB
// default token limit.
func NewWithBuffer(r io.Reader, maxLineBytes int) *Source {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Source{scanner: s}
}

// Next returns the next notification, or io.EOF once the stream is
// exhausted.
func (s *Source) Next(ctx context.Context) (notify.Notification, error) {
	for {
		if ctx.Err() != nil {
			return notify.Notification{}, ctx.Err()
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return notify.Notification{}, fmt.Errorf("hostfeed: scan: %w", err)
			}
			return notify.Notification{}, io.EOF
		}
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var jn jsonNotification
		if err := json.Unmarshal(line, &jn); err != nil {
			return notify.Notification{}, fmt.Errorf("hostfeed: decode notification: %w", err)
		}
		return jn.toNotification()
	}
}

// Ack is a no-op: the JSONL adapter has no reply channel back to its
// source.
func (s *Source) Ack(ctx context.Context, ack notify.Ack) error {
	return nil
}

func (jn jsonNotification) toNotification() (notify.Notification, error) {
	var kind notify.Kind
	switch jn.Kind {
	case "committed":
		kind = notify.Committed
	case "reverted":
		kind = notify.Reverted
	case "reorged":
		kind = notify.Reorged
	default:
		return notify.Notification{}, fmt.Errorf("hostfeed: unknown notification kind %q", jn.Kind)
	}
	old, err := toBlocks(jn.Old)
	if err != nil {
		return notify.Notification{}, err
	}
	newBlocks, err := toBlocks(jn.New)
	if err != nil {
		return notify.Notification{}, err
	}
	return notify.Notification{Kind: kind, Old: old, New: newBlocks}, nil
}

func toBlocks(in []jsonBlock) ([]notify.Block, error) {
	out := make([]notify.Block, 0, len(in))
	for _, jb := range in {
		receipts := make([]notify.Receipt, 0, len(jb.Receipts))
		for _, jr := range jb.Receipts {
			logs := make([]notify.Log, 0, len(jr.Logs))
			for _, jl := range jr.Logs {
				data, err := hexDecode(jl.Data)
				if err != nil {
					return nil, fmt.Errorf("hostfeed: block %d: log data: %w", jb.Number, err)
				}
				logs = append(logs, notify.Log{Address: jl.Address, Topics: jl.Topics, Data: data})
			}
			receipts = append(receipts, notify.Receipt{Logs: logs})
		}
		out = append(out, notify.Block{Number: jb.Number, Timestamp: jb.Timestamp, Receipts: receipts})
	}
	return out, nil
}

func hexDecode(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string: %w", err)
	}
	return b, nil
}
