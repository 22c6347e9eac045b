// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hostfeed

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/liquidity-exex/internal/notify"
)

func TestNextParsesCommittedNotification(t *testing.T) {
	line := `{"kind":"committed","new":[{"number":1,"timestamp":10,"receipts":[{"logs":[{"address":"0x1111111111111111111111111111111111111111","topics":[],"data":"0x0011"}]}]}]}`
	s := New(strings.NewReader(line + "\n"))
	n, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, notify.Committed, n.Kind)
	require.Len(t, n.New, 1)
	require.Equal(t, uint64(1), n.New[0].Number)
	require.Equal(t, []byte{0x00, 0x11}, n.New[0].Receipts[0].Logs[0].Data)
}

func TestNextSkipsBlankLines(t *testing.T) {
	s := New(strings.NewReader("\n\n{\"kind\":\"reverted\",\"old\":[]}\n"))
	n, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, notify.Reverted, n.Kind)
}

func TestNextReturnsEOFAtEnd(t *testing.T) {
	s := New(strings.NewReader(""))
	_, err := s.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestNextRejectsUnknownKind(t *testing.T) {
	s := New(strings.NewReader(`{"kind":"bogus"}` + "\n"))
	_, err := s.Next(context.Background())
	require.Error(t, err)
}

func TestAckIsNoOp(t *testing.T) {
	s := New(strings.NewReader(""))
	require.NoError(t, s.Ack(context.Background(), notify.Ack{HighestProcessedBlock: 5}))
}
