// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package feed subscribes to the whitelist pub/sub subject (spec §4.3)
// and turns parsed add/remove/full messages into tracker mutations. It
// never touches the whitelist's live state directly — only
// Tracker.Queue, which is safe to call from any task at any time
// (spec §5).
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go"

	luxlog "github.com/luxfi/log"

	"github.com/luxfi/liquidity-exex/internal/whitelist"
)

// Feed owns one pub/sub subscription and feeds a single Tracker.
type Feed struct {
	natsURL string
	subject string
	tracker *whitelist.Tracker
	log     luxlog.Logger

	everConnected bool
	sawFull       bool
}

// Subject returns the subject for chain, per spec §6:
// "whitelist.pools.<chain>.minimal".
func Subject(chain string) string {
	return fmt.Sprintf("whitelist.pools.%s.minimal", chain)
}

// New builds a feed for the given NATS endpoint and chain tag.
func New(natsURL, chain string, tracker *whitelist.Tracker, logger luxlog.Logger) *Feed {
	return &Feed{
		natsURL: natsURL,
		subject: Subject(chain),
		tracker: tracker,
		log:     logger.With("component", "whitelist-feed"),
	}
}

// Run subscribes and reconnects with backoff until ctx is done. It
// never returns the connection's own transient errors to the caller
// (spec §7: transient transport errors are logged and retried, never
// propagated); it only returns when ctx is canceled. The backoff grows
// across consecutive failed reconnects and is reset only once a
// connection is actually established, so a flapping NATS endpoint sees
// genuinely escalating retry delays rather than a fixed interval.
func (f *Feed) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := f.runOnce(ctx, b)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay := b.NextBackOff()
		f.log.Warn("whitelist feed disconnected, reconnecting", "err", err, "backoff", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (f *Feed) runOnce(ctx context.Context, b *backoff.ExponentialBackOff) error {
	connErr := make(chan error, 1)
	nc, err := nats.Connect(f.natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			select {
			case connErr <- err:
			default:
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			select {
			case connErr <- nats.ErrConnectionClosed:
			default:
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer nc.Close()

	if f.everConnected && !f.sawFull {
		f.log.Info("whitelist feed reconnected without a full snapshot since the previous connection; retaining prior whitelist state")
	}
	f.everConnected = true
	f.sawFull = false

	sub, err := nc.Subscribe(f.subject, func(msg *nats.Msg) {
		f.handle(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("feed: subscribe %s: %w", f.subject, err)
	}
	defer sub.Unsubscribe()

	// A connection (and subscription) succeeded: let the next failure,
	// if any, start escalating from the initial interval again.
	b.Reset()

	f.log.Info("whitelist feed connected", "subject", f.subject)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-connErr:
		if err == nil {
			err = errors.New("feed: connection closed")
		}
		return err
	}
}

func (f *Feed) handle(data []byte) {
	m, err := Parse(data)
	if err != nil {
		f.log.Warn("whitelist feed: dropping malformed message", "err", err)
		return
	}
	if m.Kind == whitelist.Replace {
		f.sawFull = true
	}
	f.tracker.Queue(m)
	f.log.Debug("whitelist mutation queued", "kind", kindString(m.Kind), "descriptors", len(m.Descriptors), "identifiers", len(m.Identifiers))
}

func kindString(k whitelist.MutationKind) string {
	switch k {
	case whitelist.Add:
		return "add"
	case whitelist.Remove:
		return "remove"
	case whitelist.Replace:
		return "replace"
	default:
		return "unknown"
	}
}
