// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	luxlog "github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
)

// Sink listens on a local stream socket and broadcasts every frame
// handed to it via Send to all currently-connected consumers
// (spec §4.4). A consumer whose queue fills, or whose write exceeds the
// write timeout, is dropped without affecting any other consumer or the
// producer (spec §4.4, §5).
type Sink struct {
	socketPath   string
	queueDepth   int
	writeTimeout time.Duration
	log          luxlog.Logger

	consumers prometheus.Gauge
	dropped   prometheus.Counter

	mu    sync.Mutex
	conns map[*consumer]struct{}
}

type consumer struct {
	conn  net.Conn
	queue chan Frame
	done  chan struct{}
}

// NewSink builds a sink that will listen on socketPath once Run starts.
// queueDepth bounds each consumer's outbound buffer; writeTimeout bounds
// each individual frame write (spec §5).
func NewSink(socketPath string, queueDepth int, writeTimeout time.Duration, logger luxlog.Logger, reg prometheus.Registerer) *Sink {
	s := &Sink{
		socketPath:   socketPath,
		queueDepth:   queueDepth,
		writeTimeout: writeTimeout,
		log:          logger.With("component", "ipc-sink"),
		conns:        make(map[*consumer]struct{}),
		consumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "liquidity_exex_ipc_consumers",
			Help: "Number of currently connected IPC consumers.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liquidity_exex_ipc_consumers_dropped_total",
			Help: "Number of IPC consumers dropped due to a full queue or a write timeout.",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.consumers, s.dropped)
	}
	return s
}

// Run accepts connections until ctx is canceled, then closes the
// listener and every connected consumer after emitting a terminal
// Shutdown frame to each (spec §5).
func (s *Sink) Run(ctx context.Context) error {
	_ = os.Remove(s.socketPath)
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("ipc: listen on %s: %w", s.socketPath, err)
	}
	s.log.Info("ipc sink listening", "socket", s.socketPath)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.shutdownAll()
				return ctx.Err()
			}
			s.log.Warn("ipc sink accept error", "err", err)
			continue
		}
		s.accept(ctx, conn)
	}
}

func (s *Sink) accept(ctx context.Context, conn net.Conn) {
	c := &consumer{
		conn:  conn,
		queue: make(chan Frame, s.queueDepth),
		done:  make(chan struct{}),
	}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.consumers.Inc()
	s.log.Info("ipc consumer connected", "remote", conn.RemoteAddr())

	go s.writeLoop(ctx, c)
}

func (s *Sink) writeLoop(ctx context.Context, c *consumer) {
	defer s.drop(c)
	// On shutdown the writer is stopped by shutdownAll (via c.done), so
	// that the terminal Shutdown frame is written before the connection
	// is closed.
	for {
		select {
		case <-c.done:
			return
		case f := <-c.queue:
			if s.writeTimeout > 0 {
				c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			}
			if err := WriteFrame(c.conn, f); err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					s.dropped.Inc()
				}
				s.log.Debug("ipc consumer write failed, dropping", "remote", c.conn.RemoteAddr(), "err", err)
				return
			}
		}
	}
}

func (s *Sink) drop(c *consumer) {
	if !s.stopWriter(c) {
		return
	}
	c.conn.Close()
	s.consumers.Dec()
}

// stopWriter removes c from the connection set and stops its writeLoop,
// without closing the underlying connection. It reports whether c was
// still registered (false means another goroutine already dropped it).
func (s *Sink) stopWriter(c *consumer) bool {
	s.mu.Lock()
	if _, ok := s.conns[c]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.conns, c)
	s.mu.Unlock()
	close(c.done)
	return true
}

// Send enqueues f for delivery to every currently connected consumer.
// It never blocks: a consumer whose queue is already full is dropped
// instead (spec §4.4's non-blocking back-pressure policy).
func (s *Sink) Send(f Frame) {
	s.mu.Lock()
	targets := make([]*consumer, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		select {
		case c.queue <- f:
		default:
			s.dropped.Inc()
			s.log.Warn("ipc consumer queue full, dropping consumer", "remote", c.conn.RemoteAddr())
			s.drop(c)
		}
	}
}

func (s *Sink) shutdownAll() {
	s.mu.Lock()
	targets := make([]*consumer, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()
	for _, c := range targets {
		// Stop the writeLoop goroutine before writing the terminal frame
		// directly: writing through the queue and immediately dropping
		// the consumer would race the writeLoop and could close the
		// connection before the frame is flushed (spec §5's shutdown
		// sequencing).
		if !s.stopWriter(c) {
			continue
		}
		if s.writeTimeout > 0 {
			c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		}
		_ = WriteFrame(c.conn, Shutdown{})
		c.conn.Close()
		s.consumers.Dec()
	}
}
