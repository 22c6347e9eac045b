// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// liquidity-exex is the process entrypoint: it wires the whitelist
// feed, the block-processing loop, and the IPC broadcast sink together
// and runs them under one errgroup until signaled to stop (spec §5).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	luxlog "github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/liquidity-exex/internal/feed"
	"github.com/luxfi/liquidity-exex/internal/hostfeed"
	"github.com/luxfi/liquidity-exex/internal/ipc"
	"github.com/luxfi/liquidity-exex/internal/notify"
	"github.com/luxfi/liquidity-exex/internal/processor"
	"github.com/luxfi/liquidity-exex/internal/whitelist"
)

const clientIdentifier = "liquidity-exex"

var app = &cli.App{
	Name:    clientIdentifier,
	Usage:   "Uniswap V2/V3/V4 liquidity event pipeline for a Lux execution client extension",
	Version: "1.0.0",
}

func init() {
	v := viper.New()
	fs := pflag.NewFlagSet(clientIdentifier, pflag.ContinueOnError)
	bindFlags(fs, v)
	app.Flags = flagsFromPFlagSet(fs)
	app.Action = func(ctx *cli.Context) error {
		if err := fs.Parse(os.Args[1:]); err != nil {
			return err
		}
		return run(ctx.Context, loadConfig(v))
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// flagsFromPFlagSet lets urfave/cli own process-level concerns (help
// text, version flag, signal-free argument parsing) while pflag/viper
// own the actual binding layer, matching the teacher's
// cli.App-plus-utils.DatabaseFlags split in cmd/evm-node/main.go.
func flagsFromPFlagSet(fs *pflag.FlagSet) []cli.Flag {
	var flags []cli.Flag
	fs.VisitAll(func(f *pflag.Flag) {
		flags = append(flags, &cli.StringFlag{Name: f.Name, Usage: f.Usage, Hidden: true})
	})
	return flags
}

func run(parent context.Context, cfg config) error {
	logger := newLogger(cfg)
	var audit *auditTrail
	if cfg.LogFile != "" {
		a, err := newAuditTrail(cfg.LogFile)
		if err != nil {
			return fmt.Errorf("open audit trail: %w", err)
		}
		defer a.Close()
		audit = a
	}

	logger.Info("starting liquidity-exex",
		"natsURL", cfg.NATSURL, "chain", cfg.Chain, "ipcSocket", cfg.IPCSocket)

	reg := prometheus.NewRegistry()
	tracker := whitelist.New(cfg.V4Singleton)
	sink := ipc.NewSink(cfg.IPCSocket, cfg.IPCQueueDepth, cfg.IPCWriteTimeout, logger, reg)
	wl := feed.New(cfg.NATSURL, cfg.Chain, tracker, logger)
	proc := processor.New(tracker, sink, logger, reg)
	source := hostfeed.New(os.Stdin)

	runCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return sink.Run(gctx)
	})
	g.Go(func() error {
		return wl.Run(gctx)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.MetricsAddr, reg, logger)
		})
	}
	g.Go(func() error {
		return runNotifications(gctx, source, proc, logger, audit)
	})

	err := g.Wait()
	if err == nil || runCtx.Err() != nil || errors.Is(err, io.EOF) {
		// A clean shutdown via signal surfaces as a context-cancellation
		// error from every task, and host EOF as io.EOF from the
		// notification task; neither is a failure (spec §6's exit code 0
		// case). Any other first error (e.g. a socket-bind failure) is.
		logger.Info("liquidity-exex stopped")
		return nil
	}
	logger.Error("liquidity-exex stopped", "err", err)
	return err
}

// runNotifications is the notification task of spec §5: the only
// caller of Processor.Handle, driven by whatever notify.Source the
// deployment wires in (here, the JSONL reference adapter).
func runNotifications(ctx context.Context, source notify.Source, proc *processor.Processor, logger luxlog.Logger, audit *auditTrail) error {
	log := logger.With("component", "notification-task")
	for {
		n, err := source.Next(ctx)
		if err != nil {
			return err
		}
		ack := proc.Handle(n)
		if err := source.Ack(ctx, ack); err != nil {
			log.Warn("failed to deliver acknowledgment to host", "err", err)
		}
		if audit != nil {
			if err := audit.Record(ack.HighestProcessedBlock, time.Now()); err != nil {
				log.Warn("failed to append audit record", "err", err)
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger luxlog.Logger) error {
	log := logger.With("component", "metrics-server")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return ctx.Err()
}

// newLogger builds the root structured logger at the configured level
// (SPEC_FULL §0). File-based persistence is handled separately by
// newAuditTrail: luxlog's writer-injection API is not observable from
// the retained corpus, so rather than guess at an unconfirmed
// Handler-based constructor, persistent output is wired as an
// independent rotating audit trail (see audit.go) instead of
// redirecting the live logger itself.
func newLogger(cfg config) luxlog.Logger {
	return luxlog.New(cfg.LogLevel)
}
