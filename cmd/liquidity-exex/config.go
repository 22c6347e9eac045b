// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// config is the process entrypoint's full flag/environment surface
// (spec §6, SPEC_FULL §0): the three inputs the original spec names
// plus the operational knobs this expansion adds.
type config struct {
	NATSURL        string
	Chain          string
	IPCSocket      string
	IPCWriteTimeout time.Duration
	IPCQueueDepth  int
	LogLevel       string
	LogFile        string
	MetricsAddr    string
	V4Singleton    common.Address
}

// bindFlags registers the CLI flag surface and layers viper's
// environment/config-file bindings underneath it, matching the
// teacher's layering: flags override bound values, bound values override
// defaults (SPEC_FULL §0).
func bindFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.String("nats-url", "nats://localhost:4222", "NATS endpoint carrying whitelist updates")
	fs.String("chain", "ethereum", "chain tag used to form the whitelist subject")
	fs.String("ipc-socket", "/tmp/reth_exex_liquidity.sock", "unix socket path the IPC sink listens on")
	fs.Duration("ipc-write-timeout", 2*time.Second, "per-frame write timeout before a slow consumer is dropped")
	fs.Int("ipc-queue-depth", 1024, "per-consumer outbound frame queue depth")
	fs.String("log-level", "info", "log level: trace, debug, info, warn, error, crit")
	fs.String("log-file", "", "optional rotating log file path (empty disables file output)")
	fs.String("metrics-addr", "", "optional address to serve Prometheus metrics on (empty disables the server)")
	fs.String("v4-singleton", "0x000000000004444c5dc75cB358380D2e3dE08A90", "address of the V4 PoolManager singleton this chain uses")

	v.SetEnvPrefix("LIQUIDITY_EXEX")
	// Map hyphenated knob names to underscore env names, e.g.
	// ipc-socket -> LIQUIDITY_EXEX_IPC_SOCKET.
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// NATS_URL and CHAIN are named verbatim by spec §6, without the
	// LIQUIDITY_EXEX_ prefix applied to every other knob.
	v.BindEnv("nats-url", "NATS_URL")
	v.BindEnv("chain", "CHAIN")
	v.BindPFlags(fs)
}

func loadConfig(v *viper.Viper) config {
	singleton := common.HexToAddress(v.GetString("v4-singleton"))
	return config{
		NATSURL:         v.GetString("nats-url"),
		Chain:           v.GetString("chain"),
		IPCSocket:       v.GetString("ipc-socket"),
		IPCWriteTimeout: v.GetDuration("ipc-write-timeout"),
		IPCQueueDepth:   v.GetInt("ipc-queue-depth"),
		LogLevel:        v.GetString("log-level"),
		LogFile:         v.GetString("log-file"),
		MetricsAddr:     v.GetString("metrics-addr"),
		V4Singleton:     singleton,
	}
}
