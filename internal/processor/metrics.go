// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package processor

import "github.com/prometheus/client_golang/prometheus"

// metricsBundle is the Prometheus surface named in SPEC_FULL §10 item 1:
// blocks processed, updates emitted per (protocol, kind), and
// stage-1/stage-2/decode rejection counters.
type metricsBundle struct {
	blocksProcessed prometheus.Counter
	updatesEmitted  *prometheus.CounterVec
	stage1Rejected  prometheus.Counter
	decodeRejected  prometheus.Counter
	stage2Rejected  prometheus.Counter
	emptyWhitelist  prometheus.Gauge
}

func newMetricsBundle(reg prometheus.Registerer) *metricsBundle {
	m := &metricsBundle{
		blocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liquidity_exex_blocks_processed_total",
			Help: "Number of block frames processed, across all notification variants.",
		}),
		updatesEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liquidity_exex_pool_updates_emitted_total",
			Help: "Number of PoolUpdate frames emitted, by protocol and update kind.",
		}, []string{"protocol", "kind"}),
		stage1Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liquidity_exex_stage1_rejected_total",
			Help: "Number of logs rejected at stage 1 (emitter address not tracked).",
		}),
		decodeRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liquidity_exex_decode_rejected_total",
			Help: "Number of logs that passed stage 1 but did not decode as a known event.",
		}),
		stage2Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liquidity_exex_stage2_rejected_total",
			Help: "Number of decoded events rejected at stage 2 (pool identity not tracked).",
		}),
		emptyWhitelist: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "liquidity_exex_whitelist_empty",
			Help: "1 if the whitelist was empty as of the most recently processed block, else 0.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.blocksProcessed, m.updatesEmitted, m.stage1Rejected, m.decodeRejected, m.stage2Rejected, m.emptyWhitelist)
	}
	return m
}
