// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package idoit

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stats counts the traffic of a client since creation (or the last
// ResetStats).
type Stats struct {
	// Requests is the number of HTTP round trips
	Requests int64

	// Queries is the number of JSON-RPC calls carried by those round trips
	Queries int64
}

// Metrics holds the Prometheus collectors of a client.
type Metrics struct {
	HTTPRequests    *prometheus.CounterVec
	RPCCalls        prometheus.Counter
	RPCErrors       *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	Retries         prometheus.Counter
	BatchChunks     prometheus.Counter
	SchemaFetches   *prometheus.CounterVec

	requests atomic.Int64
	queries  atomic.Int64
}

// NewMetrics creates the collectors and registers them with reg.
//
// Registering two clients on the same registerer panics on the duplicate
// collectors; give each client its own registry or wrap the registerer with
// prometheus.WrapRegistererWith.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "idoit",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP round trips to the JSON-RPC endpoint",
			},
			[]string{"status"},
		),
		RPCCalls: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "idoit",
				Name:      "rpc_calls_total",
				Help:      "Total number of JSON-RPC calls sent",
			},
		),
		RPCErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "idoit",
				Name:      "rpc_errors_total",
				Help:      "Total number of JSON-RPC error responses by code",
			},
			[]string{"code"},
		),
		RequestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "idoit",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP round trip duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		Retries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "idoit",
				Name:      "http_retries_total",
				Help:      "Total number of retried HTTP round trips",
			},
		),
		BatchChunks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "idoit",
				Name:      "batch_chunks_total",
				Help:      "Total number of batch chunks dispatched",
			},
		),
		SchemaFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "idoit",
				Name:      "schema_fetches_total",
				Help:      "Total number of schema cache misses resolved from the server",
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) observeRoundTrip(status int, calls int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.HTTPRequests.WithLabelValues(label).Inc()
	m.RPCCalls.Add(float64(calls))
	m.RequestDuration.Observe(d.Seconds())
	m.requests.Add(1)
	m.queries.Add(int64(calls))
}

func (m *Metrics) observeRPCError(code int) {
	m.RPCErrors.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) snapshot() Stats {
	return Stats{Requests: m.requests.Load(), Queries: m.queries.Load()}
}

func (m *Metrics) reset() {
	m.requests.Store(0)
	m.queries.Store(0)
}
