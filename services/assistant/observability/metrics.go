// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability holds the Prometheus metrics of the assistant
// service.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every instrument the service records. Construct one
// per process with NewMetrics(prometheus.DefaultRegisterer); tests pass
// a private registry.
type Metrics struct {
	StreamsStarted  *prometheus.CounterVec
	StreamsEnded    *prometheus.CounterVec
	ActiveStreams   prometheus.Gauge
	ChunksEmitted   *prometheus.CounterVec
	EngineFallbacks *prometheus.CounterVec
	StreamDuration  *prometheus.HistogramVec

	PatchApplies  *prometheus.CounterVec
	PatchDuration prometheus.Histogram
	ProposalCount prometheus.Gauge
}

// NewMetrics registers all instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StreamsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_streams_started_total",
			Help: "Streaming sessions started, by classified intent.",
		}, []string{"intent"}),
		StreamsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_streams_ended_total",
			Help: "Streaming sessions ended, by outcome (completed|error|disconnected).",
		}, []string{"outcome"}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "assistant_active_streams",
			Help: "Streaming sessions currently open.",
		}),
		ChunksEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_chunks_emitted_total",
			Help: "Chunk events written to clients, by engine.",
		}, []string{"engine"}),
		EngineFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_engine_fallbacks_total",
			Help: "Cascade fallbacks, by failed engine.",
		}, []string{"engine"}),
		StreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assistant_stream_duration_seconds",
			Help:    "Wall time of streaming sessions, by engine.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"engine"}),

		PatchApplies: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopatch_applies_total",
			Help: "Patch apply runs, by outcome (applied|partial|failed|rejected).",
		}, []string{"outcome"}),
		PatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "autopatch_apply_duration_seconds",
			Help:    "Wall time of patch apply runs.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		ProposalCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "autopatch_proposals_stored",
			Help: "Proposals currently retained in the store.",
		}),
	}
}
