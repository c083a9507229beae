// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package matcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	matchStageTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rxsage",
		Subsystem: "matcher",
		Name:      "stage_total",
		Help:      "Cascade outcomes by catalog group and winning stage reason code",
	}, []string{"group", "reason"})

	matchErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rxsage",
		Subsystem: "matcher",
		Name:      "error_total",
		Help:      "Per-term matching errors swallowed by the cascade, by group and stage",
	}, []string{"group", "stage"})

	semanticStageLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rxsage",
		Subsystem: "matcher",
		Name:      "semantic_latency_seconds",
		Help:      "Latency of the semantic stage (embedding call + ANN search + rerank)",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})
)
