// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Execution Dispatcher
// =============================================================================

var (
	// dispatchInvocationsTotal counts invocations by tool and outcome.
	// Labels: tool, outcome (ok, tool_failure, validation_error,
	// unknown_tool, rate_limited, handler_fault, timeout)
	dispatchInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Subsystem: "dispatch",
		Name:      "invocations_total",
		Help:      "Total tool invocations by tool and outcome",
	}, []string{"tool", "outcome"})

	// dispatchLatencySeconds measures end-to-end invocation latency,
	// including validation and unit-of-work acquisition.
	// Labels: tool
	dispatchLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "assistant",
		Subsystem: "dispatch",
		Name:      "latency_seconds",
		Help:      "End-to-end tool invocation latency",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"tool"})

	// dispatchInflight gauges handlers currently holding a worker slot.
	dispatchInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "assistant",
		Subsystem: "dispatch",
		Name:      "inflight",
		Help:      "Handlers currently executing on the worker pool",
	})
)

// RecordDispatch records one invocation outcome.
//
// Inputs:
//   - tool: The tool name.
//   - outcome: The result class (ok, tool_failure, validation_error,
//     unknown_tool, rate_limited, handler_fault, timeout).
//   - durationSec: Invocation duration in seconds.
func RecordDispatch(tool, outcome string, durationSec float64) {
	dispatchInvocationsTotal.WithLabelValues(tool, outcome).Inc()
	dispatchLatencySeconds.WithLabelValues(tool).Observe(durationSec)
}
