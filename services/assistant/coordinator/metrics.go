// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Two-Phase Coordinator
// =============================================================================

var (
	// coordinatorOpsTotal counts protocol operations by op and outcome.
	// Labels: op (plan, confirm, cancel), outcome (ok, rejected, denied,
	// miss, invalid_state, failed, error)
	coordinatorOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Subsystem: "coordinator",
		Name:      "ops_total",
		Help:      "Total two-phase protocol operations by op and outcome",
	}, []string{"op", "outcome"})
)

// RecordCoordinatorOp records one protocol operation.
//
// Inputs:
//   - op: The operation name (plan, confirm, cancel).
//   - outcome: How it resolved (ok, rejected, denied, miss, invalid_state,
//     failed, error).
func RecordCoordinatorOp(op, outcome string) {
	coordinatorOpsTotal.WithLabelValues(op, outcome).Inc()
}
