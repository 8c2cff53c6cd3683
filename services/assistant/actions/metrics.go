// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package actions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Action Store
// =============================================================================

var (
	// actionStoreOpsTotal counts store operations by op and outcome.
	// Labels: op (create, get, update, delete), outcome (ok, miss, error)
	actionStoreOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Subsystem: "actions",
		Name:      "store_ops_total",
		Help:      "Total action store operations by op and outcome",
	}, []string{"op", "outcome"})

	// actionTransitionsTotal counts terminal transitions by status.
	// Labels: status (executed, cancelled, failed)
	actionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Subsystem: "actions",
		Name:      "transitions_total",
		Help:      "Total terminal action transitions by resulting status",
	}, []string{"status"})
)

// RecordActionStoreOp records one store operation.
//
// Inputs:
//   - op: The operation name (create, get, update, delete).
//   - outcome: The result (ok, miss, error).
func RecordActionStoreOp(op, outcome string) {
	actionStoreOpsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordActionTransition records a terminal transition.
//
// Inputs:
//   - status: The terminal status the action entered.
func RecordActionTransition(status Status) {
	actionTransitionsTotal.WithLabelValues(status.String()).Inc()
}
