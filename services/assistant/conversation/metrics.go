// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	conversationTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assistant",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Conversation turns by the state they entered in.",
		},
		[]string{"state"},
	)

	conversationRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "assistant",
			Subsystem: "conversation",
			Name:      "step_retries_total",
			Help:      "Handler failures that entered the retry prompt.",
		},
	)

	conversationActiveContexts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "assistant",
			Subsystem: "conversation",
			Name:      "active_contexts",
			Help:      "Live per-actor conversation contexts.",
		},
	)
)

// RecordTurn counts one turn entering in the given state.
func RecordTurn(state State) {
	conversationTurnsTotal.WithLabelValues(state.String()).Inc()
}

// RecordRetry counts one handler failure reaching the retry prompt.
func RecordRetry() {
	conversationRetriesTotal.Inc()
}

// SetActiveContexts reports the number of live conversation contexts.
func SetActiveContexts(n int) {
	conversationActiveContexts.Set(float64(n))
}
