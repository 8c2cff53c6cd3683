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
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ToolLimiter applies a token-bucket rate limit per tool name. Each tool's
// first limited invocation lazily creates its limiter from the descriptor's
// RatePerMinute; tools with no declared rate are never limited.
//
// Thread Safety: Safe for concurrent use.
type ToolLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewToolLimiter creates an empty limiter.
func NewToolLimiter() *ToolLimiter {
	return &ToolLimiter{
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether one more invocation of tool fits within perMinute.
// A non-positive perMinute means unlimited. The burst equals perMinute, so
// a quiet tool can absorb a short spike without tripping.
func (l *ToolLimiter) Allow(tool string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}

	l.mu.Lock()
	lim, ok := l.limiters[tool]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
		l.limiters[tool] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}
