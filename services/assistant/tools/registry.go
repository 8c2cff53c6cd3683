// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"fmt"
	"sync"
)

// Registry holds the tool catalog. Tools are registered once at startup;
// after that the registry is read-only and safe for concurrent lookups.
//
// Thread Safety: All methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Descriptor
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Descriptor),
	}
}

// Register adds a tool to the registry.
//
// Inputs:
//
//   - d: Complete descriptor. Name, Schema, and Handler must be set;
//     Mode must be ModeRead or ModeWrite.
//
// Outputs:
//
//   - error: Non-nil if the descriptor is incomplete or the name is
//     already taken.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("tools: register: empty tool name")
	}
	if d.Handler == nil {
		return fmt.Errorf("tools: register %q: nil handler", d.Name)
	}
	if d.Mode != ModeRead && d.Mode != ModeWrite {
		return fmt.Errorf("tools: register %q: invalid mode %d", d.Name, d.Mode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("tools: register %q: already registered", d.Name)
	}
	r.tools[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// MustRegister registers a tool and panics on error. Intended for startup
// wiring where a bad descriptor is programmer error.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Get returns the descriptor for name, if registered.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Lookup returns the descriptor for name or an error wrapping
// ErrUnknownTool. Callers that need to distinguish the miss use
// errors.Is(err, ErrUnknownTool).
func (r *Registry) Lookup(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return d, nil
}

// List returns all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
