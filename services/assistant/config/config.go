// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the assistant's file-backed configuration: the
// conversation phrase sets shipped as embedded YAML, an optional on-disk
// override, and the watcher that hot-reloads the override when it changes.
//
// Loaded values are cached in package-level singletons guarded by an
// RWMutex, so consumers read them at use time rather than wiring them
// through constructors. Override reloads swap the cache; readers pick up
// the new values on their next call.
package config

import "go.opentelemetry.io/otel"

var configTracer = otel.Tracer("assistant.config")

// MaxYAMLFileSize caps how many bytes of YAML a loader will parse.
// Override files are operator-supplied, so an accidental multi-gigabyte
// path must fail fast instead of being slurped into memory.
const MaxYAMLFileSize = 1 << 20

// Environment variables read by cmd/assistant.
const (
	// EnvDataDir names the directory for the Badger volume. When unset or
	// unopenable the service falls back to in-memory stores.
	EnvDataDir = "ASSISTANT_DATA_DIR"

	// EnvPhraseFile names an optional phrase-override YAML file. When set,
	// the file is applied at startup and re-applied whenever it changes.
	EnvPhraseFile = "ASSISTANT_PHRASES_FILE"
)
