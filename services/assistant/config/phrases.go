// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/conversation"
)

// =============================================================================
// Embedded Default Phrase Sets
// =============================================================================

//go:embed phrases.yaml
var defaultPhrasesYAML []byte

// =============================================================================
// Phrase Configuration Types
// =============================================================================

// PhraseConfig carries the reply-token sets the conversation machine
// matches user utterances against.
//
// Description:
//
//	Each set is a list of lowercase words or short phrases. An utterance
//	matches when it equals an entry after lowercasing, trimming, and
//	stripping trailing punctuation. Sets must be pairwise disjoint: a token
//	that both confirms and declines would make confirmation replies
//	ambiguous.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type PhraseConfig struct {
	// Affirmative confirms a staged write.
	Affirmative []string `yaml:"affirmative"`

	// Negative declines a staged write.
	Negative []string `yaml:"negative"`

	// Skip passes over an optional form field.
	Skip []string `yaml:"skip"`
}

// Phrases converts the config into the conversation package's matcher
// value. The slices are copied so callers cannot mutate the cached config.
func (c *PhraseConfig) Phrases() conversation.Phrases {
	return conversation.Phrases{
		Affirmative: append([]string(nil), c.Affirmative...),
		Negative:    append([]string(nil), c.Negative...),
		Skip:        append([]string(nil), c.Skip...),
	}
}

// =============================================================================
// Singleton Phrase Config
// =============================================================================

var (
	phraseConfigMu      sync.RWMutex
	phraseConfigOnce    sync.Once
	cachedPhraseConfig  *PhraseConfig
	phraseConfigLoadErr error
)

// GetPhraseConfig returns the cached phrase configuration.
//
// Description:
//
//	Loads the embedded defaults on first call and caches for subsequent
//	calls. ApplyPhraseOverride swaps the cache in place, so later calls
//	observe the override without restarting.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Outputs:
//
//	*PhraseConfig - The loaded configuration. Never nil on success.
//	error - Non-nil if loading or validation failed.
//
// Thread Safety: Safe for concurrent use.
func GetPhraseConfig(ctx context.Context) (*PhraseConfig, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetPhraseConfig: ctx must not be nil")
	}

	phraseConfigMu.RLock()
	if cachedPhraseConfig != nil || phraseConfigLoadErr != nil {
		cfg, err := cachedPhraseConfig, phraseConfigLoadErr
		phraseConfigMu.RUnlock()
		return cfg, err
	}
	phraseConfigMu.RUnlock()

	phraseConfigMu.Lock()
	defer phraseConfigMu.Unlock()

	if cachedPhraseConfig != nil || phraseConfigLoadErr != nil {
		return cachedPhraseConfig, phraseConfigLoadErr
	}

	phraseConfigOnce.Do(func() {
		cachedPhraseConfig, phraseConfigLoadErr = LoadPhraseConfig(ctx, defaultPhrasesYAML)
	})

	return cachedPhraseConfig, phraseConfigLoadErr
}

// ResetPhraseConfig resets the cached config for testing.
//
// Description:
//
//	Clears the cached phrase config so tests can reload with different data.
//
// Thread Safety: Safe for concurrent use.
func ResetPhraseConfig() {
	phraseConfigMu.Lock()
	defer phraseConfigMu.Unlock()
	cachedPhraseConfig = nil
	phraseConfigLoadErr = nil
	phraseConfigOnce = sync.Once{}
}

// CurrentPhrases returns the latest phrase sets as a conversation matcher.
//
// Description:
//
//	Convenience bridge for the conversation machine's phrase source: it
//	never fails, degrading to the built-in defaults if the config cannot
//	be loaded. Reads the cache on every call, so override reloads take
//	effect on the next conversation turn.
//
// Thread Safety: Safe for concurrent use.
func CurrentPhrases() conversation.Phrases {
	cfg, err := GetPhraseConfig(context.Background())
	if err != nil {
		slog.Warn("phrase config unavailable; using built-in defaults", "error", err)
		return conversation.DefaultPhrases()
	}
	return cfg.Phrases()
}

// =============================================================================
// Loading
// =============================================================================

// LoadPhraseConfig loads and validates a PhraseConfig from YAML bytes.
//
// Description:
//
//	Parses the YAML, normalizes every token (lowercase, trimmed, trailing
//	punctuation stripped, duplicates dropped), fills any omitted set from
//	the built-in defaults, and rejects configs where a token appears in
//	more than one set.
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw YAML bytes to parse.
//
// Outputs:
//
//	*PhraseConfig - The validated configuration.
//	error - Non-nil if parsing or validation fails.
func LoadPhraseConfig(ctx context.Context, data []byte) (*PhraseConfig, error) {
	_, span := configTracer.Start(ctx, "config.LoadPhraseConfig")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("LoadPhraseConfig: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadPhraseConfig: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var cfg PhraseConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("LoadPhraseConfig: parsing YAML: %w", err)
	}

	cfg.Affirmative = normalizeTokens(cfg.Affirmative)
	cfg.Negative = normalizeTokens(cfg.Negative)
	cfg.Skip = normalizeTokens(cfg.Skip)

	// A set omitted from an override keeps the built-in defaults.
	builtins := conversation.DefaultPhrases()
	if len(cfg.Affirmative) == 0 {
		cfg.Affirmative = builtins.Affirmative
	}
	if len(cfg.Negative) == 0 {
		cfg.Negative = builtins.Negative
	}
	if len(cfg.Skip) == 0 {
		cfg.Skip = builtins.Skip
	}

	if err := validatePhraseConfig(&cfg); err != nil {
		return nil, fmt.Errorf("LoadPhraseConfig: validation: %w", err)
	}

	span.SetAttributes(
		attribute.Int("affirmative", len(cfg.Affirmative)),
		attribute.Int("negative", len(cfg.Negative)),
		attribute.Int("skip", len(cfg.Skip)),
	)

	slog.Info("phrase config loaded",
		slog.Int("affirmative", len(cfg.Affirmative)),
		slog.Int("negative", len(cfg.Negative)),
		slog.Int("skip", len(cfg.Skip)),
	)

	return &cfg, nil
}

// ApplyPhraseOverride loads a phrase override file and swaps the cache.
//
// Description:
//
//	Reads the file, validates it like any other phrase config, and makes it
//	the cached config that GetPhraseConfig and CurrentPhrases return. On any
//	error the cache is left untouched, so a bad override never takes down a
//	working configuration.
//
// Inputs:
//
//	ctx - Context for tracing.
//	path - Path to the override YAML file.
//
// Outputs:
//
//	*PhraseConfig - The applied configuration.
//	error - Non-nil if the file cannot be read or fails validation.
//
// Thread Safety: Safe for concurrent use.
func ApplyPhraseOverride(ctx context.Context, path string) (*PhraseConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ApplyPhraseOverride: reading %s: %w", path, err)
	}

	cfg, err := LoadPhraseConfig(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("ApplyPhraseOverride: %w", err)
	}

	phraseConfigMu.Lock()
	cachedPhraseConfig = cfg
	phraseConfigLoadErr = nil
	phraseConfigMu.Unlock()

	slog.Info("phrase override applied", slog.String("path", path))
	return cfg, nil
}

// =============================================================================
// Normalization and validation
// =============================================================================

// normalizeTokens lowercases and trims every token the same way the
// matcher normalizes utterances, then drops empties and duplicates while
// preserving order.
func normalizeTokens(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		norm := strings.TrimRight(strings.ToLower(strings.TrimSpace(tok)), ".!?,;:")
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}
	return out
}

// validatePhraseConfig rejects tokens that appear in more than one set.
func validatePhraseConfig(cfg *PhraseConfig) error {
	owner := make(map[string]string, len(cfg.Affirmative)+len(cfg.Negative)+len(cfg.Skip))
	sets := []struct {
		name   string
		tokens []string
	}{
		{"affirmative", cfg.Affirmative},
		{"negative", cfg.Negative},
		{"skip", cfg.Skip},
	}
	for _, set := range sets {
		for _, tok := range set.tokens {
			if prev, ok := owner[tok]; ok {
				return fmt.Errorf("token %q appears in both %s and %s", tok, prev, set.name)
			}
			owner[tok] = set.name
		}
	}
	return nil
}
