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

import "strings"

// Phrases are the normalized token sets the machine matches user replies
// against. Matching is exact after lowercasing and trimming; confirmation
// replies are never fuzzy.
type Phrases struct {
	// Affirmative confirms a staged write.
	Affirmative []string

	// Negative declines a staged write.
	Negative []string

	// Skip passes over an optional form field.
	Skip []string
}

// DefaultPhrases returns the built-in phrase sets. Deployments override
// these from configuration.
func DefaultPhrases() Phrases {
	return Phrases{
		Affirmative: []string{
			"yes", "y", "yeah", "yep", "sure", "ok", "okay",
			"confirm", "do it", "go ahead", "proceed",
		},
		Negative: []string{
			"no", "n", "nope", "cancel", "stop", "don't",
			"do not", "never mind", "nevermind",
		},
		Skip: []string{
			"skip", "none", "pass", "skip it", "no thanks",
		},
	}
}

// normalizeUtterance lowercases, trims whitespace, and strips trailing
// punctuation so "Yes!" and "yes" compare equal.
func normalizeUtterance(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRight(s, ".!?,;:")
}

func matchesPhrase(utterance string, set []string) bool {
	norm := normalizeUtterance(utterance)
	if norm == "" {
		return false
	}
	for _, p := range set {
		if norm == p {
			return true
		}
	}
	return false
}

// IsAffirmative reports whether the utterance confirms.
func (p Phrases) IsAffirmative(utterance string) bool {
	return matchesPhrase(utterance, p.Affirmative)
}

// IsNegative reports whether the utterance declines.
func (p Phrases) IsNegative(utterance string) bool {
	return matchesPhrase(utterance, p.Negative)
}

// IsSkip reports whether the utterance skips an optional field.
func (p Phrases) IsSkip(utterance string) bool {
	return matchesPhrase(utterance, p.Skip)
}
