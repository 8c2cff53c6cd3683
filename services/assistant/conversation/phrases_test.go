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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhraseMatching(t *testing.T) {
	p := DefaultPhrases()

	t.Run("affirmative", func(t *testing.T) {
		assert.True(t, p.IsAffirmative("yes"))
		assert.True(t, p.IsAffirmative("  Yes!  "))
		assert.True(t, p.IsAffirmative("GO AHEAD"))
		assert.False(t, p.IsAffirmative("yesterday"))
		assert.False(t, p.IsAffirmative(""))
	})

	t.Run("negative", func(t *testing.T) {
		assert.True(t, p.IsNegative("no"))
		assert.True(t, p.IsNegative("Never mind."))
		assert.False(t, p.IsNegative("nothing much"))
	})

	t.Run("skip", func(t *testing.T) {
		assert.True(t, p.IsSkip("skip"))
		assert.True(t, p.IsSkip("None"))
		assert.False(t, p.IsSkip("skipper"))
	})

	t.Run("confirmation is never fuzzy", func(t *testing.T) {
		assert.False(t, p.IsAffirmative("yes but change the title"))
		assert.False(t, p.IsNegative("not sure"))
	})
}
