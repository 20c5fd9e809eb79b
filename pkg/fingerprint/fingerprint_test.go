package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	t.Run("has namespace prefix", func(t *testing.T) {
		k := Key(Image, map[string]any{"prompt": "x"})
		assert.True(t, strings.HasPrefix(k, "image:"))
		assert.Len(t, strings.TrimPrefix(k, "image:"), 64)
	})

	t.Run("order independent", func(t *testing.T) {
		a := map[string]any{"prompt": "cat", "a": 1, "b": 2}
		b := map[string]any{"b": 2, "prompt": "cat", "a": 1}
		for i := 0; i < 20; i++ {
			assert.Equal(t, Key(Image, a), Key(Image, b))
		}
	})

	t.Run("namespace separates modalities", func(t *testing.T) {
		p := map[string]any{"prompt": "x"}
		assert.NotEqual(t, Key(Image, p), Key(Text, p))
		assert.NotEqual(t, Key(Text, p), Key(Audio, p))
	})

	t.Run("any value change changes key", func(t *testing.T) {
		base := map[string]any{"prompt": "cat", "width": 512}
		assert.NotEqual(t, Key(Image, base), Key(Image, map[string]any{"prompt": "cat", "width": 513}))
		assert.NotEqual(t, Key(Image, base), Key(Image, map[string]any{"prompt": "dog", "width": 512}))
		assert.NotEqual(t, Key(Image, base), Key(Image, map[string]any{"prompt": "cat"}))
	})

	t.Run("key and value boundaries are unambiguous", func(t *testing.T) {
		a := map[string]any{"ab": "c"}
		b := map[string]any{"a": "bc"}
		assert.NotEqual(t, Key(Text, a), Key(Text, b))
	})

	t.Run("numeric forms collide", func(t *testing.T) {
		assert.Equal(t,
			Key(Audio, map[string]any{"speed": 1}),
			Key(Audio, map[string]any{"speed": 1.0}))
	})

	t.Run("string and number differ", func(t *testing.T) {
		assert.NotEqual(t,
			Key(Image, map[string]any{"seed": 42}),
			Key(Image, map[string]any{"seed": "42"}))
	})
}
