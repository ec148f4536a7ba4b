package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

func validIdentity() map[string]any {
	return map[string]any{
		"type":   "playlist",
		"target": "Main Show",
		"timing": map[string]any{
			"days":       map[string]any{"weekly": []any{"MO", "WE"}},
			"start_time": map[string]any{"hard": "18:00:00"},
			"end_time":   map[string]any{"hard": "22:00:00"},
		},
	}
}

func TestCanonicalJSONSortsKeysAndDropsWhitespace(t *testing.T) {
	b, err := CanonicalJSON(map[string]any{"b": 1, "a": map[string]any{"z": true, "y": "x"}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":"x","z":true},"b":1}`, string(b))
}

func TestCanonicalJSONPreservesIntegers(t *testing.T) {
	b, err := CanonicalJSON(map[string]any{"offset_min": float64(30), "neg": float64(-15)})
	require.NoError(t, err)
	assert.Equal(t, `{"neg":-15,"offset_min":30}`, string(b))
}

func TestCanonicalJSONDoesNotEscapeHTML(t *testing.T) {
	b, err := CanonicalJSON(map[string]any{"target": "a<b>&c"})
	require.NoError(t, err)
	assert.Equal(t, `{"target":"a<b>&c"}`, string(b))
}

func TestHashIsStableAcrossKeyOrder(t *testing.T) {
	h1, err := HashIdentity(validIdentity())
	require.NoError(t, err)

	reordered := map[string]any{
		"timing": map[string]any{
			"end_time":   map[string]any{"hard": "22:00:00"},
			"start_time": map[string]any{"hard": "18:00:00"},
			"days":       map[string]any{"weekly": []any{"MO", "WE"}},
		},
		"target": "Main Show",
		"type":   "playlist",
	}
	h2, err := HashIdentity(reordered)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashChangesWithContent(t *testing.T) {
	h1, err := HashIdentity(validIdentity())
	require.NoError(t, err)

	id := validIdentity()
	id["target"] = "Other Show"
	h2, err := HashIdentity(id)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestCanonicalizeRejectsForbiddenKeys(t *testing.T) {
	for _, key := range []string{"start_date", "end_date", "enabled", "repeat", "stop_type", "uid", "startDate"} {
		id := validIdentity()
		id["timing"].(map[string]any)[key] = "2025-01-01"
		_, err := Canonicalize(id)
		require.Error(t, err, key)
		assert.True(t, syncerr.IsCode(err, syncerr.CodeInvariantViolation), key)
	}
}

func TestCanonicalizeAllowsSymbolicDateKeys(t *testing.T) {
	id := validIdentity()
	id["timing"].(map[string]any)["start_date_symbolic"] = "Thanksgiving"
	_, err := Canonicalize(id)
	assert.NoError(t, err)
}

func TestCanonicalizeRequiresCoreKeys(t *testing.T) {
	id := validIdentity()
	delete(id, "target")
	_, err := Canonicalize(id)
	require.Error(t, err)

	id = validIdentity()
	delete(id["timing"].(map[string]any), "start_time")
	_, err = Canonicalize(id)
	require.Error(t, err)
}

func TestCanonicalizeRejectsUnknownType(t *testing.T) {
	id := validIdentity()
	id["type"] = "script"
	_, err := Canonicalize(id)
	require.Error(t, err)
}

func TestHashStrings(t *testing.T) {
	a := HashStrings([]string{"x", "y"})
	b := HashStrings([]string{"x", "y"})
	c := HashStrings([]string{"y", "x"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
