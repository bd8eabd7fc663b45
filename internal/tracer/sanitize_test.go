package tracer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeRedactsSensitiveKeys(t *testing.T) {
	// Mirrors spec scenario E6.
	in := map[string]interface{}{
		"email": "a@b",
		"password": "pw",
		"nested": map[string]interface{}{"token": "t"},
	}
	out := Sanitize(in, DefaultSanitizer(1000))
	m, ok := out.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "a@b", m["email"])
	assert.Equal(t, redactedValue, m["password"])
	nested, ok := m["nested"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, redactedValue, nested["token"])
}

func TestSanitizeCaseInsensitiveSubstringMatch(t *testing.T) {
	in := map[string]interface{}{"ApiKey": "sk_123", "Authorization_Header": "Bearer xyz"}
	out := Sanitize(in, DefaultSanitizer(1000)).(map[string]interface{})
	assert.Equal(t, redactedValue, out["ApiKey"])
	assert.Equal(t, redactedValue, out["Authorization_Header"])
}

func TestSanitizeTruncatesLongStrings(t *testing.T) {
	longStr := make([]byte, 100)
	for i := range longStr {
		longStr[i] = 'a'
	}
	out := Sanitize(string(longStr), SanitizerOptions{MaxDepth: 3, MaxStringLength: 10})
	assert.LessOrEqual(t, len(out.(string)), 13) // 10 bytes + the 3-byte UTF-8 ellipsis
}

func TestSanitizeBoundsArrayAndDepth(t *testing.T) {
	arr := make([]interface{}, 0, 30)
	for i := 0; i < 30; i++ {
		arr = append(arr, i)
	}
	out := Sanitize(arr, SanitizerOptions{MaxDepth: 3, MaxArrayItems: 10, MaxStringLength: 100}).([]interface{})
	assert.Len(t, out, 10)
}

func TestSanitizeSelectorRedactsOnlyTruthyValues(t *testing.T) {
	sel := map[string]interface{}{"password": "x", "token": "", "name": "bob"}
	out := SanitizeSelector(sel)
	assert.Equal(t, "[REDACTED]", out["password"])
	assert.Equal(t, "", out["token"]) // falsy, not redacted
	assert.Equal(t, "bob", out["name"])
}
