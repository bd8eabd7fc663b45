package tracer

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// sensitiveSubstrings is the case-insensitive redaction predicate
// (spec §4.2 "Argument sanitization", §8 property 9).
var sensitiveSubstrings = []string{
	"password", "secret", "token", "apikey", "api_key", "authorization",
	"cookie", "session", "credit_card", "ssn", "cvv", "private_key",
	"access_token", "bearer", "credentials", "refresh_token",
}

const redactedValue = "<redacted>"

// isSensitiveKey reports whether key matches the sensitive-key
// predicate via case-insensitive substring match.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sub := range sensitiveSubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// SanitizerOptions bounds a sanitization pass (spec §4.2: "default"
// and "db" variants differ only in these limits).
type SanitizerOptions struct {
	MaxDepth        int
	MaxArrayItems   int
	MaxObjectKeys   int
	MaxStringLength int
}

// DefaultSanitizer mirrors the host's general-purpose argument
// sanitizer used for method-call arguments.
func DefaultSanitizer(maxArgLength int) SanitizerOptions {
	if maxArgLength <= 0 {
		maxArgLength = 1000
	}
	return SanitizerOptions{MaxDepth: 3, MaxArrayItems: 10, MaxObjectKeys: 50, MaxStringLength: maxArgLength}
}

// DBSanitizer mirrors the host's db-operation sanitizer, used for
// selectors and db operation arguments, which tolerates deeper and
// wider structures than the general-purpose default.
func DBSanitizer() SanitizerOptions {
	return SanitizerOptions{MaxDepth: 5, MaxArrayItems: 20, MaxObjectKeys: 500, MaxStringLength: 500}
}

// Sanitize walks v, redacting values at sensitive keys and bounding
// depth/array size/object size/string length per opts (spec §4.2
// "Argument sanitization").
func Sanitize(v interface{}, opts SanitizerOptions) interface{} {
	return sanitizeValue(v, opts, 0)
}

func sanitizeValue(v interface{}, opts SanitizerOptions, depth int) interface{} {
	if depth > opts.MaxDepth {
		return "<max-depth>"
	}
	switch t := v.(type) {
	case nil:
		return nil
	case bool, int, int64, float64, float32:
		return t
	case string:
		return truncateString(t, opts.MaxStringLength)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case *regexp.Regexp:
		return t.String()
	case func():
		return "<function>"
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		count := 0
		for k, val := range t {
			if count >= opts.MaxObjectKeys {
				break
			}
			count++
			if isSensitiveKey(k) {
				out[k] = redactedValue
				continue
			}
			out[k] = sanitizeValue(val, opts, depth+1)
		}
		return out
	case []interface{}:
		n := len(t)
		if n > opts.MaxArrayItems {
			n = opts.MaxArrayItems
		}
		out := make([]interface{}, n)
		for i := 0; i < n; i++ {
			out[i] = sanitizeValue(t[i], opts, depth+1)
		}
		return out
	default:
		return fmt.Sprintf("%v", t)
	}
}

func truncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// SanitizeSelector clones selector and redacts top-level keys that
// match the sensitive-key set to "[REDACTED]", but only when their
// value is truthy (spec §4.4 "Selector sanitization before
// emission"). Unlike Sanitize, this operates on a single level and
// uses the literal "[REDACTED]" marker rather than "<redacted>".
func SanitizeSelector(selector map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(selector))
	for k, v := range selector {
		if isSensitiveKey(k) && isTruthy(v) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

func isTruthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}
