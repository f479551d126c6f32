package track

import "strings"

// RedactedValue replaces any value whose key looks sensitive.
const RedactedValue = "[REDACTED]"

// Case-insensitive substrings that mark a debug-context key as sensitive.
var sensitiveKeyParts = []string{
	"password",
	"token",
	"secret",
	"key",
	"auth",
	"credential",
}

// Redact returns a copy of ctx with every sensitive key's value replaced by
// RedactedValue. Maps nested directly or inside slices are redacted
// recursively; the input is never mutated.
func Redact(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if sensitiveKey(k) {
			out[k] = RedactedValue
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Redact(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}
