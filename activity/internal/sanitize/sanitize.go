// Package sanitize redacts sensitive values from activity metadata.
package sanitize

import "regexp"

// Redacted replaces the value of every sensitive key.
const Redacted = "[REDACTED]"

var sensitiveKey = regexp.MustCompile(`(?i)password|token|secret|key|auth|credential|ssn|credit.?card|bank.?account`)

// IsSensitiveKey reports whether a metadata key matches the denylist.
func IsSensitiveKey(key string) bool {
	return sensitiveKey.MatchString(key)
}

// Metadata returns a copy of m with every sensitive value replaced by
// Redacted. Nested maps and slices are walked. The input is not modified.
func Metadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = value(v)
	}
	return out
}

// Strings is Metadata for flat string maps such as session metadata.
func Strings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = v
	}
	return out
}

// IsClean reports whether no sensitive key in m (at any depth) carries a
// value other than Redacted.
func IsClean(m map[string]any) bool {
	for k, v := range m {
		if IsSensitiveKey(k) {
			if s, ok := v.(string); !ok || s != Redacted {
				return false
			}
			continue
		}
		if !cleanValue(v) {
			return false
		}
	}
	return true
}

func value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Metadata(t)
	case map[string]string:
		return Strings(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = value(item)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, item := range t {
			out[i] = Metadata(item)
		}
		return out
	default:
		return v
	}
}

func cleanValue(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		return IsClean(t)
	case map[string]string:
		for k, s := range t {
			if IsSensitiveKey(k) && s != Redacted {
				return false
			}
		}
	case []any:
		for _, item := range t {
			if !cleanValue(item) {
				return false
			}
		}
	case []map[string]any:
		for _, item := range t {
			if !IsClean(item) {
				return false
			}
		}
	}
	return true
}
