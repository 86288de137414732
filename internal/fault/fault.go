// Package fault reads well-known fields out of raw fault notifications.
//
// Notifications arrive either flat ({"severity": ...}) or wrapped in one or
// more envelope objects (for example {"nsp-fault:alarm-create": {...}}), so
// lookups descend into nested objects breadth-first.
package fault

import (
	"encoding/json"
	"strings"
)

const maxDepth = 4

// Fields is the decoded top-level object of a notification
type Fields map[string]json.RawMessage

// Parse decodes msg as a JSON object. Non-objects yield nil.
func Parse(msg json.RawMessage) Fields {
	var f Fields
	if err := json.Unmarshal(msg, &f); err != nil {
		return nil
	}
	return f
}

// Lookup returns the first scalar value stored under key, searching nested
// objects breadth-first. Numbers and booleans are returned in their JSON form.
func (f Fields) Lookup(key string) (string, bool) {
	level := []Fields{f}
	for depth := 0; depth < maxDepth && len(level) > 0; depth++ {
		var next []Fields
		for _, obj := range level {
			if raw, ok := obj[key]; ok {
				if s, ok := scalar(raw); ok {
					return s, true
				}
			}
			for _, raw := range obj {
				if nested := Parse(raw); nested != nil {
					next = append(next, nested)
				}
			}
		}
		level = next
	}
	return "", false
}

// String returns Lookup(key) or ""
func (f Fields) String(key string) string {
	s, _ := f.Lookup(key)
	return s
}

// Severity returns the lower-cased severity of msg, or "" when absent
func Severity(msg json.RawMessage) string {
	return strings.ToLower(strings.TrimSpace(Parse(msg).String("severity")))
}

func scalar(raw json.RawMessage) (string, bool) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64, bool:
		return strings.TrimSpace(string(raw)), true
	default:
		return "", false
	}
}
