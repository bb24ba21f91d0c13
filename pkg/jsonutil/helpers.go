// Package jsonutil formats and compares the flat metadata maps attached to
// loaded datasets.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"sort"
)

// PrettyJSON renders v indented for display, or its fmt form on failure.
func PrettyJSON(v any) string {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(pretty)
}

// SortedKeys returns the keys of m in order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Diff is one metadata field that differs between two datasets.
type Diff struct {
	Key      string `json:"key"`
	Type     string `json:"type"` // "add", "update", "delete"
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
}

// DiffMetadata lists the fields that differ from oldMeta to newMeta, in key
// order.
func DiffMetadata(oldMeta, newMeta map[string]string) []Diff {
	all := make(map[string]struct{}, len(oldMeta)+len(newMeta))
	for k := range oldMeta {
		all[k] = struct{}{}
	}
	for k := range newMeta {
		all[k] = struct{}{}
	}

	var diffs []Diff
	for _, k := range SortedKeys(all) {
		oldVal, oldOK := oldMeta[k]
		newVal, newOK := newMeta[k]
		switch {
		case !oldOK && newOK:
			diffs = append(diffs, Diff{Key: k, Type: "add", NewValue: newVal})
		case oldOK && !newOK:
			diffs = append(diffs, Diff{Key: k, Type: "delete", OldValue: oldVal})
		case oldVal != newVal:
			diffs = append(diffs, Diff{Key: k, Type: "update", OldValue: oldVal, NewValue: newVal})
		}
	}
	return diffs
}

// TruncateString shortens s to maxLen runes, ending in "..." when cut.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
