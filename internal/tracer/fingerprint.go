package tracer

import (
	"encoding/json"
	"sort"
)

// maxNormalizeDepth bounds the selector-tree walk so a pathological
// or self-referential selector cannot recurse forever (spec §4.2
// "Query fingerprinting": "depth is limited to prevent runaway").
const maxNormalizeDepth = 8

// Fingerprint computes "<collection>.<operation>::<normalized
// selector>" (spec §3 QueryFingerprint, §4.2 "Query fingerprinting").
// On normalization failure it falls back to "<collection>.<operation>"
// with no selector suffix.
func Fingerprint(collection, operation string, selector interface{}) string {
	base := collection + "." + operation
	normalized, err := normalizeSelector(selector, 0)
	if err != nil {
		return base
	}
	shape, err := json.Marshal(normalized)
	if err != nil {
		return base
	}
	return base + "::" + string(shape)
}

// normalizeSelector walks an arbitrary selector tree, replacing every
// leaf value with "?" while preserving keys (including `$operator`
// keys, which carry structural meaning for fingerprinting) so that
// two selectors differing only in leaf values normalize identically
// (spec §8 property 6).
func normalizeSelector(v interface{}, depth int) (interface{}, error) {
	if depth > maxNormalizeDepth {
		return "?", nil
	}
	switch t := v.(type) {
	case nil:
		return "?", nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child, err := normalizeSelector(t[k], depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = child
		}
		return out, nil
	case []interface{}:
		// Arrays of leaves collapse to a single "?" (spec §4.2); an
		// array containing operator documents still normalizes each
		// element so $or/$and clauses keep their shape.
		allLeaves := true
		for _, item := range t {
			switch item.(type) {
			case map[string]interface{}, []interface{}:
				allLeaves = false
			}
		}
		if allLeaves {
			return "?", nil
		}
		out := make([]interface{}, len(t))
		for i, item := range t {
			child, err := normalizeSelector(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = child
		}
		return out, nil
	default:
		return "?", nil
	}
}
