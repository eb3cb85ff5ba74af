// Package service contains the feature handlers of the Totem backend:
// users, chat messages, notifications, the company registry, currencies,
// and the kvstore-backed country and translation datasets. Each handler
// owns its named collections through a docstore.Storage (or a
// kvstore.Store for the small datasets) and applies domain validation
// before persisting. Fan-out, transport and blockchain concerns live
// outside this package.
package service

import "time"

// now returns the timestamp format stored on documents.
func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// dedupe drops empty and repeated ids, preserving first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// asFloat normalizes the numeric types a JSON document can carry.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
