package session

import (
	"sort"
	"strings"
)

// NormalizeCart trims, drops empty ids, dedupes and sorts.
func NormalizeCart(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Fingerprint identifies a cart state independent of item order and quantity.
func Fingerprint(ids []string) string {
	return strings.Join(NormalizeCart(ids), ",")
}
