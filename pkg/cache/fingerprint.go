package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Fingerprint computes the stable hash over (agent_id, verb, normalized
// parameters) that identifies a CacheEntry (spec.md §3). Normalization
// lowercases and whitespace-collapses string values, sorts map keys,
// stringifies times to RFC3339 UTC, and drops keys whose value equals its
// provided schema default — so key-reordering and whitespace-only string
// differences fingerprint identically (spec.md §8).
func Fingerprint(agentID, verb string, params map[string]any, defaults map[string]any) string {
	normalized := normalize(params, defaults)
	body, _ := json.Marshal(normalized)

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", agentID, verb)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(params, defaults map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := params[k]
		if d, ok := defaults[k]; ok && equalValue(v, d) {
			continue
		}
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return strings.Join(strings.Fields(strings.ToLower(t)), " ")
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case map[string]any:
		return normalize(t, nil)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

func equalValue(a, b any) bool {
	aj, _ := json.Marshal(normalizeValue(a))
	bj, _ := json.Marshal(normalizeValue(b))
	return string(aj) == string(bj)
}
