package outboxkit

import (
	"encoding/json"
	"fmt"
	"time"
)

// SuggestMerge computes a deterministic field-level merge of two JSON object
// snapshots:
//
//   - fields whose values parse as RFC 3339 timestamps on both sides keep the
//     newer of the two values,
//   - array-valued fields are unioned with deduplication (local elements in
//     order, then server elements not already present),
//   - every other field keeps the local value unless the two sides are equal.
//
// Preferring local on plain scalar divergence expresses user intent, but it
// can silently drop a legitimate concurrent server-side edit on fields that
// are neither arrays nor timestamps. That lossy policy is intentional and
// documented here rather than hidden.
//
// The result is a suggestion only; applying it is an explicit resolution.
func SuggestMerge(local, server json.RawMessage) (json.RawMessage, error) {
	var lobj, sobj map[string]any
	if err := json.Unmarshal(local, &lobj); err != nil {
		return nil, fmt.Errorf("local snapshot is not a JSON object: %w", err)
	}
	if err := json.Unmarshal(server, &sobj); err != nil {
		return nil, fmt.Errorf("server snapshot is not a JSON object: %w", err)
	}

	out := make(map[string]any, len(lobj)+len(sobj))
	for k, sv := range sobj {
		out[k] = sv
	}
	for k, lv := range lobj {
		sv, inServer := sobj[k]
		if !inServer {
			out[k] = lv
			continue
		}
		out[k] = mergeField(lv, sv)
	}

	merged, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merge result: %w", err)
	}
	return merged, nil
}

func mergeField(local, server any) any {
	if jsonEqual(local, server) {
		return local
	}

	if lt, lok := asTimestamp(local); lok {
		if st, sok := asTimestamp(server); sok {
			if st.After(lt) {
				return server
			}
			return local
		}
	}

	if larr, lok := local.([]any); lok {
		if sarr, sok := server.([]any); sok {
			return unionArrays(larr, sarr)
		}
	}

	// Local wins: the queued operation expresses user intent.
	return local
}

// unionArrays returns local elements in order followed by server elements not
// already present. Deduplication compares canonical JSON encodings.
func unionArrays(local, server []any) []any {
	out := make([]any, 0, len(local)+len(server))
	seen := make(map[string]struct{}, len(local)+len(server))

	add := func(v any) {
		key := canonicalJSON(v)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}

	for _, v := range local {
		add(v)
	}
	for _, v := range server {
		add(v)
	}
	return out
}

func asTimestamp(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func jsonEqual(a, b any) bool {
	return canonicalJSON(a) == canonicalJSON(b)
}

// canonicalJSON relies on encoding/json emitting map keys in sorted order,
// which makes the encoding a usable equality key.
func canonicalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("!%v", v)
	}
	return string(b)
}
