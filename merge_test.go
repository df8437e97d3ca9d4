package outboxkit

import (
	"encoding/json"
	"reflect"
	"testing"
)

func decodeJSON(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("result is not a JSON object: %v", err)
	}
	return m
}

func TestSuggestMergeDeterministic(t *testing.T) {
	local := json.RawMessage(`{"a":1,"b":[1,2],"updated_at":"2025-06-02T00:00:00Z"}`)
	server := json.RawMessage(`{"a":2,"b":[2,3],"updated_at":"2025-06-01T00:00:00Z"}`)

	merged, err := SuggestMerge(local, server)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	got := decodeJSON(t, merged)
	want := map[string]any{
		"a":          float64(1),
		"b":          []any{float64(1), float64(2), float64(3)},
		"updated_at": "2025-06-02T00:00:00Z",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("merge = %v, want %v", got, want)
	}

	// Determinism: same inputs, same bytes.
	again, err := SuggestMerge(local, server)
	if err != nil {
		t.Fatalf("second merge failed: %v", err)
	}
	if string(again) != string(merged) {
		t.Errorf("merge is not deterministic: %s vs %s", merged, again)
	}
}

func TestSuggestMergeNewerTimestampWins(t *testing.T) {
	local := json.RawMessage(`{"updated_at":"2025-01-01T00:00:00Z"}`)
	server := json.RawMessage(`{"updated_at":"2025-06-01T00:00:00Z"}`)

	merged, err := SuggestMerge(local, server)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	got := decodeJSON(t, merged)
	if got["updated_at"] != "2025-06-01T00:00:00Z" {
		t.Errorf("updated_at = %v, want the newer server value", got["updated_at"])
	}
}

func TestSuggestMergeLocalWinsOnScalars(t *testing.T) {
	local := json.RawMessage(`{"qty":5,"note":"local edit"}`)
	server := json.RawMessage(`{"qty":7,"note":"server edit"}`)

	merged, err := SuggestMerge(local, server)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	got := decodeJSON(t, merged)
	if got["qty"] != float64(5) {
		t.Errorf("qty = %v, want local 5", got["qty"])
	}
	if got["note"] != "local edit" {
		t.Errorf("note = %v, want local value", got["note"])
	}
}

func TestSuggestMergeDisjointFieldsUnion(t *testing.T) {
	local := json.RawMessage(`{"a":1}`)
	server := json.RawMessage(`{"b":2}`)

	merged, err := SuggestMerge(local, server)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	got := decodeJSON(t, merged)
	if got["a"] != float64(1) || got["b"] != float64(2) {
		t.Errorf("merge = %v, want both fields present", got)
	}
}

func TestSuggestMergeArrayDedupOnStructure(t *testing.T) {
	local := json.RawMessage(`{"tags":[{"k":"x"},{"k":"y"}]}`)
	server := json.RawMessage(`{"tags":[{"k":"y"},{"k":"z"}]}`)

	merged, err := SuggestMerge(local, server)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	got := decodeJSON(t, merged)
	tags, ok := got["tags"].([]any)
	if !ok || len(tags) != 3 {
		t.Fatalf("tags = %v, want three unique elements", got["tags"])
	}
}

func TestSuggestMergeRejectsNonObjects(t *testing.T) {
	if _, err := SuggestMerge(json.RawMessage(`[1,2]`), json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for non-object local snapshot")
	}
	if _, err := SuggestMerge(json.RawMessage(`{}`), json.RawMessage(`"str"`)); err == nil {
		t.Error("expected error for non-object server snapshot")
	}
}
