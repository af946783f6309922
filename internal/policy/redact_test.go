package policy

import (
	"reflect"
	"testing"
	"time"
)

func TestApplyRedactionDottedPath(t *testing.T) {
	payload := map[string]any{
		"batch": map[string]any{
			"lot": "L-77",
			"ingredients": []any{
				map[string]any{"name": "glycerin", "percentages": 12.5},
				map[string]any{"name": "water", "percentages": 80.0},
			},
		},
		"percentages": "summary",
	}
	got := ApplyRedaction(payload, []string{"batch.ingredients.percentages"})
	want := map[string]any{
		"batch": map[string]any{
			"lot": "L-77",
			"ingredients": []any{
				map[string]any{"name": "glycerin"},
				map[string]any{"name": "water"},
			},
		},
		"percentages": "summary",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected result:\n got %#v\nwant %#v", got, want)
	}
}

func TestApplyRedactionPlainNameEverywhere(t *testing.T) {
	payload := map[string]any{
		"percentages": []any{1, 2},
		"lines":       []any{map[string]any{"percentages": 3, "qty": 4}},
	}
	got := ApplyRedaction(payload, []string{"percentages", " "})
	want := map[string]any{
		"lines": []any{map[string]any{"qty": 4}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected result: %#v", got)
	}
	if _, ok := payload["percentages"]; !ok {
		t.Fatal("input was modified")
	}
}

func TestApplyRedactionMissingPathAndNil(t *testing.T) {
	if ApplyRedaction(nil, []string{"x"}) != nil {
		t.Fatal("nil payload should stay nil")
	}
	payload := map[string]any{"a": 1}
	got := ApplyRedaction(payload, []string{"b.c"})
	if !reflect.DeepEqual(got, payload) {
		t.Fatalf("unexpected result: %#v", got)
	}
}

type ingredientLine struct {
	Name        string  `json:"name"`
	Percentages float64 `json:"percentages"`
}

func TestApplyRedactionTypedContainers(t *testing.T) {
	mixed := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	payload := map[string]any{
		"summary": map[string]string{"code": "F-204", "percentages": "12.5/80"},
		"ingredients": []map[string]float64{
			{"percentages": 12.5, "qty": 3},
		},
		"lines":    []ingredientLine{{Name: "glycerin", Percentages: 12.5}},
		"lot":      &ingredientLine{Name: "water", Percentages: 80},
		"mixed_at": mixed,
	}
	got := ApplyRedaction(payload, []string{"percentages"})
	want := map[string]any{
		"summary":     map[string]any{"code": "F-204"},
		"ingredients": []any{map[string]any{"qty": 3.0}},
		"lines":       []any{map[string]any{"name": "glycerin"}},
		"lot":         map[string]any{"name": "water"},
		"mixed_at":    mixed,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected result:\n got %#v\nwant %#v", got, want)
	}
	if _, ok := payload["summary"].(map[string]string)["percentages"]; !ok {
		t.Fatal("input was modified")
	}

	got = ApplyRedaction(payload, []string{"ingredients.percentages"})
	if !reflect.DeepEqual(got["ingredients"], []any{map[string]any{"qty": 3.0}}) {
		t.Fatalf("dotted path missed typed slice: %#v", got["ingredients"])
	}
}
