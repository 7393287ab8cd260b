package graph

import "testing"

func TestSanitizeRelType(t *testing.T) {
	tests := []struct {
		input EdgeType
		want  string
	}{
		{EdgeDerivedFrom, "DERIVED_FROM"},
		{EdgeAppliesTo, "APPLIES_TO"},
		{EdgeOverrides, "OVERRIDES"},
		{"", "RELATED_TO"},
		{"has-wire", "HASWIRE"},
		{"already_upper", "ALREADY_UPPER"},
		{"a1b2", "A1B2"},
		{"---", "RELATED_TO"},
		{"MiXeD_123", "MIXED_123"},
	}
	for _, tt := range tests {
		if got := sanitizeRelType(tt.input); got != tt.want {
			t.Errorf("sanitizeRelType(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestEdgeFromPropsRoundTrip(t *testing.T) {
	props := map[string]any{
		"data":       `{"reason":"manual override"}`,
		"created_at": "2026-03-05T12:00:00Z",
	}
	e, err := edgeFromProps("src", "dst", EdgeOverrides, props)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Source != "src" || e.Target != "dst" || e.Type != EdgeOverrides {
		t.Fatalf("unexpected edge identity: %+v", e)
	}
	if e.Data["reason"] != "manual override" {
		t.Fatalf("expected reason preserved, got %v", e.Data["reason"])
	}
}

func TestEdgeFromPropsNoData(t *testing.T) {
	e, err := edgeFromProps("a", "b", EdgeDependsOn, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Data != nil {
		t.Fatalf("expected nil data for edge with no stored props, got %v", e.Data)
	}
}
