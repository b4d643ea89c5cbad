package source

import "testing"

func TestRecordIDHandlesWireTypes(t *testing.T) {
	tests := []struct {
		name     string
		record   Record
		expected int64
	}{
		{name: "number", record: Record{"id": float64(501)}, expected: 501},
		{name: "string", record: Record{"id": "501"}, expected: 501},
		{name: "padded-string", record: Record{"id": " 501 "}, expected: 501},
		{name: "missing", record: Record{}, expected: 0},
		{name: "garbage", record: Record{"id": "abc"}, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.ID(); got != tt.expected {
				t.Fatalf("expected id %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestRecordBoolFlag(t *testing.T) {
	record := Record{
		"disabled":       true,
		"maintain_stock": float64(0),
		"taxable":        "1",
	}

	if v, ok := record.BoolFlag("disabled"); !ok || !v {
		t.Fatalf("expected disabled to be present and true")
	}
	if v, ok := record.BoolFlag("maintain_stock"); !ok || v {
		t.Fatalf("expected maintain_stock to be present and false")
	}
	if v, ok := record.BoolFlag("taxable"); !ok || !v {
		t.Fatalf("expected taxable to be present and true")
	}
	if _, ok := record.BoolFlag("missing"); ok {
		t.Fatalf("absent flag should not report presence")
	}
}

func TestStringifySerializesNonScalars(t *testing.T) {
	record := Record{
		"quantity":            float64(10),
		"location_quantities": []any{map[string]any{"location_id": float64(1), "quantity": float64(4)}},
		"notes":               "keep dry",
	}

	if got := record.String("quantity"); got != "10" {
		t.Fatalf("expected numeric rendering without decimals, got %q", got)
	}
	if got := record.String("notes"); got != "keep dry" {
		t.Fatalf("unexpected string rendering %q", got)
	}
	expected := `[{"location_id":1,"quantity":4}]`
	if got := record.String("location_quantities"); got != expected {
		t.Fatalf("expected JSON serialization of nested values, got %q", got)
	}
}
