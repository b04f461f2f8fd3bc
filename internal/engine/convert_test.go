package engine

import (
	"testing"
	"time"
)

// ----------------------------------------------------------------------------
// NormalizeNumber / ToPgNumeric Tests
// ----------------------------------------------------------------------------

func TestNormalizeNumber(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain integer", input: "123", want: "123"},
		{name: "dot decimal", input: "123.45", want: "123.45"},
		{name: "comma decimal", input: "12,5", want: "12.5"},
		{name: "us thousands", input: "1,234.50", want: "1234.50"},
		{name: "eu thousands", input: "1.234,50", want: "1234.50"},
		{name: "comma thousands only", input: "1,234", want: "1234"},
		{name: "many thousands", input: "1,234,567", want: "1234567"},
		{name: "dollar sign", input: "$ 99.90", want: "99.90"},
		{name: "peso code", input: "150 MXN", want: "150"},
		{name: "accounting negative", input: "(12.00)", want: "-12.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeNumber(tt.input); got != tt.want {
				t.Errorf("NormalizeNumber(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestToPgNumeric(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		wantValue float64
	}{
		{name: "integer", input: "10", wantValid: true, wantValue: 10},
		{name: "decimal comma", input: "12,50", wantValid: true, wantValue: 12.5},
		{name: "currency", input: "$1,234.56", wantValid: true, wantValue: 1234.56},
		{name: "euro", input: "€1.234,56", wantValid: true, wantValue: 1234.56},
		{name: "empty", input: "", wantValid: false},
		{name: "whitespace", input: "   ", wantValid: false},
		{name: "words", input: "diez", wantValid: false},
		{name: "two decimals points", input: "1.2.3", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToPgNumeric(tt.input)
			if got.Valid != tt.wantValid {
				t.Fatalf("ToPgNumeric(%q).Valid = %v, want %v", tt.input, got.Valid, tt.wantValid)
			}
			if !tt.wantValid {
				return
			}
			f, err := got.Float64Value()
			if err != nil {
				t.Fatalf("Float64Value: %v", err)
			}
			if diff := f.Float64 - tt.wantValue; diff > 0.0001 || diff < -0.0001 {
				t.Errorf("ToPgNumeric(%q) = %v, want %v", tt.input, f.Float64, tt.wantValue)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ToPgInt4 Tests
// ----------------------------------------------------------------------------

func TestToPgInt4(t *testing.T) {
	tests := []struct {
		input     string
		wantValid bool
		want      int32
	}{
		{"12", true, 12},
		{"12.0", true, 12},
		{"1,000", true, 1000},
		{"-3", true, -3},
		{"12.5", false, 0},
		{"", false, 0},
		{"muchos", false, 0},
		{"99999999999", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ToPgInt4(tt.input)
			if got.Valid != tt.wantValid {
				t.Fatalf("ToPgInt4(%q).Valid = %v, want %v", tt.input, got.Valid, tt.wantValid)
			}
			if tt.wantValid && got.Int32 != tt.want {
				t.Errorf("ToPgInt4(%q) = %d, want %d", tt.input, got.Int32, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ToPgDate Tests
// ----------------------------------------------------------------------------

func TestToPgDate(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		want      time.Time
	}{
		{name: "iso", input: "2027-03-01", wantValid: true, want: time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)},
		{name: "day first slash", input: "31/12/2027", wantValid: true, want: time.Date(2027, 12, 31, 0, 0, 0, 0, time.UTC)},
		{name: "day first dash", input: "05-06-2027", wantValid: true, want: time.Date(2027, 6, 5, 0, 0, 0, 0, time.UTC)},
		{name: "compact", input: "20270102", wantValid: true, want: time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC)},
		{name: "two digit year", input: "01/02/27", wantValid: true, want: time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC)},
		{name: "month first rejected", input: "12/31/2027", wantValid: false},
		{name: "empty", input: "", wantValid: false},
		{name: "garbage", input: "mañana", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToPgDate(tt.input)
			if got.Valid != tt.wantValid {
				t.Fatalf("ToPgDate(%q).Valid = %v, want %v", tt.input, got.Valid, tt.wantValid)
			}
			if tt.wantValid && !got.Time.Equal(tt.want) {
				t.Errorf("ToPgDate(%q) = %v, want %v", tt.input, got.Time, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ToPgBool Tests
// ----------------------------------------------------------------------------

func TestToPgBool(t *testing.T) {
	tests := []struct {
		input     string
		wantValid bool
		want      bool
	}{
		{"si", true, true},
		{"Sí", true, true},
		{"TRUE", true, true},
		{"1", true, true},
		{"activo", true, true},
		{"no", true, false},
		{"0", true, false},
		{"inactivo", true, false},
		{"", false, false},
		{"quizas", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ToPgBool(tt.input)
			if got.Valid != tt.wantValid || got.Bool != tt.want {
				t.Errorf("ToPgBool(%q) = {%v %v}, want {%v %v}", tt.input, got.Bool, got.Valid, tt.want, tt.wantValid)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// Header Tests
// ----------------------------------------------------------------------------

func TestMakeHeaderIndex(t *testing.T) {
	idx := MakeHeaderIndex([]string{" SKU ", "=\"Nombre\"", "", "precio", "sku"})

	want := map[string]int{"sku": 0, "nombre": 1, "precio": 3}
	if len(idx) != len(want) {
		t.Fatalf("MakeHeaderIndex len = %d, want %d (%v)", len(idx), len(want), idx)
	}
	for k, v := range want {
		if idx[k] != v {
			t.Errorf("idx[%q] = %d, want %d", k, idx[k], v)
		}
	}
}

func TestFindHeader(t *testing.T) {
	records := [][]string{
		{"Reporte de inventario"},
		{"", ""},
		{"SKU", "Nombre", "Precio", "Notas"},
		{"A1", "Gasas", "1"},
	}
	if got := findHeader(records, ProductFields); got != 2 {
		t.Errorf("findHeader = %d, want 2", got)
	}
	if got := findHeader(records[:2], ProductFields); got != -1 {
		t.Errorf("findHeader without header = %d, want -1", got)
	}
}

func TestCleanCell(t *testing.T) {
	tests := map[string]string{
		"  A1  ":      "A1",
		`="00123"`:    "00123",
		"=5":          "5",
		`"citado"`:    "citado",
		"'apostrofe'": "apostrofe",
	}
	for in, want := range tests {
		if got := CleanCell(in); got != want {
			t.Errorf("CleanCell(%q) = %q, want %q", in, got, want)
		}
	}
}
