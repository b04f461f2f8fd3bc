package engine

// fields.go describes the product CSV layout and the header handling.
//
// The header row does not have to be the first line: exports often carry a
// title or a blank line first, so the first MaxHeaderSearchRows records are
// searched for a row naming every required column.

import (
	"strings"
)

// MaxHeaderSearchRows limits how far into the file the header is searched.
var MaxHeaderSearchRows = 20

// FieldType represents the expected data type for a CSV column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldNumeric
	FieldInteger
	FieldDate
	FieldBool
)

// FieldSpec defines validation rules for a single CSV column.
type FieldSpec struct {
	Name     string    // Column header name, matched case-insensitively
	Type     FieldType // Expected data type
	Required bool      // Column must exist and the cell must not be empty
	MaxLen   int       // Maximum text length in runes, 0 for unlimited
}

// HeaderIndex maps column names (lowercase) to their position in the CSV row.
type HeaderIndex map[string]int

// ProductFields is the column layout of a product import.
var ProductFields = []FieldSpec{
	{Name: "sku", Type: FieldText, Required: true, MaxLen: 64},
	{Name: "nombre", Type: FieldText, Required: true, MaxLen: 255},
	{Name: "precio", Type: FieldNumeric, Required: true},
	{Name: "descripcion", Type: FieldText},
	{Name: "categoria", Type: FieldText, MaxLen: 100},
	{Name: "stock", Type: FieldInteger},
	{Name: "activo", Type: FieldBool},
	{Name: "vence", Type: FieldDate},
}

// RequiredColumns returns the names of the required columns in specs.
func RequiredColumns(specs []FieldSpec) []string {
	var cols []string
	for _, spec := range specs {
		if spec.Required {
			cols = append(cols, spec.Name)
		}
	}
	return cols
}

// MakeHeaderIndex creates a HeaderIndex from a CSV header row.
// Keys are lowercased; the first occurrence of a duplicated name wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(CleanCell(h))
		if key == "" {
			continue
		}
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// MissingColumns lists the required columns absent from idx.
func MissingColumns(idx HeaderIndex, specs []FieldSpec) []string {
	var missing []string
	for _, name := range RequiredColumns(specs) {
		if _, ok := idx[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// findHeader returns the position of the first record containing every
// required column, or -1.
func findHeader(records [][]string, specs []FieldSpec) int {
	limit := min(MaxHeaderSearchRows, len(records))
	for i := 0; i < limit; i++ {
		if isEmptyRow(records[i]) {
			continue
		}
		if len(MissingColumns(MakeHeaderIndex(records[i]), specs)) == 0 {
			return i
		}
	}
	return -1
}

// firstNonEmpty returns the first record with content, used to report which
// columns are missing when no header matches.
func firstNonEmpty(records [][]string) []string {
	for _, r := range records {
		if !isEmptyRow(r) {
			return r
		}
	}
	return nil
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// CleanCell removes common CSV artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}

func cell(row []string, idx HeaderIndex, name string) string {
	pos, ok := idx[name]
	if !ok || pos >= len(row) {
		return ""
	}
	return CleanCell(row[pos])
}
