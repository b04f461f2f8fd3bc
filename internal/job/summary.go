package job

import "fmt"

// MaxStoredErrors bounds the row-level error sample persisted with a job.
const MaxStoredErrors = 10

// RowError describes one CSV row the engine could not import.
type RowError struct {
	Row   int    `json:"fila"`
	Error string `json:"error"`
	Code  string `json:"codigo,omitempty"`
	SKU   string `json:"sku,omitempty"`
}

// ErrorSummary is the bounded error report stored in detalles_errores.
// Errors never holds more than MaxStoredErrors entries; Total is the true count.
type ErrorSummary struct {
	Errors   []RowError `json:"errores"`
	Total    int        `json:"total_errores"`
	Captured int        `json:"errores_capturados"`
	Note     string     `json:"nota,omitempty"`
}

// Summarize builds an ErrorSummary from the errors reported by the engine.
// total is the number of errors the engine saw; when it is smaller than
// len(errs) the length wins.
func Summarize(errs []RowError, total int) ErrorSummary {
	if total < len(errs) {
		total = len(errs)
	}

	sample := errs
	if len(sample) > MaxStoredErrors {
		sample = sample[:MaxStoredErrors]
	}

	s := ErrorSummary{
		Errors:   append([]RowError{}, sample...),
		Total:    total,
		Captured: min(total, MaxStoredErrors),
	}
	if s.Captured > len(s.Errors) {
		s.Captured = len(s.Errors)
	}
	if total > s.Captured {
		s.Note = fmt.Sprintf("Se muestran los primeros %d de %d errores", s.Captured, total)
	}
	return s
}

// Capped returns a copy of s that respects MaxStoredErrors. It is used when
// serializing summaries that may have been stored by older writers.
func (s ErrorSummary) Capped() ErrorSummary {
	return Summarize(s.Errors, s.Total)
}
