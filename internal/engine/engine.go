// Package engine validates and persists the rows of a product CSV.
//
// Problems affecting the whole file (empty content, unparseable CSV, missing
// columns) are returned as a *DomainError. Problems affecting a single row are
// collected as job.RowError values and do not stop the import.
package engine

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/productimport/internal/job"
)

// File-level error codes.
const (
	CodeEmptyCSV       = "CSV_VACIO"
	CodeMissingColumns = "COLUMNAS_FALTANTES"
	CodeInvalidCSV     = "CSV_INVALIDO"
)

// Row-level error codes.
const (
	CodeRequiredField = "CAMPO_REQUERIDO"
	CodeInvalidType   = "TIPO_INVALIDO"
	CodeTooLong       = "LONGITUD_EXCEDIDA"
	CodeNegative      = "VALOR_NEGATIVO"
	CodeDuplicateSKU  = "SKU_DUPLICADO"
	CodeStoreFailed   = "ERROR_GUARDADO"
)

var (
	// ContextCheckInterval is how many rows are processed between checks of
	// the context.
	ContextCheckInterval = 100

	// DefaultProgressEvery is how many rows pass between progress callbacks.
	DefaultProgressEvery = 50

	// DefaultErrorSample bounds the row errors kept in memory; the count is
	// always exact.
	DefaultErrorSample = 100
)

// DomainError is an unrecoverable problem with the CSV as a whole.
type DomainError struct {
	Message string `json:"error"`
	Code    string `json:"codigo"`
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// JSON returns the error serialized as {"error": ..., "codigo": ...}.
func (e *DomainError) JSON() string {
	b, err := json.Marshal(e)
	if err != nil {
		return e.Error()
	}
	return string(b)
}

// ProgressFunc receives live counters while rows are processed.
type ProgressFunc func(processed, total, succeeded, failed int)

// Result summarizes a finished import.
type Result struct {
	Total       int
	Succeeded   int
	Failed      int
	Errors      []job.RowError
	TotalErrors int
}

// Options tunes a CSV engine.
type Options struct {
	Fields        []FieldSpec
	ProgressEvery int
	ErrorSample   int
	Logger        *slog.Logger
}

// CSV imports product rows into a ProductStore.
type CSV struct {
	store         ProductStore
	fields        []FieldSpec
	progressEvery int
	errorSample   int
	logger        *slog.Logger
}

// New returns a CSV engine writing to store.
func New(store ProductStore, opts Options) *CSV {
	e := &CSV{
		store:         store,
		fields:        opts.Fields,
		progressEvery: opts.ProgressEvery,
		errorSample:   opts.ErrorSample,
		logger:        opts.Logger,
	}
	if len(e.fields) == 0 {
		e.fields = ProductFields
	}
	if e.progressEvery <= 0 {
		e.progressEvery = DefaultProgressEvery
	}
	if e.errorSample <= 0 {
		e.errorSample = DefaultErrorSample
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Process validates and upserts every data row of content. Only context
// cancellation and file-level problems are returned as errors; row failures
// are reported in the Result.
func (e *CSV) Process(ctx context.Context, content, usuario string, progress ProgressFunc) (Result, error) {
	if progress == nil {
		progress = func(int, int, int, int) {}
	}

	if strings.TrimSpace(content) == "" {
		return Result{}, &DomainError{Message: "CSV inválido: el archivo está vacío", Code: CodeEmptyCSV}
	}

	records, err := parseCSV(content)
	if err != nil {
		return Result{}, &DomainError{Message: fmt.Sprintf("CSV inválido: %v", err), Code: CodeInvalidCSV}
	}

	values := make([][]string, len(records))
	for i, r := range records {
		values[i] = r.values
	}

	headerPos := findHeader(values, e.fields)
	if headerPos < 0 {
		missing := MissingColumns(MakeHeaderIndex(firstNonEmpty(values)), e.fields)
		return Result{}, &DomainError{
			Message: "Faltan columnas obligatorias: " + strings.Join(missing, ", "),
			Code:    CodeMissingColumns,
		}
	}

	idx := MakeHeaderIndex(values[headerPos])

	var rows []csvRecord
	for _, r := range records[headerPos+1:] {
		if !isEmptyRow(r.values) {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return Result{}, &DomainError{Message: "CSV inválido: no contiene filas de datos", Code: CodeEmptyCSV}
	}

	res := Result{Total: len(rows)}
	seen := make(map[string]int, len(rows))

	fail := func(line int, sku string, code string, msg string) {
		res.Failed++
		res.TotalErrors++
		if len(res.Errors) < e.errorSample {
			res.Errors = append(res.Errors, job.RowError{Row: line, Error: msg, Code: code, SKU: sku})
		}
	}

	for i, row := range rows {
		if i%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return res, fmt.Errorf("import interrupted at row %d: %w", row.line, err)
			}
		}

		sku := cell(row.values, idx, "sku")

		p, err := buildProduct(row.values, idx, e.fields, usuario)
		var issue rowIssue
		switch {
		case errors.As(err, &issue):
			fail(row.line, sku, issue.code, issue.msg)
		case err != nil:
			fail(row.line, sku, CodeInvalidType, err.Error())
		default:
			key := strings.ToUpper(p.SKU)
			if first, dup := seen[key]; dup {
				fail(row.line, sku, CodeDuplicateSKU, fmt.Sprintf("SKU repetido, ya aparece en la fila %d", first))
				break
			}
			seen[key] = row.line

			if err := e.store.UpsertProduct(ctx, p); err != nil {
				e.logger.Debug("product upsert failed", "sku", p.SKU, "fila", row.line, "error", err)
				fail(row.line, sku, CodeStoreFailed, "no se pudo guardar el producto")
				break
			}
			res.Succeeded++
		}

		processed := i + 1
		if processed%e.progressEvery == 0 || processed == len(rows) {
			progress(processed, res.Total, res.Succeeded, res.Failed)
		}
	}

	return res, nil
}

// csvRecord is a parsed record with the file line it starts on.
type csvRecord struct {
	line   int
	values []string
}

// parseCSV reads every record, picking ';' as the delimiter when the first
// line uses it more than ','.
func parseCSV(content string) ([]csvRecord, error) {
	r := csv.NewReader(strings.NewReader(content))
	r.Comma = detectDelimiter(content)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var records []csvRecord
	for {
		values, err := r.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		line, _ := r.FieldPos(0)
		records = append(records, csvRecord{line: line, values: values})
	}
}

func detectDelimiter(content string) rune {
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.Count(line, ";") > strings.Count(line, ",") {
			return ';'
		}
		return ','
	}
	return ','
}
