// Package job defines the import job record: the single source of truth for
// the status and progress of one bulk CSV import attempt.
//
// A job moves EN_COLA -> PROCESANDO -> {COMPLETADO, FALLIDO}. Only the worker
// that received the job's message mutates it during a run; the record is never
// deleted here. Returning a failed job to the queue is an explicit, bounded
// decision made through Retry.
package job

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrNotFound is returned by repositories when no job has the given id.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status change would move a job
	// backwards or skip a state.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrRetryNotAllowed is returned by Retry when the job is not failed or has
	// exhausted its retries.
	ErrRetryNotAllowed = errors.New("job cannot be retried")

	// ErrConflict is returned by Repository.UpdateIfStatus when the stored
	// job left the expected status or attempt in the meantime.
	ErrConflict = errors.New("job changed concurrently")
)

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

// Job is one submitted import.
type Job struct {
	ID            string         `json:"id"`
	FileName      string         `json:"nombre_archivo"`
	LocalPath     string         `json:"local_path,omitempty"`
	RemoteKey     string         `json:"remote_key,omitempty"`
	SubmittedBy   string         `json:"usuario_registro"`
	Status        Status         `json:"estado"`
	TotalRows     int            `json:"total_filas"`
	ProcessedRows int            `json:"filas_procesadas"`
	Succeeded     int            `json:"exitosos"`
	Failed        int            `json:"fallidos"`
	Progress      float64        `json:"progreso"`
	ErrorDetails  *ErrorSummary  `json:"detalles_errores,omitempty"`
	ErrorMessage  string         `json:"mensaje_error,omitempty"`
	ExtraMetadata map[string]any `json:"extra_metadata,omitempty"`
	Retries       int            `json:"reintentos"`
	CreatedAt     time.Time      `json:"fecha_creacion"`
	StartedAt     *time.Time     `json:"fecha_inicio_proceso,omitempty"`
	FinishedAt    *time.Time     `json:"fecha_finalizacion,omitempty"`
	UpdatedAt     time.Time      `json:"fecha_actualizacion"`
}

// New creates a job in EN_COLA. totalRows may be zero when the row count is
// unknown at submission time.
func New(id, fileName, submittedBy string, totalRows int) *Job {
	ts := now()
	if totalRows < 0 {
		totalRows = 0
	}
	return &Job{
		ID:          id,
		FileName:    fileName,
		SubmittedBy: submittedBy,
		Status:      StatusQueued,
		TotalRows:   totalRows,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
}

// IsTerminal reports whether the job is COMPLETADO or FALLIDO.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// CanRetry reports whether the job is FALLIDO and has retries left under maxRetries.
func (j *Job) CanRetry(maxRetries int) bool {
	return j.Status == StatusFailed && j.Retries < maxRetries
}

// MarkProcessing starts the run of a queued job.
func (j *Job) MarkProcessing() error {
	if err := j.transition(StatusProcessing); err != nil {
		return err
	}
	j.startRun()
	return nil
}

// Reclaim restarts a run left in PROCESANDO by a worker that stopped
// mid-import. Counters of the abandoned run are cleared so progress is
// monotonic within the new one.
func (j *Job) Reclaim() error {
	if j.Status != StatusProcessing {
		return fmt.Errorf("%w: reclaim from %s", ErrInvalidTransition, j.Status)
	}
	j.startRun()
	return nil
}

func (j *Job) startRun() {
	ts := now()
	j.StartedAt = &ts
	j.ProcessedRows, j.Succeeded, j.Failed = 0, 0, 0
	j.Progress = 0
	j.UpdatedAt = ts
}

// SetTotalRows records the row count, typically corrected by the engine once
// it has parsed the file. Non-positive values are ignored.
func (j *Job) SetTotalRows(n int) {
	if n <= 0 {
		return
	}
	j.TotalRows = n
	j.UpdatedAt = now()
}

// maxLiveProgress keeps 100 reserved for COMPLETADO.
const maxLiveProgress = 99.99

// UpdateProgress records live counters and recomputes Progress. The status is
// left untouched.
func (j *Job) UpdateProgress(processed, succeeded, failed int) {
	j.ProcessedRows = processed
	j.Succeeded = succeeded
	j.Failed = failed

	if j.TotalRows > 0 {
		p := math.Min(round2(float64(processed)/float64(j.TotalRows)*100), maxLiveProgress)
		if p > j.Progress {
			j.Progress = p
		}
	}
	j.UpdatedAt = now()
}

// SetErrorDetails stores the bounded summary of row-level errors.
func (j *Job) SetErrorDetails(errs []RowError, total int) {
	s := Summarize(errs, total)
	j.ErrorDetails = &s
	j.UpdatedAt = now()
}

// MarkCompleted finishes the run successfully. Progress is forced to 100 and
// message, when not empty, is kept in ExtraMetadata["mensaje"].
func (j *Job) MarkCompleted(message string) error {
	if err := j.transition(StatusCompleted); err != nil {
		return err
	}
	ts := now()
	j.Progress = 100
	j.FinishedAt = &ts
	j.ErrorMessage = ""
	if message != "" {
		j.setExtra("mensaje", message)
	}
	j.UpdatedAt = ts
	return nil
}

// MarkFailed finishes the run with an explanation for pollers.
func (j *Job) MarkFailed(message string) error {
	if err := j.transition(StatusFailed); err != nil {
		return err
	}
	ts := now()
	j.FinishedAt = &ts
	j.ErrorMessage = message
	j.UpdatedAt = ts
	return nil
}

// Retry returns a failed job to EN_COLA when CanRetry(maxRetries) holds. Counters
// and timestamps of the failed run are cleared and Retries is incremented.
func (j *Job) Retry(maxRetries int) error {
	if !j.CanRetry(maxRetries) {
		return fmt.Errorf("%w: estado=%s reintentos=%d max=%d", ErrRetryNotAllowed, j.Status, j.Retries, maxRetries)
	}
	j.Status = StatusQueued
	j.Retries++
	j.ProcessedRows, j.Succeeded, j.Failed = 0, 0, 0
	j.Progress = 0
	j.ErrorDetails = nil
	j.ErrorMessage = ""
	j.StartedAt = nil
	j.FinishedAt = nil
	j.UpdatedAt = now()
	return nil
}

// ToMap serializes the job for API responses. detalles_errores is present
// only when includeErrors is true, and then always capped.
func (j *Job) ToMap(includeErrors bool) map[string]any {
	m := map[string]any{
		"id":                   j.ID,
		"nombre_archivo":       j.FileName,
		"local_path":           nullable(j.LocalPath),
		"remote_key":           nullable(j.RemoteKey),
		"usuario_registro":     j.SubmittedBy,
		"estado":               string(j.Status),
		"total_filas":          j.TotalRows,
		"filas_procesadas":     j.ProcessedRows,
		"exitosos":             j.Succeeded,
		"fallidos":             j.Failed,
		"progreso":             j.Progress,
		"mensaje_error":        nullable(j.ErrorMessage),
		"extra_metadata":       j.ExtraMetadata,
		"reintentos":           j.Retries,
		"es_terminal":          j.IsTerminal(),
		"fecha_creacion":       formatTime(&j.CreatedAt),
		"fecha_inicio_proceso": formatTime(j.StartedAt),
		"fecha_finalizacion":   formatTime(j.FinishedAt),
		"fecha_actualizacion":  formatTime(&j.UpdatedAt),
	}

	if includeErrors {
		summary := ErrorSummary{Errors: []RowError{}}
		if j.ErrorDetails != nil {
			summary = j.ErrorDetails.Capped()
		}
		m["detalles_errores"] = summary
	}
	return m
}

func (j *Job) transition(to Status) error {
	if !canTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	return nil
}

func (j *Job) setExtra(key string, value any) {
	if j.ExtraMetadata == nil {
		j.ExtraMetadata = make(map[string]any)
	}
	j.ExtraMetadata[key] = value
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}
