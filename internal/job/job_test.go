package job

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t *testing.T) {
	t.Helper()
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	orig := now
	now = func() time.Time { return base }
	t.Cleanup(func() { now = orig })
}

func processingJob(t *testing.T, total int) *Job {
	t.Helper()
	j := New("job-1", "productos.csv", "ana", total)
	require.NoError(t, j.MarkProcessing())
	return j
}

func rowErrors(n int) []RowError {
	errs := make([]RowError, n)
	for i := range errs {
		errs[i] = RowError{Row: i + 2, Error: "precio inválido", Code: "VAL002", SKU: fmt.Sprintf("SKU-%d", i)}
	}
	return errs
}

func TestNew_StartsQueued(t *testing.T) {
	fixedClock(t)
	j := New("job-1", "productos.csv", "ana", 25)

	assert.Equal(t, StatusQueued, j.Status)
	assert.Equal(t, 25, j.TotalRows)
	assert.Zero(t, j.Progress)
	assert.False(t, j.IsTerminal())
	assert.Nil(t, j.StartedAt)
	assert.Equal(t, j.CreatedAt, j.UpdatedAt)
}

func TestMarkProcessing_StampsStart(t *testing.T) {
	fixedClock(t)
	j := processingJob(t, 10)

	assert.Equal(t, StatusProcessing, j.Status)
	require.NotNil(t, j.StartedAt)
	assert.Equal(t, now(), *j.StartedAt)
}

func TestMarkProcessing_OnlyFromQueued(t *testing.T) {
	j := processingJob(t, 10)
	j.UpdateProgress(5, 4, 1)

	assert.ErrorIs(t, j.MarkProcessing(), ErrInvalidTransition)
	assert.Equal(t, 5, j.ProcessedRows, "a rejected start leaves the live run alone")
	assert.Equal(t, 50.0, j.Progress)
}

func TestReclaim_RestartsAbandonedRun(t *testing.T) {
	j := processingJob(t, 10)
	j.UpdateProgress(5, 4, 1)

	require.NoError(t, j.Reclaim())
	assert.Equal(t, StatusProcessing, j.Status)
	assert.Zero(t, j.ProcessedRows)
	assert.Zero(t, j.Succeeded)
	assert.Zero(t, j.Failed)
	assert.Zero(t, j.Progress)
	require.NotNil(t, j.StartedAt)
}

func TestReclaim_RequiresProcessing(t *testing.T) {
	queued := New("j", "f.csv", "u", 0)
	assert.ErrorIs(t, queued.Reclaim(), ErrInvalidTransition)

	done := processingJob(t, 1)
	require.NoError(t, done.MarkCompleted(""))
	assert.ErrorIs(t, done.Reclaim(), ErrInvalidTransition)
	assert.Equal(t, StatusCompleted, done.Status)
}

func TestUpdateProgress(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		processed int
		want      float64
	}{
		{"one third", 3, 1, 33.33},
		{"half", 200, 100, 50},
		{"two thirds", 3, 2, 66.67},
		{"small fraction", 7, 1, 14.29},
		{"unknown total", 0, 40, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := processingJob(t, tt.total)
			j.UpdateProgress(tt.processed, tt.processed, 0)

			assert.Equal(t, tt.want, j.Progress)
			assert.Equal(t, StatusProcessing, j.Status)
			assert.Equal(t, tt.processed, j.ProcessedRows)
		})
	}
}

func TestUpdateProgress_NeverDecreases(t *testing.T) {
	j := processingJob(t, 10)
	j.UpdateProgress(6, 6, 0)
	j.SetTotalRows(100)
	j.UpdateProgress(7, 7, 0)

	assert.Equal(t, 60.0, j.Progress)
	assert.Equal(t, 7, j.ProcessedRows)
}

// While the job is live, processed == total rounds to 100 but is held at
// 99.99: progreso is 100 exactly when the job is COMPLETADO.
func TestUpdateProgress_HundredReservedForCompletion(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		processed int
		live      float64
	}{
		{"all rows processed is capped", 4, 4, 99.99},
		{"rounds up to 100 is capped", 100000, 99999, 99.99},
		{"more rows than announced is capped", 4, 6, 99.99},
		{"just below the cap is kept", 10000, 9998, 99.98},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := processingJob(t, tt.total)
			j.UpdateProgress(tt.processed, tt.processed, 0)
			assert.Equal(t, tt.live, j.Progress)

			require.NoError(t, j.MarkCompleted(""))
			assert.Equal(t, 100.0, j.Progress)
		})
	}
}

func TestMarkCompleted(t *testing.T) {
	fixedClock(t)
	j := processingJob(t, 0)

	require.NoError(t, j.MarkCompleted("Importación finalizada"))

	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, 100.0, j.Progress)
	assert.True(t, j.IsTerminal())
	require.NotNil(t, j.FinishedAt)
	assert.Equal(t, "Importación finalizada", j.ExtraMetadata["mensaje"])
}

func TestMarkFailed(t *testing.T) {
	j := processingJob(t, 10)

	require.NoError(t, j.MarkFailed("archivo no encontrado"))

	assert.Equal(t, StatusFailed, j.Status)
	assert.Equal(t, "archivo no encontrado", j.ErrorMessage)
	assert.True(t, j.IsTerminal())
	assert.NotNil(t, j.FinishedAt)
}

func TestTransitions_NoBackwardMoves(t *testing.T) {
	queued := New("j", "f.csv", "u", 0)
	assert.ErrorIs(t, queued.MarkCompleted(""), ErrInvalidTransition)
	assert.ErrorIs(t, queued.MarkFailed("x"), ErrInvalidTransition)

	done := processingJob(t, 1)
	require.NoError(t, done.MarkCompleted(""))
	assert.ErrorIs(t, done.MarkProcessing(), ErrInvalidTransition)
	assert.ErrorIs(t, done.MarkFailed("x"), ErrInvalidTransition)
	assert.Equal(t, StatusCompleted, done.Status)

	failed := processingJob(t, 1)
	require.NoError(t, failed.MarkFailed("boom"))
	assert.ErrorIs(t, failed.MarkProcessing(), ErrInvalidTransition)
	assert.ErrorIs(t, failed.MarkCompleted(""), ErrInvalidTransition)
	assert.Equal(t, StatusFailed, failed.Status)
}

func TestCanRetry(t *testing.T) {
	j := processingJob(t, 1)
	assert.False(t, j.CanRetry(3), "processing job is not retryable")

	require.NoError(t, j.MarkFailed("boom"))
	assert.True(t, j.CanRetry(3))

	j.Retries = 3
	assert.False(t, j.CanRetry(3))
	assert.False(t, j.CanRetry(0))
}

func TestRetry(t *testing.T) {
	j := processingJob(t, 10)
	j.UpdateProgress(5, 3, 2)
	j.SetErrorDetails(rowErrors(2), 2)
	require.NoError(t, j.MarkFailed("boom"))

	require.NoError(t, j.Retry(2))
	assert.Equal(t, StatusQueued, j.Status)
	assert.Equal(t, 1, j.Retries)
	assert.Zero(t, j.ProcessedRows)
	assert.Empty(t, j.ErrorMessage)
	assert.Nil(t, j.ErrorDetails)
	assert.Nil(t, j.FinishedAt)

	require.NoError(t, j.MarkProcessing())
	require.NoError(t, j.MarkFailed("boom again"))
	require.NoError(t, j.Retry(2))

	require.NoError(t, j.MarkProcessing())
	require.NoError(t, j.MarkFailed("third"))
	assert.ErrorIs(t, j.Retry(2), ErrRetryNotAllowed)
	assert.Equal(t, StatusFailed, j.Status)
}

func TestToMap_OmitsErrorsByDefault(t *testing.T) {
	j := processingJob(t, 20)
	j.SetErrorDetails(rowErrors(3), 3)

	m := j.ToMap(false)

	_, ok := m["detalles_errores"]
	assert.False(t, ok)
	assert.Equal(t, "PROCESANDO", m["estado"])
	assert.Equal(t, "job-1", m["id"])
	assert.Nil(t, m["mensaje_error"])
}

func TestToMap_IncludesCappedErrors(t *testing.T) {
	j := processingJob(t, 20)
	j.ErrorDetails = &ErrorSummary{Errors: rowErrors(15), Total: 15, Captured: 15}

	m := j.ToMap(true)

	summary, ok := m["detalles_errores"].(ErrorSummary)
	require.True(t, ok)
	assert.Len(t, summary.Errors, MaxStoredErrors)
	assert.Equal(t, 15, summary.Total)
	assert.Equal(t, 10, summary.Captured)
	assert.NotEmpty(t, summary.Note)
}

func TestToMap_IncludeErrorsWithoutDetails(t *testing.T) {
	j := processingJob(t, 1)

	summary, ok := j.ToMap(true)["detalles_errores"].(ErrorSummary)
	require.True(t, ok)
	assert.Empty(t, summary.Errors)
	assert.Zero(t, summary.Total)
	assert.Empty(t, summary.Note)
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name         string
		errs         int
		total        int
		wantLen      int
		wantTotal    int
		wantCaptured int
		wantNote     bool
	}{
		{"none", 0, 0, 0, 0, 0, false},
		{"under cap", 3, 3, 3, 3, 3, false},
		{"exactly cap", 10, 10, 10, 10, 10, false},
		{"over cap", 15, 15, 10, 15, 10, true},
		{"engine already truncated", 5, 40, 5, 40, 5, true},
		{"total smaller than list", 12, 0, 10, 12, 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarize(rowErrors(tt.errs), tt.total)

			assert.Len(t, s.Errors, tt.wantLen)
			assert.Equal(t, tt.wantTotal, s.Total)
			assert.Equal(t, tt.wantCaptured, s.Captured)
			assert.Equal(t, tt.wantNote, s.Note != "")
			assert.NotNil(t, s.Errors)
		})
	}
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusQueued.Valid())
	assert.False(t, Status("DESCONOCIDO").Valid())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}
