package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/productimport/internal/job"
	"github.com/JonMunkholm/productimport/internal/logging"
	"github.com/JonMunkholm/productimport/internal/staging"
)

// multipartOverhead is the allowance for form fields and part headers on
// top of the file itself.
const multipartOverhead = 1 << 20

// handleSubmit stages the uploaded CSV, creates its job in EN_COLA and
// publishes the envelope. The job is accepted even when publishing fails.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.opts.MaxFileSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxFileSize+multipartOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("%w: %v", staging.ErrFileTooLarge, err), http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, r, fmt.Errorf("parse form: %w", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	usuario := strings.TrimSpace(r.FormValue("usuario"))
	if usuario == "" {
		respondError(w, r, errMissingUsuario, http.StatusBadRequest)
		return
	}

	totalRows := 0
	if raw := strings.TrimSpace(r.FormValue("total_filas")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, r, fmt.Errorf("invalid total_filas %q", raw), http.StatusBadRequest)
			return
		}
		totalRows = n
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, errNoFile, http.StatusBadRequest)
		return
	}
	defer file.Close()

	if err := s.limiter.Acquire(r.Context()); err != nil {
		if errors.Is(err, ErrTooManyUploads) {
			w.Header().Set("Retry-After", "30")
		}
		respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}
	defer s.limiter.Release()

	stagedPath, fileName, err := s.stager.Save(staging.FromReader(header.Filename, file), usuario)
	switch {
	case errors.Is(err, staging.ErrFileTooLarge):
		respondError(w, r, err, http.StatusRequestEntityTooLarge)
		return
	case errors.Is(err, staging.ErrEmptySource):
		respondError(w, r, err, http.StatusBadRequest)
		return
	case err != nil:
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	j := job.New(uuid.NewString(), fileName, usuario, totalRows)
	logger := logging.WithFields(r.Context(), "job_id", j.ID, "usuario", usuario)

	if s.opts.RemoteStaging {
		key, err := s.moveToBucket(r.Context(), j.ID, stagedPath)
		if err != nil {
			respondError(w, r, err, http.StatusInternalServerError)
			return
		}
		j.RemoteKey = key
	} else {
		j.LocalPath = stagedPath
	}

	if err := s.jobs.Create(r.Context(), j); err != nil {
		s.discard(j, logger)
		respondError(w, r, fmt.Errorf("create job: %w", err), http.StatusInternalServerError)
		return
	}

	published := s.publish(r.Context(), j)
	logger.Info("import submitted",
		"nombre_archivo", j.FileName,
		"total_filas", totalRows,
		"remoto", j.RemoteKey != "",
		"encolado", published,
	)

	writeJSON(w, r, http.StatusAccepted, map[string]any{
		"job_id":         j.ID,
		"estado":         string(j.Status),
		"nombre_archivo": j.FileName,
		"encolado":       published,
	})
}

// moveToBucket uploads a staged file under {prefix}/{jobID}/{name} and
// removes the local copy.
func (s *Server) moveToBucket(ctx context.Context, jobID, stagedPath string) (string, error) {
	if s.bucket == nil {
		_ = s.stager.Remove(stagedPath)
		return "", errors.New("put object: object storage not configured")
	}
	defer func() { _ = s.stager.Remove(stagedPath) }()

	f, err := os.Open(stagedPath)
	if err != nil {
		return "", fmt.Errorf("open staged file: %w", err)
	}
	defer f.Close()

	key := path.Join(s.opts.KeyPrefix, jobID, filepath.Base(stagedPath))
	if err := s.bucket.Put(ctx, key, f); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

// discard removes the file of a job that could not be created.
func (s *Server) discard(j *job.Job, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if j.RemoteKey != "" && s.bucket != nil {
		err = s.bucket.Delete(ctx, j.RemoteKey)
	} else if j.LocalPath != "" {
		err = s.stager.Remove(j.LocalPath)
	}
	if err != nil {
		logger.Warn("discard upload failed", "error", err)
	}
}

func (s *Server) publish(ctx context.Context, j *job.Job) bool {
	metadata := map[string]any{}
	if j.TotalRows > 0 {
		metadata["total_filas"] = j.TotalRows
	}
	if j.Retries > 0 {
		metadata["reintentos"] = j.Retries
	}
	if j.RemoteKey != "" {
		return s.producer.PublishRemote(ctx, j.ID, j.RemoteKey, j.FileName, j.SubmittedBy, metadata)
	}
	return s.producer.Publish(ctx, j.ID, j.LocalPath, j.FileName, j.SubmittedBy, metadata)
}

// handleGet returns one job. ?include_errors=true adds detalles_errores.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	includeErrors, _ := strconv.ParseBool(r.URL.Query().Get("include_errors"))

	j, err := s.jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	writeJSON(w, r, http.StatusOK, j.ToMap(includeErrors))
}

// handleList returns recent jobs, newest first, filtered by estado and usuario.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f job.Filter

	if raw := q.Get("estado"); raw != "" {
		st := job.Status(strings.ToUpper(raw))
		if !st.Valid() {
			respondError(w, r, fmt.Errorf("invalid estado %q", raw), http.StatusBadRequest)
			return
		}
		f.Status = st
	}
	f.SubmittedBy = strings.TrimSpace(q.Get("usuario"))
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, r, fmt.Errorf("invalid limit %q", raw), http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	jobs, err := s.jobs.List(r.Context(), f)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	items := make([]map[string]any, len(jobs))
	for i := range jobs {
		items[i] = jobs[i].ToMap(false)
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"importaciones": items,
		"total":         len(items),
	})
}

// handleRetry returns a FALLIDO job with retries left to EN_COLA and
// publishes it again.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	if err := j.Retry(s.opts.MaxRetries); err != nil {
		respondError(w, r, err, http.StatusConflict)
		return
	}
	if err := s.jobs.Update(r.Context(), j); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	published := s.publish(r.Context(), j)
	logging.WithFields(r.Context(), "job_id", j.ID).Info("import requeued",
		"reintentos", j.Retries,
		"encolado", published,
	)

	writeJSON(w, r, http.StatusAccepted, map[string]any{
		"job_id":     j.ID,
		"estado":     string(j.Status),
		"reintentos": j.Retries,
		"encolado":   published,
	})
}

// handleHealth pings every dependency. Any failure answers 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("health check failed", "check", name, "error", err)
			checks[name] = MapError(err).Code
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	estado := "ok"
	if status != http.StatusOK {
		estado = "degradado"
	}
	writeJSON(w, r, status, map[string]any{
		"estado": estado,
		"checks": checks,
		"cargas": s.limiter.Status(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, job.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, job.ErrRetryNotAllowed), errors.Is(err, job.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
