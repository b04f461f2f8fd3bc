// Package worker turns queued import envelopes into finished jobs.
//
// One Worker handles one message at a time. For each message it resolves the
// job, moves it to PROCESANDO, loads the file from local staging or object
// storage, runs the import engine with a progress callback that keeps the job
// record current, and finishes the job as COMPLETADO or FALLIDO. Failures are
// recorded on the job and never returned to the caller.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/productimport/internal/engine"
	"github.com/JonMunkholm/productimport/internal/job"
	"github.com/JonMunkholm/productimport/internal/queue"
)

// Engine imports the content of one CSV file.
type Engine interface {
	Process(ctx context.Context, content, usuario string, progress engine.ProgressFunc) (engine.Result, error)
}

// Files reads locally staged uploads.
type Files interface {
	Read(path string) (string, error)
	Remove(path string) error
}

// ObjectStore downloads uploads kept in object storage.
type ObjectStore interface {
	Download(ctx context.Context, key string) (string, error)
}

// Deps are the collaborators of a Worker. Objects may be nil when only local
// staging is used. Acker defaults to Receiver when it implements
// queue.Acknowledger.
type Deps struct {
	Jobs     job.Repository
	Engine   Engine
	Files    Files
	Objects  ObjectStore
	Receiver queue.Receiver
	Acker    queue.Acknowledger
	Logger   *slog.Logger
}

// Config tunes a Worker.
type Config struct {
	// VisibilityTimeout is the window requested on each visibility extension.
	VisibilityTimeout time.Duration

	// ExtendInterval is the minimum time between two extensions of the same
	// delivery.
	ExtendInterval time.Duration

	// ErrorBackoff is the pause after a failed receive.
	ErrorBackoff time.Duration

	// KeepStaged leaves local files in place after a successful import.
	KeepStaged bool
}

// Worker processes import envelopes.
type Worker struct {
	jobs     job.Repository
	engine   Engine
	files    Files
	objects  ObjectStore
	receiver queue.Receiver
	acker    queue.Acknowledger
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New returns a Worker.
func New(deps Deps, cfg Config) *Worker {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Acker == nil {
		if a, ok := deps.Receiver.(queue.Acknowledger); ok {
			deps.Acker = a
		}
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 2 * time.Second
	}
	return &Worker{
		jobs:     deps.Jobs,
		engine:   deps.Engine,
		files:    deps.Files,
		objects:  deps.Objects,
		receiver: deps.Receiver,
		acker:    deps.Acker,
		cfg:      cfg,
		logger:   deps.Logger,
		now:      time.Now,
	}
}

// Run receives and processes messages until ctx is cancelled. Cancellation is
// only observed between messages: a started import always runs to a terminal
// state.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("import worker started")
	defer w.logger.Info("import worker stopped")

	for ctx.Err() == nil {
		d, err := w.receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("receive failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(w.cfg.ErrorBackoff):
			}
			continue
		}
		if d == nil {
			continue
		}

		w.ProcessMessage(context.WithoutCancel(ctx), d)
	}
	return nil
}

// ProcessMessage handles one delivery and reports whether its job reached
// COMPLETADO in this call.
func (w *Worker) ProcessMessage(ctx context.Context, d *queue.Delivery) bool {
	env, ok := queue.DecodeEnvelope(d.Body)
	if !ok {
		w.logger.Warn("discarding malformed envelope", "message_id", d.ID, "attempts", d.Attempts)
		return false
	}
	env.MessageID = d.ID
	env.Handle = d.Handle
	env.Attempts = d.Attempts

	return w.Process(ctx, env)
}

// Process drives the job referenced by env through one processing run.
//
// Only an EN_COLA job is started. A PROCESANDO job is restarted only for a
// pull redelivery, since its previous holder stopped without acknowledging;
// any other delivery of a started or finished job, or of an older attempt, is
// skipped. The start is a conditional write, so of two workers racing for
// the same job exactly one runs it.
func (w *Worker) Process(ctx context.Context, env *queue.Envelope) (completed bool) {
	logger := w.logger.With("job_id", env.JobID, "message_id", env.MessageID)

	j, err := w.jobs.Get(ctx, env.JobID)
	if errors.Is(err, job.ErrNotFound) {
		logger.Warn("discarding envelope for unknown job")
		return false
	}
	if err != nil {
		logger.Error("load job failed", "error", err)
		return false
	}

	if j.IsTerminal() {
		logger.Info("job already finished, skipping", "estado", j.Status)
		w.ack(ctx, env, logger)
		return false
	}
	if attempt := env.Retries(); attempt < j.Retries {
		logger.Info("envelope of a superseded attempt, skipping", "intento", attempt, "reintentos", j.Retries)
		w.ack(ctx, env, logger)
		return false
	}

	from := j.Status
	switch {
	case from == job.StatusQueued:
		err = j.MarkProcessing()
	case from == job.StatusProcessing && env.IsRedelivery():
		logger.Warn("reclaiming job left in PROCESANDO", "attempts", env.Attempts)
		err = j.Reclaim()
	default:
		logger.Info("job already being processed, skipping", "estado", j.Status)
		w.ack(ctx, env, logger)
		return false
	}
	if err != nil {
		logger.Error("cannot start job", "estado", j.Status, "error", err)
		return false
	}
	if n, ok := env.TotalRows(); ok {
		j.SetTotalRows(n)
	}
	err = w.jobs.UpdateIfStatus(ctx, j, from)
	if errors.Is(err, job.ErrConflict) {
		logger.Info("job claimed by another delivery, skipping")
		w.ack(ctx, env, logger)
		return false
	}
	if err != nil {
		logger.Error("persist PROCESANDO failed", "error", err)
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("import panicked", "panic", r)
			w.fail(ctx, j, fmt.Sprintf("Error inesperado: %v", r), logger)
			completed = false
		}
	}()

	usuario := env.Usuario
	if usuario == "" {
		usuario = j.SubmittedBy
	}
	logger = logger.With("usuario", usuario)
	logger.Info("import started", "intento", j.Retries+1, "remoto", env.IsRemote())

	content, err := w.fetch(ctx, env, j)
	if err != nil {
		logger.Error("source file unavailable", "error", err)
		w.fail(ctx, j, fmt.Sprintf("No se pudo leer el archivo: %v", err), logger)
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lost := false
	lastExtend := w.now()
	progress := func(processed, total, succeeded, failed int) {
		if lost {
			return
		}
		j.SetTotalRows(total)
		j.UpdateProgress(processed, succeeded, failed)
		switch err := w.save(ctx, j); {
		case errors.Is(err, job.ErrConflict):
			lost = true
			cancel()
			return
		case err != nil:
			logger.Warn("progress update failed", "error", err)
		}
		if w.now().Sub(lastExtend) >= w.cfg.ExtendInterval {
			w.extend(ctx, env, logger)
			lastExtend = w.now()
		}
	}

	res, err := w.engine.Process(runCtx, content, usuario, progress)
	if lost {
		logger.Warn("job changed by another delivery during import, discarding result")
		return false
	}

	var domainErr *engine.DomainError
	switch {
	case errors.As(err, &domainErr):
		logger.Warn("import rejected", "codigo", domainErr.Code, "error", domainErr.Message)
		w.fail(ctx, j, domainErr.JSON(), logger)
		return false
	case err != nil:
		logger.Error("import failed", "error", err)
		w.fail(ctx, j, fmt.Sprintf("Error inesperado: %v", err), logger)
		return false
	}

	j.SetTotalRows(res.Total)
	j.UpdateProgress(res.Succeeded+res.Failed, res.Succeeded, res.Failed)
	j.SetErrorDetails(res.Errors, res.TotalErrors)
	msg := fmt.Sprintf("Importación completada: %d exitosos, %d fallidos", res.Succeeded, res.Failed)
	if err := j.MarkCompleted(msg); err != nil {
		logger.Error("cannot complete job", "error", err)
		return false
	}
	if err := w.save(ctx, j); err != nil {
		logger.Error("persist COMPLETADO failed", "error", err)
		return false
	}

	w.ack(ctx, env, logger)
	w.cleanup(env, logger)

	logger.Info("import completed",
		"total_filas", j.TotalRows,
		"exitosos", res.Succeeded,
		"fallidos", res.Failed,
		"total_errores", j.ErrorDetails.Total,
	)
	return true
}

func (w *Worker) fetch(ctx context.Context, env *queue.Envelope, j *job.Job) (string, error) {
	if env.IsRemote() {
		if w.objects == nil {
			return "", errors.New("object storage not configured")
		}
		return w.objects.Download(ctx, env.RemoteKey)
	}

	path := env.LocalPath
	if path == "" {
		path = j.LocalPath
	}
	if path == "" {
		return "", errors.New("envelope has neither local_path nor remote_key")
	}
	return w.files.Read(path)
}

func (w *Worker) fail(ctx context.Context, j *job.Job, message string, logger *slog.Logger) {
	if err := j.MarkFailed(message); err != nil {
		logger.Error("cannot fail job", "estado", j.Status, "error", err)
		return
	}
	if err := w.save(ctx, j); err != nil {
		logger.Error("persist FALLIDO failed", "error", err)
	}
}

// save persists j only while this run still owns it: the stored job is in
// PROCESANDO on the same attempt.
func (w *Worker) save(ctx context.Context, j *job.Job) error {
	return w.jobs.UpdateIfStatus(ctx, j, job.StatusProcessing)
}

func (w *Worker) ack(ctx context.Context, env *queue.Envelope, logger *slog.Logger) {
	if w.acker == nil || env.Handle == "" {
		return
	}
	if err := w.acker.Ack(ctx, env.Handle); err != nil {
		logger.Warn("ack failed", "error", err)
	}
}

func (w *Worker) extend(ctx context.Context, env *queue.Envelope, logger *slog.Logger) {
	if w.acker == nil || env.Handle == "" {
		return
	}
	if err := w.acker.ExtendVisibility(ctx, env.Handle, w.cfg.VisibilityTimeout); err != nil {
		logger.Warn("extend visibility failed", "error", err)
	}
}

func (w *Worker) cleanup(env *queue.Envelope, logger *slog.Logger) {
	if w.cfg.KeepStaged || env.IsRemote() || env.LocalPath == "" || w.files == nil {
		return
	}
	if err := w.files.Remove(env.LocalPath); err != nil {
		logger.Warn("remove staged file failed", "path", env.LocalPath, "error", err)
	}
}

// ReportStale logs jobs left in PROCESANDO, typically by a worker that died
// mid-import, and returns how many there are. Their messages are redelivered
// by the transport; nothing is changed here.
func (w *Worker) ReportStale(ctx context.Context) (int, error) {
	stale, err := w.jobs.List(ctx, job.Filter{Status: job.StatusProcessing})
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}
	for _, j := range stale {
		w.logger.Warn("job left in PROCESANDO",
			"job_id", j.ID,
			"usuario", j.SubmittedBy,
			"fecha_actualizacion", j.UpdatedAt,
		)
	}
	return len(stale), nil
}
