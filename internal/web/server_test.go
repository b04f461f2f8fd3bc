package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/productimport/internal/job"
	"github.com/JonMunkholm/productimport/internal/platform/sqlite"
	"github.com/JonMunkholm/productimport/internal/queue"
	jobrepo "github.com/JonMunkholm/productimport/internal/repository/job"
	"github.com/JonMunkholm/productimport/internal/staging"
	"github.com/JonMunkholm/productimport/internal/storage"
)

type recordingSender struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (s *recordingSender) Send(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *recordingSender) envelopes(t *testing.T) []*queue.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*queue.Envelope, 0, len(s.payloads))
	for _, p := range s.payloads {
		env, ok := queue.DecodeEnvelope(p)
		require.True(t, ok)
		out = append(out, env)
	}
	return out
}

type testServer struct {
	srv       *Server
	jobs      *jobrepo.SQLite
	sender    *recordingSender
	stageDir  string
	bucketDir string
	limiter   *UploadLimiter
}

func newTestServer(t *testing.T, mutate func(*Deps, *Options)) *testServer {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ts := &testServer{
		jobs:      jobrepo.NewSQLite(db.DB),
		sender:    &recordingSender{},
		stageDir:  t.TempDir(),
		bucketDir: t.TempDir(),
		limiter:   NewUploadLimiter(2, 50*time.Millisecond),
	}

	deps := Deps{
		Jobs:     ts.jobs,
		Stager:   staging.New(ts.stageDir, 1024),
		Bucket:   storage.NewBucket(ts.bucketDir),
		Producer: queue.NewProducer(ts.sender, nil),
		Limiter:  ts.limiter,
		Checks: map[string]HealthCheck{
			"database": func(ctx context.Context) error { return db.PingContext(ctx) },
		},
	}
	opts := Options{MaxFileSize: 1024, MaxRetries: 3, KeyPrefix: "imports"}
	if mutate != nil {
		mutate(&deps, &opts)
	}
	ts.srv = NewServer(deps, opts)
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func uploadRequest(t *testing.T, fields map[string]string, fileName, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

const sampleCSV = "sku,nombre,precio\nA1,Gasas,10\nA2,Vendas,12\n"

func TestSubmit_StagesLocallyAndPublishes(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, body := ts.do(t, uploadRequest(t, map[string]string{"usuario": "ana", "total_filas": "2"}, "productos.csv", sampleCSV))
	require.Equal(t, http.StatusAccepted, rec.Code, body)
	assert.Equal(t, "EN_COLA", body["estado"])
	assert.Equal(t, "productos.csv", body["nombre_archivo"])
	assert.Equal(t, true, body["encolado"])

	id, _ := body["job_id"].(string)
	j, err := ts.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, j.Status)
	assert.Equal(t, "ana", j.SubmittedBy)
	assert.Equal(t, 2, j.TotalRows)
	require.NotEmpty(t, j.LocalPath)
	assert.True(t, strings.HasPrefix(j.LocalPath, ts.stageDir))

	staged, err := os.ReadFile(j.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, string(staged))

	envs := ts.sender.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, id, envs[0].JobID)
	assert.Equal(t, j.LocalPath, envs[0].LocalPath)
	assert.Equal(t, "ana", envs[0].Usuario)
	n, ok := envs[0].TotalRows()
	assert.True(t, ok)
	assert.Equal(t, 2, n)
}

func TestSubmit_RemoteStagingUsesBucket(t *testing.T) {
	ts := newTestServer(t, func(_ *Deps, o *Options) { o.RemoteStaging = true })

	rec, body := ts.do(t, uploadRequest(t, map[string]string{"usuario": "ana"}, "productos.csv", sampleCSV))
	require.Equal(t, http.StatusAccepted, rec.Code, body)

	j, err := ts.jobs.Get(context.Background(), body["job_id"].(string))
	require.NoError(t, err)
	assert.Empty(t, j.LocalPath)
	require.True(t, strings.HasPrefix(j.RemoteKey, "imports/"+j.ID+"/"), j.RemoteKey)

	content, err := storage.NewBucket(ts.bucketDir).Download(context.Background(), j.RemoteKey)
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, content)

	left, err := os.ReadDir(ts.stageDir)
	require.NoError(t, err)
	assert.Empty(t, left, "local copy is removed once the object is stored")

	envs := ts.sender.envelopes(t)
	require.Len(t, envs, 1)
	assert.True(t, envs[0].IsRemote())
	assert.Equal(t, j.RemoteKey, envs[0].RemoteKey)
}

func TestSubmit_AcceptedWhenPublishFails(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.sender.err = errors.New("dial tcp: connection refused")

	rec, body := ts.do(t, uploadRequest(t, map[string]string{"usuario": "ana"}, "productos.csv", sampleCSV))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, false, body["encolado"])

	j, err := ts.jobs.Get(context.Background(), body["job_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, j.Status)
}

func TestSubmit_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]string
		fileName string
		content  string
		status   int
		code     string
	}{
		{"missing usuario", map[string]string{}, "p.csv", sampleCSV, http.StatusBadRequest, "IMP004"},
		{"bad total_filas", map[string]string{"usuario": "ana", "total_filas": "-1"}, "p.csv", sampleCSV, http.StatusBadRequest, "IMP005"},
		{"no file", map[string]string{"usuario": "ana"}, "", "", http.StatusBadRequest, "FILE003"},
		{"empty file", map[string]string{"usuario": "ana"}, "p.csv", "", http.StatusBadRequest, "FILE002"},
		{"file too large", map[string]string{"usuario": "ana"}, "p.csv", strings.Repeat("x", 2048), http.StatusRequestEntityTooLarge, "FILE001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)

			rec, body := ts.do(t, uploadRequest(t, tt.fields, tt.fileName, tt.content))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, body["codigo"])
			assert.NotEmpty(t, body["error"])

			jobs, err := ts.jobs.List(context.Background(), job.Filter{})
			require.NoError(t, err)
			assert.Empty(t, jobs)
			assert.Empty(t, ts.sender.envelopes(t))
		})
	}
}

func TestSubmit_BusyWhenNoUploadSlot(t *testing.T) {
	ts := newTestServer(t, func(d *Deps, _ *Options) { d.Limiter = NewUploadLimiter(1, 10*time.Millisecond) })
	require.NoError(t, ts.srv.limiter.Acquire(context.Background()))
	defer ts.srv.limiter.Release()

	rec, body := ts.do(t, uploadRequest(t, map[string]string{"usuario": "ana"}, "p.csv", sampleCSV))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "UPL001", body["codigo"])
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func seedJob(t *testing.T, ts *testServer, id string, finish func(*job.Job)) *job.Job {
	t.Helper()
	j := job.New(id, "productos.csv", "ana", 20)
	j.LocalPath = "/staging/" + id + ".csv"
	if finish != nil {
		require.NoError(t, j.MarkProcessing())
		finish(j)
	}
	require.NoError(t, ts.jobs.Create(context.Background(), j))
	return j
}

func fail(t *testing.T) func(*job.Job) {
	return func(j *job.Job) { require.NoError(t, j.MarkFailed(`{"error":"CSV inválido","codigo":"CSV_VACIO"}`)) }
}

func TestGet(t *testing.T) {
	ts := newTestServer(t, nil)
	seedJob(t, ts, "job-1", func(j *job.Job) {
		j.UpdateProgress(20, 5, 15)
		errs := make([]job.RowError, 15)
		for i := range errs {
			errs[i] = job.RowError{Row: i + 2, Error: "precio inválido", Code: "TIPO_INVALIDO"}
		}
		j.SetErrorDetails(errs, 15)
		require.NoError(t, j.MarkCompleted("Importación completada: 5 exitosos, 15 fallidos"))
	})

	rec, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/imports/job-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "COMPLETADO", body["estado"])
	assert.Equal(t, 100.0, body["progreso"])
	assert.Equal(t, true, body["es_terminal"])
	assert.NotContains(t, body, "detalles_errores")

	rec, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/imports/job-1?include_errors=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	details, ok := body["detalles_errores"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, details["errores"], job.MaxStoredErrors)
	assert.Equal(t, 15.0, details["total_errores"])
}

func TestGet_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/imports/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "IMP001", body["codigo"])
}

func TestList(t *testing.T) {
	ts := newTestServer(t, nil)
	seedJob(t, ts, "job-1", nil)
	seedJob(t, ts, "job-2", fail(t))

	rec, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/imports?estado=fallido", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["total"])
	items := body["importaciones"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "job-2", items[0].(map[string]any)["id"])

	rec, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/imports?usuario=ana&limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["total"])

	rec, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/imports?estado=LISTO", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "IMP005", body["codigo"])

	rec, _ = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/imports?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetry(t *testing.T) {
	ts := newTestServer(t, nil)
	seedJob(t, ts, "job-1", fail(t))

	rec, body := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/imports/job-1/retry", nil))
	require.Equal(t, http.StatusAccepted, rec.Code, body)
	assert.Equal(t, "EN_COLA", body["estado"])
	assert.Equal(t, 1.0, body["reintentos"])
	assert.Equal(t, true, body["encolado"])

	j, err := ts.jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, j.Status)
	assert.Equal(t, 1, j.Retries)
	assert.Empty(t, j.ErrorMessage)

	envs := ts.sender.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, "job-1", envs[0].JobID)
	assert.Equal(t, "/staging/job-1.csv", envs[0].LocalPath)
	assert.Equal(t, 1, envs[0].Retries(), "the envelope names the attempt it was published for")
}

func TestRetry_Refused(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*job.Job)
		max    int
		status int
		code   string
	}{
		{"completed job", func(j *job.Job) { _ = j.MarkCompleted("") }, 3, http.StatusConflict, "IMP002"},
		{"retries exhausted", func(j *job.Job) { _ = j.MarkFailed("x") }, 0, http.StatusConflict, "IMP002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, func(_ *Deps, o *Options) { o.MaxRetries = tt.max })
			seedJob(t, ts, "job-1", tt.setup)

			rec, body := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/imports/job-1/retry", nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, body["codigo"])
			assert.Empty(t, ts.sender.envelopes(t))
		})
	}

	t.Run("unknown job", func(t *testing.T) {
		ts := newTestServer(t, nil)
		rec, body := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/imports/nope/retry", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "IMP001", body["codigo"])
	})
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["estado"])
	assert.Equal(t, map[string]any{"database": "ok"}, body["checks"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	ts = newTestServer(t, func(d *Deps, _ *Options) {
		d.Checks["redis"] = func(context.Context) error { return errors.New("ping redis: dial tcp: connection refused") }
	})
	rec, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degradado", body["estado"])
	assert.Equal(t, "QUE001", body["checks"].(map[string]any)["redis"])
}
