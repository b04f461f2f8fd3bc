package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/JonMunkholm/productimport/internal/job"
)

// timeFormat has fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite is a domain.Repository backed by database/sql and modernc sqlite.
type SQLite struct {
	db *sql.DB
}

// NewSQLite returns a repository over an opened and migrated database.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (r *SQLite) Create(ctx context.Context, j *domain.Job) error {
	details, metadata, err := encodeBlobs(j)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO import_jobs (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.FileName, nullString(j.LocalPath), nullString(j.RemoteKey), j.SubmittedBy, string(j.Status),
		j.TotalRows, j.ProcessedRows, j.Succeeded, j.Failed, j.Progress,
		details, nullString(j.ErrorMessage), metadata, j.Retries,
		formatTime(&j.CreatedAt), formatTime(j.StartedAt), formatTime(j.FinishedAt), formatTime(&j.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (r *SQLite) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM import_jobs WHERE id = ?`, id)

	j, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (r *SQLite) Update(ctx context.Context, j *domain.Job) error {
	n, err := r.update(ctx, j, "")
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, j.ID)
	}
	return nil
}

func (r *SQLite) UpdateIfStatus(ctx context.Context, j *domain.Job, from domain.Status) error {
	n, err := r.update(ctx, j, " AND estado = ? AND reintentos = ?", string(from), j.Retries)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM import_jobs WHERE id = ?`, j.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, j.ID)
	}
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return fmt.Errorf("%w: %s is no longer %s", domain.ErrConflict, j.ID, from)
}

// update writes every mutable column of j. cond narrows the WHERE clause and
// its placeholders are bound from condArgs.
func (r *SQLite) update(ctx context.Context, j *domain.Job, cond string, condArgs ...any) (int64, error) {
	details, metadata, err := encodeBlobs(j)
	if err != nil {
		return 0, err
	}

	args := []any{
		string(j.Status), j.TotalRows, j.ProcessedRows, j.Succeeded, j.Failed, j.Progress,
		details, nullString(j.ErrorMessage), metadata, j.Retries,
		formatTime(j.StartedAt), formatTime(j.FinishedAt), formatTime(&j.UpdatedAt),
		j.ID,
	}
	res, err := r.db.ExecContext(ctx, `UPDATE import_jobs SET
		estado = ?, total_filas = ?, filas_procesadas = ?, exitosos = ?, fallidos = ?, progreso = ?,
		detalles_errores = ?, mensaje_error = ?, extra_metadata = ?, reintentos = ?,
		fecha_inicio_proceso = ?, fecha_finalizacion = ?, fecha_actualizacion = ?
		WHERE id = ?`+cond,
		append(args, condArgs...)...,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLite) List(ctx context.Context, f domain.Filter) ([]domain.Job, error) {
	query := `SELECT ` + columns + ` FROM import_jobs WHERE 1=1`

	var args []any
	if f.Status != "" {
		query += " AND estado = ?"
		args = append(args, string(f.Status))
	}
	if f.SubmittedBy != "" {
		query += " AND usuario_registro = ?"
		args = append(args, f.SubmittedBy)
	}
	query += " ORDER BY fecha_creacion DESC, id DESC LIMIT ?"
	args = append(args, limitOf(f))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(s scanner) (*domain.Job, error) {
	var (
		j                    domain.Job
		status               string
		localPath, remoteKey sql.NullString
		details, metadata    sql.NullString
		errMsg               sql.NullString
		created, updated     string
		started, finished    sql.NullString
	)

	err := s.Scan(
		&j.ID, &j.FileName, &localPath, &remoteKey, &j.SubmittedBy, &status,
		&j.TotalRows, &j.ProcessedRows, &j.Succeeded, &j.Failed, &j.Progress,
		&details, &errMsg, &metadata, &j.Retries,
		&created, &started, &finished, &updated,
	)
	if err != nil {
		return nil, err
	}

	j.Status = domain.Status(status)
	j.LocalPath = localPath.String
	j.RemoteKey = remoteKey.String
	j.ErrorMessage = errMsg.String
	j.CreatedAt, _ = time.Parse(timeFormat, created)
	j.UpdatedAt, _ = time.Parse(timeFormat, updated)
	j.StartedAt = parseNullTime(started)
	j.FinishedAt = parseNullTime(finished)

	if j.ErrorDetails, err = decodeDetails([]byte(details.String)); err != nil {
		return nil, err
	}
	if j.ExtraMetadata, err = decodeMetadata([]byte(metadata.String)); err != nil {
		return nil, err
	}
	return &j, nil
}

func encodeBlobs(j *domain.Job) (details, metadata any, err error) {
	if details, err = encodeJSON(j.ErrorDetails); err != nil {
		return nil, nil, err
	}
	if metadata, err = encodeJSON(j.ExtraMetadata); err != nil {
		return nil, nil, err
	}
	return details, metadata, nil
}

func formatTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(timeFormat, s.String)
	if err != nil {
		return nil
	}
	return &t
}
