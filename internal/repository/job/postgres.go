package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	domain "github.com/JonMunkholm/productimport/internal/job"
	"github.com/JonMunkholm/productimport/internal/platform/postgres"
)

// Postgres is a domain.Repository backed by pgx. detalles_errores and
// extra_metadata are JSONB columns.
type Postgres struct {
	db postgres.DBTX
}

// NewPostgres returns a repository over a pool or transaction.
func NewPostgres(db postgres.DBTX) *Postgres {
	return &Postgres{db: db}
}

func (r *Postgres) Create(ctx context.Context, j *domain.Job) error {
	details, metadata, err := encodeBlobs(j)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	_, err = r.db.Exec(ctx, `INSERT INTO import_jobs (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		j.ID, j.FileName, nullString(j.LocalPath), nullString(j.RemoteKey), j.SubmittedBy, string(j.Status),
		j.TotalRows, j.ProcessedRows, j.Succeeded, j.Failed, j.Progress,
		details, nullString(j.ErrorMessage), metadata, j.Retries,
		j.CreatedAt, j.StartedAt, j.FinishedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (r *Postgres) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRow(ctx, `SELECT `+columns+` FROM import_jobs WHERE id = $1`, id)

	j, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (r *Postgres) Update(ctx context.Context, j *domain.Job) error {
	n, err := r.update(ctx, j, "")
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, j.ID)
	}
	return nil
}

func (r *Postgres) UpdateIfStatus(ctx context.Context, j *domain.Job, from domain.Status) error {
	n, err := r.update(ctx, j, " AND estado = $15 AND reintentos = $16", string(from), j.Retries)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM import_jobs WHERE id = $1)`, j.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, j.ID)
	}
	return fmt.Errorf("%w: %s is no longer %s", domain.ErrConflict, j.ID, from)
}

// update writes every mutable column of j. cond continues the WHERE clause
// from placeholder $15 on.
func (r *Postgres) update(ctx context.Context, j *domain.Job, cond string, condArgs ...any) (int64, error) {
	details, metadata, err := encodeBlobs(j)
	if err != nil {
		return 0, err
	}

	args := []any{
		j.ID,
		string(j.Status), j.TotalRows, j.ProcessedRows, j.Succeeded, j.Failed, j.Progress,
		details, nullString(j.ErrorMessage), metadata, j.Retries,
		j.StartedAt, j.FinishedAt, j.UpdatedAt,
	}
	tag, err := r.db.Exec(ctx, `UPDATE import_jobs SET
		estado = $2, total_filas = $3, filas_procesadas = $4, exitosos = $5, fallidos = $6, progreso = $7,
		detalles_errores = $8, mensaje_error = $9, extra_metadata = $10, reintentos = $11,
		fecha_inicio_proceso = $12, fecha_finalizacion = $13, fecha_actualizacion = $14
		WHERE id = $1`+cond,
		append(args, condArgs...)...,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Postgres) List(ctx context.Context, f domain.Filter) ([]domain.Job, error) {
	query := `SELECT ` + columns + ` FROM import_jobs WHERE 1=1`

	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND estado = $%d", len(args))
	}
	if f.SubmittedBy != "" {
		args = append(args, f.SubmittedBy)
		query += fmt.Sprintf(" AND usuario_registro = $%d", len(args))
	}
	args = append(args, limitOf(f))
	query += fmt.Sprintf(" ORDER BY fecha_creacion DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanPostgres(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func scanPostgres(s scanner) (*domain.Job, error) {
	var (
		j                    domain.Job
		status               string
		localPath, remoteKey pgtype.Text
		errMsg               pgtype.Text
		details, metadata    []byte
		started, finished    pgtype.Timestamptz
	)

	err := s.Scan(
		&j.ID, &j.FileName, &localPath, &remoteKey, &j.SubmittedBy, &status,
		&j.TotalRows, &j.ProcessedRows, &j.Succeeded, &j.Failed, &j.Progress,
		&details, &errMsg, &metadata, &j.Retries,
		&j.CreatedAt, &started, &finished, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = domain.Status(status)
	j.LocalPath = localPath.String
	j.RemoteKey = remoteKey.String
	j.ErrorMessage = errMsg.String
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	if started.Valid {
		t := started.Time.UTC()
		j.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time.UTC()
		j.FinishedAt = &t
	}

	if j.ErrorDetails, err = decodeDetails(details); err != nil {
		return nil, err
	}
	if j.ExtraMetadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}
	return &j, nil
}
