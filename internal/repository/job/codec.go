// Package job stores import job records in PostgreSQL or SQLite.
package job

import (
	"encoding/json"
	"fmt"

	domain "github.com/JonMunkholm/productimport/internal/job"
)

const defaultListLimit = 100

const columns = `id, nombre_archivo, local_path, remote_key, usuario_registro, estado,
	total_filas, filas_procesadas, exitosos, fallidos, progreso,
	detalles_errores, mensaje_error, extra_metadata, reintentos,
	fecha_creacion, fecha_inicio_proceso, fecha_finalizacion, fecha_actualizacion`

// encodeJSON returns nil for empty values so the column stays NULL.
func encodeJSON(v any) (any, error) {
	switch x := v.(type) {
	case *domain.ErrorSummary:
		if x == nil {
			return nil, nil
		}
	case map[string]any:
		if len(x) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeDetails(raw []byte) (*domain.ErrorSummary, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s domain.ErrorSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode detalles_errores: %w", err)
	}
	return &s, nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode extra_metadata: %w", err)
	}
	return m, nil
}

func limitOf(f domain.Filter) int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return defaultListLimit
	}
	return f.Limit
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
