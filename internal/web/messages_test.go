package web

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/productimport/internal/job"
	"github.com/JonMunkholm/productimport/internal/staging"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"unknown job", fmt.Errorf("get job abc: %w", job.ErrNotFound), "IMP001"},
		{"retry refused", fmt.Errorf("%w: estado=COMPLETADO", job.ErrRetryNotAllowed), "IMP002"},
		{"invalid transition", job.ErrInvalidTransition, "IMP003"},
		{"missing usuario", errMissingUsuario, "IMP004"},
		{"bad estado filter", errors.New(`invalid estado "LISTO"`), "IMP005"},
		{"file too large", fmt.Errorf("%w: exceeds 10 bytes", staging.ErrFileTooLarge), "FILE001"},
		{"body too large", errors.New("http: request body too large"), "FILE001"},
		{"empty file", staging.ErrEmptySource, "FILE002"},
		{"no file", errNoFile, "FILE003"},
		{"staging failure", errors.New("create staged file: permission denied"), "FILE004"},
		{"redis down", errors.New("ping redis: dial tcp: connection refused"), "QUE001"},
		{"too many uploads", ErrTooManyUploads, "UPL001"},
		{"cancelled", context.Canceled, "UPL002"},
		{"deadline before timeout", context.DeadlineExceeded, "UPL003"},
		{"db refused", errors.New("dial tcp 127.0.0.1:5432: connection refused"), "DB001"},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), "DB003"},
		{"i/o timeout", errors.New("read tcp: i/o timeout"), "DB004"},
		{"case insensitive", errors.New("JOB NOT FOUND"), "IMP001"},
		{"unknown error", errors.New("some random internal error"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if tt.err != nil && got.Message == "" {
				t.Error("MapError() message is empty")
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(job.ErrNotFound)
	want := "La importación no existe (Código: IMP001). Verifique el identificador devuelto al enviar el archivo"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known error is user facing", job.ErrNotFound, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}
