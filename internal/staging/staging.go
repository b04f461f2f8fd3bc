// Package staging keeps uploaded import files on local disk between the
// request that submits them and the worker that processes them.
//
// Staged names have the form {usuario}_{timestamp}_{random}_{file}, so
// concurrent uploads never collide and no coordination between server
// instances sharing the directory is needed.
package staging

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmptySource is returned when the source has no readable content.
	ErrEmptySource = errors.New("empty file")

	// ErrFileTooLarge is returned when the source exceeds the configured size.
	ErrFileTooLarge = errors.New("file too large")
)

const timestampLayout = "20060102T150405"

// Source is an uploaded file: something with a name that can be opened.
type Source interface {
	Name() string
	Open() (io.ReadCloser, error)
}

type fileHeaderSource struct{ fh *multipart.FileHeader }

// FromFileHeader adapts a multipart upload.
func FromFileHeader(fh *multipart.FileHeader) Source { return fileHeaderSource{fh} }

func (s fileHeaderSource) Name() string { return s.fh.Filename }

func (s fileHeaderSource) Open() (io.ReadCloser, error) { return s.fh.Open() }

type readerSource struct {
	name string
	r    io.Reader
}

// FromReader adapts a raw stream, such as an *os.File, under the given name.
func FromReader(name string, r io.Reader) Source { return readerSource{name: name, r: r} }

func (s readerSource) Name() string { return s.name }

func (s readerSource) Open() (io.ReadCloser, error) { return io.NopCloser(s.r), nil }

// Stager writes sources into a directory and reads them back as text.
type Stager struct {
	dir     string
	maxSize int64
	now     func() time.Time
}

// New returns a Stager rooted at dir. maxSize <= 0 disables the size check.
func New(dir string, maxSize int64) *Stager {
	return &Stager{dir: dir, maxSize: maxSize, now: time.Now}
}

// Dir returns the staging directory.
func (s *Stager) Dir() string { return s.dir }

// Save copies src into the staging directory, creating it if needed, and
// returns the staged path and the original file name.
func (s *Stager) Save(src Source, usuario string) (string, string, error) {
	original := src.Name()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", original, fmt.Errorf("create staging dir: %w", err)
	}

	rc, err := src.Open()
	if err != nil {
		return "", original, fmt.Errorf("open source: %w", err)
	}
	defer rc.Close()

	path := filepath.Join(s.dir, s.stagedName(usuario, original))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", original, fmt.Errorf("create staged file: %w", err)
	}

	var r io.Reader = rc
	if s.maxSize > 0 {
		r = io.LimitReader(rc, s.maxSize+1)
	}

	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("write staged file: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("close staged file: %w", closeErr)
	case n == 0:
		err = ErrEmptySource
	case s.maxSize > 0 && n > s.maxSize:
		err = fmt.Errorf("%w: exceeds %d bytes", ErrFileTooLarge, s.maxSize)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", original, err
	}

	return path, original, nil
}

// Read returns the staged file as text, tolerating non-UTF-8 encodings.
func (s *Stager) Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read staged file: %w", err)
	}
	return Decode(data), nil
}

// Remove deletes a staged file. Missing files are not an error.
func (s *Stager) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove staged file: %w", err)
	}
	return nil
}

func (s *Stager) stagedName(usuario, original string) string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s_%s",
		sanitize(usuario, "anonimo"),
		s.now().UTC().Format(timestampLayout),
		short,
		sanitize(filepath.Base(original), "archivo.csv"),
	)
}

// sanitize keeps ASCII letters, digits, '.', '-' and '_' and turns spaces into
// underscores, so the result is safe as a single path element.
func sanitize(name, fallback string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return fallback
	}
	return out
}
