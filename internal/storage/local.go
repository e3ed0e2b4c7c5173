package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Temp file failure kinds. The upload endpoint reports them with different
// messages.
var (
	ErrTempDir   = errors.New("create temp directory")
	ErrTempWrite = errors.New("write temp file")
)

// TempStore holds request-scoped recordings on local disk. Each file has a
// unique name; the caller removes it when the request ends.
type TempStore struct {
	dir string
}

// NewTempStore creates a temp store rooted at dir. The directory is created
// lazily on first save.
func NewTempStore(dir string) *TempStore {
	return &TempStore{dir: dir}
}

// Save writes data to a new uniquely named file and returns its path.
func (s *TempStore) Save(data []byte, ext string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("%w %s: %w", ErrTempDir, s.dir, err)
	}

	path := filepath.Join(s.dir, uuid.NewString()+ext)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTempWrite, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("%w: %w", ErrTempWrite, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("%w: %w", ErrTempWrite, err)
	}
	return path, nil
}

// Remove deletes a file created by Save. A missing file is not an error.
func (s *TempStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Owns reports whether name (a base name) has the form Save produces:
// a canonical uuid followed by an optional extension.
func (s *TempStore) Owns(name string) bool { return isTempName(name) }

func isTempName(name string) bool {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if len(stem) != 36 {
		return false
	}
	_, err := uuid.Parse(stem)
	return err == nil
}

// Dir returns the temp directory path.
func (s *TempStore) Dir() string { return s.dir }
