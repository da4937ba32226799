package storage

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// Storage is the public file area. Paths are relative to its root and
// served under PublicURL.
type Storage struct {
	fs        afero.Fs
	publicURL string
}

// New wraps an existing filesystem whose root is the public directory.
// Relative and rooted names resolve to the same file, as the static handler
// opens "/logos/x" while writers use "logos/x".
func New(fs afero.Fs, publicURL string) *Storage {
	return &Storage{
		fs:        afero.NewBasePathFs(fs, "/"),
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// NewDisk roots the storage at dir on the local filesystem, creating it if needed.
func NewDisk(dir, publicURL string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir), publicURL), nil
}

// Save writes r to subdir/name and confirms the file is present afterwards.
func (s *Storage) Save(subdir, name string, r io.Reader) (int64, error) {
	if err := s.fs.MkdirAll(subdir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", subdir, err)
	}

	p := path.Join(subdir, name)
	f, err := s.fs.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", p, err)
	}

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(p)
		return 0, fmt.Errorf("write %s: %w", p, err)
	}

	if _, err := s.fs.Stat(p); err != nil {
		return 0, fmt.Errorf("file %s missing after write: %w", p, err)
	}
	return n, nil
}

// Delete removes subdir/name. A missing file is not an error.
func (s *Storage) Delete(subdir, name string) error {
	err := s.fs.Remove(path.Join(subdir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Storage) Exists(subdir, name string) bool {
	ok, err := afero.Exists(s.fs, path.Join(subdir, name))
	return err == nil && ok
}

// URL returns the public address of subdir/name.
func (s *Storage) URL(subdir, name string) string {
	return s.publicURL + "/" + path.Join(subdir, name)
}

// FS exposes the underlying filesystem.
func (s *Storage) FS() afero.Fs {
	return s.fs
}

// HTTP serves the storage root for static routes.
func (s *Storage) HTTP() http.FileSystem {
	return afero.NewHttpFs(s.fs).Dir("/")
}
