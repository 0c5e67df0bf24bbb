// Package outputs saves generated images under the workspace output
// directory and serves them back by file name.
package outputs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when no output file has the requested name.
	ErrNotFound = errors.New("outputs: file not found")

	// ErrInvalidName is returned for names that are not a plain file name.
	ErrInvalidName = errors.New("outputs: invalid file name")
)

// Store writes PNG outputs into one directory. The directory is created on
// the first Save.
type Store struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Store rooted at dir. logger may be nil.
func New(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, logger: logger.Named("outputs"), now: time.Now}
}

// Dir returns the output directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes one generated image and returns its file name, which has the
// form generated_<timestamp>_<request>_<index>.png. The file appears
// atomically: readers never see a partial image.
func (s *Store) Save(requestID string, index int, png []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("outputs: failed to create directory: %w", err)
	}
	name := fmt.Sprintf("generated_%s_%s_%d.png", s.now().Format("20060102_150405"), shortID(requestID), index)

	tmp, err := os.CreateTemp(s.dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("outputs: failed to create file: %w", err)
	}
	if _, err := tmp.Write(png); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("outputs: failed to write image data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("outputs: failed to write image data: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("outputs: failed to set permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("outputs: failed to store image: %w", err)
	}

	s.logger.Debug("output saved",
		zap.String("file", name),
		zap.String("request_id", requestID),
		zap.Int("size", len(png)))
	return name, nil
}

// Open opens the output called name for reading. Lookups are confined to
// the output directory, symlinks included.
func (s *Store) Open(name string) (*os.File, fs.FileInfo, error) {
	if err := ValidateName(name); err != nil {
		return nil, nil, err
	}
	root, err := os.OpenRoot(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("outputs: failed to open directory: %w", err)
	}
	defer root.Close()

	f, err := root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("outputs: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("outputs: %w", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, ErrNotFound
	}
	return f, info, nil
}

// ValidateName accepts a single path element that is not hidden.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return ErrInvalidName
	case strings.ContainsAny(name, `/\`), strings.ContainsRune(name, 0):
		return ErrInvalidName
	case strings.HasPrefix(name, "."):
		return ErrInvalidName
	}
	return nil
}

func shortID(id string) string {
	if id == "" {
		return "local"
	}
	id = strings.ReplaceAll(id, "-", "")
	return id[:min(8, len(id))]
}
