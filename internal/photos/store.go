// Package photos keeps enrollment photos on disk and archives them off-site.
package photos

import (
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"faceattend/internal/face"
)

// ErrNotFound reports a missing photo.
var ErrNotFound = errors.New("photo not found")

// Store writes one JPEG per student into a directory.
type Store struct {
	dir       string
	maxPixels int
}

// NewStore creates dir if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("photo directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create photo directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// WithMaxPixels sets the decode budget for Save and returns s.
func (s *Store) WithMaxPixels(n int) *Store {
	s.maxPixels = n
	return s
}

// Path returns the file that holds the photo of studentID.
func (s *Store) Path(studentID string) (string, error) {
	if studentID == "" || studentID != filepath.Base(studentID) || strings.HasPrefix(studentID, ".") {
		return "", fmt.Errorf("invalid student id %q", studentID)
	}
	return filepath.Join(s.dir, studentID+".jpg"), nil
}

// Save decodes data and stores it re-encoded as JPEG.
func (s *Store) Save(studentID string, data []byte) error {
	path, err := s.Path(studentID)
	if err != nil {
		return err
	}
	img, err := face.DecodeLimit(data, s.maxPixels)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, studentID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp photo: %w", err)
	}
	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: 90}); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode photo: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close photo: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename photo: %w", err)
	}
	return nil
}

// Load returns the stored JPEG bytes.
func (s *Store) Load(studentID string) ([]byte, error) {
	path, err := s.Path(studentID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}
