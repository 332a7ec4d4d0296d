// Package filestore keeps uploaded CSV files and the failed-row files the
// importer writes back for the creditor.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	uploadsDir = "uploads"
	failedDir  = "failed"
)

// ErrInvalidRef is returned for references that escape the store root.
var ErrInvalidRef = errors.New("invalid file reference")

// Store manages files below a single root directory. References handed out
// by the store are slash-separated paths relative to that root.
type Store struct {
	dir string
}

// New creates a Store rooted at dir.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Init ensures the directory structure exists.
func (s *Store) Init() error {
	for _, d := range []string{uploadsDir, failedDir} {
		p := filepath.Join(s.dir, d)
		if err := os.MkdirAll(p, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", p, err)
		}
	}
	return nil
}

// Saved describes a stored upload.
type Saved struct {
	Ref    string `json:"ref"`
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

// SaveUpload copies r into uploads/<name>.csv. The file is written to a
// temporary name and renamed once complete.
func (s *Store) SaveUpload(name string, r io.Reader) (Saved, error) {
	ref := uploadsDir + "/" + name + ".csv"
	path, err := s.Path(ref)
	if err != nil {
		return Saved{}, err
	}

	tmp, err := os.CreateTemp(filepath.Join(s.dir, uploadsDir), ".upload-*")
	if err != nil {
		return Saved{}, fmt.Errorf("create upload: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		tmp.Close()
		return Saved{}, fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Saved{}, fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Saved{}, fmt.Errorf("store upload: %w", err)
	}
	return Saved{Ref: ref, Digest: "sha256:" + hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

// Open opens a stored file for reading.
func (s *Store) Open(ref string) (io.ReadCloser, error) {
	path, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// CreateFailed creates failed/<name>.csv for writing, truncating any earlier
// file of that name.
func (s *Store) CreateFailed(name string) (string, io.WriteCloser, error) {
	ref := failedDir + "/" + name + ".csv"
	path, err := s.Path(ref)
	if err != nil {
		return "", nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", nil, fmt.Errorf("create failed file: %w", err)
	}
	return ref, f, nil
}

// Remove deletes a stored file. Removing a missing file is not an error.
func (s *Store) Remove(ref string) error {
	path, err := s.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Exists reports whether ref names a stored file.
func (s *Store) Exists(ref string) bool {
	path, err := s.Path(ref)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Path resolves ref to a filesystem path inside the store root.
func (s *Store) Path(ref string) (string, error) {
	local := filepath.FromSlash(ref)
	if ref == "" || !filepath.IsLocal(local) {
		return "", fmt.Errorf("%q: %w", ref, ErrInvalidRef)
	}
	return filepath.Join(s.dir, local), nil
}

// Digest returns the sha256 digest of a stored file.
func (s *Store) Digest(ref string) (string, error) {
	f, err := s.Open(ref)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
