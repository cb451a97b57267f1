// Package repository owns the on-disk package store: one self-contained
// directory per installed full id under a single root.
package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/deftorch/deftheim/thunderstore"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

var (
	ErrInvalidID     = errors.New("invalid package id")
	ErrPathTraversal = errors.New("archive entry escapes install directory")
	ErrExtraction    = errors.New("failed to extract archive")
	ErrNotInstalled  = errors.New("package not installed")
)

const stagingPrefix = ".staging-"

// Store is the repository root.
type Store struct {
	root string
	log  *zap.SugaredLogger
}

// New creates the root directory if needed.
func New(root string, log *zap.SugaredLogger) (*Store, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create repository root %s: %w", abs, err)
	}
	return &Store{root: abs, log: log}, nil
}

// Root returns the absolute repository root.
func (s *Store) Root() string { return s.root }

// ValidateID rejects ids that could name anything other than a direct child
// of the repository root.
func ValidateID(id string) error {
	switch {
	case id == "", id == ".", id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.ContainsAny(id, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidID, id)
	case strings.HasPrefix(id, stagingPrefix):
		return fmt.Errorf("%w: %q uses a reserved prefix", ErrInvalidID, id)
	case filepath.IsAbs(id) || filepath.VolumeName(id) != "":
		return fmt.Errorf("%w: %q is an absolute path", ErrInvalidID, id)
	}
	return nil
}

// Dir returns the install directory of id.
func (s *Store) Dir(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.root, id), nil
}

// Exists reports whether id is installed.
func (s *Store) Exists(id string) (bool, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(dir)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check %s: %w", dir, err)
}

// Materialize extracts a zip payload into the install directory of id. An
// existing directory means the package is already installed and nothing is
// touched. The archive is unpacked into a staging directory and renamed into
// place, so a failure never leaves a partial package behind.
func (s *Store) Materialize(id string, payload []byte) error {
	dir, err := s.Dir(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err == nil {
		s.log.Infow("Package already installed, skipping extraction", zap.String("id", id))
		return nil
	}

	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrExtraction, id, err)
	}

	staging, err := os.MkdirTemp(s.root, stagingPrefix+id+"-")
	if err != nil {
		return fmt.Errorf("%w: failed to create staging directory: %v", ErrExtraction, err)
	}
	defer os.RemoveAll(staging)

	for _, f := range zr.File {
		if err := extractEntry(staging, f); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
	}

	if err := os.Rename(staging, dir); err != nil {
		if _, statErr := os.Stat(dir); statErr == nil {
			// Lost a race with a concurrent install of the same id.
			s.log.Infow("Package installed concurrently, discarding staged copy", zap.String("id", id))
			return nil
		}
		return fmt.Errorf("%w: failed to move %s into place: %v", ErrExtraction, id, err)
	}

	s.log.Infow("Extracted package", zap.String("id", id), zap.Int("entries", len(zr.File)))
	return nil
}

// entryPath resolves an archive entry name strictly underneath base.
func entryPath(base, name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
		}
	}

	target := filepath.Join(base, filepath.FromSlash(name))
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}
	return target, nil
}

func extractEntry(base string, f *zip.File) error {
	target, err := entryPath(base, f.Name)
	if err != nil {
		return err
	}

	mode := f.Mode()
	switch {
	case mode&fs.ModeSymlink != 0:
		return fmt.Errorf("%w: symlink entry %q", ErrPathTraversal, f.Name)
	case f.FileInfo().IsDir():
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("%w: %v", ErrExtraction, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open %q: %v", ErrExtraction, f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: create %q: %v", ErrExtraction, f.Name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("%w: write %q: %v", ErrExtraction, f.Name, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("%w: close %q: %v", ErrExtraction, f.Name, err)
	}
	return nil
}

// Remove deletes the install directory of id.
func (s *Store) Remove(id string) error {
	dir, err := s.Dir(id)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotInstalled, id)
	} else if err != nil {
		return fmt.Errorf("failed to check %s: %w", dir, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	s.log.Infow("Removed package", zap.String("id", id))
	return nil
}

// ReadManifest parses the manifest.json of an installed package. A package
// without a manifest returns (nil, nil).
func (s *Store) ReadManifest(id string) (*thunderstore.Manifest, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, thunderstore.ManifestFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest of %s: %w", id, err)
	}
	return thunderstore.ParseManifest(data)
}

// List returns the ids of every installed package, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	installed, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(installed))
	for _, p := range installed {
		ids = append(ids, p.ID)
	}
	return ids, nil
}
