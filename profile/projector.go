// Package profile projects installed packages into the game's plugin
// directory and manages named sets of enabled packages.
package profile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"
)

var (
	ErrNotInstalled    = errors.New("package is not installed")
	ErrProfileNotFound = errors.New("profile not found")
	ErrUnknownStrategy = errors.New("unknown link strategy")
	errNotADirectory   = errors.New("not a directory")
)

const (
	StrategyAuto     = "auto"
	StrategySymlink  = "symlink"
	StrategyHardlink = "hardlink"
)

// Projector makes an installed package directory visible at a target path
// and removes it again.
type Projector interface {
	// Activate projects installedDir at targetDir, creating the parent of
	// targetDir if needed. An existing targetDir is left alone.
	Activate(installedDir, targetDir string) error
	// Deactivate removes the projection at targetDir and nothing else; the
	// parent directory stays. A missing targetDir is not an error.
	Deactivate(targetDir string) error
	Name() string
}

func checkInstalled(installedDir string) error {
	info, err := os.Stat(installedDir)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotInstalled, installedDir)
	}
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", installedDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s: %w", ErrNotInstalled, installedDir, errNotADirectory)
	}
	return nil
}

// targetExists uses Lstat so a dangling link still counts as present.
func targetExists(targetDir string) (bool, error) {
	_, err := os.Lstat(targetDir)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check %s: %w", targetDir, err)
}

func removeProjection(targetDir string) error {
	info, err := os.Lstat(targetDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", targetDir, err)
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		// Only the link goes; the installed package stays.
		if err := os.Remove(targetDir); err != nil {
			return fmt.Errorf("failed to remove link %s: %w", targetDir, err)
		}
		return nil
	}
	if err := os.RemoveAll(targetDir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", targetDir, err)
	}
	return nil
}

// LinkProjector points targetDir at the installed directory with a single
// symbolic link.
type LinkProjector struct{}

func (LinkProjector) Name() string { return StrategySymlink }

func (LinkProjector) Activate(installedDir, targetDir string) error {
	if err := checkInstalled(installedDir); err != nil {
		return err
	}
	exists, err := targetExists(targetDir)
	if err != nil || exists {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(targetDir), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(targetDir), err)
	}
	if err := os.Symlink(installedDir, targetDir); err != nil {
		return fmt.Errorf("failed to link %s -> %s: %w", targetDir, installedDir, err)
	}
	return nil
}

func (LinkProjector) Deactivate(targetDir string) error { return removeProjection(targetDir) }

// MirrorProjector recreates the directory tree of the installed package at
// targetDir and hard-links every file into it. Files on another filesystem
// are copied instead.
type MirrorProjector struct {
	log *zap.SugaredLogger
}

func NewMirrorProjector(log *zap.SugaredLogger) *MirrorProjector {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &MirrorProjector{log: log}
}

func (*MirrorProjector) Name() string { return StrategyHardlink }

func (m *MirrorProjector) Activate(installedDir, targetDir string) error {
	if err := checkInstalled(installedDir); err != nil {
		return err
	}
	exists, err := targetExists(targetDir)
	if err != nil || exists {
		return err
	}
	parent := filepath.Dir(targetDir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", parent, err)
	}

	// Build next to the target and rename, so a failed mirror never looks
	// like an active package.
	partial, err := os.MkdirTemp(parent, "."+filepath.Base(targetDir)+".partial-")
	if err != nil {
		return fmt.Errorf("failed to create mirror directory: %w", err)
	}
	defer os.RemoveAll(partial)

	if err := m.mirror(installedDir, partial); err != nil {
		return err
	}
	if err := os.Rename(partial, targetDir); err != nil {
		if exists, _ := targetExists(targetDir); exists {
			return nil
		}
		return fmt.Errorf("failed to move mirror into %s: %w", targetDir, err)
	}
	return nil
}

func (m *MirrorProjector) mirror(src, dst string) error {
	var (
		mu     sync.Mutex
		copied int
	)
	conf := fastwalk.Config{Follow: false}
	return fastwalk.Walk(&conf, src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil || rel == "." {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0755)
		case d.Type().IsRegular():
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := os.Link(path, target); err != nil {
				if copyErr := copyFile(path, target); copyErr != nil {
					return fmt.Errorf("failed to link %s: %w", rel, err)
				}
				mu.Lock()
				copied++
				if copied == 1 {
					m.log.Warnw("Hard link failed, copying instead", zap.String("file", path), zap.Error(err))
				}
				mu.Unlock()
			}
			return nil
		default:
			m.log.Warnw("Skipping non-regular file", zap.String("file", path))
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (*MirrorProjector) Deactivate(targetDir string) error { return removeProjection(targetDir) }

// Detect picks the projector for probeDir: symbolic links when one can be
// created there, the hard-link mirror otherwise.
func Detect(probeDir string, log *zap.SugaredLogger) Projector {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(probeDir, 0755); err == nil {
		probe, err := os.MkdirTemp(probeDir, ".linkprobe-")
		if err == nil {
			defer os.RemoveAll(probe)
			err := os.Symlink(probe, filepath.Join(probe, "link"))
			if err == nil {
				log.Infow("Using symlink projection", zap.String("probe_dir", probeDir))
				return LinkProjector{}
			}
			log.Infow("Symlinks unavailable, using hard-link mirror", zap.Error(err))
		}
	}
	return NewMirrorProjector(log)
}

// ForStrategy returns the projector for a configured link strategy.
func ForStrategy(strategy, probeDir string, log *zap.SugaredLogger) (Projector, error) {
	switch strings.ToLower(strategy) {
	case "", StrategyAuto:
		return Detect(probeDir, log), nil
	case StrategySymlink:
		return LinkProjector{}, nil
	case StrategyHardlink:
		return NewMirrorProjector(log), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
}
