// Package installer turns a package id and download locator into an
// installed, registered package.
package installer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/deftorch/deftheim/repository"
	"github.com/deftorch/deftheim/thunderstore"

	"go.uber.org/zap"
)

var (
	ErrValidation      = errors.New("invalid install request")
	ErrUntrustedSource = errors.New("download source is not trusted")
	ErrNetwork         = errors.New("download failed")
	ErrChecksum        = errors.New("checksum mismatch")
	ErrDatabase        = errors.New("failed to record installed package")
)

const DefaultConcurrency = 5

// DefaultTrustedHosts are the registry hosts downloads may come from.
var DefaultTrustedHosts = thunderstore.DefaultTrustedHosts

// Fetcher downloads a whole package payload.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// Registrar records an installed package, its dependency edges and the
// digest of the payload it came from.
type Registrar interface {
	RegisterManifest(fullID string, m *thunderstore.Manifest) error
	PinContentHash(fullID, hash string) error
}

type Options struct {
	Concurrency  int
	TrustedHosts []string
	Reporter     Reporter
}

type Installer struct {
	fetcher   Fetcher
	repo      *repository.Store
	registrar Registrar
	opts      Options
	log       *zap.SugaredLogger
}

func New(fetcher Fetcher, repo *repository.Store, registrar Registrar, opts Options, log *zap.SugaredLogger) *Installer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if len(opts.TrustedHosts) == 0 {
		opts.TrustedHosts = DefaultTrustedHosts
	}
	return &Installer{fetcher: fetcher, repo: repo, registrar: registrar, opts: opts, log: log}
}

// Install fetches, verifies, extracts and registers one package. An already
// installed id returns nil without touching the network. An empty
// expectedHash skips the checksum step; the payload digest is then pinned so
// a later reinstall of the same id is verified against it.
func (i *Installer) Install(ctx context.Context, id, locator, expectedHash string) error {
	_, err := i.install(ctx, id, locator, expectedHash)
	return err
}

// install reports whether the package was newly installed.
func (i *Installer) install(ctx context.Context, id, locator, expectedHash string) (bool, error) {
	log := i.log.With(zap.String("id", id))

	if err := repository.ValidateID(id); err != nil {
		return false, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := i.checkTrusted(locator); err != nil {
		return false, err
	}

	exists, err := i.repo.Exists(id)
	if err != nil {
		return false, err
	}
	if exists {
		log.Infow("Package already installed")
		return false, nil
	}

	log.Infow("Downloading package", zap.String("locator", locator))
	payload, err := i.fetcher.Fetch(ctx, locator)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrNetwork, id, err)
	}

	sum := sha256.Sum256(payload)
	actual := hex.EncodeToString(sum[:])
	if expectedHash != "" && !strings.EqualFold(actual, strings.TrimSpace(expectedHash)) {
		return false, fmt.Errorf("%w: %s: expected %s, got %s", ErrChecksum, id, expectedHash, actual)
	}

	if err := i.repo.Materialize(id, payload); err != nil {
		return false, err
	}

	manifest, err := i.repo.ReadManifest(id)
	if err != nil {
		log.Warnw("Installed package has an unreadable manifest", zap.Error(err))
		manifest = nil
	}
	if manifest != nil {
		if err := i.registrar.RegisterManifest(id, manifest); err != nil {
			return true, fmt.Errorf("%w: %s: %w", ErrDatabase, id, err)
		}
	}
	if err := i.registrar.PinContentHash(id, actual); err != nil {
		return true, fmt.Errorf("%w: %s: %w", ErrDatabase, id, err)
	}

	log.Infow("Installed package", zap.Int("bytes", len(payload)))
	return true, nil
}

// checkTrusted accepts only https locators on a trusted host or one of its
// subdomains.
func (i *Installer) checkTrusted(locator string) error {
	if !thunderstore.TrustedLocator(locator, i.opts.TrustedHosts) {
		return fmt.Errorf("%w: %q", ErrUntrustedSource, locator)
	}
	return nil
}
