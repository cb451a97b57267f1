// Package manager ties the metadata store, resolver, installer and profile
// projector together behind the operations the CLI exposes.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/deftorch/deftheim/db"
	"github.com/deftorch/deftheim/installer"
	"github.com/deftorch/deftheim/profile"
	"github.com/deftorch/deftheim/repository"
	"github.com/deftorch/deftheim/resolver"
	"github.com/deftorch/deftheim/thunderstore"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"
)

// Registry is the remote package index.
type Registry interface {
	FetchPackages(ctx context.Context) ([]thunderstore.Listing, error)
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

type Manager struct {
	store     *db.Store
	repo      *repository.Store
	registry  Registry
	profiles  *profile.Service
	resolver  *resolver.Resolver
	installer *installer.Installer
	log       *zap.SugaredLogger
}

func New(store *db.Store, repo *repository.Store, registry Registry, profiles *profile.Service, opts installer.Options, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		store:     store,
		repo:      repo,
		registry:  registry,
		profiles:  profiles,
		resolver:  resolver.New(store, log.Named("resolver")),
		installer: installer.New(registry, repo, store, opts, log.Named("installer")),
		log:       log,
	}
}

func (m *Manager) Profiles() *profile.Service { return m.profiles }

// Plan resolves the install closure of rootID using the cached locator of
// the root. An unknown root still resolves, with an empty locator.
func (m *Manager) Plan(rootID string) (*resolver.Plan, error) {
	locator, err := m.store.LocatorOf(rootID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	return m.resolver.Resolve(rootID, locator)
}

// ResolveAndInstall resolves rootID and installs the closure one package at
// a time.
func (m *Manager) ResolveAndInstall(ctx context.Context, rootID, rootLocator string) (*installer.BatchResult, error) {
	plan, err := m.resolver.Resolve(rootID, rootLocator)
	if err != nil {
		return nil, err
	}
	return m.installer.InstallSequential(ctx, plan)
}

// InstallWithParallelDependencies looks up the locator of rootID in the
// cache, installs the root and then its dependencies in parallel.
func (m *Manager) InstallWithParallelDependencies(ctx context.Context, rootID string) (*installer.BatchResult, error) {
	locator, err := m.store.LocatorOf(rootID)
	if err != nil {
		return nil, fmt.Errorf("no download locator for %s: %w", rootID, err)
	}
	plan, err := m.resolver.Resolve(rootID, locator)
	if err != nil {
		return nil, err
	}
	return m.installer.InstallBatch(ctx, plan)
}

// Uninstall removes the projection of id, drops it from every profile and
// deletes the installed directory.
func (m *Manager) Uninstall(ctx context.Context, id string) error {
	exists, err := m.repo.Exists(id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", repository.ErrNotInstalled, id)
	}
	if err := m.profiles.Forget(id); err != nil {
		return fmt.Errorf("failed to deactivate %s: %w", id, err)
	}
	return m.repo.Remove(id)
}

func (m *Manager) ActivateProfileEntry(id string) error   { return m.profiles.ActivateEntry(id) }
func (m *Manager) DeactivateProfileEntry(id string) error { return m.profiles.DeactivateEntry(id) }

// UpdateCandidate is an installed package with a newer version in the cache.
type UpdateCandidate struct {
	ID             string
	CurrentVersion string
	LatestVersion  string
	LatestID       string
	DownloadURL    string
}

// ListAvailableUpdates compares every installed package against the newest
// cached version of the same package.
func (m *Manager) ListAvailableUpdates(ctx context.Context) ([]UpdateCandidate, error) {
	installed, err := m.repo.Scan(ctx)
	if err != nil {
		return nil, err
	}

	var out []UpdateCandidate
	for _, p := range installed {
		packageID, current, ok := thunderstore.SplitFullID(p.ID)
		if !ok {
			m.log.Warnw("Cannot split installed id into name and version", zap.String("id", p.ID))
			continue
		}
		if p.Manifest != nil && p.Manifest.VersionNumber != "" {
			current = p.Manifest.VersionNumber
		}

		latest, err := m.store.LatestVersionFor(packageID)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !IsNewer(latest.VersionNumber, current) {
			continue
		}
		out = append(out, UpdateCandidate{
			ID:             p.ID,
			CurrentVersion: current,
			LatestVersion:  latest.VersionNumber,
			LatestID:       latest.FullID,
			DownloadURL:    latest.DownloadURL,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// IsNewer compares two version numbers. Versions that are not semantic
// versions are newer when they differ.
func IsNewer(latest, current string) bool {
	l, c := db.CanonicalVersion(latest), db.CanonicalVersion(current)
	if semver.IsValid(l) && semver.IsValid(c) {
		return semver.Compare(l, c) > 0
	}
	return latest != "" && latest != current
}

func (m *Manager) IngestListing(listings []thunderstore.Listing) ([]db.PackageSummary, error) {
	return m.store.IngestListing(listings)
}

// SyncRegistry downloads the registry listing and ingests it.
func (m *Manager) SyncRegistry(ctx context.Context) ([]db.PackageSummary, error) {
	listings, err := m.registry.FetchPackages(ctx)
	if err != nil {
		return nil, err
	}
	summaries, err := m.store.IngestListing(listings)
	if err != nil {
		return nil, fmt.Errorf("failed to ingest registry listing: %w", err)
	}
	m.log.Infow("Synced registry", zap.Int("packages", len(summaries)))
	return summaries, nil
}

// ImportResult reports what ImportInstalled found on disk.
type ImportResult struct {
	Registered []string
	NoManifest []string
	Failed     map[string]error
}

// ImportInstalled registers every package found in the repository. Rows
// already in the cache are kept as they are.
func (m *Manager) ImportInstalled(ctx context.Context) (*ImportResult, error) {
	installed, err := m.repo.Scan(ctx)
	if err != nil {
		return nil, err
	}
	result := &ImportResult{Failed: make(map[string]error)}
	for _, p := range installed {
		switch {
		case p.ManifestErr != nil:
			result.Failed[p.ID] = p.ManifestErr
		case p.Manifest == nil:
			result.NoManifest = append(result.NoManifest, p.ID)
		default:
			if err := m.store.RegisterManifest(p.ID, p.Manifest); err != nil {
				if errors.Is(err, db.ErrStoreUnavailable) {
					return nil, err
				}
				result.Failed[p.ID] = err
				continue
			}
			result.Registered = append(result.Registered, p.ID)
		}
	}
	m.log.Infow("Imported installed packages",
		zap.Int("registered", len(result.Registered)),
		zap.Int("no_manifest", len(result.NoManifest)),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

// UnmetDependency is a dependency edge of an installed package that no
// installed package satisfies.
type UnmetDependency struct {
	ID         string
	Dependency string
	// Installed is another installed version of the dependency's package,
	// older than the one required.
	Installed string
}

// UnmetDependencies lists dependencies of installed packages that are not
// installed. A newer installed version of the same package counts as
// satisfying the edge.
func (m *Manager) UnmetDependencies(ctx context.Context) ([]UnmetDependency, error) {
	installed, err := m.repo.Scan(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]bool, len(installed))
	byPackage := make(map[string][]string)
	for _, p := range installed {
		byID[p.ID] = true
		if packageID, _, ok := thunderstore.SplitFullID(p.ID); ok {
			byPackage[packageID] = append(byPackage[packageID], p.ID)
		}
	}

	var out []UnmetDependency
	for _, p := range installed {
		deps, err := m.store.DependenciesOf(p.ID)
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			if byID[dep] {
				continue
			}
			unmet := UnmetDependency{ID: p.ID, Dependency: dep}
			if packageID, required, ok := thunderstore.SplitFullID(dep); ok {
				satisfied := false
				for _, other := range byPackage[packageID] {
					_, have, _ := thunderstore.SplitFullID(other)
					if IsNewer(have, required) {
						satisfied = true
						break
					}
					unmet.Installed = other
				}
				if satisfied {
					continue
				}
			}
			out = append(out, unmet)
		}
	}
	return out, nil
}
