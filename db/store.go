package db

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/deftorch/deftheim/thunderstore"

	"golang.org/x/mod/semver"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a lookup by id matches no row.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable is returned once the store has been closed.
	ErrStoreUnavailable = errors.New("metadata store unavailable")
)

// Store is the metadata cache. Every call holds mu for the duration of its
// statements, so one handle can be shared by concurrent installs.
type Store struct {
	mu sync.Mutex
	db *gorm.DB
}

// NewStore wraps an open database handle.
func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

func (s *Store) withLock(fn func(db *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrStoreUnavailable
	}
	return fn(s.db)
}

// Close releases the underlying connection. Later calls return ErrStoreUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	s.db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var (
	replaceAll  = clause.OnConflict{UpdateAll: true}
	ignoreExist = clause.OnConflict{DoNothing: true}
)

// replaceListed updates every column a listing carries. Listings have no
// digest, so a pinned content_hash survives a sync.
var replaceListed = clause.OnConflict{
	Columns: []clause.Column{{Name: "full_id"}},
	DoUpdates: clause.AssignmentColumns([]string{
		"package_id", "name", "description", "icon", "version_number", "download_url",
		"downloads", "created_at", "website_url", "is_active", "file_size",
	}),
}

// UpsertPackage stores a package row, replacing an existing one (last write wins).
func (s *Store) UpsertPackage(p Package) error {
	return s.withLock(func(db *gorm.DB) error {
		return db.Clauses(replaceAll).Create(&p).Error
	})
}

// UpsertVersion stores a version row, replacing an existing one (last write wins).
func (s *Store) UpsertVersion(v Version) error {
	return s.withLock(func(db *gorm.DB) error {
		return db.Clauses(replaceAll).Create(&v).Error
	})
}

// UpsertDependencyEdge records from -> to. Duplicate pairs are ignored.
func (s *Store) UpsertDependencyEdge(from, to string) error {
	return s.withLock(func(db *gorm.DB) error {
		return db.Clauses(ignoreExist).Create(&DependencyEdge{FromFullID: from, ToFullID: to}).Error
	})
}

// DependenciesOf returns the full ids id depends on, in insertion order.
func (s *Store) DependenciesOf(id string) ([]string, error) {
	var deps []string
	err := s.withLock(func(db *gorm.DB) error {
		return db.Model(&DependencyEdge{}).
			Where("from_full_id = ?", id).
			Order("rowid").
			Pluck("to_full_id", &deps).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies of %s: %w", id, err)
	}
	return deps, nil
}

// LocatorOf returns the download URL of a version, or ErrNotFound.
func (s *Store) LocatorOf(id string) (string, error) {
	v, err := s.Version(id)
	if err != nil {
		return "", err
	}
	if v.DownloadURL == "" {
		return "", fmt.Errorf("version %s has no download url: %w", id, ErrNotFound)
	}
	return v.DownloadURL, nil
}

// ContentHashOf returns the sha256 hex digest recorded for a version. An
// empty string means no digest is known; ErrNotFound means no version row.
func (s *Store) ContentHashOf(id string) (string, error) {
	v, err := s.Version(id)
	if err != nil {
		return "", err
	}
	return v.ContentHash, nil
}

// PinContentHash records the digest of an installed payload when the version
// has none yet. A known digest is never replaced, and a missing row is not an error.
func (s *Store) PinContentHash(id, hash string) error {
	if hash == "" {
		return nil
	}
	return s.withLock(func(db *gorm.DB) error {
		err := db.Model(&Version{}).
			Where("full_id = ? AND (content_hash = '' OR content_hash IS NULL)", id).
			Update("content_hash", strings.ToLower(hash)).Error
		if err != nil {
			return fmt.Errorf("failed to pin content hash of %s: %w", id, err)
		}
		return nil
	})
}

// Version looks up one version row by full id.
func (s *Store) Version(id string) (*Version, error) {
	var v Version
	err := s.withLock(func(db *gorm.DB) error {
		return db.Where("full_id = ?", id).First(&v).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("version %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query version %s: %w", id, err)
	}
	return &v, nil
}

// VersionsOf returns every known version of a package, newest first.
func (s *Store) VersionsOf(packageID string) ([]Version, error) {
	var versions []Version
	err := s.withLock(func(db *gorm.DB) error {
		return db.Where("package_id = ?", packageID).Find(&versions).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query versions of %s: %w", packageID, err)
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return newer(versions[i], versions[j])
	})
	return versions, nil
}

// LatestVersionFor returns the highest known version of a package.
func (s *Store) LatestVersionFor(packageID string) (*Version, error) {
	versions, err := s.VersionsOf(packageID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("package %s has no versions: %w", packageID, ErrNotFound)
	}
	return &versions[0], nil
}

// newer orders by semantic version when both parse, otherwise by creation date.
func newer(a, b Version) bool {
	va, vb := CanonicalVersion(a.VersionNumber), CanonicalVersion(b.VersionNumber)
	if semver.IsValid(va) && semver.IsValid(vb) {
		if c := semver.Compare(va, vb); c != 0 {
			return c > 0
		}
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// CanonicalVersion turns a registry version number ("1.2.3") into the
// "v"-prefixed form x/mod/semver expects.
func CanonicalVersion(v string) string {
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// PackageSummary is what ingestion reports back for each listing.
type PackageSummary struct {
	ID            string
	Name          string
	Owner         string
	LatestVersion string
	LatestFullID  string
	DownloadURL   string
	Dependencies  []string
	Versions      int
	Deprecated    bool
}

// IngestListing writes a registry snapshot in one transaction: either every
// package, version and edge lands, or none does. Registry data replaces
// existing rows.
func (s *Store) IngestListing(listings []thunderstore.Listing) ([]PackageSummary, error) {
	summaries := make([]PackageSummary, 0, len(listings))
	err := s.withLock(func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			for _, l := range listings {
				pkg, versions, edges := fromListing(l)
				if err := tx.Clauses(replaceAll).Create(&pkg).Error; err != nil {
					return fmt.Errorf("package %s: %w", pkg.ID, err)
				}
				for i := range versions {
					if err := tx.Clauses(replaceListed).Create(&versions[i]).Error; err != nil {
						return fmt.Errorf("version %s: %w", versions[i].FullID, err)
					}
				}
				for i := range edges {
					if err := tx.Clauses(ignoreExist).Create(&edges[i]).Error; err != nil {
						return fmt.Errorf("edge %s -> %s: %w", edges[i].FromFullID, edges[i].ToFullID, err)
					}
				}
				summaries = append(summaries, summarize(l))
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ingest listing: %w", err)
	}
	return summaries, nil
}

// RegisterManifest records a package observed on disk (a fresh install or a
// repository scan). Package and version rows are inserted only when absent so
// registry metadata is never overwritten; edges are added in the same transaction.
func (s *Store) RegisterManifest(fullID string, m *thunderstore.Manifest) error {
	if m == nil {
		return nil
	}
	pkg, version, edges := fromManifest(fullID, m)
	return s.withLock(func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Clauses(ignoreExist).Create(&pkg).Error; err != nil {
				return fmt.Errorf("package %s: %w", pkg.ID, err)
			}
			if err := tx.Clauses(ignoreExist).Create(&version).Error; err != nil {
				return fmt.Errorf("version %s: %w", version.FullID, err)
			}
			for i := range edges {
				if err := tx.Clauses(ignoreExist).Create(&edges[i]).Error; err != nil {
					return fmt.Errorf("edge %s -> %s: %w", edges[i].FromFullID, edges[i].ToFullID, err)
				}
			}
			return nil
		})
	})
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func fromListing(l thunderstore.Listing) (Package, []Version, []DependencyEdge) {
	pkg := Package{
		ID:         l.FullName,
		Name:       l.Name,
		Owner:      l.Owner,
		SourceURL:  l.PackageURL,
		CreatedAt:  parseTime(l.DateCreated),
		UpdatedAt:  parseTime(l.DateUpdated),
		Rating:     l.RatingScore,
		Pinned:     l.IsPinned,
		Deprecated: l.IsDeprecated,
		NSFW:       l.HasNSFWContent,
	}

	var versions []Version
	var edges []DependencyEdge
	for _, v := range l.Versions {
		versions = append(versions, Version{
			FullID:        v.FullName,
			PackageID:     l.FullName,
			Name:          v.Name,
			Description:   v.Description,
			Icon:          v.Icon,
			VersionNumber: v.VersionNumber,
			DownloadURL:   v.DownloadURL,
			Downloads:     v.Downloads,
			CreatedAt:     parseTime(v.DateCreated),
			WebsiteURL:    v.WebsiteURL,
			IsActive:      v.IsActive,
			FileSize:      v.FileSize,
		})
		for _, dep := range v.Dependencies {
			edges = append(edges, DependencyEdge{FromFullID: v.FullName, ToFullID: dep})
		}
	}
	return pkg, versions, edges
}

func fromManifest(fullID string, m *thunderstore.Manifest) (Package, Version, []DependencyEdge) {
	packageID, _, ok := thunderstore.SplitFullID(fullID)
	if !ok {
		packageID = fullID
	}
	owner, _ := thunderstore.SplitPackageID(packageID)

	pkg := Package{ID: packageID, Name: m.Name, Owner: owner, SourceURL: m.WebsiteURL}
	version := Version{
		FullID:        fullID,
		PackageID:     packageID,
		Name:          m.Name,
		Description:   m.Description,
		VersionNumber: m.VersionNumber,
		WebsiteURL:    m.WebsiteURL,
		IsActive:      true,
	}
	edges := make([]DependencyEdge, 0, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		edges = append(edges, DependencyEdge{FromFullID: fullID, ToFullID: dep})
	}
	return pkg, version, edges
}

func summarize(l thunderstore.Listing) PackageSummary {
	summary := PackageSummary{
		ID:         l.FullName,
		Name:       l.Name,
		Owner:      l.Owner,
		Versions:   len(l.Versions),
		Deprecated: l.IsDeprecated,
	}
	if latest := l.Latest(); latest != nil {
		summary.LatestVersion = latest.VersionNumber
		summary.LatestFullID = latest.FullName
		summary.DownloadURL = latest.DownloadURL
		summary.Dependencies = latest.Dependencies
	}
	return summary
}
