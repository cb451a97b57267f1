package profile

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/deftorch/deftheim/db"
	"github.com/deftorch/deftheim/repository"
	"github.com/deftorch/deftheim/thunderstore"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service manages profiles and keeps the plugin directory in line with the
// enabled entries of the active profile.
type Service struct {
	store      *db.Store
	repo       *repository.Store
	projector  Projector
	pluginsDir string
	log        *zap.SugaredLogger
}

func NewService(store *db.Store, repo *repository.Store, projector Projector, pluginsDir string, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{store: store, repo: repo, projector: projector, pluginsDir: pluginsDir, log: log}
}

// Projector returns the projection strategy in use.
func (s *Service) Projector() Projector { return s.projector }

// TargetDir is where id is projected inside the plugin directory.
func (s *Service) TargetDir(id string) (string, error) {
	if err := repository.ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.pluginsDir, id), nil
}

// ActivateEntry projects an installed package into the plugin directory.
// An entry that is already active is left alone.
func (s *Service) ActivateEntry(id string) error {
	installed, err := s.repo.Dir(id)
	if err != nil {
		return err
	}
	target, err := s.TargetDir(id)
	if err != nil {
		return err
	}
	if err := s.projector.Activate(installed, target); err != nil {
		return err
	}
	s.log.Infow("Activated package", zap.String("id", id), zap.String("strategy", s.projector.Name()))
	return nil
}

// DeactivateEntry removes the projection of id. The installed package is
// not touched.
func (s *Service) DeactivateEntry(id string) error {
	target, err := s.TargetDir(id)
	if err != nil {
		return err
	}
	if err := s.projector.Deactivate(target); err != nil {
		return err
	}
	s.log.Infow("Deactivated package", zap.String("id", id))
	return nil
}

func profileErr(id string, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	return err
}

// Create adds a new, inactive profile.
func (s *Service) Create(name, description, color string) (*db.Profile, error) {
	if name == "" {
		return nil, errors.New("profile name must not be empty")
	}
	p := &db.Profile{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Color:       color,
	}
	if err := s.store.CreateProfile(p); err != nil {
		return nil, fmt.Errorf("failed to create profile %s: %w", name, err)
	}
	s.log.Infow("Created profile", zap.String("profile", p.ID), zap.String("name", name))
	return p, nil
}

func (s *Service) List() ([]db.Profile, error) { return s.store.Profiles() }

func (s *Service) Get(id string) (*db.Profile, error) {
	p, err := s.store.Profile(id)
	return p, profileErr(id, err)
}

// Active returns the active profile, or ErrProfileNotFound when none is.
func (s *Service) Active() (*db.Profile, error) {
	p, err := s.store.ActiveProfile()
	return p, profileErr("active", err)
}

func (s *Service) Entries(profileID string) ([]db.ProfilePackage, error) {
	if _, err := s.Get(profileID); err != nil {
		return nil, err
	}
	return s.store.ProfilePackages(profileID)
}

func (s *Service) isActive(profileID string) bool {
	active, err := s.store.ActiveProfile()
	return err == nil && active.ID == profileID
}

// Delete removes a profile. Deleting the active profile deactivates its
// entries first.
func (s *Service) Delete(id string) error {
	p, err := s.Get(id)
	if err != nil {
		return err
	}
	if p.Active {
		if err := s.project(id, false); err != nil {
			return err
		}
	}
	return profileErr(id, s.store.DeleteProfile(id))
}

// Switch deactivates every enabled entry of the current profile, marks id
// active and activates its enabled entries.
func (s *Service) Switch(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	if current, err := s.store.ActiveProfile(); err == nil {
		if current.ID == id {
			return s.project(id, true)
		}
		if err := s.project(current.ID, false); err != nil {
			return fmt.Errorf("failed to deactivate profile %s: %w", current.Name, err)
		}
	} else if !errors.Is(err, db.ErrNotFound) {
		return err
	}

	if err := s.store.SetActiveProfile(id); err != nil {
		return profileErr(id, err)
	}
	if err := s.project(id, true); err != nil {
		return fmt.Errorf("failed to activate profile %s: %w", id, err)
	}
	s.log.Infow("Switched profile", zap.String("profile", id))
	return nil
}

// project activates or deactivates every enabled entry of a profile. Entries
// whose package is gone are logged and skipped.
func (s *Service) project(profileID string, activate bool) error {
	entries, err := s.store.ProfilePackages(profileID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Enabled {
			continue
		}
		if activate {
			err = s.ActivateEntry(e.PackageID)
		} else {
			err = s.DeactivateEntry(e.PackageID)
		}
		if errors.Is(err, ErrNotInstalled) {
			s.log.Warnw("Profile entry is not installed", zap.String("profile", profileID), zap.String("id", e.PackageID))
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Add puts an installed package into a profile, enabled. When the profile
// is active the package is projected right away.
func (s *Service) Add(profileID, packageID string) error {
	if _, err := s.Get(profileID); err != nil {
		return err
	}
	exists, err := s.repo.Exists(packageID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotInstalled, packageID)
	}
	_, version, _ := thunderstore.SplitFullID(packageID)
	if err := s.store.SetProfilePackage(db.ProfilePackage{
		ProfileID: profileID,
		PackageID: packageID,
		Enabled:   true,
		Version:   version,
	}); err != nil {
		return err
	}
	if s.isActive(profileID) {
		return s.ActivateEntry(packageID)
	}
	return nil
}

// Remove drops a package from a profile, deactivating it if the profile is
// active.
func (s *Service) Remove(profileID, packageID string) error {
	if _, err := s.Get(profileID); err != nil {
		return err
	}
	if s.isActive(profileID) {
		if err := s.DeactivateEntry(packageID); err != nil {
			return err
		}
	}
	return s.store.RemoveProfilePackage(profileID, packageID)
}

// SetEnabled toggles an entry of a profile.
func (s *Service) SetEnabled(profileID, packageID string, enabled bool) error {
	entries, err := s.Entries(profileID)
	if err != nil {
		return err
	}
	var entry *db.ProfilePackage
	for i := range entries {
		if entries[i].PackageID == packageID {
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		return fmt.Errorf("%w: %s is not part of profile %s", ErrNotInstalled, packageID, profileID)
	}
	entry.Enabled = enabled
	if err := s.store.SetProfilePackage(*entry); err != nil {
		return err
	}

	if !s.isActive(profileID) {
		return nil
	}
	if enabled {
		return s.ActivateEntry(packageID)
	}
	return s.DeactivateEntry(packageID)
}

// Forget removes a package from every profile and drops its projection.
// Used on uninstall.
func (s *Service) Forget(packageID string) error {
	if err := s.DeactivateEntry(packageID); err != nil {
		return err
	}
	return s.store.RemovePackageFromProfiles(packageID)
}
