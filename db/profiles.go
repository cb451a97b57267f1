package db

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// CreateProfile inserts a new profile. The caller assigns the id.
func (s *Store) CreateProfile(p *Profile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	return s.withLock(func(db *gorm.DB) error {
		return db.Create(p).Error
	})
}

// Profiles returns all profiles ordered by name.
func (s *Store) Profiles() ([]Profile, error) {
	var profiles []Profile
	err := s.withLock(func(db *gorm.DB) error {
		return db.Order("name").Find(&profiles).Error
	})
	return profiles, err
}

// Profile looks up one profile by id.
func (s *Store) Profile(id string) (*Profile, error) {
	var p Profile
	err := s.withLock(func(db *gorm.DB) error {
		return db.Where("id = ?", id).First(&p).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ActiveProfile returns the profile currently marked active.
func (s *Store) ActiveProfile() (*Profile, error) {
	var p Profile
	err := s.withLock(func(db *gorm.DB) error {
		return db.Where("active = ?", true).First(&p).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no active profile: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetActiveProfile marks id as the only active profile and stamps last_used.
func (s *Store) SetActiveProfile(id string) error {
	return s.withLock(func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&Profile{}).Where("active = ?", true).Update("active", false).Error; err != nil {
				return err
			}
			res := tx.Model(&Profile{}).Where("id = ?", id).
				Updates(map[string]interface{}{"active": true, "last_used": time.Now()})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("profile %s: %w", id, ErrNotFound)
			}
			return nil
		})
	})
}

// DeleteProfile removes a profile together with its entries.
func (s *Store) DeleteProfile(id string) error {
	return s.withLock(func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("profile_id = ?", id).Delete(&ProfilePackage{}).Error; err != nil {
				return err
			}
			res := tx.Where("id = ?", id).Delete(&Profile{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("profile %s: %w", id, ErrNotFound)
			}
			return nil
		})
	})
}

// SetProfilePackage adds or replaces an entry of a profile.
func (s *Store) SetProfilePackage(pp ProfilePackage) error {
	return s.withLock(func(db *gorm.DB) error {
		return db.Clauses(replaceAll).Create(&pp).Error
	})
}

// ProfilePackages lists the entries of a profile.
func (s *Store) ProfilePackages(profileID string) ([]ProfilePackage, error) {
	var entries []ProfilePackage
	err := s.withLock(func(db *gorm.DB) error {
		return db.Where("profile_id = ?", profileID).Order("package_id").Find(&entries).Error
	})
	return entries, err
}

// RemoveProfilePackage drops an entry from a profile.
func (s *Store) RemoveProfilePackage(profileID, packageID string) error {
	return s.withLock(func(db *gorm.DB) error {
		return db.Where("profile_id = ? AND package_id = ?", profileID, packageID).Delete(&ProfilePackage{}).Error
	})
}

// RemovePackageFromProfiles drops packageID from every profile, e.g. after uninstall.
func (s *Store) RemovePackageFromProfiles(packageID string) error {
	return s.withLock(func(db *gorm.DB) error {
		return db.Where("package_id = ?", packageID).Delete(&ProfilePackage{}).Error
	})
}
