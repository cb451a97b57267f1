package db

import (
	"time"
)

// Package is a registry listing, keyed by its "Owner-Name" id.
type Package struct {
	ID         string    `gorm:"primaryKey"`
	Name       string    `gorm:"not null"`
	Owner      string    `gorm:"not null"`
	SourceURL  string    // Listing page on the registry
	CreatedAt  time.Time `gorm:"autoCreateTime:false"` // Registry timestamps, not row timestamps
	UpdatedAt  time.Time `gorm:"autoUpdateTime:false"`
	Rating     int
	Pinned     bool
	Deprecated bool
	NSFW       bool `gorm:"column:nsfw"`
}

// Version is one immutable artifact, keyed by its "Owner-Name-1.2.3" full id.
type Version struct {
	FullID        string `gorm:"primaryKey"`
	PackageID     string `gorm:"index;not null"`
	Name          string
	Description   string
	Icon          string
	VersionNumber string
	DownloadURL   string
	ContentHash   string // sha256 hex when known
	Downloads     int64
	CreatedAt     time.Time `gorm:"autoCreateTime:false"`
	WebsiteURL    string
	IsActive      bool
	FileSize      int64
}

// DependencyEdge records that FromFullID requires ToFullID. The target may
// not have a Version row yet.
type DependencyEdge struct {
	FromFullID string `gorm:"primaryKey"`
	ToFullID   string `gorm:"primaryKey;index"`
}

// Profile is a named selection of installed packages.
type Profile struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"not null"`
	Description string
	Icon        string
	Color       string // "#rrggbb"
	Active      bool
	CreatedAt   time.Time
	LastUsed    time.Time
	PlayTime    int64 // seconds
}

// ProfilePackage is one entry of a profile.
type ProfilePackage struct {
	ProfileID string `gorm:"primaryKey"`
	PackageID string `gorm:"primaryKey"` // full id of the installed version
	Enabled   bool   `gorm:"not null"`
	Version   string
}
