package thunderstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// --- Structs for API Responses ---

// Listing is one package entry of the v1 /package/ endpoint.
type Listing struct {
	Name           string    `json:"name"`
	FullName       string    `json:"full_name"` // Owner-Name, the package id
	Owner          string    `json:"owner"`
	PackageURL     string    `json:"package_url"`
	DonationLink   string    `json:"donation_link,omitempty"`
	DateCreated    string    `json:"date_created"`
	DateUpdated    string    `json:"date_updated"`
	UUID4          string    `json:"uuid4"`
	RatingScore    int       `json:"rating_score"`
	IsPinned       bool      `json:"is_pinned"`
	IsDeprecated   bool      `json:"is_deprecated"`
	HasNSFWContent bool      `json:"has_nsfw_content"`
	Categories     []string  `json:"categories"`
	Versions       []Version `json:"versions"` // newest first
}

// Version is one published version of a listing.
type Version struct {
	Name          string   `json:"name"`
	FullName      string   `json:"full_name"` // Owner-Name-1.2.3, the full id
	Description   string   `json:"description"`
	Icon          string   `json:"icon"`
	VersionNumber string   `json:"version_number"`
	Dependencies  []string `json:"dependencies"` // full ids
	DownloadURL   string   `json:"download_url"`
	Downloads     int64    `json:"downloads"`
	DateCreated   string   `json:"date_created"`
	WebsiteURL    string   `json:"website_url"`
	IsActive      bool     `json:"is_active"`
	UUID4         string   `json:"uuid4"`
	FileSize      int64    `json:"file_size"`
}

// Latest returns the first (newest) version of the listing, or nil.
func (l Listing) Latest() *Version {
	if len(l.Versions) == 0 {
		return nil
	}
	return &l.Versions[0]
}

// ManifestFile is the name of the manifest inside every package archive.
const ManifestFile = "manifest.json"

// Manifest is the manifest.json shipped at the root of a package archive.
type Manifest struct {
	Name          string   `json:"name"`
	VersionNumber string   `json:"version_number"`
	WebsiteURL    string   `json:"website_url"`
	Description   string   `json:"description"`
	Dependencies  []string `json:"dependencies"`
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseManifest decodes a manifest.json payload. Many published manifests
// start with a UTF-8 byte order mark, which is stripped.
func ParseManifest(data []byte) (*Manifest, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.Name == "" || m.VersionNumber == "" {
		return nil, fmt.Errorf("manifest is missing name or version_number")
	}
	return &m, nil
}

// SplitFullID splits "Owner-Name-1.2.3" into the package id "Owner-Name" and
// the version "1.2.3" at the last separator. Owners and names may themselves
// contain '-', so the split is a heuristic; ok is false when there is no
// separator at all.
func SplitFullID(fullID string) (packageID, version string, ok bool) {
	i := strings.LastIndex(fullID, "-")
	if i <= 0 || i == len(fullID)-1 {
		return fullID, "", false
	}
	return fullID[:i], fullID[i+1:], true
}

// SplitPackageID splits "Owner-Name" into owner and name at the first separator.
func SplitPackageID(packageID string) (owner, name string) {
	owner, name, found := strings.Cut(packageID, "-")
	if !found {
		return "", packageID
	}
	return owner, name
}
