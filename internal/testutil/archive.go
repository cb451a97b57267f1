// Package testutil builds package archives for tests.
package testutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io/fs"
	"testing"

	"github.com/klauspost/compress/zip"
)

// Entry is one file of a test archive. A Name ending in "/" is a directory.
type Entry struct {
	Name    string
	Body    string
	Symlink bool
}

// Zip builds an in-memory zip archive.
func Zip(t testing.TB, entries ...Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
		if e.Symlink {
			hdr.SetMode(fs.ModeSymlink | 0777)
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("create zip entry %s: %v", e.Name, err)
		}
		if e.Body != "" {
			if _, err := w.Write([]byte(e.Body)); err != nil {
				t.Fatalf("write zip entry %s: %v", e.Name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// PackageZip builds a Thunderstore-style package: manifest.json, README.md
// and a plugin dll under plugins/.
func PackageZip(t testing.TB, name, version string, deps ...string) []byte {
	t.Helper()
	if deps == nil {
		deps = []string{}
	}
	manifest, err := json.Marshal(map[string]interface{}{
		"name":           name,
		"version_number": version,
		"website_url":    "https://example.invalid/" + name,
		"description":    name + " for tests",
		"dependencies":   deps,
	})
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	return Zip(t,
		Entry{Name: "manifest.json", Body: string(manifest)},
		Entry{Name: "README.md", Body: "# " + name},
		Entry{Name: "plugins/"},
		Entry{Name: "plugins/" + name + ".dll", Body: "MZ" + name + version},
	)
}

// SHA256 returns the hex digest of payload.
func SHA256(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
