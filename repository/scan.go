package repository

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/deftorch/deftheim/thunderstore"

	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"
)

// Installed describes one package directory found under the root.
type Installed struct {
	ID          string
	Dir         string
	Manifest    *thunderstore.Manifest // nil when the package ships none
	ManifestErr error
}

// Scan lists every installed package and parses its manifest. The walk runs
// on fastwalk's worker goroutines and only descends one level.
func (s *Store) Scan(ctx context.Context) ([]Installed, error) {
	var (
		mu  sync.Mutex
		out []Installed
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, s.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			s.log.Warnw("Skipping unreadable repository entry", zap.String("path", path), zap.Error(err))
			return nil
		}
		if path == s.root || !d.IsDir() {
			return nil
		}
		if filepath.Dir(path) != s.root {
			return fastwalk.SkipDir
		}

		id := d.Name()
		if strings.HasPrefix(id, ".") || ValidateID(id) != nil {
			return fastwalk.SkipDir
		}

		entry := Installed{ID: id, Dir: path}
		entry.Manifest, entry.ManifestErr = s.ReadManifest(id)
		if entry.ManifestErr != nil {
			s.log.Warnw("Failed to parse manifest", zap.String("id", id), zap.Error(entry.ManifestErr))
		}

		mu.Lock()
		out = append(out, entry)
		mu.Unlock()
		return fastwalk.SkipDir
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
