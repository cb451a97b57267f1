package profile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/deftorch/deftheim/db"
	"github.com/deftorch/deftheim/internal/testutil"
	"github.com/deftorch/deftheim/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

func installedPackage(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "repository", "a-A-1.0.0")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "plugins"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(`{"name":"A","version_number":"1.0.0"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugins", "A.dll"), []byte("MZ"), 0644))
	return dir
}

// listing returns every path under dir, relative to it, with its mode type.
func listing(t *testing.T, dir string) map[string]os.FileMode {
	t.Helper()
	out := map[string]os.FileMode{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out[rel] = d.Type()
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestDeactivateKeepsCreatedParent(t *testing.T) {
	for _, p := range projectors() {
		t.Run(p.Name(), func(t *testing.T) {
			plugins := filepath.Join(t.TempDir(), "BepInEx", "plugins")
			target := filepath.Join(plugins, "a-A-1.0.0")

			require.NoError(t, p.Activate(installedPackage(t), target))
			require.NoError(t, p.Deactivate(target))

			assert.Equal(t, map[string]os.FileMode{".": os.ModeDir}, listing(t, plugins))
		})
	}
}

func projectors() []Projector {
	return []Projector{LinkProjector{}, NewMirrorProjector(nil)}
}

func TestProjectorRoundTrip(t *testing.T) {
	for _, p := range projectors() {
		t.Run(p.Name(), func(t *testing.T) {
			installed := installedPackage(t)
			plugins := filepath.Join(t.TempDir(), "BepInEx", "plugins")
			require.NoError(t, os.MkdirAll(filepath.Join(plugins, "Other-Mod-1.0.0"), 0755))
			require.NoError(t, os.WriteFile(filepath.Join(plugins, "loose.dll"), []byte("MZ"), 0644))
			before := listing(t, plugins)
			target := filepath.Join(plugins, "a-A-1.0.0")

			require.NoError(t, p.Activate(installed, target))
			data, err := os.ReadFile(filepath.Join(target, "plugins", "A.dll"))
			require.NoError(t, err)
			assert.Equal(t, "MZ", string(data))

			// Activating again is a no-op.
			require.NoError(t, p.Activate(installed, target))

			require.NoError(t, p.Deactivate(target))
			_, err = os.Lstat(target)
			assert.True(t, os.IsNotExist(err))
			assert.Equal(t, before, listing(t, plugins), "the plugins directory is left as it was")

			data, err = os.ReadFile(filepath.Join(installed, "plugins", "A.dll"))
			require.NoError(t, err, "deactivation must leave the installed package intact")
			assert.Equal(t, "MZ", string(data))

			// Deactivating a missing target is a no-op.
			require.NoError(t, p.Deactivate(target))
		})
	}
}

func TestProjectorNotInstalled(t *testing.T) {
	for _, p := range projectors() {
		t.Run(p.Name(), func(t *testing.T) {
			target := filepath.Join(t.TempDir(), "plugins", "x")
			err := p.Activate(filepath.Join(t.TempDir(), "missing"), target)
			assert.True(t, errors.Is(err, ErrNotInstalled))
			_, err = os.Lstat(target)
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestLinkProjectorCreatesSymlink(t *testing.T) {
	installed := installedPackage(t)
	target := filepath.Join(t.TempDir(), "a-A-1.0.0")

	require.NoError(t, LinkProjector{}.Activate(installed, target))
	info, err := os.Lstat(target)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)
	dest, err := os.Readlink(target)
	require.NoError(t, err)
	assert.Equal(t, installed, dest)
}

func TestMirrorProjectorHardLinks(t *testing.T) {
	installed := installedPackage(t)
	target := filepath.Join(t.TempDir(), "a-A-1.0.0")

	require.NoError(t, NewMirrorProjector(nil).Activate(installed, target))
	info, err := os.Lstat(target)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	src, err := os.Stat(filepath.Join(installed, "plugins", "A.dll"))
	require.NoError(t, err)
	dst, err := os.Stat(filepath.Join(target, "plugins", "A.dll"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(src, dst))

	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no partial mirror left behind")
}

func TestForStrategy(t *testing.T) {
	p, err := ForStrategy("hardlink", t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyHardlink, p.Name())

	p, err = ForStrategy("SYMLINK", t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, StrategySymlink, p.Name())

	p, err = ForStrategy("auto", t.TempDir(), nil)
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = ForStrategy("junction", t.TempDir(), nil)
	assert.True(t, errors.Is(err, ErrUnknownStrategy))
}

type serviceFixture struct {
	svc     *Service
	repo    *repository.Store
	store   *db.Store
	plugins string
}

func newServiceFixture(t *testing.T, p Projector) *serviceFixture {
	t.Helper()
	dir := t.TempDir()
	repo, err := repository.New(filepath.Join(dir, "repository"), nil)
	require.NoError(t, err)
	gdb, err := db.OpenDatabase(filepath.Join(dir, "test.db"), gormlogger.Silent)
	require.NoError(t, err)
	store := db.NewStore(gdb)
	t.Cleanup(func() { _ = store.Close() })

	plugins := filepath.Join(dir, "game", "BepInEx", "plugins")
	for _, id := range []string{"a-A-1.0.0", "b-B-1.0.0"} {
		require.NoError(t, repo.Materialize(id, testutil.PackageZip(t, id[2:3], "1.0.0")))
	}
	return &serviceFixture{svc: NewService(store, repo, p, plugins, nil), repo: repo, store: store, plugins: plugins}
}

func (fx *serviceFixture) projected(id string) bool {
	_, err := os.Lstat(filepath.Join(fx.plugins, id))
	return err == nil
}

func TestServiceSwitch(t *testing.T) {
	for _, p := range projectors() {
		t.Run(p.Name(), func(t *testing.T) {
			fx := newServiceFixture(t, p)

			vanilla, err := fx.svc.Create("Vanilla+", "", "#22c55e")
			require.NoError(t, err)
			hardcore, err := fx.svc.Create("Hardcore", "", "")
			require.NoError(t, err)
			assert.NotEqual(t, vanilla.ID, hardcore.ID)

			require.NoError(t, fx.svc.Add(vanilla.ID, "a-A-1.0.0"))
			require.NoError(t, fx.svc.Add(hardcore.ID, "b-B-1.0.0"))
			assert.False(t, fx.projected("a-A-1.0.0"), "inactive profiles are not projected")

			require.NoError(t, fx.svc.Switch(vanilla.ID))
			assert.True(t, fx.projected("a-A-1.0.0"))
			assert.False(t, fx.projected("b-B-1.0.0"))

			require.NoError(t, fx.svc.Switch(hardcore.ID))
			assert.False(t, fx.projected("a-A-1.0.0"))
			assert.True(t, fx.projected("b-B-1.0.0"))

			active, err := fx.svc.Active()
			require.NoError(t, err)
			assert.Equal(t, hardcore.ID, active.ID)

			require.NoError(t, fx.svc.SetEnabled(hardcore.ID, "b-B-1.0.0", false))
			assert.False(t, fx.projected("b-B-1.0.0"))
			require.NoError(t, fx.svc.SetEnabled(hardcore.ID, "b-B-1.0.0", true))
			assert.True(t, fx.projected("b-B-1.0.0"))

			exists, err := fx.repo.Exists("b-B-1.0.0")
			require.NoError(t, err)
			assert.True(t, exists)
		})
	}
}

func TestServiceErrors(t *testing.T) {
	fx := newServiceFixture(t, LinkProjector{})

	assert.True(t, errors.Is(fx.svc.Switch("missing"), ErrProfileNotFound))
	_, err := fx.svc.Active()
	assert.True(t, errors.Is(err, ErrProfileNotFound))

	p, err := fx.svc.Create("Only", "", "")
	require.NoError(t, err)
	assert.True(t, errors.Is(fx.svc.Add(p.ID, "z-Z-9.9.9"), ErrNotInstalled))
	assert.True(t, errors.Is(fx.svc.ActivateEntry("z-Z-9.9.9"), ErrNotInstalled))
	assert.True(t, errors.Is(fx.svc.ActivateEntry("../x"), repository.ErrInvalidID))
	assert.NoError(t, fx.svc.DeactivateEntry("z-Z-9.9.9"))

	_, err = fx.svc.Create("", "", "")
	assert.Error(t, err)
}

func TestServiceDeleteAndForget(t *testing.T) {
	fx := newServiceFixture(t, LinkProjector{})

	p, err := fx.svc.Create("Main", "", "")
	require.NoError(t, err)
	require.NoError(t, fx.svc.Add(p.ID, "a-A-1.0.0"))
	require.NoError(t, fx.svc.Add(p.ID, "b-B-1.0.0"))
	require.NoError(t, fx.svc.Switch(p.ID))

	require.NoError(t, fx.svc.Forget("a-A-1.0.0"))
	assert.False(t, fx.projected("a-A-1.0.0"))
	entries, err := fx.svc.Entries(p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b-B-1.0.0", entries[0].PackageID)
	assert.Equal(t, "1.0.0", entries[0].Version)

	require.NoError(t, fx.svc.Delete(p.ID))
	assert.False(t, fx.projected("b-B-1.0.0"))
	assert.True(t, errors.Is(fx.svc.Delete(p.ID), ErrProfileNotFound))
}
