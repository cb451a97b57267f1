package installer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deftorch/deftheim/db"
	"github.com/deftorch/deftheim/internal/testutil"
	"github.com/deftorch/deftheim/repository"
	"github.com/deftorch/deftheim/resolver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[string][]byte
	fail     map[string]error
	calls    map[string]int
	delay    time.Duration

	inFlight atomic.Int64
	peak     atomic.Int64
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		payloads: map[string][]byte{},
		fail:     map[string]error{},
		calls:    map[string]int{},
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls[locator]++
	payload, ok := f.payloads[locator]
	err := f.fail[locator]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("404 for %s", locator)
	}
	return payload, nil
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func locatorFor(id string) string {
	return "https://gcdn.thunderstore.io/live/repository/packages/" + id + ".zip"
}

// serve registers a package payload for id and returns its plan entry.
func (f *fakeFetcher) serve(t *testing.T, id string, deps ...string) resolver.Entry {
	t.Helper()
	parts := strings.Split(id, "-")
	f.payloads[locatorFor(id)] = testutil.PackageZip(t, parts[1], parts[2], deps...)
	return resolver.Entry{ID: id, Locator: locatorFor(id)}
}

type fixture struct {
	fetcher *fakeFetcher
	repo    *repository.Store
	store   *db.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	repo, err := repository.New(filepath.Join(dir, "repository"), nil)
	require.NoError(t, err)
	gdb, err := db.OpenDatabase(filepath.Join(dir, "test.db"), gormlogger.Silent)
	require.NoError(t, err)
	store := db.NewStore(gdb)
	t.Cleanup(func() { _ = store.Close() })
	return &fixture{fetcher: newFakeFetcher(), repo: repo, store: store}
}

func (fx *fixture) installer(opts Options) *Installer {
	return New(fx.fetcher, fx.repo, fx.store, opts, nil)
}

func TestInstallIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	e := fx.fetcher.serve(t, "ValheimModding-Jotunn-2.20.0", "denikson-BepInExPack_Valheim-5.4.2202")
	inst := fx.installer(Options{})

	require.NoError(t, inst.Install(context.Background(), e.ID, e.Locator, ""))
	require.NoError(t, inst.Install(context.Background(), e.ID, e.Locator, ""))

	assert.Equal(t, 1, fx.fetcher.totalCalls(), "second install must not fetch")
	exists, err := fx.repo.Exists(e.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	v, err := fx.store.Version(e.ID)
	require.NoError(t, err)
	assert.Equal(t, "2.20.0", v.VersionNumber)
	deps, err := fx.store.DependenciesOf(e.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"denikson-BepInExPack_Valheim-5.4.2202"}, deps)
}

func TestInstallRejectsUntrustedSource(t *testing.T) {
	locators := []string{
		"https://evil.example.com/a.zip",
		"http://thunderstore.io/package/download/a/A/1.0.0/",
		"https://thunderstore.io.evil.com/a.zip",
		"https://notthunderstore.io/a.zip",
		"https://user@thunderstore.io/a.zip",
		"file:///etc/passwd",
		"",
	}
	for _, locator := range locators {
		t.Run(locator, func(t *testing.T) {
			fx := newFixture(t)
			fx.fetcher.payloads[locator] = testutil.PackageZip(t, "A", "1.0.0")

			err := fx.installer(Options{}).Install(context.Background(), "a-A-1.0.0", locator, "")
			assert.True(t, errors.Is(err, ErrUntrustedSource), "got %v", err)
			assert.Zero(t, fx.fetcher.totalCalls())
		})
	}
}

func TestInstallAcceptsTrustedHosts(t *testing.T) {
	for _, locator := range []string{
		"https://thunderstore.io/package/download/a/A/1.0.0/",
		"https://gcdn.thunderstore.io/live/repository/packages/a-A-1.0.0.zip",
		"HTTPS://THUNDERSTORE.IO/package/download/a/A/1.0.0/",
	} {
		fx := newFixture(t)
		fx.fetcher.payloads[locator] = testutil.PackageZip(t, "A", "1.0.0")
		assert.NoError(t, fx.installer(Options{}).Install(context.Background(), "a-A-1.0.0", locator, ""), locator)
	}
}

func TestInstallRejectsInvalidID(t *testing.T) {
	fx := newFixture(t)
	err := fx.installer(Options{}).Install(context.Background(), "../escape", locatorFor("x"), "")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.True(t, errors.Is(err, repository.ErrInvalidID))
	assert.Zero(t, fx.fetcher.totalCalls())
}

func TestInstallChecksum(t *testing.T) {
	fx := newFixture(t)
	e := fx.fetcher.serve(t, "a-A-1.0.0")
	inst := fx.installer(Options{})

	err := inst.Install(context.Background(), e.ID, e.Locator, strings.Repeat("0", 64))
	assert.True(t, errors.Is(err, ErrChecksum), "got %v", err)
	exists, _ := fx.repo.Exists(e.ID)
	assert.False(t, exists, "a payload with the wrong hash must not be extracted")

	good := strings.ToUpper(testutil.SHA256(fx.fetcher.payloads[e.Locator]))
	require.NoError(t, inst.Install(context.Background(), e.ID, e.Locator, good))
	exists, _ = fx.repo.Exists(e.ID)
	assert.True(t, exists)
}

func TestInstallPinsPayloadDigest(t *testing.T) {
	fx := newFixture(t)
	e := fx.fetcher.serve(t, "a-A-1.0.0")
	inst := fx.installer(Options{})

	require.NoError(t, inst.Install(context.Background(), e.ID, e.Locator, ""))
	hash, err := fx.store.ContentHashOf(e.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.SHA256(fx.fetcher.payloads[e.Locator]), hash)

	// After removal, a changed payload behind the same id is refused.
	require.NoError(t, fx.repo.Remove(e.ID))
	fx.fetcher.payloads[e.Locator] = testutil.PackageZip(t, "A", "1.0.0", "x-Injected-1.0.0")
	err = inst.Install(context.Background(), e.ID, e.Locator, hash)
	assert.True(t, errors.Is(err, ErrChecksum), "got %v", err)
	exists, _ := fx.repo.Exists(e.ID)
	assert.False(t, exists)
}

func TestInstallNetworkError(t *testing.T) {
	fx := newFixture(t)
	fx.fetcher.fail[locatorFor("a-A-1.0.0")] = errors.New("connection reset")

	err := fx.installer(Options{}).Install(context.Background(), "a-A-1.0.0", locatorFor("a-A-1.0.0"), "")
	assert.True(t, errors.Is(err, ErrNetwork))
}

func TestInstallSurfacesTraversal(t *testing.T) {
	fx := newFixture(t)
	locator := locatorFor("evil-Evil-1.0.0")
	fx.fetcher.payloads[locator] = testutil.Zip(t, testutil.Entry{Name: "../../pwned", Body: "x"})

	err := fx.installer(Options{}).Install(context.Background(), "evil-Evil-1.0.0", locator, "")
	assert.True(t, errors.Is(err, repository.ErrPathTraversal))
	_, err = fx.store.Version("evil-Evil-1.0.0")
	assert.True(t, errors.Is(err, db.ErrNotFound))
}

func TestInstallDatabaseError(t *testing.T) {
	fx := newFixture(t)
	e := fx.fetcher.serve(t, "a-A-1.0.0")
	require.NoError(t, fx.store.Close())

	err := fx.installer(Options{}).Install(context.Background(), e.ID, e.Locator, "")
	assert.True(t, errors.Is(err, ErrDatabase))
	assert.True(t, errors.Is(err, db.ErrStoreUnavailable))
}

func TestInstallWithoutManifest(t *testing.T) {
	fx := newFixture(t)
	locator := locatorFor("a-Bare-1.0.0")
	fx.fetcher.payloads[locator] = testutil.Zip(t, testutil.Entry{Name: "Bare.dll", Body: "MZ"})

	require.NoError(t, fx.installer(Options{}).Install(context.Background(), "a-Bare-1.0.0", locator, ""))
	_, err := fx.store.Version("a-Bare-1.0.0")
	assert.True(t, errors.Is(err, db.ErrNotFound))
}

func TestInstallBatchBoundsConcurrency(t *testing.T) {
	fx := newFixture(t)
	fx.fetcher.delay = 20 * time.Millisecond

	plan := &resolver.Plan{Entries: []resolver.Entry{fx.fetcher.serve(t, "root-Root-1.0.0")}}
	for i := 0; i < 20; i++ {
		plan.Entries = append(plan.Entries, fx.fetcher.serve(t, fmt.Sprintf("dep-Dep%02d-1.0.0", i)))
	}

	var events sync.Map
	var count atomic.Int64
	inst := fx.installer(Options{Reporter: func(e Event) {
		count.Add(1)
		events.Store(e.Kind.String()+":"+e.ID, true)
	}})

	result, err := inst.InstallBatch(context.Background(), plan)
	require.NoError(t, err)

	assert.LessOrEqual(t, fx.fetcher.peak.Load(), int64(DefaultConcurrency))
	assert.Greater(t, fx.fetcher.peak.Load(), int64(1), "dependencies should install in parallel")
	assert.Len(t, result.Installed, 21)
	assert.Empty(t, result.Failed)
	assert.True(t, result.OK())

	// resolved + (started, installed) per entry
	assert.Equal(t, int64(1+2*21), count.Load())
	_, ok := events.Load("installed:dep-Dep07-1.0.0")
	assert.True(t, ok)
}

func TestInstallBatchIsolatesFailures(t *testing.T) {
	fx := newFixture(t)
	plan := &resolver.Plan{
		Entries: []resolver.Entry{
			fx.fetcher.serve(t, "root-Root-1.0.0"),
			fx.fetcher.serve(t, "a-A-1.0.0"),
			{ID: "b-Broken-1.0.0", Locator: locatorFor("b-Broken-1.0.0")},
			{ID: "c-Evil-1.0.0", Locator: "https://evil.example.com/c.zip"},
			fx.fetcher.serve(t, "d-D-1.0.0"),
		},
		Missing: []resolver.Missing{{ID: "gone-Gone-1.0.0", RequiredBy: "root-Root-1.0.0"}},
	}
	fx.fetcher.fail[locatorFor("b-Broken-1.0.0")] = errors.New("timeout")

	result, err := fx.installer(Options{}).InstallBatch(context.Background(), plan)
	require.NoError(t, err, "dependency failures must not fail the batch")

	assert.Equal(t, "root-Root-1.0.0", result.Root)
	assert.Equal(t, []string{"a-A-1.0.0", "d-D-1.0.0", "root-Root-1.0.0"}, result.Installed)
	require.Len(t, result.Failed, 2)
	assert.True(t, errors.Is(result.Failed["b-Broken-1.0.0"], ErrNetwork))
	assert.True(t, errors.Is(result.Failed["c-Evil-1.0.0"], ErrUntrustedSource))
	assert.Len(t, result.Missing, 1)
	assert.False(t, result.OK())
}

func TestInstallBatchRootFailureIsFatal(t *testing.T) {
	fx := newFixture(t)
	plan := &resolver.Plan{Entries: []resolver.Entry{
		{ID: "root-Root-1.0.0", Locator: locatorFor("root-Root-1.0.0")},
		fx.fetcher.serve(t, "a-A-1.0.0"),
	}}
	fx.fetcher.fail[locatorFor("root-Root-1.0.0")] = errors.New("boom")

	_, err := fx.installer(Options{}).InstallBatch(context.Background(), plan)
	assert.True(t, errors.Is(err, ErrNetwork))
	exists, _ := fx.repo.Exists("a-A-1.0.0")
	assert.False(t, exists, "dependencies are not dispatched when the root fails")
}

func TestInstallBatchVerifiesEntryHashes(t *testing.T) {
	fx := newFixture(t)
	root := fx.fetcher.serve(t, "root-Root-1.0.0")
	good := fx.fetcher.serve(t, "a-A-1.0.0")
	good.Hash = testutil.SHA256(fx.fetcher.payloads[good.Locator])
	bad := fx.fetcher.serve(t, "b-B-1.0.0")
	bad.Hash = strings.Repeat("0", 64)

	result, err := fx.installer(Options{}).InstallBatch(context.Background(), &resolver.Plan{
		Entries: []resolver.Entry{root, good, bad},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-A-1.0.0", "root-Root-1.0.0"}, result.Installed)
	assert.True(t, errors.Is(result.Failed["b-B-1.0.0"], ErrChecksum), "got %v", result.Failed)
	exists, _ := fx.repo.Exists("b-B-1.0.0")
	assert.False(t, exists)

	root = fx.fetcher.serve(t, "root-Other-1.0.0")
	root.Hash = strings.Repeat("f", 64)
	_, err = fx.installer(Options{}).InstallSequential(context.Background(), &resolver.Plan{Entries: []resolver.Entry{root}})
	assert.True(t, errors.Is(err, ErrChecksum), "got %v", err)
}

func TestInstallSequential(t *testing.T) {
	fx := newFixture(t)
	root := fx.fetcher.serve(t, "root-Root-1.0.0", "a-A-1.0.0")
	a := fx.fetcher.serve(t, "a-A-1.0.0")
	require.NoError(t, fx.installer(Options{}).Install(context.Background(), a.ID, a.Locator, ""))

	var order []string
	inst := fx.installer(Options{Reporter: func(e Event) {
		if e.Kind == EventStarted {
			order = append(order, e.ID)
		}
	}})
	result, err := inst.InstallSequential(context.Background(), &resolver.Plan{Entries: []resolver.Entry{root, a}})
	require.NoError(t, err)

	assert.Equal(t, []string{"root-Root-1.0.0", "a-A-1.0.0"}, order)
	assert.Equal(t, []string{"root-Root-1.0.0"}, result.Installed)
	assert.Equal(t, []string{"a-A-1.0.0"}, result.Skipped)
}

func TestInstallBatchEmptyPlan(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.installer(Options{}).InstallBatch(context.Background(), &resolver.Plan{})
	assert.True(t, errors.Is(err, ErrValidation))
}
