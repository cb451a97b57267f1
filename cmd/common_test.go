package cmd

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deftorch/deftheim/config"
	"github.com/deftorch/deftheim/installer"
	"github.com/deftorch/deftheim/resolver"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		GameDir:               filepath.Join(dir, "Valheim"),
		DataDir:               filepath.Join(dir, "data"),
		RepositoryDir:         filepath.Join(dir, "data", "repository"),
		RegistryURL:           config.DefaultRegistryURL,
		UserAgent:             "deftheim-test",
		MaxConcurrentInstalls: 2,
		LinkStrategy:          "hardlink",
		DatabasePath:          filepath.Join(dir, "deftheim.db"),
		PluginsDir:            filepath.Join(dir, "Valheim", "BepInEx", "plugins"),
	}
}

func TestNewApp(t *testing.T) {
	a, err := newApp(testConfig(t), nil)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.close()

	if name := a.manager.Profiles().Projector().Name(); name != "hardlink" {
		t.Errorf("projector = %q, want hardlink", name)
	}

	updates, err := a.manager.ListAvailableUpdates(context.Background())
	if err != nil {
		t.Fatalf("ListAvailableUpdates() error = %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("expected no updates on an empty repository, got %d", len(updates))
	}
}

func TestNewAppRejectsUnknownStrategy(t *testing.T) {
	cfg := testConfig(t)
	cfg.LinkStrategy = "junction"
	if _, err := newApp(cfg, nil); err == nil {
		t.Error("expected an error for an unknown link strategy")
	}
}

func TestSummarizeBatch(t *testing.T) {
	result := &installer.BatchResult{
		Root:      "RandyKnapp-EpicLoot-0.10.0",
		Installed: []string{"RandyKnapp-EpicLoot-0.10.0", "ValheimModding-Jotunn-2.20.0"},
		Skipped:   []string{"denikson-BepInExPack_Valheim-5.4.2202"},
		Failed:    map[string]error{"Broken-Mod-1.0.0": errors.New("timeout")},
		Missing:   []resolver.Missing{{ID: "Gone-Mod-1.0.0", RequiredBy: "RandyKnapp-EpicLoot-0.10.0"}},
	}

	out := summarizeBatch(result)
	for _, want := range []string{
		"RandyKnapp-EpicLoot-0.10.0: 2 installed, 1 already present, 1 failed, 1 missing",
		"ValheimModding-Jotunn-2.20.0",
		"Broken-Mod-1.0.0: timeout",
		"Gone-Mod-1.0.0 (required by RandyKnapp-EpicLoot-0.10.0, not in cache)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
