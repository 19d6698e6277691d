package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("SETTINGS_DIR", tempDir)
	t.Setenv("BUILDS_DIR", "")
	t.Setenv("ORCHESTRATOR_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8443 {
		t.Errorf("Expected default port 8443, got %d", cfg.Server.Port)
	}
	if cfg.Storage.BuildsDir != filepath.Join(tempDir, "builds") {
		t.Errorf("Unexpected builds dir: %s", cfg.Storage.BuildsDir)
	}
	if cfg.Storage.LogsDir != filepath.Join(tempDir, "logs") {
		t.Errorf("Unexpected logs dir: %s", cfg.Storage.LogsDir)
	}
	if cfg.SettingsFile() != filepath.Join(tempDir, "settings.json") {
		t.Errorf("Unexpected settings file: %s", cfg.SettingsFile())
	}
	if cfg.Supervision.WatchIntervalMs != 2000 {
		t.Errorf("Expected 2000ms watch interval, got %d", cfg.Supervision.WatchIntervalMs)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	tempDir := t.TempDir()
	buildsDir := filepath.Join(tempDir, "elsewhere")
	t.Setenv("SETTINGS_DIR", tempDir)
	t.Setenv("BUILDS_DIR", buildsDir)
	t.Setenv("ORCHESTRATOR_URL", "https://orchestrator.example.com/register")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Storage.BuildsDir != buildsDir {
		t.Errorf("BUILDS_DIR override not applied: %s", cfg.Storage.BuildsDir)
	}
	if cfg.Orchestrator.URL != "https://orchestrator.example.com/register" {
		t.Errorf("ORCHESTRATOR_URL override not applied: %s", cfg.Orchestrator.URL)
	}
}

func TestLoadConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("SETTINGS_DIR", tempDir)
	t.Setenv("BUILDS_DIR", "")
	t.Setenv("ORCHESTRATOR_URL", "")

	yaml := []byte("server:\n  port: 9443\nsupervision:\n  watch_interval_ms: 500\n")
	if err := os.WriteFile(filepath.Join(tempDir, "config.yaml"), yaml, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9443 {
		t.Errorf("Expected port 9443 from config file, got %d", cfg.Server.Port)
	}
	if cfg.Supervision.WatchIntervalMs != 500 {
		t.Errorf("Expected 500ms watch interval, got %d", cfg.Supervision.WatchIntervalMs)
	}
}
