package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.SyncInterval != 2*time.Minute {
		t.Errorf("SyncInterval = %s, want 2m", cfg.SyncInterval)
	}
	if cfg.BackoffBase != 5*time.Second {
		t.Errorf("BackoffBase = %s, want 5s", cfg.BackoffBase)
	}
	if cfg.BackoffCap != 5*time.Minute {
		t.Errorf("BackoffCap = %s, want 5m", cfg.BackoffCap)
	}
	if cfg.BridgePort != 7911 {
		t.Errorf("BridgePort = %d, want 7911", cfg.BridgePort)
	}
	if len(cfg.Projects) != 0 {
		t.Errorf("Projects = %v, want empty", cfg.Projects)
	}
	if filepath.Base(cfg.DatabasePath) != "youtrek.db" {
		t.Errorf("DatabasePath = %s, want a youtrek.db default", cfg.DatabasePath)
	}
	if cfg.LogFile != "" {
		t.Errorf("LogFile = %q, want empty", cfg.LogFile)
	}
	if cfg.LogMaxSizeMB != 10 || cfg.LogMaxBackups != 3 {
		t.Errorf("log rotation defaults = %d MB / %d backups, want 10 / 3",
			cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	}
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
database_path = "/tmp/cache.db"
projects = ["DEMO", "OPS"]
sync_interval = "45s"
backoff_base = "2s"
backoff_cap = "1m"
bridge_port = 8123
log_file = "/tmp/youtrek.log"
log_max_size_mb = 25
log_max_backups = 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := &Config{
		DatabasePath:  "/tmp/cache.db",
		Projects:      []string{"DEMO", "OPS"},
		SyncInterval:  45 * time.Second,
		BackoffBase:   2 * time.Second,
		BackoffCap:    time.Minute,
		BridgePort:    8123,
		LogFile:       "/tmp/youtrek.log",
		LogMaxSizeMB:  25,
		LogMaxBackups: 5,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("YOUTREK_SYNC_INTERVAL", "90s")
	t.Setenv("YOUTREK_BRIDGE_PORT", "9001")
	t.Setenv("YOUTREK_PROJECTS", "DEMO,OPS")

	path := writeConfig(t, `
sync_interval = "45s"
bridge_port = 8123
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.SyncInterval != 90*time.Second {
		t.Errorf("SyncInterval = %s, want env override 90s", cfg.SyncInterval)
	}
	if cfg.BridgePort != 9001 {
		t.Errorf("BridgePort = %d, want env override 9001", cfg.BridgePort)
	}
	if diff := cmp.Diff([]string{"DEMO", "OPS"}, cfg.Projects); diff != "" {
		t.Errorf("Projects mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, `sync_interval = [`))
	if err == nil {
		t.Fatal("expected error for malformed config file")
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero interval", `sync_interval = "0s"`},
		{"negative backoff", `backoff_base = "-1s"`},
		{"cap below base", "backoff_base = \"10s\"\nbackoff_cap = \"1s\""},
		{"port out of range", `bridge_port = 70000`},
		{"empty database path", `database_path = ""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDir_EndsWithYoutrek(t *testing.T) {
	dir, err := Dir()
	if err != nil {
		t.Skipf("no user config dir available: %v", err)
	}
	if filepath.Base(dir) != "youtrek" {
		t.Errorf("Dir() = %s, want a youtrek directory", dir)
	}
}
