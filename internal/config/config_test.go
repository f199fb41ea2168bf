package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BuildNamespace != "default" {
		t.Errorf("BuildNamespace = %q", cfg.BuildNamespace)
	}
	if cfg.Launcher.Retries != 3 {
		t.Errorf("Launcher.Retries = %d", cfg.Launcher.Retries)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("build_namespace: binder-staging\nlauncher:\n  retries: 5\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BuildNamespace != "binder-staging" {
		t.Errorf("BuildNamespace = %q", cfg.BuildNamespace)
	}
	if cfg.Launcher.Retries != 5 {
		t.Errorf("Launcher.Retries = %d", cfg.Launcher.Retries)
	}
	// Unset fields in the file still fall back to Defaults().
	if cfg.LogTailLines != 100 {
		t.Errorf("LogTailLines = %d", cfg.LogTailLines)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestQuotaForFallsBackToDefault(t *testing.T) {
	cfg := Config{
		DefaultQuota: 2,
		RepoOverrides: []RepoOverride{
			{Spec: "owner/special", Quota: 10},
		},
	}
	if got := cfg.QuotaFor("owner/special"); got != 10 {
		t.Errorf("QuotaFor(special) = %d, want 10", got)
	}
	if got := cfg.QuotaFor("owner/other"); got != 2 {
		t.Errorf("QuotaFor(other) = %d, want 2", got)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BINDERHUB_LISTEN_ADDR", ":9999")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
}
