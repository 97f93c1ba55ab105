package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != "8080" || cfg.MaxParallel != 4 || cfg.PollInterval != 10*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conveyor.yaml")
	content := "max_parallel: 2\nworkflow_dir: /srv/workflows\ncollector_url: http://file\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("COLLECTOR_URL", "http://env")
	t.Setenv("POLL_INTERVAL", "250ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.MaxParallel != 2 || cfg.WorkflowDir != "/srv/workflows" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.CollectorURL != "http://env" {
		t.Errorf("env must override file, got %q", cfg.CollectorURL)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %s", cfg.PollInterval)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Chdir(t.TempDir())
	t.Setenv("MAX_PARALLEL", "0")

	if _, err := Load(""); err == nil {
		t.Error("expected error for max_parallel=0")
	}
}

func TestLoad_BrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conveyor.yaml")
	if err := os.WriteFile(path, []byte("max_parallel: [1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed file")
	}
}
