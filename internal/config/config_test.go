package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"sonar/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SONAR_CONFIG", "")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != config.BackendSQL || cfg.StaleTime != 5*time.Minute || cfg.Retry != 2 || cfg.SearchDebounce != 500*time.Millisecond {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sonar.yaml")
	yml := "backend: rest\nremote_url: https://example.test\nanon_key: k\nstale_time: 30s\npage_size: 20\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PAGE_SIZE", "50")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != config.BackendREST || cfg.StaleTime != 30*time.Second {
		t.Fatalf("file not applied: %+v", cfg)
	}
	if cfg.PageSize != 50 {
		t.Fatalf("env should win over file, got page size %d", cfg.PageSize)
	}
}

func TestRejectsUnknownKeysAndBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sonar.yaml")
	if err := os.WriteFile(path, []byte("stale_tme: 1m\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatal("typo in config file should fail")
	}

	t.Setenv("CACHE_STALE_TIME", "soon")
	if _, err := config.Load(""); err == nil {
		t.Fatal("bad duration should fail")
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("SONAR_BACKEND", "rest")
	if _, err := config.Load(""); err == nil {
		t.Fatal("rest backend without url should fail")
	}
	t.Setenv("SONAR_BACKEND", "sql")
	t.Setenv("DB_DRIVER", "postgres")
	if _, err := config.Load(""); err == nil {
		t.Fatal("unknown driver should fail")
	}
}
