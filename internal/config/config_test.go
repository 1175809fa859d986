package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("MIMIR_TEST_VAL", "hello")
	defer os.Unsetenv("MIMIR_TEST_VAL")

	got := SubstituteEnvVars("a=${MIMIR_TEST_VAL} b=${MIMIR_TEST_MISSING:-fallback} c=${MIMIR_TEST_MISSING}")
	want := "a=hello b=fallback c=${MIMIR_TEST_MISSING}"
	if got != want {
		t.Fatalf("SubstituteEnvVars = %q, want %q", got, want)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Pipeline.MaxRows != 100 {
		t.Errorf("MaxRows = %d, want 100", cfg.Pipeline.MaxRows)
	}
	if cfg.Cache.TTL.Seconds() != 300 {
		t.Errorf("Cache TTL = %v, want 300s", cfg.Cache.TTL)
	}
	if cfg.Analytics.QueueSize != 4096 {
		t.Errorf("QueueSize = %d, want 4096", cfg.Analytics.QueueSize)
	}
	if len(cfg.Pipeline.Whitelist) == 0 {
		t.Error("Whitelist is empty")
	}
	if !cfg.Pipeline.DefaultStrategy.Valid() {
		t.Errorf("default strategy %q invalid", cfg.Pipeline.DefaultStrategy)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	os.Setenv("MIMIR_TEST_PORT", "9999")
	defer os.Unsetenv("MIMIR_TEST_PORT")

	path := filepath.Join(t.TempDir(), "mimir.yaml")
	body := "server:\n  port: ${MIMIR_TEST_PORT}\ncache:\n  backend: redis\n  redis_addr: localhost:6379\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Cache.Backend != "redis" {
		t.Errorf("Backend = %q, want redis", cfg.Cache.Backend)
	}
	// Untouched sections keep defaults.
	if cfg.Pipeline.MaxRows != 100 {
		t.Errorf("MaxRows = %d, want default 100", cfg.Pipeline.MaxRows)
	}
}

func TestLoadRejectsUnknownStrategy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mimir.yaml")
	if err := os.WriteFile(path, []byte("pipeline:\n  default_strategy: psychic\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted unknown strategy")
	}
}
