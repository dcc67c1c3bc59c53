package cachexconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	d := DefaultConfig()
	if d.Redis.KeyPrefix != "cachex" {
		t.Fatalf("expected default redis key_prefix cachex, got %q", d.Redis.KeyPrefix)
	}
	if d.Mongo.MaxFailures != 4 {
		t.Fatalf("expected default mongo max_failures 4, got %d", d.Mongo.MaxFailures)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cachex.toml")
	contents := `
[redis]
url = "redis://example:6379/1"
key_prefix = "myapp"

[mongo]
max_failures = 7
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.URL != "redis://example:6379/1" {
		t.Fatalf("expected overridden redis url, got %q", cfg.Redis.URL)
	}
	if cfg.Redis.KeyPrefix != "myapp" {
		t.Fatalf("expected overridden redis key_prefix, got %q", cfg.Redis.KeyPrefix)
	}
	if cfg.Mongo.MaxFailures != 7 {
		t.Fatalf("expected overridden mongo max_failures, got %d", cfg.Mongo.MaxFailures)
	}
	// Values not present in the file should keep their defaults.
	if cfg.Mongo.Database != "cachex" {
		t.Fatalf("expected default mongo database to survive partial override, got %q", cfg.Mongo.Database)
	}
	if got := Get(); got != cfg {
		t.Fatalf("expected Load to update the global config pointer")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CACHEX_REDIS_URL", "redis://from-env:6379/2")
	t.Setenv("HOME", t.TempDir())

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.URL != "redis://from-env:6379/2" {
		t.Fatalf("expected env override to win, got %q", cfg.Redis.URL)
	}
}

func TestValidateRejectsNegativeBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mongo.BaseBackoff = -1 * time.Second
	if err := validate(cfg); err == nil {
		t.Fatalf("expected validation error for negative backoff")
	}
}
