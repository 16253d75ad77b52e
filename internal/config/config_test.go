package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alekspetrov/ghscript/internal/github"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultPath)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FillsDefaults(t *testing.T) {
	path := writeConfig(t, `
version: "1.0"
repository:
  owner: acme
  name: widgets
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Sandbox.TimeoutSeconds != 30 {
		t.Errorf("TimeoutSeconds = %d, want default 30", cfg.Sandbox.TimeoutSeconds)
	}
	if cfg.Cache.Dir != ".ghscript" {
		t.Errorf("Cache.Dir = %q, want default", cfg.Cache.Dir)
	}
	if !cfg.History.Enabled {
		t.Error("history should be enabled by default")
	}
	if cfg.Repository.Token != "${GITHUB_TOKEN}" {
		t.Errorf("Token = %q, want default env reference", cfg.Repository.Token)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate_RequiresRepository(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()

	var cerr *github.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("Validate = %v, want ConfigurationError", err)
	}
}

func TestResolveToken(t *testing.T) {
	t.Setenv("GHSCRIPT_TEST_TOKEN", "tok-123")

	cfg := DefaultConfig()
	cfg.Repository.Token = "${GHSCRIPT_TEST_TOKEN}"

	token, err := cfg.ResolveToken()
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if token != "tok-123" {
		t.Errorf("token = %q", token)
	}
}

func TestResolveToken_EmptyIsConfigurationError(t *testing.T) {
	t.Setenv("GHSCRIPT_TEST_TOKEN", "")

	cfg := DefaultConfig()
	cfg.Repository.Token = "${GHSCRIPT_TEST_TOKEN}"

	_, err := cfg.ResolveToken()
	var cerr *github.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("ResolveToken = %v, want ConfigurationError", err)
	}
}

func TestMaxAgeDuration(t *testing.T) {
	c := &CacheConfig{MaxAge: "72h"}
	d, err := c.MaxAgeDuration()
	if err != nil {
		t.Fatalf("MaxAgeDuration: %v", err)
	}
	if d != 72*time.Hour {
		t.Errorf("d = %v", d)
	}

	c.MaxAge = ""
	if d, err = c.MaxAgeDuration(); err != nil || d != 0 {
		t.Errorf("empty max_age: d=%v err=%v, want 0 and nil", d, err)
	}

	c.MaxAge = "three days"
	if _, err = c.MaxAgeDuration(); err == nil {
		t.Error("expected error for unparsable max_age")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", DefaultPath)

	cfg := DefaultConfig()
	cfg.Repository.Owner = "acme"
	cfg.Repository.Name = "widgets"
	cfg.Cache.MaxAge = "24h"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Repository.Owner != "acme" || loaded.Repository.Name != "widgets" {
		t.Errorf("repository = %+v", loaded.Repository)
	}
	if loaded.Cache.MaxAge != "24h" {
		t.Errorf("Cache.MaxAge = %q", loaded.Cache.MaxAge)
	}
}
