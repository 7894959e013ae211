package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Store.Backend != "memory" {
		t.Fatalf("default backend = %q, want memory", c.Store.Backend)
	}
	if c.Mongo.Database != "groupsync" || c.Redis.Prefix != "groupsync" {
		t.Fatalf("default names = %+v", c)
	}
	if c.Reactions.PerMinute != 6 || c.Reactions.Burst != 3 {
		t.Fatalf("default reaction limits = %+v", c.Reactions)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "store:\n  backend: redis\nredis:\n  addr: redis.internal:6380\nreactions:\n  per_minute: 10\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Store.Backend != "redis" || c.Redis.Addr != "redis.internal:6380" {
		t.Fatalf("file values not applied: %+v", c)
	}
	if c.Reactions.PerMinute != 10 || c.Reactions.Burst != 3 {
		t.Fatalf("partial override broke defaults: %+v", c.Reactions)
	}
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("store:\n  backend: dynamo\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
