package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultAccount = "work"
	cfg.CompatV6GroupSend = true
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultAccount != "work" {
		t.Errorf("DefaultAccount = %q, want %q", loaded.DefaultAccount, "work")
	}
	if !loaded.CompatV6GroupSend {
		t.Error("CompatV6GroupSend = false, want true")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.GroupAssertChunk != 10 {
		t.Errorf("GroupAssertChunk = %d, want 10", cfg.GroupAssertChunk)
	}
	if cfg.GroupAssertDelayMs != 250 {
		t.Errorf("GroupAssertDelayMs = %d, want 250", cfg.GroupAssertDelayMs)
	}
	if cfg.RecentMessagesCacheSize != 20000 {
		t.Errorf("RecentMessagesCacheSize = %d, want 20000", cfg.RecentMessagesCacheSize)
	}
	if !cfg.EnableRecentMessageCache {
		t.Error("EnableRecentMessageCache = false, want true")
	}
}
