package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Storage.Backend = StorageBadger
	cfg.Sync.FlushInterval = Duration{750 * time.Millisecond}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Storage.Backend != StorageBadger {
		t.Errorf("Storage.Backend = %q, want %q", loaded.Storage.Backend, StorageBadger)
	}
	if loaded.Sync.FlushInterval.Duration != 750*time.Millisecond {
		t.Errorf("FlushInterval = %v, want 750ms", loaded.Sync.FlushInterval)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}
	if cfg.Storage.Backend != StorageSQLite {
		t.Errorf("Storage.Backend = %q, want default %q", cfg.Storage.Backend, StorageSQLite)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "default_session = \"main\"\n\n[sync]\ntyping_idle = \"5s\"\n"
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Sync.TypingIdle.Duration != 5*time.Second {
		t.Errorf("TypingIdle = %v, want 5s", cfg.Sync.TypingIdle)
	}
	if cfg.Sync.CheckpointInterval.Duration != 30*time.Second {
		t.Errorf("CheckpointInterval = %v, want default 30s", cfg.Sync.CheckpointInterval)
	}
	if cfg.Remote.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want default 5", cfg.Remote.FailureThreshold)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[sync]\nflush_interval = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for bad duration")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "postgres"
	cfg.Remote.Backend = "firestore"
	cfg.Sync.TypingIdle = Duration{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
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
