package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashPasswordIsUppercaseHex(t *testing.T) {
	got := HashPassword("secret")
	if len(got) != 32 {
		t.Fatalf("len(hash) = %d, want 32", len(got))
	}
	for _, r := range got {
		if r >= 'a' && r <= 'z' {
			t.Fatalf("hash %q contains lowercase, want uppercase hex", got)
		}
	}
}

func TestHashPasswordDeterministic(t *testing.T) {
	if HashPassword("abc") != HashPassword("abc") {
		t.Fatalf("HashPassword is not deterministic")
	}
	if HashPassword("abc") == HashPassword("abd") {
		t.Fatalf("different inputs hashed to the same value")
	}
}

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PeerID == "" {
		t.Fatalf("expected a generated PeerID on first run")
	}
	if cfg.FPS != 15 {
		t.Fatalf("FPS = %d, want default 15", cfg.FPS)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if reloaded.PeerID != cfg.PeerID {
		t.Fatalf("PeerID changed across reload: %s != %s", reloaded.PeerID, cfg.PeerID)
	}
}

func TestSetLocalPwdUpdatesHash(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.SetLocalPwd("hunter2")
	if cfg.LocalPwdMD5 != HashPassword("hunter2") {
		t.Fatalf("LocalPwdMD5 not updated by SetLocalPwd")
	}
}

func TestLoadUnreadableConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected ErrConfigUnreadable for malformed config")
	}
}
