// Package config holds the persisted configuration of an airan process.
//
// Stored fields: a per-installation PeerId generated once and reused, the FPS and
// UI preferences, the signaling URL, ICE server credentials, and a
// plaintext local password that is MD5-hashed into LocalPwdMD5 for
// every outbound comparison.
package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LogLevel mirrors the severities the logging package exposes.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Config is the persistent, per-installation configuration. Fields mirror
// the persisted option set: fps, showUI, logLevel, wsUrl, ICE
// host/port/username/password, local_pwd.
type Config struct {
	PeerID   string   `json:"peer_id"`
	FPS      int      `json:"fps"`
	ShowUI   bool     `json:"show_ui"`
	LogLevel LogLevel `json:"log_level"`
	WSURL    string   `json:"ws_url"`

	// ICEHost/ICEPort are shared by the one STUN entry and the two TURN
	// (UDP + TCP) entries; ICEUsername/ICECredential are the shared TURN
	// credentials.
	ICEHost       string `json:"ice_host"`
	ICEPort       int    `json:"ice_port"`
	ICEUsername   string `json:"ice_username"`
	ICECredential string `json:"ice_credential"`

	// LocalPwd is the plaintext shared secret a controller must present
	// (after MD5 hashing) to be allowed to connect to this peer.
	LocalPwd    string `json:"local_pwd"`
	LocalPwdMD5 string `json:"local_pwd_md5"`

	path string
}

// Default returns the baseline configuration used when no file exists yet.
func Default() Config {
	return Config{
		FPS:           15,
		ShowUI:        true,
		LogLevel:      LogLevelInfo,
		ICEHost:       "stun.airan.local",
		ICEPort:       3478,
		ICEUsername:   "airan",
		ICECredential: "airan",
	}
}

// ErrConfigUnreadable is returned when a config file exists but cannot be
// parsed. Distinct from a missing file, which Load treats as first-run.
var ErrConfigUnreadable = fmt.Errorf("config: existing config file is unreadable")

// Load reads the configuration at path, creating a fresh PeerId-bearing
// default config on first run. The PeerId, once generated, is persisted
// and reused for the lifetime of the installation.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.PeerID = uuid.NewString()
		cfg.rehash()
		if saveErr := cfg.Save(); saveErr != nil {
			return nil, saveErr
		}
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if jsonErr := json.Unmarshal(data, &cfg); jsonErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigUnreadable, jsonErr)
	}
	cfg.path = path

	if cfg.PeerID == "" {
		cfg.PeerID = uuid.NewString()
		if saveErr := cfg.Save(); saveErr != nil {
			return nil, saveErr
		}
	}
	return &cfg, nil
}

// Save persists the configuration to its backing file.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config: no backing path set")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(c.path, data, 0o600)
}

// SetLocalPwd updates the plaintext secret and recomputes its MD5 hash.
func (c *Config) SetLocalPwd(pwd string) {
	c.LocalPwd = pwd
	c.rehash()
}

func (c *Config) rehash() {
	c.LocalPwdMD5 = HashPassword(c.LocalPwd)
}

// HashPassword returns the uppercase hexadecimal MD5 of secret, the
// PasswordHash representation used throughout signaling envelopes.
func HashPassword(secret string) string {
	sum := md5.Sum([]byte(secret))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
