// Package ice builds the pion/webrtc ICE configuration from a peer's
// persisted ICE server settings: one STUN server and two TURN relays
// (UDP + TCP transport) sharing credentials.
package ice

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/airan-project/airan/internal/config"
)

// Servers describes the per-installation STUN/TURN configuration that
// config.Config's ICEHost/ICEPort/ICEUsername/ICECredential fields are
// built from (host/port/username/password shared by both TURN
// transports).
type Servers struct {
	Host     string
	Port     int
	Username string
	Password string
}

// FromConfig derives Servers from the persisted ICE host/port/username/
// credential fields, falling back to BuildConfiguration's own defaults
// when the config carries none (fresh install).
func FromConfig(cfg *config.Config) Servers {
	return Servers{
		Host:     cfg.ICEHost,
		Port:     cfg.ICEPort,
		Username: cfg.ICEUsername,
		Password: cfg.ICECredential,
	}
}

// BuildConfiguration assembles the webrtc.Configuration for a new
// PeerConnection: one STUN entry and two TURN entries (UDP and TCP relay)
// at the same host/port with shared credentials. When
// onlyRelay is set (the session's only-relay flag), the
// ICETransportPolicy is restricted to relay-only so the caller never
// attempts (and potentially leaks) a host/srflx candidate.
func BuildConfiguration(servers Servers, onlyRelay bool) webrtc.Configuration {
	if servers.Host == "" {
		servers.Host = "stun.airan.local"
	}
	if servers.Port == 0 {
		servers.Port = 3478
	}

	iceServers := []webrtc.ICEServer{
		{URLs: []string{fmt.Sprintf("stun:%s:%d", servers.Host, servers.Port)}},
		{
			URLs:       []string{fmt.Sprintf("turn:%s:%d?transport=udp", servers.Host, servers.Port)},
			Username:   servers.Username,
			Credential: servers.Password,
		},
		{
			URLs:       []string{fmt.Sprintf("turn:%s:%d?transport=tcp", servers.Host, servers.Port)},
			Username:   servers.Username,
			Credential: servers.Password,
		},
	}

	cfg := webrtc.Configuration{ICEServers: iceServers}
	if onlyRelay {
		cfg.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	return cfg
}
