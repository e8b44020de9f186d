package ice

import (
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/airan-project/airan/internal/config"
)

func TestBuildConfigurationShape(t *testing.T) {
	cfg := BuildConfiguration(Servers{Host: "turn.example.com", Port: 1234, Username: "u", Password: "p"}, false)

	if len(cfg.ICEServers) != 3 {
		t.Fatalf("len(ICEServers) = %d, want 3 (1 STUN + 2 TURN)", len(cfg.ICEServers))
	}
	if cfg.ICEServers[0].URLs[0] != "stun:turn.example.com:1234" {
		t.Fatalf("ICEServers[0] = %v, want stun entry", cfg.ICEServers[0].URLs)
	}
	if cfg.ICEServers[1].URLs[0] != "turn:turn.example.com:1234?transport=udp" {
		t.Fatalf("ICEServers[1] = %v, want udp turn entry", cfg.ICEServers[1].URLs)
	}
	if cfg.ICEServers[2].URLs[0] != "turn:turn.example.com:1234?transport=tcp" {
		t.Fatalf("ICEServers[2] = %v, want tcp turn entry", cfg.ICEServers[2].URLs)
	}
	for _, s := range cfg.ICEServers[1:] {
		if s.Username != "u" || s.Credential != "p" {
			t.Fatalf("turn entry %v does not carry shared credentials", s)
		}
	}
	if cfg.ICETransportPolicy != webrtc.ICETransportPolicyAll {
		t.Fatalf("ICETransportPolicy = %v, want All when onlyRelay is false", cfg.ICETransportPolicy)
	}
}

func TestBuildConfigurationOnlyRelay(t *testing.T) {
	cfg := BuildConfiguration(Servers{}, true)
	if cfg.ICETransportPolicy != webrtc.ICETransportPolicyRelay {
		t.Fatalf("ICETransportPolicy = %v, want Relay", cfg.ICETransportPolicy)
	}
}

func TestBuildConfigurationDefaultsHostPort(t *testing.T) {
	cfg := BuildConfiguration(Servers{}, false)
	if cfg.ICEServers[0].URLs[0] != "stun:stun.airan.local:3478" {
		t.Fatalf("default stun url = %v", cfg.ICEServers[0].URLs)
	}
}

func TestFromConfigCarriesICEFields(t *testing.T) {
	cfg := &config.Config{
		ICEHost:       "turn.example.com",
		ICEPort:       1234,
		ICEUsername:   "u",
		ICECredential: "p",
	}
	servers := FromConfig(cfg)
	if servers.Host != "turn.example.com" || servers.Port != 1234 {
		t.Fatalf("FromConfig host/port = %s:%d, want turn.example.com:1234", servers.Host, servers.Port)
	}
	if servers.Username != "u" || servers.Password != "p" {
		t.Fatalf("FromConfig credentials = %s/%s, want u/p", servers.Username, servers.Password)
	}
}
