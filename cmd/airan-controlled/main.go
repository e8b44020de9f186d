// Command airan-controlled runs the controlled (callee) side of an airan
// session: it exposes the local screen, audio, and filesystem to
// whatever controller connects with the right shared secret.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airan-project/airan/internal/config"
	"github.com/airan-project/airan/internal/fileproto"
	"github.com/airan-project/airan/internal/ice"
	"github.com/airan-project/airan/internal/inputproto"
	"github.com/airan-project/airan/internal/logging"
	"github.com/airan-project/airan/internal/sessionregistry"
	"github.com/airan-project/airan/internal/signaling"
)

func main() {
	configPath := flag.String("config", "airan-controlled.json", "Path to the persisted configuration file")
	signalURL := flag.String("signal-url", "", "Signaling server WebSocket URL (overrides the config file)")
	localPwd := flag.String("local-pwd", "", "Plaintext shared secret controllers must present (overrides the config file)")
	debug := flag.Bool("debug", false, "Enable debug-level logging")
	flag.Parse()

	if *debug {
		logging.EnableDebug()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("controlled: load config: %v", err)
		os.Exit(1)
	}
	if *signalURL != "" {
		cfg.WSURL = *signalURL
	}
	if *localPwd != "" {
		cfg.SetLocalPwd(*localPwd)
	}
	if err := cfg.Save(); err != nil {
		logging.Warn("controlled: save config: %v", err)
	}

	logging.Info("controlled: peer id %s, dialing signaling server %s", cfg.PeerID, cfg.WSURL)

	client := signaling.NewClient(cfg.WSURL)
	router := signaling.NewRouter(client)
	client.OnConnected(func() {
		logging.Info("controlled: connected to signaling server")
	})
	client.OnDisconnected(func() {
		logging.Warn("controlled: disconnected from signaling server")
	})
	client.OnReconnectStatus(func(phase, attempt int, next time.Duration) {
		logging.Warn("controlled: reconnecting (phase %d, attempt %d, next in %s)", phase, attempt, next)
	})

	registry := sessionregistry.New(router, cfg.PeerID, cfg.LocalPwdMD5, ice.FromConfig(cfg), sessionregistry.IncomingPolicy{
		Lister:   fileproto.OSLister,
		Injector: inputproto.NewPlatformInjector(fallbackScreenSize),
		Grabber:  unimplementedGrabber{},
		Capturer: unimplementedCapturer{},
	})
	defer registry.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client.Connect(ctx, 0)

	<-ctx.Done()
	logging.Info("controlled: shutting down")
}

// unimplementedGrabber stands in for the platform screen-capture
// collaborator; wiring a real implementation is an OS-specific concern
// outside this core.
type unimplementedGrabber struct{}

func (unimplementedGrabber) Grab() ([]byte, int, int, error) {
	return nil, 0, 0, errUnimplementedCollaborator
}

// unimplementedCapturer stands in for the platform audio-capture
// collaborator; wiring a real implementation is an OS-specific concern
// outside this core.
type unimplementedCapturer struct{}

func (unimplementedCapturer) Capture() ([]int16, error) {
	return nil, errUnimplementedCollaborator
}

// fallbackScreenSize stands in for the real display-size query;
// NewPlatformInjector's Windows backend needs it to scale
// normalised mouse coordinates, so a real wiring would source it from
// the same capture API as Grabber.
func fallbackScreenSize() (int, int, error) {
	return 1920, 1080, nil
}

var errUnimplementedCollaborator = errors.New("controlled: no platform screen/audio capture collaborator wired for this build")
