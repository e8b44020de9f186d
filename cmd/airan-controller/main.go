// Command airan-controller runs the controller (caller) side of an airan
// session: it connects to a controlled peer, consumes the video/audio it
// receives, and can list/upload/download files. Rendering itself is a
// GUI concern outside this core; this binary stands in for it by dumping
// each decoded frame's RGB24 bytes to a file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/asticode/go-astiav"

	"github.com/airan-project/airan/internal/audio"
	"github.com/airan-project/airan/internal/config"
	"github.com/airan-project/airan/internal/ice"
	"github.com/airan-project/airan/internal/logging"
	"github.com/airan-project/airan/internal/session"
	"github.com/airan-project/airan/internal/sessionregistry"
	"github.com/airan-project/airan/internal/signaling"
)

func main() {
	configPath := flag.String("config", "airan-controller.json", "Path to the persisted configuration file")
	signalURL := flag.String("signal-url", "", "Signaling server WebSocket URL (overrides the config file)")
	remotePeer := flag.String("remote-peer", "", "PeerId of the controlled host to connect to")
	remotePwd := flag.String("remote-pwd", "", "Plaintext shared secret the controlled host expects")
	fileOnly := flag.Bool("file-only", false, "Open a file-only session (no video/audio tracks)")
	onlyRelay := flag.Bool("only-relay", false, "Force TURN-relay-only ICE candidates")
	maxWidth := flag.Int("max-width", 1920, "Largest viewable width reported to the controlled host")
	maxHeight := flag.Int("max-height", 1080, "Largest viewable height reported to the controlled host")
	frameDumpDir := flag.String("frame-dump-dir", "", "Directory to write received frames' raw RGB24 bytes to (empty disables)")
	audioDumpDir := flag.String("audio-dump-dir", "", "Directory to write received audio PCM buffers to (empty disables)")
	debug := flag.Bool("debug", false, "Enable debug-level logging")
	flag.Parse()

	if *debug {
		logging.EnableDebug()
	}
	if *remotePeer == "" {
		fmt.Fprintln(os.Stderr, "controller: -remote-peer is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("controller: load config: %v", err)
		os.Exit(1)
	}
	if *signalURL != "" {
		cfg.WSURL = *signalURL
	}

	logging.Info("controller: peer id %s, dialing signaling server %s", cfg.PeerID, cfg.WSURL)

	mode := session.ModeVideoAndFile
	if *fileOnly {
		mode = session.ModeFileOnly
	}
	dumper := newFrameDumper(*frameDumpDir)
	pcmDumper := newPCMDumper(*audioDumpDir)
	audioQueue := audio.NewPlaybackQueue()
	go drainPlaybackQueue(audioQueue, pcmDumper)

	client := signaling.NewClient(cfg.WSURL)
	router := signaling.NewRouter(client)
	registry := sessionregistry.New(router, cfg.PeerID, cfg.LocalPwdMD5, ice.FromConfig(cfg), sessionregistry.IncomingPolicy{})
	defer registry.Shutdown()

	client.OnConnected(func() {
		logging.Info("controller: connected to signaling server")
		if _, err := registry.OpenOutgoing(session.CallerOptions{
			RemotePeerID:       *remotePeer,
			RemotePasswordHash: config.HashPassword(*remotePwd),
			Mode:               mode,
			OnlyRelay:          *onlyRelay,
			FPS:                cfg.FPS,
			ControlMaxWidth:    *maxWidth,
			ControlMaxHeight:   *maxHeight,
			OnVideoFrame:       dumper.onFrame,
			AudioQueue:         audioQueue,
		}); err != nil {
			logging.Error("controller: open_outgoing %s: %v", *remotePeer, err)
		}
	})
	client.OnDisconnected(func() {
		logging.Warn("controller: disconnected from signaling server")
	})
	client.OnReconnectStatus(func(phase, attempt int, next time.Duration) {
		logging.Warn("controller: reconnecting (phase %d, attempt %d, next in %s)", phase, attempt, next)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client.Connect(ctx, 0)

	<-ctx.Done()
	logging.Info("controller: shutting down")
}

// frameDumper stands in for the out-of-scope GUI render collaborator: it
// writes each decoded frame's RGB24 plane to its own file under dir,
// numbered sequentially, when dir is non-empty.
type frameDumper struct {
	dir   string
	count atomic.Uint64
}

func newFrameDumper(dir string) *frameDumper {
	if dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	return &frameDumper{dir: dir}
}

func (d *frameDumper) onFrame(f *astiav.Frame) {
	if d.dir == "" {
		return
	}
	n := d.count.Add(1)
	path := fmt.Sprintf("%s/frame-%06d.rgb", d.dir, n)
	raw, err := f.Data().Bytes(1)
	if err != nil {
		logging.Warn("controller: read frame data: %v", err)
		return
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		logging.Warn("controller: write frame dump %s: %v", path, err)
	}
}

// pcmDumper stands in for the out-of-scope audio playback-device
// collaborator: it writes each decoded PCM buffer to its own file under
// dir when dir is non-empty, mirroring frameDumper.
type pcmDumper struct {
	dir   string
	count atomic.Uint64
}

func newPCMDumper(dir string) *pcmDumper {
	if dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	return &pcmDumper{dir: dir}
}

func (d *pcmDumper) onPCM(pcm []int16) {
	if d.dir == "" {
		return
	}
	n := d.count.Add(1)
	path := fmt.Sprintf("%s/audio-%06d.pcm", d.dir, n)
	raw := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		raw[2*i] = byte(uint16(s))
		raw[2*i+1] = byte(uint16(s) >> 8)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		logging.Warn("controller: write audio dump %s: %v", path, err)
	}
}

// drainPlaybackQueue pops decoded buffers off q as they arrive, handing
// each to dumper. A real build would instead feed these to the system's
// default output device.
func drainPlaybackQueue(q *audio.PlaybackQueue, dumper *pcmDumper) {
	for {
		pcm, ok := q.Pop()
		if !ok {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		dumper.onPCM(pcm)
	}
}
