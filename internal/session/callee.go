package session

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/airan-project/airan/internal/audio"
	"github.com/airan-project/airan/internal/fileproto"
	"github.com/airan-project/airan/internal/ice"
	"github.com/airan-project/airan/internal/inputproto"
	"github.com/airan-project/airan/internal/logging"
	"github.com/airan-project/airan/internal/signaling"
	"github.com/airan-project/airan/internal/video"
	"github.com/airan-project/airan/internal/wire"
)

// CalleeOptions configures a controlled-host session.
type CalleeOptions struct {
	LocalPeerID  string
	LocalPwdHash string
	RemotePeerID string

	Mode      Mode
	OnlyRelay bool

	// FPS and ControlMaxWidth/ControlMaxHeight come from the caller's
	// `connect` envelope: the requested frame rate and the largest area
	// the caller can render, driving the adaptive encode resolution.
	FPS                               int
	ControlMaxWidth, ControlMaxHeight int

	ICEServers ice.Servers

	// Lister serves inbound directory-listing requests (nil disables
	// listing, e.g. a file-only peer with no filesystem exposure policy).
	Lister fileproto.Lister
	// Injector performs OS-level input injection; required when Mode is
	// ModeVideoAndFile (input flows alongside media).
	Injector inputproto.Injector

	// Grabber captures the local screen; required when Mode is
	// ModeVideoAndFile.
	Grabber video.Grabber
	// Capturer captures the local audio input device; required when Mode
	// is ModeVideoAndFile and audio capture is available (nil disables
	// the audio track's capture side, e.g. when no input device is
	// configured).
	Capturer audio.Capturer
}

// NewCallee constructs a Controller in the callee role: it creates the
// PeerConnection, adds send-only tracks (if Mode is ModeVideoAndFile) and
// the three data channels, generates the offer, and ships it through
// router.
func NewCallee(router *signaling.Router, opts CalleeOptions) (*Controller, error) {
	pc, err := newPeerConnection(opts.ICEServers, opts.OnlyRelay)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		RemotePeerID:       opts.RemotePeerID,
		Mode:               opts.Mode,
		AdaptiveResolution: opts.ControlMaxWidth > 0 && opts.ControlMaxHeight > 0,
		OnlyRelay:          opts.OnlyRelay,
		pc:                 pc,
	}
	ctrl := &Controller{
		Session:      sess,
		Role:         RoleCallee,
		router:       router,
		localPeerID:  opts.LocalPeerID,
		localPwdHash: opts.LocalPwdHash,
	}

	if opts.Mode == ModeVideoAndFile {
		videoTrack, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: wire.VideoClockRateHz},
			wire.VideoMsid, wire.VideoStreamLabel,
		)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("session: create video track: %w", err)
		}
		if _, err := pc.AddTrack(videoTrack); err != nil {
			pc.Close()
			return nil, fmt.Errorf("session: add video track: %w", err)
		}
		sess.videoTrack = videoTrack

		audioTrack, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: wire.AudioClockRateHz},
			wire.AudioStreamLabel, wire.AudioStreamLabel,
		)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("session: create audio track: %w", err)
		}
		if _, err := pc.AddTrack(audioTrack); err != nil {
			pc.Close()
			return nil, fmt.Errorf("session: add audio track: %w", err)
		}
		sess.audioTrack = audioTrack
	}

	fileDC, err := pc.CreateDataChannel(wire.DataChannelFileLabel, nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("session: create file channel: %w", err)
	}
	fileTextDC, err := pc.CreateDataChannel(wire.DataChannelFileTextLabel, nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("session: create file_text channel: %w", err)
	}
	inputDC, err := pc.CreateDataChannel(wire.DataChannelInputLabel, nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("session: create input channel: %w", err)
	}
	sess.fileDC, sess.fileTextDC, sess.inputDC = fileDC, fileTextDC, inputDC

	ctrl.FileProto = fileproto.New(
		func(b []byte) error { return fileDC.Send(b) },
		func(s string) error { return fileTextDC.SendText(s) },
		opts.Lister,
	)
	fileTextDC.OnMessage(func(msg webrtc.DataChannelMessage) {
		if err := ctrl.FileProto.HandleText(string(msg.Data)); err != nil {
			logging.Warn("session %s: file_text: %v", opts.RemotePeerID, err)
		}
	})
	fileDC.OnMessage(func(msg webrtc.DataChannelMessage) {
		ctrl.FileProto.HandleFileFragment(msg.Data)
	})

	if opts.Injector != nil {
		ctrl.InputProto = inputproto.New(opts.LocalPeerID, opts.LocalPwdHash, opts.Injector)
	}
	inputDC.OnMessage(func(msg webrtc.DataChannelMessage) {
		ctrl.handleInputDatagram(msg.Data)
	})

	ctrl.wireConnectionState()
	ctrl.wireICECandidates(wire.RoleCli)

	ctrl.unsubscribers = append(ctrl.unsubscribers, router.On(wire.TypeAnswer, func(e wire.Envelope) {
		if e.Sender != opts.RemotePeerID || e.Receiver != opts.LocalPeerID {
			return
		}
		answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: e.Data}
		if err := pc.SetRemoteDescription(answer); err != nil {
			logging.Error("session %s: set remote description: %v", opts.RemotePeerID, err)
			ctrl.Close()
			return
		}
		ctrl.markRemoteDescriptionSet()

		if opts.Mode == ModeVideoAndFile {
			ctrl.startCapture(opts)
		}
	}))

	sess.setState(StateNegotiating)
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("session: create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("session: set local description: %w", err)
	}

	if err := router.Send(wire.Envelope{
		Role: wire.RoleCli, Type: wire.TypeOffer,
		Sender: opts.LocalPeerID, Receiver: opts.RemotePeerID,
		Data: offer.SDP,
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("session: send offer: %w", err)
	}

	return ctrl, nil
}

// startCapture opens the encode pipeline once the PeerConnection has a
// remote description (the callee starts the VideoPipeline and
// AudioPipeline once connected; started at answer time here so the
// first frames are already queued by the time ICE finishes).
func (c *Controller) startCapture(opts CalleeOptions) {
	track, ok := c.Session.videoTrack.(*webrtc.TrackLocalStaticRTP)
	if !ok || opts.Grabber == nil {
		return
	}

	_, screenW, screenH, err := probeScreen(opts.Grabber)
	if err != nil {
		logging.Error("session %s: probe screen size: %v", c.Session.RemotePeerID, err)
		return
	}

	fps := opts.FPS
	if fps <= 0 {
		fps = defaultFPS
	}
	encodeW, encodeH := video.AdaptiveResolution(screenW, screenH, opts.ControlMaxWidth, opts.ControlMaxHeight)
	bitrate := encodeW * encodeH * fps / 10

	pipeline, err := video.NewEncodePipeline(screenW, screenH, encodeW, encodeH, fps, bitrate, opts.Grabber, track)
	if err != nil {
		logging.Error("session %s: %v", c.Session.RemotePeerID, err)
		return
	}
	logging.Info("session %s: encoding %dx%d screen at %dx%d, %d fps", c.Session.RemotePeerID, screenW, screenH, encodeW, encodeH, fps)
	c.encodePipeline = pipeline
	go pipeline.Run(backgroundContext())

	c.startAudioCapture(opts)
}

// defaultFPS applies when the connect envelope carried no fps field.
const defaultFPS = 15

// startAudioCapture mirrors startCapture for the audio track: it is a
// no-op when no Capturer was wired (no platform audio-capture backend
// on this build).
func (c *Controller) startAudioCapture(opts CalleeOptions) {
	track, ok := c.Session.audioTrack.(*webrtc.TrackLocalStaticRTP)
	if !ok || opts.Capturer == nil {
		return
	}

	pipeline, err := audio.NewEncodePipeline(opts.Capturer, track)
	if err != nil {
		logging.Error("session %s: %v", c.Session.RemotePeerID, err)
		return
	}
	c.audioEncodePipeline = pipeline
	go pipeline.Run()
}

func probeScreen(g video.Grabber) ([]byte, int, int, error) {
	return g.Grab()
}

// handleInputDatagram distinguishes the shared-channel request_keyframe
// message from ordinary keyboard/mouse events sharing the channel.
func (c *Controller) handleInputDatagram(raw []byte) {
	var probe wire.Datagram
	if err := jsonUnmarshal(raw, &probe); err == nil && probe.MsgType == wire.MsgTypeRequestKeyframe {
		if c.encodePipeline != nil {
			c.encodePipeline.ForceKeyframe()
		}
		return
	}
	if c.InputProto != nil {
		if err := c.InputProto.HandleDatagram(raw); err != nil {
			logging.Warn("session %s: input: %v", c.Session.RemotePeerID, err)
		}
	}
}
