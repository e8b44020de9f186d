package session

import (
	"encoding/json"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/airan-project/airan/internal/audio"
	"github.com/airan-project/airan/internal/fileproto"
	"github.com/airan-project/airan/internal/ice"
	"github.com/airan-project/airan/internal/logging"
	"github.com/airan-project/airan/internal/signaling"
	"github.com/airan-project/airan/internal/video"
	"github.com/airan-project/airan/internal/wire"
)

// CallerOptions configures a controller-side session.
type CallerOptions struct {
	LocalPeerID        string
	LocalPwdHash       string
	RemotePeerID       string
	RemotePasswordHash string

	Mode      Mode
	OnlyRelay bool

	FPS                              int
	ControlMaxWidth, ControlMaxHeight int

	ICEServers ice.Servers

	Lister fileproto.Lister

	// OnVideoFrame receives each decoded RGB24 image for rendering. May
	// be nil for a file-only caller. The frame is only valid for the
	// duration of the callback.
	OnVideoFrame func(*astiav.Frame)

	// AudioQueue receives decoded PCM buffers for playback. May be nil
	// to disable audio playback.
	AudioQueue *audio.PlaybackQueue
}

// NewCaller constructs a Controller in the caller role, subscribed to the
// offer the callee will send for RemotePeerID. It first sends the
// `connect` envelope that starts the whole dance.
func NewCaller(router *signaling.Router, opts CallerOptions) (*Controller, error) {
	sess := &Session{
		RemotePeerID:       opts.RemotePeerID,
		RemotePasswordHash: opts.RemotePasswordHash,
		Mode:               opts.Mode,
		OnlyRelay:          opts.OnlyRelay,
	}
	ctrl := &Controller{
		Session:      sess,
		Role:         RoleCaller,
		router:       router,
		localPeerID:  opts.LocalPeerID,
		localPwdHash: opts.LocalPwdHash,
	}

	unsubOffer := router.On(wire.TypeOffer, func(e wire.Envelope) {
		if e.Sender != opts.RemotePeerID || e.Receiver != opts.LocalPeerID {
			return
		}
		if err := ctrl.handleOffer(opts, e); err != nil {
			logging.Error("session %s: %v", opts.RemotePeerID, err)
			ctrl.Close()
		}
	})
	ctrl.unsubscribers = append(ctrl.unsubscribers, unsubOffer)

	isOnlyFile := opts.Mode == ModeFileOnly
	connectEnvelope := wire.Envelope{
		Role: wire.RoleCtl, Type: wire.TypeConnect,
		Sender: opts.LocalPeerID, Receiver: opts.RemotePeerID,
		ReceiverPwd: opts.RemotePasswordHash,
		IsOnlyFile:  &isOnlyFile,
		OnlyRelay:   &opts.OnlyRelay,
	}
	if opts.FPS > 0 {
		connectEnvelope.FPS = &opts.FPS
	}
	if opts.ControlMaxWidth > 0 {
		connectEnvelope.ControlMaxWidth = &opts.ControlMaxWidth
	}
	if opts.ControlMaxHeight > 0 {
		connectEnvelope.ControlMaxHeight = &opts.ControlMaxHeight
	}

	sess.setState(StateNegotiating)
	if err := router.Send(connectEnvelope); err != nil {
		return nil, fmt.Errorf("session: send connect: %w", err)
	}

	return ctrl, nil
}

func (c *Controller) handleOffer(opts CallerOptions, e wire.Envelope) error {
	pc, err := newPeerConnection(opts.ICEServers, opts.OnlyRelay)
	if err != nil {
		return err
	}
	c.Session.pc = pc

	c.wireConnectionState()
	c.wireICECandidates(wire.RoleCtl)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c.bindCallerChannel(dc, opts)
	})

	if opts.Mode == ModeVideoAndFile {
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			c.bindCallerTrack(track, opts)
		})
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: e.Data}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	c.markRemoteDescriptionSet()

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	return c.router.Send(wire.Envelope{
		Role: wire.RoleCtl, Type: wire.TypeAnswer,
		Sender: opts.LocalPeerID, Receiver: opts.RemotePeerID,
		Data: answer.SDP,
	})
}

// bindCallerChannel wires the three data channels the callee created, by
// label.
func (c *Controller) bindCallerChannel(dc *webrtc.DataChannel, opts CallerOptions) {
	switch dc.Label() {
	case wire.DataChannelFileLabel:
		c.Session.fileDC = dc
		c.ensureFileProto(opts)
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			c.FileProto.HandleFileFragment(msg.Data)
		})

	case wire.DataChannelFileTextLabel:
		c.Session.fileTextDC = dc
		c.ensureFileProto(opts)
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if err := c.FileProto.HandleText(string(msg.Data)); err != nil {
				logging.Error("session %s: file_text: %v", opts.RemotePeerID, err)
			}
		})

	case wire.DataChannelInputLabel:
		c.Session.inputDC = dc

	default:
		logging.Error("session %s: unrecognised data channel label %q", opts.RemotePeerID, dc.Label())
	}
}

func (c *Controller) ensureFileProto(opts CallerOptions) {
	if c.FileProto != nil {
		return
	}
	c.FileProto = fileproto.New(
		func(b []byte) error {
			if c.Session.fileDC == nil {
				return fmt.Errorf("file channel not yet open")
			}
			return c.Session.fileDC.Send(b)
		},
		func(s string) error {
			if c.Session.fileTextDC == nil {
				return fmt.Errorf("file_text channel not yet open")
			}
			return c.Session.fileTextDC.SendText(s)
		},
		opts.Lister,
	)
}

// RequestKeyframe sends the shared-channel request_keyframe datagram on
// `input`; input events and keyframe requests share the channel and are
// distinguished by msgType.
func (c *Controller) RequestKeyframe() {
	if c.Session.inputDC == nil {
		return
	}
	data, err := json.Marshal(wire.Datagram{MsgType: wire.MsgTypeRequestKeyframe})
	if err != nil {
		return
	}
	_ = c.Session.inputDC.Send(data)
}

// bindCallerTrack starts the decode pipeline for the track matching its
// MIME type: video frames reach OnVideoFrame, audio buffers land on
// AudioQueue for the caller's playback device to drain.
func (c *Controller) bindCallerTrack(track *webrtc.TrackRemote, opts CallerOptions) {
	reader := func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	}

	switch track.Kind() {
	case webrtc.RTPCodecTypeVideo:
		if opts.OnVideoFrame == nil {
			return
		}
		pipeline, err := video.NewDecodePipeline(reader, opts.OnVideoFrame, c.RequestKeyframe)
		if err != nil {
			logging.Error("session %s: %v", opts.RemotePeerID, err)
			return
		}
		c.decodePipeline = pipeline
		go func() {
			if err := pipeline.Run(); err != nil {
				logging.Error("session %s: %v", opts.RemotePeerID, err)
			}
		}()

	case webrtc.RTPCodecTypeAudio:
		if opts.AudioQueue == nil {
			return
		}
		pipeline, err := audio.NewDecodePipeline(reader, opts.AudioQueue)
		if err != nil {
			logging.Error("session %s: %v", opts.RemotePeerID, err)
			return
		}
		c.audioDecodePipeline = pipeline
		go func() {
			if err := pipeline.Run(); err != nil {
				logging.Error("session %s: %v", opts.RemotePeerID, err)
			}
		}()
	}
}
