// Package session owns the per-peer session state: PeerConnection
// lifecycle, offer/answer/ICE exchange driven through signaling.Router,
// and the track/data-channel wiring both the callee (controlled host)
// and caller (controller) sides need.
package session

import (
	"fmt"
	"sync"

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

// Mode selects which channels/tracks a Session carries.
type Mode int

const (
	ModeVideoAndFile Mode = iota
	ModeFileOnly
)

// State is one node of the per-session state machine.
type State int

const (
	StateNew State = iota
	StateNegotiating
	StateConnected
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role distinguishes the callee (controlled host, exposes media/files,
// creates the offer) from the caller (controller, answers, consumes
// media/files). Note these names are the opposite of everyday telephony
// intuition: the controlled host initiates the offer.
type Role int

const (
	RoleCallee Role = iota
	RoleCaller
)

// Session is owned exclusively by the Controller that created it (and,
// above that, by a sessionregistry.Registry).
type Session struct {
	RemotePeerID        string
	RemotePasswordHash  string
	Mode                Mode
	AdaptiveResolution  bool
	OnlyRelay           bool

	mu    sync.Mutex
	state State

	pc *webrtc.PeerConnection

	fileDC     *webrtc.DataChannel
	fileTextDC *webrtc.DataChannel
	inputDC    *webrtc.DataChannel

	videoTrack any // *webrtc.TrackLocalStaticRTP (callee) or *webrtc.TrackRemote (caller)
	audioTrack any

	pendingCandidates []webrtc.ICECandidateInit
	remoteDescSet     bool
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		logging.Info("session %s: %s -> %s", s.RemotePeerID, prev, next)
	}
}

// Controller owns one Session end to end: PeerConnection creation, the
// signaling dance through a signaling.Router, track/channel wiring, and
// strictly ordered cleanup.
type Controller struct {
	Session *Session
	Role    Role

	router       *signaling.Router
	localPeerID  string
	localPwdHash string

	unsubscribers []func()

	FileProto  *fileproto.Protocol
	InputProto *inputproto.Protocol

	encodePipeline *video.EncodePipeline
	decodePipeline *video.DecodePipeline

	audioEncodePipeline *audio.EncodePipeline
	audioDecodePipeline *audio.DecodePipeline

	onConnected func()
	onClosed    func()

	closeOnce sync.Once
}

// newPeerConnection constructs a fresh PeerConnection configured with the
// session's ICE servers and only-relay policy.
func newPeerConnection(servers ice.Servers, onlyRelay bool) (*webrtc.PeerConnection, error) {
	cfg := ice.BuildConfiguration(servers, onlyRelay)
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("session: create peer connection: %w", err)
	}
	return pc, nil
}

// OnConnected registers a callback fired each time the PeerConnection
// transitions to connected.
func (c *Controller) OnConnected(fn func()) { c.onConnected = fn }

// OnClosed registers a callback fired once cleanup has fully run.
func (c *Controller) OnClosed(fn func()) { c.onClosed = fn }

func (c *Controller) wireConnectionState() {
	c.Session.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			c.Session.setState(StateConnected)
			if c.onConnected != nil {
				c.onConnected()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.Session.setState(StateClosed)
			c.Close()
		}
	})
}

// wireICECandidates trickles local candidates to the peer as they are
// gathered, and queues inbound candidates addressed to this session
// until the remote description is set.
func (c *Controller) wireICECandidates(localRole wire.Role) {
	c.Session.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return // ICE gathering completed.
		}
		init := cand.ToJSON()
		mid := ""
		if init.SDPMid != nil {
			mid = *init.SDPMid
		}
		if err := c.router.Send(wire.Envelope{
			Role: localRole, Type: wire.TypeCandidate,
			Sender: c.localPeerID, Receiver: c.Session.RemotePeerID,
			Data: init.Candidate, Mid: mid,
		}); err != nil {
			logging.Error("session %s: send candidate: %v", c.Session.RemotePeerID, err)
		}
	})

	c.unsubscribers = append(c.unsubscribers, c.router.On(wire.TypeCandidate, func(e wire.Envelope) {
		if e.Sender != c.Session.RemotePeerID || e.Receiver != c.localPeerID {
			return
		}
		// Candidates with empty data or mid carry nothing usable.
		if e.Data == "" || e.Mid == "" {
			return
		}
		mid := e.Mid
		c.addOrQueueCandidate(webrtc.ICECandidateInit{Candidate: e.Data, SDPMid: &mid})
	}))
}

func (c *Controller) addOrQueueCandidate(init webrtc.ICECandidateInit) {
	c.Session.mu.Lock()
	ready := c.Session.remoteDescSet
	if !ready {
		c.Session.pendingCandidates = append(c.Session.pendingCandidates, init)
	}
	c.Session.mu.Unlock()

	if ready {
		if err := c.Session.pc.AddICECandidate(init); err != nil {
			logging.Error("session %s: add ice candidate: %v", c.Session.RemotePeerID, err)
		}
	}
}

// markRemoteDescriptionSet flushes any candidates queued before
// SetRemoteDescription completed; delivering a candidate earlier than
// that is an error in the underlying library.
func (c *Controller) markRemoteDescriptionSet() {
	c.Session.mu.Lock()
	c.Session.remoteDescSet = true
	pending := c.Session.pendingCandidates
	c.Session.pendingCandidates = nil
	c.Session.mu.Unlock()

	for _, init := range pending {
		if err := c.Session.pc.AddICECandidate(init); err != nil {
			logging.Error("session %s: add queued ice candidate: %v", c.Session.RemotePeerID, err)
		}
	}
}

// Close tears the session down in strict order:
// detach callbacks, close channels/tracks, stop capture, release the
// PeerConnection, drop hwregistry references (the last of which happens
// inside the video pipelines' own Close). Idempotent.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.Session.setState(StateDraining)

		for _, unsub := range c.unsubscribers {
			if unsub != nil {
				unsub()
			}
		}

		for _, dc := range []*webrtc.DataChannel{c.Session.fileDC, c.Session.fileTextDC, c.Session.inputDC} {
			if dc != nil {
				_ = dc.Close()
			}
		}

		if c.encodePipeline != nil {
			c.encodePipeline.Close()
		}
		if c.decodePipeline != nil {
			c.decodePipeline.Close()
		}
		if c.audioEncodePipeline != nil {
			c.audioEncodePipeline.Close()
		}
		if c.audioDecodePipeline != nil {
			c.audioDecodePipeline.Close()
		}

		if c.FileProto != nil {
			c.FileProto.Close()
		}

		if c.Session.pc != nil {
			_ = c.Session.pc.Close()
		}

		c.Session.setState(StateClosed)
		if c.onClosed != nil {
			c.onClosed()
		}
	})
}
