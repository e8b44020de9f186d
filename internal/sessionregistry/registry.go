// Package sessionregistry is the process-scoped index from PeerId to a
// live session.Controller: it spawns a callee session per authorized
// inbound connect, opens caller sessions on demand, and reaps both on
// disconnect.
package sessionregistry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/airan-project/airan/internal/audio"
	"github.com/airan-project/airan/internal/fileproto"
	"github.com/airan-project/airan/internal/ice"
	"github.com/airan-project/airan/internal/inputproto"
	"github.com/airan-project/airan/internal/logging"
	"github.com/airan-project/airan/internal/session"
	"github.com/airan-project/airan/internal/signaling"
	"github.com/airan-project/airan/internal/video"
	"github.com/airan-project/airan/internal/wire"
)

// IncomingPolicy supplies the callee-side collaborators accept_incoming
// needs to build a session.CalleeOptions once an inbound `connect`
// envelope has been authorized.
type IncomingPolicy struct {
	Lister   fileproto.Lister
	Injector inputproto.Injector
	Grabber  video.Grabber
	Capturer audio.Capturer
}

// Registry is a PeerId-keyed index of live session.Controllers. Its lock
// is held only across map operations, never across a Send or a callback.
type Registry struct {
	router       *signaling.Router
	localPeerID  string
	localPwdHash string
	iceServers   ice.Servers

	policy IncomingPolicy

	mu       sync.Mutex
	sessions map[string]*session.Controller
	online   map[string]struct{}

	unsubscribers []func()
}

// New constructs a Registry bound to router, subscribing to the
// `connect` envelope (accept_incoming) and the online-peer push
// envelopes (`onlineOne`, `onlineList`, `offlineOne`).
func New(router *signaling.Router, localPeerID, localPwdHash string, iceServers ice.Servers, policy IncomingPolicy) *Registry {
	r := &Registry{
		router:       router,
		localPeerID:  localPeerID,
		localPwdHash: localPwdHash,
		iceServers:   iceServers,
		policy:       policy,
		sessions:     make(map[string]*session.Controller),
		online:       make(map[string]struct{}),
	}

	r.unsubscribers = append(r.unsubscribers,
		router.On(wire.TypeConnect, r.acceptIncoming),
		router.On(wire.TypeOnlineOne, r.handleOnlineOne),
		router.On(wire.TypeOnlineList, r.handleOnlineList),
		router.On(wire.TypeOfflineOne, r.handleOfflineOne),
	)
	return r
}

// acceptIncoming implements accept_incoming(envelope): validates
// receiver_pwd against the local PasswordHash (dropping silently on
// mismatch), replaces any already-live session for the sender, and
// spawns a callee session.Controller for it.
func (r *Registry) acceptIncoming(e wire.Envelope) {
	if e.Receiver != r.localPeerID {
		return
	}
	if e.ReceiverPwd != r.localPwdHash {
		logging.Warn("sessionregistry: connect from %s: bad receiver_pwd, dropping", e.Sender)
		return
	}

	mode := session.ModeVideoAndFile
	if e.IsOnlyFile != nil && *e.IsOnlyFile {
		mode = session.ModeFileOnly
	}
	onlyRelay := e.OnlyRelay != nil && *e.OnlyRelay

	opts := session.CalleeOptions{
		LocalPeerID:  r.localPeerID,
		LocalPwdHash: r.localPwdHash,
		RemotePeerID: e.Sender,
		Mode:         mode,
		OnlyRelay:    onlyRelay,
		ICEServers:   r.iceServers,
		Lister:       r.policy.Lister,
		Injector:     r.policy.Injector,
		Grabber:      r.policy.Grabber,
		Capturer:     r.policy.Capturer,
	}
	if e.FPS != nil {
		opts.FPS = *e.FPS
	}
	if e.ControlMaxWidth != nil {
		opts.ControlMaxWidth = *e.ControlMaxWidth
	}
	if e.ControlMaxHeight != nil {
		opts.ControlMaxHeight = *e.ControlMaxHeight
	}

	r.closeExisting(e.Sender)

	ctrl, err := session.NewCallee(r.router, opts)
	if err != nil {
		logging.Error("sessionregistry: accept_incoming %s: %v", e.Sender, err)
		return
	}
	r.put(e.Sender, ctrl)
}

// OpenOutgoing implements open_outgoing(peer_id, password_hash, mode,
// options): closes any already-live session for peerID and spawns a
// caller session.Controller addressed to it.
func (r *Registry) OpenOutgoing(opts session.CallerOptions) (*session.Controller, error) {
	if opts.RemotePeerID == "" {
		return nil, fmt.Errorf("sessionregistry: open_outgoing: empty peer id")
	}
	opts.LocalPeerID = r.localPeerID
	opts.LocalPwdHash = r.localPwdHash
	if opts.ICEServers == (ice.Servers{}) {
		opts.ICEServers = r.iceServers
	}
	if opts.Lister == nil {
		opts.Lister = r.policy.Lister
	}

	r.closeExisting(opts.RemotePeerID)

	ctrl, err := session.NewCaller(r.router, opts)
	if err != nil {
		return nil, fmt.Errorf("sessionregistry: open_outgoing %s: %w", opts.RemotePeerID, err)
	}
	r.put(opts.RemotePeerID, ctrl)
	return ctrl, nil
}

// Close implements close(peer_id): closes and removes the live session
// for peerID, if any. A no-op when no session is live.
func (r *Registry) Close(peerID string) {
	r.mu.Lock()
	ctrl, ok := r.sessions[peerID]
	if ok {
		delete(r.sessions, peerID)
	}
	r.mu.Unlock()

	if ok {
		ctrl.Close()
	}
}

// closeExisting closes a prior session for peerID without requiring the
// caller to hold the registry's lock across the close call itself.
func (r *Registry) closeExisting(peerID string) {
	r.mu.Lock()
	prev, ok := r.sessions[peerID]
	if ok {
		delete(r.sessions, peerID)
	}
	r.mu.Unlock()

	if ok {
		logging.Info("sessionregistry: replacing live session for %s", peerID)
		prev.Close()
	}
}

func (r *Registry) put(peerID string, ctrl *session.Controller) {
	ctrl.OnClosed(func() { r.Close(peerID) })

	r.mu.Lock()
	r.sessions[peerID] = ctrl
	r.mu.Unlock()
}

// OnlinePeers implements online_peers() -> snapshot: the set of peer ids
// the signaling server has most recently reported online, sorted for
// deterministic output.
func (r *Registry) OnlinePeers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.online))
	for id := range r.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Session returns the live session.Controller for peerID, if any.
func (r *Registry) Session(peerID string) (*session.Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctrl, ok := r.sessions[peerID]
	return ctrl, ok
}

func (r *Registry) handleOnlineOne(e wire.Envelope) {
	r.mu.Lock()
	r.online[e.Sender] = struct{}{}
	r.mu.Unlock()
}

func (r *Registry) handleOnlineList(e wire.Envelope) {
	r.mu.Lock()
	r.online = make(map[string]struct{}, len(e.OnlinePeers))
	for _, id := range e.OnlinePeers {
		r.online[id] = struct{}{}
	}
	r.mu.Unlock()
}

func (r *Registry) handleOfflineOne(e wire.Envelope) {
	r.mu.Lock()
	delete(r.online, e.Sender)
	r.mu.Unlock()
}

// Shutdown closes every live session and detaches the registry's router
// subscriptions. Call once, at process exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Close(id)
	}
	for _, unsub := range r.unsubscribers {
		if unsub != nil {
			unsub()
		}
	}
}
