package signaling

import (
	"sync"

	"github.com/airan-project/airan/internal/logging"
	"github.com/airan-project/airan/internal/wire"
)

// EnvelopeHandler receives one decoded Envelope of the subscribed type.
// The Router does not filter by receiver; handlers check addressing.
type EnvelopeHandler func(wire.Envelope)

// Router layers Envelope-level pub/sub on top of a Client's raw
// text/binary callbacks, dispatching inbound envelopes to subscribers
// keyed by EnvelopeType. One Router normally serves one
// SessionRegistry; SessionControllers subscribe for the types their
// state machine cares about (offer/answer/candidate) and unsubscribe on
// Close.
type Router struct {
	client *Client

	mu       sync.Mutex
	handlers map[wire.EnvelopeType][]EnvelopeHandler
}

// NewRouter wraps client, installing itself as the client's OnText/OnBinary
// handlers. Both text and binary frames are decoded identically; some
// peers duplicate envelopes as binary and the receiver accepts either.
func NewRouter(client *Client) *Router {
	r := &Router{client: client, handlers: make(map[wire.EnvelopeType][]EnvelopeHandler)}
	client.OnText(r.handleRaw)
	client.OnBinary(func(b []byte) { r.handleRaw(string(b)) })
	return r
}

// On subscribes fn to every inbound Envelope whose Type equals t. Returns
// an unsubscribe function.
func (r *Router) On(t wire.EnvelopeType, fn EnvelopeHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = append(r.handlers[t], fn)
	idx := len(r.handlers[t]) - 1
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx < len(r.handlers[t]) {
			r.handlers[t][idx] = nil
		}
	}
}

// Send encodes e and writes it as a UTF-8 JSON text frame.
func (r *Router) Send(e wire.Envelope) error {
	data, err := wire.Encode(e)
	if err != nil {
		return err
	}
	return r.client.SendText(string(data))
}

func (r *Router) handleRaw(raw string) {
	e, err := wire.Decode([]byte(raw))
	if err != nil {
		// Drop the single message, never the connection.
		logging.Warn("signaling: dropping malformed envelope: %v", err)
		return
	}

	r.mu.Lock()
	fns := append([]EnvelopeHandler{}, r.handlers[e.Type]...)
	r.mu.Unlock()

	for _, fn := range fns {
		if fn != nil {
			fn(e)
		}
	}
}
