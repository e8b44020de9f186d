package signaling

import (
	"testing"

	"github.com/airan-project/airan/internal/wire"
)

func TestRouterDispatchesByType(t *testing.T) {
	c := NewClient("ws://example.invalid/ws")
	r := NewRouter(c)

	var gotOffer, gotAnswer int
	r.On(wire.TypeOffer, func(wire.Envelope) { gotOffer++ })
	r.On(wire.TypeAnswer, func(wire.Envelope) { gotAnswer++ })

	r.handleRaw(`{"role":"cli","type":"offer","sender":"a","receiver":"b"}`)
	r.handleRaw(`{"role":"ctl","type":"answer","sender":"b","receiver":"a"}`)
	r.handleRaw(`{"role":"cli","type":"offer","sender":"a","receiver":"b"}`)

	if gotOffer != 2 {
		t.Fatalf("gotOffer = %d, want 2", gotOffer)
	}
	if gotAnswer != 1 {
		t.Fatalf("gotAnswer = %d, want 1", gotAnswer)
	}
}

func TestRouterDropsMalformedEnvelope(t *testing.T) {
	c := NewClient("ws://example.invalid/ws")
	r := NewRouter(c)

	called := false
	r.On(wire.TypeOffer, func(wire.Envelope) { called = true })

	r.handleRaw("not json")

	if called {
		t.Fatalf("handler should not run for malformed input")
	}
}

func TestRouterUnsubscribeStopsDelivery(t *testing.T) {
	c := NewClient("ws://example.invalid/ws")
	r := NewRouter(c)

	count := 0
	unsub := r.On(wire.TypeCandidate, func(wire.Envelope) { count++ })

	r.handleRaw(`{"role":"cli","type":"candidate"}`)
	unsub()
	r.handleRaw(`{"role":"cli","type":"candidate"}`)

	if count != 1 {
		t.Fatalf("count = %d, want 1 (unsubscribe should stop delivery)", count)
	}
}

func TestRouterSendWithoutConnectionReturnsError(t *testing.T) {
	c := NewClient("ws://example.invalid/ws")
	r := NewRouter(c)

	err := r.Send(wire.Envelope{Role: wire.RoleCli, Type: wire.TypeOffer})
	if err != errNotConnected {
		t.Fatalf("Send on disconnected client: got %v, want errNotConnected", err)
	}
}
