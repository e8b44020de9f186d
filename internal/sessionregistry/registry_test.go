package sessionregistry

import (
	"testing"

	"github.com/airan-project/airan/internal/ice"
	"github.com/airan-project/airan/internal/session"
	"github.com/airan-project/airan/internal/signaling"
	"github.com/airan-project/airan/internal/wire"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	client := signaling.NewClient("ws://example.invalid/ws")
	router := signaling.NewRouter(client)
	r := New(router, "local-peer", "DEADBEEF", ice.Servers{}, IncomingPolicy{})
	t.Cleanup(r.Shutdown)
	return r
}

func TestAcceptIncomingDropsOnPasswordMismatch(t *testing.T) {
	r := newTestRegistry(t)

	r.acceptIncoming(wire.Envelope{
		Role: wire.RoleCtl, Type: wire.TypeConnect,
		Sender: "peer-2", Receiver: "local-peer",
		ReceiverPwd: "WRONG",
	})

	if _, ok := r.Session("peer-2"); ok {
		t.Fatalf("a session should not be created when receiver_pwd mismatches")
	}
}

func TestAcceptIncomingIgnoresEnvelopesForOtherReceivers(t *testing.T) {
	r := newTestRegistry(t)

	r.acceptIncoming(wire.Envelope{
		Role: wire.RoleCtl, Type: wire.TypeConnect,
		Sender: "peer-2", Receiver: "someone-else",
		ReceiverPwd: "DEADBEEF",
	})

	if _, ok := r.Session("peer-2"); ok {
		t.Fatalf("a session should not be created for a connect envelope addressed elsewhere")
	}
}

func TestOnlinePeersTracksPushEnvelopes(t *testing.T) {
	r := newTestRegistry(t)

	r.handleOnlineList(wire.Envelope{OnlinePeers: []string{"a", "b"}})
	if got := r.OnlinePeers(); len(got) != 2 {
		t.Fatalf("OnlinePeers() = %v, want 2 entries", got)
	}

	r.handleOnlineOne(wire.Envelope{Sender: "c"})
	if got := r.OnlinePeers(); len(got) != 3 {
		t.Fatalf("OnlinePeers() = %v, want 3 entries after onlineOne", got)
	}

	r.handleOfflineOne(wire.Envelope{Sender: "b"})
	got := r.OnlinePeers()
	if len(got) != 2 {
		t.Fatalf("OnlinePeers() = %v, want 2 entries after offlineOne", got)
	}
	for _, id := range got {
		if id == "b" {
			t.Fatalf("peer b should have been removed by offlineOne, got %v", got)
		}
	}
}

func TestCloseOnUnknownPeerIsNoop(t *testing.T) {
	r := newTestRegistry(t)
	r.Close("never-existed")
}

func TestOpenOutgoingRejectsEmptyPeerID(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.OpenOutgoing(session.CallerOptions{}); err == nil {
		t.Fatalf("expected error for empty RemotePeerID")
	}
}
