package session

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestStateString(t *testing.T) {
	cases := []struct {
		s    State
		want string
	}{
		{StateNew, "new"},
		{StateNegotiating, "negotiating"},
		{StateConnected, "connected"},
		{StateDraining, "draining"},
		{StateClosed, "closed"},
		{State(99), "unknown"},
	}
	for _, c := range cases {
		if got := c.s.String(); got != c.want {
			t.Errorf("State(%d).String() = %q, want %q", c.s, got, c.want)
		}
	}
}

func TestSessionSetStateIsIdempotentNoTransitionLog(t *testing.T) {
	s := &Session{RemotePeerID: "peer-1"}
	s.setState(StateNew)
	if s.State() != StateNew {
		t.Fatalf("State() = %v, want StateNew", s.State())
	}
	s.setState(StateConnected)
	if s.State() != StateConnected {
		t.Fatalf("State() = %v, want StateConnected", s.State())
	}
}

func newTestController(t *testing.T) *Controller {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	t.Cleanup(func() { pc.Close() })
	sess := &Session{RemotePeerID: "peer-1", pc: pc}
	return &Controller{Session: sess, Role: RoleCallee}
}

func TestAddOrQueueCandidateQueuesBeforeRemoteDescription(t *testing.T) {
	c := newTestController(t)

	mid := "0"
	c.addOrQueueCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 ...", SDPMid: &mid})

	if len(c.Session.pendingCandidates) != 1 {
		t.Fatalf("pendingCandidates len = %d, want 1 before remote description is set", len(c.Session.pendingCandidates))
	}
}

func TestMarkRemoteDescriptionSetFlushesQueue(t *testing.T) {
	c := newTestController(t)

	mid := "0"
	c.addOrQueueCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 ...", SDPMid: &mid})
	if len(c.Session.pendingCandidates) != 1 {
		t.Fatalf("expected one queued candidate before flush")
	}

	c.markRemoteDescriptionSet()

	if !c.Session.remoteDescSet {
		t.Fatalf("remoteDescSet should be true after markRemoteDescriptionSet")
	}
	if len(c.Session.pendingCandidates) != 0 {
		t.Fatalf("pendingCandidates should be drained after flush, got %d", len(c.Session.pendingCandidates))
	}
}

func TestAddOrQueueCandidateAfterRemoteDescriptionDoesNotQueue(t *testing.T) {
	c := newTestController(t)
	c.markRemoteDescriptionSet()

	mid := "0"
	c.addOrQueueCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 ...", SDPMid: &mid})

	if len(c.Session.pendingCandidates) != 0 {
		t.Fatalf("candidate arriving after remote description should not be queued, got %d", len(c.Session.pendingCandidates))
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := newTestController(t)
	c.Close()
	c.Close()
	if c.Session.State() != StateClosed {
		t.Fatalf("State() = %v, want StateClosed", c.Session.State())
	}
}
