package signaling

import "testing"

// TestPhaseDelaysTable locks in the escalating backoff schedule:
// 1s/10s/30s/60s, each held for up to maxRetryPerPhase attempts before the
// next phase takes over (Phase3 repeats indefinitely).
func TestPhaseDelaysTable(t *testing.T) {
	cases := []struct {
		phase ReconnectPhase
		want  int64
	}{
		{Phase0, 1},
		{Phase1, 10},
		{Phase2, 30},
		{Phase3, 60},
	}
	for _, c := range cases {
		got := phaseDelays[c.phase]
		if got.Seconds() != float64(c.want) {
			t.Fatalf("phase %d delay = %v, want %ds", c.phase, got, c.want)
		}
	}
}

// TestReconnectScheduleAdvancesPhases walks the same bookkeeping run() uses
// and checks it reproduces the expected attempt/phase timeline:
// ten 1s retries, then ten 10s retries, then ten 30s retries, then an
// unbounded run of 60s retries.
func TestReconnectScheduleAdvancesPhases(t *testing.T) {
	phase := Phase0
	attempt := 0
	var elapsed int64

	var timeline []int64
	for i := 0; i < 31; i++ {
		elapsed += int64(phaseDelays[phase].Seconds())
		timeline = append(timeline, elapsed)

		attempt++
		if attempt >= maxRetryPerPhase {
			attempt = 0
			if phase < Phase3 {
				phase++
			}
		}
	}

	want := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110, 140, 170, 200, 230, 260, 290, 320, 350, 380, 410, 470}
	if len(timeline) != len(want) {
		t.Fatalf("got %d timeline entries, want %d", len(timeline), len(want))
	}
	for i := range want {
		if timeline[i] != want[i] {
			t.Fatalf("attempt %d: elapsed = %ds, want %ds (full: %v)", i, timeline[i], want[i], timeline)
		}
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient("ws://example.invalid/ws")
	if c.heartbeatInterval != DefaultHeartbeatInterval {
		t.Fatalf("heartbeatInterval = %v, want %v", c.heartbeatInterval, DefaultHeartbeatInterval)
	}
	if c.connected {
		t.Fatalf("new client should not be connected")
	}
}

func TestSendWithoutConnectionReturnsError(t *testing.T) {
	c := NewClient("ws://example.invalid/ws")
	if err := c.SendText("hello"); err != errNotConnected {
		t.Fatalf("SendText on disconnected client: got %v, want errNotConnected", err)
	}
	if err := c.SendBinary([]byte("hello")); err != errNotConnected {
		t.Fatalf("SendBinary on disconnected client: got %v, want errNotConnected", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := NewClient("ws://example.invalid/ws")
	c.closed = true // simulate a client that was already closed
	c.Close()
	c.Close()
}
