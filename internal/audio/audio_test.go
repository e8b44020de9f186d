package audio

import "testing"

func TestEnergy(t *testing.T) {
	cases := []struct {
		name string
		pcm  []int16
		want float64
	}{
		{"empty", nil, 0},
		{"silence", []int16{0, 0, 0}, 0},
		{"full scale", []int16{32767, -32768}, 1.0},
		{"half scale", []int16{16384}, 0.5},
	}
	for _, c := range cases {
		got := Energy(c.pcm)
		if diff := got - c.want; diff > 0.01 || diff < -0.01 {
			t.Errorf("%s: Energy(%v) = %v, want ~%v", c.name, c.pcm, got, c.want)
		}
	}
}

func TestPreferredCaptureDeviceWindowsPrefersStereoMix(t *testing.T) {
	candidates := []Device{
		{Name: "Microphone Array", IsInput: true},
		{Name: "Stereo Mix", IsInput: true},
	}
	got, err := PreferredCaptureDevice(candidates, "windows")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "Stereo Mix" {
		t.Fatalf("got %q, want Stereo Mix", got.Name)
	}
}

func TestPreferredCaptureDeviceNonWindowsTakesFirst(t *testing.T) {
	candidates := []Device{
		{Name: "default", IsInput: true},
		{Name: "Stereo Mix", IsInput: true},
	}
	got, err := PreferredCaptureDevice(candidates, "linux")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "default" {
		t.Fatalf("got %q, want default (first candidate)", got.Name)
	}
}

func TestPreferredCaptureDeviceNoCandidates(t *testing.T) {
	if _, err := PreferredCaptureDevice(nil, "windows"); err == nil {
		t.Fatalf("expected error for empty candidate list")
	}
}

func TestPlaybackQueueDropsOldestOnOverflow(t *testing.T) {
	q := NewPlaybackQueue()
	for i := 0; i < PlaybackQueueDepth+2; i++ {
		q.Push([]int16{int16(i)})
	}
	if q.Len() != PlaybackQueueDepth {
		t.Fatalf("Len() = %d, want %d", q.Len(), PlaybackQueueDepth)
	}

	first, ok := q.Pop()
	if !ok {
		t.Fatalf("expected a buffer")
	}
	if first[0] != 2 {
		t.Fatalf("oldest surviving buffer = %v, want [2] (0 and 1 dropped)", first)
	}
}

func TestPlaybackQueuePopEmpty(t *testing.T) {
	q := NewPlaybackQueue()
	if _, ok := q.Pop(); ok {
		t.Fatalf("Pop on empty queue should report !ok")
	}
}
