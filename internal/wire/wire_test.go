package wire

import (
	"math/rand"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	fps := 30
	onlyFile := true
	e := Envelope{
		Role:        RoleCtl,
		Type:        TypeConnect,
		Sender:      "peerA",
		Receiver:    "peerB",
		ReceiverPwd: "DEADBEEF",
		FPS:         &fps,
		IsOnlyFile:  &onlyFile,
	}

	data, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Role != e.Role || got.Type != e.Type || got.Sender != e.Sender ||
		got.Receiver != e.Receiver || got.ReceiverPwd != e.ReceiverPwd {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, e)
	}
	if got.FPS == nil || *got.FPS != fps {
		t.Fatalf("FPS not round-tripped: %+v", got.FPS)
	}
	if got.IsOnlyFile == nil || *got.IsOnlyFile != onlyFile {
		t.Fatalf("IsOnlyFile not round-tripped: %+v", got.IsOnlyFile)
	}
}

func TestFragmentHeaderRoundTrip(t *testing.T) {
	h := FragmentHeader{Total: 5, Index: 2}
	buf := make([]byte, FragmentSize)
	EncodeFragmentHeader(buf, h)

	got, err := ParseFragmentHeader(buf)
	if err != nil {
		t.Fatalf("ParseFragmentHeader: %v", err)
	}
	if got.Total != h.Total || got.Index != h.Index {
		t.Fatalf("got %+v want %+v", got, h)
	}
}

func TestParseFragmentHeaderBoundaries(t *testing.T) {
	// Too small.
	if _, err := ParseFragmentHeader(make([]byte, 16)); err != ErrFragmentInvalid {
		t.Fatalf("expected ErrFragmentInvalid for short buffer, got %v", err)
	}

	// total == 0.
	buf := make([]byte, FragmentSize)
	EncodeFragmentHeader(buf, FragmentHeader{Total: 0, Index: 0})
	if _, err := ParseFragmentHeader(buf); err != ErrFragmentInvalid {
		t.Fatalf("expected ErrFragmentInvalid for total=0, got %v", err)
	}

	// index >= total.
	EncodeFragmentHeader(buf, FragmentHeader{Total: 3, Index: 3})
	if _, err := ParseFragmentHeader(buf); err != ErrFragmentInvalid {
		t.Fatalf("expected ErrFragmentInvalid for index>=total, got %v", err)
	}

	// total beyond MaxFragmentTotal.
	EncodeFragmentHeader(buf, FragmentHeader{Total: MaxFragmentTotal + 1, Index: 0})
	if _, err := ParseFragmentHeader(buf); err != ErrFragmentInvalid {
		t.Fatalf("expected ErrFragmentInvalid for total>max, got %v", err)
	}
}

func TestSplitJoinFragmentsRoundTrip(t *testing.T) {
	sizes := []int{0, 1, PayloadCapacity - 1, PayloadCapacity, PayloadCapacity + 1, 25000}
	for _, size := range sizes {
		logical := make([]byte, size)
		rand.New(rand.NewSource(int64(size))).Read(logical)

		frags := SplitFragments(logical)
		expectedTotal := FragmentCount(size)
		if uint64(len(frags)) != expectedTotal {
			t.Fatalf("size %d: got %d fragments, want %d", size, len(frags), expectedTotal)
		}

		for _, f := range frags {
			if len(f) != FragmentSize {
				t.Fatalf("fragment size = %d, want %d", len(f), FragmentSize)
			}
		}

		// Reassemble in a shuffled order, keyed by index, then rejoin.
		perm := rand.New(rand.NewSource(1)).Perm(len(frags))
		payloads := make([][]byte, len(frags))
		for _, idx := range perm {
			h, err := ParseFragmentHeader(frags[idx])
			if err != nil {
				t.Fatalf("ParseFragmentHeader: %v", err)
			}
			payloads[h.Index] = frags[idx][HeaderSize:]
		}

		joined := JoinFragments(payloads)
		joined = joined[:size] // trim trailing zero padding of the last fragment
		if string(joined) != string(logical) {
			t.Fatalf("size %d: reassembled payload mismatch", size)
		}
	}
}

func TestScanAnnexBKeyframe(t *testing.T) {
	sps := append(append([]byte{}, StartCode...), 0x67, 0x01, 0x02)
	pps := append(append([]byte{}, StartCode...), 0x68, 0x03)
	idr := append(append([]byte{}, StartCode...), 0x65, 0x88, 0x99)

	var buf []byte
	buf = append(buf, sps...)
	buf = append(buf, pps...)
	buf = append(buf, idr...)

	units := ScanAnnexB(buf)
	if len(units) != 3 {
		t.Fatalf("got %d NAL units, want 3", len(units))
	}
	hasSPS, hasPPS := HasKeyframeParameterSets(units)
	if !hasSPS || !hasPPS {
		t.Fatalf("hasSPS=%v hasPPS=%v, want both true", hasSPS, hasPPS)
	}
	if !IsKeyframe(units) {
		t.Fatalf("IsKeyframe = false, want true")
	}
}

func TestScanAnnexBMixedStartCodes(t *testing.T) {
	var buf []byte
	buf = append(buf, 0x00, 0x00, 0x00, 0x01, 0x67, 0xAA) // 4-byte start code
	buf = append(buf, 0x00, 0x00, 0x01, 0x68, 0xBB)       // 3-byte start code

	units := ScanAnnexB(buf)
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	if units[0].Type != 7 || units[1].Type != 8 {
		t.Fatalf("unexpected NAL types: %v, %v", units[0].Type, units[1].Type)
	}
}
