package video

import (
	"testing"

	"github.com/pion/rtp"

	"github.com/airan-project/airan/internal/wire"
)

func TestPacketizerCarriesFixedTrackIdentity(t *testing.T) {
	p := NewPacketizer()

	// A single-NAL access unit (a type-1 non-IDR slice), small enough to
	// stay under mtu and so never fragment into multiple FU-A packets.
	accessUnit := append([]byte{0x00, 0x00, 0x00, 0x01, 0x61}, make([]byte, 16)...)
	pkts := p.PacketizeAccessUnit(accessUnit, 3000)
	if len(pkts) == 0 {
		t.Fatalf("expected at least one packet")
	}
	for _, pkt := range pkts {
		if pkt.SSRC != wire.VideoSSRC {
			t.Errorf("SSRC = %d, want %d", pkt.SSRC, wire.VideoSSRC)
		}
		if pkt.PayloadType != wire.VideoPayloadType {
			t.Errorf("PayloadType = %d, want %d", pkt.PayloadType, wire.VideoPayloadType)
		}
	}
}

func TestDepacketizerWaitsForMarkerBit(t *testing.T) {
	d := NewDepacketizer()

	nonFinal := &rtp.Packet{
		Header:  rtp.Header{Marker: false},
		Payload: []byte{0x61, 0xAA, 0xBB},
	}
	out, err := d.PushRTP(nonFinal)
	if err != nil {
		t.Fatalf("PushRTP (non-final): %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil access unit before the marker bit, got %d bytes", len(out))
	}

	final := &rtp.Packet{
		Header:  rtp.Header{Marker: true},
		Payload: []byte{0x61, 0xCC, 0xDD},
	}
	out, err = d.PushRTP(final)
	if err != nil {
		t.Fatalf("PushRTP (final): %v", err)
	}
	if len(out) == 0 {
		t.Fatalf("expected a non-empty access unit once the marker bit arrives")
	}
}

func TestDepacketizerResetsAfterEachAccessUnit(t *testing.T) {
	d := NewDepacketizer()

	first := &rtp.Packet{Header: rtp.Header{Marker: true}, Payload: []byte{0x61, 0x01, 0x02, 0x03, 0x04, 0x05}}
	firstOut, err := d.PushRTP(first)
	if err != nil {
		t.Fatalf("PushRTP (first): %v", err)
	}

	second := &rtp.Packet{Header: rtp.Header{Marker: true}, Payload: []byte{0x61, 0x09}}
	secondOut, err := d.PushRTP(second)
	if err != nil {
		t.Fatalf("PushRTP (second): %v", err)
	}

	if len(secondOut) >= len(firstOut) {
		t.Fatalf("second access unit (%d bytes) should be smaller than the first (%d bytes) and not retain its bytes after a reset", len(secondOut), len(firstOut))
	}
}
