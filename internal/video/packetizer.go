package video

import (
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/airan-project/airan/internal/wire"
)

// mtu is the RTP payload size budget the H.264 payloader fragments NAL
// units into (FU-A), a conventional Ethernet-safe value.
const mtu = 1200

// Packetizer turns Annex-B access units from the encoder into RTP
// packets carrying SSRC wire.VideoSSRC on the H.264 payload type.
type Packetizer struct {
	rtp.Packetizer
	clockRate uint32
}

// NewPacketizer constructs a Packetizer for one session's video track.
func NewPacketizer() *Packetizer {
	return &Packetizer{
		Packetizer: rtp.NewPacketizer(
			mtu,
			wire.VideoPayloadType,
			wire.VideoSSRC,
			&codecs.H264Payloader{},
			rtp.NewRandomSequencer(),
			wire.VideoClockRateHz,
		),
		clockRate: wire.VideoClockRateHz,
	}
}

// PacketizeAccessUnit splits one Annex-B access unit into RTP packets at
// the frame's sample duration (clockRate/fps samples per frame).
func (p *Packetizer) PacketizeAccessUnit(accessUnit []byte, samples uint32) []*rtp.Packet {
	return p.Packetize(accessUnit, samples)
}

// Depacketizer reassembles RTP H.264 payloads (FU-A/STAP-A/single-NAL,
// RFC 6184) back into Annex-B access units via pion/rtp's H.264
// depacketizer.
type Depacketizer struct {
	pkt      codecs.H264Packet
	accessUnit []byte
}

// NewDepacketizer constructs an empty Depacketizer.
func NewDepacketizer() *Depacketizer {
	return &Depacketizer{}
}

// PushRTP feeds one received RTP packet's payload through the H.264
// depacketizer. It returns a complete Annex-B access unit once the
// packet carrying the RTP marker bit (end of frame) has been consumed;
// nil otherwise, meaning more fragments are expected.
func (d *Depacketizer) PushRTP(pkt *rtp.Packet) ([]byte, error) {
	nal, err := d.pkt.Unmarshal(pkt.Payload)
	if err != nil {
		return nil, err
	}
	d.accessUnit = append(d.accessUnit, nal...)

	if !pkt.Marker {
		return nil, nil
	}

	out := d.accessUnit
	d.accessUnit = nil
	return out, nil
}
