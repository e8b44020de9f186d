package audio

import (
	"time"

	"github.com/asticode/go-astiav"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/airan-project/airan/internal/logging"
	"github.com/airan-project/airan/internal/wire"
)

// FrameDuration is the capture buffer length: 20ms, the conventional
// RTP Opus packetization interval.
const FrameDuration = 20 * time.Millisecond

// SamplesPerFrame is the per-channel sample count one FrameDuration
// buffer carries at SampleRate.
const SamplesPerFrame = SampleRate * int(FrameDuration/time.Millisecond) / 1000

const mtu = 1200

// Capturer captures one interleaved stereo 16-bit PCM buffer from the
// system's audio input device. OS-level audio capture is an external
// collaborator; this package only consumes it.
type Capturer interface {
	Capture() (pcm []int16, err error)
}

// RTPWriter is satisfied by webrtc.TrackLocalStaticRTP.
type RTPWriter interface {
	WriteRTP(*rtp.Packet) error
}

// EncodePipeline drives capture -> energy-gate -> encode -> packetize ->
// send for one session's audio track, mirroring video.EncodePipeline's
// per-frame structure.
type EncodePipeline struct {
	capturer Capturer
	sender   RTPWriter

	enc  *Encoder
	pktz rtp.Packetizer

	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewEncodePipeline opens an Opus Encoder and wires capturer/sender
// around it.
func NewEncodePipeline(capturer Capturer, sender RTPWriter) (*EncodePipeline, error) {
	enc, err := OpenEncoder()
	if err != nil {
		return nil, err
	}

	pktz := rtp.NewPacketizer(
		mtu,
		wire.AudioPayloadType,
		wire.AudioSSRC,
		&codecs.OpusPayloader{},
		rtp.NewRandomSequencer(),
		wire.AudioClockRateHz,
	)

	return &EncodePipeline{
		capturer: capturer, sender: sender,
		enc: enc, pktz: pktz,
		interval: FrameDuration,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Run drives the capture timer until Close is called. Each tick: capture
// one PCM buffer, encode (silence-gated), packetize, send — dropping
// the buffer on failure rather than aborting the session.
func (p *EncodePipeline) Run() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	rtpSamples := uint32(wire.AudioClockRateHz * int(FrameDuration/time.Millisecond) / 1000)

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.tick(rtpSamples)
		}
	}
}

func (p *EncodePipeline) tick(rtpSamples uint32) {
	pcm, err := p.capturer.Capture()
	if err != nil {
		logging.Warn("audio: capture: %v", err)
		return
	}
	if len(pcm) == 0 {
		return
	}

	frame, err := pcmFrame(pcm)
	if frame != nil {
		defer frame.Free()
	}
	if err != nil {
		logging.Warn("audio: build frame: %v", err)
		return
	}

	units, err := p.enc.EncodePCM(pcm, frame)
	if err != nil {
		logging.Warn("audio: encode: %v", err)
		return
	}

	for _, unit := range units {
		for _, pkt := range p.pktz.Packetize(unit, rtpSamples) {
			if err := p.sender.WriteRTP(pkt); err != nil {
				logging.Warn("audio: write rtp: %v", err)
				return
			}
		}
	}
}

// Close stops the capture loop and releases the encoder.
func (p *EncodePipeline) Close() {
	close(p.stop)
	<-p.done
	p.enc.Close()
}

func pcmFrame(pcm []int16) (*astiav.Frame, error) {
	frame := astiav.AllocFrame()
	frame.SetSampleFormat(astiav.SampleFormatS16)
	frame.SetChannelLayout(astiav.ChannelLayoutStereo)
	frame.SetSampleRate(SampleRate)
	frame.SetNbSamples(len(pcm) / Channels)
	if err := frame.AllocBuffer(1); err != nil {
		return frame, err
	}
	raw := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		raw[2*i] = byte(uint16(s))
		raw[2*i+1] = byte(uint16(s) >> 8)
	}
	if err := frame.Data().SetBytes(raw, 1); err != nil {
		return frame, err
	}
	return frame, nil
}

// RTPReaderFunc adapts a "read next RTP packet" source (typically
// webrtc.TrackRemote.ReadRTP) into the shape DecodePipeline consumes.
type RTPReaderFunc func() (*rtp.Packet, error)

// DecodePipeline drives receive -> depacketize -> decode -> enqueue for
// one session's audio track.
type DecodePipeline struct {
	source RTPReaderFunc
	queue  *PlaybackQueue

	dec *Decoder
	pkt codecs.OpusPacket

	stop chan struct{}
}

// NewDecodePipeline opens an Opus Decoder and wires source/queue.
func NewDecodePipeline(source RTPReaderFunc, queue *PlaybackQueue) (*DecodePipeline, error) {
	dec, err := OpenDecoder()
	if err != nil {
		return nil, err
	}
	return &DecodePipeline{source: source, queue: queue, dec: dec, stop: make(chan struct{})}, nil
}

// Run reads RTP packets until source returns an error or Close is
// called, depacketizing and decoding each one and pushing the resulting
// PCM buffers onto the PlaybackQueue.
func (dp *DecodePipeline) Run() error {
	for {
		select {
		case <-dp.stop:
			return nil
		default:
		}

		pkt, err := dp.source()
		if err != nil {
			return err
		}

		opus, err := dp.pkt.Unmarshal(pkt.Payload)
		if err != nil {
			logging.Warn("audio: depacketize: %v", err)
			continue
		}

		buffers, err := dp.dec.DecodeOpus(opus)
		if err != nil {
			logging.Warn("audio: decode: %v", err)
			continue
		}
		for _, pcm := range buffers {
			dp.queue.Push(pcm)
		}
	}
}

// Close stops Run and releases the decoder.
func (dp *DecodePipeline) Close() {
	close(dp.stop)
	dp.dec.Close()
}
