// Package audio implements the audio half of a session: system-audio
// capture and Opus encode on the controlled side, Opus decode and
// bounded-queue playback on the controller side.
package audio

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/asticode/go-astiav"

	"github.com/airan-project/airan/internal/logging"
)

// SampleRate and Channels are the fixed PCM capture format: 44.1kHz
// 16-bit stereo.
const (
	SampleRate  = 44100
	Channels    = 2
	BitDepth    = 16
	PlaybackQueueDepth = 5

	// EncodeSampleRate is the rate the Opus codec actually runs at; the
	// encoder resamples captured 44.1kHz PCM up to it (Opus only accepts
	// the 48kHz family).
	EncodeSampleRate = 48000

	// DefaultSilenceThreshold is the normalised-amplitude floor below
	// which a captured buffer is suppressed rather than encoded and sent.
	DefaultSilenceThreshold = 0.01
)

// Device describes one capture or playback device candidate, surfaced by
// the platform audio backend (an external collaborator; this package
// only ranks and selects among what it's given).
type Device struct {
	Name    string
	IsInput bool
}

// PreferredCaptureDevice ranks candidates by name: "stereo mix" /
// loopback devices first on Windows (they carry the system output),
// first listed device otherwise.
func PreferredCaptureDevice(candidates []Device, goos string) (Device, error) {
	if len(candidates) == 0 {
		return Device{}, fmt.Errorf("audio: no capture devices available")
	}

	if goos == "windows" {
		for _, d := range candidates {
			lower := strings.ToLower(d.Name)
			if strings.Contains(lower, "stereo mix") || strings.Contains(lower, "loopback") {
				return d, nil
			}
		}
	}
	return candidates[0], nil
}

// Energy computes the normalised peak amplitude of a 16-bit PCM buffer,
// used to gate the silence threshold.
func Energy(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var peak int32
	for _, s := range pcm {
		v := int32(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return float64(peak) / 32768.0
}

// Encoder owns one Opus encoder, used on the controlled side to turn
// captured PCM buffers into Opus frames for the audio track.
type Encoder struct {
	codecCtx         *astiav.CodecContext
	packet           *astiav.Packet
	resampler        *astiav.SoftwareResampleContext
	silenceThreshold float64
}

// OpenEncoder opens an Opus encoder, using the same FFmpeg binding the
// video pipeline already depends on.
func OpenEncoder() (*Encoder, error) {
	codec := astiav.FindEncoder(astiav.CodecIDOpus)
	if codec == nil {
		return nil, fmt.Errorf("audio: opus encoder not available in this ffmpeg build")
	}

	ctx := astiav.AllocCodecContext(codec)
	if ctx == nil {
		return nil, fmt.Errorf("audio: allocate codec context")
	}
	ctx.SetSampleRate(EncodeSampleRate)
	ctx.SetSampleFormat(astiav.SampleFormatS16)
	ctx.SetChannelLayout(astiav.ChannelLayoutStereo)
	ctx.SetBitRate(64000)

	if err := ctx.Open(codec, nil); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("audio: open opus encoder: %w", err)
	}

	return &Encoder{
		codecCtx:         ctx,
		packet:           astiav.AllocPacket(),
		resampler:        astiav.AllocSoftwareResampleContext(),
		silenceThreshold: DefaultSilenceThreshold,
	}, nil
}

// SetSilenceThreshold overrides DefaultSilenceThreshold.
func (e *Encoder) SetSilenceThreshold(v float64) { e.silenceThreshold = v }

// EncodePCM submits one interleaved stereo 16-bit PCM buffer (at the
// capture rate) and returns every Opus frame the codec drains for it,
// resampling up to EncodeSampleRate first. Buffers whose peak energy
// falls below the silence threshold are suppressed and return (nil, nil)
// without reaching the encoder.
func (e *Encoder) EncodePCM(pcm []int16, frame *astiav.Frame) ([][]byte, error) {
	if Energy(pcm) < e.silenceThreshold {
		return nil, nil
	}

	resampled := astiav.AllocFrame()
	defer resampled.Free()
	resampled.SetSampleFormat(astiav.SampleFormatS16)
	resampled.SetChannelLayout(astiav.ChannelLayoutStereo)
	resampled.SetSampleRate(EncodeSampleRate)
	if err := e.resampler.ConvertFrame(frame, resampled); err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}

	if err := e.codecCtx.SendFrame(resampled); err != nil {
		return nil, fmt.Errorf("audio: send frame: %w", err)
	}

	var out [][]byte
	for {
		if err := e.codecCtx.ReceivePacket(e.packet); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				break
			}
			return out, fmt.Errorf("audio: receive packet: %w", err)
		}
		out = append(out, append([]byte{}, e.packet.Data()...))
		e.packet.Unref()
	}
	return out, nil
}

// Close releases the encoder. Idempotent.
func (e *Encoder) Close() {
	if e.codecCtx != nil {
		e.codecCtx.Free()
		e.codecCtx = nil
	}
	if e.packet != nil {
		e.packet.Free()
		e.packet = nil
	}
	if e.resampler != nil {
		e.resampler.Free()
		e.resampler = nil
	}
}

// Decoder owns one Opus decoder, used on the controller side.
type Decoder struct {
	codecCtx  *astiav.CodecContext
	packet    *astiav.Packet
	frame     *astiav.Frame
	resampler *astiav.SoftwareResampleContext
}

// OpenDecoder opens an Opus decoder. The codec emits planar float at
// EncodeSampleRate; the decoder's resampler converts each drained frame
// back to the interleaved S16 playback format at SampleRate.
func OpenDecoder() (*Decoder, error) {
	codec := astiav.FindDecoder(astiav.CodecIDOpus)
	if codec == nil {
		return nil, fmt.Errorf("audio: opus decoder not available in this ffmpeg build")
	}
	ctx := astiav.AllocCodecContext(codec)
	if ctx == nil {
		return nil, fmt.Errorf("audio: allocate codec context")
	}
	ctx.SetSampleRate(EncodeSampleRate)
	ctx.SetChannelLayout(astiav.ChannelLayoutStereo)
	if err := ctx.Open(codec, nil); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("audio: open opus decoder: %w", err)
	}
	return &Decoder{
		codecCtx:  ctx,
		packet:    astiav.AllocPacket(),
		frame:     astiav.AllocFrame(),
		resampler: astiav.AllocSoftwareResampleContext(),
	}, nil
}

// DecodeOpus submits one Opus frame and returns every decoded PCM buffer,
// interleaved stereo 16-bit samples matching Encoder's input format. Each
// buffer is copied out of the codec's reused frame before the next
// ReceiveFrame call overwrites it.
func (d *Decoder) DecodeOpus(opus []byte) ([][]int16, error) {
	d.packet.Unref()
	if err := d.packet.FromData(opus); err != nil {
		return nil, fmt.Errorf("audio: load packet: %w", err)
	}
	if err := d.codecCtx.SendPacket(d.packet); err != nil {
		return nil, fmt.Errorf("audio: send packet: %w", err)
	}

	var out [][]int16
	for {
		if err := d.codecCtx.ReceiveFrame(d.frame); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				break
			}
			return out, fmt.Errorf("audio: receive frame: %w", err)
		}
		playback := astiav.AllocFrame()
		playback.SetSampleFormat(astiav.SampleFormatS16)
		playback.SetChannelLayout(astiav.ChannelLayoutStereo)
		playback.SetSampleRate(SampleRate)
		err := d.resampler.ConvertFrame(d.frame, playback)
		d.frame.Unref()
		if err != nil {
			playback.Free()
			return out, fmt.Errorf("audio: resample: %w", err)
		}
		pcm, err := framePCM(playback)
		playback.Free()
		if err != nil {
			return out, fmt.Errorf("audio: read frame data: %w", err)
		}
		out = append(out, pcm)
	}
	return out, nil
}

// framePCM copies an S16 frame's interleaved samples into a fresh slice
// the caller can hold beyond the frame's lifetime.
func framePCM(frame *astiav.Frame) ([]int16, error) {
	raw, err := frame.Data().Bytes(1)
	if err != nil {
		return nil, err
	}
	pcm := make([]int16, len(raw)/2)
	for i := range pcm {
		pcm[i] = int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
	}
	return pcm, nil
}

// Close releases the decoder. Idempotent.
func (d *Decoder) Close() {
	if d.codecCtx != nil {
		d.codecCtx.Free()
		d.codecCtx = nil
	}
	if d.packet != nil {
		d.packet.Free()
		d.packet = nil
	}
	if d.frame != nil {
		d.frame.Free()
		d.frame = nil
	}
	if d.resampler != nil {
		d.resampler.Free()
		d.resampler = nil
	}
}

// PlaybackQueue is the controller-side bounded buffer feeding the system
// default output device: at most PlaybackQueueDepth buffers, dropping the
// oldest on overflow rather than blocking the decode worker.
type PlaybackQueue struct {
	mu      sync.Mutex
	buffers [][]int16
	dropped int
}

// NewPlaybackQueue constructs an empty PlaybackQueue.
func NewPlaybackQueue() *PlaybackQueue { return &PlaybackQueue{} }

// Push appends pcm, dropping the oldest buffer if the queue is already at
// PlaybackQueueDepth.
func (q *PlaybackQueue) Push(pcm []int16) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buffers) >= PlaybackQueueDepth {
		q.buffers = q.buffers[1:]
		q.dropped++
		logging.Warn("audio: playback queue full, dropped oldest buffer (%d total dropped)", q.dropped)
	}
	q.buffers = append(q.buffers, pcm)
}

// Pop removes and returns the oldest buffer, or (nil, false) if empty.
func (q *PlaybackQueue) Pop() ([]int16, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buffers) == 0 {
		return nil, false
	}
	pcm := q.buffers[0]
	q.buffers = q.buffers[1:]
	return pcm, true
}

// Len reports the current queue depth, exposed for tests/metrics.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffers)
}
