// Package video implements the H.264 video pipeline: accelerator
// negotiation, encode/decode, Annex-B normalisation, adaptive
// resolution, and the RTP send/receive glue around pion/webrtc.
package video

import (
	"context"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/pion/rtp"

	"github.com/airan-project/airan/internal/logging"
)

// Grabber captures one RGB24 screen image. OS-level screen capture is
// an external collaborator; this package only consumes it.
type Grabber interface {
	Grab() (rgb []byte, width, height int, err error)
}

// RTPWriter is satisfied by webrtc.TrackLocalStaticRTP.
type RTPWriter interface {
	WriteRTP(*rtp.Packet) error
}

// EncodePipeline drives capture -> encode -> packetize -> send for one
// session's video track. One EncodePipeline runs on its own capture
// worker goroutine.
type EncodePipeline struct {
	grabber Grabber
	sender  RTPWriter

	enc    *Encoder
	pktz   *Packetizer
	toNV12 *Scaler
	fps    int

	captureW, captureH int

	interval      time.Duration
	setFPS        chan int
	forceKeyframe chan struct{}
	stop          chan struct{}
	done          chan struct{}
}

// NewEncodePipeline opens an Encoder at encodeW x encodeH / fps / bitrate
// and wires grabber/sender around it. The grabber delivers RGB frames at
// captureW x captureH (the native screen size); the scaler downsizes them
// to the encode resolution in the same pass that converts to NV12.
func NewEncodePipeline(captureW, captureH, encodeW, encodeH, fps, bitrate int, grabber Grabber, sender RTPWriter) (*EncodePipeline, error) {
	enc, err := OpenEncoder(encodeW, encodeH, fps, bitrate)
	if err != nil {
		return nil, err
	}
	toNV12, err := NewScaler(captureW, captureH, astiav.PixelFormatRgb24, enc.width, enc.height, astiav.PixelFormatNv12)
	if err != nil {
		enc.Close()
		return nil, err
	}

	return &EncodePipeline{
		grabber: grabber, sender: sender,
		enc: enc, pktz: NewPacketizer(), toNV12: toNV12,
		fps:      fps,
		captureW: captureW, captureH: captureH,
		interval:      time.Second / time.Duration(fps),
		setFPS:        make(chan int, 1),
		forceKeyframe: make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

// Run drives the capture timer until ctx is cancelled or Close is called.
// Each tick: grab an RGB frame, scale to NV12, encode, packetize, send —
// dropping the frame rather than aborting the session on a single
// failure.
func (p *EncodePipeline) Run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	samplesPerFrame := uint32(VideoClockRateHzFor(p.fps))

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-p.forceKeyframe:
			p.enc.ForceKeyframe()
		case fps := <-p.setFPS:
			p.fps = fps
			p.interval = time.Second / time.Duration(fps)
			ticker.Reset(p.interval)
			samplesPerFrame = uint32(VideoClockRateHzFor(fps))
		case <-ticker.C:
			p.tick(samplesPerFrame)
		}
	}
}

func (p *EncodePipeline) tick(samplesPerFrame uint32) {
	rgb, w, h, err := p.grabber.Grab()
	if err != nil {
		logging.Warn("video: capture: %v", err)
		return
	}
	if w != p.captureW || h != p.captureH {
		// The grabber is expected to deliver at the size it reported at
		// startup; a mismatch means a display change raced the capture
		// call. Drop this frame rather than feed a mis-sized buffer to
		// the scaler.
		logging.Warn("video: captured frame %dx%d does not match capture size %dx%d", w, h, p.captureW, p.captureH)
		return
	}

	rgbFrame := astiav.AllocFrame()
	defer rgbFrame.Free()
	rgbFrame.SetWidth(w)
	rgbFrame.SetHeight(h)
	rgbFrame.SetPixelFormat(astiav.PixelFormatRgb24)
	if err := rgbFrame.AllocBuffer(1); err != nil {
		logging.Warn("video: allocate rgb frame: %v", err)
		return
	}
	if err := rgbFrame.Data().SetBytes(rgb, 1); err != nil {
		logging.Warn("video: load rgb frame: %v", err)
		return
	}

	nv12, err := p.toNV12.Scale(rgbFrame)
	if err != nil {
		logging.Warn("video: scale to nv12: %v", err)
		return
	}

	units, err := p.enc.EncodeNV12(nv12)
	if err != nil {
		logging.Warn("video: encode: %v", err)
		return
	}

	for _, unit := range units {
		for _, pkt := range p.pktz.PacketizeAccessUnit(unit, samplesPerFrame) {
			if err := p.sender.WriteRTP(pkt); err != nil {
				logging.Warn("video: write rtp: %v", err)
				return
			}
		}
	}
}

// VideoClockRateHzFor returns the 90kHz-clock sample count for one frame
// at fps, used as the RTP timestamp increment per packetized access unit.
func VideoClockRateHzFor(fps int) int {
	if fps <= 0 {
		fps = 30
	}
	return 90000 / fps
}

// ForceKeyframe arms the next encoded frame to be an IDR, used both for
// an explicit UI request and for a peer's request_keyframe datagram.
func (p *EncodePipeline) ForceKeyframe() {
	select {
	case p.forceKeyframe <- struct{}{}:
	default:
	}
}

// SetFPS reprograms the capture timer interval without re-initialising
// the encoder. Resolution changes, by contrast, require a new pipeline.
func (p *EncodePipeline) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	select {
	case p.setFPS <- fps:
	default:
	}
}

// Close stops the capture loop and releases the encoder and scaler. It is
// not idempotent: a second call closes the already-closed stop channel and
// panics.
func (p *EncodePipeline) Close() {
	close(p.stop)
	<-p.done
	p.enc.Close()
	p.toNV12.Close()
}

// DecodePipeline drives receive -> depacketize -> decode -> emit for one
// session's video track.
type DecodePipeline struct {
	source RTPReaderFunc
	onFrame func(*astiav.Frame)

	dec  *Decoder
	depk *Depacketizer

	requestKeyframe func()
	retryTimer      *time.Timer
	stop            chan struct{}
}

// RTPReaderFunc adapts any "read next RTP packet" source (typically
// webrtc.TrackRemote.ReadRTP, whose extra interceptor.Attributes return
// value is discarded here) into the shape DecodePipeline consumes.
type RTPReaderFunc func() (*rtp.Packet, error)

// NewDecodePipeline opens a Decoder and wires source/onFrame/requestKeyframe.
func NewDecodePipeline(source RTPReaderFunc, onFrame func(*astiav.Frame), requestKeyframe func()) (*DecodePipeline, error) {
	dec, err := OpenDecoder()
	if err != nil {
		return nil, err
	}

	dp := &DecodePipeline{
		source: source, onFrame: onFrame,
		dec: dec, depk: NewDepacketizer(),
		requestKeyframe: requestKeyframe,
		stop:            make(chan struct{}),
	}
	dec.RequestKeyframe = dp.onNeedKeyframe
	return dp, nil
}

func (dp *DecodePipeline) onNeedKeyframe() {
	if dp.requestKeyframe != nil {
		dp.requestKeyframe()
	}
	// Arm a retry: if we're still waiting when it fires, ask again.
	// Edge-triggered; a request received while already waiting does not
	// suppress the next tick's request.
	if dp.retryTimer != nil {
		dp.retryTimer.Stop()
	}
	dp.retryTimer = time.AfterFunc(dp.dec.KeyframeRetryInterval(), dp.retryIfStillWaiting)
}

func (dp *DecodePipeline) retryIfStillWaiting() {
	if dp.dec.WaitingForKeyframe() {
		if dp.requestKeyframe != nil {
			dp.requestKeyframe()
		}
		dp.retryTimer = time.AfterFunc(dp.dec.KeyframeRetryInterval(), dp.retryIfStillWaiting)
	}
}

// Run reads RTP packets until source returns an error or Close is called,
// depacketizing, decoding, and handing every resulting RGB24 frame to
// onFrame. Runs on its own goroutine per session.
func (dp *DecodePipeline) Run() error {
	minInterval := dp.dec.MinDecodeInterval()
	lastDecode := time.Now().Add(-minInterval)

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

		accessUnit, derr := dp.depk.PushRTP(pkt)
		if derr != nil {
			logging.Warn("video: depacketize: %v", derr)
			continue
		}
		if accessUnit == nil {
			continue
		}

		if since := time.Since(lastDecode); since < minInterval {
			time.Sleep(minInterval - since)
		}
		lastDecode = time.Now()

		if err := dp.dec.SubmitPacket(accessUnit, dp.onFrame); err != nil {
			logging.Warn("video: decode: %v", err)
			continue
		}
		minInterval = dp.dec.MinDecodeInterval()
	}
}

// Close stops Run and releases the decoder.
func (dp *DecodePipeline) Close() {
	close(dp.stop)
	if dp.retryTimer != nil {
		dp.retryTimer.Stop()
	}
	dp.dec.Close()
}
