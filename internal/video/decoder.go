package video

import (
	"errors"
	"fmt"
	"time"

	"github.com/asticode/go-astiav"

	"github.com/airan-project/airan/internal/hwregistry"
	"github.com/airan-project/airan/internal/logging"
)

// decoderHwFormats maps each accelerator to the hardware surface format
// its decoder is expected to advertise through get_format.
var decoderHwFormats = map[string]astiav.PixelFormat{
	"qsv":          astiav.PixelFormatQsv,
	"nvenc":        astiav.PixelFormatCuda,
	"amf":          astiav.PixelFormatD3D11,
	"videotoolbox": astiav.PixelFormatVideotoolbox,
	"v4l2":         astiav.PixelFormatDrmPrime,
	"rkmpp":        astiav.PixelFormatDrmPrime,
}

// fallbackHwFormats is consulted when none of the codec-advertised
// formats match the accelerator's primary expectation.
var fallbackHwFormats = []astiav.PixelFormat{
	astiav.PixelFormatD3D11,
	astiav.PixelFormatDxva2Vld,
	astiav.PixelFormatCuda,
	astiav.PixelFormatDrmPrime,
}

const (
	emptyPacketThreshold  = 5
	decodeFailureThreshold = 5
	keyframeRetryInterval  = 2 * time.Second

	normalDecodeInterval    = 33 * time.Millisecond
	throttledDecodeInterval = 45 * time.Millisecond
)

// Decoder owns one open H.264 decoder instance plus the scaler chain
// that turns its output into RGB24. Never shared across sessions; only
// its hardware device context (if any) is shared.
type Decoder struct {
	accelName   string
	codecCtx    *astiav.CodecContext
	packet      *astiav.Packet
	frame       *astiav.Frame
	swFrame     *astiav.Frame
	toYUV       *Scaler
	toRGB       *Scaler
	isSoftware  bool
	hwPixFmt    astiav.PixelFormat

	consecutiveEmpty    int
	consecutiveFailures int
	lastFrameAt         time.Time
	waitingForKeyframe  bool
	throttled           bool

	// RequestKeyframe is invoked, at most once per threshold crossing,
	// when the decoder needs the peer to send a fresh IDR. Wired by the
	// session to the `input` channel's request_keyframe datagram.
	RequestKeyframe func()
}

// OpenDecoder probes accelerators in hwregistry.CandidatesForPlatform()
// order (ending in software), exactly as the encoder does, sharing device
// contexts through the same hwregistry.Registry.
func OpenDecoder() (*Decoder, error) {
	candidates := append(append([]string{}, hwregistry.CandidatesForPlatform()...), "")
	var lastErr error
	for _, accel := range candidates {
		dec, err := tryOpenDecoder(accel)
		if err == nil {
			logging.Info("video: decoder opened with accelerator %q", displayAccel(accel))
			dec.lastFrameAt = time.Time{}
			return dec, nil
		}
		lastErr = err
		logging.Warn("video: decoder probe for %q failed: %v", displayAccel(accel), err)
	}
	return nil, fmt.Errorf("video: every accelerator (including software) failed to open: %w", lastErr)
}

func tryOpenDecoder(accel string) (*Decoder, error) {
	codec := astiav.FindDecoder(astiav.CodecIDH264)
	if codec == nil {
		return nil, fmt.Errorf("h264 decoder not available in this ffmpeg build")
	}

	codecCtx := astiav.AllocCodecContext(codec)
	if codecCtx == nil {
		return nil, fmt.Errorf("allocate codec context")
	}

	dec := &Decoder{
		codecCtx:  codecCtx,
		packet:    astiav.AllocPacket(),
		frame:     astiav.AllocFrame(),
		swFrame:   astiav.AllocFrame(),
	}

	if accel == "" {
		if err := codecCtx.Open(codec, nil); err != nil {
			dec.Close()
			return nil, err
		}
		dec.isSoftware = true
		return dec, nil
	}

	hwCtx, err := hwregistry.Shared.Acquire(accel)
	if err != nil {
		dec.Close()
		return nil, err
	}
	dec.accelName = accel
	codecCtx.SetHardwareDeviceContext(hwCtx)

	wantFmt, ok := decoderHwFormats[accel]
	if !ok {
		wantFmt = astiav.PixelFormatNone
	}
	dec.hwPixFmt = wantFmt
	codecCtx.SetPixelFormatCallback(func(formats []astiav.PixelFormat) astiav.PixelFormat {
		for _, f := range formats {
			if f == dec.hwPixFmt {
				return f
			}
		}
		for _, f := range fallbackHwFormats {
			for _, advertised := range formats {
				if advertised == f {
					return f
				}
			}
		}
		logging.Warn("video: decoder %q offered no matching hardware format; continuing as software", accel)
		dec.isSoftware = true
		if len(formats) > 0 {
			return formats[0]
		}
		return astiav.PixelFormatNone
	})

	if err := codecCtx.Open(codec, nil); err != nil {
		dec.Close()
		return nil, err
	}
	return dec, nil
}

// SubmitPacket decodes one Annex-B access unit, applying the scaler chain
// from the per-packet pipeline and invoking emit for every RGB24 image the
// codec drains. The emitted frame is owned by the decoder's scaler and is
// only valid for the duration of the callback. A zero-length packet is the
// empty-read bookkeeping path (the "consecutive empty packets" counter).
func (d *Decoder) SubmitPacket(annexB []byte, emit func(*astiav.Frame)) error {
	if len(annexB) == 0 {
		d.noteEmptyPacket()
		return nil
	}

	d.packet.Unref()
	if err := d.packet.FromData(annexB); err != nil {
		return fmt.Errorf("video: load packet: %w", err)
	}

	if err := d.codecCtx.SendPacket(d.packet); err != nil {
		d.noteDecodeFailure()
		return fmt.Errorf("video: send packet: %w", err)
	}

	for {
		if err := d.codecCtx.ReceiveFrame(d.frame); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				break
			}
			d.noteDecodeFailure()
			return fmt.Errorf("video: receive frame: %w", err)
		}

		rgb, err := d.convertToRGB(d.frame)
		if err != nil {
			d.noteDecodeFailure()
			d.frame.Unref()
			continue
		}
		d.frame.Unref()
		d.noteSuccess()
		if emit != nil {
			emit(rgb)
		}
	}
	return nil
}

// convertToRGB transfers hardware surfaces to a software frame first
// (NV12 in general, YUV420P for DRM_PRIME/rkmpp because of transfer
// limitations), then converts NV12->YUV420P, then YUV420P->RGB24.
func (d *Decoder) convertToRGB(frame *astiav.Frame) (*astiav.Frame, error) {
	src := frame
	if isHardwareSurface(frame.PixelFormat()) {
		swFmt := astiav.PixelFormatNv12
		if frame.PixelFormat() == astiav.PixelFormatDrmPrime {
			swFmt = astiav.PixelFormatYuv420P
		}
		d.swFrame.SetPixelFormat(swFmt)
		if err := frame.TransferHardwareData(d.swFrame); err != nil {
			return nil, fmt.Errorf("transfer hardware frame: %w", err)
		}
		src = d.swFrame
	}

	w, h := src.Width(), src.Height()

	if d.toRGB == nil {
		var err error
		if src.PixelFormat() != astiav.PixelFormatYuv420P {
			if d.toYUV == nil {
				if d.toYUV, err = NV12ToYUV420P(w, h); err != nil {
					return nil, err
				}
			}
		}
		if d.toRGB, err = YUV420PToRGB(w, h); err != nil {
			return nil, err
		}
	}

	yuv := src
	if src.PixelFormat() != astiav.PixelFormatYuv420P {
		var err error
		yuv, err = d.toYUV.Scale(src)
		if err != nil {
			return nil, err
		}
	}

	return d.toRGB.Scale(yuv)
}

func isHardwareSurface(fmt astiav.PixelFormat) bool {
	switch fmt {
	case astiav.PixelFormatQsv, astiav.PixelFormatCuda, astiav.PixelFormatD3D11,
		astiav.PixelFormatDxva2Vld, astiav.PixelFormatVideotoolbox, astiav.PixelFormatDrmPrime:
		return true
	default:
		return false
	}
}

// noteEmptyPacket, noteDecodeFailure and noteSuccess implement the
// error-recovery thresholds: 5 consecutive empties or 5 consecutive
// decode failures trigger a keyframe request and arm waitingForKeyframe;
// a successful decode clears all counters.
func (d *Decoder) noteEmptyPacket() {
	d.consecutiveEmpty++
	if d.consecutiveEmpty >= emptyPacketThreshold {
		d.triggerRecovery()
		d.consecutiveEmpty = 0
	}
}

func (d *Decoder) noteDecodeFailure() {
	d.consecutiveFailures++
	if d.consecutiveFailures >= decodeFailureThreshold {
		d.triggerRecovery()
		d.consecutiveFailures = 0
	}
}

func (d *Decoder) noteSuccess() {
	d.consecutiveEmpty = 0
	d.consecutiveFailures = 0
	d.lastFrameAt = time.Now()
	d.waitingForKeyframe = false
	d.throttled = false
}

func (d *Decoder) triggerRecovery() {
	d.waitingForKeyframe = true
	if d.RequestKeyframe != nil {
		d.RequestKeyframe()
	}
	d.throttled = true
	logging.Warn("video: decoder error threshold crossed, requested keyframe")
}

// WaitingForKeyframe reports whether the decoder has requested a keyframe
// and no frame has decoded successfully since. Frames that do decode in
// this state are still emitted; the first one clears the flag.
func (d *Decoder) WaitingForKeyframe() bool { return d.waitingForKeyframe }

// MinDecodeInterval returns the current inter-decode pacing floor: the
// normal 33ms (30fps) figure, or the throttled 40-50ms figure while the
// decoder is recovering from an elevated error rate.
func (d *Decoder) MinDecodeInterval() time.Duration {
	if d.throttled {
		return throttledDecodeInterval
	}
	return normalDecodeInterval
}

// KeyframeRetryInterval is the fixed 2s re-arm period for repeated
// request_keyframe sends while no frame decodes.
func (d *Decoder) KeyframeRetryInterval() time.Duration { return keyframeRetryInterval }

// Close releases the codec context, frames, scalers, and (if held) the
// hwregistry reference. Idempotent.
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
	if d.swFrame != nil {
		d.swFrame.Free()
		d.swFrame = nil
	}
	if d.toYUV != nil {
		d.toYUV.Close()
		d.toYUV = nil
	}
	if d.toRGB != nil {
		d.toRGB.Close()
		d.toRGB = nil
	}
	if d.accelName != "" {
		hwregistry.Shared.Release(d.accelName)
		d.accelName = ""
	}
}
