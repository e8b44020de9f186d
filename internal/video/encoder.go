package video

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/airan-project/airan/internal/hwregistry"
	"github.com/airan-project/airan/internal/logging"
	"github.com/airan-project/airan/internal/wire"
)

// acceleratorCodecNames maps each accelerator candidate to the FFmpeg
// encoder it probes; the probe loop falls back to software libx264.
var acceleratorCodecNames = map[string]string{
	"qsv":          "h264_qsv",
	"nvenc":        "h264_nvenc",
	"amf":          "h264_amf",
	"videotoolbox": "h264_videotoolbox",
	"v4l2":         "h264_v4l2m2m",
	"rkmpp":        "h264_rkmpp",
}

// Encoder owns one open H.264 encoder instance, never shared across
// sessions; only its hardware device context, if any, is shared via
// hwregistry.
type Encoder struct {
	accelName string
	codecCtx  *astiav.CodecContext
	packet    *astiav.Packet
	filter    *astiav.BitStreamFilterContext

	width, height, fps, bitrate int
	frameCount                  int64
	forceKeyframe                bool

	spsAnnexB, ppsAnnexB []byte
}

// OpenEncoder probes accelerators in CandidatesForPlatform() order
// (ending in software) and selects the first codec context that actually
// opens; merely allocating is not proof the accelerator works.
func OpenEncoder(width, height, fps, bitrate int) (*Encoder, error) {
	width, height = EvenDimensions(width, height)
	bitrate = ClampBitrate(bitrate, width, height, fps)

	candidates := append(append([]string{}, CandidatesForPlatformEncode()...), "")
	var lastErr error
	for _, accel := range candidates {
		enc, err := tryOpenEncoder(accel, width, height, fps, bitrate)
		if err == nil {
			logging.Info("video: encoder opened with accelerator %q", displayAccel(accel))
			return enc, nil
		}
		lastErr = err
		logging.Warn("video: encoder probe for %q failed: %v", displayAccel(accel), err)
	}
	return nil, fmt.Errorf("video: every accelerator (including software) failed to open: %w", lastErr)
}

// CandidatesForPlatformEncode re-exports hwregistry's per-platform
// candidate order for the encoder's probing loop.
func CandidatesForPlatformEncode() []string {
	return hwregistry.CandidatesForPlatform()
}

func displayAccel(accel string) string {
	if accel == "" {
		return "software"
	}
	return accel
}

func tryOpenEncoder(accel string, width, height, fps, bitrate int) (*Encoder, error) {
	codecName := "libx264"
	if accel != "" {
		name, ok := acceleratorCodecNames[accel]
		if !ok {
			return nil, fmt.Errorf("unknown accelerator %q", accel)
		}
		codecName = name
	}

	codec := astiav.FindEncoderByName(codecName)
	if codec == nil {
		return nil, fmt.Errorf("encoder %q not available in this ffmpeg build", codecName)
	}

	codecCtx := astiav.AllocCodecContext(codec)
	if codecCtx == nil {
		return nil, fmt.Errorf("allocate codec context for %q", codecName)
	}

	codecCtx.SetWidth(width)
	codecCtx.SetHeight(height)
	codecCtx.SetFramerate(astiav.NewRational(fps, 1))
	codecCtx.SetTimeBase(astiav.NewRational(1, fps))
	codecCtx.SetBitRate(int64(bitrate))
	codecCtx.SetGopSize(fps)
	codecCtx.SetPixelFormat(astiav.PixelFormatNv12)

	opts := astiav.NewDictionary()
	_ = opts.Set("profile", "baseline", astiav.NewDictionaryFlags())
	_ = opts.Set("bf", "0", astiav.NewDictionaryFlags())
	_ = opts.Set("flags", "+low_delay", astiav.NewDictionaryFlags())

	if accel != "" {
		hwCtx, err := hwregistry.Shared.Acquire(accel)
		if err != nil {
			codecCtx.Free()
			return nil, err
		}
		codecCtx.SetHardwareDeviceContext(hwCtx)
		// nvenc and amf default to VBR and only honour the requested bit
		// rate as CBR when rc is set explicitly; SetBitRate alone is not
		// enough. Other hardware encoders ignore the unmatched option.
		_ = opts.Set("rc", "cbr", astiav.NewDictionaryFlags())
	} else {
		_ = opts.Set("preset", "ultrafast", astiav.NewDictionaryFlags())
		_ = opts.Set("tune", "zerolatency", astiav.NewDictionaryFlags())
		// repeat-headers: software encoders must re-emit SPS/PPS on every
		// IDR so every keyframe is self-describing; min-keyint keeps the
		// GOP floor at fps/2. Both are libx264-specific options.
		_ = opts.Set("x264-params", fmt.Sprintf("repeat-headers=1:min-keyint=%d", MinKeyInterval(fps)), astiav.NewDictionaryFlags())
	}

	if err := codecCtx.Open(codec, opts); err != nil {
		codecCtx.Free()
		if accel != "" {
			hwregistry.Shared.Release(accel)
		}
		return nil, err
	}

	return newEncoder(accel, codecCtx, width, height, fps, bitrate)
}

func newEncoder(accel string, codecCtx *astiav.CodecContext, width, height, fps, bitrate int) (*Encoder, error) {
	filter := astiav.FindBitStreamFilterByName("h264_mp4toannexb")
	var filterCtx *astiav.BitStreamFilterContext
	if filter != nil {
		var err error
		filterCtx, err = astiav.AllocBitStreamFilterContext(filter)
		if err == nil {
			_ = codecCtx.ToCodecParameters(filterCtx.InputCodecParameters())
			filterCtx.SetInputTimeBase(codecCtx.TimeBase())
			_ = filterCtx.Initialize()
		}
	}

	return &Encoder{
		accelName: accel,
		codecCtx:  codecCtx,
		packet:    astiav.AllocPacket(),
		filter:    filterCtx,
		width:     width,
		height:    height,
		fps:       fps,
		bitrate:   bitrate,
	}, nil
}

// ForceKeyframe arms the next submitted frame to be encoded as an IDR for
// an explicit force_keyframe / request_keyframe request. The periodic
// 2*fps schedule is applied separately inside EncodeNV12.
func (e *Encoder) ForceKeyframe() { e.forceKeyframe = true }

// EncodeNV12 submits one NV12 frame (already scaled to the encoder's
// resolution by the caller) and returns every Annex-B access unit the
// codec drains for it, normalised and, for keyframes, parameter-set
// complete.
func (e *Encoder) EncodeNV12(frame *astiav.Frame) ([][]byte, error) {
	keyframeDue := e.frameCount == 0 || e.frameCount%int64(2*e.fps) == 0 || e.forceKeyframe
	if keyframeDue {
		frame.SetPictureType(astiav.PictureTypeI)
	}
	e.forceKeyframe = false
	e.frameCount++

	if err := e.codecCtx.SendFrame(frame); err != nil {
		return nil, fmt.Errorf("video: send frame: %w", err)
	}

	var units [][]byte
	for {
		if err := e.codecCtx.ReceivePacket(e.packet); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				break
			}
			return units, fmt.Errorf("video: receive packet: %w", err)
		}

		data := e.annexB(e.packet)
		if keyframeDue || wire.IsKeyframe(wire.ScanAnnexB(data)) {
			data = e.ensureParameterSets(data)
		}
		units = append(units, data)
		e.packet.Unref()
	}
	return units, nil
}

func (e *Encoder) annexB(p *astiav.Packet) []byte {
	if e.filter == nil {
		return append([]byte{}, p.Data()...)
	}
	if err := e.filter.SendPacket(p); err != nil {
		return append([]byte{}, p.Data()...)
	}
	var out []byte
	filtered := astiav.AllocPacket()
	defer filtered.Free()
	for e.filter.ReceivePacket(filtered) == nil {
		out = append(out, filtered.Data()...)
		filtered.Unref()
	}
	return out
}

// ensureParameterSets scans data for NAL types 7/8. A keyframe that
// carries both refreshes the cached parameter sets; one that is missing
// either gets the cached copies prepended so every IDR is self-describing.
func (e *Encoder) ensureParameterSets(data []byte) []byte {
	units := wire.ScanAnnexB(data)
	hasSPS, hasPPS := wire.HasKeyframeParameterSets(units)
	if hasSPS && hasPPS {
		e.captureParameterSets(units)
		return data
	}
	if e.spsAnnexB == nil || e.ppsAnnexB == nil {
		logging.Warn("video: keyframe missing SPS/PPS and none cached; emitting as-is")
		return data
	}
	return wire.PrependParameterSets(e.spsAnnexB, e.ppsAnnexB, data)
}

func (e *Encoder) captureParameterSets(units []wire.NALUnit) {
	for _, u := range units {
		annexUnit := append(append([]byte{}, wire.StartCode...), u.Data...)
		switch u.Type {
		case wire.NALTypeSPS:
			e.spsAnnexB = annexUnit
		case wire.NALTypePPS:
			e.ppsAnnexB = annexUnit
		}
	}
}

// Close releases the codec context, bitstream filter, and (if held) its
// hwregistry reference. Idempotent.
func (e *Encoder) Close() {
	if e.codecCtx != nil {
		e.codecCtx.Free()
		e.codecCtx = nil
	}
	if e.packet != nil {
		e.packet.Free()
		e.packet = nil
	}
	if e.filter != nil {
		e.filter.Free()
		e.filter = nil
	}
	if e.accelName != "" {
		hwregistry.Shared.Release(e.accelName)
	}
}
