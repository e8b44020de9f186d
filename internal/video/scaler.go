package video

import (
	"fmt"

	"github.com/asticode/go-astiav"
)

// Scaler wraps one astiav.SoftwareScaleContext plus its destination
// frame, owning both for the lifetime of one resolution/format pairing.
// The decoder needs two of these chained (NV12->YUV420P, YUV420P->RGB24)
// because direct NV12->RGB24 conversion is unreliable on some ffmpeg
// builds; the encoder needs one (RGB->NV12).
type Scaler struct {
	ctx *astiav.SoftwareScaleContext
	dst *astiav.Frame
}

// NewScaler allocates a scaler converting srcW x srcH in srcFmt to
// dstW x dstH in dstFmt, using bilinear filtering.
func NewScaler(srcW, srcH int, srcFmt astiav.PixelFormat, dstW, dstH int, dstFmt astiav.PixelFormat) (*Scaler, error) {
	ctx, err := astiav.CreateSoftwareScaleContext(
		srcW, srcH, srcFmt,
		dstW, dstH, dstFmt,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
	)
	if err != nil {
		return nil, fmt.Errorf("video: create scale context: %w", err)
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(dstW)
	dst.SetHeight(dstH)
	dst.SetPixelFormat(dstFmt)
	if err := dst.AllocBuffer(0); err != nil {
		ctx.Free()
		dst.Free()
		return nil, fmt.Errorf("video: allocate scaled frame buffer: %w", err)
	}

	return &Scaler{ctx: ctx, dst: dst}, nil
}

// Scale converts src into the scaler's destination frame and returns it.
// The returned frame is owned by the Scaler and is overwritten by the
// next call; callers needing to retain it must copy.
func (s *Scaler) Scale(src *astiav.Frame) (*astiav.Frame, error) {
	if err := s.ctx.ScaleFrame(src, s.dst); err != nil {
		return nil, fmt.Errorf("video: scale frame: %w", err)
	}
	return s.dst, nil
}

// Close releases the scale context and destination frame. Idempotent.
func (s *Scaler) Close() {
	if s.ctx != nil {
		s.ctx.Free()
		s.ctx = nil
	}
	if s.dst != nil {
		s.dst.Free()
		s.dst = nil
	}
}

// NV12ToYUV420P is the first decoder-side conversion step, needed
// regardless of final target because NV12->RGB24 direct conversion is
// unreliable on some ffmpeg builds.
func NV12ToYUV420P(w, h int) (*Scaler, error) {
	return NewScaler(w, h, astiav.PixelFormatNv12, w, h, astiav.PixelFormatYuv420P)
}

// YUV420PToRGB is the second decoder-side conversion step, producing the
// RGB24 image the controller's renderer consumes.
func YUV420PToRGB(w, h int) (*Scaler, error) {
	return NewScaler(w, h, astiav.PixelFormatYuv420P, w, h, astiav.PixelFormatRgb24)
}
