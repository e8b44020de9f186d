//go:build !windows && !linux

package inputproto

import "fmt"

// ErrPlatformUnsupported is returned by every call on platforms without a
// wired Injector backend. A macOS implementation needs CoreGraphics
// event injection, which requires cgo bindings outside this module's
// dependency surface, so macOS support is left as a stub.
var ErrPlatformUnsupported = fmt.Errorf("inputproto: input injection is not implemented on this platform")

type unsupportedInjector struct{}

// NewPlatformInjector returns a stub Injector on platforms with no wired
// backend (currently everything except windows and linux).
func NewPlatformInjector(screen ScreenSize) Injector { return unsupportedInjector{} }

func (unsupportedInjector) InjectKeyboard(int, bool) error { return ErrPlatformUnsupported }
func (unsupportedInjector) InjectMouse(MouseButton, float64, float64, int, Flag) error {
	return ErrPlatformUnsupported
}
