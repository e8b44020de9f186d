//go:build linux

package inputproto

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// linuxInjector drives a virtual /dev/uinput device. X11 is not assumed
// to be running; uinput also works under Wayland compositors that honour
// it.
type linuxInjector struct {
	screen ScreenSize
	dev    *os.File

	lastX, lastY int32
}

const (
	uinputMaxNameSize = 80

	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02

	synReport = 0

	relX     = 0x00
	relY     = 0x01
	relWheel = 0x08

	btnLeft   = 0x110
	btnRight  = 0x111
	btnMiddle = 0x112

	uiSetEvBit  = 0x40045564
	uiSetKeyBit = 0x40045565
	uiSetRelBit = 0x40045566
	uiDevCreate = 0x5501
	uiDevDestroy = 0x5502
)

type uinputSetup struct {
	id      inputID
	name    [uinputMaxNameSize]byte
	ffEffectsMax uint32
}

type inputID struct {
	busType uint16
	vendor  uint16
	product uint16
	version uint16
}

type inputEvent struct {
	time  unix.Timeval
	typ   uint16
	code  uint16
	value int32
}

// NewPlatformInjector opens /dev/uinput and registers the key/relative-axis
// event bits this pipeline needs. screen scales normalised coordinates to
// pixels; motion is delivered as relative deltas from the last position
// this injector moved to (starting at 0,0), since uinput has no absolute
// pointer here.
func NewPlatformInjector(screen ScreenSize) Injector {
	inj, err := newLinuxInjector(screen)
	if err != nil {
		return errorInjector{err: err}
	}
	return inj
}

func newLinuxInjector(screen ScreenSize) (*linuxInjector, error) {
	dev, err := os.OpenFile("/dev/uinput", os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("inputproto: open /dev/uinput: %w", err)
	}

	for _, bit := range []uintptr{evKey, evRel, evSyn} {
		if err := ioctl(dev, uiSetEvBit, bit); err != nil {
			dev.Close()
			return nil, err
		}
	}
	for _, key := range []uintptr{btnLeft, btnRight, btnMiddle} {
		if err := ioctl(dev, uiSetKeyBit, key); err != nil {
			dev.Close()
			return nil, err
		}
	}
	// Full keyboard range: register every key code the protocol can carry.
	for key := uintptr(1); key < 256; key++ {
		if err := ioctl(dev, uiSetKeyBit, key); err != nil {
			dev.Close()
			return nil, err
		}
	}
	for _, axis := range []uintptr{relX, relY, relWheel} {
		if err := ioctl(dev, uiSetRelBit, axis); err != nil {
			dev.Close()
			return nil, err
		}
	}

	setup := uinputSetup{id: inputID{busType: 0x03, vendor: 0x1234, product: 0x5678}}
	copy(setup.name[:], "airan-virtual-input")
	setupBytes := (*[unsafe.Sizeof(setup)]byte)(unsafe.Pointer(&setup))[:]
	if _, err := dev.Write(setupBytes); err != nil {
		dev.Close()
		return nil, fmt.Errorf("inputproto: uinput setup write: %w", err)
	}
	if err := ioctl(dev, uiDevCreate, 0); err != nil {
		dev.Close()
		return nil, err
	}

	return &linuxInjector{screen: screen, dev: dev}, nil
}

func ioctl(f *os.File, req uint, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(req), arg)
	if errno != 0 {
		return errno
	}
	return nil
}

func (l *linuxInjector) emit(typ, code uint16, value int32) error {
	ev := inputEvent{typ: typ, code: code, value: value}
	_, err := l.dev.Write((*[unsafe.Sizeof(ev)]byte)(unsafe.Pointer(&ev))[:])
	return err
}

func (l *linuxInjector) sync() error {
	return l.emit(evSyn, synReport, 0)
}

// InjectKeyboard treats the wire key code as a Linux input-event key
// code; the controller is responsible for the VK->evdev translation for
// this platform, mirroring how the Windows path assumes VK codes directly.
func (l *linuxInjector) InjectKeyboard(keyCode int, down bool) error {
	value := int32(0)
	if down {
		value = 1
	}
	if err := l.emit(evKey, uint16(keyCode), value); err != nil {
		return err
	}
	return l.sync()
}

func (l *linuxInjector) InjectMouse(button MouseButton, xNorm, yNorm float64, mouseData int, flag Flag) error {
	if flag == FlagMove {
		width, height, err := l.screen()
		if err != nil {
			return err
		}
		x := int32(ClampNorm(xNorm) * float64(width))
		y := int32(ClampNorm(yNorm) * float64(height))
		_ = l.emit(evRel, relX, x-l.lastX)
		_ = l.emit(evRel, relY, y-l.lastY)
		l.lastX, l.lastY = x, y
		return l.sync()
	}

	btn := uint16(btnLeft)
	switch button {
	case ButtonRight:
		btn = btnRight
	case ButtonMiddle:
		btn = btnMiddle
	}

	switch flag {
	case FlagWheel:
		if err := l.emit(evRel, relWheel, int32(mouseData)); err != nil {
			return err
		}
	case FlagDoubleClick:
		for i := 0; i < 2; i++ {
			_ = l.emit(evKey, btn, 1)
			_ = l.emit(evKey, btn, 0)
		}
	case FlagDown:
		_ = l.emit(evKey, btn, 1)
	case FlagUp:
		_ = l.emit(evKey, btn, 0)
	}
	return l.sync()
}

// errorInjector reports the same error to every call; used when
// /dev/uinput cannot be opened (missing permissions or module).
type errorInjector struct{ err error }

func (e errorInjector) InjectKeyboard(int, bool) error                           { return e.err }
func (e errorInjector) InjectMouse(MouseButton, float64, float64, int, Flag) error { return e.err }
