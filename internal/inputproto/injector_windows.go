//go:build windows

package inputproto

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// windowsInjector drives the Win32 SendInput/SetCursorPos APIs.
type windowsInjector struct {
	screen ScreenSize
}

// NewPlatformInjector returns the Windows Injector. screen supplies the
// primary display's device-pixel size for coordinate scaling.
func NewPlatformInjector(screen ScreenSize) Injector {
	return &windowsInjector{screen: screen}
}

const (
	inputMouse    = 0
	inputKeyboard = 1

	keyeventfKeyUp = 0x0002

	mouseeventfLeftDown   = 0x0002
	mouseeventfLeftUp     = 0x0004
	mouseeventfRightDown  = 0x0008
	mouseeventfRightUp    = 0x0010
	mouseeventfMiddleDown = 0x0020
	mouseeventfMiddleUp   = 0x0040
	mouseeventfWheel      = 0x0800
)

var (
	user32           = windows.NewLazySystemDLL("user32.dll")
	procSendInput    = user32.NewProc("SendInput")
	procSetCursorPos = user32.NewProc("SetCursorPos")
)

// mouseInput and keybdInput mirror the platform MOUSEINPUT/KEYBDINPUT
// layouts closely enough for SendInput on amd64/arm64 Windows (both use
// 8-byte-aligned fields following the ULONG_PTR extraInfo member).
type mouseInput struct {
	dx, dy      int32
	mouseData   uint32
	dwFlags     uint32
	time        uint32
	extraInfo   uintptr
}

type keybdInput struct {
	vk        uint16
	scan      uint16
	dwFlags   uint32
	time      uint32
	extraInfo uintptr
}

type input struct {
	inputType uint32
	_         uint32 // padding to align the union on 8 bytes (amd64)
	data      [32]byte
}

func sendMouseInput(mi mouseInput) {
	var in input
	in.inputType = inputMouse
	*(*mouseInput)(unsafe.Pointer(&in.data[0])) = mi
	procSendInput.Call(1, uintptr(unsafe.Pointer(&in)), unsafe.Sizeof(in))
}

func sendKeybdInput(ki keybdInput) {
	var in input
	in.inputType = inputKeyboard
	*(*keybdInput)(unsafe.Pointer(&in.data[0])) = ki
	procSendInput.Call(1, uintptr(unsafe.Pointer(&in)), unsafe.Sizeof(in))
}

func (w *windowsInjector) InjectKeyboard(keyCode int, down bool) error {
	flags := uint32(0)
	if !down {
		flags = keyeventfKeyUp
	}
	sendKeybdInput(keybdInput{vk: uint16(keyCode), dwFlags: flags})
	return nil
}

func (w *windowsInjector) InjectMouse(button MouseButton, xNorm, yNorm float64, mouseData int, flag Flag) error {
	width, height, err := w.screen()
	if err != nil {
		return err
	}
	x := int32(ClampNorm(xNorm) * float64(width))
	y := int32(ClampNorm(yNorm) * float64(height))

	procSetCursorPos.Call(uintptr(x), uintptr(y))
	if flag == FlagMove {
		return nil
	}

	if flag == FlagDoubleClick {
		down, up := buttonFlags(button)
		sendMouseInput(mouseInput{dwFlags: down})
		sendMouseInput(mouseInput{dwFlags: up})
		sendMouseInput(mouseInput{dwFlags: down})
		sendMouseInput(mouseInput{dwFlags: up})
		return nil
	}

	if flag == FlagWheel {
		sendMouseInput(mouseInput{mouseData: uint32(int32(mouseData)), dwFlags: mouseeventfWheel})
		return nil
	}

	down, up := buttonFlags(button)
	if flag == FlagDown {
		sendMouseInput(mouseInput{dwFlags: down})
	} else {
		sendMouseInput(mouseInput{dwFlags: up})
	}
	return nil
}

func buttonFlags(button MouseButton) (down, up uint32) {
	switch button {
	case ButtonRight:
		return mouseeventfRightDown, mouseeventfRightUp
	case ButtonMiddle:
		return mouseeventfMiddleDown, mouseeventfMiddleUp
	default:
		return mouseeventfLeftDown, mouseeventfLeftUp
	}
}
