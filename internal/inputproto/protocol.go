// Package inputproto implements InputProtocol: decoding and dispatch of
// remote keyboard/mouse events on the `input` data channel. Authority
// lives with the controlled side, which validates receiver/receiver_pwd
// before injecting anything.
package inputproto

import (
	"encoding/json"
	"fmt"

	"github.com/airan-project/airan/internal/logging"
	"github.com/airan-project/airan/internal/wire"
)

// MouseButton uses the wire encoding: 0=none.
type MouseButton int

const (
	ButtonNone   MouseButton = 0
	ButtonLeft   MouseButton = 1
	ButtonRight  MouseButton = 2
	ButtonMiddle MouseButton = 4
)

// Flag enumerates the `dwFlags` values carried by both event shapes.
type Flag string

const (
	FlagDown        Flag = "down"
	FlagUp          Flag = "up"
	FlagMove        Flag = "move"
	FlagWheel       Flag = "wheel"
	FlagDoubleClick Flag = "doubleClick"
)

// Event is the decoded shape of one `input` channel datagram: exactly one
// of Keyboard or Mouse is non-nil after a successful Decode.
type Event struct {
	Receiver    string
	ReceiverPwd string

	Keyboard *KeyboardEvent
	Mouse    *MouseEvent
}

// KeyboardEvent carries a Windows virtual-key code, already translated
// into that value space by the controller regardless of its own OS.
type KeyboardEvent struct {
	KeyCode int
	Flag    Flag
}

// MouseEvent carries screen-normalised coordinates in [0,1].
type MouseEvent struct {
	Button    MouseButton
	X, Y      float64
	MouseData int
	Flag      Flag
}

type wireMessage struct {
	MsgType     wire.MsgType `json:"msgType"`
	Receiver    string       `json:"receiver,omitempty"`
	ReceiverPwd string       `json:"receiver_pwd,omitempty"`
	Key         int          `json:"key,omitempty"`
	DwFlags     string       `json:"dwFlags,omitempty"`
	Button      int          `json:"button,omitempty"`
	X           float64      `json:"x,omitempty"`
	Y           float64      `json:"y,omitempty"`
	MouseData   int          `json:"mouseData,omitempty"`
}

// ErrUnauthorized is returned by Dispatch when receiver/receiver_pwd do
// not match the controlled side's own identity.
var ErrUnauthorized = fmt.Errorf("inputproto: receiver/receiver_pwd mismatch")

// Decode parses one `input` channel datagram.
func Decode(raw []byte) (Event, error) {
	var m wireMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return Event{}, err
	}

	ev := Event{Receiver: m.Receiver, ReceiverPwd: m.ReceiverPwd}
	switch m.MsgType {
	case wire.MsgTypeKeyboard:
		ev.Keyboard = &KeyboardEvent{KeyCode: m.Key, Flag: Flag(m.DwFlags)}
	case wire.MsgTypeMouse:
		ev.Mouse = &MouseEvent{
			Button:    MouseButton(m.Button),
			X:         m.X,
			Y:         m.Y,
			MouseData: m.MouseData,
			Flag:      Flag(m.DwFlags),
		}
	default:
		return Event{}, fmt.Errorf("inputproto: unknown msgType %q", m.MsgType)
	}
	return ev, nil
}

// EncodeKeyboard builds the wire datagram for a keyboard event, for use by
// the controller side.
func EncodeKeyboard(receiver, receiverPwd string, keyCode int, flag Flag) ([]byte, error) {
	return json.Marshal(wireMessage{
		MsgType: wire.MsgTypeKeyboard, Receiver: receiver, ReceiverPwd: receiverPwd,
		Key: keyCode, DwFlags: string(flag),
	})
}

// EncodeMouse builds the wire datagram for a mouse event.
func EncodeMouse(receiver, receiverPwd string, button MouseButton, xNorm, yNorm float64, mouseData int, flag Flag) ([]byte, error) {
	return json.Marshal(wireMessage{
		MsgType: wire.MsgTypeMouse, Receiver: receiver, ReceiverPwd: receiverPwd,
		Button: int(button), X: xNorm, Y: yNorm, MouseData: mouseData, DwFlags: string(flag),
	})
}

// Protocol validates and dispatches inbound Events to an Injector, on the
// controlled side.
type Protocol struct {
	localPeerID  string
	localPwdHash string
	injector     Injector
}

// New constructs a Protocol bound to the controlled side's own identity
// (used to authorize inbound events) and the platform Injector that
// performs the actual OS-level injection.
func New(localPeerID, localPwdHash string, injector Injector) *Protocol {
	return &Protocol{localPeerID: localPeerID, localPwdHash: localPwdHash, injector: injector}
}

// HandleDatagram decodes and dispatches one `input` channel datagram,
// rejecting it with ErrUnauthorized if the receiver/receiver_pwd fields do
// not match this side's own identity.
func (p *Protocol) HandleDatagram(raw []byte) error {
	ev, err := Decode(raw)
	if err != nil {
		logging.Warn("inputproto: decode: %v", err)
		return err
	}
	return p.Dispatch(ev)
}

// Dispatch validates ev's authorization and injects it.
func (p *Protocol) Dispatch(ev Event) error {
	if ev.Receiver != p.localPeerID || ev.ReceiverPwd != p.localPwdHash {
		logging.Warn("inputproto: rejecting event for receiver %q (authorization mismatch)", ev.Receiver)
		return ErrUnauthorized
	}

	switch {
	case ev.Keyboard != nil:
		return p.injector.InjectKeyboard(ev.Keyboard.KeyCode, ev.Keyboard.Flag == FlagDown)
	case ev.Mouse != nil:
		return p.injector.InjectMouse(ev.Mouse.Button, ev.Mouse.X, ev.Mouse.Y, ev.Mouse.MouseData, ev.Mouse.Flag)
	default:
		return fmt.Errorf("inputproto: event carries neither keyboard nor mouse payload")
	}
}
