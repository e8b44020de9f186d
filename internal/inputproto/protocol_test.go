package inputproto

import "testing"

type recordingInjector struct {
	keyCode  int
	down     bool
	button   MouseButton
	x, y     float64
	flag     Flag
	keyCalls int
	mouseCalls int
}

func (r *recordingInjector) InjectKeyboard(keyCode int, down bool) error {
	r.keyCode, r.down = keyCode, down
	r.keyCalls++
	return nil
}

func (r *recordingInjector) InjectMouse(button MouseButton, xNorm, yNorm float64, mouseData int, flag Flag) error {
	r.button, r.x, r.y, r.flag = button, xNorm, yNorm, flag
	r.mouseCalls++
	return nil
}

func TestEncodeDecodeKeyboardRoundTrip(t *testing.T) {
	raw, err := EncodeKeyboard("peerB", "DEADBEEF", 0x41, FlagDown)
	if err != nil {
		t.Fatalf("EncodeKeyboard: %v", err)
	}
	ev, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Keyboard == nil || ev.Keyboard.KeyCode != 0x41 || ev.Keyboard.Flag != FlagDown {
		t.Fatalf("unexpected keyboard event: %+v", ev.Keyboard)
	}
	if ev.Receiver != "peerB" || ev.ReceiverPwd != "DEADBEEF" {
		t.Fatalf("unexpected auth fields: %+v", ev)
	}
}

func TestEncodeDecodeMouseRoundTrip(t *testing.T) {
	raw, err := EncodeMouse("peerB", "DEADBEEF", ButtonRight, 0.5, 0.25, -120, FlagWheel)
	if err != nil {
		t.Fatalf("EncodeMouse: %v", err)
	}
	ev, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Mouse == nil || ev.Mouse.Button != ButtonRight || ev.Mouse.Flag != FlagWheel || ev.Mouse.MouseData != -120 {
		t.Fatalf("unexpected mouse event: %+v", ev.Mouse)
	}
}

func TestDispatchRejectsUnauthorizedReceiver(t *testing.T) {
	inj := &recordingInjector{}
	p := New("peerB", "DEADBEEF", inj)

	err := p.Dispatch(Event{Receiver: "peerB", ReceiverPwd: "WRONG", Keyboard: &KeyboardEvent{KeyCode: 1, Flag: FlagDown}})
	if err != ErrUnauthorized {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
	if inj.keyCalls != 0 {
		t.Fatalf("injector should not be called for an unauthorized event")
	}
}

func TestDispatchInjectsAuthorizedKeyboardEvent(t *testing.T) {
	inj := &recordingInjector{}
	p := New("peerB", "DEADBEEF", inj)

	err := p.Dispatch(Event{Receiver: "peerB", ReceiverPwd: "DEADBEEF", Keyboard: &KeyboardEvent{KeyCode: 0x20, Flag: FlagUp}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if inj.keyCode != 0x20 || inj.down {
		t.Fatalf("unexpected injector state: %+v", inj)
	}
}

func TestDispatchInjectsAuthorizedMouseEvent(t *testing.T) {
	inj := &recordingInjector{}
	p := New("peerB", "DEADBEEF", inj)

	err := p.Dispatch(Event{Receiver: "peerB", ReceiverPwd: "DEADBEEF", Mouse: &MouseEvent{Button: ButtonLeft, X: 0.1, Y: 0.9, Flag: FlagMove}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if inj.x != 0.1 || inj.y != 0.9 || inj.flag != FlagMove {
		t.Fatalf("unexpected injector state: %+v", inj)
	}
}

func TestHandleDatagramRejectsMalformedPayload(t *testing.T) {
	p := New("peerB", "DEADBEEF", &recordingInjector{})
	if err := p.HandleDatagram([]byte("not json")); err == nil {
		t.Fatalf("expected decode error for malformed payload")
	}
}

func TestClampNormClampsOutOfRangeCoordinates(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{-0.5, 0}, {0, 0}, {0.5, 0.5}, {1, 1}, {1.5, 1},
	}
	for _, c := range cases {
		if got := ClampNorm(c.in); got != c.want {
			t.Fatalf("ClampNorm(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
