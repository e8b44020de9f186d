// Package wire implements the signaling envelope codec, the fixed-size
// fragment header codec, and the Annex-B NAL scanning helpers shared by
// every other package in the airan core.
package wire

import "encoding/json"

// Role identifies who originated or should receive an Envelope.
type Role string

const (
	RoleCli    Role = "cli"    // controlled host (callee)
	RoleCtl    Role = "ctl"    // controller (caller)
	RoleServer Role = "server" // signaling server
)

// EnvelopeType enumerates the `type` values carried on the signaling channel.
type EnvelopeType string

const (
	TypeOffer      EnvelopeType = "offer"
	TypeAnswer     EnvelopeType = "answer"
	TypeCandidate  EnvelopeType = "candidate"
	TypeConnect    EnvelopeType = "connect"
	TypeConnected  EnvelopeType = "connected"
	TypeOnlineOne  EnvelopeType = "onlineOne"
	TypeOnlineList EnvelopeType = "onlineList"
	TypeOfflineOne EnvelopeType = "offlineOne"
	TypeError      EnvelopeType = "error"
)

// Envelope is the JSON message exchanged over the signaling channel.
// Optional fields are omitted when empty so
// round-tripping through Encode/Decode reproduces semantically identical
// JSON (key order aside).
type Envelope struct {
	Role Role         `json:"role"`
	Type EnvelopeType `json:"type"`

	Sender      string `json:"sender,omitempty"`
	Receiver    string `json:"receiver,omitempty"`
	ReceiverPwd string `json:"receiver_pwd,omitempty"`
	Data        string `json:"data,omitempty"`
	Mid         string `json:"mid,omitempty"`
	SN          string `json:"sn,omitempty"`

	FPS             *int  `json:"fps,omitempty"`
	IsOnlyFile      *bool `json:"is_only_file,omitempty"`
	OnlyRelay       *bool `json:"only_relay,omitempty"`
	ControlMaxWidth *int  `json:"control_max_width,omitempty"`
	ControlMaxHeight *int `json:"control_max_height,omitempty"`
	Width           *int  `json:"width,omitempty"`
	Height          *int  `json:"height,omitempty"`
	LabelName       string `json:"label_name,omitempty"`

	OnlinePeers []string `json:"online,omitempty"`
}

// Encode serializes an Envelope to its UTF-8 JSON wire representation.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a UTF-8 JSON buffer into an Envelope. Malformed input
// yields an error; callers handling a malformed envelope
// must drop the single message without tearing down the connection.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}

// MsgType enumerates the `msgType` values carried on the `file_text` and
// `input` data channels.
type MsgType string

const (
	MsgTypeFileList        MsgType = "file_list"
	MsgTypeDownloadFile    MsgType = "download_file"
	MsgTypeDownloadFileRes MsgType = "download_file_res"
	MsgTypeFileDownload    MsgType = "file_download"
	MsgTypeFileUpload      MsgType = "file_upload"
	MsgTypeUploadFileRes   MsgType = "upload_file_res"
	MsgTypeKeyboard        MsgType = "keyboard"
	MsgTypeMouse           MsgType = "mouse"
	MsgTypeRequestKeyframe  MsgType = "request_keyframe"
)

// Media track identity: fixed SSRCs and stream labels so
// both sides of a session agree on track identity without a negotiation
// round trip beyond the SDP exchange itself.
const (
	VideoSSRC        = 1
	AudioSSRC        = 2
	VideoStreamLabel = "video_airan"
	AudioStreamLabel = "audio_airan"
	VideoMsid        = "video_stream1_airan"

	VideoPayloadType = 96
	VideoClockRateHz = 90000
	AudioPayloadType = 111
	AudioClockRateHz = 48000

	DataChannelFile     = "file"
	DataChannelFileText = "file_text"
	DataChannelInput    = "input"

	// The *Label variants are what the callee actually names the channels
	// it creates; the caller binds the channels it receives by these labels
	// (file_airan, file_text_airan, input_airan).
	DataChannelFileLabel     = "file_airan"
	DataChannelFileTextLabel = "file_text_airan"
	DataChannelInputLabel    = "input_airan"
)

// Datagram is the generic shape of a `file_text`/`input` channel payload.
// Components that need a richer shape (FolderEntry lists, InputEvent
// fields) define their own typed structs and marshal/unmarshal through
// the same `msgType` discriminator.
type Datagram struct {
	MsgType MsgType `json:"msgType"`
}
