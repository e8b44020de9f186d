// Package fileproto implements directory listing, file upload, and file
// download over the `file` (fragmented binary) and `file_text` (JSON
// control) data channels.
package fileproto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/airan-project/airan/internal/fragment"
	"github.com/airan-project/airan/internal/logging"
	"github.com/airan-project/airan/internal/wire"
)

// FileEntry describes one entry of a directory listing, the folderFiles
// array shape on the wire.
type FileEntry struct {
	Name            string `json:"name"`
	IsDir           bool   `json:"is_dir"`
	FileSize        int64  `json:"file_size"`
	FileLastModTime int64  `json:"file_last_mod_time"`
	FileSuffix      string `json:"file_suffix,omitempty"`
}

// Lister enumerates one directory for the listing protocol. path=="home"
// (the FOLDER_HOME sentinel) is resolved by the implementation to the
// process's home directory; mounted reports top-level filesystem roots
// (drive letters on Windows, "/" elsewhere) and is only meaningful when
// listing the home sentinel.
type Lister func(path string) (entries []FileEntry, mounted []string, err error)

type controlMessage struct {
	MsgType     wire.MsgType `json:"msgType"`
	Path        string       `json:"path,omitempty"`
	PathCli     string       `json:"path_cli,omitempty"`
	PathCtl     string       `json:"path_ctl,omitempty"`
	FolderFiles []FileEntry  `json:"folderFiles,omitempty"`
	Mounted     []string     `json:"mounted,omitempty"`
	Status      bool         `json:"status"`
	Message     string       `json:"message,omitempty"`
	IsDirectory bool         `json:"isDirectory,omitempty"`
	DirectoryStart bool      `json:"directoryStart,omitempty"`
	DirectoryEnd   bool      `json:"directoryEnd,omitempty"`
	FileCount      int       `json:"fileCount,omitempty"`
}

type streamHeader struct {
	MsgType  wire.MsgType `json:"msgType"`
	PathCli  string       `json:"path_cli,omitempty"`
	PathCtl  string       `json:"path_ctl,omitempty"`
	FileSize int64        `json:"fileSize"`
	IsDir    bool         `json:"isDirectory,omitempty"`
}

// Protocol drives the `file`/`file_text` channel pair for one session.
// Side-agnostic: the same type serves both the controlled (file-serving)
// and controller (file-requesting) roles, distinguished only by which
// callbacks and Lister the caller wires in.
type Protocol struct {
	sendFile func([]byte) error
	sendText func(string) error
	lister   Lister

	reasm *fragment.Reassembler

	OnListing        func(path string, entries []FileEntry, mounted []string)
	OnDownloadResult func(localPath string, ok bool)
	OnUploadResult   func(remotePath string, ok bool, message string)

	onDirectoryBoundary func(msgType wire.MsgType, isStart bool, fileCount int)
}

// New constructs a Protocol. sendFile transmits one raw FragmentMessage on
// the `file` channel; sendText transmits one JSON line on `file_text`;
// lister serves inbound file_list requests (nil is valid on a side that
// never receives listing requests, e.g. a pure controller).
func New(sendFile func([]byte) error, sendText func(string) error, lister Lister) *Protocol {
	p := &Protocol{sendFile: sendFile, sendText: sendText, lister: lister}
	p.reasm = fragment.New("", p.handleCompletedMessage)
	return p
}

// HandleFileFragment feeds one raw message received on the `file` channel
// into the reassembler.
func (p *Protocol) HandleFileFragment(data []byte) {
	p.reasm.Ingest(wire.DataChannelFile, data)
}

// Close abandons any in-flight reassembly state, removing its scratch
// files. Call when the session owning the data channels goes away;
// a transfer interrupted mid-stream must not leave scratch files behind.
func (p *Protocol) Close() {
	p.reasm.Abandon(wire.DataChannelFile)
	p.reasm.Abandon(wire.DataChannelFileText)
}

// HandleText dispatches one JSON control message received on `file_text`.
func (p *Protocol) HandleText(raw string) error {
	if p.handleDirectoryMarker([]byte(raw)) {
		return nil
	}

	var msg controlMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return fmt.Errorf("fileproto: decode control message: %w", err)
	}

	switch msg.MsgType {
	case wire.MsgTypeFileList:
		if len(msg.FolderFiles) > 0 || len(msg.Mounted) > 0 {
			// A listing response addressed to us.
			if p.OnListing != nil {
				p.OnListing(msg.Path, msg.FolderFiles, msg.Mounted)
			}
			return nil
		}
		return p.serveListing(msg.Path)

	case wire.MsgTypeDownloadFile:
		return p.serveDownloadRequest(msg.PathCtl, msg.PathCli)

	case wire.MsgTypeUploadFileRes:
		if p.OnUploadResult != nil {
			p.OnUploadResult(msg.PathCli, msg.Status, msg.Message)
		}
		return nil
	}

	logging.Warn("fileproto: unhandled control message type %q", msg.MsgType)
	return nil
}

// ListRemote asks the peer to enumerate path ("home" lists the peer's
// home directory, with the filesystem roots reported in mounted).
func (p *Protocol) ListRemote(path string) error {
	return p.sendControl(controlMessage{MsgType: wire.MsgTypeFileList, Path: path})
}

// Download requests that the peer stream remotePath back to us, to be
// materialised at localPath on completion.
func (p *Protocol) Download(remotePath, localPath string) error {
	return p.sendControl(controlMessage{
		MsgType: wire.MsgTypeDownloadFile,
		PathCli: remotePath,
		PathCtl: localPath,
	})
}

// Upload streams localPath to the peer, to be materialised at remotePath.
// Unlike Download, Upload needs no request round trip: the caller already
// holds the bytes, so it streams immediately.
func (p *Protocol) Upload(localPath, remotePath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	header := streamHeader{MsgType: wire.MsgTypeFileUpload, PathCli: remotePath, PathCtl: localPath, FileSize: info.Size()}
	return fragment.StreamFile(localPath, header, p.sendFile)
}

func (p *Protocol) serveListing(path string) error {
	if p.lister == nil {
		return p.sendControl(controlMessage{MsgType: wire.MsgTypeFileList, Path: path, Status: false, Message: "listing not supported"})
	}
	entries, mounted, err := p.lister(path)
	if err != nil {
		logging.Error("fileproto: list %s: %v", path, err)
		return p.sendControl(controlMessage{MsgType: wire.MsgTypeFileList, Path: path})
	}
	// The response echoes the path it actually listed, so the FOLDER_HOME
	// sentinel resolves to the real home directory for the peer's UI.
	echo := path
	if path == homeSentinel {
		if home, herr := os.UserHomeDir(); herr == nil {
			echo = home
		}
	}
	return p.sendControl(controlMessage{MsgType: wire.MsgTypeFileList, Path: echo, FolderFiles: entries, Mounted: mounted})
}

func (p *Protocol) serveDownloadRequest(localEcho, remotePath string) error {
	info, err := os.Stat(remotePath)
	if err != nil {
		logging.Warn("fileproto: download request for missing file %s: %v", remotePath, err)
		return p.sendControl(controlMessage{MsgType: wire.MsgTypeDownloadFileRes, PathCli: remotePath, Status: false, Message: err.Error()})
	}
	header := streamHeader{MsgType: wire.MsgTypeFileDownload, PathCli: remotePath, PathCtl: localEcho, FileSize: info.Size()}
	return fragment.StreamFile(remotePath, header, p.sendFile)
}

// handleCompletedMessage is the fragment.CompleteFunc wired to the
// reassembler: it parses the 4-byte length-prefixed header of the
// reassembled scratch file and materialises the file bytes at the
// destination named by the header, per msgType.
func (p *Protocol) handleCompletedMessage(channel string, messageID uuid.UUID, scratchPath string, ok bool) {
	if !ok {
		logging.Error("fileproto: reassembly failed for message %s", messageID)
		return
	}
	defer os.Remove(scratchPath)

	file, err := os.Open(scratchPath)
	if err != nil {
		logging.Error("fileproto: open scratch %s: %v", scratchPath, err)
		return
	}
	defer file.Close()

	var lenBuf [4]byte
	if _, err := io.ReadFull(file, lenBuf[:]); err != nil {
		logging.Error("fileproto: read header length: %v", err)
		return
	}
	headerSize := binary.BigEndian.Uint32(lenBuf[:])

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		logging.Error("fileproto: read header: %v", err)
		return
	}

	var header streamHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		logging.Error("fileproto: parse header: %v", err)
		return
	}

	switch header.MsgType {
	case wire.MsgTypeFileDownload:
		ok := copyFrom(file, header.PathCtl, header.FileSize)
		if p.OnDownloadResult != nil {
			p.OnDownloadResult(header.PathCtl, ok)
		}

	case wire.MsgTypeFileUpload:
		ok := copyFrom(file, header.PathCli, header.FileSize)
		msg := "ok"
		if !ok {
			msg = "write failed"
		}
		_ = p.sendControl(controlMessage{MsgType: wire.MsgTypeUploadFileRes, PathCli: header.PathCli, Status: ok, Message: msg})

	default:
		logging.Warn("fileproto: completed message with unknown stream msgType %q", header.MsgType)
	}
}

// copyFrom streams exactly size bytes of src (positioned right after the
// header) to a freshly created file at dest, in 64 KiB chunks, deleting
// dest on any failure. The size bound matters: the scratch file's tail
// carries the last fragment's zero padding, which must not reach dest.
func copyFrom(src *os.File, dest string, size int64) bool {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		logging.Error("fileproto: mkdir for %s: %v", dest, err)
		return false
	}

	out, err := os.Create(dest)
	if err != nil {
		logging.Error("fileproto: create %s: %v", dest, err)
		return false
	}

	buf := make([]byte, 64*1024)
	if _, err := io.CopyBuffer(out, io.LimitReader(src, size), buf); err != nil {
		logging.Error("fileproto: write %s: %v", dest, err)
		out.Close()
		os.Remove(dest)
		return false
	}

	out.Close()
	return true
}

func (p *Protocol) sendControl(msg controlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.sendText(string(data))
}
