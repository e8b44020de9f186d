package fileproto

import (
	"encoding/json"
	"io/fs"
	"path"
	"path/filepath"

	"github.com/airan-project/airan/internal/logging"
	"github.com/airan-project/airan/internal/wire"
)

// OnDirectoryBoundary registers a callback invoked on the receiving side
// for both the directoryStart and directoryEnd markers of an incoming
// directory transfer, letting the UI show transfer progress.
func (p *Protocol) OnDirectoryBoundary(fn func(msgType wire.MsgType, isStart bool, fileCount int)) {
	p.onDirectoryBoundary = fn
}

// UploadDirectory walks localDir and uploads every regular file it
// contains to remoteDir on the peer, preserving the relative path, framed
// by directoryStart/directoryEnd markers on `file_text` per the directory
// send algorithm. An empty directory still emits both markers with
// fileCount=0.
func (p *Protocol) UploadDirectory(localDir, remoteDir string) error {
	if err := p.sendControl(controlMessage{
		MsgType: wire.MsgTypeFileUpload, IsDirectory: true, DirectoryStart: true, PathCli: remoteDir,
	}); err != nil {
		return err
	}

	count := 0
	err := filepath.WalkDir(localDir, func(p2 string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, rerr := filepath.Rel(localDir, p2)
		if rerr != nil {
			return rerr
		}
		remotePath := path.Join(remoteDir, filepath.ToSlash(rel))
		if uerr := p.Upload(p2, remotePath); uerr != nil {
			logging.Error("fileproto: upload %s during directory transfer: %v", p2, uerr)
			return uerr
		}
		count++
		return nil
	})
	if err != nil {
		return err
	}

	return p.sendControl(controlMessage{
		MsgType: wire.MsgTypeFileUpload, IsDirectory: true, DirectoryEnd: true, PathCli: remoteDir, FileCount: count,
	})
}

// handleDirectoryMarker is dispatched from HandleText for start/end
// directory markers; it does not itself move bytes (those arrive as
// ordinary per-file Upload/Download streams) — it only surfaces the
// boundary to the UI.
func (p *Protocol) handleDirectoryMarker(raw []byte) bool {
	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return false
	}
	if !msg.DirectoryStart && !msg.DirectoryEnd {
		return false
	}
	if p.onDirectoryBoundary != nil {
		p.onDirectoryBoundary(msg.MsgType, msg.DirectoryStart, msg.FileCount)
	}
	return true
}
