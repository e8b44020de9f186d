package fileproto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/airan-project/airan/internal/wire"
)

// wireLink connects two Protocols back to back in-process: bytes sent on
// one side's `file`/`file_text` channel are delivered synchronously to the
// other side's handler, so a full upload/download round trip can be
// exercised without a real data channel.
func wireLink(t *testing.T, a, b *Protocol) {
	t.Helper()
	a.sendFile = func(d []byte) error { b.HandleFileFragment(d); return nil }
	a.sendText = func(s string) error { return b.HandleText(s) }
	b.sendFile = func(d []byte) error { a.HandleFileFragment(d); return nil }
	b.sendText = func(s string) error { return a.HandleText(s) }
}

func TestUploadRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	srcPath := filepath.Join(srcDir, "report.txt")
	content := []byte("quarterly numbers, mostly fine")
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	controller := New(nil, nil, nil)
	controlled := New(nil, nil, nil)

	done := make(chan bool, 1)
	controller.OnUploadResult = func(remotePath string, ok bool, message string) { done <- ok }

	// Link controller->controlled for the stream, and controlled's ack
	// back to controller, whose OnUploadResult reports it.
	controller.sendFile = func(d []byte) error { controlled.HandleFileFragment(d); return nil }
	controller.sendText = func(s string) error { return controlled.HandleText(s) }
	controlled.sendText = func(s string) error { return controller.HandleText(s) }

	dstPath := filepath.Join(dstDir, "report.txt")
	if err := controller.Upload(srcPath, dstPath); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("upload ack reported failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for upload ack")
	}

	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q want %q", got, content)
	}
}

func TestDownloadRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	remotePath := filepath.Join(srcDir, "asset.bin")
	content := make([]byte, 12000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	if err := os.WriteFile(remotePath, content, 0o644); err != nil {
		t.Fatalf("write remote file: %v", err)
	}

	controller := New(nil, nil, nil)
	controlled := New(nil, nil, nil)
	wireLink(t, controller, controlled)

	done := make(chan bool, 1)
	controller.OnDownloadResult = func(localPath string, ok bool) { done <- ok }

	localPath := filepath.Join(dstDir, "asset.bin")
	if err := controller.Download(remotePath, localPath); err != nil {
		t.Fatalf("Download: %v", err)
	}

	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("download result reported failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for download result")
	}

	got, err := os.ReadFile(localPath)
	if err != nil {
		t.Fatalf("read local file: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch")
	}
}

func TestListRemoteRoundTrip(t *testing.T) {
	lister := func(path string) ([]FileEntry, []string, error) {
		return []FileEntry{{Name: "a.txt", FileSize: 10}}, []string{"/"}, nil
	}

	controlled := New(nil, nil, lister)
	controller := New(nil, nil, nil)
	wireLink(t, controller, controlled)

	done := make(chan struct{}, 1)
	var gotEntries []FileEntry
	controller.OnListing = func(path string, entries []FileEntry, mounted []string) {
		gotEntries = entries
		done <- struct{}{}
	}

	if err := controller.ListRemote("home"); err != nil {
		t.Fatalf("ListRemote: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for listing")
	}

	if len(gotEntries) != 1 || gotEntries[0].Name != "a.txt" {
		t.Fatalf("unexpected entries: %+v", gotEntries)
	}
}

func TestCloseAbandonsInFlightReassembly(t *testing.T) {
	p := New(nil, nil, nil)

	// One fragment of a multi-fragment message leaves partial scratch state.
	logical := make([]byte, 3*wire.PayloadCapacity)
	frags := wire.SplitFragments(logical)
	p.HandleFileFragment(frags[0])

	tmpBefore := countScratchFiles(t)
	if tmpBefore == 0 {
		t.Fatalf("expected a scratch file for the in-flight message")
	}

	p.Close()

	if got := countScratchFiles(t); got != 0 {
		t.Fatalf("expected no scratch files after Close, found %d", got)
	}
}

func countScratchFiles(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(os.TempDir())
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	count := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), wire.DataChannelFile+"_") && strings.HasSuffix(e.Name(), ".tmp") {
			count++
		}
	}
	return count
}

func TestDirectoryMarkersAreSurfacedNotTreatedAsUnknown(t *testing.T) {
	p := New(nil, nil, nil)
	var gotStart, gotEnd bool
	p.OnDirectoryBoundary(func(msgType wire.MsgType, isStart bool, fileCount int) {
		if isStart {
			gotStart = true
		} else {
			gotEnd = true
		}
	})

	start, _ := json.Marshal(controlMessage{MsgType: wire.MsgTypeFileUpload, IsDirectory: true, DirectoryStart: true})
	end, _ := json.Marshal(controlMessage{MsgType: wire.MsgTypeFileUpload, IsDirectory: true, DirectoryEnd: true, FileCount: 3})

	if err := p.HandleText(string(start)); err != nil {
		t.Fatalf("HandleText(start): %v", err)
	}
	if err := p.HandleText(string(end)); err != nil {
		t.Fatalf("HandleText(end): %v", err)
	}
	if !gotStart || !gotEnd {
		t.Fatalf("expected both boundary callbacks, got start=%v end=%v", gotStart, gotEnd)
	}
}
