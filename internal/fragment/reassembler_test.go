package fragment

import (
	"encoding/json"
	"math/rand"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/airan-project/airan/internal/wire"
)

func TestReassemblerSingleMessageInOrder(t *testing.T) {
	dir := t.TempDir()

	payload := make([]byte, 50000)
	rand.New(rand.NewSource(1)).Read(payload)
	frags := wire.SplitFragments(payload)

	done := make(chan struct{}, 1)
	var gotPath string
	var gotOK bool

	r := New(dir, func(channel string, messageID uuid.UUID, path string, ok bool) {
		gotPath = path
		gotOK = ok
		done <- struct{}{}
	})

	for _, f := range frags {
		r.Ingest("file", f)
	}
	<-done

	if !gotOK {
		t.Fatalf("reassembly did not succeed")
	}
	content, err := os.ReadFile(gotPath)
	if err != nil {
		t.Fatalf("read scratch file: %v", err)
	}
	content = content[:len(payload)]
	if string(content) != string(payload) {
		t.Fatalf("reassembled content mismatch")
	}
}

func TestReassemblerOutOfOrderAndDuplicate(t *testing.T) {
	dir := t.TempDir()

	payload := make([]byte, 30000)
	rand.New(rand.NewSource(2)).Read(payload)
	frags := wire.SplitFragments(payload)

	perm := rand.New(rand.NewSource(3)).Perm(len(frags))

	done := make(chan struct{}, 1)
	r := New(dir, func(channel string, messageID uuid.UUID, path string, ok bool) {
		done <- struct{}{}
	})

	// Send the first fragment twice to exercise the duplicate-write path.
	r.Ingest("file", frags[perm[0]])
	r.Ingest("file", frags[perm[0]])
	for _, idx := range perm[1:] {
		r.Ingest("file", frags[idx])
	}

	<-done
}

func TestReassemblerDropsInvalidFragment(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, func(channel string, messageID uuid.UUID, path string, ok bool) {
		t.Fatalf("onComplete should not fire for a dropped fragment")
	})
	r.Ingest("file", make([]byte, 10))                    // too small
	r.Ingest("file", make([]byte, wire.FragmentSize-1))  // not the fixed wire size
	r.Ingest("file", make([]byte, wire.FragmentSize+16)) // oversized
}

func TestStreamFileFragmentCountAndSize(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/payload.bin"

	content := make([]byte, 25000)
	rand.New(rand.NewSource(4)).Read(content)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	header := map[string]any{"msgType": "file_upload", "path_cli": "/dst", "fileSize": 25000}
	headerJSON, _ := json.Marshal(header)
	wantTotal := wire.FragmentCount(4 + len(headerJSON) + len(content))

	var sent [][]byte
	err := StreamFile(path, header, func(frag []byte) error {
		sent = append(sent, frag)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamFile: %v", err)
	}

	if uint64(len(sent)) != wantTotal {
		t.Fatalf("sent %d fragments, want %d", len(sent), wantTotal)
	}
	for i, frag := range sent {
		if len(frag) != wire.FragmentSize {
			t.Fatalf("fragment %d has size %d, want %d", i, len(frag), wire.FragmentSize)
		}
	}
}

func TestAbandonRemovesScratchFiles(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)

	payload := make([]byte, 20000)
	frags := wire.SplitFragments(payload)
	r.Ingest("file", frags[0]) // one fragment of many — leaves partial state

	r.Abandon("file")

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.byMsgKey) != 0 {
		t.Fatalf("expected no pending reassembly after Abandon, got %d", len(r.byMsgKey))
	}
}
