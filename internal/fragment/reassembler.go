// Package fragment implements reassembly of a stream of fixed-size
// wire.FragmentSize messages, keyed by message id, into a scratch file on
// disk, plus the matching outbound file streamer.
package fragment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/airan-project/airan/internal/logging"
	"github.com/airan-project/airan/internal/wire"
)

// CompleteFunc is invoked once per fully reassembled message. ok is false
// and path is empty when reassembly failed (I/O error); the reassembler has
// already cleaned up any partial scratch file in that case.
type CompleteFunc func(channel string, messageID uuid.UUID, path string, ok bool)

type pending struct {
	total    uint64
	received []bool
	left     uint64
	path     string
	file     *os.File
}

// Reassembler tracks in-flight fragmented messages across one or more named
// channels, writing fragments directly to offset-seeked scratch files so
// memory use stays bounded regardless of message size.
type Reassembler struct {
	dir      string
	onDone   CompleteFunc
	mu       sync.Mutex
	byMsgKey map[string]*pending
}

// New constructs a Reassembler. scratchDir, when empty, defaults to
// os.TempDir().
func New(scratchDir string, onComplete CompleteFunc) *Reassembler {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	return &Reassembler{
		dir:      scratchDir,
		onDone:   onComplete,
		byMsgKey: make(map[string]*pending),
	}
}

// Ingest processes one raw wire.FragmentSize-shaped message received on
// channel. Invalid fragments (per wire.ParseFragmentHeader) are logged
// and dropped without affecting any other in-flight message.
func (r *Reassembler) Ingest(channel string, data []byte) {
	if len(data) != wire.FragmentSize {
		logging.Error("fragment: dropping fragment of size %d on %s (want %d)", len(data), channel, wire.FragmentSize)
		return
	}
	h, err := wire.ParseFragmentHeader(data)
	if err != nil {
		logging.Error("fragment: dropping invalid fragment on %s: %v", channel, err)
		return
	}
	payload := data[wire.HeaderSize:]

	key := msgKey(channel, h.MessageID)

	r.mu.Lock()
	p, ok := r.byMsgKey[key]
	if !ok {
		path, file, err := r.createScratch(key)
		if err != nil {
			r.mu.Unlock()
			logging.Error("fragment: create scratch for %s: %v", key, err)
			return
		}
		p = &pending{
			total:    h.Total,
			received: make([]bool, h.Total),
			left:     h.Total,
			path:     path,
			file:     file,
		}
		r.byMsgKey[key] = p
	}
	r.mu.Unlock()

	if h.Index >= p.total {
		logging.Error("fragment: index %d out of range for %s (total %d)", h.Index, key, p.total)
		return
	}

	offset := int64(h.Index) * wire.PayloadCapacity
	if _, err := p.file.WriteAt(payload, offset); err != nil {
		logging.Error("fragment: write %s at offset %d: %v", key, offset, err)
		r.fail(channel, h.MessageID, key, p)
		return
	}

	r.mu.Lock()
	firstTime := !p.received[h.Index]
	if firstTime {
		p.received[h.Index] = true
		p.left--
	}
	complete := p.left == 0
	r.mu.Unlock()

	if complete {
		r.finish(channel, h.MessageID, key, p)
	}
}

func (r *Reassembler) createScratch(key string) (string, *os.File, error) {
	safe := strings.NewReplacer("/", "_", "\\", "_").Replace(key)
	path := filepath.Join(r.dir, safe+".tmp")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return "", nil, err
	}
	return path, file, nil
}

func (r *Reassembler) finish(channel string, messageID uuid.UUID, key string, p *pending) {
	r.mu.Lock()
	delete(r.byMsgKey, key)
	r.mu.Unlock()

	if err := p.file.Close(); err != nil {
		logging.Error("fragment: close scratch %s: %v", p.path, err)
		_ = os.Remove(p.path)
		if r.onDone != nil {
			r.onDone(channel, messageID, "", false)
		}
		return
	}

	logging.Debug("fragment: reassembly complete for %s at %s", key, p.path)
	if r.onDone != nil {
		r.onDone(channel, messageID, p.path, true)
	}
}

func (r *Reassembler) fail(channel string, messageID uuid.UUID, key string, p *pending) {
	r.mu.Lock()
	delete(r.byMsgKey, key)
	r.mu.Unlock()

	_ = p.file.Close()
	_ = os.Remove(p.path)
	if r.onDone != nil {
		r.onDone(channel, messageID, "", false)
	}
}

// Abandon drops any in-flight reassembly state for channel, removing its
// scratch file. Used when a data channel closes mid-transfer.
func (r *Reassembler) Abandon(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := channel + "_"
	for key, p := range r.byMsgKey {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		_ = p.file.Close()
		_ = os.Remove(p.path)
		delete(r.byMsgKey, key)
	}
}

func msgKey(channel string, id uuid.UUID) string {
	return fmt.Sprintf("%s_%s", channel, id.String())
}
