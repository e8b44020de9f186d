package wire

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
)

// Fragment layout constants. FragmentSize is the fixed
// on-wire size of every message on the `file` data channel; HeaderSize is
// the 32-byte id+total+index header; PayloadCapacity is what remains for
// the logical-buffer payload after the header.
const (
	FragmentSize    = 8192
	HeaderSize      = 32
	PayloadCapacity = FragmentSize - HeaderSize // 8160

	// MaxFragmentTotal bounds the declared total-fragment count a peer
	// will accept, guarding against a malicious or corrupted header
	// claiming an unreasonable reassembly size.
	MaxFragmentTotal = 1_000_000
)

// ErrFragmentInvalid is returned by ParseFragmentHeader when a buffer
// fails validation; callers drop the fragment without touching any
// other in-flight message.
var ErrFragmentInvalid = errors.New("wire: invalid fragment")

// FragmentHeader is the 32-byte prefix of every FragmentMessage.
type FragmentHeader struct {
	MessageID uuid.UUID
	Total     uint64
	Index     uint64
}

// EncodeFragmentHeader writes the 32-byte header into buf[0:32]. buf must
// be at least HeaderSize bytes.
func EncodeFragmentHeader(buf []byte, h FragmentHeader) {
	copy(buf[0:16], h.MessageID[:])
	binary.BigEndian.PutUint64(buf[16:24], h.Total)
	binary.BigEndian.PutUint64(buf[24:32], h.Index)
}

// ParseFragmentHeader validates and parses the 32-byte header of a
// FragmentMessage. It enforces: size >= 32, total in [1, MaxFragmentTotal],
// and index < total.
func ParseFragmentHeader(data []byte) (FragmentHeader, error) {
	if len(data) < HeaderSize {
		return FragmentHeader{}, ErrFragmentInvalid
	}

	var id uuid.UUID
	copy(id[:], data[0:16])
	total := binary.BigEndian.Uint64(data[16:24])
	index := binary.BigEndian.Uint64(data[24:32])

	if total == 0 || total > MaxFragmentTotal {
		return FragmentHeader{}, ErrFragmentInvalid
	}
	if index >= total {
		return FragmentHeader{}, ErrFragmentInvalid
	}

	return FragmentHeader{MessageID: id, Total: total, Index: index}, nil
}

// BuildFragment assembles one FragmentSize-byte wire message: the 32-byte
// header followed by up to PayloadCapacity bytes of payload, zero-padded
// to FragmentSize when payload is shorter (the last fragment of a message).
func BuildFragment(h FragmentHeader, payload []byte) []byte {
	if len(payload) > PayloadCapacity {
		panic("wire: fragment payload exceeds PayloadCapacity")
	}
	buf := make([]byte, FragmentSize)
	EncodeFragmentHeader(buf, h)
	copy(buf[HeaderSize:], payload)
	return buf
}

// SplitFragments splits a logical buffer into FragmentMessage-shaped wire
// buffers sharing one randomly generated message id, in index order.
// It produces the same split that fragment.StreamFile streams for
// FileProtocol, but in memory; used by tests and small payloads.
func SplitFragments(logical []byte) [][]byte {
	total := FragmentCount(len(logical))
	id := uuid.New()
	frags := make([][]byte, total)
	for i := uint64(0); i < total; i++ {
		start := i * PayloadCapacity
		end := start + PayloadCapacity
		if end > uint64(len(logical)) {
			end = uint64(len(logical))
		}
		frags[i] = BuildFragment(FragmentHeader{MessageID: id, Total: total, Index: i}, logical[start:end])
	}
	return frags
}

// FragmentCount returns ceil(size / PayloadCapacity), with a floor of 1 so
// a zero-length logical buffer still yields one (empty, zero-padded)
// fragment.
func FragmentCount(size int) uint64 {
	if size <= 0 {
		return 1
	}
	return uint64((size + PayloadCapacity - 1) / PayloadCapacity)
}

// JoinFragments reassembles fragment payloads (already stripped of their
// headers and in index order) back into the original logical buffer. The
// last fragment's zero padding beyond the true payload length is the
// caller's responsibility to trim (the file protocol finds the true length
// from the logical file's own length-prefixed header, not from the
// fragment count).
func JoinFragments(payloads [][]byte) []byte {
	var out []byte
	for _, p := range payloads {
		out = append(out, p...)
	}
	return out
}
