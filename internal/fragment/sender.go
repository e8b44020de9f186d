package fragment

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/airan-project/airan/internal/wire"
)

// Sender transmits one wire.FragmentSize message on the `file` channel.
type Sender func(fragment []byte) error

// StreamFile reads path, prefixes it with a 4-byte big-endian length and
// the compact JSON encoding of header, and emits the result as fragments
// through send. A short sleep every 10 fragments keeps the data
// channel's send buffer from saturating.
func StreamFile(path string, header any, send Sender) error {
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	var headerSizeBuf [4]byte
	binary.BigEndian.PutUint32(headerSizeBuf[:], uint32(len(headerBytes)))

	totalDataSize := uint64(4+len(headerBytes)) + uint64(info.Size())
	totalFragments := wire.FragmentCount(int(totalDataSize))

	messageID := uuid.New()

	prefix := append(append([]byte{}, headerSizeBuf[:]...), headerBytes...)
	reader := io.MultiReader(bytes.NewReader(prefix), file)

	buf := make([]byte, wire.PayloadCapacity)
	for index := uint64(0); index < totalFragments; index++ {
		n, rerr := io.ReadFull(reader, buf)
		if rerr != nil && rerr != io.ErrUnexpectedEOF && rerr != io.EOF {
			return rerr
		}
		if n == 0 {
			break
		}

		frag := wire.BuildFragment(wire.FragmentHeader{
			MessageID: messageID,
			Total:     totalFragments,
			Index:     index,
		}, buf[:n])

		if err := send(frag); err != nil {
			return err
		}

		if (index+1)%10 == 0 {
			time.Sleep(1 * time.Millisecond)
		}
	}

	return nil
}
