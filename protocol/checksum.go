// Package protocol validates and decodes the binary sensor broadcasts
// carried inside extracted frames.
//
// A frame starts with a big-endian CRC-32 (IEEE 802.3 polynomial) of the
// rest of the frame. The remainder, once the checksum matches, is a
// relayed sensor broadcast; the only layout decoded here is Ruuvi data
// format 5 (RAWv2), identified by the manufacturer tag 0x99 0x04 and
// format byte 0x05.
package protocol

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/vandry/ruuvi-bridge/errors"
)

// checksumLen is the size of the leading CRC-32 field.
const checksumLen = 4

// Validate splits the leading checksum off frame and verifies it against
// the CRC-32 of the remainder. On success it returns the remainder as the
// validated payload. The returned slice aliases frame.
func Validate(frame []byte) ([]byte, error) {
	if len(frame) < checksumLen {
		return nil, fmt.Errorf("%w: %d bytes", errors.ErrFrameTooShort, len(frame))
	}
	want := binary.BigEndian.Uint32(frame[:checksumLen])
	payload := frame[checksumLen:]
	if got := crc32.ChecksumIEEE(payload); got != want {
		return nil, fmt.Errorf("%w: embedded %08x, computed %08x",
			errors.ErrChecksumMismatch, want, got)
	}
	return payload, nil
}

// Seal prepends the big-endian CRC-32 of payload, producing a frame body
// that Validate accepts. The bridge firmware performs the same sealing
// before hex-encoding.
func Seal(payload []byte) []byte {
	frame := make([]byte, checksumLen+len(payload))
	binary.BigEndian.PutUint32(frame, crc32.ChecksumIEEE(payload))
	copy(frame[checksumLen:], payload)
	return frame
}
