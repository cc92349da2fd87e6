// Package protocol implements the command framing and response decoding of
// Sensirion-style particulate matter sensors (SPS30 command set, sold as
// HM3301). Every two data bytes on the wire carry a CRC8 byte; multi-byte
// values are big-endian.
package protocol

import (
	"github.com/pkg/errors"
	"github.com/sigurn/crc8"
)

const (
	// WordSize is the number of data bytes covered by one checksum.
	WordSize = 2
	// GroupSize is a data word plus its checksum.
	GroupSize = WordSize + 1
	// MaxReadSize is the largest raw response the driver ever reads.
	MaxReadSize = 48
)

var checksumTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31,
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
	Check:  0xF7,
	Name:   "CRC-8/Sensirion",
})

// Checksum calculates the CRC8 of one data word.
func Checksum(word [WordSize]byte) byte {
	return crc8.Checksum(word[:], checksumTable)
}

// AppendWord appends hi, lo and their checksum to dst.
func AppendWord(dst []byte, hi, lo byte) []byte {
	return append(dst, hi, lo, Checksum([WordSize]byte{hi, lo}))
}

// Strip validates every 3-byte group of buf and returns the data bytes
// with the checksums removed. It stops at the first bad group.
func Strip(buf []byte) ([]byte, error) {
	if len(buf)%GroupSize != 0 {
		return nil, &Error{
			Op:   "Strip",
			Kind: KindIO,
			Err:  errors.Errorf("%s: %d bytes is not a multiple of %d", InvalidDataLength, len(buf), GroupSize),
		}
	}

	data := make([]byte, 0, len(buf)/GroupSize*WordSize)
	for i := 0; i < len(buf); i += GroupSize {
		want := Checksum([WordSize]byte{buf[i], buf[i+1]})
		if got := buf[i+2]; got != want {
			return nil, &Error{
				Op:   "Strip",
				Kind: KindIntegrity,
				Err:  errors.Errorf("%s at byte %d (expected 0x%02x, got 0x%02x)", InvalidChecksum, i+2, want, got),
			}
		}
		data = append(data, buf[i], buf[i+1])
	}

	return data, nil
}
