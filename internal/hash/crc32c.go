package hash

import (
	"encoding/binary"
	"hash"
	"hash/crc32"
)

// TrailerSize is the size in bytes of a checksum trailer.
const TrailerSize = 4

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// NewCRC32C returns a new CRC32-Castagnoli hash.Hash32.
func NewCRC32C() hash.Hash32 {
	return crc32.New(crc32cTable)
}

// AppendTrailer appends the checksum of buf to buf.
func AppendTrailer(buf []byte) []byte {
	return binary.LittleEndian.AppendUint32(buf, CRC32C(buf))
}

// VerifyTrailer reports whether the last TrailerSize bytes of data are the
// checksum of everything before them, and returns the payload.
func VerifyTrailer(data []byte) ([]byte, bool) {
	if len(data) < TrailerSize {
		return nil, false
	}
	payload := data[:len(data)-TrailerSize]
	want := binary.LittleEndian.Uint32(data[len(data)-TrailerSize:])
	return payload, CRC32C(payload) == want
}
