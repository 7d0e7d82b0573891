package framing

import "encoding/binary"

// HeaderSize32 and HeaderSize64 are the two header widths the wire format
// supports: a 32-bit length for ordinary sends, a 64-bit length for file
// sends.
const (
	HeaderSize32 = 4
	HeaderSize64 = 8
)

// encodeHeader writes length as a big-endian header of the given size
// (4 or 8 bytes) into dst, which must be at least that long.
func encodeHeader(dst []byte, length uint64, size int) {
	switch size {
	case HeaderSize32:
		binary.BigEndian.PutUint32(dst, uint32(length))
	case HeaderSize64:
		binary.BigEndian.PutUint64(dst, length)
	default:
		panic("framing: unsupported header size")
	}
}

// decodeHeader reads a big-endian header of the given size from src.
func decodeHeader(src []byte, size int) uint64 {
	switch size {
	case HeaderSize32:
		return uint64(binary.BigEndian.Uint32(src))
	case HeaderSize64:
		return binary.BigEndian.Uint64(src)
	default:
		panic("framing: unsupported header size")
	}
}
