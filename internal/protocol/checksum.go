package protocol

import (
	"bytes"
	"hash/crc32"
)

// Checksum returns the CRC-32 (IEEE polynomial 0xEDB88320, initial value
// 0xFFFFFFFF, final complement) of p.
func Checksum(p []byte) uint32 {
	return crc32.ChecksumIEEE(p)
}

// ChecksumText is Checksum over null-terminated text: bytes from the first
// NUL onward are not covered.
func ChecksumText(p []byte) uint32 {
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return Checksum(p)
}

// PayloadChecksum is the checksum carried by a Data packet: ChecksumText
// when p is null-terminated text, Checksum over every byte otherwise.
func PayloadChecksum(p []byte) uint32 {
	if n := len(p); n > 0 && p[n-1] == 0 {
		return ChecksumText(p)
	}
	return Checksum(p)
}
