// Package integrity computes and verifies CRC-32 checksums over encrypted
// chunk payloads. Checksums are taken over ciphertext so the check guards
// transport and storage independently of key knowledge.
package integrity

import "hash/crc32"

// Checksum returns the IEEE CRC-32 of data.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Verify reports whether data's CRC-32 matches expected.
func Verify(data []byte, expected uint32) bool {
	return crc32.ChecksumIEEE(data) == expected
}
