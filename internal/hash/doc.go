// Package hash provides the checksum used for engine file integrity.
//
// Every segment and deletion file written by the engine ends with a 4-byte
// little-endian CRC32-Castagnoli trailer computed over the preceding bytes.
// Readers recompute it before decoding anything, so a torn or bit-flipped file
// is rejected instead of producing a half-loaded segment.
//
//	sum := hash.CRC32C(payload)
//	ok := hash.VerifyTrailer(file)
package hash
