package protocol

import "fmt"

// Checksum XORs every byte of b.
func Checksum(b []byte) byte {
	var x byte
	for _, c := range b {
		x ^= c
	}
	return x
}

// MajorVersion extracts the high nibble of a version byte.
func MajorVersion(v uint8) uint8 {
	return (v >> 4) & 0x0F
}

// Compatible reports whether a peer's version shares our major version.
// Minor revisions are always accepted.
func Compatible(v uint8) bool {
	return MajorVersion(v) == MajorVersion(Version)
}

// FormatVersion renders a version byte as "major.minor".
func FormatVersion(v uint8) string {
	return fmt.Sprintf("%d.%d", MajorVersion(v), v&0x0F)
}
