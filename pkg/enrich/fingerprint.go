package enrich

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint derives the client identifier stored on scan events: a one-way
// hash of IP and user agent. The raw IP never reaches storage, and repeated
// scans from the same client hash to the same value for uniqueness counting.
func Fingerprint(ip, userAgent string) string {
	sum := blake2b.Sum256([]byte(ip + "\x00" + userAgent))
	return hex.EncodeToString(sum[:])
}
