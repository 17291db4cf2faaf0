package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// DigestSize is the length of a Hash output.
const DigestSize = sha256.Size

// fingerprintBytes is how much of the digest a fingerprint shows.
const fingerprintBytes = 10

// Hash returns the SHA-256 digest of data.
//
// It is a commitment, not a MAC: anyone can compute it, so it authenticates
// nothing on its own.
func Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// HashEqual compares two digests in constant time.
func HashEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

// Fingerprint returns the leading bytes of SHA-256(exported) as 20 hex
// characters, for users to compare public keys out of band.
func Fingerprint(exported []byte) string {
	return hex.EncodeToString(Hash(exported)[:fingerprintBytes])
}
