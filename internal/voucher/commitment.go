package voucher

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// CommitmentLen is the length of a hex-encoded SHA-256 digest.
const CommitmentLen = 2 * sha256.Size

// Commit returns hex(sha256(secret)). There is no salt: the same secret
// always yields the same commitment.
func Commit(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// VerifySecret reports whether secret hashes to commitment.
func VerifySecret(secret, commitment string) bool {
	want := Commit(secret)
	if len(commitment) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(commitment)) == 1
}

// ValidCommitment reports whether s is exactly 64 hex characters.
func ValidCommitment(s string) bool {
	if len(s) != CommitmentLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
