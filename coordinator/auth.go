package coordinator

import (
	"crypto/sha256"
	"crypto/subtle"
)

// secretChecker compares presented credentials against the configured shared
// secret in constant time. Comparing digests rather than raw bytes keeps the
// comparison length-independent, so neither a mismatched byte position nor a
// mismatched length changes the time taken.
type secretChecker struct {
	digest [sha256.Size]byte
}

func newSecretChecker(secret string) secretChecker {
	return secretChecker{digest: sha256.Sum256([]byte(secret))}
}

func (s secretChecker) check(presented string) bool {
	presentedDigest := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(presentedDigest[:], s.digest[:]) == 1
}
