// Package digest computes content fingerprints used to detect drift
// between a source asset and its stored copy.
package digest

import (
	"crypto/md5"
	"encoding/hex"
)

// Sum returns the hexadecimal MD5 digest of data. The digest identifies
// byte content for change detection only; it carries no security
// guarantees.
func Sum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
