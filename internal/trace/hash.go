package trace

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest is the hex sha256 of data. It identifies a sweep input file and
// hashes canonical trace encodings. Empty input yields "".
func Digest(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
