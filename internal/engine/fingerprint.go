package engine

import (
	"encoding/hex"
	"sort"

	"golang.org/x/crypto/sha3"
)

// Fingerprint computes the stable identity hash of one logical workflow
// instance from the caller-declared identity fields, e.g. a multisig address
// plus a device nonce. Keys are hashed in sorted order so map iteration
// cannot change the digest.
func Fingerprint(workflowKind string, identity map[string]string) string {
	keys := make([]string, 0, len(identity))
	for k := range identity {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(workflowKind))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(identity[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
