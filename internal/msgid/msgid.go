// Package msgid derives deterministic message IDs for export records that arrive without one.
package msgid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const prefix = "msg:"

// Derive returns a stable ID for a message from its identifying fields.
// Same fields always yield the same ID, so re-ingesting an export does not duplicate records.
// Leading and trailing whitespace is ignored on every field.
func Derive(source, sender, recipient, rawTimestamp, content string) string {
	h := sha256.New()
	for _, f := range []string{source, sender, recipient, rawTimestamp, content} {
		h.Write([]byte(strings.TrimSpace(f)))
		// NUL separator keeps ("ab","c") and ("a","bc") apart.
		h.Write([]byte{0})
	}
	return prefix + hex.EncodeToString(h.Sum(nil))
}

// IsDerived reports whether id was produced by Derive.
func IsDerived(id string) bool {
	return strings.HasPrefix(id, prefix) && len(id) == len(prefix)+sha256.Size*2
}
