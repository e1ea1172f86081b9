package mexc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex-encoded HMAC-SHA256 of the canonical query
// string. The exchange verifies the signature against the exact byte
// sequence it receives, so callers must transmit payload unmodified;
// any reordering of parameters after signing invalidates the request.
func Sign(payload, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
