package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Sign computes the hex HMAC-SHA256 signature for the keyed credential
// scheme. Message format: method + path + expires.
func Sign(secret, method, path string, expires int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(method + path + strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
