package tracking

import (
	"crypto/rand"
	"encoding/base64"
)

// NewToken returns 32 random bytes, base64url without padding. Tokens carry
// no data; they are looked up.
func NewToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("tracking: crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// OpenURL and ClickURL build the public tracking links under base.
func OpenURL(base, token string) string { return base + "/open/" + token }

func ClickURL(base, linkID string) string { return base + "/click/" + linkID }
