package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
)

// cookieSignatureSep separates the cookie value from its signature. It never appears
// in a JWT or in hex.
const cookieSignatureSep = "~"

// CookieCodec reads session tokens out of a (optionally HMAC-signed) cookie.
type CookieCodec struct {
	name string
	keys [][]byte
}

// NewCookieCodec creates a codec for the named cookie. The first key signs and every key
// verifies, so keys can be rotated. With no keys, cookie values are used as-is.
func NewCookieCodec(name string, keys [][]byte) *CookieCodec {
	return &CookieCodec{name: name, keys: keys}
}

// Sign returns value with its signature appended using the primary key.
func (c *CookieCodec) Sign(value string) string {
	if len(c.keys) == 0 {
		return value
	}
	return value + cookieSignatureSep + sign(c.keys[0], value)
}

// Verify returns the unsigned value if raw carries a valid signature from any key.
func (c *CookieCodec) Verify(raw string) (string, bool) {
	if len(c.keys) == 0 {
		return raw, raw != ""
	}
	idx := strings.LastIndex(raw, cookieSignatureSep)
	if idx <= 0 {
		return "", false
	}
	value, sig := raw[:idx], raw[idx+len(cookieSignatureSep):]
	for _, key := range c.keys {
		if hmac.Equal([]byte(sig), []byte(sign(key, value))) {
			return value, true
		}
	}
	return "", false
}

// TokenFromRequest returns the verified token carried by the session cookie, or "".
func (c *CookieCodec) TokenFromRequest(r *http.Request) string {
	if c == nil || c.name == "" {
		return ""
	}
	cookie, err := r.Cookie(c.name)
	if err != nil || cookie.Value == "" {
		return ""
	}
	raw := cookie.Value
	if unescaped, err := url.QueryUnescape(raw); err == nil {
		raw = unescaped
	}
	token, ok := c.Verify(raw)
	if !ok {
		return ""
	}
	return token
}

func sign(key []byte, value string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
