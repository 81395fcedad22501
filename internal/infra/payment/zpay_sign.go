package payment

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// Canonicalize renders the signing string: keys other than sign/sign_type with a
// non-empty value, sorted by byte order, joined as k=v&k=v. Values are not escaped.
func Canonicalize(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || k == "sign_type" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// Sign returns lowercase hex md5(Canonicalize(params) + secret).
// The secret is appended raw, not as a key=value pair.
func Sign(params map[string]string, secret string) string {
	sum := md5.Sum([]byte(Canonicalize(params) + secret))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the signature and compares it case-insensitively.
// The scheme has no nonce or timestamp; replays must be handled by the caller.
func Verify(params map[string]string, provided, secret string) bool {
	if provided == "" {
		return false
	}
	want := Sign(params, secret)
	got := strings.ToLower(strings.TrimSpace(provided))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
