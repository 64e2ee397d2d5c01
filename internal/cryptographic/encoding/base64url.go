package encoding

import (
	"encoding/base64"
	"strings"
)

// Base64url helpers for the magic envelope. Peers are inconsistent about
// padding and embedded whitespace, so Decode accepts both padded and
// unpadded input and callers strip whitespace before signing.

func Encode(b []byte) string {
	return base64.URLEncoding.EncodeToString(b)
}

func Decode(s string) ([]byte, error) {
	s = StripWhitespace(s)
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}

// StripWhitespace removes every space, tab, carriage return and newline.
// The signable string is computed over the stripped form.
func StripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}
