// Package shortcode implements the deterministic mapping from a long URL to
// its fixed-length short code. The code is a pure function of the normalized
// input: md5 of the trimmed URL, first 8 bytes interpreted big-endian,
// encoded base-62. Because the code space is content-derived, two different
// long URLs may legally collide; callers must treat an existing row with a
// different long URL as a conflict, never an overwrite.
package shortcode

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"strings"
)

const (
	// alphabet is the 62-symbol case-sensitive alphanumeric set.
	alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	base     = uint64(len(alphabet))

	// CodeLength is the fixed length of every generated code.
	CodeLength = 8

	// hashBytes is how many leading md5 bytes feed the encoder.
	hashBytes = 8
)

// ErrEmptyURL is returned when the input is empty or blank after trimming.
var ErrEmptyURL = errors.New("shortcode: url is empty")

// Codec generates and validates short codes. The zero value is usable.
type Codec struct{}

// Generate returns the deterministic short code for longURL. Leading and
// trailing whitespace is trimmed before hashing so equivalent submissions
// map to the same code.
func (Codec) Generate(longURL string) (string, error) {
	longURL = strings.TrimSpace(longURL)
	if longURL == "" {
		return "", ErrEmptyURL
	}
	sum := md5.Sum([]byte(longURL))
	n := binary.BigEndian.Uint64(sum[:hashBytes])
	return encodeBase62(n), nil
}

// Validate checks length and alphabet membership only. It says nothing about
// whether the code exists.
func (Codec) Validate(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(alphabet, rune(code[i])) {
			return false
		}
	}
	return true
}

func encodeBase62(n uint64) string {
	if n == 0 {
		return strings.Repeat(string(alphabet[0]), CodeLength)
	}
	buf := make([]byte, 0, CodeLength)
	for n > 0 && len(buf) < CodeLength {
		buf = append(buf, alphabet[n%base])
		n /= base
	}
	for len(buf) < CodeLength {
		buf = append(buf, alphabet[0])
	}
	// digits were emitted least-significant first
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}
