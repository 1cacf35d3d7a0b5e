// Package recoverykey formats, cleans and generates the 20-digit numeric
// recovery key that unlocks a blocked device.
package recoverykey

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// Length is the number of digits in a recovery key.
const Length = 20

// groupSize is the number of digits per display group.
const groupSize = 4

// ErrMalformed is returned when a key does not contain exactly Length digits after cleaning.
var ErrMalformed = errors.New("recovery key must contain exactly 20 digits")

// Clean strips every non-digit character from input.
func Clean(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Format groups digits in runs of four separated by single spaces.
// It is for display only; stored and compared values are always cleaned.
func Format(digits string) string {
	if digits == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(digits) + len(digits)/groupSize)
	for i, r := range digits {
		if i > 0 && i%groupSize == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Validate reports whether input holds a well-formed key once cleaned.
func Validate(input string) error {
	if len(Clean(input)) != Length {
		return ErrMalformed
	}
	return nil
}

// Equal compares two keys on their digit content. It is a string
// comparison: leading zeros are significant and no numeric normalisation
// happens.
func Equal(input, stored string) bool {
	a := Clean(input)
	b := Clean(stored)
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Generate returns a new random key of Length digits.
func Generate() (string, error) {
	var b strings.Builder
	b.Grow(Length)
	ten := big.NewInt(10)
	for i := 0; i < Length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("failed to generate recovery key digit: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// QRCode renders the formatted key as a PNG of the given pixel size.
func QRCode(key string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(Format(Clean(key)), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode recovery key QR code: %w", err)
	}
	return png, nil
}
