package app

import (
	"crypto/rand"

	"github.com/google/uuid"
)

func newUUID() string {
	return uuid.NewString()
}

const confirmationCodeLength = 6

// newConfirmationCode returns a numeric code suitable for out-of-band
// confirmation prompts. Bytes >= 250 are discarded so every digit is
// equally likely.
func newConfirmationCode() string {
	const digits = "0123456789"
	out := make([]byte, 0, confirmationCodeLength)
	var buf [16]byte
	for len(out) < confirmationCodeLength {
		if _, err := rand.Read(buf[:]); err != nil {
			return ""
		}
		for _, b := range buf {
			if b >= 250 {
				continue
			}
			out = append(out, digits[b%10])
			if len(out) == confirmationCodeLength {
				break
			}
		}
	}
	return string(out)
}
