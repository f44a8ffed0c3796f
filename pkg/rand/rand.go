package rand

import (
	"crypto/rand"

	"github.com/sirupsen/logrus"
)

const smallLetters = "0123456789abcdefghijklmnopqrstuvwxyz"

// StringWithSmall returns a random string of lowercase letters and digits,
// suitable for invite codes that end up in URLs and emails.
func StringWithSmall(n int) string {
	return secureRandomString(smallLetters, n)
}

// secureRandomString draws from crypto/rand and rejects bytes that would bias
// the distribution. Panics if the alphabet is empty or longer than 256.
func secureRandomString(alphabet string, length int) string {
	size := len(alphabet)
	if size == 0 || size > 256 {
		panic("alphabet length must be greater than 0 and less than or equal to 256")
	}

	var bitLength byte
	for bits := size - 1; bits != 0; bits >>= 1 {
		bitLength++
	}
	mask := byte(1<<bitLength - 1)

	result := make([]byte, 0, length)
	buf := make([]byte, length+length/3+1)
	for len(result) < length {
		secureRandomBytes(buf)
		for _, b := range buf {
			if idx := int(b & mask); idx < size {
				result = append(result, alphabet[idx])
				if len(result) == length {
					break
				}
			}
		}
	}

	return string(result)
}

func secureRandomBytes(buf []byte) {
	if _, err := rand.Read(buf); err != nil {
		logrus.Fatal("Unable to generate random bytes")
	}
}
