package rand

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringWithSmall(t *testing.T) {
	for _, n := range []int{0, 1, 6, 24, 100} {
		s := StringWithSmall(n)
		assert.Len(t, s, n)
		for _, r := range s {
			assert.True(t, strings.ContainsRune(smallLetters, r), "unexpected rune %q", r)
		}
	}

	assert.NotEqual(t, StringWithSmall(24), StringWithSmall(24))
}
