package detectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "Hello World", "hello world"},
		{"accents", "Crème Brûlée", "creme brulee"},
		{"punctuation", "free-nitro!!! now", "free nitro now"},
		{"whitespace runs", "  a \t b\n\nc  ", "a b c"},
		{"fullwidth", "ＦＲＥＥ", "free"},
		{"empty", "", ""},
		{"only punctuation", "?!.,", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestContainsPhrase_WordBoundaries(t *testing.T) {
	t.Parallel()

	assert.True(t, containsPhrase("get free nitro here", "free nitro"))
	assert.True(t, containsPhrase("free nitro", "free nitro"))
	assert.False(t, containsPhrase("carefree nitro", "free nitro"))
	assert.False(t, containsPhrase("free nitros", "free nitro"))
	assert.False(t, containsPhrase("anything", ""))
}

func TestWordCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, WordCount("   "))
	assert.Equal(t, 3, WordCount("one  two\tthree"))
}

func TestFingerprint_IgnoresFormatting(t *testing.T) {
	t.Parallel()

	a := Fingerprint("Join my server: discord.gg/abc")
	b := Fingerprint("join my SERVER discord gg abc")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, Fingerprint("join my other server"))
}
