package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateFieldShortInputUnchanged(t *testing.T) {
	assert.Equal(t, "hello", truncateField("hello"))
}

func TestTruncateFieldBounds(t *testing.T) {
	long := strings.Repeat("a", summaryFieldLimit+100)
	got := truncateField(long)
	assert.Equal(t, strings.Repeat("a", summaryFieldLimit)+"…", got)
}

func TestTruncateFieldKeepsValidUTF8(t *testing.T) {
	// The leading byte shifts every two-byte rune so the cut lands mid-rune.
	long := "a" + strings.Repeat("é", summaryFieldLimit)
	got := truncateField(long)
	assert.True(t, utf8.ValidString(got), "truncated summary must stay valid UTF-8")
	assert.LessOrEqual(t, len(got), summaryFieldLimit+len("…"))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestTruncateImagesBounds(t *testing.T) {
	images := []ImageAsset{{URL: "a"}, {URL: "b"}, {URL: "c"}, {URL: "d"}}
	assert.Len(t, truncateImages(images), summaryImageLimit)
	assert.Len(t, truncateImages(images[:2]), 2)
}
