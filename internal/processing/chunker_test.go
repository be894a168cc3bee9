package processing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkSlidingWindow(t *testing.T) {
	text := strings.Repeat("a", 10) + strings.Repeat("b", 10)
	chunks := Chunk(text, 8, 2)

	assert.Equal(t, []string{"aaaaaaaa", "aaaabbbb", "bbbbbbbb"}, chunks)
}

func TestChunkFlattensLineBreaks(t *testing.T) {
	chunks := Chunk("line one\r\nline two\n", 800, 80)
	assert.Equal(t, []string{"line one  line two"}, chunks)
}

func TestChunkDropsBlankWindows(t *testing.T) {
	assert.Empty(t, Chunk("   \n\n  ", 4, 1))
	assert.Empty(t, Chunk("", 800, 80))
}

func TestChunkOverlapNotSmallerThanSize(t *testing.T) {
	chunks := Chunk("abcdefgh", 4, 4)
	assert.Equal(t, []string{"abcd", "efgh"}, chunks)
}

func TestChunkCountsRunes(t *testing.T) {
	chunks := Chunk("héllo wörld", 5, 0)
	assert.Equal(t, []string{"héllo", "wörl", "d"}, chunks)
}
