package chunk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovokpus/regcopilot/internal/store"
)

func words(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "word%04d ", i)
	}
	return strings.TrimSpace(b.String())
}

func TestSplitter_ShortTextPassesThrough(t *testing.T) {
	s := NewSplitter()

	// Given: text within one window
	text := "The CET1 ratio must remain above the regulatory minimum."

	// Then: it comes back whole, trimmed
	chunks := s.Split("  " + text + "\n")
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestSplitter_EmptyInputYieldsNothing(t *testing.T) {
	s := NewSplitter()
	assert.Nil(t, s.Split(""))
	assert.Nil(t, s.Split("   \n\t  "))
}

func TestSplitter_PrefersParagraphBreaks(t *testing.T) {
	s := NewSplitter()

	// Given: two ~600-char paragraphs with a blank line between them
	para1 := strings.TrimSpace(strings.Repeat("alpha ", 100))
	para2 := strings.TrimSpace(strings.Repeat("beta ", 120))
	text := para1 + "\n\n" + para2

	// When: split
	chunks := s.Split(text)

	// Then: the first cut lands exactly on the paragraph break
	require.Len(t, chunks, 2)
	assert.Equal(t, para1, chunks[0])

	// And: the second chunk carries overlap from the first and runs to the end
	assert.True(t, strings.HasPrefix(chunks[1], "alpha"))
	assert.Contains(t, chunks[1], "\n\nbeta")
	assert.True(t, strings.HasSuffix(chunks[1], "beta"))
}

func TestSplitter_FallsBackToSentenceEnds(t *testing.T) {
	s := NewSplitter()

	// Given: continuous prose with sentence ends but no paragraph breaks
	text := strings.TrimSpace(strings.Repeat("The leverage ratio is computed quarterly. ", 30))

	// When: split
	chunks := s.Split(text)

	// Then: the first chunk ends on a sentence boundary and fits the window
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.True(t, strings.HasSuffix(chunks[0], "quarterly."))
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), DefaultSize)
	}
}

func TestSplitter_FallsBackToWhitespace(t *testing.T) {
	s := NewSplitter()

	// Given: words with no punctuation at all
	text := words(120)

	// When: split
	chunks := s.Split(text)

	// Then: cuts land between words, never inside one
	require.Len(t, chunks, 2)
	assert.True(t, strings.HasSuffix(chunks[0], "word0088"))

	// And: the tail of the first chunk recurs at the head of the second
	overlap := chunks[0][len(chunks[0])-30:]
	assert.Contains(t, chunks[1], overlap)
}

func TestSplitter_NeverSplitsInsideToken(t *testing.T) {
	s := NewSplitter()

	// Given: a single token far wider than the window
	run := strings.Repeat("x", 1500)
	text := "start " + run + " end"

	// When: split
	chunks := s.Split(text)

	// Then: the token survives unbroken in one chunk
	require.Len(t, chunks, 2)
	assert.Equal(t, "start", chunks[0])
	assert.Contains(t, chunks[1], run)
	assert.True(t, strings.HasSuffix(chunks[1], "end"))
}

func TestSplitter_ShortTailMergesIntoPrevious(t *testing.T) {
	s := NewSplitter()

	// Given: a long paragraph followed by a short trailing paragraph
	para1 := strings.TrimSpace(strings.Repeat("gamma ", 117))
	para2 := strings.TrimSpace(strings.Repeat("delta ", 19))
	text := para1 + "\n\n" + para2

	// When: split
	chunks := s.Split(text)

	// Then: the sub-40% tail folds back into the previous chunk
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "gamma")
	assert.Contains(t, chunks[0], "delta")
}

func TestSplitter_SmallWindowExactCuts(t *testing.T) {
	// Given: a 12-char window with 3-char overlap
	s := NewSplitterWithOptions(Options{Size: 12, Overlap: 3})

	// When: splitting two short sentences
	chunks := s.Split("aaaa bbbb. cccc dddd")

	// Then: the cut follows the sentence end and the overlap carries back 3 chars
	assert.Equal(t, []string{"aaaa bbbb.", "b. cccc dddd"}, chunks)
}

func TestSplitter_SmallWindowWhitespaceCuts(t *testing.T) {
	s := NewSplitterWithOptions(Options{Size: 10, Overlap: 2})
	chunks := s.Split("aaa bbb ccc ddd eee")
	assert.Equal(t, []string{"aaa bbb", "b ccc ddd", "d eee"}, chunks)
}

func TestSplitter_OptionDefaults(t *testing.T) {
	s := NewSplitterWithOptions(Options{})
	assert.Equal(t, DefaultSize, s.size)
	assert.Equal(t, DefaultOverlap, s.overlap)

	// Oversized overlap clamps to half the window.
	s = NewSplitterWithOptions(Options{Size: 100, Overlap: 500})
	assert.Equal(t, 50, s.overlap)
}

func TestSplitFragments_NumbersAcrossDocument(t *testing.T) {
	s := NewSplitter()

	// Given: a two-chunk fragment followed by a single-chunk fragment
	para1 := strings.TrimSpace(strings.Repeat("alpha ", 100))
	para2 := strings.TrimSpace(strings.Repeat("beta ", 120))
	long := para1 + "\n\n" + para2

	fragments := []Fragment{
		{Text: long, Metadata: store.Metadata{
			store.KeyFilename:   store.String("basel.pdf"),
			store.KeyPageNumber: store.Int(1),
		}},
		{Text: "Short closing note.", Metadata: store.Metadata{
			store.KeyFilename:   store.String("basel.pdf"),
			store.KeyPageNumber: store.Int(2),
		}},
	}

	// When: split
	out := s.SplitFragments(fragments)

	// Then: chunk_index runs 0..2 across the whole document
	require.Len(t, out, 3)
	for i, f := range out {
		assert.Equal(t, i, f.Metadata.GetInt(store.KeyChunkIndex))
		assert.Equal(t, "basel.pdf", f.Metadata.GetString(store.KeyFilename))
	}

	// And: parent metadata rides along per fragment
	assert.Equal(t, 1, out[0].Metadata.GetInt(store.KeyPageNumber))
	assert.Equal(t, 1, out[1].Metadata.GetInt(store.KeyPageNumber))
	assert.Equal(t, 2, out[2].Metadata.GetInt(store.KeyPageNumber))

	// And: the input fragments are not mutated
	assert.False(t, fragments[0].Metadata.Has(store.KeyChunkIndex))
}

func TestSplitFragments_SkipsEmptyAndHandlesNilMetadata(t *testing.T) {
	s := NewSplitter()

	fragments := []Fragment{
		{Text: "   ", Metadata: store.Metadata{store.KeyFilename: store.String("a.txt")}},
		{Text: "content", Metadata: nil},
	}

	out := s.SplitFragments(fragments)
	require.Len(t, out, 1)
	assert.Equal(t, "content", out[0].Text)
	assert.Equal(t, 0, out[0].Metadata.GetInt(store.KeyChunkIndex))
}

func TestSplitFragments_OverwritesParserChunkIndex(t *testing.T) {
	s := NewSplitter()

	fragments := []Fragment{
		{Text: "first", Metadata: store.Metadata{
			store.KeyFilename:   store.String("a.txt"),
			store.KeyChunkIndex: store.Int(99),
		}},
		{Text: "second", Metadata: store.Metadata{
			store.KeyFilename:   store.String("a.txt"),
			store.KeyChunkIndex: store.Int(99),
		}},
	}

	out := s.SplitFragments(fragments)
	require.Len(t, out, 2)
	assert.Equal(t, 0, out[0].Metadata.GetInt(store.KeyChunkIndex))
	assert.Equal(t, 1, out[1].Metadata.GetInt(store.KeyChunkIndex))
}
