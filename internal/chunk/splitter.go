// Package chunk splits parsed document text into overlapping retrieval
// units. Splits prefer paragraph breaks, then sentence ends, then any
// whitespace, and never land inside a whitespace-free token.
package chunk

import (
	"strings"
	"unicode"

	"github.com/ovokpus/regcopilot/internal/store"
)

// Splitting defaults, in characters.
const (
	DefaultSize    = 800
	DefaultOverlap = 50
)

// Fragment is one unit of parsed document text with its metadata. Parsers
// emit fragments; the splitter turns them into index-ready chunks.
type Fragment struct {
	Text     string
	Metadata store.Metadata
}

// Options configures a Splitter.
type Options struct {
	Size    int // Maximum characters per chunk (default: DefaultSize)
	Overlap int // Characters carried from the previous chunk (default: DefaultOverlap)
}

// Splitter performs character-window chunking with boundary snapping.
type Splitter struct {
	size    int
	overlap int
	minTail int
}

// NewSplitter creates a splitter with default options.
func NewSplitter() *Splitter {
	return NewSplitterWithOptions(Options{})
}

// NewSplitterWithOptions creates a splitter with custom options.
func NewSplitterWithOptions(opts Options) *Splitter {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.Overlap <= 0 {
		opts.Overlap = DefaultOverlap
	}
	if opts.Overlap >= opts.Size {
		opts.Overlap = opts.Size / 2
	}
	return &Splitter{
		size:    opts.Size,
		overlap: opts.Overlap,
		// Tail chunks shorter than 40% of the window merge into the
		// previous chunk.
		minTail: opts.Size * 2 / 5,
	}
}

// Split divides text into chunks of at most the configured size, each
// carrying the last overlap characters of its predecessor. Whitespace-only
// input yields no chunks.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= s.size {
		return []string{text}
	}

	type span struct{ start, end int }
	var spans []span

	start := 0
	for start < len(text) {
		if len(text)-start <= s.size {
			spans = append(spans, span{start, len(text)})
			break
		}
		cut := s.cutPoint(text, start, start+s.size)
		if cut >= len(text) {
			spans = append(spans, span{start, len(text)})
			break
		}
		spans = append(spans, span{start, cut})

		next := cut - s.overlap
		if next <= start {
			next = cut
		}
		start = next
	}

	// Merge a short tail into the previous chunk.
	if n := len(spans); n >= 2 && spans[n-1].end-spans[n-1].start < s.minTail {
		spans[n-2].end = spans[n-1].end
		spans = spans[:n-1]
	}

	chunks := make([]string, 0, len(spans))
	for _, sp := range spans {
		if c := strings.TrimSpace(text[sp.start:sp.end]); c != "" {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

// cutPoint picks the split position for the window text[start:end), trying
// paragraph break, sentence end, then whitespace. A window holding a single
// oversized token extends past end to the token's first whitespace.
func (s *Splitter) cutPoint(text string, start, end int) int {
	window := text[start:end]

	if i := strings.LastIndex(window, "\n\n"); i > 0 {
		return start + i + 2
	}

	// Sentence end: terminal punctuation followed by whitespace. ASCII byte
	// checks are UTF-8 safe because multibyte runes never contain ASCII.
	for i := len(window) - 2; i > 0; i-- {
		c := window[i]
		if (c == '.' || c == '!' || c == '?') && isSpaceByte(window[i+1]) {
			return start + i + 2
		}
	}

	if i := strings.LastIndexFunc(window, unicode.IsSpace); i > 0 {
		return start + i + 1
	}

	if j := strings.IndexFunc(text[end:], unicode.IsSpace); j >= 0 {
		return end + j + 1
	}
	return len(text)
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// SplitFragments chunks every fragment of one document. Fragment metadata is
// copied to each sub-chunk and chunk_index numbers the chunks across the
// whole document, not per fragment.
func (s *Splitter) SplitFragments(fragments []Fragment) []Fragment {
	var out []Fragment
	idx := 0
	for _, f := range fragments {
		for _, text := range s.Split(f.Text) {
			md := f.Metadata.Clone()
			if md == nil {
				md = store.Metadata{}
			}
			md[store.KeyChunkIndex] = store.Int(idx)
			out = append(out, Fragment{Text: text, Metadata: md})
			idx++
		}
	}
	return out
}
