package docparse

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/ovokpus/regcopilot/internal/store"
)

const regulatoryPage = `<!DOCTYPE html>
<html>
<head>
<title>CRR Article 92</title>
<meta name="description" content="Own funds requirements">
<meta name="keywords" content="crr, own funds, capital">
<script>var tracking = "ignore-me";</script>
</head>
<body>
<h1>Own Funds Requirements</h1>
<p>Institutions shall at all times satisfy a CET1 ratio of 4.5%.</p>
</body>
</html>`

func TestParseHTMLDocument(t *testing.T) {
	// Given a regulation page with head metadata and a script block
	path := writeFixture(t, "crr_art92.html", []byte(regulatoryPage))

	// When parsed
	fragments, err := parseHTML(context.Background(), path, "crr_art92.html")

	// Then one fragment carries the body text and the head lands in metadata
	require.NoError(t, err)
	require.Len(t, fragments, 1)

	text := fragments[0].Text
	assert.Contains(t, text, "Own Funds Requirements")
	assert.Contains(t, text, "CET1 ratio of 4.5%")
	assert.NotContains(t, text, "ignore-me")

	md := fragments[0].Metadata
	assert.Equal(t, store.DocTypeHTML, md.GetString(store.KeyDocType))
	assert.Equal(t, "HTML Document", md.GetString(store.KeySourceLocation))
	assert.Equal(t, "CRR Article 92", md.GetString("title"))
	assert.Equal(t, "Own funds requirements", md.GetString("meta_description"))
	assert.Equal(t, "crr, own funds, capital", md.GetString("meta_keywords"))
	assert.False(t, md.Has(store.KeyRegulatoryType))
}

func TestParseHTMLWithoutHead(t *testing.T) {
	path := writeFixture(t, "plain.html", []byte("<html><body><p>Just text.</p></body></html>"))

	fragments, err := parseHTML(context.Background(), path, "plain.html")

	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.Contains(t, fragments[0].Text, "Just text.")
	assert.False(t, fragments[0].Metadata.Has("title"))
	assert.False(t, fragments[0].Metadata.Has("meta_description"))
}

func TestParseHTMLEmptyBody(t *testing.T) {
	path := writeFixture(t, "empty.html", []byte("<html><body>   </body></html>"))

	fragments, err := parseHTML(context.Background(), path, "empty.html")

	require.NoError(t, err)
	assert.Empty(t, fragments)
}

func TestHeadMeta(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(regulatoryPage))
	require.NoError(t, err)

	head := headMeta(doc)

	assert.Equal(t, "CRR Article 92", head.title)
	assert.Equal(t, "Own funds requirements", head.description)
	assert.Equal(t, "crr, own funds, capital", head.keywords)
}

func TestPlainTextStripsScriptAndCollapses(t *testing.T) {
	// Given markup with script, style, and scattered whitespace
	raw := `<html><head><style>p { color: red }</style></head>
<body><p>alpha   beta</p>
<script>var x = 1;</script><p>gamma</p></body></html>`
	doc, err := html.Parse(bytes.NewReader([]byte(raw)))
	require.NoError(t, err)

	// When flattened
	got := plainText(doc)

	// Then only visible text remains, single-spaced
	assert.Equal(t, "alpha beta gamma", got)
}
