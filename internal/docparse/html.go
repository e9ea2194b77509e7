package docparse

import (
	"bytes"
	"context"
	"os"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"

	"github.com/ovokpus/regcopilot/internal/chunk"
	rcerrors "github.com/ovokpus/regcopilot/internal/errors"
	"github.com/ovokpus/regcopilot/internal/store"
)

// parseHTML emits one whole-document fragment. The body renders to Markdown
// so framework pages read like the other document families; title and meta
// description/keywords land in metadata when present.
func parseHTML(ctx context.Context, path, filename string) ([]chunk.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rcerrors.ParseError(filename, err)
	}

	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, rcerrors.ParseError(filename, err)
	}
	head := headMeta(doc)

	content, cerr := htmltomarkdown.ConvertString(string(data))
	if cerr != nil || strings.TrimSpace(content) == "" {
		content = plainText(doc)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}

	md := baseMetadata(filename, store.DocTypeHTML, "HTML Document")
	if head.title != "" {
		md["title"] = store.String(head.title)
	}
	if head.description != "" {
		md["meta_description"] = store.String(head.description)
	}
	if head.keywords != "" {
		md["meta_keywords"] = store.String(head.keywords)
	}
	return []chunk.Fragment{{Text: content, Metadata: md}}, nil
}

type htmlHead struct {
	title       string
	description string
	keywords    string
}

func headMeta(doc *html.Node) htmlHead {
	var head htmlHead
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if head.title == "" {
					head.title = strings.TrimSpace(nodeText(n))
				}
			case "meta":
				var name, content string
				for _, a := range n.Attr {
					switch strings.ToLower(a.Key) {
					case "name":
						name = strings.ToLower(a.Val)
					case "content":
						content = a.Val
					}
				}
				switch name {
				case "description":
					head.description = strings.TrimSpace(content)
				case "keywords":
					head.keywords = strings.TrimSpace(content)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return head
}

// plainText is the fallback renderer: text nodes with script, style, and
// noscript subtrees stripped, whitespace collapsed.
func plainText(doc *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}
