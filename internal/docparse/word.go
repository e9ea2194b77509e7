package docparse

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ovokpus/regcopilot/internal/chunk"
	rcerrors "github.com/ovokpus/regcopilot/internal/errors"
	"github.com/ovokpus/regcopilot/internal/store"
)

// wordSectionLimit bounds the characters accumulated into one document
// section before the splitter takes over.
const wordSectionLimit = 1000

// parseWord extracts the nonempty paragraphs of a DOCX body and groups them
// into sections of about a thousand characters, split only at paragraph
// boundaries.
func parseWord(ctx context.Context, path, filename string) ([]chunk.Fragment, error) {
	paragraphs, err := docxParagraphs(path)
	if err != nil {
		return nil, rcerrors.ParseError(filename, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(paragraphs) == 0 {
		return nil, nil
	}

	regType := classifyWord(filename, strings.Join(paragraphs, " "))

	var fragments []chunk.Fragment
	emit := func(section []string) {
		if len(section) == 0 {
			return
		}
		md := baseMetadata(filename, store.DocTypeWord,
			fmt.Sprintf("Document Section (%d paragraphs)", len(section)))
		md[store.KeyRegulatoryType] = store.String(regType)
		md["total_paragraphs"] = store.Int(len(paragraphs))
		fragments = append(fragments, chunk.Fragment{
			Text:     strings.Join(section, "\n\n"),
			Metadata: md,
		})
	}

	var section []string
	size := 0
	for _, p := range paragraphs {
		if size+len(p) > wordSectionLimit && len(section) > 0 {
			emit(section)
			section = []string{p}
			size = len(p)
			continue
		}
		section = append(section, p)
		size += len(p)
	}
	emit(section)

	return fragments, nil
}

// docxParagraphs streams word/document.xml and collects the trimmed text of
// every paragraph, including paragraphs nested in tables.
func docxParagraphs(path string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()

	var doc io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc, err = f.Open()
			if err != nil {
				return nil, err
			}
			break
		}
	}
	if doc == nil {
		return nil, errors.New("no word/document.xml entry")
	}
	defer func() { _ = doc.Close() }()

	var paragraphs []string
	var current strings.Builder

	dec := xml.NewDecoder(doc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				var text string
				if err := dec.DecodeElement(&text, &t); err != nil {
					return nil, err
				}
				current.WriteString(text)
			case "tab":
				current.WriteByte('\t')
			case "br", "cr":
				current.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Local == "p" {
				if text := strings.TrimSpace(current.String()); text != "" {
					paragraphs = append(paragraphs, text)
				}
				current.Reset()
			}
		}
	}
	return paragraphs, nil
}
