package docparse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/ovokpus/regcopilot/internal/chunk"
	rcerrors "github.com/ovokpus/regcopilot/internal/errors"
	"github.com/ovokpus/regcopilot/internal/store"
)

// parsePDF emits one fragment per non-blank page in page order. Basel
// framework texts are the dominant regulatory PDFs, so pages default to
// regulatory_type=basel_document.
func parsePDF(ctx context.Context, path, filename string) (fragments []chunk.Fragment, err error) {
	// The pdf reader panics on malformed xref tables and exotic encodings,
	// so the whole pass converts panics into a ParseError.
	defer func() {
		if r := recover(); r != nil {
			fragments = nil
			err = rcerrors.ParseError(filename, fmt.Errorf("pdf reader: %v", r))
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, rcerrors.ParseError(filename, err)
	}
	defer func() { _ = f.Close() }()

	total := reader.NumPage()
	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, perr := page.GetPlainText(nil)
		if perr != nil {
			slog.Warn("skipping unreadable pdf page",
				slog.String("file", filename),
				slog.Int("page", n),
				slog.String("error", perr.Error()))
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		md := baseMetadata(filename, store.DocTypePDF, fmt.Sprintf("Page %d", n))
		md[store.KeyPageNumber] = store.Int(n)
		md[store.KeyTotalPages] = store.Int(total)
		md[store.KeyRegulatoryType] = store.String(store.RegTypeBaselDocument)
		fragments = append(fragments, chunk.Fragment{Text: text, Metadata: md})
	}
	return fragments, nil
}
