// Package docparse turns uploaded regulatory documents into ordered text
// fragments with provenance metadata. One parser per document family: PDF,
// Excel, Word, PowerPoint, CSV, HTML, SQL, source code, and plain text.
package docparse

import (
	"context"
	"sort"
	"strings"

	"github.com/ovokpus/regcopilot/internal/chunk"
	rcerrors "github.com/ovokpus/regcopilot/internal/errors"
	"github.com/ovokpus/regcopilot/internal/store"
)

// extensionTypes binds lowercase extensions to parser families.
var extensionTypes = map[string]string{
	".pdf":      store.DocTypePDF,
	".xlsx":     store.DocTypeExcel,
	".xls":      store.DocTypeExcel,
	".docx":     store.DocTypeWord,
	".pptx":     store.DocTypePowerPoint,
	".ppt":      store.DocTypePowerPoint,
	".csv":      store.DocTypeCSV,
	".html":     store.DocTypeHTML,
	".htm":      store.DocTypeHTML,
	".sql":      store.DocTypeSQL,
	".py":       store.DocTypeCode,
	".js":       store.DocTypeCode,
	".ts":       store.DocTypeCode,
	".md":       store.DocTypeMarkdown,
	".markdown": store.DocTypeMarkdown,
	".txt":      store.DocTypeText,
}

// mimeTypes lets a declared Content-Type select the parser when it names a
// supported format. Generic types (application/octet-stream) are absent, so
// they fall through to the extension.
var mimeTypes = map[string]string{
	"application/pdf": store.DocTypePDF,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":   store.DocTypeExcel,
	"application/vnd.ms-excel":                                            store.DocTypeExcel,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": store.DocTypeWord,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": store.DocTypePowerPoint,
	"application/vnd.ms-powerpoint": store.DocTypePowerPoint,
	"text/csv":                      store.DocTypeCSV,
	"text/html":                     store.DocTypeHTML,
	"application/sql":               store.DocTypeSQL,
	"text/markdown":                 store.DocTypeMarkdown,
	"text/plain":                    store.DocTypeText,
}

// SupportedExtensions returns the accepted upload extensions, sorted.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extensionTypes))
	for ext := range extensionTypes {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// IsSupported reports whether the filename's extension has a parser.
func IsSupported(filename string) bool {
	_, ok := extensionTypes[lowerExt(filename)]
	return ok
}

// Resolve picks the parser family for a declared filename and MIME type. The
// MIME type wins when it names a supported format; otherwise the extension
// decides. Unknown on both axes is an UnsupportedFileType error.
func Resolve(filename, mimeType string) (string, error) {
	if mt := normalizeMIME(mimeType); mt != "" {
		if docType, ok := mimeTypes[mt]; ok {
			return docType, nil
		}
	}
	if docType, ok := extensionTypes[lowerExt(filename)]; ok {
		return docType, nil
	}
	return "", rcerrors.UnsupportedFileType(filename, strings.Join(SupportedExtensions(), ", "))
}

// Parse reads the file at path and produces its ordered fragments. Fragment
// metadata always carries filename, doc_type, and source_location; parsers
// add their family-specific keys on top.
func Parse(ctx context.Context, path, filename, mimeType string) ([]chunk.Fragment, error) {
	docType, err := Resolve(filename, mimeType)
	if err != nil {
		return nil, err
	}

	switch docType {
	case store.DocTypePDF:
		return parsePDF(ctx, path, filename)
	case store.DocTypeExcel:
		return parseExcel(ctx, path, filename)
	case store.DocTypeWord:
		return parseWord(ctx, path, filename)
	case store.DocTypePowerPoint:
		return parsePowerPoint(ctx, path, filename)
	case store.DocTypeCSV:
		return parseCSV(ctx, path, filename)
	case store.DocTypeHTML:
		return parseHTML(ctx, path, filename)
	case store.DocTypeSQL:
		return parseSQL(ctx, path, filename)
	case store.DocTypeCode:
		return parseCode(ctx, path, filename)
	case store.DocTypeMarkdown:
		return parseText(ctx, path, filename, store.DocTypeMarkdown)
	default:
		return parseText(ctx, path, filename, store.DocTypeText)
	}
}

func lowerExt(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(filename[i:])
}

// normalizeMIME drops parameters like "; charset=utf-8" and lowercases.
func normalizeMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// baseMetadata is the common fragment metadata every parser starts from.
func baseMetadata(filename, docType, sourceLocation string) store.Metadata {
	return store.Metadata{
		store.KeyFilename:       store.String(filename),
		store.KeyDocType:        store.String(docType),
		store.KeySourceLocation: store.String(sourceLocation),
	}
}
