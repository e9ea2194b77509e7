package docparse

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ovokpus/regcopilot/internal/chunk"
	rcerrors "github.com/ovokpus/regcopilot/internal/errors"
	"github.com/ovokpus/regcopilot/internal/store"
)

// parseSQL splits a script into top-level statements, one fragment each, so
// a lineage query is retrievable on its own instead of buried in the file.
func parseSQL(ctx context.Context, path, filename string) ([]chunk.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rcerrors.ParseError(filename, err)
	}
	script := strings.TrimSpace(string(data))
	if script == "" {
		return nil, nil
	}

	var fragments []chunk.Fragment
	for i, stmt := range splitSQL(script) {
		codeType := classifyCode(filename, stmt)
		md := baseMetadata(filename, store.DocTypeSQL, fmt.Sprintf("Statement %d", i+1))
		md[store.KeyLanguage] = store.String("sql")
		md[store.KeyLineCount] = store.Int(strings.Count(stmt, "\n") + 1)
		md[store.KeyRegulatoryType] = store.String(codeType)
		md[store.KeyCodeType] = store.String(codeType)
		fragments = append(fragments, chunk.Fragment{Text: stmt, Metadata: md})
	}
	return fragments, nil
}

// splitSQL cuts on semicolons outside quotes and comments. Quoted strings
// may escape the quote by doubling or backslash.
func splitSQL(script string) []string {
	var statements []string
	var current strings.Builder

	i, n := 0, len(script)
	for i < n {
		c := script[i]
		switch {
		case c == '-' && i+1 < n && script[i+1] == '-':
			j := strings.IndexByte(script[i:], '\n')
			if j < 0 {
				current.WriteString(script[i:])
				i = n
			} else {
				current.WriteString(script[i : i+j+1])
				i += j + 1
			}
		case c == '/' && i+1 < n && script[i+1] == '*':
			j := strings.Index(script[i+2:], "*/")
			if j < 0 {
				current.WriteString(script[i:])
				i = n
			} else {
				end := i + 2 + j + 2
				current.WriteString(script[i:end])
				i = end
			}
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < n {
				if script[j] == '\\' && j+1 < n {
					j += 2
					continue
				}
				if script[j] == quote {
					if j+1 < n && script[j+1] == quote {
						j += 2
						continue
					}
					break
				}
				j++
			}
			if j >= n {
				current.WriteString(script[i:])
				i = n
			} else {
				current.WriteString(script[i : j+1])
				i = j + 1
			}
		case c == ';':
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				statements = append(statements, stmt+";")
			}
			current.Reset()
			i++
		default:
			current.WriteByte(c)
			i++
		}
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}

// parseCode emits one whole-file fragment with a fenced block and a header
// naming language, type, and line count.
func parseCode(ctx context.Context, path, filename string) ([]chunk.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rcerrors.ParseError(filename, err)
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	lang := languageFor(lowerExt(filename))
	codeType := classifyCode(filename, content)
	lineCount := strings.Count(content, "\n") + 1

	text := fmt.Sprintf("# Regulatory Code: %s\n\n**Language:** %s\n**Type:** %s\n**Lines:** %d\n\n```%s\n%s\n```",
		filename, lang, codeType, lineCount, lang, strings.TrimRight(content, "\n"))

	md := baseMetadata(filename, store.DocTypeCode, "Full File")
	md[store.KeyLanguage] = store.String(lang)
	md[store.KeyLineCount] = store.Int(lineCount)
	md[store.KeyRegulatoryType] = store.String(codeType)
	md[store.KeyCodeType] = store.String(codeType)
	return []chunk.Fragment{{Text: text, Metadata: md}}, nil
}

// parseText handles .txt and .md: the whole trimmed file as one fragment.
// Empty files yield zero fragments, not an error.
func parseText(ctx context.Context, path, filename, docType string) ([]chunk.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rcerrors.ParseError(filename, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}

	md := baseMetadata(filename, docType, "Full File")
	return []chunk.Fragment{{Text: text, Metadata: md}}, nil
}
