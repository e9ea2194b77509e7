package docparse

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/ovokpus/regcopilot/internal/chunk"
	rcerrors "github.com/ovokpus/regcopilot/internal/errors"
	"github.com/ovokpus/regcopilot/internal/store"
)

const (
	csvSniffBytes = 1024
	csvSampleRows = 5
	csvPreviewMax = 2000
)

// csvDelimiters are the sniff candidates, most common first. Ties go to the
// earlier candidate.
var csvDelimiters = []byte{',', ';', '\t', '|'}

// parseCSV emits a single summary fragment: type, row and column counts, the
// column list, and the first five rows as an aligned text table. Row-level
// fragments would be retrieval noise for mapping and Jira exports.
func parseCSV(ctx context.Context, path, filename string) ([]chunk.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rcerrors.ParseError(filename, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if !utf8.Valid(data) {
		// Binary data under a .csv name. Keep it retrievable as a raw
		// preview instead of failing the upload.
		return []chunk.Fragment{rawCSVFragment(filename, data)}, nil
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	rows, rerr := reader.ReadAll()
	if rerr != nil || len(rows) == 0 {
		return []chunk.Fragment{rawCSVFragment(filename, data)}, nil
	}

	header := rows[0]
	dataRows := rows[1:]
	regType := classifyCSV(filename, header)

	var b strings.Builder
	fmt.Fprintf(&b, "# Regulatory CSV: %s\n\n", filename)
	fmt.Fprintf(&b, "**Type:** %s\n", regType)
	fmt.Fprintf(&b, "**Total Rows:** %d\n", len(dataRows))
	fmt.Fprintf(&b, "**Total Columns:** %d\n\n", len(header))
	b.WriteString("## Columns:\n")
	for _, col := range header {
		fmt.Fprintf(&b, "- %s\n", col)
	}
	b.WriteString("\n## Sample Data:\n")
	b.WriteString(alignedTable(header, dataRows))

	md := baseMetadata(filename, store.DocTypeCSV, fmt.Sprintf("CSV Summary (%d rows)", len(dataRows)))
	md[store.KeyRegulatoryType] = store.String(regType)
	md["total_rows"] = store.Int(len(dataRows))
	md["column_count"] = store.Int(len(header))
	md["columns"] = store.String(strings.Join(header, ", "))
	md["parsing_status"] = store.String("success")
	return []chunk.Fragment{{Text: strings.TrimSpace(b.String()), Metadata: md}}, nil
}

// sniffDelimiter counts candidate bytes over the first 1 KiB and picks the
// most frequent, falling back to comma.
func sniffDelimiter(data []byte) rune {
	sample := data
	if len(sample) > csvSniffBytes {
		sample = sample[:csvSniffBytes]
	}

	best := byte(',')
	bestCount := 0
	for _, cand := range csvDelimiters {
		if n := bytes.Count(sample, []byte{cand}); n > bestCount {
			best = cand
			bestCount = n
		}
	}
	return rune(best)
}

// alignedTable renders the header plus up to csvSampleRows rows with
// space-padded columns.
func alignedTable(header []string, rows [][]string) string {
	sample := rows
	if len(sample) > csvSampleRows {
		sample = sample[:csvSampleRows]
	}

	clean := func(s string) string {
		return strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(clean(h))
	}
	for _, row := range sample {
		for i, cell := range row {
			if i < len(widths) && len(clean(cell)) > widths[i] {
				widths[i] = len(clean(cell))
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		for i := range widths {
			c := ""
			if i < len(cells) {
				c = clean(cells[i])
			}
			if i > 0 {
				b.WriteString("  ")
			}
			if i == len(widths)-1 {
				b.WriteString(c)
			} else {
				fmt.Fprintf(&b, "%-*s", widths[i], c)
			}
		}
		b.WriteByte('\n')
	}
	writeRow(header)
	for _, row := range sample {
		writeRow(row)
	}
	return strings.TrimRight(b.String(), "\n")
}

// rawCSVFragment preserves an unparseable CSV as a fenced preview.
func rawCSVFragment(filename string, data []byte) chunk.Fragment {
	raw := data
	truncated := false
	if len(raw) > csvPreviewMax {
		raw = raw[:csvPreviewMax]
		truncated = true
	}
	preview := strings.ToValidUTF8(string(raw), "�")

	var b strings.Builder
	fmt.Fprintf(&b, "# Regulatory CSV: %s\n\n", filename)
	b.WriteString("**Note:** File had parsing issues, showing raw preview\n\n")
	b.WriteString("## File Preview:\n```\n")
	b.WriteString(preview)
	if truncated {
		b.WriteString("\n... (truncated)")
	}
	b.WriteString("\n```")

	md := baseMetadata(filename, store.DocTypeCSV, "CSV Raw Content (parsing failed)")
	md["parsing_status"] = store.String("failed")
	return chunk.Fragment{Text: b.String(), Metadata: md}
}
