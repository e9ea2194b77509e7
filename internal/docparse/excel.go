package docparse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/ovokpus/regcopilot/internal/chunk"
	rcerrors "github.com/ovokpus/regcopilot/internal/errors"
	"github.com/ovokpus/regcopilot/internal/store"
)

// Sheet rendering bounds. COREP/FINREP templates can run to thousands of
// rows; the first 50x10 window captures the template structure.
const (
	excelMaxRows = 50
	excelMaxCols = 10
)

// parseExcel emits one Markdown-table fragment per non-empty sheet. Files
// named .xls go through the legacy BIFF reader first; when that fails the
// OOXML reader gets a try, since exports are often xlsx under a .xls name.
func parseExcel(ctx context.Context, path, filename string) ([]chunk.Fragment, error) {
	if lowerExt(filename) == ".xls" {
		fragments, xlsErr := parseXLS(ctx, path, filename)
		if xlsErr == nil {
			return fragments, nil
		}
		if fragments, err := parseXLSX(ctx, path, filename); err == nil {
			slog.Info("parsed as xlsx despite .xls extension",
				slog.String("file", filename))
			return fragments, nil
		}
		return nil, xlsErr
	}
	return parseXLSX(ctx, path, filename)
}

func parseXLSX(ctx context.Context, path, filename string) ([]chunk.Fragment, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, rcerrors.ParseError(filename, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	regType := classifyExcel(filename, sheets)

	var fragments []chunk.Fragment
	for _, name := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, rerr := f.GetRows(name)
		if rerr != nil {
			slog.Warn("skipping unreadable sheet",
				slog.String("file", filename),
				slog.String("sheet", name),
				slog.String("error", rerr.Error()))
			continue
		}

		content := renderSheetTable(name, rows)
		if content == "" {
			continue
		}

		maxCol := 0
		for _, row := range rows {
			if len(row) > maxCol {
				maxCol = len(row)
			}
		}
		fragments = append(fragments, sheetFragment(filename, name, regType, content, len(rows), maxCol))
	}
	return fragments, nil
}

func parseXLS(ctx context.Context, path, filename string) ([]chunk.Fragment, error) {
	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, rcerrors.ParseError(filename, err)
	}

	type legacySheet struct {
		ws   *xls.WorkSheet
		name string
	}
	var sheets []legacySheet
	names := make([]string, 0, wb.NumSheets())
	for i := 0; i < wb.NumSheets(); i++ {
		if ws := wb.GetSheet(i); ws != nil {
			sheets = append(sheets, legacySheet{ws: ws, name: ws.Name})
			names = append(names, ws.Name)
		}
	}
	regType := classifyExcel(filename, names)

	var fragments []chunk.Fragment
	for _, s := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, maxCol := legacyRows(s.ws)
		content := renderSheetTable(s.name, rows)
		if content == "" {
			continue
		}
		fragments = append(fragments, sheetFragment(filename, s.name, regType, content, int(s.ws.MaxRow)+1, maxCol))
	}
	return fragments, nil
}

// legacyRows extracts the render window from a BIFF sheet. Metadata row
// counts come from the sheet header, so only the window is materialized.
func legacyRows(ws *xls.WorkSheet) ([][]string, int) {
	limit := int(ws.MaxRow) + 1
	if limit > excelMaxRows {
		limit = excelMaxRows
	}

	rows := make([][]string, 0, limit)
	maxCol := 0
	for i := 0; i < limit; i++ {
		row := ws.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		last := row.LastCol()
		if last > maxCol {
			maxCol = last
		}
		cells := make([]string, 0, last)
		for j := 0; j < last; j++ {
			cells = append(cells, row.Col(j))
		}
		rows = append(rows, cells)
	}
	return rows, maxCol
}

func sheetFragment(filename, sheet, regType, content string, maxRow, maxCol int) chunk.Fragment {
	md := baseMetadata(filename, store.DocTypeExcel, "Sheet: "+sheet)
	md[store.KeySheetName] = store.String(sheet)
	md[store.KeyRegulatoryType] = store.String(regType)
	md[store.KeyMaxRow] = store.Int(maxRow)
	md[store.KeyMaxColumn] = store.Int(maxCol)
	return chunk.Fragment{Text: content, Metadata: md}
}

// renderSheetTable renders the first excelMaxRows x excelMaxCols window as a
// Markdown table under a template heading. Rows without content are dropped;
// a sheet with no content at all renders to "".
func renderSheetTable(sheetName string, rows [][]string) string {
	var rendered [][]string
	for i, row := range rows {
		if i >= excelMaxRows {
			break
		}
		width := len(row)
		if width > excelMaxCols {
			width = excelMaxCols
		}
		cells := make([]string, 0, width)
		hasContent := false
		for j := 0; j < width; j++ {
			c := mdCell(row[j])
			if c != "" {
				hasContent = true
			}
			cells = append(cells, c)
		}
		if hasContent {
			rendered = append(rendered, cells)
		}
	}
	if len(rendered) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Regulatory Template: %s\n\n", sheetName)
	b.WriteString("| " + strings.Join(rendered[0], " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(rendered[0])) + "\n")
	for _, row := range rendered[1:] {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	return strings.TrimSpace(b.String())
}

// mdCell makes a cell safe for a Markdown table row.
func mdCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.TrimSpace(s)
}
