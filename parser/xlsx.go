package parser

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser renders each sheet as a pipe-delimited table under a heading
// line with the sheet name.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) (*Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var (
		b      strings.Builder
		sheets int
		rows   int
	)
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sheetRows, err := f.GetRows(sheet)
		if err != nil || len(sheetRows) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Sheet: " + sheet + "\n")
		for _, row := range sheetRows {
			if isEmptyRow(row) {
				continue
			}
			b.WriteString("| " + strings.Join(row, " | ") + " |\n")
			rows++
		}
		sheets++
	}

	return &Document{
		Text:   b.String(),
		Method: "native",
		Metadata: map[string]string{
			"sheets": strconv.Itoa(sheets),
			"rows":   strconv.Itoa(rows),
		},
	}, nil
}

func isEmptyRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
