package xlsx

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract renders every sheet as a block headed by the sheet name, one row per
// line with tab-separated cells.
func (e *Extractor) Extract(_ context.Context, filename string, raw []byte) (string, error) {
	book, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("xlsx %s: open: %w", filename, err)
	}
	defer book.Close()

	blocks := make([]string, 0)
	for _, sheet := range book.GetSheetList() {
		rows, err := book.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("xlsx %s: read sheet %q: %w", filename, sheet, err)
		}
		lines := make([]string, 0, len(rows)+1)
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
			if line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			continue
		}
		blocks = append(blocks, "# "+sheet+"\n"+strings.Join(lines, "\n"))
	}
	return strings.Join(blocks, "\n\n"), nil
}
