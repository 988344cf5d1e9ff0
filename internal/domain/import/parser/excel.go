package parser

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// parseExcel renders the first sheet of a spreadsheet to the same row/column
// shape as CSV input, so everything downstream sees one representation.
func (p *Parser) parseExcel(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{
			Message: fmt.Sprintf("failed to open spreadsheet: %v", err),
			Err:     ErrUndecodable,
		}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &ParseError{Message: "spreadsheet has no sheets", Err: ErrNoColumns}
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &ParseError{
			Message: fmt.Sprintf("failed to read sheet %s: %v", sheets[0], err),
			Err:     ErrUndecodable,
		}
	}
	if len(rows) == 0 {
		return nil, &ParseError{Message: "sheet is empty", Err: ErrEmptyFile}
	}

	table := &Table{Headers: trimAll(rows[0])}
	if err := validateHeaders(table.Headers); err != nil {
		return nil, err
	}

	// excelize trims trailing empty cells per row; pad so every row has a
	// cell for every header and row indices stay aligned with the file.
	width := len(table.Headers)
	for _, row := range rows[1:] {
		if len(row) < width {
			padded := make([]string, width)
			copy(padded, row)
			row = padded
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}
