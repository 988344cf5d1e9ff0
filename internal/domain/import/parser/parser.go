// Package parser turns uploaded statement bytes (CSV or spreadsheet) into a
// header row plus an ordered list of string rows. It does no semantic
// interpretation; column meaning is resolved later by the mapping layer.
package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

var (
	ErrEmptyFile   = errors.New("file is empty")
	ErrNoColumns   = errors.New("no usable columns detected")
	ErrFileTooBig  = errors.New("file exceeds maximum accepted size")
	ErrUndecodable = errors.New("file could not be decoded as tabular data")
)

// ParseError wraps a parse failure with positional context.
type ParseError struct {
	Line    int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error { return e.Err }

// Table is the single representation both CSVs and spreadsheets converge to.
// Rows are order-preserving and 1:1 with the file's data rows; the header row
// is excluded. A row's position in Rows is its stable rowIndex.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Sample returns up to n leading data rows for mapping preview.
func (t *Table) Sample(n int) [][]string {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return t.Rows[:n]
}

// Format identifies the tabular input encoding.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatExcel Format = "xlsx"
)

// DetectFormat sniffs the input format from the file name and leading bytes.
// XLSX files are ZIP containers, so the PK magic wins over the extension.
func DetectFormat(filename string, data []byte) Format {
	if len(data) >= 4 && data[0] == 'P' && data[1] == 'K' {
		return FormatExcel
	}
	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".xls") {
		return FormatExcel
	}
	return FormatCSV
}

// Parser converts raw uploads into Tables.
type Parser struct {
	maxBytes int64
}

// New creates a parser. maxBytes caps the accepted upload size; zero means
// no limit.
func New(maxBytes int64) *Parser {
	return &Parser{maxBytes: maxBytes}
}

// Parse decodes the upload into a Table.
func (p *Parser) Parse(data []byte, format Format) (*Table, error) {
	if len(data) == 0 {
		return nil, &ParseError{Message: "file is empty", Err: ErrEmptyFile}
	}
	if p.maxBytes > 0 && int64(len(data)) > p.maxBytes {
		return nil, &ParseError{
			Message: fmt.Sprintf("file is %d bytes, limit is %d", len(data), p.maxBytes),
			Err:     ErrFileTooBig,
		}
	}

	switch format {
	case FormatExcel:
		return p.parseExcel(data)
	default:
		return p.parseCSV(data)
	}
}

func (p *Parser) parseCSV(data []byte) (*Table, error) {
	data = normalizeEncoding(data)

	delimiter := detectDelimiter(data)
	if delimiter == 0 {
		// Single-column files have no delimiter at all; fall back to comma
		// so encoding/csv still yields one field per line.
		delimiter = ','
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var table Table
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, &ParseError{Line: line, Message: err.Error(), Err: ErrUndecodable}
		}
		if table.Headers == nil {
			table.Headers = trimAll(record)
			continue
		}
		table.Rows = append(table.Rows, record)
	}

	if err := validateHeaders(table.Headers); err != nil {
		return nil, err
	}
	return &table, nil
}

func validateHeaders(headers []string) error {
	usable := 0
	for _, h := range headers {
		if h != "" {
			usable++
		}
	}
	if usable == 0 {
		return &ParseError{Message: "no usable columns", Err: ErrNoColumns}
	}
	return nil
}

// detectDelimiter picks the candidate that occurs most often on the first
// non-empty line.
func detectDelimiter(data []byte) rune {
	var firstLine string
	for _, line := range strings.SplitN(string(data), "\n", 20) {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			firstLine = line
			break
		}
	}

	best := rune(0)
	bestCount := 0
	for _, d := range []rune{';', '\t', ',', '|'} {
		if count := strings.Count(firstLine, string(d)); count > bestCount {
			bestCount = count
			best = d
		}
	}
	return best
}

// normalizeEncoding strips a UTF-8 BOM and re-encodes Latin-1 input so the
// CSV reader always sees valid UTF-8.
func normalizeEncoding(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		data = data[3:]
	}
	if utf8.Valid(data) {
		return data
	}
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return []byte(string(runes))
}

func trimAll(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.TrimSpace(v)
	}
	return out
}
