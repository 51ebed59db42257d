package document

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Cell is one non-header cell of a table row
type Cell struct {
	Header string
	Value  string
}

// Row is one data row of a spreadsheet or CSV file with its cells in column order
type Row struct {
	Number int // line in the source sheet; the header is line 1
	Cells  []Cell
}

// Text renders the row as "header: value" lines, omitting empty cells
func (r Row) Text() string {
	var b strings.Builder
	for _, c := range r.Cells {
		if c.Value == "" {
			continue
		}
		b.WriteString(c.Header)
		b.WriteString(": ")
		b.WriteString(c.Value)
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// ReadRows parses a Spreadsheet or DelimitedText blob into data rows. The
// first row supplies the headers; rows without any value are dropped.
func ReadRows(b Blob) ([]Row, error) {
	var (
		records [][]string
		err     error
	)
	switch b.Kind() {
	case Spreadsheet:
		records, err = readSpreadsheet(b.Data)
	case DelimitedText:
		records, err = readCSV(b.Data)
	default:
		return nil, fmt.Errorf("%w: %s is not a table", ErrUnsupported, b.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableTable, b.Name, err)
	}
	return toRows(records), nil
}

func readSpreadsheet(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close() //nolint:errcheck

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	// Only the first sheet is considered, like the first page of a PDF.
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

func toRows(records [][]string) []Row {
	if len(records) == 0 {
		return nil
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = strings.TrimSpace(h)
		if headers[i] == "" {
			headers[i] = fmt.Sprintf("Column %d", i+1)
		}
	}

	rows := make([]Row, 0, len(records)-1)
	for i, record := range records[1:] {
		row := Row{Number: i + 2}
		hasValue := false
		for i, value := range record {
			header := fmt.Sprintf("Column %d", i+1)
			if i < len(headers) {
				header = headers[i]
			}
			value = strings.TrimSpace(value)
			if value != "" {
				hasValue = true
			}
			row.Cells = append(row.Cells, Cell{Header: header, Value: value})
		}
		if hasValue {
			rows = append(rows, row)
		}
	}
	return rows
}
