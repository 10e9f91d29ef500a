package source

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// Supported file formats.
const (
	FormatCSV   = "csv"
	FormatTSV   = "tsv"
	FormatJSONL = "jsonl"
)

// InputOptions configures input reader behavior.
type InputOptions struct {
	HasHeader  bool     // Whether first row is header (CSV/TSV)
	Delimiter  rune     // Field delimiter (default: ',' for CSV, '\t' for TSV)
	NullValues []string // Values to treat as NULL
	// Columns are the target columns in insert order. CSV files with a
	// header and JSONL objects are projected onto them by name.
	Columns []string
}

// DefaultInputOptions returns default options for the given format.
func DefaultInputOptions(format string) InputOptions {
	opts := InputOptions{
		HasHeader:  true,
		NullValues: []string{"", "NULL", "null", "\\N"},
	}
	switch strings.ToLower(format) {
	case FormatTSV:
		opts.Delimiter = '\t'
	default:
		opts.Delimiter = ','
	}
	return opts
}

// NewInputReader creates a RowReader based on the input format.
func NewInputReader(r io.Reader, format string, opts InputOptions) (RowReader, error) {
	switch strings.ToLower(format) {
	case FormatCSV, FormatTSV:
		return NewCSVReader(r, opts), nil
	case FormatJSONL, "ndjson":
		return NewJSONLReader(r, opts), nil
	default:
		return nil, fmt.Errorf("unsupported input format: %s", format)
	}
}

// DetectFormat attempts to detect the format from a file path.
func DetectFormat(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".tsv":
		return FormatTSV
	case ".jsonl", ".ndjson":
		return FormatJSONL
	default:
		return FormatCSV
	}
}

// CSVReader reads CSV/TSV formatted input.
type CSVReader struct {
	r          *csv.Reader
	columns    []string
	hasHeader  bool
	nullValues map[string]bool
	headerRead bool
	// index maps target column position to record position. Nil means
	// records are taken as is.
	index []int
}

// NewCSVReader creates a new CSV/TSV reader.
func NewCSVReader(r io.Reader, opts InputOptions) *CSVReader {
	csvReader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		csvReader.Comma = opts.Delimiter
	}
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true
	// Width is checked against the target schema by the loader.
	csvReader.FieldsPerRecord = -1

	return &CSVReader{
		r:          csvReader,
		hasHeader:  opts.HasHeader,
		nullValues: lo.SliceToMap(opts.NullValues, func(v string) (string, bool) { return v, true }),
		columns:    opts.Columns,
	}
}

// ReadHeader consumes the header row and resolves the column projection.
func (r *CSVReader) ReadHeader() ([]string, error) {
	if r.headerRead {
		return r.columns, nil
	}
	r.headerRead = true

	if !r.hasHeader {
		return r.columns, nil
	}

	header, err := r.r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(r.columns) == 0 {
		r.columns = header
		return r.columns, nil
	}

	positions := make(map[string]int, len(header))
	for i, h := range header {
		positions[strings.ToLower(strings.TrimSpace(h))] = i
	}
	r.index = make([]int, len(r.columns))
	for i, c := range r.columns {
		pos, ok := positions[strings.ToLower(c)]
		if !ok {
			return nil, fmt.Errorf("column %q not found in CSV header", c)
		}
		r.index[i] = pos
	}
	return r.columns, nil
}

// ReadRow reads the next data row.
func (r *CSVReader) ReadRow() ([]any, error) {
	if !r.headerRead {
		if _, err := r.ReadHeader(); err != nil {
			return nil, err
		}
	}

	record, err := r.r.Read()
	if err != nil {
		return nil, err // includes io.EOF
	}

	if r.index != nil {
		projected := make([]string, len(r.index))
		for i, pos := range r.index {
			if pos >= len(record) {
				return nil, fmt.Errorf("CSV record has %d fields, column %q is at position %d", len(record), r.columns[i], pos+1)
			}
			projected[i] = record[pos]
		}
		record = projected
	}

	row := make([]any, len(record))
	for i, val := range record {
		if r.nullValues[val] {
			row[i] = nil
		} else {
			row[i] = val
		}
	}
	return row, nil
}

// Close is a no-op for CSVReader (underlying reader should be closed by caller).
func (r *CSVReader) Close() error {
	return nil
}

// JSONLReader reads JSON Lines formatted input.
type JSONLReader struct {
	scanner    *bufio.Scanner
	columns    []string
	nullValues map[string]bool
	// pending holds the first object when columns were detected from it.
	pending map[string]any
}

// NewJSONLReader creates a new JSON Lines reader.
func NewJSONLReader(r io.Reader, opts InputOptions) *JSONLReader {
	scanner := bufio.NewScanner(r)
	// Increase buffer size for large JSON lines
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &JSONLReader{
		scanner:    scanner,
		columns:    opts.Columns,
		nullValues: lo.SliceToMap(opts.NullValues, func(v string) (string, bool) { return v, true }),
	}
}

// ReadHeader returns the expected columns. Without configured columns the
// keys of the first object are used in sorted order; that object is still
// returned by the next ReadRow.
func (r *JSONLReader) ReadHeader() ([]string, error) {
	if len(r.columns) > 0 {
		return r.columns, nil
	}
	obj, err := r.next()
	if err != nil {
		return nil, err
	}
	r.columns = lo.Keys(obj)
	slices.Sort(r.columns)
	r.pending = obj
	return r.columns, nil
}

// ReadRow reads the next JSON object and orders its values by column.
func (r *JSONLReader) ReadRow() ([]any, error) {
	if len(r.columns) == 0 {
		if _, err := r.ReadHeader(); err != nil {
			return nil, err
		}
	}

	obj := r.pending
	r.pending = nil
	if obj == nil {
		var err error
		if obj, err = r.next(); err != nil {
			return nil, err
		}
	}

	row := make([]any, len(r.columns))
	for i, col := range r.columns {
		val, exists := obj[col]
		if !exists {
			continue
		}
		if strVal, ok := val.(string); ok && r.nullValues[strVal] {
			continue
		}
		row[i] = val
	}
	return row, nil
}

// next returns the next non-empty line decoded as an object.
func (r *JSONLReader) next() (map[string]any, error) {
	for {
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return nil, fmt.Errorf("failed to read JSONL: %w", err)
			}
			return nil, io.EOF
		}
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			return nil, fmt.Errorf("failed to parse JSONL row: %w", err)
		}
		return obj, nil
	}
}

// Close is a no-op for JSONLReader.
func (r *JSONLReader) Close() error {
	return nil
}
