// Package tabular turns free-form model replies into rectangular tables.
//
// Model output is untrusted: it may be wrapped in a markdown code fence,
// prefixed with prose, or contain ragged rows. Normalize never fails; the
// worst case is a Table with no headers and no rows.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Delimiter separates fields in a row.
const Delimiter = ','

// DefaultColumns is the column set the model is asked to produce.
var DefaultColumns = []string{"Title", "Price", "Location", "Details", "URL"}

// ErrMalformedReply marks a reply (or part of one) that could not be read as tabular data.
var ErrMalformedReply = errors.New("malformed reply")

// Table is a rectangular result: every row has len(Headers) fields.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Empty reports whether the table has no header.
func (t Table) Empty() bool {
	return len(t.Headers) == 0
}

// Text renders the table as delimited text, header first.
func (t Table) Text() string {
	if t.Empty() {
		return ""
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = Delimiter
	_ = w.Write(t.Headers)
	for _, row := range t.Rows {
		// A lone empty field would otherwise be a blank line, which readers skip.
		if len(row) == 1 && row[0] == "" {
			w.Flush()
			buf.WriteString("\"\"\n")
			continue
		}
		_ = w.Write(row)
	}
	w.Flush()
	return buf.String()
}

// Records returns each row keyed by header. Later duplicate headers win.
func (t Table) Records() []map[string]string {
	records := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]string, len(t.Headers))
		for i, h := range t.Headers {
			rec[h] = row[i]
		}
		records = append(records, rec)
	}
	return records
}

// Options controls normalization.
type Options struct {
	// HeaderKeyword keeps a line even when it has no delimiter (single-column headers).
	HeaderKeyword string
}

// DefaultOptions uses the first default column as header keyword.
func DefaultOptions() Options {
	return Options{HeaderKeyword: DefaultColumns[0]}
}

// Report describes what normalization discarded or reshaped.
type Report struct {
	DiscardedLines int     // preamble lines, and anything after a closing fence
	MalformedLines int     // lines that failed to tokenize
	PaddedRows     int     // rows right-padded with empty fields
	TruncatedRows  int     // rows cut to the header length
	SparseRows     int     // rows with a single value in a multi-column table
	FenceStripped  bool    // a code fence wrapped the reply
	Warnings       []error // each wraps ErrMalformedReply or ErrSparseRow
}

// ErrSparseRow marks a row holding one value in a multi-column table, often a
// stray note rather than data. The row is kept.
var ErrSparseRow = errors.New("sparse row")

// fenceLine matches a line holding only a code fence marker.
var fenceLine = regexp.MustCompile("(?i)^[ \t]*```[a-z0-9_+-]*[ \t]*$")

// Normalize parses a reply with DefaultOptions.
func Normalize(reply string) Table {
	t, _ := NormalizeWithOptions(reply, DefaultOptions())
	return t
}

// NormalizeWithOptions parses a reply and reports every degradation it applied.
func NormalizeWithOptions(reply string, opts Options) (Table, Report) {
	var report Report

	lines := strings.Split(reply, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}

	var parsed [][]string
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			continue
		}
		// A fence before the header opens the table; one after it closes the
		// table and the rest is trailer.
		if fenceLine.MatchString(line) {
			report.FenceStripped = true
			if len(parsed) == 0 {
				continue
			}
			report.DiscardedLines += countContent(lines[i+1:])
			break
		}
		// Before the header, anything without a delimiter or the keyword is preamble.
		// Once the header is seen, delimiter-free lines are single-field rows.
		if len(parsed) == 0 && !strings.ContainsRune(line, Delimiter) && (opts.HeaderKeyword == "" || !strings.Contains(line, opts.HeaderKeyword)) {
			report.DiscardedLines++
			continue
		}
		fields, last, err := readRecord(lines, i)
		if err != nil {
			report.MalformedLines++
			report.Warnings = append(report.Warnings, fmt.Errorf("%w: line %d: %v", ErrMalformedReply, i+1, err))
			i = last
			continue
		}
		parsed = append(parsed, fields)
		i = last
	}

	if len(parsed) == 0 {
		report.Warnings = append(report.Warnings, fmt.Errorf("%w: no tabular lines found", ErrMalformedReply))
		return Table{}, report
	}

	table := Table{Headers: parsed[0]}
	width := len(table.Headers)
	for n, fields := range parsed[1:] {
		if width > 1 {
			if value, ok := soleValue(fields); ok {
				report.SparseRows++
				report.Warnings = append(report.Warnings, fmt.Errorf("%w: row %d has only %q", ErrSparseRow, n+1, value))
			}
		}
		switch {
		case len(fields) < width:
			report.PaddedRows++
			padded := make([]string, width)
			copy(padded, fields)
			fields = padded
		case len(fields) > width:
			report.TruncatedRows++
			fields = fields[:width]
		}
		table.Rows = append(table.Rows, fields)
	}

	return table, report
}

// readRecord tokenizes the record starting at lines[start]. A quoted field may
// span lines, so the record ends at the first line that balances its quotes.
// It returns the index of the record's last line. A quote left open up to the
// end of the table is an error for the first line only.
func readRecord(lines []string, start int) ([]string, int, error) {
	quotes := 0
	for end := start; end < len(lines); end++ {
		if end > start && fenceLine.MatchString(lines[end]) {
			break
		}
		quotes += strings.Count(lines[end], `"`)
		if quotes%2 != 0 {
			continue
		}
		fields, err := tokenize(strings.Join(lines[start:end+1], "\n"))
		if err != nil {
			return nil, end, err
		}
		return fields, end, nil
	}
	return nil, start, csv.ErrQuote
}

// soleValue reports the only non-empty field of a row, if exactly one exists.
func soleValue(fields []string) (string, bool) {
	value, count := "", 0
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			value = f
			count++
		}
	}
	return value, count == 1
}

// countContent counts the non-blank lines.
func countContent(lines []string) int {
	n := 0
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

// tokenize splits one record into fields, honoring quotes.
func tokenize(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = Delimiter
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil {
		return nil, err
	}
	return fields, nil
}
