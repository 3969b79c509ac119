package output

import (
	"encoding/csv"
	"io"

	"github.com/jmylchreest/chatcrawler/pkg/tabular"
)

// CSVWriter writes records as CSV. The header row comes from the field
// names of the first record.
type CSVWriter struct {
	w      *csv.Writer
	header bool
}

// NewCSVWriter creates a CSV writer.
func NewCSVWriter(w io.Writer) *CSVWriter {
	cw := csv.NewWriter(w)
	cw.Comma = tabular.Delimiter
	return &CSVWriter{w: cw}
}

// Write writes a single record, preceded by the header on first use.
func (w *CSVWriter) Write(rec Record) error {
	if !w.header {
		names := make([]string, len(rec))
		for i, f := range rec {
			names[i] = f.Name
		}
		if err := w.w.Write(names); err != nil {
			return err
		}
		w.header = true
	}

	values := make([]string, len(rec))
	for i, f := range rec {
		values[i] = f.Value
	}
	return w.w.Write(values)
}

// WriteAll writes multiple records.
func (w *CSVWriter) WriteAll(recs []Record) error {
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes buffered rows.
func (w *CSVWriter) Flush() error {
	w.w.Flush()
	return w.w.Error()
}

// Close flushes the writer.
func (w *CSVWriter) Close() error {
	return w.Flush()
}
