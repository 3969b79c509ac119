package output

import (
	"bufio"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLWriter writes records as a YAML sequence.
type YAMLWriter struct {
	w       *bufio.Writer
	recs    []Record
	written bool
}

// NewYAMLWriter creates a YAML writer.
func NewYAMLWriter(w io.Writer) *YAMLWriter {
	return &YAMLWriter{
		w:    bufio.NewWriter(w),
		recs: make([]Record, 0),
	}
}

// Write buffers a single record.
func (w *YAMLWriter) Write(rec Record) error {
	w.recs = append(w.recs, rec)
	return nil
}

// WriteAll buffers multiple records.
func (w *YAMLWriter) WriteAll(recs []Record) error {
	w.recs = append(w.recs, recs...)
	return nil
}

// Flush writes the buffered records as one YAML document.
func (w *YAMLWriter) Flush() error {
	if w.written && len(w.recs) == 0 {
		return w.w.Flush()
	}
	encoder := yaml.NewEncoder(w.w)
	encoder.SetIndent(2)

	if err := encoder.Encode(w.recs); err != nil {
		return err
	}
	if err := encoder.Close(); err != nil {
		return err
	}
	w.recs = w.recs[:0]
	w.written = true
	return w.w.Flush()
}

// Close flushes the writer.
func (w *YAMLWriter) Close() error {
	return w.Flush()
}
