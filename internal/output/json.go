package output

import (
	"bufio"
	"encoding/json"
	"io"
)

// JSONWriter writes records as a JSON array.
type JSONWriter struct {
	w       *bufio.Writer
	pretty  bool
	indent  string
	recs    []Record
	written bool
}

// NewJSONWriter creates a JSON writer.
func NewJSONWriter(w io.Writer, pretty bool, indent string) *JSONWriter {
	return &JSONWriter{
		w:      bufio.NewWriter(w),
		pretty: pretty,
		indent: indent,
		recs:   make([]Record, 0),
	}
}

// Write buffers a single record.
func (w *JSONWriter) Write(rec Record) error {
	w.recs = append(w.recs, rec)
	return nil
}

// WriteAll buffers multiple records.
func (w *JSONWriter) WriteAll(recs []Record) error {
	w.recs = append(w.recs, recs...)
	return nil
}

// Flush writes the buffered records as one JSON array. An empty table is
// written as [] so consumers always receive an array.
func (w *JSONWriter) Flush() error {
	if w.written && len(w.recs) == 0 {
		return w.w.Flush()
	}
	var out []byte
	var err error
	if w.pretty {
		out, err = json.MarshalIndent(w.recs, "", w.indent)
	} else {
		out, err = json.Marshal(w.recs)
	}
	if err != nil {
		return err
	}
	w.recs = w.recs[:0]
	w.written = true

	if _, err := w.w.Write(out); err != nil {
		return err
	}
	if _, err := w.w.WriteString("\n"); err != nil {
		return err
	}
	return w.w.Flush()
}

// Close flushes the writer.
func (w *JSONWriter) Close() error {
	return w.Flush()
}

// JSONLWriter writes one JSON object per line.
type JSONLWriter struct {
	w *bufio.Writer
}

// NewJSONLWriter creates a JSONL writer.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{
		w: bufio.NewWriter(w),
	}
}

// Write writes a single record as a JSON line.
func (w *JSONLWriter) Write(rec Record) error {
	out, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(out); err != nil {
		return err
	}
	if _, err := w.w.WriteString("\n"); err != nil {
		return err
	}
	return w.w.Flush()
}

// WriteAll writes multiple records as JSON lines.
func (w *JSONLWriter) WriteAll(recs []Record) error {
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes the buffer.
func (w *JSONLWriter) Flush() error {
	return w.w.Flush()
}

// Close flushes the writer.
func (w *JSONLWriter) Close() error {
	return w.Flush()
}
