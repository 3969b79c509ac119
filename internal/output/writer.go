// Package output writes run artifacts and renders normalized tables.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/jmylchreest/chatcrawler/pkg/tabular"
)

// Format represents output format types.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// Formats lists the supported export formats.
func Formats() []Format {
	return []Format{FormatCSV, FormatJSON, FormatJSONL, FormatYAML}
}

// ParseFormat resolves a format name. "yml" is accepted for YAML.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unsupported output format: %s", name)
}

// Extension returns the file extension for the format, without a dot.
func (f Format) Extension() string {
	return string(f)
}

// Writer serializes table records.
type Writer interface {
	// Write outputs a single record.
	Write(rec Record) error

	// WriteAll outputs multiple records.
	WriteAll(recs []Record) error

	// Flush ensures all data is written.
	Flush() error

	// Close releases resources.
	Close() error
}

// WriterOption configures a writer.
type WriterOption func(*writerConfig)

type writerConfig struct {
	pretty bool
	indent string
}

// WithPretty enables pretty-printing.
func WithPretty(enabled bool) WriterOption {
	return func(c *writerConfig) {
		c.pretty = enabled
	}
}

// WithIndent sets the indentation string.
func WithIndent(indent string) WriterOption {
	return func(c *writerConfig) {
		c.indent = indent
	}
}

// NewWriter creates a record writer for the specified format.
func NewWriter(w io.Writer, format Format, opts ...WriterOption) (Writer, error) {
	cfg := &writerConfig{
		pretty: true,
		indent: "  ",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	switch format {
	case FormatCSV:
		return NewCSVWriter(w), nil
	case FormatJSON:
		return NewJSONWriter(w, cfg.pretty, cfg.indent), nil
	case FormatJSONL:
		return NewJSONLWriter(w), nil
	case FormatYAML:
		return NewYAMLWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteTable writes t in the given format. CSV output is the table text
// itself, so a header-only table still produces its header line.
func WriteTable(w io.Writer, format Format, t tabular.Table, opts ...WriterOption) error {
	if format == FormatCSV {
		_, err := io.WriteString(w, t.Text())
		return err
	}

	wr, err := NewWriter(w, format, opts...)
	if err != nil {
		return err
	}
	if err := wr.WriteAll(RecordsFrom(t)); err != nil {
		return err
	}
	return wr.Close()
}
