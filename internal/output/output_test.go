package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/chatcrawler/pkg/tabular"
)

func sampleTable() tabular.Table {
	return tabular.Table{
		Headers: []string{"Title", "Price", "Location"},
		Rows: [][]string{
			{"Flat, top floor", "950", "Leeds"},
			{"Studio", "600", ""},
		},
	}
}

// --- Format Tests ---

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatCSV},
		{in: "CSV", want: FormatCSV},
		{in: "json", want: FormatJSON},
		{in: "ndjson", want: FormatJSONL},
		{in: "jsonl", want: FormatJSONL},
		{in: "yml", want: FormatYAML},
		{in: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// --- NewWriter Factory Tests ---

func TestNewWriter(t *testing.T) {
	tests := []struct {
		format Format
		want   string
	}{
		{FormatCSV, "*output.CSVWriter"},
		{FormatJSON, "*output.JSONWriter"},
		{FormatJSONL, "*output.JSONLWriter"},
		{FormatYAML, "*output.YAMLWriter"},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			w, err := NewWriter(&bytes.Buffer{}, tt.format)
			if err != nil {
				t.Fatalf("NewWriter() error = %v", err)
			}
			if got := typeName(w); got != tt.want {
				t.Errorf("NewWriter(%s) = %s, want %s", tt.format, got, tt.want)
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *CSVWriter:
		return "*output.CSVWriter"
	case *JSONWriter:
		return "*output.JSONWriter"
	case *JSONLWriter:
		return "*output.JSONLWriter"
	case *YAMLWriter:
		return "*output.YAMLWriter"
	}
	return "unknown"
}

func TestNewWriter_UnsupportedFormat(t *testing.T) {
	_, err := NewWriter(&bytes.Buffer{}, Format("unsupported"))
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("expected error containing 'unsupported', got %v", err)
	}
}

// --- Record Tests ---

func TestRecordsFrom(t *testing.T) {
	recs := RecordsFrom(sampleTable())
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	want := Record{{"Title", "Studio"}, {"Price", "600"}, {"Location", ""}}
	if diff := cmp.Diff(want, recs[1]); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	if v, ok := recs[0].Get("Price"); !ok || v != "950" {
		t.Errorf("Get(Price) = %q, %v", v, ok)
	}
}

func TestRecord_MarshalJSONKeepsOrder(t *testing.T) {
	rec := Record{{"Zeta", "1"}, {"Alpha", "2"}, {"Zeta", "3"}}
	out, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != `{"Zeta":"1","Alpha":"2"}` {
		t.Errorf("Marshal() = %s", out)
	}
}

func TestRecord_MarshalYAMLKeepsOrder(t *testing.T) {
	out, err := yaml.Marshal(Record{{"Zeta", "1"}, {"Alpha", "two"}})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != "Zeta: \"1\"\nAlpha: two\n" {
		t.Errorf("Marshal() = %q", out)
	}
}

// --- JSONWriter Tests ---

func TestJSONWriter_WriteAll(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, false, "")

	if err := w.WriteAll(RecordsFrom(sampleTable())); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	var result []map[string]string
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal output: %v", err)
	}
	want := []map[string]string{
		{"Title": "Flat, top floor", "Price": "950", "Location": "Leeds"},
		{"Title": "Studio", "Price": "600", "Location": ""},
	}
	if diff := cmp.Diff(want, result); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONWriter_SingleRecordStillArray(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, true, "  ")

	if err := w.Write(Record{{"Title", "Flat"}}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if !strings.HasPrefix(buf.String(), "[") {
		t.Errorf("expected array output, got %q", buf.String())
	}
}

func TestJSONWriter_Empty(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, false, "")
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if buf.String() != "[]\n" {
		t.Errorf("empty output = %q, want []", buf.String())
	}
}

func TestJSONWriter_FlushThenClose(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, false, "")
	_ = w.Write(Record{{"Title", "Flat"}})

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := strings.Count(buf.String(), "\n"); got != 1 {
		t.Errorf("expected one document, got %q", buf.String())
	}
}

func TestJSONWriter_PrettyIndent(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, true, "\t")
	_ = w.Write(Record{{"Title", "Flat"}})
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if !strings.Contains(buf.String(), "\t") {
		t.Errorf("expected tab indentation, got %q", buf.String())
	}
}

// --- JSONLWriter Tests ---

func TestJSONLWriter_WriteAll(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONLWriter(buf)

	if err := w.WriteAll(RecordsFrom(sampleTable())); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if lines[1] != `{"Title":"Studio","Price":"600","Location":""}` {
		t.Errorf("line 2 = %s", lines[1])
	}
}

// --- YAMLWriter Tests ---

func TestYAMLWriter_WriteAll(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewYAMLWriter(buf)

	if err := w.WriteAll(RecordsFrom(sampleTable())); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var result []map[string]string
	if err := yaml.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal output: %v", err)
	}
	if len(result) != 2 || result[0]["Title"] != "Flat, top floor" {
		t.Errorf("unexpected result: %+v", result)
	}
	if strings.Index(buf.String(), "Title") > strings.Index(buf.String(), "Price") {
		t.Error("YAML keys should follow header order")
	}
}

// --- CSVWriter Tests ---

func TestCSVWriter_WriteAll(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewCSVWriter(buf)

	if err := w.WriteAll(RecordsFrom(sampleTable())); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	want := "Title,Price,Location\n\"Flat, top floor\",950,Leeds\nStudio,600,\n"
	if buf.String() != want {
		t.Errorf("CSV output = %q, want %q", buf.String(), want)
	}
}

// --- WriteTable Tests ---

func TestWriteTable_CSVMatchesText(t *testing.T) {
	buf := &bytes.Buffer{}
	table := sampleTable()
	if err := WriteTable(buf, FormatCSV, table); err != nil {
		t.Fatalf("WriteTable() error = %v", err)
	}
	if buf.String() != table.Text() {
		t.Errorf("CSV export should equal Table.Text()")
	}
}

func TestWriteTable_JSONL(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := WriteTable(buf, FormatJSONL, sampleTable()); err != nil {
		t.Fatalf("WriteTable() error = %v", err)
	}
	if got := strings.Count(buf.String(), "\n"); got != 2 {
		t.Errorf("expected 2 lines, got %d", got)
	}
}

// --- Preview Tests ---

func TestPreview(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Preview(buf, sampleTable(), DefaultPreviewOptions()); err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"TITLE", "Studio", "2 rows"} {
		if !strings.Contains(out, want) {
			t.Errorf("preview missing %q:\n%s", want, out)
		}
	}
}

func TestPreview_MaxRows(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Preview(buf, sampleTable(), PreviewOptions{MaxRows: 1}); err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if strings.Contains(buf.String(), "Studio") {
		t.Error("second row should be hidden")
	}
	if !strings.Contains(buf.String(), "1 MORE ROWS") {
		t.Errorf("expected hidden row footer:\n%s", buf.String())
	}
}

func TestPreview_NoHeaders(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Preview(buf, tabular.Table{}, DefaultPreviewOptions()); err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if !strings.Contains(buf.String(), "no tabular output") {
		t.Errorf("unexpected preview: %q", buf.String())
	}
}

// --- Artifact Tests ---

func TestArtifactPaths(t *testing.T) {
	a := NewArtifacts("")
	if a.Dir != DefaultDir {
		t.Errorf("Dir = %q, want %q", a.Dir, DefaultDir)
	}
	if a.TablePath() != filepath.Join("output", "ai_output.csv") {
		t.Errorf("TablePath = %q", a.TablePath())
	}
	if a.InputPath() != filepath.Join("output", "llm_input.txt") {
		t.Errorf("InputPath = %q", a.InputPath())
	}
	if a.ExportPath(FormatCSV) != a.TablePath() {
		t.Errorf("CSV export should reuse the table path")
	}
	if a.ExportPath(FormatYAML) != filepath.Join("output", "ai_output.yaml") {
		t.Errorf("ExportPath(yaml) = %q", a.ExportPath(FormatYAML))
	}
	want := filepath.Join("output", "html", "example.com_8080-00000000000000ff.html")
	if got := a.SnapshotPath("Example.com:8080", 0xff); got != want {
		t.Errorf("SnapshotPath = %q, want %q", got, want)
	}
}

func TestWriteFile_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ai_output.csv")

	if err := WriteFile(path, []byte("first run, longer content")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := WriteFile(path, []byte("second")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "second" {
		t.Errorf("content = %q, want overwrite", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected no leftover temp files, got %d entries", len(entries))
	}
}
