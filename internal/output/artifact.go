package output

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultDir is where run artifacts are written.
const DefaultDir = "output"

const (
	inputFile    = "llm_input.txt"
	tableFile    = "ai_output.csv"
	rawReplyFile = "ai_output.raw.txt"
	exportBase   = "ai_output"
	snapshotDir  = "html"
)

// Artifacts names the files a run writes. Every file is overwritten on each
// run.
type Artifacts struct {
	Dir string
}

// NewArtifacts returns an Artifacts rooted at dir, or DefaultDir when empty.
func NewArtifacts(dir string) Artifacts {
	if dir == "" {
		dir = DefaultDir
	}
	return Artifacts{Dir: dir}
}

// InputPath is the joined item text sent to the model.
func (a Artifacts) InputPath() string { return filepath.Join(a.Dir, inputFile) }

// TablePath is the normalized CSV table.
func (a Artifacts) TablePath() string { return filepath.Join(a.Dir, tableFile) }

// RawReplyPath is the unmodified model reply.
func (a Artifacts) RawReplyPath() string { return filepath.Join(a.Dir, rawReplyFile) }

// ExportPath is the table exported in format.
func (a Artifacts) ExportPath(format Format) string {
	if format == FormatCSV {
		return a.TablePath()
	}
	return filepath.Join(a.Dir, exportBase+"."+format.Extension())
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SnapshotPath is the diagnostic HTML copy for a fetched page.
func (a Artifacts) SnapshotPath(host string, fingerprint uint64) string {
	name := unsafeName.ReplaceAllString(strings.ToLower(host), "_")
	if name == "" {
		name = "page"
	}
	return filepath.Join(a.Dir, snapshotDir, fmt.Sprintf("%s-%016x.html", name, fingerprint))
}

// WriteFile replaces path with data, creating parent directories. The data is
// written to a sibling temp file first so readers never see a partial file.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
