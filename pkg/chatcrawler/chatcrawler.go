// Package chatcrawler runs the fetch, extract, transform and normalize
// pipeline for a single target page.
package chatcrawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/jmylchreest/chatcrawler/internal/logger"
	"github.com/jmylchreest/chatcrawler/internal/output"
	"github.com/jmylchreest/chatcrawler/pkg/fetcher"
	"github.com/jmylchreest/chatcrawler/pkg/listing"
	"github.com/jmylchreest/chatcrawler/pkg/session"
	"github.com/jmylchreest/chatcrawler/pkg/tabular"
	"github.com/jmylchreest/chatcrawler/pkg/transform"
)

// samplePreviewChars is how much of the first listing the log trail shows.
const samplePreviewChars = 300

// BackendFactory constructs a fetch backend.
type BackendFactory func(kind fetcher.Kind, cfg fetcher.Config) (fetcher.Backend, error)

// Result is everything a run produced.
type Result struct {
	RunID        string
	LogLines     []string
	RawReply     string
	Table        tabular.Table
	ArtifactPath string // normalized CSV, or the raw reply when no table was found
	ExportPath   string // set when Format is not csv

	Structure []string
	Items     []string // all extracted items, before trimming
	Prompt    transform.Prompt
	Report    tabular.Report
	Login     fetcher.LoginReport

	Fingerprint   uint64
	FetchAttempts int
	Duration      time.Duration
}

// CSVLines counts the header plus data rows of the table.
func (r *Result) CSVLines() int {
	if r.Table.Empty() {
		return 0
	}
	return 1 + len(r.Table.Rows)
}

// Runner executes runs. A Runner holds no per-run state and may be reused.
type Runner struct {
	gen         transform.Generator
	sessions    session.Store
	newBackend  BackendFactory
	retryDelays func(n int) []time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithSessions sets the session store shared by backends.
func WithSessions(s session.Store) Option {
	return func(r *Runner) {
		r.sessions = s
	}
}

// WithBackendFactory replaces backend construction.
func WithBackendFactory(f BackendFactory) Option {
	return func(r *Runner) {
		r.newBackend = f
	}
}

// WithRetryDelays replaces the fetch backoff schedule.
func WithRetryDelays(f func(n int) []time.Duration) Option {
	return func(r *Runner) {
		r.retryDelays = f
	}
}

// NewRunner creates a Runner that sends prompts to gen.
func NewRunner(gen transform.Generator, opts ...Option) *Runner {
	r := &Runner{
		gen:         gen,
		newBackend:  fetcher.New,
		retryDelays: fetcher.RetryDelays,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one run with a default Runner.
func Run(ctx context.Context, cfg RunConfig, gen transform.Generator) (*Result, error) {
	return NewRunner(gen).Run(ctx, cfg)
}

// trail collects operator-facing log lines and mirrors them to the logger.
type trail struct {
	lines []string
	log   *slog.Logger
}

func (t *trail) add(level slog.Level, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	t.lines = append(t.lines, line)
	t.log.Log(context.Background(), level, line)
}

func (t *trail) infof(format string, args ...any)  { t.add(slog.LevelInfo, format, args...) }
func (t *trail) warnf(format string, args ...any)  { t.add(slog.LevelWarn, format, args...) }
func (t *trail) errorf(format string, args ...any) { t.add(slog.LevelError, format, args...) }

// Run fetches cfg.TargetURL, extracts listings, asks the model for a table
// and normalizes the reply. A non-nil error aborts the run; the returned
// Result still carries the log trail up to that point.
//
// Aborting errors are invalid configuration, a rejected direct login
// (fetcher.ErrAuth), a fetch that fails every attempt, cancellation and
// transform.ErrGeneration. Everything else is logged and the run continues.
func (r *Runner) Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.NewString()}
	tr := &trail{log: logger.With("run_id", res.RunID)}
	defer func() {
		res.LogLines = tr.lines
		res.Duration = time.Since(start)
	}()

	if err := cfg.Validate(); err != nil {
		tr.errorf("%v", err)
		return res, err
	}

	doc, err := r.acquire(ctx, cfg, res, tr)
	if err != nil {
		return res, err
	}

	artifacts := output.NewArtifacts(cfg.OutputDir)
	if cfg.Snapshot {
		path := artifacts.SnapshotPath(hostOf(doc.SourceURL), doc.Fingerprint)
		if err := output.WriteFile(path, []byte(doc.HTML)); err != nil {
			tr.warnf("Snapshot not saved: %v", err)
		} else {
			tr.infof("HTML snapshot saved to %s", path)
		}
	}

	res.Structure = listing.Summarize(doc.HTML)
	for _, line := range res.Structure {
		tr.log.Debug("structure", "pattern", line)
	}

	extracted, err := listing.Extract(doc.HTML, cfg.ListingSelectors)
	if err != nil {
		// An unreadable document is treated like an empty one.
		tr.warnf("Extraction failed: %v", err)
	}
	for _, w := range extracted.Warnings {
		tr.warnf("%v", w)
	}
	if extracted.FellBack {
		tr.warnf("No listing selector matched; fell back to %q", listing.FallbackSelector)
	}
	res.Items = extracted.Items

	tr.infof("Scraping done. Found %d listings before trimming.", len(res.Items))
	if len(res.Items) > 0 {
		tr.infof("Sample card preview: %s...", truncate(res.Items[0], samplePreviewChars))
	}

	if err := ctx.Err(); err != nil {
		tr.errorf("Run canceled: %v", err)
		return res, err
	}

	pipeline := transform.New(r.gen, transform.Config{
		MaxPromptChars: cfg.MaxPromptChars,
		Columns:        cfg.columns(),
	})
	res.Prompt = pipeline.Build(res.Items, cfg.Template, cfg.MaxItems)
	tr.infof("Trimmed to %d listings for LLM.", res.Prompt.Items)
	if res.Prompt.Truncated {
		tr.warnf("Listing text truncated to %d characters", cfg.MaxPromptChars)
	}
	tr.infof("Prompt size: %s", humanize.Bytes(uint64(len(res.Prompt.Text))))

	if err := output.WriteFile(artifacts.InputPath(), []byte(res.Prompt.Data)); err != nil {
		tr.warnf("Model input not saved: %v", err)
	}

	tr.infof("Analyzing listings with LLM...")
	reply, err := pipeline.Generate(ctx, res.Prompt)
	if err != nil {
		tr.errorf("%v", err)
		return res, err
	}
	res.RawReply = reply

	table, report := tabular.NormalizeWithOptions(reply, tabular.Options{HeaderKeyword: cfg.columns()[0]})
	res.Table = table
	res.Report = report
	for _, w := range report.Warnings {
		tr.warnf("%v", w)
	}
	if report.DiscardedLines > 0 || report.PaddedRows > 0 || report.TruncatedRows > 0 {
		tr.infof("Reply normalized: %d lines discarded, %d rows padded, %d rows truncated",
			report.DiscardedLines, report.PaddedRows, report.TruncatedRows)
	}

	r.persist(cfg, artifacts, res, tr)

	if n := res.CSVLines(); n > 0 {
		tr.infof("%d CSV lines generated (including header).", n)
	} else {
		tr.warnf("No output generated.")
	}
	return res, nil
}

// acquire logs in and fetches the target. The backend is always closed.
func (r *Runner) acquire(ctx context.Context, cfg RunConfig, res *Result, tr *trail) (fetcher.Document, error) {
	tr.infof("Scraping with %s...", cfg.Backend)

	fcfg := cfg.fetcherConfig()
	fcfg.Sessions = r.sessions
	backend, err := r.newBackend(cfg.Backend, fcfg)
	if err != nil {
		tr.errorf("Backend unavailable: %v", err)
		return fetcher.Document{}, err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			tr.warnf("Backend close failed: %v", err)
		}
	}()

	login, err := backend.Login(ctx)
	res.Login = login
	for _, w := range login.Warnings {
		tr.warnf("Login: %v", w)
	}
	if err != nil {
		tr.errorf("Login failed: %v", err)
		return fetcher.Document{}, err
	}
	tr.infof("Login %s", login.Status)

	doc, attempts, err := fetcher.FetchWithRetry(ctx, backend, cfg.TargetURL, r.retryDelays(cfg.Retries))
	res.FetchAttempts = attempts
	if err != nil {
		tr.errorf("Fetch failed after %d attempt(s): %v", attempts, err)
		return fetcher.Document{}, fmt.Errorf("fetching %s: %w", cfg.TargetURL, err)
	}
	for _, w := range doc.Warnings {
		if errors.Is(w, fetcher.ErrFetchTimeout) {
			tr.warnf("Dynamic content marker %q not seen; using the page as loaded", cfg.WaitSelector)
			continue
		}
		tr.warnf("%v", w)
	}
	if backend.Kind() == fetcher.Direct {
		if rendered, signal := fetcher.ScriptRendered(doc.HTML); rendered {
			tr.warnf("Page looks script-rendered (%s); the %s or %s backend may see more listings",
				signal, fetcher.Automated, fetcher.AutomatedPersistent)
		}
	}
	res.Fingerprint = doc.Fingerprint
	tr.infof("Fetched %s (%s, fingerprint %016x)", doc.SourceURL, humanize.Bytes(uint64(len(doc.HTML))), doc.Fingerprint)
	return doc, nil
}

// persist writes the run artifacts. Write failures are logged, not returned.
func (r *Runner) persist(cfg RunConfig, artifacts output.Artifacts, res *Result, tr *trail) {
	body := res.Table.Text()
	if res.Table.Empty() {
		body = res.RawReply
	}
	if err := output.WriteFile(artifacts.TablePath(), []byte(body)); err != nil {
		tr.errorf("Output not saved: %v", err)
	} else {
		res.ArtifactPath = artifacts.TablePath()
		tr.infof("Output saved to %s", res.ArtifactPath)
	}

	if err := output.WriteFile(artifacts.RawReplyPath(), []byte(res.RawReply)); err != nil {
		tr.warnf("Raw reply not saved: %v", err)
	}

	if cfg.Format == "" || cfg.Format == output.FormatCSV {
		return
	}
	var buf bytes.Buffer
	if err := output.WriteTable(&buf, cfg.Format, res.Table); err != nil {
		tr.warnf("Export as %s failed: %v", cfg.Format, err)
		return
	}
	path := artifacts.ExportPath(cfg.Format)
	if err := output.WriteFile(path, buf.Bytes()); err != nil {
		tr.warnf("Export not saved: %v", err)
		return
	}
	res.ExportPath = path
	tr.infof("Exported %d rows as %s to %s", len(res.Table.Rows), cfg.Format, path)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Sample is the diagnostic view of a page used to tune selectors.
type Sample struct {
	RunID     string
	LogLines  []string
	Structure []string
	Items     []string
	FellBack  bool
	Document  fetcher.Document
}

// Sample fetches the target and reports its structure and the listings the
// current selectors would extract, without calling the model.
func (r *Runner) Sample(ctx context.Context, cfg RunConfig) (*Sample, error) {
	res := &Result{RunID: uuid.NewString()}
	tr := &trail{log: logger.With("run_id", res.RunID)}
	out := &Sample{RunID: res.RunID}
	defer func() { out.LogLines = tr.lines }()

	if err := cfg.Validate(); err != nil {
		tr.errorf("%v", err)
		return out, err
	}

	doc, err := r.acquire(ctx, cfg, res, tr)
	if err != nil {
		return out, err
	}
	out.Document = doc
	out.Structure = listing.Summarize(doc.HTML)

	extracted, err := listing.Extract(doc.HTML, cfg.ListingSelectors)
	if err != nil {
		tr.warnf("Extraction failed: %v", err)
	}
	for _, w := range extracted.Warnings {
		tr.warnf("%v", w)
	}
	out.Items = extracted.Items
	out.FellBack = extracted.FellBack
	tr.infof("Found %d listings with %s", len(out.Items), strings.Join(cfg.ListingSelectors, ", "))
	return out, nil
}
