package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/chatcrawler/internal/logger"
	"github.com/jmylchreest/chatcrawler/pkg/chatcrawler"
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Show a page's structure and the listings the selectors find",
	Long: `Fetch a page and print its repeating tag/class patterns along with the
listing blocks the configured selectors extract. The model is not called,
so this is a cheap way to tune --selector before a run.

Examples:
  chatcrawler sample -u "https://example.com/rentals"
  chatcrawler sample -u "https://example.com/rentals" --selector "li.result"`,
	PreRun: func(cmd *cobra.Command, args []string) {
		bindFlags(cmd.Flags(), fetchFlagKeys)
	},
	RunE: runSample,
}

func init() {
	rootCmd.AddCommand(sampleCmd)

	flags := sampleCmd.Flags()
	addFetchFlags(flags)
	flags.Int("show", 5, "listings to print")
}

func runSample(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := buildRunConfig(cmd)
	if err != nil {
		logError("%v", err)
		return err
	}
	if cfg.TargetURL == "" {
		return cmd.Help()
	}

	s, err := chatcrawler.NewRunner(nil).Sample(ctx, cfg)
	if err != nil {
		logger.Error("sample failed", "run_id", s.RunID, "error", err)
		logError("%v", err)
		return err
	}

	out := os.Stdout
	fmt.Fprintf(out, "%s (%s)\n\n", s.Document.SourceURL, humanize.Bytes(uint64(len(s.Document.HTML))))

	st := table.NewWriter()
	st.SetStyle(table.StyleRounded)
	st.SetOutputMirror(out)
	st.AppendHeader(table.Row{"#", "Pattern"})
	for i, line := range s.Structure {
		st.AppendRow(table.Row{i + 1, line})
	}
	st.Render()

	show, _ := cmd.Flags().GetInt("show")
	lt := table.NewWriter()
	lt.SetStyle(table.StyleRounded)
	lt.SetOutputMirror(out)
	lt.AppendHeader(table.Row{"#", "Listing"})
	for i, item := range s.Items {
		if i >= show {
			break
		}
		lt.AppendRow(table.Row{i + 1, item})
	}
	caption := fmt.Sprintf("%d listings", len(s.Items))
	if s.FellBack {
		caption += " (no selector matched, generic fallback used)"
	}
	lt.SetCaption(caption)
	fmt.Fprintln(out)
	lt.Render()
	return nil
}
