package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/chatcrawler/internal/logger"
	"github.com/jmylchreest/chatcrawler/internal/output"
	"github.com/jmylchreest/chatcrawler/pkg/chatcrawler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scrape a page and convert its listings into a table",
	Long: `Fetch a page, extract its listing blocks, send them to a language
model with your prompt and write the normalized table.

The prompt may contain {data} where the listing text should go; otherwise
the text is appended. Artifacts are written to the output directory and
overwritten on every run:

  llm_input.txt      listing text sent to the model
  ai_output.csv      normalized table (raw reply if no table was found)
  ai_output.raw.txt  unmodified model reply

Login credentials are read from the config file or environment
(login_url, username_field, username, password_field, password).

Examples:
  chatcrawler run -u "https://example.com/rentals" -n 10
  chatcrawler run -u "https://example.com/rentals" --prompt-file prompt.txt \
      --format json --preview`,
	PreRun: func(cmd *cobra.Command, args []string) {
		bindFlags(cmd.Flags(), fetchFlagKeys)
		bindFlags(cmd.Flags(), llmFlagKeys)
		bindFlags(cmd.Flags(), runFlagKeys)
	},
	RunE: runRun,
}

var runFlagKeys = map[string]string{
	"prompt":          "prompt",
	"prompt-file":     "prompt_file",
	"max-items":       "max_items",
	"max-prompt-size": "max_prompt_size",
	"format":          "format",
	"columns":         "columns",
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	addFetchFlags(flags)
	addLLMFlags(flags)

	d := chatcrawler.DefaultRunConfig()
	flags.StringP("prompt", "P", d.Template, "instruction template; {data} marks the listing text")
	flags.String("prompt-file", "", "read the instruction template from a file")
	flags.IntP("max-items", "n", d.MaxItems, "listings sent to the model")
	flags.String("max-prompt-size", fmt.Sprint(d.MaxPromptChars), "ceiling on listing text (e.g. 24000, 32KB, 0=unlimited)")
	flags.String("format", string(output.FormatCSV), "additional export format: csv, json, jsonl, yaml")
	flags.StringSlice("columns", nil, "table columns requested from the model (default: Title,Price,Location,Details,URL)")
	flags.Bool("preview", false, "print the table to stdout")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Debug("run command starting")

	cfg, err := buildRunConfig(cmd)
	if err != nil {
		logError("%v", err)
		return err
	}
	if cfg.TargetURL == "" {
		return cmd.Help()
	}

	gen, provider, err := buildGenerator()
	if err != nil {
		logError("failed to create provider: %v", err)
		return err
	}
	logInfo("Using %s (%s)", provider.Name(), provider.Model())

	res, err := chatcrawler.Run(ctx, cfg, gen)
	if err != nil {
		logger.Error("run failed", "run_id", res.RunID, "error", err)
		logError("%v", err)
		return err
	}

	if preview, _ := cmd.Flags().GetBool("preview"); preview {
		if err := output.Preview(os.Stdout, res.Table, output.DefaultPreviewOptions()); err != nil {
			return err
		}
	}

	logInfo("%d listings, %d rows in %s (prompt %s)",
		res.Prompt.Items,
		len(res.Table.Rows),
		res.Duration.Round(time.Millisecond),
		humanize.Bytes(uint64(len(res.Prompt.Text))))
	if res.ArtifactPath != "" {
		logInfo("Table: %s", res.ArtifactPath)
	}
	if res.ExportPath != "" {
		logInfo("Export: %s", res.ExportPath)
	}
	if viper.GetBool("debug") {
		for _, line := range res.Structure {
			logger.Debug("structure", "pattern", line)
		}
	}
	return nil
}
