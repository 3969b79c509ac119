package commands

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/chatcrawler/internal/logger"
	"github.com/jmylchreest/chatcrawler/internal/output"
	"github.com/jmylchreest/chatcrawler/pkg/chatcrawler"
	"github.com/jmylchreest/chatcrawler/pkg/fetcher"
	"github.com/jmylchreest/chatcrawler/pkg/listing"
	"github.com/jmylchreest/chatcrawler/pkg/llm"
	"github.com/jmylchreest/chatcrawler/pkg/transform"
)

// fetchFlagKeys maps fetch flags shared by run and sample to viper keys.
var fetchFlagKeys = map[string]string{
	"backend":           "backend",
	"headless":          "headless",
	"retries":           "retries",
	"selector":          "listing_selectors",
	"wait-selector":     "wait_selector",
	"wait-timeout":      "wait_timeout",
	"user-agent":        "user_agent",
	"random-user-agent": "random_user_agent",
	"bypass":            "bypass",
	"profile-dir":       "profile_dir",
	"output-dir":        "output_dir",
	"snapshot":          "snapshot",
}

func init() {
	defaults := chatcrawler.DefaultRunConfig()
	viper.SetDefault("backend", string(defaults.Backend))
	viper.SetDefault("headless", defaults.Headless)
	viper.SetDefault("max_items", defaults.MaxItems)
	viper.SetDefault("retries", defaults.Retries)
	viper.SetDefault("listing_selectors", listing.DefaultSelectors)
	viper.SetDefault("wait_selector", defaults.WaitSelector)
	viper.SetDefault("prompt", transform.DefaultTemplate)
	viper.SetDefault("max_prompt_size", fmt.Sprint(transform.DefaultMaxPromptChars))
	viper.SetDefault("output_dir", output.DefaultDir)
	viper.SetDefault("format", string(output.FormatCSV))
	viper.SetDefault("username_field", defaults.Credentials.UsernameField)
	viper.SetDefault("password_field", defaults.Credentials.PasswordField)
}

// addFetchFlags registers the flags shared by commands that fetch a page.
func addFetchFlags(flags *pflag.FlagSet) {
	d := chatcrawler.DefaultRunConfig()

	flags.StringP("url", "u", "", "target URL (http or https)")
	flags.StringP("backend", "b", string(d.Backend), "fetch backend: "+strings.Join(fetcher.Kinds(), ", "))
	flags.Bool("headless", d.Headless, "run browser backends without a window")
	flags.IntP("retries", "r", d.Retries, "additional fetch attempts on failure")
	flags.StringSlice("selector", nil, "listing selector, repeatable (default: built-in list)")
	flags.String("wait-selector", d.WaitSelector, "selector browser backends wait for before capturing")
	flags.Duration("wait-timeout", 0, "bound on the wait (default: backend specific)")
	flags.String("user-agent", "", "user agent override")
	flags.Bool("random-user-agent", false, "pick a random browser user agent")
	flags.Bool("bypass", false, "mimic browser headers on the direct backend")
	flags.String("profile-dir", "", "browser profile directory for automated-persistent")
	flags.String("output-dir", d.OutputDir, "directory for run artifacts")
	flags.Bool("snapshot", false, "save the fetched HTML under <output-dir>/html")
}

// bindFlags binds a command's flags to their viper keys. It runs per command
// so run and sample do not overwrite each other's bindings.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		if f := flags.Lookup(flag); f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}
}

// expandEnv substitutes ${NAME} and $NAME from the environment. Unset
// variables are left as written so an unresolved placeholder stays visible.
func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return "${" + name + "}"
	})
}

// buildRunConfig resolves flags, config file and environment into a RunConfig.
func buildRunConfig(cmd *cobra.Command) (chatcrawler.RunConfig, error) {
	cfg := chatcrawler.DefaultRunConfig()

	cfg.TargetURL, _ = cmd.Flags().GetString("url")
	cfg.TargetURL = strings.TrimSpace(cfg.TargetURL)

	kind, err := fetcher.ParseKind(viper.GetString("backend"))
	if err != nil {
		return cfg, err
	}
	cfg.Backend = kind
	cfg.Headless = viper.GetBool("headless")
	cfg.MaxItems = viper.GetInt("max_items")
	cfg.Retries = viper.GetInt("retries")
	if sels := viper.GetStringSlice("listing_selectors"); len(sels) > 0 {
		cfg.ListingSelectors = sels
	}
	cfg.WaitSelector = viper.GetString("wait_selector")
	cfg.WaitTimeout = viper.GetDuration("wait_timeout")
	cfg.UserAgent = viper.GetString("user_agent")
	cfg.RandomUserAgent = viper.GetBool("random_user_agent")
	cfg.Bypass = viper.GetBool("bypass")
	cfg.ProfileDir = viper.GetString("profile_dir")
	cfg.OutputDir = viper.GetString("output_dir")
	cfg.Snapshot = viper.GetBool("snapshot")
	if cols := viper.GetStringSlice("columns"); len(cols) > 0 {
		cfg.Columns = cols
	}

	cfg.Credentials = fetcher.Credentials{
		LoginURL:      expandEnv(viper.GetString("login_url")),
		UsernameField: viper.GetString("username_field"),
		Username:      expandEnv(viper.GetString("username")),
		PasswordField: viper.GetString("password_field"),
		Password:      expandEnv(viper.GetString("password")),
	}

	template, err := resolvePrompt()
	if err != nil {
		return cfg, err
	}
	cfg.Template = template

	maxChars, err := parsePromptSize(viper.GetString("max_prompt_size"))
	if err != nil {
		return cfg, err
	}
	cfg.MaxPromptChars = maxChars

	format, err := output.ParseFormat(viper.GetString("format"))
	if err != nil {
		return cfg, err
	}
	cfg.Format = format

	logger.Debug("run configuration",
		"url", cfg.TargetURL,
		"backend", cfg.Backend,
		"max_items", cfg.MaxItems,
		"retries", cfg.Retries,
		"selectors", cfg.ListingSelectors,
		"login", cfg.Credentials.LoginConfigured())
	return cfg, nil
}

// resolvePrompt reads --prompt-file when given, otherwise the prompt value.
func resolvePrompt() (string, error) {
	if path := viper.GetString("prompt_file"); path != "" {
		data, err := os.ReadFile(path) //#nosec G304 -- CLI reads a user-specified prompt file
		if err != nil {
			return "", fmt.Errorf("reading prompt file: %w", err)
		}
		return string(data), nil
	}
	return viper.GetString("prompt"), nil
}

// parsePromptSize parses a humanized size such as "24KB". Empty or zero
// disables the ceiling.
func parsePromptSize(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return -1, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid max-prompt-size %q: %w", s, err)
	}
	if n == 0 {
		return -1, nil
	}
	if n > math.MaxInt {
		return 0, fmt.Errorf("invalid max-prompt-size %q: exceeds %s, use 0 to disable the ceiling", s, humanize.Comma(math.MaxInt))
	}
	return int(n), nil
}

// buildGenerator resolves the provider and wraps it for the pipeline.
// Order: --provider, then the first provider with an API key in the
// environment, then ollama.
func buildGenerator() (transform.Generator, llm.Provider, error) {
	name := viper.GetString("provider")
	apiKey := viper.GetString("api_key")
	if name == "" {
		var detected string
		name, detected = llm.DetectProvider()
		if apiKey == "" {
			apiKey = detected
		}
	}
	if apiKey == "" {
		apiKey = llm.KeyFromEnv(name)
	}

	pcfg := llm.DefaultProviderConfig()
	pcfg.APIKey = apiKey
	pcfg.BaseURL = viper.GetString("base_url")
	pcfg.Model = viper.GetString("model")
	if t := viper.GetDuration("llm_timeout"); t > 0 {
		pcfg.Timeout = t
	}

	provider, err := llm.NewProvider(name, pcfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("using provider", "provider", provider.Name(), "model", provider.Model())
	return transform.FromProvider(provider), provider, nil
}

// llmFlagKeys maps model flags to viper keys.
var llmFlagKeys = map[string]string{
	"provider":    "provider",
	"model":       "model",
	"api-key":     "api_key",
	"base-url":    "base_url",
	"llm-timeout": "llm_timeout",
}

func addLLMFlags(flags *pflag.FlagSet) {
	flags.StringP("provider", "p", "", "LLM provider: "+strings.Join(llm.AvailableProviders(), ", ")+" (auto-detects from env vars)")
	flags.StringP("model", "m", "", "model name (provider-specific)")
	flags.StringP("api-key", "k", "", "API key (or use env var)")
	flags.String("base-url", "", "custom API base URL")
	flags.Duration("llm-timeout", 2*time.Minute, "timeout for the model request")
}
