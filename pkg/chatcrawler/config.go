package chatcrawler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jmylchreest/chatcrawler/internal/output"
	"github.com/jmylchreest/chatcrawler/pkg/fetcher"
	"github.com/jmylchreest/chatcrawler/pkg/listing"
	"github.com/jmylchreest/chatcrawler/pkg/tabular"
	"github.com/jmylchreest/chatcrawler/pkg/transform"
)

// Defaults for a run.
const (
	DefaultWaitSelector = "div.dynamic-section"
	DefaultMaxItems     = 5
	DefaultRetries      = 3
	MaxRetries          = 10
)

var (
	// ErrInvalidConfig is returned when a RunConfig fails validation.
	ErrInvalidConfig = errors.New("invalid run configuration")

	// ErrInvalidURL is returned for a target that is not an http(s) URL.
	ErrInvalidURL = errors.New("Invalid URL. Please enter a valid website starting with http/https.") //nolint:staticcheck // shown to the operator verbatim
)

// RunConfig is the resolved configuration for one run. It is not modified
// once Run starts.
type RunConfig struct {
	TargetURL string       `validate:"required,http_url"`
	Template  string       // instruction template; {data} marks the listing text
	Backend   fetcher.Kind `validate:"required,oneof=direct automated automated-persistent"`
	Headless  bool

	MaxItems int `validate:"gte=0"`
	Retries  int `validate:"gte=0,lte=10"`

	ListingSelectors []string
	WaitSelector     string
	WaitTimeout      time.Duration `validate:"gte=0"`
	Credentials      fetcher.Credentials

	UserAgent       string
	RandomUserAgent bool
	Bypass          bool
	ProfileDir      string

	MaxPromptChars int `validate:"gte=-1"`
	Columns        []string

	OutputDir string
	Format    output.Format `validate:"omitempty,oneof=csv json jsonl yaml"`
	Snapshot  bool
}

// DefaultRunConfig returns a RunConfig with every default applied except
// TargetURL.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Template:         transform.DefaultTemplate,
		Backend:          fetcher.Direct,
		Headless:         true,
		MaxItems:         DefaultMaxItems,
		Retries:          DefaultRetries,
		ListingSelectors: listing.DefaultSelectors,
		WaitSelector:     DefaultWaitSelector,
		Credentials:      fetcher.DefaultConfig().Credentials,
		MaxPromptChars:   transform.DefaultMaxPromptChars,
		Columns:          tabular.DefaultColumns,
		OutputDir:        output.DefaultDir,
		Format:           output.FormatCSV,
	}
}

var validate = validator.New()

// Validate checks the configuration before any network activity.
func (c RunConfig) Validate() error {
	if !strings.HasPrefix(c.TargetURL, "http://") && !strings.HasPrefix(c.TargetURL, "https://") {
		return ErrInvalidURL
	}

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		if e.Field() == "TargetURL" {
			return ErrInvalidURL
		}
		msgs = append(msgs, e.Field()+" "+formatValidationError(e))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "http_url":
		return "must be an http or https URL"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

// columns returns the configured columns or the defaults.
func (c RunConfig) columns() []string {
	if len(c.Columns) == 0 {
		return tabular.DefaultColumns
	}
	return c.Columns
}

// fetcherConfig maps the run settings onto backend configuration.
func (c RunConfig) fetcherConfig() fetcher.Config {
	cfg := fetcher.DefaultConfig()
	cfg.Headless = c.Headless
	cfg.UserAgent = c.UserAgent
	cfg.RandomUserAgent = c.RandomUserAgent
	cfg.Bypass = c.Bypass
	cfg.WaitSelector = c.WaitSelector
	cfg.WaitTimeout = c.WaitTimeout
	if c.ProfileDir != "" {
		cfg.ProfileDir = c.ProfileDir
	}

	creds := c.Credentials
	if creds.UsernameField == "" {
		creds.UsernameField = cfg.Credentials.UsernameField
	}
	if creds.PasswordField == "" {
		creds.PasswordField = cfg.Credentials.PasswordField
	}
	cfg.Credentials = creds
	return cfg
}
