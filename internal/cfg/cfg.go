package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tvdn/tvdn-web/internal/log"
)

// EnvPrefix namespaces environment overrides: flag "foo-bar" reads TVDN_FOO_BAR.
const EnvPrefix = "TVDN_"

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// site
	BaseURL          string
	RoutesFile       string
	SiteDir          string
	TrustedProxyHops int

	// headless CMS
	CMSSpaceID       string
	CMSAccessToken   string
	CMSPreviewToken  string
	CMSEnvironment   string
	CMSTokenSSMParam string
	CMSTimeout       time.Duration

	// link previews and social cards
	LinkPreviewTimeout time.Duration
	LinkPreviewRPS     float64
	OGIconURL          string

	// content bundles
	EnableContentUpdates bool
	ContentSSMParam      string
	ContentS3Bucket      string
	ContentS3Prefix      string
	ContentSigningKeyARN string
	ContentPollInterval  time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.StringVar(&c.BaseURL, "base-url", "https://tvdn.me", "public origin used for canonical links, og:url and the sitemap")
	fs.StringVar(&c.RoutesFile, "routes-file", "", "YAML route metadata table (empty uses the built-in table)")
	fs.StringVar(&c.SiteDir, "site-dir", "", "serve the built site from this directory and reload on change")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 0, "reverse proxies in front of the server whose X-Forwarded-For entries are trusted (0..5)")

	fs.StringVar(&c.CMSSpaceID, "cms-space-id", "", "Contentful space id")
	fs.StringVar(&c.CMSAccessToken, "cms-access-token", "", "Contentful delivery token")
	fs.StringVar(&c.CMSPreviewToken, "cms-preview-token", "", "Contentful preview token (switches to the preview API)")
	fs.StringVar(&c.CMSEnvironment, "cms-environment", "master", "Contentful environment")
	fs.StringVar(&c.CMSTokenSSMParam, "cms-token-ssm-param", "", "SSM SecureString holding the delivery token when -cms-access-token is empty")
	fs.DurationVar(&c.CMSTimeout, "cms-timeout", 5*time.Second, "timeout for a single CMS request")

	fs.DurationVar(&c.LinkPreviewTimeout, "link-preview-timeout", 8*time.Second, "timeout for fetching a link preview target")
	fs.Float64Var(&c.LinkPreviewRPS, "link-preview-rps", 1, "per-IP request rate for /api/og-metadata and /og")
	fs.StringVar(&c.OGIconURL, "og-icon-url", "", "absolute URL of the social card icon (empty reads the favicon from site content)")

	fs.BoolVar(&c.EnableContentUpdates, "enable-content-updates", false, "Enable refreshing site bundles from S3/SSM")
	fs.StringVar(&c.ContentSSMParam, "content-ssm-param", "/app/tvdn-web/site/release/id", "ssm parameter name holding the site bundle hash")
	fs.StringVar(&c.ContentS3Bucket, "content-s3-bucket", "", "s3 bucket holding site bundles")
	fs.StringVar(&c.ContentS3Prefix, "content-s3-prefix", "tvdn-web/site/bundles", "s3 prefix (key) of site bundles")
	fs.StringVar(&c.ContentSigningKeyARN, "content-signing-key-arn", "", "KMS key ARN for site bundle signature verification")
	fs.DurationVar(&c.ContentPollInterval, "content-poll-interval", 30*time.Second, "how often to check SSM for a new site bundle")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	fillFrom(fs, func(name string) []string {
		return []string{prefix + strings.ReplaceAll(strings.ToUpper(name), "-", "_")}
	}, logf)
}

// Aliases maps flags to the variable names the site used on its previous
// hosting platform.
var Aliases = map[string][]string{
	"cms-space-id":      {"CONTENTFUL_SPACE_ID", "VITE_CONTENTFUL_SPACE_ID"},
	"cms-access-token":  {"CONTENTFUL_ACCESS_TOKEN", "VITE_CONTENTFUL_ACCESS_TOKEN"},
	"cms-preview-token": {"CONTENTFUL_PREVIEW_TOKEN", "VITE_CONTENTFUL_PREVIEW_TOKEN"},
	"cms-environment":   {"CONTENTFUL_ENVIRONMENT"},
	"base-url":          {"CF_PAGES_URL"},
}

// FillFromAliases applies Aliases to flags still at their default. Run it
// after FillFromEnv so prefixed variables win.
func FillFromAliases(fs *flag.FlagSet, aliases map[string][]string, logf func(string, ...any)) {
	fillFrom(fs, func(name string) []string { return aliases[name] }, logf)
}

func fillFrom(fs *flag.FlagSet, keys func(flagName string) []string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		for _, key := range keys(f.Name) {
			envVal, envSet := os.LookupEnv(key)
			if !envSet {
				continue
			}
			if explicit[f.Name] {
				if logf != nil {
					logf("flag -%s: cli value %q overrides env %s", f.Name, f.Value.String(), key)
				}
				return
			}
			prev := f.Value.String()
			if err := fs.Set(f.Name, envVal); err != nil {
				_ = fs.Set(f.Name, prev)
				if logf != nil {
					logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
				}
				continue
			}
			// a set value counts as explicit for later passes
			explicit[f.Name] = true
			return
		}
	})
}

// CMSConfigured reports whether enough credentials exist to query the CMS.
func (c App) CMSConfigured() bool {
	return c.CMSSpaceID != "" && (c.CMSAccessToken != "" || c.CMSPreviewToken != "" || c.CMSTokenSSMParam != "")
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	if c.BaseURL != "" {
		if err := checkAbsURL(c.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid BASE_URL: %w", err))
		}
	}
	if c.OGIconURL != "" {
		if err := checkAbsURL(c.OGIconURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid OG_ICON_URL: %w", err))
		}
	}

	if c.TrustedProxyHops < 0 || c.TrustedProxyHops > 5 {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXY_HOPS must be 0..5 (got %d)", c.TrustedProxyHops))
	}

	if c.CMSTokenSSMParam != "" && !strings.HasPrefix(c.CMSTokenSSMParam, "/") {
		errs = append(errs, fmt.Errorf("CMS_TOKEN_SSM_PARAM must be an absolute parameter path (got %q)", c.CMSTokenSSMParam))
	}
	if c.CMSEnvironment == "" {
		errs = append(errs, fmt.Errorf("CMS_ENVIRONMENT must not be empty"))
	}
	if c.CMSTimeout <= 0 {
		errs = append(errs, fmt.Errorf("CMS_TIMEOUT must be positive (got %s)", c.CMSTimeout))
	}
	if c.LinkPreviewTimeout <= 0 {
		errs = append(errs, fmt.Errorf("LINK_PREVIEW_TIMEOUT must be positive (got %s)", c.LinkPreviewTimeout))
	}
	if c.LinkPreviewRPS <= 0 {
		errs = append(errs, fmt.Errorf("LINK_PREVIEW_RPS must be positive (got %g)", c.LinkPreviewRPS))
	}

	if c.EnableContentUpdates {
		if c.SiteDir != "" {
			errs = append(errs, fmt.Errorf("SITE_DIR and ENABLE_CONTENT_UPDATES are mutually exclusive"))
		}
		if c.ContentSSMParam == "" {
			errs = append(errs, fmt.Errorf("CONTENT_SSM_PARAM is required when ENABLE_CONTENT_UPDATES=true"))
		}
		if c.ContentS3Bucket == "" {
			errs = append(errs, fmt.Errorf("CONTENT_S3_BUCKET is required when ENABLE_CONTENT_UPDATES=true"))
		}
		if c.ContentS3Prefix == "" {
			errs = append(errs, fmt.Errorf("CONTENT_S3_PREFIX is required when ENABLE_CONTENT_UPDATES=true"))
		}
		if c.ContentPollInterval < time.Second {
			errs = append(errs, fmt.Errorf("CONTENT_POLL_INTERVAL must be at least 1s (got %s)", c.ContentPollInterval))
		}
	}

	return errors.Join(errs...)
}

func checkAbsURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
