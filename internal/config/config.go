/*
Package config loads the run configuration from YAML, applies environment
overrides and validates the result.
*/
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/shanehull/listscraper/internal/browser"
	"github.com/shanehull/listscraper/internal/fetch"
	"github.com/shanehull/listscraper/internal/logging"
	"github.com/shanehull/listscraper/internal/notify"
	"github.com/shanehull/listscraper/internal/oracle"
	"github.com/shanehull/listscraper/internal/paginate"
	"github.com/shanehull/listscraper/internal/retry"
	"github.com/shanehull/listscraper/internal/types"

	"gopkg.in/yaml.v3"
)

const (
	ProviderKeyword = "keyword"
	ProviderGemini  = "gemini"
)

type Config struct {
	Target     TargetConfig   `yaml:"target"`
	Browser    browser.Config `yaml:"browser"`
	Criteria   CriteriaConfig `yaml:"criteria"`
	Recipients []string       `yaml:"recipients"`
	Retry      RetryConfig    `yaml:"retry"`
	Session    SessionConfig  `yaml:"session"`
	Notify     NotifyConfig   `yaml:"notify"`
	Limits     LimitsConfig   `yaml:"limits"`
	Download   DownloadConfig `yaml:"download"`
	Oracle     OracleConfig   `yaml:"oracle"`
	History    HistoryConfig  `yaml:"history"`
	Logging    logging.Config `yaml:"logging"`
}

type TargetConfig struct {
	LoginURL   string `yaml:"login_url"`
	ListingURL string `yaml:"listing_url"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
}

type CriteriaConfig struct {
	Query    string   `yaml:"query"`
	Keywords []string `yaml:"keywords"`
}

type RetryConfig struct {
	Login    retry.Policy `yaml:"login"`
	Page     retry.Policy `yaml:"page"`
	Download retry.Policy `yaml:"download"`
}

type SessionConfig struct {
	LivenessInterval time.Duration `yaml:"liveness_interval"`
}

type NotifyConfig struct {
	Concurrency int                `yaml:"concurrency"`
	SendTimeout time.Duration      `yaml:"send_timeout"`
	SMTP        notify.EmailConfig `yaml:"smtp"`
}

type LimitsConfig struct {
	MaxPages         int     `yaml:"max_pages"`
	FailureThreshold float64 `yaml:"failure_threshold"`
	MinSamples       int     `yaml:"min_samples"`
}

type DownloadConfig struct {
	Dir          string        `yaml:"dir"`
	Concurrency  int           `yaml:"concurrency"`
	Timeout      time.Duration `yaml:"timeout"`
	LinkSelector string        `yaml:"link_selector"`
	ChecksumAttr string        `yaml:"checksum_attr"`
}

type OracleConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

type HistoryConfig struct {
	Dir       string        `yaml:"dir"`
	Retention time.Duration `yaml:"retention"`
}

func Default() *Config {
	return &Config{
		Browser: browser.DefaultConfig(),
		Retry: RetryConfig{
			Login:    retry.DefaultPolicy(),
			Page:     retry.DefaultPolicy(),
			Download: retry.DefaultPolicy(),
		},
		Notify: NotifyConfig{
			Concurrency: notify.DefaultConcurrency,
			SendTimeout: 30 * time.Second,
			SMTP:        notify.EmailConfig{SMTPPort: 587},
		},
		Limits: LimitsConfig{
			MaxPages:         paginate.DefaultMaxPages,
			FailureThreshold: 0.5,
			MinSamples:       4,
		},
		Download: DownloadConfig{
			Dir:          "downloads",
			Concurrency:  1,
			Timeout:      5 * time.Minute,
			LinkSelector: fetch.DefaultLinkSelector,
			ChecksumAttr: fetch.DefaultChecksumAttr,
		},
		Oracle: OracleConfig{
			Model: oracle.DefaultModel,
		},
		History: HistoryConfig{
			Retention: 30 * 24 * time.Hour,
		},
		Logging: logging.Config{Level: "info"},
	}
}

// Override adjusts a loaded config before validation, e.g. from CLI flags.
type Override func(*Config)

// Load reads path over the defaults, then applies environment overrides and
// the given overrides, and validates.
func Load(path string, overrides ...Override) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	for _, o := range overrides {
		o(cfg)
	}
	if cfg.Oracle.Provider == "" {
		cfg.Oracle.Provider = ProviderKeyword
	}
	cfg.Browser.ListingURL = cfg.Target.ListingURL

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides for secrets.
func (c *Config) applyEnvOverrides() {
	if pass := os.Getenv("LISTSCRAPER_PASSWORD"); pass != "" {
		c.Target.Password = pass
	}
	if pass := os.Getenv("LISTSCRAPER_SMTP_PASS"); pass != "" {
		c.Notify.SMTP.SMTPPass = pass
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Oracle.APIKey = key
		if c.Oracle.Provider == "" {
			c.Oracle.Provider = ProviderGemini
		}
	}
}

func (c *Config) Validate() error {
	var errs []error

	for name, raw := range map[string]string{
		"target.login_url":   c.Target.LoginURL,
		"target.listing_url": c.Target.ListingURL,
	} {
		if raw == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL, got %q", name, raw))
		}
	}
	if c.Target.Username == "" {
		errs = append(errs, errors.New("target.username is required"))
	}
	if len(c.Recipients) == 0 {
		errs = append(errs, errors.New("at least one recipient is required"))
	}

	for name, p := range map[string]retry.Policy{
		"retry.login":    c.Retry.Login,
		"retry.page":     c.Retry.Page,
		"retry.download": c.Retry.Download,
	} {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if c.Notify.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("notify.concurrency must be at least 1, got %d", c.Notify.Concurrency))
	}
	if c.Download.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("download.concurrency must be at least 1, got %d", c.Download.Concurrency))
	}
	if c.Limits.MaxPages < 1 {
		errs = append(errs, fmt.Errorf("limits.max_pages must be at least 1, got %d", c.Limits.MaxPages))
	}
	if c.Limits.FailureThreshold <= 0 || c.Limits.FailureThreshold > 1 {
		errs = append(errs, fmt.Errorf("limits.failure_threshold must be in (0, 1], got %v", c.Limits.FailureThreshold))
	}
	if c.Limits.MinSamples < 1 {
		errs = append(errs, fmt.Errorf("limits.min_samples must be at least 1, got %d", c.Limits.MinSamples))
	}

	switch c.Oracle.Provider {
	case ProviderKeyword:
		if c.Criteria.Query == "" && len(c.Criteria.Keywords) == 0 {
			errs = append(errs, errors.New("keyword oracle needs criteria.query or criteria.keywords"))
		}
	case ProviderGemini:
		if c.Oracle.APIKey == "" {
			errs = append(errs, errors.New("gemini oracle needs oracle.api_key or GEMINI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown oracle.provider %q", c.Oracle.Provider))
	}

	return errors.Join(errs...)
}

func (c *Config) Credentials() types.Credentials {
	return types.Credentials{Username: c.Target.Username, Password: c.Target.Password}
}

func (c *Config) SearchCriteria() types.SearchCriteria {
	return types.NewSearchCriteria(c.Criteria.Query, c.Criteria.Keywords)
}
