package main

import (
	"context"
	"fmt"

	"github.com/shanehull/listscraper/internal/browser"
	"github.com/shanehull/listscraper/internal/config"
	"github.com/shanehull/listscraper/internal/fetch"
	"github.com/shanehull/listscraper/internal/history"
	"github.com/shanehull/listscraper/internal/logging"
	"github.com/shanehull/listscraper/internal/notify"
	"github.com/shanehull/listscraper/internal/oracle"
	"github.com/shanehull/listscraper/internal/relevance"
	"github.com/shanehull/listscraper/internal/retry"
	"github.com/shanehull/listscraper/internal/session"
	"github.com/shanehull/listscraper/internal/workflow"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runOptions struct {
	configPath string
	keywords   string
	maxPages   int
	dryRun     bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one scrape and notify recipients about new artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrape(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "listscraper.yaml", "Path to the YAML run configuration")
	cmd.Flags().StringVarP(&opts.keywords, "keywords", "k", "", "Comma-separated keywords, replacing criteria.keywords")
	cmd.Flags().IntVar(&opts.maxPages, "max-pages", 0, "Maximum listing pages to visit (0 keeps the configured limit)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Log notifications instead of sending them")
	return cmd
}

func (o *runOptions) apply(c *config.Config) {
	if o.keywords != "" {
		c.Criteria.Keywords = parseKeywords(o.keywords)
	}
	if o.maxPages > 0 {
		c.Limits.MaxPages = o.maxPages
	}
}

func runScrape(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := config.Load(opts.configPath, opts.apply)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()

	nav, err := browser.Launch(ctx, cfg.Browser, logger.Named("browser"))
	if err != nil {
		return err
	}
	defer nav.Close()

	classifier, err := newOracle(ctx, cfg)
	if err != nil {
		return err
	}

	sessions := session.NewManager(nav, cfg.Target.LoginURL, cfg.Credentials(), logger.Named("session"),
		session.WithLivenessInterval(cfg.Session.LivenessInterval),
		session.WithReauthRetry(retry.NewExecutor(cfg.Retry.Login, logger)))

	pipeline := fetch.NewPipeline(
		fetch.Config{Dir: cfg.Download.Dir, Concurrency: cfg.Download.Concurrency, Timeout: cfg.Download.Timeout},
		fetch.NewResolver(cfg.Download.LinkSelector, cfg.Download.ChecksumAttr, logger),
		nav,
		sessions,
		retry.NewExecutor(cfg.Retry.Download, logger),
		logger.Named("fetch"),
	)

	var transport notify.Transport = notify.NewEmailSender(cfg.Notify.SMTP, logger)
	if opts.dryRun {
		transport = notify.NewLogTransport(logger)
	}

	hist, err := history.NewManager(cfg.History.Dir, cfg.History.Retention, logger.Named("history"))
	if err != nil {
		return err
	}

	orch := workflow.NewOrchestrator(workflow.Deps{
		Sessions:   sessions,
		Source:     nav,
		Classifier: relevance.NewFilter(classifier, logger),
		Fetcher:    pipeline,
		Renderer:   notify.NewHTMLEmailRenderer(),
		Dispatcher: notify.NewDispatcher(transport, cfg.Notify.Concurrency, cfg.Notify.SendTimeout, logger.Named("notify")),
		History:    hist,
	}, workflow.Config{
		Criteria:         cfg.SearchCriteria(),
		Recipients:       cfg.Recipients,
		MaxPages:         cfg.Limits.MaxPages,
		LoginRetry:       cfg.Retry.Login,
		PageRetry:        cfg.Retry.Page,
		FailureThreshold: cfg.Limits.FailureThreshold,
		MinSamples:       cfg.Limits.MinSamples,
	}, logger)

	logger.Info("Starting listing scraper",
		zap.String("listing", cfg.Target.ListingURL),
		zap.Strings("recipients", cfg.Recipients),
		zap.Bool("dry_run", opts.dryRun))

	run, runErr := orch.Run(ctx)
	notify.ReportRun(cmd.OutOrStdout(), run)
	fmt.Fprintf(cmd.OutOrStdout(), "History saved to %s.\n", hist.HistoryFilePath())
	return runErr
}

func newOracle(ctx context.Context, cfg *config.Config) (relevance.Oracle, error) {
	switch cfg.Oracle.Provider {
	case config.ProviderGemini:
		g, err := oracle.NewGemini(ctx, cfg.Oracle.APIKey, cfg.Oracle.Model)
		if err != nil {
			return nil, err
		}
		return g, nil
	case config.ProviderKeyword:
		return oracle.NewKeyword(), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Oracle.Provider)
	}
}
