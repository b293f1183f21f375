package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"

	config "github.com/merchantops/reconcile/internal/config"
	"github.com/merchantops/reconcile/internal/gateway"
	"github.com/merchantops/reconcile/internal/ingest"
	"github.com/merchantops/reconcile/internal/match"
	"github.com/merchantops/reconcile/internal/notify"
	"github.com/merchantops/reconcile/internal/pipeline"
	"github.com/merchantops/reconcile/internal/recovery"
	"github.com/merchantops/reconcile/internal/remote"
	"github.com/merchantops/reconcile/pkg/db/migrations"
	"github.com/merchantops/reconcile/pkg/db/store"
	"github.com/merchantops/reconcile/pkg/log"
)

// services wires the shared dependencies every command needs: config,
// logger, catalog and notifier. Remote and gateway clients are opened on
// demand because not every command talks to them.
type services struct {
	cfg      *config.BaseConfig
	log      log.LoggerService
	catalog  *store.SQLiteCatalog
	notifier notify.Notifier
	ingestor *ingest.Ingestor
	recovery *recovery.Manager

	remote remote.Client
}

func openServices(ctx context.Context) (*services, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := log.NewLoggerService("reconcile", cfg.Log)

	catalog, err := store.NewSQLiteCatalog(store.SQLiteConfig{Path: cfg.Database.Path})
	if err != nil {
		return nil, err
	}
	if err := catalog.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to catalog: %w", err)
	}
	if err := migrations.NewMigrator(catalog.DB()).Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate catalog: %w", err)
	}

	notifier := notify.NewLogNotifier(logger)
	ingestor := ingest.NewIngestor(catalog, logger)
	recov := recovery.NewManager(catalog, ingestor,
		config.Duration(cfg.Recovery.StaleAfter, 2*time.Hour), notifier, logger)

	return &services{
		cfg:      cfg,
		log:      logger,
		catalog:  catalog,
		notifier: notifier,
		ingestor: ingestor,
		recovery: recov,
	}, nil
}

func (s *services) close() {
	if s.remote != nil {
		s.remote.Close()
	}
	s.catalog.Close()
}

// openRemote dials the SFTP server once per command invocation.
func (s *services) openRemote() (remote.Client, error) {
	if s.remote != nil {
		return s.remote, nil
	}
	client, err := remote.NewSFTPClient(s.cfg.Remote)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to remote server: %w", err)
	}
	s.remote = client
	return client, nil
}

// matcher builds the gateway-backed matcher; requireGateway decides whether
// a missing gateway configuration is an error or just disables matching.
func (s *services) matcher(requireGateway bool) (*match.Matcher, error) {
	gw, err := gateway.NewHTTPClient(s.cfg.Matching)
	if err != nil {
		if requireGateway {
			return nil, err
		}
		return nil, nil
	}
	return match.NewMatcher(s.catalog, gw, s.cfg.Matching.MaxAttempts, s.notifier, s.log), nil
}

// runner assembles the batch pipeline. The remote client is only dialed
// when withRemote is set; catalog-only commands skip it.
func (s *services) runner(withRemote, requireGateway bool) (*pipeline.Runner, error) {
	var client remote.Client
	var locator *remote.Locator
	var downloader *ingest.Downloader

	if withRemote {
		c, err := s.openRemote()
		if err != nil {
			return nil, err
		}
		client = c
		locator = remote.NewLocator(client, s.cfg.Remote.Patterns, s.log)
		downloader = ingest.NewDownloader(s.catalog, client, s.cfg.Local.BaseDir, s.notifier, s.log)
	}

	matcher, err := s.matcher(requireGateway)
	if err != nil {
		return nil, err
	}

	return pipeline.NewRunner(s.catalog, client, locator, downloader, s.ingestor, matcher, s.notifier, s.log, s.cfg), nil
}

func newLocator(s *services, client remote.Client) *remote.Locator {
	return remote.NewLocator(client, s.cfg.Remote.Patterns, s.log)
}

func newDownloader(s *services, client remote.Client) *ingest.Downloader {
	return ingest.NewDownloader(s.catalog, client, s.cfg.Local.BaseDir, s.notifier, s.log)
}

// parseDate accepts YYYY-MM-DD command-line dates.
func parseDate(value string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return t, nil
}

// printSummary reports batch counts; red failures stand out.
func printSummary(sum *pipeline.Summary) {
	fmt.Printf("Run %s\n", sum.RunID)
	fmt.Printf("  found:      %d\n", sum.Found)
	fmt.Printf("  downloaded: %d\n", sum.Downloaded)
	fmt.Printf("  skipped:    %d\n", sum.Skipped)
	color.Green("  processed:  %d", sum.Processed)
	if sum.Failed > 0 {
		color.Red("  failed:     %d", sum.Failed)
	} else {
		fmt.Printf("  failed:     %d\n", sum.Failed)
	}
	fmt.Printf("  matched:    %d\n", sum.Matched)
	fmt.Printf("  unmatched:  %d\n", sum.Unmatched)
}

// summaryErr converts a summary with failures into a non-zero process exit
// while letting the batch complete all possible work first.
func summaryErr(sum *pipeline.Summary) error {
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed", sum.Failed, sum.Found)
	}
	return nil
}
