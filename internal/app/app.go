// Package app builds the long-lived services shared by the CLI commands:
// the session store, the shared fetch client, the walker, the extractor, the
// downloader and the notification publisher.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/council-sessions/internal/api"
	"github.com/JakeFAU/council-sessions/internal/clock/system"
	"github.com/JakeFAU/council-sessions/internal/config"
	"github.com/JakeFAU/council-sessions/internal/discovery"
	"github.com/JakeFAU/council-sessions/internal/downloader"
	"github.com/JakeFAU/council-sessions/internal/extractor"
	collyfetcher "github.com/JakeFAU/council-sessions/internal/fetcher/colly"
	"github.com/JakeFAU/council-sessions/internal/id/uuid"
	"github.com/JakeFAU/council-sessions/internal/listing"
	"github.com/JakeFAU/council-sessions/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/council-sessions/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/council-sessions/internal/publisher/pubsub"
	"github.com/JakeFAU/council-sessions/internal/storage/gcs"
	"github.com/JakeFAU/council-sessions/internal/storage/local"
	"github.com/JakeFAU/council-sessions/internal/store"
)

// DiscoveredEvent names the notification sent after a walk finds new sessions.
const DiscoveredEvent = "sessions.discovered"

// Publisher sends run notifications.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// Report combines the results of a full run.
type Report struct {
	Listing  discovery.Summary `json:"listing"`
	Details  extractor.Result  `json:"details"`
	Download downloader.Result `json:"download"`
}

// App holds the shared services for one process.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *store.Store
	walker     *discovery.Walker
	extractor  *extractor.Extractor
	downloader *downloader.Downloader
	publisher  Publisher
	closers    []func() error
}

// New wires every service from cfg. Cloud clients are only created when the
// corresponding bucket or topic is configured.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	watermark, err := cfg.Watermark()
	if err != nil {
		return nil, fmt.Errorf("parse stop date: %w", err)
	}

	clock := system.New()
	st, err := store.Open(store.Config{
		Dir:       cfg.Storage.OutputDir,
		Filename:  cfg.Storage.Filename,
		SourceURL: cfg.Listing.URL,
	}, clock, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st

	// One limiter shared by every request so listing pages, detail pages and
	// files all respect the same per-host delay.
	limiter := ratelimit.New(cfg.PageDelay())
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.HTTP.UserAgent,
		Timeout:     cfg.Timeout(),
		MaxBodySize: cfg.HTTP.MaxBodyBytes,
	}, limiter, logger.Named("fetcher"))

	parser, err := listing.NewParser(listing.Config{
		SessionPattern:  cfg.Listing.SessionPattern,
		PaginationLabel: cfg.Listing.PaginationLabel,
		NextKeywords:    cfg.Listing.NextKeywords,
	})
	if err != nil {
		return nil, fmt.Errorf("build listing parser: %w", err)
	}

	a.walker, err = discovery.NewWalker(discovery.Config{
		FirstURL:      cfg.Listing.URL,
		MaxPages:      cfg.Listing.MaxPages,
		Watermark:     watermark,
		ThresholdDays: cfg.Listing.OptimizationThresholdDays,
	}, st, fetcher, parser, clock, uuid.New(), logger.Named("discovery"))
	if err != nil {
		return nil, fmt.Errorf("build walker: %w", err)
	}

	a.extractor, err = extractor.New(extractor.Config{FilePrefix: cfg.Details.FileURLPrefix}, st, fetcher, logger.Named("extractor"))
	if err != nil {
		return nil, fmt.Errorf("build extractor: %w", err)
	}

	blobs, err := a.blobStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.downloader, err = downloader.New(downloader.Config{Patterns: cfg.Download.Patterns}, st, fetcher, blobs, logger.Named("downloader"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build downloader: %w", err)
	}

	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) blobStore(ctx context.Context) (downloader.BlobStore, error) {
	if a.cfg.Download.GCSBucket == "" {
		blobs, err := local.New(local.Config{BaseDir: a.cfg.Storage.OutputDir})
		if err != nil {
			return nil, fmt.Errorf("init local file storage: %w", err)
		}
		return blobs, nil
	}
	client, err := gstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("init gcs client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	blobs, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Download.GCSBucket, Prefix: a.cfg.Download.Prefix})
	if err != nil {
		return nil, fmt.Errorf("init gcs file storage: %w", err)
	}
	a.logger.Info("files will be stored in gcs", zap.String("bucket", a.cfg.Download.GCSBucket))
	return blobs, nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if !a.cfg.NotificationsEnabled() {
		a.publisher = memorypublisher.New()
		return nil
	}
	client, err := gpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client.Topic(a.cfg.PubSub.TopicName))
	a.closers = append(a.closers, func() error {
		pub.Stop()
		return client.Close()
	})
	a.publisher = pub
	a.logger.Info("walk notifications enabled", zap.String("topic", a.cfg.PubSub.TopicName))
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the session store.
func (a *App) Store() *store.Store {
	return a.store
}

// List walks the listing and, when new sessions were found, publishes the summary.
// A failed publish is logged and does not fail the walk.
func (a *App) List(ctx context.Context, relist bool) (discovery.Summary, error) {
	summary, err := a.walker.List(ctx, relist)
	if err != nil {
		return summary, fmt.Errorf("list sessions: %w", err)
	}
	if summary.NewCount > 0 && a.publisher != nil {
		id, err := a.publisher.Publish(ctx, DiscoveredEvent, summary)
		if err != nil {
			a.logger.Warn("walk notification failed", zap.String("run_id", summary.RunID), zap.Error(err))
		} else {
			a.logger.Debug("walk notification sent", zap.String("run_id", summary.RunID), zap.String("message_id", id))
		}
	}
	return summary, nil
}

// Extract attaches details to sessions that have none.
func (a *App) Extract(ctx context.Context) (extractor.Result, error) {
	res, err := a.extractor.ExtractAll(ctx)
	if err != nil {
		return res, fmt.Errorf("extract details: %w", err)
	}
	return res, nil
}

// Download fetches matching session files.
func (a *App) Download(ctx context.Context) (downloader.Result, error) {
	res, err := a.downloader.DownloadAll(ctx)
	if err != nil {
		return res, fmt.Errorf("download files: %w", err)
	}
	return res, nil
}

// Run lists, extracts and downloads in order. It stops at the first error.
func (a *App) Run(ctx context.Context, relist bool) (Report, error) {
	var report Report
	var err error
	if report.Listing, err = a.List(ctx, relist); err != nil {
		return report, err
	}
	if report.Details, err = a.Extract(ctx); err != nil {
		return report, err
	}
	if report.Download, err = a.Download(ctx); err != nil {
		return report, err
	}
	return report, nil
}

// Handler returns the read-only HTTP API over the store.
func (a *App) Handler() http.Handler {
	return api.NewServer(a.store, a.logger.Named("api")).Handler()
}

// Close releases cloud clients. It is safe to call more than once.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("closing services failed", zap.Error(err))
	}
}
