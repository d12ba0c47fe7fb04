// Package watcher wires the ingestion engine into a feature: it polls
// marketplace searches per topic and notifies only about new listings.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-watch/internal/core"
	"market-watch/internal/features/watcher/egress"
	"market-watch/internal/features/watcher/handlers"
	"market-watch/internal/features/watcher/journal"
	"market-watch/internal/features/watcher/migrations"
	"market-watch/internal/features/watcher/models"
	"market-watch/internal/features/watcher/notifier"
	"market-watch/internal/features/watcher/parser"
	"market-watch/internal/features/watcher/services"
	"market-watch/internal/features/watcher/watermark"
	"market-watch/internal/ingest"
	"market-watch/internal/services/mailer"
)

// Feature represents the marketplace watcher feature
type Feature struct {
	*core.BaseFeature
	config           *Config
	topics           []models.Topic
	migrationMgr     *migrations.Manager
	store            *watermark.FileStore
	egressManager    *egress.Manager
	fetcherService   *services.FetcherService
	schedulerService *services.SchedulerService
	journal          *journal.Store
	handlers         *handlers.Handlers
}

// NewFeature builds every collaborator. Any error it returns is a fatal
// initialisation error: the process cannot poll without them.
func NewFeature(logger *core.Logger, db *core.Database, config *Config) (*Feature, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	topics, err := ingest.Resolve(config.Watcher.TopicsFile, config.Watcher.Keywords, config.Watcher.SearchURLs)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(config.Watcher.Timezone)
	if err != nil {
		return nil, core.NewFatalInitError("failed to load timezone", err)
	}

	store, err := watermark.Open(config.Watcher.StatePath, loc, logger.ForFeature("watermark"))
	if err != nil {
		return nil, core.NewFatalInitError("failed to open watermark store", err)
	}

	var pool egress.Pool = egress.DirectPool{}
	if len(config.Egress.Proxies) > 0 {
		static, err := egress.NewStaticPool(config.Egress.Proxies)
		if err != nil {
			return nil, core.NewFatalInitError("invalid egress proxy pool", err)
		}
		pool = static
	}
	prober := egress.HTTPProber{URL: config.Egress.ProbeURL, UserAgent: config.Watcher.UserAgent}
	egressManager, err := egress.NewManager(egress.Config{
		AllowedRegions:   config.Egress.AllowedRegions,
		AttemptsPerRound: config.Egress.AttemptsPerRound,
		RoundBackoff:     config.Egress.RoundBackoff,
		ProbeTimeout:     config.Egress.ProbeTimeout,
		WorkspaceRoot:    config.Egress.WorkspaceRoot,
	}, pool, prober, logger.ForFeature("egress"))
	if err != nil {
		return nil, err
	}

	notifiers := notifier.NewMulti(logger.ForFeature("notifier"))
	if config.Notify.TelegramToken != "" {
		notifiers.Add("telegram", notifier.NewTelegram(notifier.TelegramConfig{
			APIBase:  config.Notify.TelegramAPI,
			Token:    config.Notify.TelegramToken,
			ChatID:   config.Notify.TelegramChatID,
			Interval: config.Notify.Interval,
			Timeout:  15 * time.Second,
		}, logger.ForFeature("telegram")))
	}
	if config.Notify.SMTP2GOAPIKey != "" {
		m := mailer.New(config.Notify.SMTP2GOAPIKey, config.Notify.SMTP2GOSender)
		notifiers.Add("email", notifier.NewEmail(m, config.Notify.AlertRecipient))
	}
	if notifiers.Len() == 0 {
		egressManager.Close()
		return nil, core.NewFatalInitError("no notifier configured", nil)
	}

	journalStore := journal.NewStore(db, logger.ForFeature("journal"))
	fetcherService := services.NewFetcherService(logger.ForFeature("fetcher"), config.FetcherConfig())
	schedulerService := services.NewSchedulerService(
		topics,
		egressManager,
		fetcherService,
		parser.New(loc, nil),
		store,
		notifiers,
		journalStore,
		logger.ForFeature("scheduler"),
		config.SchedulerConfig(),
	)

	return &Feature{
		BaseFeature:      core.NewBaseFeature("watcher", "Marketplace listing watcher", config.Enabled, logger),
		config:           config,
		topics:           topics,
		migrationMgr:     migrations.NewManager(db, logger.ForFeature("migrations")),
		store:            store,
		egressManager:    egressManager,
		fetcherService:   fetcherService,
		schedulerService: schedulerService,
		journal:          journalStore,
		handlers:         handlers.NewHandlers(logger.ForFeature("watcher"), schedulerService, journalStore),
	}, nil
}

// Init runs migrations and starts polling
func (f *Feature) Init(ctx context.Context) error {
	if err := f.BaseFeature.Init(ctx); err != nil {
		return err
	}

	if err := f.migrationMgr.Migrate(ctx); err != nil {
		return core.NewFatalInitError("failed to migrate watcher database", err)
	}

	if err := f.schedulerService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start poll scheduler: %w", err)
	}

	f.Logger().Info("Watcher feature initialized", "topics", len(f.topics), "regions", f.config.Egress.AllowedRegions)
	return nil
}

// Routes returns the HTTP routes for the watcher feature
func (f *Feature) Routes() []core.Route {
	return []core.Route{
		{Method: "GET", Path: "/watcher/topics", Handler: f.handlers.ListTopics},
		{Method: "GET", Path: "/watcher/topics/{id}", Handler: f.handlers.GetTopic},
		{Method: "GET", Path: "/watcher/deliveries", Handler: f.handlers.ListDeliveries},
	}
}

// Shutdown stops polling, then destroys every egress session
func (f *Feature) Shutdown(ctx context.Context) error {
	f.Logger().Info("Shutting down watcher feature")

	var errs []error
	if err := f.schedulerService.Stop(ctx); err != nil {
		f.Logger().Error("Failed to stop poll scheduler", "error", err)
		errs = append(errs, err)
	}
	if err := f.egressManager.Close(); err != nil {
		f.Logger().Error("Failed to clean up egress sessions", "error", err)
		errs = append(errs, err)
	}
	if err := f.BaseFeature.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Topics returns the monitored topics
func (f *Feature) Topics() []models.Topic {
	return f.topics
}
