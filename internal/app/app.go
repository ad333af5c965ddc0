package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/choisimo/newsinsight-monitor/internal/cache"
	"github.com/choisimo/newsinsight-monitor/internal/common"
	"github.com/choisimo/newsinsight-monitor/internal/handlers"
	"github.com/choisimo/newsinsight-monitor/internal/httpclient"
	"github.com/choisimo/newsinsight-monitor/internal/interfaces"
	"github.com/choisimo/newsinsight-monitor/internal/jobs/monitor"
	"github.com/choisimo/newsinsight-monitor/internal/services/events"
	"github.com/choisimo/newsinsight-monitor/internal/stream"
)

// App holds all application services and handlers
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Services
	EventService interfaces.EventService
	BadgerDB     *cache.BadgerDB
	RecordCache  interfaces.RecordCache
	Backend      *httpclient.Client
	Stream       *stream.Adapter
	Monitor      *monitor.Monitor
	Refresher    *monitor.Refresher

	// Handlers
	APIHandler *handlers.APIHandler
	JobHandler *handlers.JobHandler
	SSEHandler *handlers.SSEHandler
	WSHandler  *handlers.WebSocketHandler
}

// New creates the application with all services wired together
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = common.GetLogger()
	}

	a := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := a.initServices(); err != nil {
		a.Close()
		return nil, err
	}
	a.initHandlers()

	logger.Info().
		Str("backend", cfg.Backend.BaseURL).
		Str("environment", cfg.Environment).
		Msg("Application initialized")

	return a, nil
}

func (a *App) initServices() error {
	cfg := a.Config

	a.EventService = events.NewService(a.Logger)

	db, err := cache.NewBadgerDB(a.Logger, &cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to open record cache: %w", err)
	}
	a.BadgerDB = db
	a.RecordCache = cache.NewStore(db, common.Duration(cfg.Cache.TTL, time.Hour), a.Logger)

	backendOpts := []httpclient.ClientOption{
		httpclient.WithBaseURL(cfg.Backend.BaseURL),
		httpclient.WithLogger(a.Logger),
		httpclient.WithTimeout(common.Duration(cfg.Backend.RequestTimeout, 30*time.Second)),
	}
	if interval := common.Duration(cfg.Backend.RateLimit, 0); interval > 0 {
		perSecond := int(time.Second / interval)
		if perSecond < 1 {
			perSecond = 1
		}
		backendOpts = append(backendOpts, httpclient.WithRateLimit(perSecond))
	}
	a.Backend = httpclient.NewClient(cfg.Backend.APIKey, backendOpts...)

	a.Stream = stream.NewAdapter(stream.Config{
		BaseURL:          cfg.Backend.BaseURL,
		APIKey:           cfg.Backend.APIKey,
		MaxReconnects:    cfg.Stream.MaxReconnects,
		ReconnectBackoff: common.Duration(cfg.Stream.ReconnectBackoff, stream.DefaultReconnectBackoff),
		Logger:           a.Logger,
	})

	a.Monitor = monitor.New(monitor.Options{
		Opener: monitor.OpenerFunc(func(ctx context.Context, jobID string) (monitor.StreamHandle, error) {
			return a.Stream.Open(ctx, jobID)
		}),
		API:               a.Backend,
		Events:            a.EventService,
		Cache:             a.RecordCache,
		Logger:            a.Logger,
		IdleTimeout:       common.Duration(cfg.Stream.IdleTimeout, monitor.DefaultIdleTimeout),
		RefetchOnTerminal: cfg.Monitor.RefetchOnTerminal,
	})

	a.Refresher = monitor.NewRefresher(a.Monitor, cfg.Monitor.RefreshSchedule, a.Logger)
	if err := a.Refresher.Start(); err != nil {
		return fmt.Errorf("failed to start refresher: %w", err)
	}

	return nil
}

func (a *App) initHandlers() {
	cfg := a.Config

	a.APIHandler = handlers.NewAPIHandler(a.Monitor, a.Refresher)
	a.JobHandler = handlers.NewJobHandler(a.Backend, a.Monitor, a.RecordCache)
	a.SSEHandler = handlers.NewSSEHandler(
		a.EventService,
		a.Monitor,
		common.Duration(cfg.Gateway.PingInterval, handlers.DefaultPingInterval),
	)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Monitor, &cfg.Gateway)
}

// Close shuts down all services in reverse dependency order
func (a *App) Close() {
	if a.Refresher != nil {
		a.Refresher.Stop()
	}
	if a.Monitor != nil {
		a.Monitor.Stop()
	}
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}
	// The record cache owns the badger connection and closes it
	if a.RecordCache != nil {
		if err := a.RecordCache.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close record cache")
		}
	} else if a.BadgerDB != nil {
		if err := a.BadgerDB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close cache database")
		}
	}

	a.Logger.Info().Msg("Application stopped")
}
