package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/airquality-dashboard/internal/cache"
	"github.com/kjstillabower/airquality-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/airquality-dashboard/internal/client"
	"github.com/kjstillabower/airquality-dashboard/internal/config"
	httphandler "github.com/kjstillabower/airquality-dashboard/internal/http"
	"github.com/kjstillabower/airquality-dashboard/internal/lifecycle"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
	"github.com/kjstillabower/airquality-dashboard/internal/notify"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
	"github.com/kjstillabower/airquality-dashboard/internal/service"
	"github.com/kjstillabower/airquality-dashboard/internal/store"
)

const (
	inFlightCheckInterval = 50 * time.Millisecond
	initialWarmTimeout    = 30 * time.Second
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		Component:        "airquality_api",
		IsFailure:        client.BreakerFailurePredicate(),
		OnStateChange: func(component string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker transition",
				zap.String("component", component),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	var upstreamLimiter *rate.Limiter
	if cfg.UpstreamRPS > 0 {
		upstreamLimiter = rate.NewLimiter(rate.Limit(cfg.UpstreamRPS), cfg.UpstreamBurst)
	}
	aqClient, err := client.New(client.Options{
		BaseURL:        cfg.AirQualityAPIURL,
		Timeout:        cfg.AirQualityAPITimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		Breaker:        breaker,
		Limiter:        upstreamLimiter,
	})
	if err != nil {
		logger.Fatal("air quality client", zap.Error(err))
	}

	var caches service.Caches
	var memcache *cache.MemcachedClient
	switch cfg.CacheBackend {
	case config.CacheMemcached:
		memcache = cache.NewMemcachedClient(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		caches = service.NewMemcachedCaches(memcache, cfg.CacheStaleRetention)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		caches = service.NewInMemoryCaches(cfg.CacheStaleRetention)
		logger.Info("cache backend: in_memory")
	}
	aqService := service.NewAirQualityService(aqClient, caches, service.Options{
		TTLs: service.TTLs{
			Current:    cfg.CacheTTLs.Current,
			Forecast:   cfg.CacheTTLs.Forecast,
			Historical: cfg.CacheTTLs.Historical,
			Sensors:    cfg.CacheTTLs.Sensors,
			Map:        cfg.CacheTTLs.Map,
			Explain:    cfg.CacheTTLs.Explain,
		},
		StaleFallback:   cfg.StaleFallback,
		CoalesceTimeout: cfg.CoalesceTimeout,
		Logger:          logger,
	})

	storage, closeStorage, err := newStorage(cfg)
	if err != nil {
		logger.Fatal("state storage", zap.Error(err))
	}
	logger.Info("state storage", zap.String("backend", cfg.StorageBackend))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	locations := store.NewLocations(ctx, storage, logger)
	settings := store.NewSettings(ctx, storage, logger)
	ui := store.NewUI()

	dashboard := service.NewDashboard(aqService, locations, settings, service.DashboardOptions{
		LoadTimeout: cfg.RequestTimeout,
		Logger:      logger,
	})
	dashboard.Start(ctx)

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Fatal("notification publisher", zap.Error(err))
	}
	stopDashboard := func(context.Context) error {
		dashboard.Stop()
		return nil
	}
	if publisher != nil {
		stopDashboard = startAlertPipeline(publisher, settings, dashboard, logger)
		logger.Info("notifications enabled", zap.String("backend", publisher.Name()))
	}

	warmer := cache.NewCacheWarmer(aqService, logger)
	warmCtx, warmCancel := context.WithTimeout(ctx, initialWarmTimeout)
	if err := warmer.Warm(warmCtx, savedPoints(locations)); err != nil {
		logger.Warn("cache warming failed", zap.Error(err))
	}
	warmCancel()
	if cfg.WarmInterval > 0 {
		go func() {
			points := func() []models.Coordinates { return savedPoints(locations) }
			if err := warmer.WarmPeriodic(ctx, points, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("periodic cache warming stopped", zap.Error(err))
			}
		}()
	}

	healthConfig := &httphandler.HealthConfig{
		Policy: lifecycle.Policy{
			Window:      cfg.HealthWindow,
			ErrorPct:    cfg.DegradedErrorPct,
			MinRequests: cfg.HealthMinRequests,
		},
	}
	if memcache != nil {
		healthConfig.CachePing = memcache.Ping
	}
	handler := httphandler.NewHandler(httphandler.Deps{
		AirQuality: aqService,
		Dashboard:  dashboard,
		Locations:  locations,
		Settings:   settings,
		UI:         ui,
		Health:     healthConfig,
		Logger:     logger,
	})

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	observability.RegisterRateLimitGauges(cfg.HealthWindow)
	router := httphandler.NewRouter(handler, httphandler.RouterOptions{
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		CORSOrigins:    cfg.CORSOrigins,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := stopDashboard(shutdownCtx); err != nil {
		logger.Warn("notification dispatcher did not drain before shutdown deadline", zap.Error(err))
	}

	var closers []io.Closer
	if publisher != nil {
		closers = append(closers, publisher)
	}
	if memcache != nil {
		closers = append(closers, memcache)
	}
	if closeStorage != nil {
		closers = append(closers, closeStorage)
	}
	if err := observability.FlushTelemetry(shutdownCtx, logger, closers...); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// newStorage returns the state storage for cfg.StorageBackend and, when it holds a
// connection, the closer to release it on shutdown.
func newStorage(cfg *config.Config) (store.Storage, io.Closer, error) {
	switch cfg.StorageBackend {
	case config.StorageMemory:
		return store.NewMemoryStorage(), nil, nil
	case config.StorageMemcached:
		s := store.NewMemcachedStorage(cfg.MemcachedAddrs, cfg.MemcachedTimeout)
		return s, s, nil
	default:
		s, err := store.NewFileStorage(cfg.StorageDir)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
}

// newPublisher returns the alert publisher for cfg.NotifyBackend, or nil when notifications are off.
func newPublisher(cfg *config.Config, logger *zap.Logger) (notify.Publisher, error) {
	switch cfg.NotifyBackend {
	case config.NotifyNone:
		return nil, nil
	case config.NotifyKafka:
		return notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	case config.NotifyMQTT:
		return notify.NewMQTTPublisher(notify.MQTTOptions{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, logger)
	default:
		return notify.NewLogPublisher(logger), nil
	}
}

// savedPoints lists the coordinates of every saved location.
func savedPoints(locations *store.Locations) []models.Coordinates {
	saved := locations.Snapshot().Saved
	points := make([]models.Coordinates, 0, len(saved))
	for _, loc := range saved {
		points = append(points, loc.Coordinates())
	}
	return points
}

// startAlertPipeline runs the notification dispatcher on its own context so it keeps consuming
// after the shutdown signal. The returned stop func stops the dashboard first, so loads and
// threshold changes finishing during shutdown are queued, then drains the dispatcher.
func startAlertPipeline(publisher notify.Publisher, settings notify.ChannelSource, dashboard *service.Dashboard, logger *zap.Logger) (stop func(context.Context) error) {
	dispatcher := notify.NewDispatcher(publisher, settings, logger)
	unsubscribe := dispatcher.Attach(dashboard)
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := dispatcher.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("notification dispatcher stopped", zap.Error(err))
		}
	}()
	return func(ctx context.Context) error {
		dashboard.Stop()
		unsubscribe()
		cancel()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
