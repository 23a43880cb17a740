package di

import (
	"context"
	"fmt"
	"time"

	domrepo "QuantCore/internal/domain/repository"
	"QuantCore/internal/engine/correlation"
	"QuantCore/internal/engine/garch"
	"QuantCore/internal/engine/hmm"
	"QuantCore/internal/engine/risk"
	"QuantCore/internal/handler/api"
	internalrepo "QuantCore/internal/repository"
	"QuantCore/internal/scheduler"
	svccache "QuantCore/internal/service/cache"
	"QuantCore/internal/service/provider"
	"QuantCore/internal/service/quotes"
	"QuantCore/internal/usecase"
	pkgcache "QuantCore/pkg/cache"
	pkgch "QuantCore/pkg/clickhouse"
	"QuantCore/pkg/config"
	pkgkafka "QuantCore/pkg/kafka"
	applogger "QuantCore/pkg/logger"
	"QuantCore/pkg/metrics"
	"QuantCore/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	format := "json"
	if cfg.Environment == "development" {
		format = "console"
	}
	return applogger.New(&applogger.Config{Level: "info", Format: format, Output: "stdout"})
}

// ProvideClickHouseClient creates a ClickHouse client and ensures the schema.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	// Initialize schema
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS quantcore",
		"CREATE TABLE IF NOT EXISTS quantcore.daily_returns (subject String, date Date, ret Float64) ENGINE=ReplacingMergeTree ORDER BY (subject, date)",
		"CREATE TABLE IF NOT EXISTS quantcore.positions (portfolio String, ticker String, weight Float64) ENGINE=ReplacingMergeTree ORDER BY (portfolio, ticker)",
		"CREATE TABLE IF NOT EXISTS quantcore.risk_snapshots (subject String, date Date, observations UInt32, volatility Float64, max_drawdown Float64, beta Float64, sharpe Float64, var_95 Float64, var_99 Float64, es_95 Float64, es_99 Float64) ENGINE=ReplacingMergeTree ORDER BY (subject, date)",
		"CREATE TABLE IF NOT EXISTS quantcore.hmm_models (scope String, states String, transition String, emission String, discretization String, window_days UInt32, accuracy Float64, log_likelihood Float64, iterations UInt32, trained_at DateTime) ENGINE=MergeTree ORDER BY (scope, trained_at)",
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideRedisLocker creates the optional Redis-backed distributed locker.
// Returns nil when Redis is disabled; the cache store then coordinates
// in-process only.
func ProvideRedisLocker(cfg *config.Config) (pkgcache.Service, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	r, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return r, nil
}

// ProvideEventPublisher creates the Kafka event publisher. Returns nil when
// Kafka is disabled; refresh and job events are then skipped.
func ProvideEventPublisher(cfg *config.Config, log *applogger.Logger) (domrepo.EventPublisher, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.BatchTimeout),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	// Error-log bursts are aggregated onto the same producer.
	if cfg.Kafka.LogTopic != "" {
		log.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.LogTopic,
			Publisher:      producer,
		})
	}

	pub := internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.RefreshTopic, cfg.Kafka.JobTopic)
	pub.SetLogger(log)
	return pub, nil
}

// ProvideFailureTracker creates the provider failure tracker.
func ProvideFailureTracker(cfg *config.Config, m domrepo.Metrics, log *applogger.Logger) *provider.Tracker {
	opts := []provider.Option{
		provider.WithMetrics(m),
		provider.WithLogger(log),
	}
	if cfg.Provider.BaseDelay > 0 {
		opts = append(opts, provider.WithDelays(cfg.Provider.BaseDelay, cfg.Provider.MaxDelay, cfg.Provider.NotFoundDelay))
	}
	return provider.NewTracker(opts...)
}

// ProvideQuoteFetcher creates the gated upstream quote client. Returns nil
// when no provider is configured; analytics then serve from storage only.
func ProvideQuoteFetcher(cfg *config.Config, tracker *provider.Tracker, log *applogger.Logger) usecase.QuoteFetcher {
	if cfg.Provider.BaseURL == "" {
		return nil
	}
	timeout := cfg.Provider.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return quotes.New(cfg.Provider.BaseURL, cfg.Provider.APIKey, timeout, tracker, log)
}

// ProvideCacheStore creates the coordination store.
func ProvideCacheStore(cfg *config.Config, locker pkgcache.Service, m domrepo.Metrics, log *applogger.Logger) *svccache.Store {
	opts := []svccache.Option{
		svccache.WithMetrics(m),
		svccache.WithLogger(log),
	}
	if cfg.Cache.LeaseTTL > 0 {
		opts = append(opts, svccache.WithLeaseTTL(cfg.Cache.LeaseTTL))
	}
	if cfg.Cache.WaitTimeout > 0 {
		opts = append(opts, svccache.WithWaitTimeout(cfg.Cache.WaitTimeout))
	}
	if cfg.Cache.BackoffBase > 0 {
		opts = append(opts, svccache.WithBackoff(cfg.Cache.BackoffBase, cfg.Cache.BackoffMax, cfg.Cache.BackoffCap))
	}
	if cfg.Cache.FailClosed {
		opts = append(opts, svccache.WithFailClosed())
	}
	if locker != nil {
		opts = append(opts, svccache.WithLocker(locker))
	}
	return svccache.NewStore(opts...)
}

// ProvideAnalytics assembles the analytics aggregator over the ClickHouse
// stores and the pure engines.
func ProvideAnalytics(
	cfg *config.Config,
	chClient *pkgch.Client,
	store *svccache.Store,
	fetcher usecase.QuoteFetcher,
	events domrepo.EventPublisher,
	log *applogger.Logger,
) *usecase.Analytics {
	returns := internalrepo.NewCHReturnStore(chClient)
	returns.SetLogger(log)
	positions := internalrepo.NewCHPositionStore(chClient)
	positions.SetLogger(log)
	snapshots := internalrepo.NewCHSnapshotStore(chClient)
	snapshots.SetLogger(log)
	modelStore := internalrepo.NewCHModelStore(chClient)
	modelStore.SetLogger(log)

	return usecase.NewAnalytics(usecase.Deps{
		Returns:   returns,
		Positions: positions,
		Snapshots: snapshots,
		Models:    modelStore,
		Store:     store,
		Risk:      risk.New(),
		Corr:      correlation.New(),
		Garch:     garch.New(),
		Trainer:   hmm.NewTrainer(),
		Inferrer:  hmm.NewInferrer(),
		Quotes:    fetcher,
		Events:    events,
		Logger:    log,
	}, usecase.Config{
		RiskTTL:           cfg.Cache.TTL.Risk,
		CorrTTL:           cfg.Cache.TTL.Correlation,
		VolTTL:            cfg.Cache.TTL.VolForecast,
		RegimeTTL:         cfg.Cache.TTL.Regime,
		GarchLookbackDays: cfg.Analytics.GarchLookbackDays,
		RegimeScope:       cfg.Analytics.RegimeScope,
		RegimeProxy:       cfg.Analytics.RegimeProxy,
		RegimeWindowDays:  cfg.Analytics.RegimeWindowDays,
		WarmSubjects:      cfg.Analytics.WarmSubjects,
		WarmPortfolios:    cfg.Analytics.WarmPortfolios,
		WarmTickers:       cfg.Analytics.WarmTickers,
	})
}

// ProvideScheduler registers the configured jobs against the analytics
// aggregator and the failure tracker.
func ProvideScheduler(
	cfg *config.Config,
	agg *usecase.Analytics,
	tracker *provider.Tracker,
	m domrepo.Metrics,
	events domrepo.EventPublisher,
	log *applogger.Logger,
) (*scheduler.Scheduler, error) {
	opts := []scheduler.Option{
		scheduler.WithMetrics(m),
		scheduler.WithLogger(log),
	}
	if events != nil {
		opts = append(opts, scheduler.WithEvents(events))
	}
	sched := scheduler.New(opts...)

	runners := map[string]scheduler.JobFunc{
		"warm_risk_caches":         agg.WarmRiskCaches,
		"warm_correlations":        agg.WarmCorrelations,
		"generate_vol_forecasts":   agg.GenerateVolForecasts,
		"generate_regime_forecast": agg.GenerateRegimeForecast,
		"train_hmm_model": func(ctx context.Context) error {
			_, err := agg.TrainRegimeModel(ctx)
			return err
		},
		"sweep_failure_records": func(ctx context.Context) error {
			tracker.Sweep()
			return nil
		},
	}

	for _, jc := range cfg.Jobs {
		run, ok := runners[jc.Name]
		if !ok {
			return nil, fmt.Errorf("unknown job %q in config", jc.Name)
		}
		if err := sched.Register(scheduler.JobSpec{
			Name:        jc.Name,
			Schedule:    jc.Schedule,
			Enabled:     jc.Enabled,
			MaxDuration: jc.MaxDuration,
			Run:         run,
		}); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// ProvideHandler creates the Echo HTTP handler.
func ProvideHandler(log *applogger.Logger, agg *usecase.Analytics, sched *scheduler.Scheduler) *api.AnalyticsEchoHandler {
	return api.NewAnalyticsEchoHandler(log, agg, sched)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	handler *api.AnalyticsEchoHandler,
	sched *scheduler.Scheduler,
	tracker *provider.Tracker,
	chClient *pkgch.Client,
	events domrepo.EventPublisher,
	log *applogger.Logger,
) *server.App {
	app := server.New(cfg, handler, sched, tracker, chClient, log)
	if events != nil {
		app.AddCloser(events)
	}
	return app
}
