package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"QuantCore/internal/domain/models"
	domrepo "QuantCore/internal/domain/repository"
	domsvc "QuantCore/internal/domain/service"
	"QuantCore/internal/engine/correlation"
	svccache "QuantCore/internal/service/cache"
	applogger "QuantCore/pkg/logger"
)

// QuoteFetcher pulls return series from the upstream provider. The fetch
// consults the failure tracker internally; suppressed tickers surface as
// ErrUpstreamUnavailable.
type QuoteFetcher interface {
	FetchReturns(ctx context.Context, ticker string, days int) ([]models.ReturnPoint, error)
}

// Meta carries cache observability alongside a decoded artifact.
type Meta struct {
	Status      models.CacheStatus `json:"cache_status"`
	Stale       bool               `json:"stale"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Config tunes the analytics aggregator.
type Config struct {
	RiskTTL   time.Duration
	CorrTTL   time.Duration
	VolTTL    time.Duration
	RegimeTTL time.Duration

	// GarchLookbackDays is how much history a volatility fit loads.
	GarchLookbackDays int

	// RegimeScope names the market the HMM is trained for; RegimeProxy is
	// the ticker whose returns stand in for that market.
	RegimeScope      string
	RegimeProxy      string
	RegimeWindowDays int

	// Warm lists drive the scheduled cache-warming jobs.
	WarmSubjects   []string
	WarmPortfolios []string
	WarmTickers    []string
}

func (c *Config) applyDefaults() {
	if c.RiskTTL <= 0 {
		c.RiskTTL = time.Hour
	}
	if c.CorrTTL <= 0 {
		c.CorrTTL = 6 * time.Hour
	}
	if c.VolTTL <= 0 {
		c.VolTTL = time.Hour
	}
	if c.RegimeTTL <= 0 {
		c.RegimeTTL = 4 * time.Hour
	}
	if c.GarchLookbackDays <= 0 {
		c.GarchLookbackDays = 750
	}
	if c.RegimeScope == "" {
		c.RegimeScope = "us_equities"
	}
	if c.RegimeProxy == "" {
		c.RegimeProxy = "SPY"
	}
	if c.RegimeWindowDays <= 0 {
		c.RegimeWindowDays = 1260
	}
}

// Analytics aggregates the four read operations behind the coordination
// store. Every computation funnels through GetOrCompute so concurrent
// callers and scheduled warmers share one in-flight calculation per key.
type Analytics struct {
	returns   domrepo.ReturnStore
	positions domrepo.PositionStore
	snapshots domrepo.RiskSnapshotStore
	modelsCH  domrepo.HmmModelStore

	store    *svccache.Store
	risk     domsvc.RiskEngine
	corr     domsvc.CorrelationEngine
	garch    domsvc.GarchForecaster
	trainer  domsvc.RegimeTrainer
	inferrer domsvc.RegimeInferrer

	quotes QuoteFetcher            // optional upstream fallback
	events domrepo.EventPublisher // optional refresh announcements
	log    *applogger.Logger

	cfg Config
}

// Deps bundles the collaborators NewAnalytics wires together.
type Deps struct {
	Returns   domrepo.ReturnStore
	Positions domrepo.PositionStore
	Snapshots domrepo.RiskSnapshotStore
	Models    domrepo.HmmModelStore

	Store    *svccache.Store
	Risk     domsvc.RiskEngine
	Corr     domsvc.CorrelationEngine
	Garch    domsvc.GarchForecaster
	Trainer  domsvc.RegimeTrainer
	Inferrer domsvc.RegimeInferrer

	Quotes QuoteFetcher
	Events domrepo.EventPublisher
	Logger *applogger.Logger
}

func NewAnalytics(d Deps, cfg Config) *Analytics {
	cfg.applyDefaults()
	return &Analytics{
		returns:   d.Returns,
		positions: d.Positions,
		snapshots: d.Snapshots,
		modelsCH:  d.Models,
		store:     d.Store,
		risk:      d.Risk,
		corr:      d.Corr,
		garch:     d.Garch,
		trainer:   d.Trainer,
		inferrer:  d.Inferrer,
		quotes:    d.Quotes,
		events:    d.Events,
		log:       d.Logger,
		cfg:       cfg,
	}
}

// GetRisk returns the cached risk snapshot for a subject, computing it when
// missing or expired.
func (a *Analytics) GetRisk(ctx context.Context, req models.RiskRequest) (*models.RiskSnapshot, Meta, error) {
	key := svccache.RiskKey(req.Subject, req.Days, req.Benchmark)
	res, err := a.store.GetOrCompute(ctx, models.ArtifactRisk, key, a.cfg.RiskTTL, func(ctx context.Context) ([]byte, error) {
		series, err := a.loadReturns(ctx, req.Subject, req.Days)
		if err != nil {
			// Durable fail-open: a persisted snapshot outlives the
			// in-memory cache across restarts.
			if snap := a.lastPersisted(ctx, req.Subject, err); snap != nil {
				return svccache.EncodeRisk(snap)
			}
			return nil, err
		}

		var bench *models.ReturnSeries
		if req.Benchmark != "" {
			b, err := a.loadReturns(ctx, req.Benchmark, req.Days)
			switch {
			case err == nil:
				bench = &b
			case errors.Is(err, models.ErrNoData), errors.Is(err, models.ErrUpstreamUnavailable):
				// Beta stays nil; absence of a benchmark is not fatal.
				a.warn("benchmark series unavailable", req.Benchmark, err)
			default:
				return nil, err
			}
		}

		snap, err := a.risk.Compute(series, bench)
		if err != nil {
			return nil, err
		}
		a.saveSnapshot(ctx, snap)
		a.announce(ctx, models.ArtifactRisk, key)
		return svccache.EncodeRisk(snap)
	})
	if err != nil {
		return nil, meta(res), err
	}
	snap, err := svccache.DecodeRisk(res.Payload)
	return snap, meta(res), err
}

// GetCorrelations returns the cached correlation matrix for a portfolio's
// largest positions.
func (a *Analytics) GetCorrelations(ctx context.Context, req models.CorrelationsRequest) (*models.CorrelationMatrix, Meta, error) {
	key := svccache.CorrelationKey(req.Portfolio, req.Days)
	res, err := a.store.GetOrCompute(ctx, models.ArtifactCorrelation, key, a.cfg.CorrTTL, func(ctx context.Context) ([]byte, error) {
		positions, err := a.positions.GetPositions(ctx, req.Portfolio)
		if err != nil {
			return nil, err
		}
		if len(positions) == 0 {
			return nil, fmt.Errorf("%w: portfolio %s has no positions", models.ErrNoData, req.Portfolio)
		}

		// Largest by weight first; the store query orders but a stale
		// materialization must not break the cap.
		sort.SliceStable(positions, func(i, j int) bool {
			return positions[i].Weight > positions[j].Weight
		})
		if len(positions) > correlation.MaxPositions {
			positions = positions[:correlation.MaxPositions]
		}

		series := make([]models.ReturnSeries, 0, len(positions))
		for _, p := range positions {
			s, err := a.loadReturns(ctx, p.Ticker, req.Days)
			if err != nil {
				// A ticker with no history drops out of the matrix; its
				// pairs are simply absent.
				a.warn("skipping ticker without returns", p.Ticker, err)
				continue
			}
			series = append(series, s)
		}
		if len(series) == 0 {
			return nil, fmt.Errorf("%w: no return series for portfolio %s", models.ErrNoData, req.Portfolio)
		}

		m, err := a.corr.Compute(req.Portfolio, series, req.Days)
		if err != nil {
			return nil, err
		}
		a.announce(ctx, models.ArtifactCorrelation, key)
		return svccache.EncodeCorrelation(m)
	})
	if err != nil {
		return nil, meta(res), err
	}
	m, err := svccache.DecodeCorrelation(res.Payload)
	return m, meta(res), err
}

// GetVolatilityForecast returns the cached GARCH(1,1) volatility path for a
// ticker.
func (a *Analytics) GetVolatilityForecast(ctx context.Context, req models.VolForecastRequest) (*models.VolatilityForecast, Meta, error) {
	key := svccache.VolForecastKey(req.Ticker, req.Horizon, req.Confidence)
	res, err := a.store.GetOrCompute(ctx, models.ArtifactVolForecast, key, a.cfg.VolTTL, func(ctx context.Context) ([]byte, error) {
		series, err := a.loadReturns(ctx, req.Ticker, a.cfg.GarchLookbackDays)
		if err != nil {
			return nil, err
		}
		f, err := a.garch.FitAndForecast(req.Ticker, series.Values(), req.Horizon, req.Confidence)
		if err != nil {
			return nil, err
		}
		a.announce(ctx, models.ArtifactVolForecast, key)
		return svccache.EncodeVolForecast(f)
	})
	if err != nil {
		return nil, meta(res), err
	}
	f, err := svccache.DecodeVolForecast(res.Payload)
	return f, meta(res), err
}

// GetRegimeForecast returns the cached regime distribution at the horizon,
// running the forward pass against the latest trained model. When no model
// exists yet one is trained on demand.
func (a *Analytics) GetRegimeForecast(ctx context.Context, req models.RegimeForecastRequest) (*models.RegimeForecast, Meta, error) {
	key := svccache.RegimeKey(a.cfg.RegimeScope, req.Horizon)
	res, err := a.store.GetOrCompute(ctx, models.ArtifactRegime, key, a.cfg.RegimeTTL, func(ctx context.Context) ([]byte, error) {
		model, err := a.modelsCH.LatestModel(ctx, a.cfg.RegimeScope)
		if errors.Is(err, models.ErrNoData) {
			if model, err = a.TrainRegimeModel(ctx); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		}

		series, err := a.loadReturns(ctx, a.cfg.RegimeProxy, model.WindowDays)
		if err != nil {
			return nil, err
		}
		f, err := a.inferrer.Forecast(model, series.Values(), req.Horizon)
		if err != nil {
			return nil, err
		}
		a.announce(ctx, models.ArtifactRegime, key)
		return svccache.EncodeRegime(f)
	})
	if err != nil {
		return nil, meta(res), err
	}
	f, err := svccache.DecodeRegime(res.Payload)
	return f, meta(res), err
}

// TrainRegimeModel fits a fresh HMM over the market proxy's return window
// and persists it as a new append-only version.
func (a *Analytics) TrainRegimeModel(ctx context.Context) (*models.HmmModel, error) {
	series, err := a.loadReturns(ctx, a.cfg.RegimeProxy, a.cfg.RegimeWindowDays)
	if err != nil {
		return nil, err
	}
	m, err := a.trainer.Train(a.cfg.RegimeScope, series.Values(), a.cfg.RegimeWindowDays)
	if err != nil {
		return nil, err
	}
	if err := a.modelsCH.InsertModel(ctx, m); err != nil {
		return nil, err
	}
	if a.log != nil {
		a.log.Info("regime model trained",
			applogger.String("scope", m.Scope),
			applogger.Int("iterations", m.Iterations),
			applogger.Any("accuracy", m.Accuracy),
		)
	}
	return m, nil
}

// WarmRiskCaches precomputes risk snapshots for the configured subjects.
func (a *Analytics) WarmRiskCaches(ctx context.Context) error {
	var firstErr error
	for _, subject := range a.cfg.WarmSubjects {
		req := models.RiskRequest{Subject: subject, Days: 90}
		if _, _, err := a.GetRisk(ctx, req); err != nil {
			a.warn("risk warm failed", subject, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return firstErr
}

// WarmCorrelations precomputes correlation matrices for the configured
// portfolios.
func (a *Analytics) WarmCorrelations(ctx context.Context) error {
	var firstErr error
	for _, portfolio := range a.cfg.WarmPortfolios {
		req := models.CorrelationsRequest{Portfolio: portfolio, Days: 90}
		if _, _, err := a.GetCorrelations(ctx, req); err != nil {
			a.warn("correlation warm failed", portfolio, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return firstErr
}

// GenerateVolForecasts precomputes volatility forecasts for the configured
// tickers at the default request shape.
func (a *Analytics) GenerateVolForecasts(ctx context.Context) error {
	var firstErr error
	for _, ticker := range a.cfg.WarmTickers {
		req := models.VolForecastRequest{Ticker: ticker, Horizon: 10, Confidence: 0.95}
		if _, _, err := a.GetVolatilityForecast(ctx, req); err != nil {
			a.warn("vol forecast warm failed", ticker, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return firstErr
}

// GenerateRegimeForecast precomputes the default-horizon regime forecast.
func (a *Analytics) GenerateRegimeForecast(ctx context.Context) error {
	_, _, err := a.GetRegimeForecast(ctx, models.RegimeForecastRequest{Horizon: 5})
	return err
}

// loadReturns reads the latest n daily returns from storage, falling back
// to the upstream provider when the store has nothing for the subject.
func (a *Analytics) loadReturns(ctx context.Context, subject string, n int) (models.ReturnSeries, error) {
	series, err := a.returns.GetLatestReturns(ctx, subject, n)
	if err == nil {
		return series, nil
	}
	if !errors.Is(err, models.ErrNoData) || a.quotes == nil {
		return models.ReturnSeries{}, err
	}

	points, ferr := a.quotes.FetchReturns(ctx, subject, n)
	if ferr != nil {
		return models.ReturnSeries{}, fmt.Errorf("%w (provider fallback: %v)", err, ferr)
	}
	return models.ReturnSeries{Subject: subject, Points: points}, nil
}

// lastPersisted reads back the newest stored snapshot for a subject whose
// live series data is unavailable. Only data-absence errors qualify;
// anything else still aborts the computation.
func (a *Analytics) lastPersisted(ctx context.Context, subject string, cause error) *models.RiskSnapshot {
	if a.snapshots == nil {
		return nil
	}
	if !errors.Is(cause, models.ErrNoData) && !errors.Is(cause, models.ErrUpstreamUnavailable) {
		return nil
	}
	snap, err := a.snapshots.LatestSnapshot(ctx, subject)
	if err != nil {
		return nil
	}
	a.warn("serving last persisted risk snapshot", subject, cause)
	return snap
}

func (a *Analytics) saveSnapshot(ctx context.Context, snap *models.RiskSnapshot) {
	if a.snapshots == nil {
		return
	}
	if err := a.snapshots.SaveSnapshot(ctx, snap); err != nil {
		// Persistence is best-effort; the cache payload is authoritative
		// for serving.
		a.warn("snapshot persist failed", snap.Subject, err)
	}
}

func (a *Analytics) announce(ctx context.Context, kind models.ArtifactKind, key string) {
	if a.events == nil {
		return
	}
	if err := a.events.PublishRefresh(ctx, kind, key, time.Now()); err != nil {
		a.warn("refresh event publish failed", key, err)
	}
}

func (a *Analytics) warn(msg, subject string, err error) {
	if a.log != nil {
		a.log.Warn(msg,
			applogger.String("subject", subject),
			applogger.Error(err),
		)
	}
}

func meta(res svccache.Result) Meta {
	return Meta{Status: res.Status, Stale: res.Stale, GeneratedAt: res.GeneratedAt}
}
