package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"QuantCore/internal/domain/models"
	"QuantCore/internal/engine/correlation"
	"QuantCore/internal/engine/garch"
	"QuantCore/internal/engine/hmm"
	"QuantCore/internal/engine/risk"
	svccache "QuantCore/internal/service/cache"
)

type fakeReturnStore struct {
	series map[string]models.ReturnSeries
	calls  int
}

func (f *fakeReturnStore) GetReturns(_ context.Context, subject string, _, _ time.Time) (models.ReturnSeries, error) {
	return f.get(subject)
}

func (f *fakeReturnStore) GetLatestReturns(_ context.Context, subject string, _ int) (models.ReturnSeries, error) {
	return f.get(subject)
}

func (f *fakeReturnStore) get(subject string) (models.ReturnSeries, error) {
	f.calls++
	s, ok := f.series[subject]
	if !ok {
		return models.ReturnSeries{}, fmt.Errorf("%w: %s", models.ErrNoData, subject)
	}
	return s, nil
}

type fakePositionStore struct {
	positions map[string][]models.Position
}

func (f *fakePositionStore) GetPositions(_ context.Context, portfolio string) ([]models.Position, error) {
	return f.positions[portfolio], nil
}

type fakeSnapshotStore struct {
	saved  []*models.RiskSnapshot
	latest map[string]*models.RiskSnapshot
}

func (f *fakeSnapshotStore) SaveSnapshot(_ context.Context, s *models.RiskSnapshot) error {
	f.saved = append(f.saved, s)
	return nil
}

func (f *fakeSnapshotStore) LatestSnapshot(_ context.Context, subject string) (*models.RiskSnapshot, error) {
	if s, ok := f.latest[subject]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", models.ErrNoData, subject)
}

type fakeModelStore struct {
	models []*models.HmmModel
}

func (f *fakeModelStore) InsertModel(_ context.Context, m *models.HmmModel) error {
	if err := m.Validate(); err != nil {
		return err
	}
	f.models = append(f.models, m)
	return nil
}

func (f *fakeModelStore) LatestModel(_ context.Context, scope string) (*models.HmmModel, error) {
	if len(f.models) == 0 {
		return nil, fmt.Errorf("%w: no model for %s", models.ErrNoData, scope)
	}
	return f.models[len(f.models)-1], nil
}

type fakeQuotes struct {
	points map[string][]models.ReturnPoint
	calls  int
}

func (f *fakeQuotes) FetchReturns(_ context.Context, ticker string, _ int) ([]models.ReturnPoint, error) {
	f.calls++
	p, ok := f.points[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: %s not found upstream", models.ErrUpstreamUnavailable, ticker)
	}
	return p, nil
}

func synthSeries(subject string, n int, amp float64) models.ReturnSeries {
	pts := make([]models.ReturnPoint, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range pts {
		r := amp * 0.01
		if i%3 == 0 {
			r = -amp * 0.012
		}
		if i%7 == 0 {
			r = amp * 0.02
		}
		pts[i] = models.ReturnPoint{Date: base.AddDate(0, 0, i), Return: r}
	}
	return models.ReturnSeries{Subject: subject, Points: pts}
}

func newTestAnalytics(t *testing.T, rs *fakeReturnStore, ps *fakePositionStore, qs QuoteFetcher) (*Analytics, *fakeSnapshotStore, *fakeModelStore) {
	t.Helper()
	snaps := &fakeSnapshotStore{}
	ms := &fakeModelStore{}
	a := NewAnalytics(Deps{
		Returns:   rs,
		Positions: ps,
		Snapshots: snaps,
		Models:    ms,
		Store:     svccache.NewStore(),
		Risk:      risk.New(),
		Corr:      correlation.New(),
		Garch:     garch.New(),
		Trainer:   hmm.NewTrainer(),
		Inferrer:  hmm.NewInferrer(),
		Quotes:    qs,
	}, Config{})
	return a, snaps, ms
}

func TestGetRiskComputesAndPersists(t *testing.T) {
	rs := &fakeReturnStore{series: map[string]models.ReturnSeries{
		"AAPL": synthSeries("AAPL", 120, 1.0),
	}}
	a, snaps, _ := newTestAnalytics(t, rs, &fakePositionStore{}, nil)

	snap, m, err := a.GetRisk(context.Background(), models.RiskRequest{Subject: "AAPL", Days: 90})
	if err != nil {
		t.Fatalf("GetRisk: %v", err)
	}
	if snap.Subject != "AAPL" || snap.Observations != 120 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Volatility <= 0 {
		t.Fatalf("volatility not positive: %f", snap.Volatility)
	}
	if m.Status != models.StatusFresh || m.Stale {
		t.Fatalf("expected fresh result, got %+v", m)
	}
	if len(snaps.saved) != 1 {
		t.Fatalf("expected 1 persisted snapshot, got %d", len(snaps.saved))
	}
}

func TestGetRiskSecondCallServesCache(t *testing.T) {
	rs := &fakeReturnStore{series: map[string]models.ReturnSeries{
		"AAPL": synthSeries("AAPL", 120, 1.0),
	}}
	a, _, _ := newTestAnalytics(t, rs, &fakePositionStore{}, nil)

	if _, _, err := a.GetRisk(context.Background(), models.RiskRequest{Subject: "AAPL", Days: 90}); err != nil {
		t.Fatalf("first GetRisk: %v", err)
	}
	loads := rs.calls
	if _, _, err := a.GetRisk(context.Background(), models.RiskRequest{Subject: "AAPL", Days: 90}); err != nil {
		t.Fatalf("second GetRisk: %v", err)
	}
	if rs.calls != loads {
		t.Fatalf("second call hit the store: %d -> %d loads", loads, rs.calls)
	}
}

func TestGetRiskInsufficientData(t *testing.T) {
	rs := &fakeReturnStore{series: map[string]models.ReturnSeries{
		"THIN": synthSeries("THIN", 19, 1.0),
	}}
	a, _, _ := newTestAnalytics(t, rs, &fakePositionStore{}, nil)

	_, _, err := a.GetRisk(context.Background(), models.RiskRequest{Subject: "THIN", Days: 90})
	if !errors.Is(err, models.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestGetRiskBenchmarkMissingKeepsBetaNil(t *testing.T) {
	rs := &fakeReturnStore{series: map[string]models.ReturnSeries{
		"AAPL": synthSeries("AAPL", 120, 1.0),
	}}
	a, _, _ := newTestAnalytics(t, rs, &fakePositionStore{}, nil)

	snap, _, err := a.GetRisk(context.Background(), models.RiskRequest{Subject: "AAPL", Days: 90, Benchmark: "NOPE"})
	if err != nil {
		t.Fatalf("GetRisk: %v", err)
	}
	if snap.Beta != nil {
		t.Fatalf("beta should be nil without benchmark data, got %f", *snap.Beta)
	}
}

func TestGetRiskProviderFallback(t *testing.T) {
	rs := &fakeReturnStore{series: map[string]models.ReturnSeries{}}
	qs := &fakeQuotes{points: map[string][]models.ReturnPoint{
		"NEW": synthSeries("NEW", 120, 1.0).Points,
	}}
	a, _, _ := newTestAnalytics(t, rs, &fakePositionStore{}, qs)

	snap, _, err := a.GetRisk(context.Background(), models.RiskRequest{Subject: "NEW", Days: 90})
	if err != nil {
		t.Fatalf("GetRisk with fallback: %v", err)
	}
	if qs.calls == 0 {
		t.Fatal("provider was never consulted")
	}
	if snap.Observations != 120 {
		t.Fatalf("expected 120 observations from provider, got %d", snap.Observations)
	}
}

func TestGetRiskServesPersistedSnapshotWhenDataGone(t *testing.T) {
	rs := &fakeReturnStore{series: map[string]models.ReturnSeries{}}
	a, snaps, _ := newTestAnalytics(t, rs, &fakePositionStore{}, nil)

	// No live series anywhere, but a snapshot survived an earlier run.
	snaps.latest = map[string]*models.RiskSnapshot{
		"GONE": {
			Subject:      "GONE",
			Date:         time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
			Observations: 90,
			Volatility:   0.22,
			MaxDrawdown:  -0.31,
			Sharpe:       0.8,
			VaR95:        0.021, VaR99: 0.034,
			ES95: 0.028, ES99: 0.041,
		},
	}

	snap, m, err := a.GetRisk(context.Background(), models.RiskRequest{Subject: "GONE", Days: 90})
	if err != nil {
		t.Fatalf("GetRisk should fall back to the persisted snapshot: %v", err)
	}
	if snap.Volatility != 0.22 || snap.Observations != 90 {
		t.Fatalf("unexpected snapshot served: %+v", snap)
	}
	if m.Status != models.StatusFresh {
		t.Fatalf("expected fresh cache status, got %+v", m)
	}

	// Without a persisted snapshot the absence still surfaces.
	if _, _, err := a.GetRisk(context.Background(), models.RiskRequest{Subject: "NEVER", Days: 90}); !errors.Is(err, models.ErrNoData) {
		t.Fatalf("expected ErrNoData without snapshot, got %v", err)
	}
}

func TestGetCorrelationsSinglePosition(t *testing.T) {
	rs := &fakeReturnStore{series: map[string]models.ReturnSeries{
		"ONLY": synthSeries("ONLY", 120, 1.0),
	}}
	ps := &fakePositionStore{positions: map[string][]models.Position{
		"solo": {{Portfolio: "solo", Ticker: "ONLY", Weight: 1.0}},
	}}
	a, _, _ := newTestAnalytics(t, rs, ps, nil)

	m, _, err := a.GetCorrelations(context.Background(), models.CorrelationsRequest{Portfolio: "solo", Days: 90})
	if err != nil {
		t.Fatalf("GetCorrelations: %v", err)
	}
	if len(m.Tickers) != 1 || len(m.Pairs) != 0 {
		t.Fatalf("single position should give 1 ticker / 0 pairs, got %d/%d", len(m.Tickers), len(m.Pairs))
	}
}

func TestGetCorrelationsSkipsMissingTickers(t *testing.T) {
	rs := &fakeReturnStore{series: map[string]models.ReturnSeries{
		"A": synthSeries("A", 120, 1.0),
		"B": synthSeries("B", 120, 1.4),
	}}
	ps := &fakePositionStore{positions: map[string][]models.Position{
		"mix": {
			{Portfolio: "mix", Ticker: "A", Weight: 0.5},
			{Portfolio: "mix", Ticker: "B", Weight: 0.3},
			{Portfolio: "mix", Ticker: "GONE", Weight: 0.2},
		},
	}}
	a, _, _ := newTestAnalytics(t, rs, ps, nil)

	m, _, err := a.GetCorrelations(context.Background(), models.CorrelationsRequest{Portfolio: "mix", Days: 90})
	if err != nil {
		t.Fatalf("GetCorrelations: %v", err)
	}
	if len(m.Tickers) != 2 {
		t.Fatalf("expected 2 tickers after skipping missing, got %v", m.Tickers)
	}
	for _, p := range m.Pairs {
		if p.A == "GONE" || p.B == "GONE" {
			t.Fatalf("missing ticker leaked into pairs: %+v", p)
		}
	}
}

func TestGetVolatilityForecast(t *testing.T) {
	rs := &fakeReturnStore{series: map[string]models.ReturnSeries{
		"VOL": synthSeries("VOL", 600, 1.0),
	}}
	a, _, _ := newTestAnalytics(t, rs, &fakePositionStore{}, nil)

	f, m, err := a.GetVolatilityForecast(context.Background(), models.VolForecastRequest{Ticker: "VOL", Horizon: 10, Confidence: 0.95})
	if err != nil {
		t.Fatalf("GetVolatilityForecast: %v", err)
	}
	if len(f.Path) != 10 {
		t.Fatalf("expected 10 forecast points, got %d", len(f.Path))
	}
	if m.Status != models.StatusFresh {
		t.Fatalf("expected fresh, got %s", m.Status)
	}
}

func TestGetRegimeForecastTrainsOnDemand(t *testing.T) {
	rs := &fakeReturnStore{series: map[string]models.ReturnSeries{
		"SPY": synthSeries("SPY", 800, 1.0),
	}}
	a, _, ms := newTestAnalytics(t, rs, &fakePositionStore{}, nil)

	f, _, err := a.GetRegimeForecast(context.Background(), models.RegimeForecastRequest{Horizon: 5})
	if err != nil {
		t.Fatalf("GetRegimeForecast: %v", err)
	}
	if len(ms.models) != 1 {
		t.Fatalf("expected on-demand training to persist 1 model, got %d", len(ms.models))
	}
	if err := models.ValidateDistribution(f.Probabilities); err != nil {
		t.Fatalf("forecast distribution invalid: %v", err)
	}
	if f.Horizon != 5 {
		t.Fatalf("horizon mismatch: %d", f.Horizon)
	}
}

func TestWarmRiskCachesReportsFirstError(t *testing.T) {
	rs := &fakeReturnStore{series: map[string]models.ReturnSeries{
		"OK": synthSeries("OK", 120, 1.0),
	}}
	snaps := &fakeSnapshotStore{}
	a := NewAnalytics(Deps{
		Returns:   rs,
		Positions: &fakePositionStore{},
		Snapshots: snaps,
		Models:    &fakeModelStore{},
		Store:     svccache.NewStore(),
		Risk:      risk.New(),
		Corr:      correlation.New(),
		Garch:     garch.New(),
		Trainer:   hmm.NewTrainer(),
		Inferrer:  hmm.NewInferrer(),
	}, Config{WarmSubjects: []string{"OK", "MISSING"}})

	err := a.WarmRiskCaches(context.Background())
	if err == nil {
		t.Fatal("expected error from missing subject")
	}
	if len(snaps.saved) != 1 {
		t.Fatalf("warm should still have computed OK: %d snapshots", len(snaps.saved))
	}
}
