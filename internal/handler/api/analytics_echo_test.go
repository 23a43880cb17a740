package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"QuantCore/internal/domain/models"
	"QuantCore/internal/engine/correlation"
	"QuantCore/internal/engine/garch"
	"QuantCore/internal/engine/hmm"
	"QuantCore/internal/engine/risk"
	"QuantCore/internal/scheduler"
	svccache "QuantCore/internal/service/cache"
	"QuantCore/internal/usecase"
)

type stubReturns struct {
	series map[string]models.ReturnSeries
}

func (s *stubReturns) GetReturns(_ context.Context, subject string, _, _ time.Time) (models.ReturnSeries, error) {
	return s.get(subject)
}

func (s *stubReturns) GetLatestReturns(_ context.Context, subject string, _ int) (models.ReturnSeries, error) {
	return s.get(subject)
}

func (s *stubReturns) get(subject string) (models.ReturnSeries, error) {
	r, ok := s.series[subject]
	if !ok {
		return models.ReturnSeries{}, fmt.Errorf("%w: %s", models.ErrNoData, subject)
	}
	return r, nil
}

type stubPositions struct{}

func (stubPositions) GetPositions(context.Context, string) ([]models.Position, error) {
	return nil, nil
}

type stubSnapshots struct{}

func (stubSnapshots) SaveSnapshot(context.Context, *models.RiskSnapshot) error { return nil }
func (stubSnapshots) LatestSnapshot(_ context.Context, subject string) (*models.RiskSnapshot, error) {
	return nil, fmt.Errorf("%w: %s", models.ErrNoData, subject)
}

type stubModels struct{}

func (stubModels) InsertModel(context.Context, *models.HmmModel) error { return nil }
func (stubModels) LatestModel(_ context.Context, scope string) (*models.HmmModel, error) {
	return nil, fmt.Errorf("%w: %s", models.ErrNoData, scope)
}

func series(subject string, n int) models.ReturnSeries {
	pts := make([]models.ReturnPoint, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range pts {
		r := 0.008
		if i%2 == 0 {
			r = -0.006
		}
		if i%5 == 0 {
			r = 0.015
		}
		pts[i] = models.ReturnPoint{Date: base.AddDate(0, 0, i), Return: r}
	}
	return models.ReturnSeries{Subject: subject, Points: pts}
}

func newHandler(t *testing.T) (*AnalyticsEchoHandler, *echo.Echo) {
	t.Helper()
	agg := usecase.NewAnalytics(usecase.Deps{
		Returns: &stubReturns{series: map[string]models.ReturnSeries{
			"AAPL": series("AAPL", 120),
			"THIN": series("THIN", 19),
		}},
		Positions: stubPositions{},
		Snapshots: stubSnapshots{},
		Models:    stubModels{},
		Store:     svccache.NewStore(),
		Risk:      risk.New(),
		Corr:      correlation.New(),
		Garch:     garch.New(),
		Trainer:   hmm.NewTrainer(),
		Inferrer:  hmm.NewInferrer(),
	}, usecase.Config{})

	h := NewAnalyticsEchoHandler(nil, agg, scheduler.New())
	e := echo.New()
	h.RegisterRoutes(e)
	return h, e
}

func doGet(e *echo.Echo, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRiskEndpointOK(t *testing.T) {
	_, e := newHandler(t)

	rec := doGet(e, "/api/risk?subject=AAPL&days=90")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Data struct {
			Data models.RiskSnapshot `json:"data"`
			Meta usecase.Meta        `json:"meta"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Data.Subject != "AAPL" {
		t.Fatalf("unexpected subject %q", body.Data.Data.Subject)
	}
	if body.Data.Meta.Status != models.StatusFresh {
		t.Fatalf("expected fresh meta, got %+v", body.Data.Meta)
	}
}

func TestRiskEndpointMissingSubjectIs400(t *testing.T) {
	_, e := newHandler(t)

	rec := doGet(e, "/api/risk")
	if rec.Code != http.StatusOK {
		t.Fatalf("envelope status %d", rec.Code)
	}
	var body struct {
		Status int `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 envelope, got %d: %s", body.Status, rec.Body.String())
	}
}

func TestRiskEndpointInsufficientDataIs422(t *testing.T) {
	_, e := newHandler(t)

	rec := doGet(e, "/api/risk?subject=THIN&days=90")
	var body struct {
		Status int `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 envelope, got %d: %s", body.Status, rec.Body.String())
	}
}

func TestRiskEndpointUnknownSubjectIs404(t *testing.T) {
	_, e := newHandler(t)

	rec := doGet(e, "/api/risk?subject=NOPE&days=90")
	var body struct {
		Status int `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != http.StatusNotFound {
		t.Fatalf("expected 404 envelope, got %d: %s", body.Status, rec.Body.String())
	}
}

func TestJobsEndpoint(t *testing.T) {
	_, e := newHandler(t)

	rec := doGet(e, "/api/jobs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}
