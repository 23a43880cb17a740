package quotes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"QuantCore/internal/domain/models"
	"QuantCore/pkg/util"
)

type stubTracker struct {
	attempt   bool
	failures  int
	successes int
}

func (s *stubTracker) ShouldAttempt(string) bool { return s.attempt }
func (s *stubTracker) RecordFailure(string, models.FailureKind, string) {
	s.failures++
}
func (s *stubTracker) RecordSuccess(string) { s.successes++ }

func TestFetchReturnsRequestsCalendarWindow(t *testing.T) {
	fixed := time.Date(2024, 6, 14, 15, 30, 0, 0, time.UTC)
	var gotFrom, gotTo string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFrom = r.URL.Query().Get("from")
		gotTo = r.URL.Query().Get("to")
		resp := quoteResponse{Ticker: "AAPL"}
		for i := 0; i < 5; i++ {
			resp.Bars = append(resp.Bars, struct {
				Date   string  `json:"date"`
				Return float64 `json:"return"`
			}{Date: util.FormatDay(fixed.AddDate(0, 0, i-5)), Return: 0.01})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	tr := &stubTracker{attempt: true}
	c := New(srv.URL, "test-key", time.Second, tr, nil)
	c.now = func() time.Time { return fixed }

	points, err := c.FetchReturns(context.Background(), "AAPL", 3)
	if err != nil {
		t.Fatalf("FetchReturns: %v", err)
	}

	// The window spans the trading-day count padded to calendar days.
	wantFrom := util.FormatDay(util.DaysAgo(fixed, 3*7/5+5))
	if gotFrom != wantFrom || gotTo != "2024-06-14" {
		t.Fatalf("window from=%s to=%s, want from=%s to=2024-06-14", gotFrom, gotTo, wantFrom)
	}

	// Excess bars trim to the requested count, keeping the newest.
	if len(points) != 3 {
		t.Fatalf("expected 3 points after trim, got %d", len(points))
	}
	if !points[2].Date.Equal(util.Day(fixed.AddDate(0, 0, -1))) {
		t.Fatalf("trim dropped the newest bars: last date %s", points[2].Date)
	}
	if tr.successes != 1 || tr.failures != 0 {
		t.Fatalf("tracker outcome: successes=%d failures=%d", tr.successes, tr.failures)
	}
}

func TestFetchReturnsSuppressedBeforeRequest(t *testing.T) {
	tr := &stubTracker{attempt: false}
	c := New("http://unused.invalid", "", time.Second, tr, nil)

	_, err := c.FetchReturns(context.Background(), "BANNED", 30)
	if err == nil {
		t.Fatal("expected suppression error")
	}
	if tr.failures != 0 || tr.successes != 0 {
		t.Fatalf("suppressed fetch must not record an outcome: %+v", tr)
	}
}
