package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"QuantCore/internal/domain/models"
	xhttp "QuantCore/pkg/http"
	"QuantCore/pkg/logger"
	"QuantCore/pkg/util"
)

// FailureTracker is the gate consulted before any external fetch.
type FailureTracker interface {
	ShouldAttempt(ticker string) bool
	RecordFailure(ticker string, kind models.FailureKind, msg string)
	RecordSuccess(ticker string)
}

// Client fetches historical daily returns from the external price
// provider. Every call goes through the failure tracker: suppressed
// tickers fail fast with ErrUpstreamUnavailable instead of hammering a
// dependency that is already struggling.
type Client struct {
	baseURL string
	apiKey  string
	http    *xhttp.Client
	tracker FailureTracker
	log     *logger.Logger
	now     func() time.Time
}

// New creates a quote client.
func New(baseURL, apiKey string, timeout time.Duration, tracker FailureTracker, log *logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    xhttp.NewClient(xhttp.WithTimeout(timeout)),
		tracker: tracker,
		log:     log,
		now:     time.Now,
	}
}

type quoteResponse struct {
	Ticker string `json:"ticker"`
	Bars   []struct {
		Date   string  `json:"date"`
		Return float64 `json:"return"`
	} `json:"bars"`
}

// FetchReturns pulls up to `days` daily returns for ticker. The outcome
// is always reported back to the tracker.
func (c *Client) FetchReturns(ctx context.Context, ticker string, days int) ([]models.ReturnPoint, error) {
	if !c.tracker.ShouldAttempt(ticker) {
		return nil, fmt.Errorf("%w: %s suppressed by failure tracker", models.ErrUpstreamUnavailable, ticker)
	}

	// Trading days to a calendar window, with slack for weekends and
	// holidays. Excess bars are trimmed after parsing.
	now := c.now()
	from := util.DaysAgo(now, days*7/5+5)

	resp, err := c.http.SendRequest(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    fmt.Sprintf("%s/v1/returns/%s", c.baseURL, ticker),
		Headers: map[string]string{
			"Authorization": "Bearer " + c.apiKey,
		},
		QueryParams: map[string][]string{
			"from": {util.FormatDay(from)},
			"to":   {util.FormatDay(util.Day(now))},
		},
	})
	if err != nil {
		c.tracker.RecordFailure(ticker, models.FailureAPIError, err.Error())
		return nil, fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := classify(resp.StatusCode)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := fmt.Sprintf("status %d: %s", resp.StatusCode, body)
		c.tracker.RecordFailure(ticker, kind, msg)
		return nil, fmt.Errorf("%w: %s", models.ErrUpstreamUnavailable, msg)
	}

	var qr quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		c.tracker.RecordFailure(ticker, models.FailureAPIError, err.Error())
		return nil, fmt.Errorf("%w: decode: %v", models.ErrUpstreamUnavailable, err)
	}

	points := make([]models.ReturnPoint, 0, len(qr.Bars))
	for _, b := range qr.Bars {
		d, err := util.ParseDay(b.Date)
		if err != nil {
			c.tracker.RecordFailure(ticker, models.FailureAPIError, fmt.Sprintf("bad date %q", b.Date))
			return nil, fmt.Errorf("%w: malformed bar date %q", models.ErrUpstreamUnavailable, b.Date)
		}
		points = append(points, models.ReturnPoint{Date: d, Return: b.Return})
	}
	if len(points) > days {
		points = points[len(points)-days:]
	}

	c.tracker.RecordSuccess(ticker)
	if c.log != nil {
		c.log.Debug("provider fetch ok",
			logger.String("ticker", ticker),
			logger.Int("bars", len(points)),
		)
	}
	return points, nil
}

// classify maps HTTP status codes onto the failure taxonomy.
func classify(status int) models.FailureKind {
	switch {
	case status == http.StatusNotFound:
		return models.FailureNotFound
	case status == http.StatusTooManyRequests:
		return models.FailureRateLimited
	default:
		return models.FailureAPIError
	}
}
