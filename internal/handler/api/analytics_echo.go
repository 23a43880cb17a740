package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"QuantCore/internal/domain/models"
	"QuantCore/internal/scheduler"
	"QuantCore/internal/usecase"
	xhttp "QuantCore/pkg/http"
	xlogger "QuantCore/pkg/logger"
)

// AnalyticsEchoHandler exposes the analytics read operations over Echo.
type AnalyticsEchoHandler struct {
	logger *xlogger.Logger
	agg    *usecase.Analytics
	sched  *scheduler.Scheduler
}

func NewAnalyticsEchoHandler(logger *xlogger.Logger, agg *usecase.Analytics, sched *scheduler.Scheduler) *AnalyticsEchoHandler {
	return &AnalyticsEchoHandler{logger: logger, agg: agg, sched: sched}
}

func (h *AnalyticsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/risk", h.Risk)
	g.GET("/correlations", h.Correlations)
	g.GET("/volatility-forecast", h.VolForecast)
	g.GET("/regime-forecast", h.RegimeForecast)
	g.GET("/jobs", h.Jobs)
}

// envelope attaches cache observability to every artifact response.
type envelope struct {
	Data any          `json:"data"`
	Meta usecase.Meta `json:"meta"`
}

func (h *AnalyticsEchoHandler) Risk(c echo.Context) error {
	req := &models.RiskRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	snap, meta, err := h.agg.GetRisk(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "risk", err)
	}
	return xhttp.SuccessResponse(c, envelope{Data: snap, Meta: meta})
}

func (h *AnalyticsEchoHandler) Correlations(c echo.Context) error {
	req := &models.CorrelationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	m, meta, err := h.agg.GetCorrelations(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "correlations", err)
	}
	return xhttp.SuccessResponse(c, envelope{Data: m, Meta: meta})
}

func (h *AnalyticsEchoHandler) VolForecast(c echo.Context) error {
	req := &models.VolForecastRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	f, meta, err := h.agg.GetVolatilityForecast(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "volatility-forecast", err)
	}
	return xhttp.SuccessResponse(c, envelope{Data: f, Meta: meta})
}

func (h *AnalyticsEchoHandler) RegimeForecast(c echo.Context) error {
	req := &models.RegimeForecastRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	f, meta, err := h.agg.GetRegimeForecast(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "regime-forecast", err)
	}
	return xhttp.SuccessResponse(c, envelope{Data: f, Meta: meta})
}

// Jobs reports scheduler status for operational visibility.
func (h *AnalyticsEchoHandler) Jobs(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.sched.Statuses())
}

// retryAfterSeconds hints clients how long to back off on 503/202.
const retryAfterSeconds = 30

// fail maps domain errors onto HTTP semantics. Insufficient history and
// failed fits are the caller's data problem (422); a subject with no rows
// anywhere is 404; coordination unavailability is 503 with a retry hint.
func (h *AnalyticsEchoHandler) fail(c echo.Context, op string, err error) error {
	if h.logger != nil {
		h.logger.Error(op+" usecase error", xlogger.Error(err))
	}

	switch {
	case errors.Is(err, models.ErrInsufficientData),
		errors.Is(err, models.ErrConvergenceFailure),
		errors.Is(err, models.ErrInvalidDistribution):
		appErr := xhttp.NewAppError("ERR_UNPROCESSABLE", "", err.Error(), http.StatusUnprocessableEntity)
		return xhttp.AppErrorResponse(c, appErr)

	case errors.Is(err, models.ErrNoData):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(err.Error()))

	case errors.Is(err, models.ErrUnavailable),
		errors.Is(err, models.ErrUpstreamUnavailable):
		c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		appErr := xhttp.NewAppError("ERR_UNAVAILABLE", "", err.Error(), http.StatusServiceUnavailable)
		return xhttp.AppErrorResponse(c, appErr)

	case errors.Is(err, models.ErrAlreadyCalculating):
		c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		appErr := xhttp.NewAppError("ERR_CALCULATING", "", "computation in progress, retry shortly", http.StatusAccepted)
		return xhttp.AppErrorResponse(c, appErr)
	}
	return xhttp.AppErrorResponse(c, err)
}
