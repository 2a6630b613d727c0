package aggregation

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	httperr "github.com/vd-speed-test/speedroll/internal/core/errors"
	"github.com/vd-speed-test/speedroll/internal/core/period"
	"github.com/vd-speed-test/speedroll/internal/core/rollup"
)

// Runner is the orchestrator surface the trigger endpoints need.
type Runner interface {
	Execute(ctx context.Context, req Request) (Result, error)
	Backfill(ctx context.Context, req BackfillRequest) (BackfillReport, error)
}

// TriggerRequest is the body of POST /v1/aggregations.
type TriggerRequest struct {
	Mode string `json:"mode" binding:"required"`
	// Date is a canonical period id, a calendar date or an RFC3339 instant. Empty runs the default period.
	Date string `json:"date"`
	Host string `json:"host"`
}

// BackfillTriggerRequest is the body of POST /v1/aggregations/backfill.
type BackfillTriggerRequest struct {
	Modes          []string `json:"modes"`
	Hosts          []string `json:"hosts"`
	From           string   `json:"from" binding:"required"`
	To             string   `json:"to" binding:"required"`
	Force          bool     `json:"force"`
	IncludeCurrent bool     `json:"include_current"`
}

// Handler exposes the orchestrator to an external scheduler over HTTP.
type Handler struct {
	runner Runner
	loc    *time.Location
}

func NewHandler(runner Runner, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{runner: runner, loc: loc}
}

// RegisterRoutes registers the trigger routes on the given router.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/aggregations", h.HandleTrigger)
	r.POST("/v1/aggregations/backfill", h.HandleBackfill)
}

// HandleTrigger runs one rollup synchronously and reports its outcome.
func (h *Handler) HandleTrigger(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid trigger body",
			Details:   err.Error(),
		})
		return
	}

	level, err := period.ParseLevel(req.Mode)
	if err != nil || level == period.Raw {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidModeError,
			Message:   "Unknown aggregation mode",
			Details:   map[string]interface{}{"mode": req.Mode},
		})
		return
	}

	periodID := ""
	if req.Date != "" {
		periodID, err = period.Resolve(level, req.Date, h.loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidPeriodError,
				Message:   "Invalid date for mode",
				Details:   err.Error(),
			})
			return
		}
	}

	host := strings.TrimSpace(req.Host)
	if err := rollup.ValidHostScope(host); err != nil {
		writeInvalidHost(c, err)
		return
	}

	res, err := h.runner.Execute(c.Request.Context(), Request{
		Level:     level,
		HostScope: host,
		PeriodID:  periodID,
	})
	if err != nil {
		writeRunError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// HandleBackfill runs a bounded backfill synchronously.
func (h *Handler) HandleBackfill(c *gin.Context) {
	var req BackfillTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid backfill body",
			Details:   err.Error(),
		})
		return
	}

	levels := make([]period.Level, 0, len(req.Modes))
	for _, m := range req.Modes {
		level, err := period.ParseLevel(m)
		if err != nil || level == period.Raw {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidModeError,
				Message:   "Unknown aggregation mode",
				Details:   map[string]interface{}{"mode": m},
			})
			return
		}
		levels = append(levels, level)
	}

	hosts := make([]string, 0, len(req.Hosts))
	for _, raw := range req.Hosts {
		host := strings.TrimSpace(raw)
		if err := rollup.ValidHostScope(host); err != nil {
			writeInvalidHost(c, err)
			return
		}
		hosts = append(hosts, host)
	}

	from, errFrom := parseInstant(req.From, h.loc)
	to, errTo := parseInstant(req.To, h.loc)
	if errFrom != nil || errTo != nil || to.Before(from) {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidPeriodError,
			Message:   "from and to must be dates (YYYY-MM-DD) or RFC3339 instants with from <= to",
		})
		return
	}

	report, err := h.runner.Backfill(c.Request.Context(), BackfillRequest{
		Levels:         levels,
		HostScopes:     hosts,
		From:           from,
		To:             to,
		Force:          req.Force,
		IncludeCurrent: req.IncludeCurrent,
	})
	if err != nil {
		writeRunError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func writeInvalidHost(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
		ErrorType: httperr.HttpInvalidRequestError,
		Message:   "Invalid host scope",
		Details:   err.Error(),
	})
}

func writeRunError(c *gin.Context, err error) {
	var invalidLevel *period.InvalidLevelError
	var transient *rollup.TransientStoreError

	switch {
	case errors.As(err, &invalidLevel):
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidModeError,
			Message:   err.Error(),
		})
	case errors.Is(err, rollup.ErrInvalidHostScope):
		writeInvalidHost(c, err)
	case errors.Is(err, period.ErrInvalidPeriod):
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidPeriodError,
			Message:   err.Error(),
		})
	case errors.As(err, &transient):
		slog.Error("[Trigger] Rollup write failed", "path", transient.Path, "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpStoreWriteError,
			Message:   "Failed to write summary",
			Details:   map[string]interface{}{"path": transient.Path},
		})
	default:
		slog.Error("[Trigger] Rollup failed", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Rollup failed",
			Details:   err.Error(),
		})
	}
}

// parseInstant accepts YYYY-MM-DD (local midnight) or RFC3339.
func parseInstant(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", value, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}
