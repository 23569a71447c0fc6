package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/application/usage"
	"github.com/saasdash/backend/internal/domain/shared"
)

// defaultUsageWindow is the report range when the query names none
const defaultUsageWindow = 30 * 24 * time.Hour

// UsageReporter summarises the usage log
type UsageReporter interface {
	Summary(ctx context.Context, customerID uuid.UUID, start, end time.Time) (*usage.Report, error)
}

// UsageHandler serves usage summaries
type UsageHandler struct {
	BaseHandler
	reports UsageReporter
	now     func() time.Time
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(reports UsageReporter) *UsageHandler {
	return &UsageHandler{reports: reports, now: time.Now}
}

// UsageQuery selects the report window
type UsageQuery struct {
	Start *time.Time `form:"start" time_format:"2006-01-02T15:04:05Z07:00"`
	End   *time.Time `form:"end" time_format:"2006-01-02T15:04:05Z07:00"`
}

// Summary returns per-feature usage of the customer in [start, end).
// The window defaults to the last 30 days.
func (h *UsageHandler) Summary(c *gin.Context) {
	customerID, ok := h.customerID(c)
	if !ok {
		return
	}
	var q UsageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.HandleError(c, shared.ErrInvalidInput.WithMessage("start and end must be RFC 3339 timestamps"))
		return
	}

	end := h.now().UTC()
	if q.End != nil {
		end = q.End.UTC()
	}
	start := end.Add(-defaultUsageWindow)
	if q.Start != nil {
		start = q.Start.UTC()
	}

	report, err := h.reports.Summary(c.Request.Context(), customerID, start, end)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}
