package usage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/billing"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/saasdash/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ReportTimeouts are the analytics read budgets. Wider ranges scan more of
// the usage log and get a longer budget.
type ReportTimeouts struct {
	Fast     time.Duration
	Standard time.Duration
	Extended time.Duration
}

// DefaultReportTimeouts returns the 5s/10s/30s tiers
func DefaultReportTimeouts() ReportTimeouts {
	return ReportTimeouts{
		Fast:     5 * time.Second,
		Standard: 10 * time.Second,
		Extended: 30 * time.Second,
	}
}

func tierOf(d time.Duration) string {
	switch {
	case d <= 31*24*time.Hour:
		return "fast"
	case d <= 92*24*time.Hour:
		return "standard"
	}
	return "extended"
}

// forRange picks the budget for a query window
func (t ReportTimeouts) forRange(d time.Duration) time.Duration {
	switch tierOf(d) {
	case "fast":
		return t.Fast
	case "standard":
		return t.Standard
	}
	return t.Extended
}

// Report is a per-feature usage summary. Degraded is set when the usage log
// could not be read within budget and the features are empty.
type Report struct {
	CustomerID uuid.UUID              `json:"customer_id"`
	Start      time.Time              `json:"start"`
	End        time.Time              `json:"end"`
	Features   []billing.UsageSummary `json:"features"`
	Degraded   bool                   `json:"degraded"`
}

// ReportService summarises the usage log for dashboards
type ReportService struct {
	records  billing.UsageRecordRepository
	timeouts ReportTimeouts
	logger   *zap.Logger
}

// NewReportService creates a report service
func NewReportService(records billing.UsageRecordRepository, timeouts ReportTimeouts, logger *zap.Logger) *ReportService {
	d := DefaultReportTimeouts()
	if timeouts.Fast <= 0 {
		timeouts.Fast = d.Fast
	}
	if timeouts.Standard <= 0 {
		timeouts.Standard = d.Standard
	}
	if timeouts.Extended <= 0 {
		timeouts.Extended = d.Extended
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{records: records, timeouts: timeouts, logger: logger}
}

// Summary aggregates usage per feature in [start, end). A slow or failing
// read degrades to an empty report instead of an error.
func (s *ReportService) Summary(ctx context.Context, customerID uuid.UUID, start, end time.Time) (*Report, error) {
	if customerID == uuid.Nil {
		return nil, shared.ErrInvalidInput.WithMessage("customer ID cannot be empty")
	}
	if !end.After(start) {
		return nil, shared.ErrInvalidInput.WithMessage("end must be after start")
	}

	tier := tierOf(end.Sub(start))
	ctx, span := telemetry.Start(ctx, "usage_report", "summary",
		telemetry.AttrCustomerID.String(customerID.String()),
		telemetry.AttrTier.String(tier))
	report, err := s.summarize(ctx, customerID, start, end)
	if err == nil {
		span.SetAttributes(attribute.Bool("degraded", report.Degraded))
	}
	telemetry.Finish(span, err)
	return report, err
}

func (s *ReportService) summarize(ctx context.Context, customerID uuid.UUID, start, end time.Time) (*Report, error) {
	report := &Report{CustomerID: customerID, Start: start, End: end, Features: []billing.UsageSummary{}}

	budget := s.timeouts.forRange(end.Sub(start))
	qctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	summaries, err := s.records.Summarize(qctx, customerID, start, end)
	if err != nil {
		if ctx.Err() != nil {
			return nil, shared.ErrTimeout.Wrap(ctx.Err())
		}
		fields := []zap.Field{
			zap.String("customer_id", customerID.String()),
			zap.Duration("budget", budget),
			zap.Error(err),
		}
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("Usage summary exceeded its budget, serving empty report", fields...)
		} else {
			s.logger.Error("Usage summary failed, serving empty report", fields...)
		}
		report.Degraded = true
		return report, nil
	}

	if summaries != nil {
		report.Features = summaries
	}
	return report, nil
}
