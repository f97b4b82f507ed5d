// Package alerts raises CRITICAL integrity alerts. An alert is a
// CRITICAL-level structured log line plus a Prometheus counter increment;
// paging is left to whatever scrapes them.
package alerts

import (
	"context"

	"github.com/dmitrijs2005/contractvault/internal/logging"
	"github.com/dmitrijs2005/contractvault/internal/server/metrics"
	"github.com/dmitrijs2005/contractvault/internal/server/models"
)

type Sink struct {
	log     logging.Logger
	metrics *metrics.Metrics
}

func NewSink(log logging.Logger, m *metrics.Metrics) *Sink {
	return &Sink{log: log.With("module", "alerts"), metrics: m}
}

// Violation reports one non-VALID verification result.
func (s *Sink) Violation(ctx context.Context, res models.VerificationResult) {
	s.metrics.IntegrityAlerts.WithLabelValues(string(res.Kind)).Inc()
	s.log.Critical(ctx, "integrity violation",
		"entity_type", res.EntityType,
		"entity_id", res.EntityID,
		"status", string(res.Status),
		"kind", string(res.Kind),
		"detail", res.Detail,
		"checked_at", res.CheckedAt,
	)
}

// SweepSummary reports a sweep that found violations. Clean sweeps are
// logged at info level.
func (s *Sink) SweepSummary(ctx context.Context, rep *models.SweepReport) {
	args := []any{
		"total", rep.Total,
		"valid", rep.Valid,
		"tampered", rep.Tampered,
		"corrupted", rep.Corrupted,
		"errors", rep.Errors,
		"duration", rep.FinishedAt.Sub(rep.StartedAt).String(),
	}
	if len(rep.Violations) == 0 {
		s.log.Info(ctx, "integrity sweep clean", args...)
		return
	}

	ids := make([]string, 0, len(rep.Violations))
	for _, v := range rep.Violations {
		ids = append(ids, v.EntityID)
	}
	s.log.Critical(ctx, "integrity sweep found violations", append(args, "entity_ids", ids)...)
}
