package worker

import (
	"context"
	"fmt"
	"time"

	"constructlink/internal/domain"
	"constructlink/internal/events"
	"constructlink/internal/logging"
	"constructlink/internal/metrics"
	"constructlink/internal/models"

	"github.com/rs/zerolog"
)

// BatchLister is the read side of the workflow engine.
type BatchLister interface {
	ListBatches(ctx context.Context, filter models.BatchFilter) ([]*models.BatchSnapshot, error)
	Now() time.Time
}

// OverdueScanner periodically raises batch_overdue events. It never writes
// batches: Overdue stays a derived status.
type OverdueScanner struct {
	batches   BatchLister
	publisher domain.EventPublisher
	marks     domain.OnceMarker
	interval  time.Duration
	// remindEvery bounds how often the same batch is announced.
	remindEvery time.Duration
	logger      *zerolog.Logger
}

func NewOverdueScanner(batches BatchLister, publisher domain.EventPublisher, marks domain.OnceMarker, interval time.Duration, logger *zerolog.Logger) *OverdueScanner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &OverdueScanner{
		batches:     batches,
		publisher:   publisher,
		marks:       marks,
		interval:    interval,
		remindEvery: 24 * time.Hour,
		logger:      logging.Component(logger, "overdue_scanner"),
	}
}

func (s *OverdueScanner) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("Overdue scanner started")
	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Overdue scanner stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *OverdueScanner) runOnce(ctx context.Context) {
	if _, err := s.Scan(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Overdue scan failed")
	}
}

// Scan publishes one event per overdue batch not announced within
// remindEvery and returns how many were published.
func (s *OverdueScanner) Scan(ctx context.Context) (int, error) {
	snaps, err := s.batches.ListBatches(ctx, models.BatchFilter{Status: models.StatusOverdue})
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue batches: %w", err)
	}
	metrics.SetOverdueBatches(len(snaps))

	now := s.batches.Now()
	published := 0
	for _, snap := range snaps {
		key := fmt.Sprintf("overdue:%d", snap.Batch.ID)
		marked := false
		if s.marks != nil {
			first, err := s.marks.MarkOnce(ctx, key, s.remindEvery)
			if err != nil {
				s.logger.Warn().Err(err).Int64("batch_id", snap.Batch.ID).Msg("Failed to record overdue reminder")
			} else if !first {
				continue
			}
			marked = err == nil
		}

		payload := overduePayload(snap, now)
		if err := s.publisher.PublishJSON(events.EventBatchOverdue, payload); err != nil {
			s.logger.Warn().Err(err).Int64("batch_id", snap.Batch.ID).Msg("Failed to publish overdue event")
			// Not announced, so the next scan must retry.
			if marked {
				if uerr := s.marks.Unmark(ctx, key); uerr != nil {
					s.logger.Warn().Err(uerr).Int64("batch_id", snap.Batch.ID).Msg("Failed to clear overdue reminder")
				}
			}
			continue
		}
		published++
	}

	s.logger.Info().Int("overdue", len(snaps)).Int("published", published).Msg("Overdue scan complete")
	return published, nil
}

func overduePayload(snap *models.BatchSnapshot, now time.Time) events.BatchEventPayload {
	var due *time.Time
	for _, it := range snap.Items {
		if it.EffectiveStatus == models.StatusOverdue && (due == nil || it.ExpectedReturn.Before(*due)) {
			due = it.ExpectedReturn
		}
	}
	notes := ""
	if due != nil {
		notes = fmt.Sprintf("%s past due", now.Sub(*due).Truncate(time.Minute))
	}
	return events.BatchEventPayload{
		BatchID:      snap.Batch.ID,
		Reference:    snap.Batch.Reference,
		BorrowerName: snap.Batch.BorrowerName,
		ToStatus:     models.StatusOverdue,
		Notes:        notes,
		ItemCount:    len(snap.Items),
		DueAt:        due,
		OccurredAt:   now,
	}
}
