package worker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"leadfunnel/metrics"
	"leadfunnel/models"
	"leadfunnel/sessions"
)

const sweepBatch = 200

// SessionSweeper is the part of the session service the sweep needs.
type SessionSweeper interface {
	ListStale(ctx context.Context, idleSince time.Time, limit int) ([]models.FunnelSession, error)
	MarkAbandoned(ctx context.Context, id string) error
	LogStepEvent(ctx context.Context, event models.StepEvent) error
}

// AbandonmentWorker marks sessions that went idle before completion as
// abandoned.
type AbandonmentWorker struct {
	Sessions     SessionSweeper
	AbandonAfter time.Duration
	Interval     time.Duration
	StartDelay   time.Duration
	Logger       logrus.FieldLogger
	Metrics      *metrics.Collector

	now func() time.Time
}

func NewAbandonmentWorker(svc SessionSweeper, abandonAfter, interval time.Duration, logger logrus.FieldLogger, m *metrics.Collector) *AbandonmentWorker {
	if abandonAfter <= 0 {
		abandonAfter = 24 * time.Hour
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &AbandonmentWorker{
		Sessions:     svc,
		AbandonAfter: abandonAfter,
		Interval:     interval,
		StartDelay:   10 * time.Second,
		Logger:       logger.WithField("component", "abandonment_worker"),
		Metrics:      m,
		now:          time.Now,
	}
}

func (aw *AbandonmentWorker) Start(ctx context.Context) {
	// Let the server start up first
	select {
	case <-ctx.Done():
		return
	case <-time.After(aw.StartDelay):
	}

	aw.Logger.WithFields(logrus.Fields{
		"abandon_after": aw.AbandonAfter.String(),
		"interval":      aw.Interval.String(),
	}).Info("Abandonment worker started")

	ticker := time.NewTicker(aw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			aw.Logger.Info("Abandonment worker shutting down...")
			return
		case <-ticker.C:
			aw.Sweep(ctx)
		}
	}
}

// Sweep abandons stale sessions in batches and returns how many it marked.
func (aw *AbandonmentWorker) Sweep(ctx context.Context) int {
	cutoff := aw.now().Add(-aw.AbandonAfter)
	marked := 0
	for {
		stale, err := aw.Sessions.ListStale(ctx, cutoff, sweepBatch)
		if err != nil {
			aw.Logger.WithError(err).Error("Error fetching stale sessions")
			return marked
		}
		progressed := false
		for _, s := range stale {
			if err := aw.abandon(ctx, s); err != nil {
				if !errors.Is(err, sessions.ErrSessionNotFound) {
					aw.Logger.WithError(err).WithField("session_id", s.ID).Warn("Failed to abandon session")
				}
				continue
			}
			marked++
			progressed = true
		}
		if len(stale) < sweepBatch || !progressed || ctx.Err() != nil {
			break
		}
	}
	if marked > 0 {
		aw.Logger.WithField("count", marked).Info("Marked idle funnel sessions abandoned")
	}
	return marked
}

func (aw *AbandonmentWorker) abandon(ctx context.Context, s models.FunnelSession) error {
	if err := aw.Sessions.MarkAbandoned(ctx, s.ID); err != nil {
		return err
	}
	aw.Metrics.SessionAbandoned(string(s.FunnelType))

	def, _ := models.Lookup(s.FunnelType)
	step := s.CurrentStep
	if step < 1 {
		step = 1
	}
	err := aw.Sessions.LogStepEvent(ctx, models.StepEvent{
		SessionID:  s.ID,
		FunnelType: s.FunnelType,
		StepNumber: step,
		StepName:   def.StepName(step),
		Kind:       models.StepEventAbandon,
		PagePath:   def.StepPath(step),
		CreatedAt:  aw.now(),
	})
	if err != nil {
		aw.Logger.WithError(err).WithField("session_id", s.ID).Warn("Failed to log abandon event")
	}
	return nil
}
