package cron

import (
	"context"
	"fmt"

	"github.com/bopmarket/backend/internal/notifications"
	"github.com/bopmarket/backend/pkg/logger"
)

// NewNotificationDispatchJob adapts the outbox dispatcher to the job
// interface so the notify worker reuses the locked cron loop.
func NewNotificationDispatchJob(dispatcher *notifications.Dispatcher, logg *logger.Logger) (Job, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &notificationDispatchJob{dispatcher: dispatcher, logg: logg}, nil
}

type notificationDispatchJob struct {
	dispatcher *notifications.Dispatcher
	logg       *logger.Logger
}

func (j *notificationDispatchJob) Name() string { return "notification-dispatch" }

// Run drains the outbox until a batch comes back short, so a burst of events
// does not wait a full interval per batch.
func (j *notificationDispatchJob) Run(ctx context.Context) error {
	total := 0
	for {
		handled, err := j.dispatcher.RunOnce(ctx)
		if err != nil {
			return err
		}
		total += handled
		if handled == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if total > 0 {
		logCtx := j.logg.WithField(ctx, "events_handled", total)
		j.logg.Info(logCtx, "notification dispatch cycle complete")
	}
	return nil
}
