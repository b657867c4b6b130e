package notify

import (
	"context"

	"growlog/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Channel is the external push-notification transport. Transport
// internals (APNs, FCM, chat bots) stay behind this contract.
type Channel interface {
	Schedule(ctx context.Context, req models.NotificationRequest) (string, error)
	Cancel(ctx context.Context, taskID int64) error
}

// LogChannel is the default channel when no transport is configured:
// it acknowledges every request and only logs it.
type LogChannel struct {
	logger *zerolog.Logger
}

func NewLogChannel(logger *zerolog.Logger) *LogChannel {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Schedule(ctx context.Context, req models.NotificationRequest) (string, error) {
	handle := uuid.NewString()
	c.logger.Info().
		Int64("task_id", req.TaskID).
		Int64("plant_id", req.PlantID).
		Str("type", req.Type).
		Time("due_at", req.DueAt).
		Str("priority", req.Priority.String()).
		Dur("lead_time", req.LeadTime).
		Str("handle", handle).
		Msg("Notification scheduled")
	return handle, nil
}

func (c *LogChannel) Cancel(ctx context.Context, taskID int64) error {
	c.logger.Info().Int64("task_id", taskID).Msg("Notification cancelled")
	return nil
}
