package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/taskhub-app/apiserver/internal/mq"
	"github.com/taskhub-app/apiserver/types"
)

const jobContentType = "application/json"

// QueueSender hands OTP emails to a broker. A publish failure is returned to
// the caller like a direct SMTP failure would be.
type QueueSender struct {
	queue   *mq.MQ
	channel string
}

func NewQueueSender(queue *mq.MQ, channel string) *QueueSender {
	return &QueueSender{queue: queue, channel: channel}
}

func (s *QueueSender) SendOTPEmail(ctx context.Context, to, code string, task types.OTPTask) error {
	data, err := json.Marshal(OTPEmailJob{To: to, Code: code, Task: task})
	if err != nil {
		return err
	}
	attrs := map[string]string{
		mq.AttrContentType: jobContentType,
		"task":             string(task),
	}
	if _, err := s.queue.Publish(ctx, s.channel, data, attrs); err != nil {
		return fmt.Errorf("publish otp email: %w", err)
	}
	return nil
}

// Worker drains the OTP email channel and delivers each job with sender.
type Worker struct {
	queue   *mq.MQ
	channel string
	sender  Sender
	logger  zerolog.Logger
}

func NewWorker(queue *mq.MQ, channel string, sender Sender, logger zerolog.Logger) *Worker {
	return &Worker{
		queue:   queue,
		channel: channel,
		sender:  sender,
		logger:  logger.With().Str("component", "mailer").Str("channel", channel).Logger(),
	}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Msg("mailer worker started")
	err := w.queue.Subscribe(ctx, w.channel, w.Handle)
	if errors.Is(err, context.Canceled) {
		w.logger.Info().Msg("mailer worker stopped")
		return nil
	}
	return err
}

// Handle delivers one queued job. Undecodable jobs are dropped; delivery
// failures are returned so the broker redelivers.
func (w *Worker) Handle(ctx context.Context, msg mq.Message) error {
	var job OTPEmailJob
	if err := json.Unmarshal(msg.Data, &job); err != nil || job.To == "" || job.Code == "" {
		w.logger.Warn().Str("message_id", msg.ID).Msg("dropping malformed otp email job")
		return nil
	}
	if err := w.sender.SendOTPEmail(ctx, job.To, job.Code, job.Task); err != nil {
		w.logger.Error().Err(err).Str("message_id", msg.ID).Str("task", string(job.Task)).Msg("otp email delivery failed")
		return err
	}
	w.logger.Info().Str("message_id", msg.ID).Str("task", string(job.Task)).Msg("otp email delivered")
	return nil
}
