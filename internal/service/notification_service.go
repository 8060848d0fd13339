package service

import (
	"context"

	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/models"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/notify"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/ports"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/pkg/logger"
	"go.uber.org/zap"
)

// NotificationService reads notification messages continuously, renders the
// matching template and hands the mail to the transport.
//
// It supports different brokers, so MessageType is generic.
//
// Delivery is fire-and-forget relative to the state machine: a render or send
// failure is logged and the message committed anyway, so a slow or broken
// mail transport never delays or rolls back an order transition.
type NotificationService[MessageType any] struct {
	receiver ports.NotificationReceiver[MessageType]
	mailer   ports.Mailer

	done chan struct{}
}

// NewNotificationService creates a dispatcher over the given receiver and mailer
func NewNotificationService[MessageType any](receiver ports.NotificationReceiver[MessageType], mailer ports.Mailer) *NotificationService[MessageType] {
	return &NotificationService[MessageType]{
		receiver: receiver,
		mailer:   mailer,
		done:     make(chan struct{}),
	}
}

// StartDispatching is the main loop function that is meant to be run in background
func (s *NotificationService[_]) StartDispatching(ctx context.Context) error {
out:
	for {
		select {
		case <-ctx.Done():
			break out
		case <-s.done:
			break out
		default:
			// step 1: try to consume
			notification, msg, err := s.receiver.Consume(ctx)
			if err != nil {
				logger.GetOrCreateLoggerFromCtx(ctx).Error(ctx, "error while receiving notifications",
					zap.Error(err))
				break
			}

			// step 2: dispatch, best-effort
			if err = s.Dispatch(ctx, notification); err != nil {
				logger.GetOrCreateLoggerFromCtx(ctx).Error(ctx, "error dispatching notification",
					zap.String("template", string(notification.Template)),
					zap.String("event_id", notification.EventID),
					zap.Error(err))
				if err = s.receiver.OnFail(ctx, false, msg); err != nil {
					logger.GetOrCreateLoggerFromCtx(ctx).Error(ctx, "error committing failed notification", zap.Error(err))
				}
				break
			}

			if err = s.receiver.OnSuccess(ctx, msg); err != nil {
				logger.GetOrCreateLoggerFromCtx(ctx).Error(ctx, "error committing notification", zap.Error(err))
			}
		}
	}
	return nil
}

// Dispatch renders the template and sends one mail
func (s *NotificationService[_]) Dispatch(ctx context.Context, notification models.NotificationMessage) error {
	rendered, err := notify.Render(notification.Template, notification.Data)
	if err != nil {
		return err
	}

	if err = s.mailer.Send(notification.Recipient, rendered.Subject, rendered.Body); err != nil {
		return err
	}

	logger.GetOrCreateLoggerFromCtx(ctx).Info(ctx, "notification sent",
		zap.String("template", string(notification.Template)),
		zap.String("recipient", notification.Recipient))
	return nil
}

// StopDispatching sends a signal to stop looping in StartDispatching
func (s *NotificationService[_]) StopDispatching(_ context.Context) {
	close(s.done)
}
