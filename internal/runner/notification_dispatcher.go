package runner

import (
	"context"
	"time"

	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/service"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/pkg/logger"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func RunNotificationDispatcher(ctx context.Context, dispatcher *service.NotificationService[kafka.Message]) {
	logger.GetLoggerFromCtx(ctx).Info(ctx, "starting dispatching notifications")
	if err := dispatcher.StartDispatching(ctx); err != nil {
		logger.GetLoggerFromCtx(ctx).Error(ctx, "failed to dispatch notifications", zap.Error(err))
	}
}

func ShutdownNotificationDispatcher(ctx context.Context, dispatcher *service.NotificationService[kafka.Message]) {
	cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dispatcher.StopDispatching(cancelCtx)
}
