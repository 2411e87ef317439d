package eventbus

import (
	"context"
	"fmt"

	"github.com/alquemyfin/bankinplay-connect/internal/service"
	"github.com/alquemyfin/bankinplay-connect/pkg/logger"
)

type FetchConsumer struct {
	syncService *service.SyncService
	logger      *logger.Logger
	workerCount int
}

func NewFetchConsumer(syncService *service.SyncService, log *logger.Logger, workerCount int) *FetchConsumer {
	return &FetchConsumer{
		syncService: syncService,
		logger:      log,
		workerCount: workerCount,
	}
}

func (fc *FetchConsumer) Consume(ctx context.Context, event Event) error {
	payload, ok := event.Payload.(FetchEvent)
	if !ok {
		fc.logger.Error(ctx, "Invalid payload type for fetch event",
			"event_id", event.ID,
		)
		return fmt.Errorf("invalid payload type")
	}

	submission, err := fc.syncService.FetchRange(ctx, payload.DateSince, payload.DateUntil)
	if err != nil {
		fc.logger.Error(ctx, "Fetch failed",
			"event_id", event.ID,
			"error", err,
		)
		return err
	}

	ctx = logger.WithResponseID(ctx, submission.ResponseID)
	fc.logger.Info(ctx, "Fetch submitted",
		"event_id", event.ID,
		"operation", submission.Operation,
	)

	return nil
}

func (fc *FetchConsumer) GetWorkerCount() int {
	return fc.workerCount
}
