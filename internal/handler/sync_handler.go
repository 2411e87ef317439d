package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/alquemyfin/bankinplay-connect/internal/eventbus"
	"github.com/alquemyfin/bankinplay-connect/pkg/logger"
)

type SyncHandler struct {
	bus          eventbus.EventBus
	lookbackDays int
	logger       *logger.Logger
}

func NewSyncHandler(bus eventbus.EventBus, lookbackDays int, log *logger.Logger) *SyncHandler {
	return &SyncHandler{
		bus:          bus,
		lookbackDays: lookbackDays,
		logger:       log,
	}
}

type syncRequest struct {
	DateSince string `json:"date_since"`
	DateUntil string `json:"date_until"`
}

// Trigger enqueues a fetch for an explicit date range, or for the default
// trailing window when the body is empty.
func (h *SyncHandler) Trigger(c echo.Context) error {
	ctx := c.Request().Context()

	var req syncRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	now := time.Now().UTC().Truncate(24 * time.Hour)
	since := now.AddDate(0, 0, -h.lookbackDays)
	until := now

	if req.DateSince != "" {
		parsed, err := time.Parse("2006-01-02", req.DateSince)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "date_since must be formatted as 2006-01-02",
			})
		}
		since = parsed
	}
	if req.DateUntil != "" {
		parsed, err := time.Parse("2006-01-02", req.DateUntil)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "date_until must be formatted as 2006-01-02",
			})
		}
		until = parsed
	}

	if until.Before(since) {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "date_until must not precede date_since",
		})
	}

	eventID := uuid.New().String()
	err := h.bus.Publish(ctx, eventbus.Event{
		ID:   eventID,
		Type: eventbus.EventTypeFetch,
		Payload: eventbus.FetchEvent{
			DateSince: since,
			DateUntil: until,
		},
		Timestamp: time.Now(),
	})
	if err != nil {
		h.logger.Error(ctx, "Failed to publish fetch event",
			"error", err,
		)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to enqueue sync",
		})
	}

	h.logger.Info(ctx, "Sync enqueued",
		"event_id", eventID,
		"date_since", since.Format("2006-01-02"),
		"date_until", until.Format("2006-01-02"),
	)

	return c.JSON(http.StatusAccepted, map[string]string{
		"event_id": eventID,
		"status":   "processing",
	})
}
