package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alquemyfin/bankinplay-connect/internal/eventbus"
	"github.com/alquemyfin/bankinplay-connect/pkg/logger"
)

type recordingBus struct {
	published  []eventbus.Event
	publishErr error
}

func (b *recordingBus) Publish(_ context.Context, event eventbus.Event) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, event)
	return nil
}

func (b *recordingBus) Subscribe(eventbus.EventType, eventbus.Consumer) error { return nil }
func (b *recordingBus) Start(context.Context) error                           { return nil }
func (b *recordingBus) Shutdown(context.Context) error                        { return nil }

func postSync(t *testing.T, h *SyncHandler, body string) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/sync", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	require.NoError(t, h.Trigger(e.NewContext(req, rec)))
	return rec
}

func TestSyncHandler_ExplicitRange(t *testing.T) {
	bus := &recordingBus{}
	h := NewSyncHandler(bus, 7, logger.NewNop())

	rec := postSync(t, h, `{"date_since":"2026-03-01","date_until":"2026-03-07"}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"processing"`)
	assert.Contains(t, rec.Body.String(), `"event_id"`)

	require.Len(t, bus.published, 1)
	event := bus.published[0]
	assert.Equal(t, eventbus.EventTypeFetch, event.Type)

	payload, ok := event.Payload.(eventbus.FetchEvent)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), payload.DateSince)
	assert.Equal(t, time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC), payload.DateUntil)
}

func TestSyncHandler_DefaultLookbackWindow(t *testing.T) {
	bus := &recordingBus{}
	h := NewSyncHandler(bus, 3, logger.NewNop())

	rec := postSync(t, h, `{}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, bus.published, 1)

	payload, ok := bus.published[0].Payload.(eventbus.FetchEvent)
	require.True(t, ok)

	now := time.Now().UTC().Truncate(24 * time.Hour)
	assert.Equal(t, now, payload.DateUntil)
	assert.Equal(t, now.AddDate(0, 0, -3), payload.DateSince)
}

func TestSyncHandler_RejectsBadDates(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed since", body: `{"date_since":"01/03/2026"}`},
		{name: "malformed until", body: `{"date_until":"not-a-date"}`},
		{name: "inverted range", body: `{"date_since":"2026-03-07","date_until":"2026-03-01"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &recordingBus{}
			h := NewSyncHandler(bus, 7, logger.NewNop())

			rec := postSync(t, h, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, bus.published)
		})
	}
}

func TestSyncHandler_PublishFailure(t *testing.T) {
	bus := &recordingBus{publishErr: errors.New("bus closed")}
	h := NewSyncHandler(bus, 7, logger.NewNop())

	rec := postSync(t, h, `{}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to enqueue sync")
}
