package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/alquemyfin/bankinplay-connect/internal/correlator"
	"github.com/alquemyfin/bankinplay-connect/internal/metrics"
	"github.com/alquemyfin/bankinplay-connect/pkg/logger"
)

// WebhookHandler receives provider callbacks. Every endpoint acknowledges
// with 200 unless the payload is structurally invalid: the provider retries
// on non-2xx, and a payload we cannot parse will never parse on retry
// either, so only those get a 400.
type WebhookHandler struct {
	correlator *correlator.Correlator
	logger     *logger.Logger
}

func NewWebhookHandler(corr *correlator.Correlator, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		correlator: corr,
		logger:     log,
	}
}

func (h *WebhookHandler) IntradayRead(c echo.Context) error {
	return h.receive(c, "lectura_intradia")
}

func (h *WebhookHandler) ClosingRead(c echo.Context) error {
	return h.receive(c, "lectura_cierre")
}

func (h *WebhookHandler) CardRead(c echo.Context) error {
	return h.receive(c, "lectura_tarjeta")
}

// StatusUpdate receives job state notifications. They carry no result data,
// so they are logged and acknowledged without touching the ledger.
func (h *WebhookHandler) StatusUpdate(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("estado", "error").Inc()
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	h.logger.Info(ctx, "Status notification received",
		"endpoint", "estado",
		"size", len(body),
	)
	metrics.WebhookDeliveries.WithLabelValues("estado", "success").Inc()

	return c.JSON(http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Datos recibidos correctamente",
	})
}

func (h *WebhookHandler) receive(c echo.Context, endpoint string) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		h.logger.Error(ctx, "Failed to read webhook body",
			"endpoint", endpoint,
			"error", err,
		)
		metrics.WebhookDeliveries.WithLabelValues(endpoint, "error").Inc()
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	h.logger.Info(ctx, "Webhook received",
		"endpoint", endpoint,
		"size", len(body),
	)

	if err := h.correlator.HandleCallback(ctx, body); err != nil {
		if errors.Is(err, correlator.ErrInvalidCallback) {
			metrics.WebhookDeliveries.WithLabelValues(endpoint, "invalid").Inc()
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "invalid callback payload",
			})
		}
		h.logger.Error(ctx, "Webhook processing failed",
			"endpoint", endpoint,
			"error", err,
		)
		metrics.WebhookDeliveries.WithLabelValues(endpoint, "error").Inc()
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to process callback",
		})
	}

	metrics.WebhookDeliveries.WithLabelValues(endpoint, "success").Inc()

	return c.JSON(http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Datos recibidos correctamente",
	})
}
