package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/alquemyfin/bankinplay-connect/internal/domain"
	"github.com/alquemyfin/bankinplay-connect/pkg/logger"
)

type LedgerHandler struct {
	store  domain.LedgerStore
	logger *logger.Logger
}

func NewLedgerHandler(store domain.LedgerStore, log *logger.Logger) *LedgerHandler {
	return &LedgerHandler{
		store:  store,
		logger: log,
	}
}

func (h *LedgerHandler) ListEntries(c echo.Context) error {
	ctx := c.Request().Context()

	page, err := strconv.Atoi(c.QueryParam("page"))
	if err != nil || page < 1 {
		page = 1
	}

	perPage, err := strconv.Atoi(c.QueryParam("per_page"))
	if err != nil || perPage < 1 {
		perPage = 10
	}

	var statusFilter *domain.EntryStatus
	statusParam := c.QueryParam("status")
	if statusParam != "" {
		status := domain.EntryStatus(statusParam)
		if status == domain.EntryStatusPending || status == domain.EntryStatusSuccess || status == domain.EntryStatusError {
			statusFilter = &status
		} else {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "status must be pending, success or error",
			})
		}
	}

	h.logger.Debug(ctx, "Listing ledger entries",
		"page", page,
		"per_page", perPage,
		"status", statusFilter,
	)

	entries, total, err := h.store.List(ctx, statusFilter, page, perPage)
	if err != nil {
		h.logger.Error(ctx, "Failed to list ledger entries",
			"error", err,
		)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to list ledger entries",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"items":    entries,
		"page":     page,
		"per_page": perPage,
		"total":    total,
	})
}

func (h *LedgerHandler) GetEntry(c echo.Context) error {
	ctx := c.Request().Context()

	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "id is required",
		})
	}

	entry, err := h.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrEntryNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "entry not found",
			})
		}

		h.logger.Error(ctx, "Failed to get ledger entry",
			"entry_id", id,
			"error", err,
		)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to get ledger entry",
		})
	}

	return c.JSON(http.StatusOK, entry)
}
