package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/payhold/internal/escrow"
	"github.com/sudo-init-do/payhold/internal/webhook"
)

// Handler is the operator surface: everything here leaves an auditable
// state behind rather than mutating the ledger.
type Handler struct {
	Ledger escrow.Store
	Events webhook.DedupStore
}

func NewHandler(ledger escrow.Store, events webhook.DedupStore) *Handler {
	return &Handler{Ledger: ledger, Events: events}
}

// ListFlagged - transactions frozen for manual review
// GET /admin/escrow/flagged
func (h *Handler) ListFlagged(c echo.Context) error {
	txs, err := h.Ledger.ListFlagged(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not list flagged transactions"})
	}
	return c.JSON(http.StatusOK, echo.Map{"count": len(txs), "transactions": txs})
}

// ListOrphanedEvents - webhook events with no matching transaction
// GET /admin/events/orphaned
func (h *Handler) ListOrphanedEvents(c echo.Context) error {
	evs, err := h.Events.ListOrphaned(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not list orphaned events"})
	}
	return c.JSON(http.StatusOK, echo.Map{"count": len(evs), "events": evs})
}

// Stats - transaction count and gross volume per status
// GET /admin/stats
func (h *Handler) Stats(c echo.Context) error {
	aggs, err := h.Ledger.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not compute stats"})
	}
	return c.JSON(http.StatusOK, echo.Map{"stats": aggs})
}
