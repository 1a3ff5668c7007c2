package escrow

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/payhold/internal/fees"
	"github.com/sudo-init-do/payhold/internal/processor"
)

// Handler exposes the escrow operations over HTTP.
type Handler struct {
	Orchestrator *Orchestrator
	Dispatcher   *Dispatcher
	Store        Store
}

func NewHandler(o *Orchestrator, d *Dispatcher, s Store) *Handler {
	return &Handler{Orchestrator: o, Dispatcher: d, Store: s}
}

// Create - checkout flow opens a new escrow transaction
// POST /escrow
func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	res, err := h.Orchestrator.CreateEscrow(c.Request().Context(), in)
	if err != nil {
		var ve *fees.ValidationError
		switch {
		case errors.As(err, &ve):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": ve.Error()})
		case errors.Is(err, ErrDuplicateActive):
			return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
		case processor.IsTransient(err):
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "payment processor unavailable, retry later"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not create escrow transaction"})
		}
	}

	return c.JSON(http.StatusCreated, res)
}

// Release - job-completion collaborator releases held funds to the payee
// POST /escrow/:id/release
func (h *Handler) Release(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid transaction id"})
	}

	payoutRef, err := h.Dispatcher.Release(c.Request().Context(), id)
	if err != nil {
		var ite *InvalidTransitionError
		var re *ReconciliationError
		switch {
		case errors.Is(err, ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "escrow transaction not found"})
		case errors.As(err, &ite):
			return c.JSON(http.StatusConflict, echo.Map{"error": ite.Error(), "status": string(ite.From)})
		case errors.Is(err, ErrConflict):
			return c.JSON(http.StatusConflict, echo.Map{"error": err.Error(), "retryable": true})
		case errors.As(err, &re):
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": re.Error(), "manual_review": true})
		case processor.IsTransient(err):
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "transfer dispatch failed, retry later", "retryable": true})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "release failed"})
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"transaction_id":   id,
		"payout_reference": payoutRef,
	})
}

// Refund - authorized refund request for a pending or held transaction
// POST /escrow/:id/refund
func (h *Handler) Refund(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid transaction id"})
	}

	status, err := h.Dispatcher.Refund(c.Request().Context(), id)
	if err != nil {
		var ite *InvalidTransitionError
		switch {
		case errors.Is(err, ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "escrow transaction not found"})
		case errors.As(err, &ite):
			return c.JSON(http.StatusConflict, echo.Map{"error": ite.Error(), "status": string(ite.From)})
		case errors.Is(err, ErrConflict):
			return c.JSON(http.StatusConflict, echo.Map{"error": err.Error(), "retryable": true})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "refund failed"})
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"transaction_id": id,
		"status":         string(status),
	})
}

// Get - read one transaction from the audit trail
// GET /escrow/:id
func (h *Handler) Get(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid transaction id"})
	}

	tx, err := h.Store.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "escrow transaction not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not fetch transaction"})
	}
	return c.JSON(http.StatusOK, tx)
}

// ListByJob - all transactions recorded for one job
// GET /escrow?job_id=...
func (h *Handler) ListByJob(c echo.Context) error {
	jobID := c.QueryParam("job_id")
	if jobID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "job_id query parameter required"})
	}

	txs, err := h.Store.ListByJob(c.Request().Context(), jobID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not list transactions"})
	}
	return c.JSON(http.StatusOK, echo.Map{"job_id": jobID, "transactions": txs})
}
