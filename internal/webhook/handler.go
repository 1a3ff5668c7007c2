package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// maxPayloadBytes bounds inbound webhook bodies.
const maxPayloadBytes = int64(65536)

// Handler exposes the processor webhook endpoint.
type Handler struct {
	Ingestor *Ingestor
}

func NewHandler(ing *Ingestor) *Handler {
	return &Handler{Ingestor: ing}
}

// Receive - inbound processor events
// POST /webhooks/processor
//
// Responds 2xx for processed, duplicate, unrecognized and orphaned
// events (all final outcomes) and 5xx only for transient failures,
// which signals the processor to redeliver.
func (h *Handler) Receive(c echo.Context) error {
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxPayloadBytes)
	payload, err := io.ReadAll(req.Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "could not read request body"})
	}

	res, err := h.Ingestor.Ingest(req.Context(), payload, req.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, ErrBadSignature):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid signature"})
		case errors.Is(err, ErrStaleEvent):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "event too old"})
		default:
			// transient: the dedup record was rolled back, redeliver
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "temporary failure, retry"})
		}
	}

	return c.JSON(http.StatusOK, res)
}
