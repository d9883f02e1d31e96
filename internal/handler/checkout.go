package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keymart/keymart/internal/checkout"
	"github.com/keymart/keymart/internal/model"
	"github.com/keymart/keymart/internal/payment"
	"github.com/keymart/keymart/internal/repository"
)

// CheckoutHandler exposes the checkout state machine over HTTP.  All
// endpoints except the webhook assume JWT authentication has already
// run; the webhook authenticates by signature instead.  Failures are
// returned with a human-readable error and a machine-readable kind;
// key values and raw gateway payloads never appear in a response.
type CheckoutHandler struct {
	Orchestrator *checkout.Orchestrator
}

// NewCheckoutHandler constructs a CheckoutHandler.
func NewCheckoutHandler(orc *checkout.Orchestrator) *CheckoutHandler {
	if orc == nil {
		panic("nil orchestrator passed to NewCheckoutHandler")
	}
	return &CheckoutHandler{Orchestrator: orc}
}

// Quote handles POST /v1/checkout/quote.  It prices the buyer's cart
// from authoritative catalog prices and returns the total the
// reserve step would charge.
func (h *CheckoutHandler) Quote(c echo.Context) error {
	buyerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	quote, err := h.Orchestrator.BuildQuote(c.Request().Context(), buyerID)
	if err != nil {
		return checkoutError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"state": checkout.StateQuoting,
		"quote": quote,
	})
}

// Reserve handles POST /v1/checkout/reserve.  It claims keys for
// every cart line, opens the reservation and returns the payment
// intent the buyer completes out-of-band.  The expiry deadline is
// included so clients can render an honest countdown.
func (h *CheckoutHandler) Reserve(c echo.Context) error {
	buyerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	res, err := h.Orchestrator.Reserve(c.Request().Context(), buyerID)
	if err != nil {
		return checkoutError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"state":       res.State,
		"intent_id":   res.IntentID,
		"total_cents": res.TotalCents,
		"currency":    res.Currency,
		"expires_at":  res.ExpiresAt.UTC().Format(time.RFC3339),
		"quote":       res.Quote,
	})
}

// Confirm handles POST /v1/checkout/confirm: the browser-return
// confirmation carrying the gateway's signature over intent and
// payment id.  A duplicate confirmation returns the original order
// rather than an error, so client retries are harmless.
func (h *CheckoutHandler) Confirm(c echo.Context) error {
	buyerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		IntentID  string `json:"intent_id"`
		PaymentID string `json:"payment_id"`
		Signature string `json:"signature"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.IntentID == "" || body.PaymentID == "" || body.Signature == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "intent_id, payment_id and signature are required"})
	}
	ord, err := h.Orchestrator.Confirm(c.Request().Context(), buyerID, body.IntentID, body.PaymentID, body.Signature)
	if errors.Is(err, repository.ErrAlreadySettled) && ord != nil {
		// First callback won; report its result as success.
		return c.JSON(http.StatusOK, echo.Map{"state": checkout.StateSettled, "order": orderView(ord)})
	}
	if err != nil {
		return checkoutError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"state": checkout.StateSettled, "order": orderView(ord)})
}

// Webhook handles POST /v1/checkout/webhook: the gateway's
// server-to-server deliveries.  The raw body is verified before any
// decoding.  Every acknowledged delivery answers 2xx, even a
// duplicate or a verified body nothing can act on, because a non-2xx
// makes the gateway retry forever.  Only a bad signature and
// transient processing failures answer non-2xx.
func (h *CheckoutHandler) Webhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	signature := c.Request().Header.Get("X-Webhook-Signature")
	outcome, err := h.Orchestrator.HandleWebhook(c.Request().Context(), body, signature)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid signature", "kind": "invalid_signature"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "processing failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"processed": outcome.Processed, "event": outcome.Event})
}

// Cancel handles POST /v1/checkout/cancel.  It releases the buyer's
// reservation and returns the keys to the pool.
func (h *CheckoutHandler) Cancel(c echo.Context) error {
	buyerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if err := h.Orchestrator.Cancel(c.Request().Context(), buyerID); err != nil {
		return checkoutError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"state": checkout.StateReleased})
}

// checkoutError maps domain errors to HTTP responses with a
// machine-readable kind.
func checkoutError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, checkout.ErrEmptyCart):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "cart is empty", "kind": "empty_cart"})
	case errors.Is(err, repository.ErrPriceUnavailable):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "a product price is missing or invalid", "kind": "price_unavailable"})
	case errors.Is(err, repository.ErrInsufficientStock):
		return c.JSON(http.StatusConflict, echo.Map{"error": "not enough keys available, try again later", "kind": "insufficient_stock"})
	case errors.Is(err, repository.ErrNoActiveReservation):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no active reservation", "kind": "no_active_reservation"})
	case errors.Is(err, repository.ErrAlreadyReleased):
		return c.JSON(http.StatusConflict, echo.Map{"error": "payment already recorded as failed", "kind": "already_released"})
	case errors.Is(err, checkout.ErrIntentMismatch):
		return c.JSON(http.StatusConflict, echo.Map{"error": "payment does not match the active reservation", "kind": "intent_mismatch"})
	case errors.Is(err, payment.ErrInvalidSignature):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid signature", "kind": "invalid_signature"})
	case errors.Is(err, payment.ErrUpstreamGateway):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment gateway unavailable, retry shortly", "kind": "upstream_gateway_error"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

// orderView sanitizes an order for HTTP responses.
func orderView(ord *model.Order) echo.Map {
	items := make([]echo.Map, 0, len(ord.Items))
	for _, it := range ord.Items {
		items = append(items, echo.Map{
			"product_id":       it.ProductID,
			"product_name":     it.ProductName,
			"quantity":         it.Quantity,
			"unit_price_cents": it.UnitPriceCents,
		})
	}
	v := echo.Map{
		"order_id":       ord.ID,
		"payment_ref":    ord.PaymentRef,
		"payment_status": ord.PaymentStatus,
		"total_cents":    ord.TotalCents,
		"items":          items,
		"created_at":     ord.CreatedAt.UTC().Format(time.RFC3339),
	}
	if ord.FailureReason != "" {
		v["failure_reason"] = ord.FailureReason
	}
	return v
}
