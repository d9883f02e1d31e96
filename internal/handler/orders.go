package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keymart/keymart/internal/repository"
)

// OrdersHandler exposes a buyer's order history.
type OrdersHandler struct {
	OrderRepo *repository.OrderRepo
}

// NewOrdersHandler constructs an OrdersHandler.
func NewOrdersHandler(orderRepo *repository.OrderRepo) *OrdersHandler {
	if orderRepo == nil {
		panic("nil repository passed to NewOrdersHandler")
	}
	return &OrdersHandler{OrderRepo: orderRepo}
}

// ListOrders handles GET /v1/orders.  It returns the buyer's orders
// newest first, without key values: delivery happens through the
// settled-order event, never through this listing.
func (h *OrdersHandler) ListOrders(c echo.Context) error {
	buyerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	orders, err := h.OrderRepo.ListByBuyer(c.Request().Context(), buyerID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load orders"})
	}
	items := make([]echo.Map, 0, len(orders))
	for i := range orders {
		items = append(items, orderView(&orders[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
