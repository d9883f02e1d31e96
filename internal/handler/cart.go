package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keymart/keymart/internal/repository"
)

// CartHandler exposes the buyer's cart.  Carts store product and
// quantity only; lines whose product has run out of unsold keys are
// dropped lazily on read so a quote never includes an unfulfillable
// product.
type CartHandler struct {
	CartRepo    *repository.CartRepo
	ProductRepo *repository.ProductRepo
}

// NewCartHandler constructs a CartHandler.
func NewCartHandler(cartRepo *repository.CartRepo, productRepo *repository.ProductRepo) *CartHandler {
	if cartRepo == nil || productRepo == nil {
		panic("nil repository passed to NewCartHandler")
	}
	return &CartHandler{CartRepo: cartRepo, ProductRepo: productRepo}
}

// GetCart handles GET /v1/cart.  It returns the buyer's sellable
// cart lines.
func (h *CartHandler) GetCart(c echo.Context) error {
	buyerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.CartRepo.GetItems(c.Request().Context(), buyerID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load cart"})
	}
	lines := make([]echo.Map, 0, len(items))
	for _, it := range items {
		lines = append(lines, echo.Map{"product_id": it.ProductID, "quantity": it.Quantity})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": lines})
}

// SetItem handles POST /v1/cart/items.  The body carries product_id
// and quantity; quantity zero removes the line and add=true
// increments instead of replacing.  Negative quantities never parse
// into the unsigned field and are rejected by Bind.
func (h *CartHandler) SetItem(c echo.Context) error {
	buyerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		ProductID uint64 `json:"product_id"`
		Quantity  uint32 `json:"quantity"`
		Add       bool   `json:"add"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.ProductID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "product_id is required"})
	}
	ctx := c.Request().Context()
	if _, err := h.ProductRepo.GetByID(ctx, body.ProductID); err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "product not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if body.Add {
		err = h.CartRepo.AddItem(ctx, buyerID, body.ProductID, body.Quantity)
	} else {
		err = h.CartRepo.SetItem(ctx, buyerID, body.ProductID, body.Quantity)
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update cart"})
	}
	return c.JSON(http.StatusOK, echo.Map{"updated": true})
}
