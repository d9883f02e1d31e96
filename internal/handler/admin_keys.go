package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/keymart/keymart/internal/repository"
)

// AdminKeysHandler lets administrators load product keys in bulk.
// This is the only write path into the key pool besides checkout
// itself; sold keys are never deleted.
type AdminKeysHandler struct {
	KeyRepo     *repository.KeyRepo
	ProductRepo *repository.ProductRepo
}

// NewAdminKeysHandler constructs an AdminKeysHandler.
func NewAdminKeysHandler(keyRepo *repository.KeyRepo, productRepo *repository.ProductRepo) *AdminKeysHandler {
	if keyRepo == nil || productRepo == nil {
		panic("nil repository passed to NewAdminKeysHandler")
	}
	return &AdminKeysHandler{KeyRepo: keyRepo, ProductRepo: productRepo}
}

// UploadKeys handles POST /v1/admin/products/:id/keys.  The body
// carries a JSON array of key strings; blanks are dropped and
// duplicates within the batch rejected before touching the database,
// so a partial insert cannot happen on obviously bad input.
func (h *AdminKeysHandler) UploadKeys(c echo.Context) error {
	productID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || productID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid product id"})
	}
	var body struct {
		Keys []string `json:"keys"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	values := make([]string, 0, len(body.Keys))
	seen := make(map[string]struct{}, len(body.Keys))
	for _, k := range body.Keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "duplicate key values in batch"})
		}
		seen[k] = struct{}{}
		values = append(values, k)
	}
	if len(values) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "keys is required"})
	}
	ctx := c.Request().Context()
	if _, err := h.ProductRepo.GetByID(ctx, productID); err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "product not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if err := h.KeyRepo.CreateBulk(ctx, productID, values); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to store keys"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"created": len(values)})
}
