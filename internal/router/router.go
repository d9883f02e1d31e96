package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/keymart/keymart/internal/config"
	"github.com/keymart/keymart/internal/handler"
	"github.com/keymart/keymart/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance: the health check and the gateway webhook.  The
// webhook authenticates by HMAC signature inside the handler, never by JWT,
// because it is the gateway calling, not a buyer.
func RegisterRoutes(e *echo.Echo, ch *handler.CheckoutHandler) {
	e.GET("/healthz", handler.Health)
	e.POST("/v1/checkout/webhook", ch.Webhook)
}

// RegisterCheckout registers the buyer-facing checkout, cart and order
// endpoints under /v1.  Every route requires a valid access token with the
// CUSTOMER role, and the checkout group additionally runs the Redis token
// bucket so a single buyer cannot hammer reserve (each call claims keys).
func RegisterCheckout(
	e *echo.Echo,
	ch *handler.CheckoutHandler,
	cart *handler.CartHandler,
	orders *handler.OrdersHandler,
	jwtSecret string,
	rlCfg config.RateLimitConfig,
	rdb *redis.Client,
) {
	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole("CUSTOMER"))

	co := auth.Group("/checkout")
	co.Use(middleware.NewTokenBucket(rlCfg, rdb))
	co.POST("/quote", ch.Quote)
	co.POST("/reserve", ch.Reserve)
	co.POST("/confirm", ch.Confirm)
	co.POST("/cancel", ch.Cancel)

	auth.GET("/cart", cart.GetCart)
	auth.POST("/cart/items", cart.SetItem)
	auth.GET("/orders", orders.ListOrders)
}

// RegisterAdmin registers the key upload endpoint.  Only the ADMIN role may
// load keys into the pool.
func RegisterAdmin(e *echo.Echo, admin *handler.AdminKeysHandler, jwtSecret string) {
	g := e.Group("/v1/admin")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole("ADMIN"))
	g.POST("/products/:id/keys", admin.UploadKeys)
}
