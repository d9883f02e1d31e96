package main // Entry point package

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/keymart/keymart/internal/checkout"
	"github.com/keymart/keymart/internal/config"
	"github.com/keymart/keymart/internal/database"
	"github.com/keymart/keymart/internal/handler"
	"github.com/keymart/keymart/internal/payment"
	"github.com/keymart/keymart/internal/queue"
	"github.com/keymart/keymart/internal/repository"
	"github.com/keymart/keymart/internal/router"
	queue_publisher "github.com/keymart/keymart/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set the environment
	cfg := config.Load()

	store, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName, database.Options{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	db := store.DB()

	// Repositories
	keyRepo := repository.NewKeyRepo(db)
	reservationRepo := repository.NewReservationRepo(db)
	orderRepo := repository.NewOrderRepo(db)
	productRepo := repository.NewProductRepo(db)
	cartRepo := repository.NewCartRepo(db, keyRepo)

	// Payment gateway adapter and callback verifier
	gateway := payment.NewGateway(cfg.PaymentBaseURL, cfg.PaymentKeyID, cfg.PaymentKeySecret)
	verifier := payment.NewVerifier(cfg.PaymentKeySecret, cfg.PaymentWebhookSecret)

	publisher := queue_publisher.NewPublisher()
	notifier := queue_publisher.NewLogNotifier()

	settlement := checkout.NewSettlement(store, keyRepo, reservationRepo, orderRepo, productRepo, cartRepo, publisher, notifier)
	orchestrator := checkout.NewOrchestrator(
		store, keyRepo, reservationRepo, productRepo, cartRepo,
		gateway, verifier, settlement,
		cfg.Currency, uint64(cfg.TaxRateBP), cfg.ReservationTTL, cfg.SweepInterval,
	)

	// The sweep re-derives due expiries from storage, so reservations
	// left over from a previous process are released on the first tick.
	go orchestrator.RunSweeper(context.Background())

	// Background delivery consumer for settled orders.
	go func() {
		if err := queue.StartDeliveryConsumer(); err != nil {
			log.Printf("delivery consumer stopped: %v", err)
		}
	}()

	checkoutHandler := handler.NewCheckoutHandler(orchestrator)
	cartHandler := handler.NewCartHandler(cartRepo, productRepo)
	ordersHandler := handler.NewOrdersHandler(orderRepo)
	adminHandler := handler.NewAdminKeysHandler(keyRepo, productRepo)

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable; rate limiting disabled")
	}

	e := echo.New()
	router.RegisterRoutes(e, checkoutHandler)
	router.RegisterCheckout(e, checkoutHandler, cartHandler, ordersHandler, cfg.JWTSecret, config.LoadRateLimitConfig(), rdb)
	router.RegisterAdmin(e, adminHandler, cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
