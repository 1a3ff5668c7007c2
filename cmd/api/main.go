package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/sudo-init-do/payhold/internal/admin"
	"github.com/sudo-init-do/payhold/internal/alerts"
	"github.com/sudo-init-do/payhold/internal/db"
	"github.com/sudo-init-do/payhold/internal/escrow"
	"github.com/sudo-init-do/payhold/internal/events"
	"github.com/sudo-init-do/payhold/internal/fees"
	appmw "github.com/sudo-init-do/payhold/internal/middleware"
	"github.com/sudo-init-do/payhold/internal/processor"
	"github.com/sudo-init-do/payhold/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	// Init subsystems
	db.Init()
	alerts.Init()
	defer alerts.Close()

	// Domain event bus: gochannel pub/sub with a router forwarding
	// escrow events to the alerts consumer.
	wmLogger := watermill.NewStdLogger(false, false)
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		log.Fatalf("could not build event router: %v", err)
	}
	router.AddMiddleware(
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: time.Second,
			Multiplier:      2.0,
		}.Middleware,
		middleware.Recoverer,
	)
	router.AddNoPublisherHandler(
		"escrow_event_alerts",
		events.Topic,
		pubsub,
		alerts.HandleEscrowEvent,
	)
	go func() {
		if err := router.Run(context.Background()); err != nil {
			log.Printf("event router stopped: %v", err)
		}
	}()

	// Core wiring: processor client injected, no package-level singleton
	ledger := escrow.NewPgStore(db.Conn)
	dedup := webhook.NewPgDedupStore(db.Conn)
	stripeClient := processor.NewStripeClient()
	machine := escrow.NewStateMachine(ledger, events.NewWatermillPublisher(pubsub))
	orchestrator := escrow.NewOrchestrator(ledger, fees.ScheduleFromEnv(), stripeClient, machine)
	dispatcher := escrow.NewDispatcher(ledger, machine, stripeClient)
	ingestor := webhook.NewIngestor(dedup, machine)

	escrowHandler := escrow.NewHandler(orchestrator, dispatcher, ledger)
	webhookHandler := webhook.NewHandler(ingestor)
	adminHandler := admin.NewHandler(ledger, dedup)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())

	// Health
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/ready", func(c echo.Context) error {
		if db.Conn == nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "db not initialized"})
		}
		if err := db.Conn.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "db unreachable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	})

	// Processor webhooks (authenticated by signature, not JWT)
	e.POST("/webhooks/processor", webhookHandler.Receive)

	// Escrow operations
	g := e.Group("")
	g.Use(appmw.JWTMiddleware)
	g.POST("/escrow", escrowHandler.Create)
	g.GET("/escrow", escrowHandler.ListByJob)
	g.GET("/escrow/:id", escrowHandler.Get)
	g.POST("/escrow/:id/release", escrowHandler.Release, appmw.RequireRoles("job-service", "admin"))
	g.POST("/escrow/:id/refund", escrowHandler.Refund, appmw.RequireRoles("job-service", "admin"))

	// Operator routes
	adminGroup := e.Group("/admin")
	adminGroup.Use(appmw.JWTMiddleware)
	adminGroup.Use(appmw.RequireRoles("admin"))
	adminGroup.GET("/escrow/flagged", adminHandler.ListFlagged)
	adminGroup.GET("/events/orphaned", adminHandler.ListOrphanedEvents)
	adminGroup.GET("/stats", adminHandler.Stats)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("API server listening on :%s", port)
	if err := e.Start(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
