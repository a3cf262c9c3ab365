package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vendorhub/fulfillment-service/internal/cart"
	"github.com/vendorhub/fulfillment-service/internal/catalog"
	"github.com/vendorhub/fulfillment-service/internal/config"
	"github.com/vendorhub/fulfillment-service/internal/db"
	"github.com/vendorhub/fulfillment-service/internal/handler"
	"github.com/vendorhub/fulfillment-service/internal/inventory"
	"github.com/vendorhub/fulfillment-service/internal/notify"
	"github.com/vendorhub/fulfillment-service/internal/order"
	"github.com/vendorhub/fulfillment-service/internal/pickup"
	"github.com/vendorhub/fulfillment-service/internal/proxy"
	"github.com/vendorhub/fulfillment-service/internal/redisx"
	"github.com/vendorhub/fulfillment-service/internal/shipping"
	"github.com/vendorhub/fulfillment-service/internal/transport"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "fulfillment-service").Logger()

	log.Info().Msg("Fulfillment service starting...")

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.ApplyMigrations(cfg.Postgres); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	dbConn, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbConn.Close()

	rdb := redisx.New(cfg.Redis.Addr)
	defer rdb.Close()

	publisher := notify.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.StatusTopic, cfg.App.ServiceName)
	defer publisher.Close()

	ledger := inventory.NewLedger(dbConn.Pool)
	catalogRepo := catalog.NewRepository(dbConn.Pool)
	cartRepo := cart.NewRepository(dbConn.Pool)
	orderRepo := order.NewRepository(dbConn.Pool)

	orderSvc := order.NewService(orderRepo, catalogRepo, cartRepo, ledger, publisher)
	scheduler := pickup.NewScheduler(orderSvc, pickup.WindowConfig{
		MinLead:   cfg.Pickup.MinLead,
		ClosedDay: cfg.Pickup.ClosedDay,
		OpenHour:  cfg.Pickup.OpenHour,
		CloseHour: cfg.Pickup.CloseHour,
	})
	orchestrator := proxy.NewOrchestrator(orderRepo, catalogRepo, proxy.NewRepository(dbConn.Pool),
		redisx.NewDeduper(rdb), publisher, cfg.Proxy.MarkupFactor)
	dispatcher := shipping.NewDispatcher(orderRepo, shipping.NewShopDirectory(dbConn.Pool),
		publisher, cfg.Shipping.DeliveryDwell)

	orderHandler := handler.NewOrderHandler(orderSvc, scheduler, redisx.NewStatusCache(rdb))
	fulfillmentHandler := handler.NewFulfillmentHandler(orchestrator, dispatcher, ledger)
	router := transport.NewRouter(orderHandler, fulfillmentHandler)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Elapsed-time auto-completion of in-transit orders.
	go func() {
		ticker := time.NewTicker(cfg.Shipping.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := dispatcher.CompleteDeliveries(ctx); err != nil {
					log.Error().Err(err).Msg("Delivery sweep failed")
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
