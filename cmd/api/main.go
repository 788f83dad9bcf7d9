package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/driftmark/lendcore/internal/auth"
	"github.com/driftmark/lendcore/internal/bridge"
	"github.com/driftmark/lendcore/internal/config"
	"github.com/driftmark/lendcore/internal/event"
	"github.com/driftmark/lendcore/internal/guard"
	"github.com/driftmark/lendcore/internal/ledger"
	"github.com/driftmark/lendcore/internal/lending"
	"github.com/driftmark/lendcore/internal/liquidation"
	"github.com/driftmark/lendcore/internal/market"
	"github.com/driftmark/lendcore/internal/models"
	"github.com/driftmark/lendcore/internal/position"
	"github.com/driftmark/lendcore/internal/pricefeed"
	"github.com/driftmark/lendcore/internal/stream"
	"github.com/driftmark/lendcore/internal/supply"
)

func main() {
	cfg := config.Load()

	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	if err := db.AutoMigrate(
		&models.Market{},
		&models.MarketPrice{},
		&models.Position{},
		&models.SupplyPosition{},
		&models.Event{},
		&models.EscrowRecord{},
	); err != nil {
		logrus.WithError(err).Fatal("Failed to migrate database")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logrus.WithError(err).Warn("Failed to connect to Redis, price cache disabled")
		rdb = nil
	}

	ledgerClient := ledger.NewHTTPClient(cfg.LedgerEndpoint, cfg.LedgerTimeout)

	hub := stream.NewHub()
	go hub.Run()

	marketRepo := market.NewRepository(db)
	marketService := market.NewService(marketRepo)

	priceRepo := pricefeed.NewRepository(db, rdb)
	priceService := pricefeed.NewService(priceRepo)

	eventRepo := event.NewRepository(db)
	eventService := event.NewService(eventRepo, hub)

	bridgeRepo := bridge.NewRepository(db)
	ledgerBridge := bridge.New(ledgerClient, bridgeRepo)

	positionRepo := position.NewRepository(db)
	supplyService := supply.NewService(supply.NewRepository(db), marketService)

	g := guard.New(eventService, eventRepo)
	lendingService := lending.NewService(g, marketService, priceService, positionRepo, supplyService, ledgerBridge)
	liquidationService := liquidation.NewService(positionRepo, marketService, priceService, eventService, g)

	markets, err := config.LoadMarkets(cfg.MarketsFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load market configuration")
	}
	if err := marketService.SeedMarkets(markets); err != nil {
		logrus.WithError(err).Fatal("Failed to seed markets")
	}
	logrus.WithField("markets", len(markets)).Info("Markets seeded")

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
			"service":   "lendcore-api",
		})
	})

	operatorAuth := auth.NewMiddleware(cfg.OperatorAddresses)

	v1 := router.Group("/api/v1")
	{
		market.NewHandler(marketService).RegisterRoutes(v1)

		priceHandler := pricefeed.NewHandler(priceService)
		priceHandler.RegisterRoutes(v1)

		lending.NewHandler(lendingService).RegisterRoutes(v1)
		event.NewHandler(eventService).RegisterRoutes(v1)
		stream.NewHandler(hub).RegisterRoutes(v1)

		operator := v1.Group("")
		operator.Use(operatorAuth.RequireOperator())
		{
			priceHandler.RegisterOperatorRoutes(operator)
			liquidation.NewHandler(liquidationService).RegisterOperatorRoutes(operator)
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logrus.WithField("port", cfg.Port).Info("Starting LendCore API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Fatal("Server forced to shutdown")
	}

	hub.Stop()

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	if rdb != nil {
		rdb.Close()
	}

	logrus.Info("Server exited")
}
