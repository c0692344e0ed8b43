package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/candyworks/sweetshop/internal/config"
	"github.com/candyworks/sweetshop/internal/es"
	"github.com/candyworks/sweetshop/internal/handlers"
	"github.com/candyworks/sweetshop/internal/logging"
	"github.com/candyworks/sweetshop/internal/middleware"
	"github.com/candyworks/sweetshop/internal/mykafka"
	"github.com/candyworks/sweetshop/internal/service"
	"github.com/candyworks/sweetshop/internal/service/search"
	"github.com/candyworks/sweetshop/internal/storage"
	httpserver "github.com/candyworks/sweetshop/internal/transport/http"
)

func main() {
	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(configuration.LOG_LEVEL)

	db, err := config.InitDB(configuration)
	if err != nil {
		log.Fatalf("database init error: %v", err)
	}

	var producer *mykafka.Producer
	if configuration.KAFKA_ADDRESS != "" {
		producer = mykafka.NewProducer([]string{configuration.KAFKA_ADDRESS})
	}

	searchSvc := &search.Service{Index: configuration.ES_INDEX}
	if configuration.ES_URL != "" {
		esClient, err := es.NewClient(configuration)
		if err != nil {
			log.Fatalf("elasticsearch init error: %v", err)
		}
		searchSvc.ES = esClient
	}

	images, err := storage.NewDiskStore(configuration.UPLOAD_DIR, configuration.PUBLIC_URL)
	if err != nil {
		log.Fatal(err)
	}

	inventory := &service.InventoryService{DB: db}
	purchases := &service.PurchaseService{DB: db, Inventory: inventory}
	auth := &service.AuthService{
		DB:            db,
		JWTSecret:     []byte(configuration.JWT_SECRET),
		RefreshSecret: []byte(configuration.REFRESH_SECRET),
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handlers.HTTPErrorHandler
	e.Pre(echomw.RemoveTrailingSlash())
	e.Use(echomw.Recover(), echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))

	deps := httpserver.Deps{
		AuthHandler: &handlers.AuthHandler{
			Auth:      auth,
			Purchases: purchases,
			Producer:  producer,
		},
		SweetHandler: &handlers.SweetHandler{
			Inventory: inventory,
			Purchases: purchases,
			Search:    searchSvc,
			Images:    images,
			Producer:  producer,
		},
		Auth:          &middleware.AuthMiddleware{Auth: auth},
		StaticDir:     configuration.UPLOAD_DIR,
		AuthRateLimit: middleware.RateLimit(5, 10),
	}
	httpserver.Register(e, &deps)

	srv := &http.Server{
		Addr:         ":" + configuration.PORT,
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()
	logger.Info("server started", "port", configuration.PORT)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logger.Error("db close error", "error", err)
		}
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("kafka close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
