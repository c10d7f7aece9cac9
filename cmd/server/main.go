package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/batchsheet-processor/api/handlers"
	"github.com/feichai0017/batchsheet-processor/api/routes"
	"github.com/feichai0017/batchsheet-processor/config"
	"github.com/feichai0017/batchsheet-processor/internal/bootstrap"
	"github.com/feichai0017/batchsheet-processor/internal/service/document"
	"github.com/feichai0017/batchsheet-processor/internal/utils/validator"
	"github.com/feichai0017/batchsheet-processor/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// init logger
	log, err := logger.NewLogger(
		logger.WithConfig(cfg.Log),
		logger.WithService("batchsheet-server"),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	app, err := bootstrap.Build(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize backends", logger.Error(err))
	}
	defer app.Close()

	// init document service
	docService := document.NewService(document.Dependencies{
		Store:     app.Store,
		Blobs:     app.Blobs,
		Extractor: app.Factory.Extractor(),
		Metadata:  app.Factory.Metadata(),
		Notifier:  app.Notifier(),
		Validator: validator.NewDocumentValidator(log, validator.ConfigForExtensions(
			cfg.Ingest.AllowedExtensions,
			cfg.Ingest.MaxUploadBytes,
			cfg.Ingest.MaxPages,
		)),
	}, &document.ServiceConfig{
		PersistImages:    cfg.Ingest.PersistImages,
		AcceptPDF:        cfg.Ingest.AcceptPDF,
		QueueImages:      cfg.Ingest.QueueImages,
		StoragePrefix:    cfg.Storage.Prefix,
		SignedURLTTL:     cfg.Ingest.SignedURLTTL,
		BatchConcurrency: cfg.Ingest.BatchConcurrency,
	}, log)

	// init handlers
	gin.SetMode(cfg.Server.Mode)
	h := handlers.NewHandlers(docService, cfg.Ingest.MaxUploadBytes, log)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h, cfg.Server.AllowedOrigins, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// in-request OCR may still be running
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
