package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geofora/platform/pkg/anonymize"
	"github.com/geofora/platform/pkg/common/artifacts"
	"github.com/geofora/platform/pkg/common/config"
	"github.com/geofora/platform/pkg/common/database"
	"github.com/geofora/platform/pkg/common/kafka"
	"github.com/geofora/platform/pkg/common/logger"
	"github.com/geofora/platform/pkg/consent"
	"github.com/geofora/platform/pkg/observability/metrics"
	"github.com/geofora/platform/pkg/privacy"
	"github.com/gorilla/mux"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to postgres")
	}

	privacyRepo := privacy.NewRepository(db)
	if err := privacyRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate privacy tables")
	}
	consentRepo := consent.NewRepository(db)
	if err := consentRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate consent tables")
	}
	recordRepo := anonymize.NewRepository(db)
	if err := recordRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate anonymized record tables")
	}

	artifactStore := artifacts.NewRedisStore(database.GetRedis(), "geofora")
	producer := kafka.NewProducer("privacy-events")
	defer producer.Close()

	service := privacy.NewService(
		privacyRepo,
		consentRepo,
		recordRepo,
		artifactStore,
		producer,
		cfg.BaseURL,
		cfg.ExportTTL,
	)
	handler := privacy.NewHandler(service, cfg.MaxRequestBody)

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods("GET")
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods("GET")
	handler.Register(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Privacy Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Privacy Service...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}
	if err := database.CloseRedis(); err != nil {
		logger.Log.WithError(err).Error("Failed to close redis")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("Failed to close postgres")
	}

	logger.Log.Info("Privacy Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"privacy-service","time":"%s"}`, time.Now().UTC().Format(time.RFC3339))
}
