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
	"github.com/geofora/platform/pkg/common/config"
	"github.com/geofora/platform/pkg/common/database"
	"github.com/geofora/platform/pkg/common/kafka"
	"github.com/geofora/platform/pkg/common/logger"
	"github.com/geofora/platform/pkg/consent"
	"github.com/geofora/platform/pkg/observability/metrics"
	"github.com/gorilla/mux"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to postgres")
	}

	consentRepo := consent.NewRepository(db)
	if err := consentRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate consent tables")
	}
	recordRepo := anonymize.NewRepository(db)
	if err := recordRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate anonymized record tables")
	}

	if cfg.ProviderSeedPath != "" {
		seeded, err := consentRepo.SeedProviders(context.Background(), cfg.ProviderSeedPath)
		if err != nil {
			logger.Log.WithError(err).Fatal("Failed to seed provider catalog")
		}
		logger.Log.WithField("providers", seeded).Info("Provider catalog seeded")
	}

	producer := kafka.NewProducer("consent-events")
	defer producer.Close()

	service := consent.NewService(consentRepo, recordRepo, producer, cfg.ConsentPolicyVersion)
	handler := consent.NewHandler(service, cfg.MaxRequestBody)

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
		}).Info("Consent Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Consent Service...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("Failed to close postgres")
	}

	logger.Log.Info("Consent Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"consent-service","time":"%s"}`, time.Now().UTC().Format(time.RFC3339))
}
