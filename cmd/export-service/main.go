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
	"github.com/geofora/platform/pkg/export"
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

	jobStore := export.NewGormJobStore(db)
	if err := jobStore.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate export job tables")
	}
	contentRepo := export.NewContentRepository(db)
	if err := contentRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate content tables")
	}
	consentRepo := consent.NewRepository(db)
	if err := consentRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate consent tables")
	}

	artifactStore := artifacts.NewRedisStore(database.GetRedis(), "geofora")
	producer := kafka.NewProducer("export-events")
	defer producer.Close()

	service := export.NewService(
		jobStore,
		contentRepo,
		consentRepo,
		consentRepo,
		anonymize.NewEngine(),
		artifactStore,
		producer,
		cfg.BaseURL,
		cfg.ExportTTL,
		cfg.ExportMaxRecords,
	)
	handler := export.NewHandler(service, cfg.MaxRequestBody)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Expired jobs are swept on a fixed interval; the artifact keys expire on
	// their own via redis TTLs.
	go func() {
		ticker := time.NewTicker(cfg.ExportSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := service.CleanupExpired(ctx)
				if err != nil {
					logger.Log.WithError(err).Error("Export sweep failed")
					continue
				}
				if removed > 0 {
					logger.Log.WithField("removed", removed).Info("Expired export jobs swept")
				}
			}
		}
	}()

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
		}).Info("Export Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Export Service...")
	cancel()

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

	logger.Log.Info("Export Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"export-service","time":"%s"}`, time.Now().UTC().Format(time.RFC3339))
}
