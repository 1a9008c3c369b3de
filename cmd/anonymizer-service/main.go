package main

import (
	"context"
	"errors"
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
	"github.com/geofora/platform/pkg/common/models"
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

	engine := anonymize.NewEngine()
	service := anonymize.NewService(consentRepo, recordRepo, engine)
	handler := anonymize.NewHandler(service, cfg.MaxRequestBody)

	// New forum content arrives on the bus; anonymize it as it lands so
	// exports only ever read pre-redacted rows.
	consumer := kafka.NewConsumer("content-events", "anonymizer-service")
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		err := consumer.Consume(ctx, func(ctx context.Context, event models.Event) error {
			return handleContentEvent(ctx, service, event)
		})
		if err != nil && err != context.Canceled {
			logger.Log.WithError(err).Error("Consumer stopped")
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
		}).Info("Anonymizer Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Anonymizer Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("Failed to close postgres")
	}

	logger.Log.Info("Anonymizer Service stopped")
}

func handleContentEvent(ctx context.Context, service *anonymize.Service, event models.Event) error {
	req := models.AnonymizeRequest{
		OrganizationID: asInt64(event.Data["organization_id"]),
		ProviderID:     asInt64(event.Data["provider_id"]),
		UserID:         asInt64(event.Data["user_id"]),
		ThreadID:       asInt64(event.Data["thread_id"]),
		PostID:         asInt64(event.Data["post_id"]),
		DataType:       asString(event.Data["data_type"]),
		Content:        asString(event.Data["content"]),
	}
	if req.OrganizationID == 0 || req.ProviderID == 0 || req.Content == "" {
		logger.Log.WithField("event_id", event.ID).Warn("Skipping content event with missing fields")
		return nil
	}
	_, err := service.AnonymizeContent(ctx, req)
	if errors.Is(err, anonymize.ErrNoConsent) {
		// Not an error: content for non-consented providers simply stays out
		// of the anonymized store.
		return nil
	}
	return err
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"anonymizer-service","time":"%s"}`, time.Now().UTC().Format(time.RFC3339))
}
