package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/qsosync/platform/pkg/adapters"
	"github.com/qsosync/platform/pkg/adapters/pota"
	"github.com/qsosync/platform/pkg/adapters/qrz"
	"github.com/qsosync/platform/pkg/adapters/wavelog"
	"github.com/qsosync/platform/pkg/bandplan"
	"github.com/qsosync/platform/pkg/common/config"
	"github.com/qsosync/platform/pkg/common/database"
	"github.com/qsosync/platform/pkg/common/httpclient"
	"github.com/qsosync/platform/pkg/common/kafka"
	"github.com/qsosync/platform/pkg/common/logger"
	"github.com/qsosync/platform/pkg/common/models"
	"github.com/qsosync/platform/pkg/dedupe"
	"github.com/qsosync/platform/pkg/importer"
	"github.com/qsosync/platform/pkg/observability/metrics"
	"github.com/qsosync/platform/pkg/presence"
	"github.com/qsosync/platform/pkg/qso"
	"github.com/qsosync/platform/pkg/statestore"
	"github.com/qsosync/platform/pkg/syncer"
)

func main() {
	logger.Init()
	metrics.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	repo := qso.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate log tables")
	}

	stateRepo := statestore.NewRepository(db)
	if err := stateRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate state tables")
	}
	cursors := statestore.NewCached(stateRepo, database.GetRedis(), cfg.CursorCacheTTL)

	producer := kafka.NewProducer(cfg.SyncEventsTopic)
	defer producer.Close()

	client := httpclient.New(cfg.RequestTimeout)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcAdapters := buildAdapters(ctx, cfg, client)
	if len(svcAdapters) == 0 {
		logger.Log.Fatal("no services configured, nothing to sync")
	}
	uploadCapable := make([]string, 0, len(svcAdapters))
	for _, adapter := range svcAdapters {
		if adapter.UploadCapable() {
			uploadCapable = append(uploadCapable, adapter.Name())
		}
	}

	plan, err := bandplan.Load(cfg.BandPlanFile)
	if err != nil {
		logger.Log.WithError(err).WithField("path", cfg.BandPlanFile).Warn("band plan load failed, using built-in plan")
	}

	tracker := presence.NewTracker(repo, uploadCapable)
	pipeline := importer.NewPipeline(repo, tracker, producer, uploadCapable, plan)

	var deduper syncer.Deduper
	if cfg.RunDedupeOnSync {
		deduper = dedupe.NewEngine(repo, producer, dedupe.DefaultWindow)
	}

	orchestrator := syncer.NewOrchestrator(svcAdapters, repo, pipeline, tracker, cursors, deduper, producer, cfg.SyncBatchSize)
	handler := syncer.NewHandler(orchestrator)
	importHandler := importer.NewHTTPHandler(pipeline, cfg.MaxRequestBody)

	router := mux.NewRouter()
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.RegisterRoutes(api)
	importHandler.Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Sync Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	go func() {
		consumer := kafka.NewConsumer(cfg.SyncEventsTopic, cfg.KafkaGroupID+"-metrics")
		defer consumer.Close()
		err := consumer.Consume(ctx, func(_ context.Context, event models.Event) error {
			metrics.HandleEvent(event)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Error("metrics consumer stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Sync Service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Sync Service stopped")
}

// buildAdapters wires an adapter for every service with credentials in the
// environment. An unconfigured service is left out rather than failing the
// whole process.
func buildAdapters(ctx context.Context, cfg *config.Config, client *http.Client) []adapters.Adapter {
	var out []adapters.Adapter

	if cfg.WavelogBaseURL != "" && cfg.WavelogAPIKey != "" {
		out = append(out, wavelog.NewAdapter(cfg.WavelogBaseURL, cfg.WavelogAPIKey, cfg.WavelogStation, client, cfg.FetchPageLimit, cfg.WavelogOtherOnly))
		logger.Log.Info("wavelog adapter configured")
	}

	if cfg.QRZUsername != "" && cfg.QRZPassword != "" {
		out = append(out, qrz.NewAdapter(cfg.QRZBaseURL, cfg.QRZUsername, cfg.QRZPassword, client))
		logger.Log.Info("qrz adapter configured")
	}

	if cfg.POTASessionFile != "" {
		window := pota.Window{
			Weekday: cfg.POTAMaintenanceDay,
			Start:   cfg.POTAMaintenanceStart,
			Length:  cfg.POTAMaintenanceLength,
			Bypass:  cfg.POTAMaintenanceBypass,
		}
		driver := &pota.FileSessionDriver{Path: cfg.POTASessionFile}
		tokens := pota.NewTokenSource(ctx, driver, cfg.POTATokenRefreshSkew)
		out = append(out, pota.NewAdapter(cfg.POTABaseURL, client, tokens, window, nil))
		logger.Log.Info("pota adapter configured")
	}

	return out
}
