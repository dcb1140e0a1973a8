package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"lcrd-backend/internal/artifacts"
	"lcrd-backend/internal/db"
	"lcrd-backend/internal/gateway"
	"lcrd-backend/internal/handlers"
	"lcrd-backend/internal/platform/envutil"
	"lcrd-backend/internal/platform/logger"
	"lcrd-backend/internal/repos"
	"lcrd-backend/internal/server"
	"lcrd-backend/internal/services"
)

func main() {
	_ = godotenv.Load()

	logMode := envutil.String("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	uploadRoot := envutil.String("UPLOAD_ROOT", "./data/uploads")
	resultsRoot := envutil.String("RESULTS_ROOT", "./data/results")
	sessionTTL := envutil.Seconds("SESSION_TTL_SECONDS", 24*time.Hour)
	reaperInterval := envutil.Seconds("REAPER_INTERVAL_SECONDS", 2*time.Minute)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos...")
	sessionRepo := repos.NewSessionRepo(thePG, log)
	predictionRepo := repos.NewPredictionRepo(thePG, log)
	patientRepo := repos.NewPatientRepo(thePG, log)

	// Artifact store
	store, err := artifacts.New(log, uploadRoot, resultsRoot)
	if err != nil {
		log.Error("Could not init artifact store", "error", err)
		os.Exit(1)
	}

	// Inference gateway
	model, err := gateway.NewFromEnv(log)
	if err != nil {
		log.Error("Could not init prediction gateway", "error", err)
		os.Exit(1)
	}

	// Services
	log.Info("Setting up services...")
	predictService := services.NewPredictService(thePG, log, sessionRepo, predictionRepo, store, model)
	patientService := services.NewPatientService(thePG, log, sessionRepo, predictionRepo, patientRepo, store)
	auditService := services.NewAuditService(thePG, log, sessionRepo, store)

	reaper := services.NewReaper(thePG, log, sessionRepo, predictionRepo, store, sessionTTL, reaperInterval)
	reaper.Start(context.Background())
	defer reaper.Stop()

	// Handlers
	log.Info("Setting up handlers...")
	predictHandler := handlers.NewPredictHandler(log, predictService)
	downloadHandler := handlers.NewDownloadHandler(log, store)
	patientHandler := handlers.NewPatientHandler(log, patientService)
	adminHandler := handlers.NewAdminHandler(log, auditService)

	router := server.NewRouter(server.RouterConfig{
		PredictHandler:  predictHandler,
		DownloadHandler: downloadHandler,
		PatientHandler:  patientHandler,
		AdminHandler:    adminHandler,
	})

	port := envutil.String("PORT", "8080")
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
