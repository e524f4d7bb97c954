package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/robfig/cron/v3"

	"lpr-service/internal/auth"
	"lpr-service/internal/config"
	"lpr-service/internal/db"
	"lpr-service/internal/domain/plate"
	httphandler "lpr-service/internal/http"
	"lpr-service/internal/http/middleware"
	"lpr-service/internal/ingest"
	"lpr-service/internal/logger"
	"lpr-service/internal/ocr"
	"lpr-service/internal/repository"
	"lpr-service/internal/service"
	"lpr-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment)

	database, err := db.New(cfg, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to connect database")
	}

	sightingRepo := repository.NewSightingRepository(database)

	policy := plate.Policy{
		SaveInterval: cfg.Detection.SaveInterval,
		MatchWindow:  cfg.Detection.MatchWindow,
	}
	detectionService := service.NewDetectionService(sightingRepo, policy, appLogger)
	plateService := service.NewPlateService(sightingRepo, appLogger)

	hub := ws.NewHub(appLogger)
	buffer := ingest.NewBuffer(detectionService, hub, policy, cfg.Detection.FlushInterval, cfg.Detection.LogDir, appLogger)

	var reader httphandler.PlateReader
	if cfg.AWS.Region != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			appLogger.Fatal().Err(err).Msg("failed to load AWS config")
		}
		reader = ocr.NewRekognitionReader(rekognition.NewFromConfig(awsCfg), appLogger)
		appLogger.Info().Str("region", cfg.AWS.Region).Msg("image recognition enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go buffer.Run(ctx)

	scheduler := cron.New()
	_, err = scheduler.AddFunc("@daily", func() {
		if _, err := plateService.CleanupOldSightings(context.Background(), cfg.Detection.RetentionDays); err != nil {
			appLogger.Error().Err(err).Msg("scheduled cleanup failed")
		}
	})
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to schedule cleanup job")
	}
	scheduler.Start()
	defer scheduler.Stop()

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)
	handler := httphandler.NewHandler(detectionService, plateService, buffer, reader, appLogger)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, hub, authMiddleware, cfg.Environment)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	appLogger.Info().Str("addr", addr).Msg("starting lpr service")

	if err := router.Run(addr); err != nil {
		appLogger.Error().Err(err).Msg("failed to start server")
		os.Exit(1)
	}
}
