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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"field-service-server/config"
	"field-service-server/database"
	"field-service-server/jobs"
	"field-service-server/logger"
	"field-service-server/middleware"
	"field-service-server/routes"
	"field-service-server/services"
	"field-service-server/storage"
	ws "field-service-server/websocket"
)

const (
	tokenCleanupInterval   = 24 * time.Hour
	limiterCleanupInterval = 5 * time.Minute
	limiterMaxIdle         = 10 * time.Minute
	shutdownTimeout        = 15 * time.Second
)

//go:generate swag init -g main.go -o docs --outputTypes go,json

// @title                       Field Service API
// @version                     1.0
// @description                 Service requests, field worker tasks, proof uploads and role dashboards.
// @BasePath                    /api
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @description                 Access token as "Bearer <token>".
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	if cfg.IsRelease() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Initialize(cfg.Database, zlog)
	if err != nil {
		return err
	}

	store, err := storage.New(cfg.Media, cfg.Cloudinary)
	if err != nil {
		return err
	}

	hub := ws.NewHub(zlog)
	go hub.Run(ctx)

	jwtService := services.NewJWTService(db, cfg.JWT, zlog)
	users := services.NewUserService(db, cfg.Auth, zlog, jwtService, hub)
	if err := seedAdmin(ctx, users, cfg.Auth, zlog); err != nil {
		return err
	}

	deps := &routes.Dependencies{
		Config:     cfg,
		DB:         db,
		Log:        zlog,
		JWT:        jwtService,
		Users:      users,
		Requests:   services.NewServiceRequestService(db, zlog, hub),
		Tasks:      services.NewTaskService(db, zlog, hub, store, cfg.Media.MaxUploadBytes),
		Dashboards: services.NewDashboardService(db),
		Hub:        hub,
		Limiter:    middleware.NewRateLimiter(),
	}
	router := routes.SetupRouter(deps)

	tokenJob := jobs.NewTokenCleanupJob(deps.JWT, tokenCleanupInterval, zlog)
	tokenJob.Start()
	defer tokenJob.Stop()

	limiterJob := jobs.NewLimiterCleanupJob(deps.Limiter, limiterCleanupInterval, limiterMaxIdle, zlog)
	limiterJob.Start()
	defer limiterJob.Stop()

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("server starting", zap.String("addr", srv.Addr), zap.String("media_backend", cfg.Media.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zlog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
