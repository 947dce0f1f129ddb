package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/attendly/attendly-api/api/swagger"
	"github.com/attendly/attendly-api/internal/handler"
	"github.com/attendly/attendly-api/internal/middleware"
	"github.com/attendly/attendly-api/internal/models"
	"github.com/attendly/attendly-api/internal/repository"
	"github.com/attendly/attendly-api/internal/service"
	"github.com/attendly/attendly-api/pkg/cache"
	"github.com/attendly/attendly-api/pkg/config"
	"github.com/attendly/attendly-api/pkg/database"
	"github.com/attendly/attendly-api/pkg/export"
	"github.com/attendly/attendly-api/pkg/jobs"
	"github.com/attendly/attendly-api/pkg/logger"
	"github.com/attendly/attendly-api/pkg/mailer"
	corsmiddleware "github.com/attendly/attendly-api/pkg/middleware/cors"
	reqidmiddleware "github.com/attendly/attendly-api/pkg/middleware/requestid"
	"github.com/attendly/attendly-api/pkg/push"
	"github.com/attendly/attendly-api/pkg/scheduler"
	"github.com/attendly/attendly-api/pkg/storage"
)

// @title Attendly API
// @version 1.0.0
// @description Geofenced attendance backend for courses, sessions and parent reporting
// @BasePath /api
// @schemes http

// meteredQueue counts enqueues without teaching the worker pool about metrics.
type meteredQueue struct {
	queue   *jobs.Queue
	name    string
	metrics *service.MetricsService
}

func (m meteredQueue) Enqueue(job jobs.Job) error {
	if err := m.queue.Enqueue(job); err != nil {
		return err
	}
	m.metrics.RecordJobQueued(m.name)
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, rate limiting disabled", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Fatal("failed to init export storage", zap.Error(err))
	}

	smtpMailer := mailer.New(cfg.SMTP, logr)
	expoClient := push.NewExpoClient(cfg.Push, logr)

	metricsSvc := service.NewMetricsService()

	mailWorkers := jobs.NewQueue("mail", func(ctx context.Context, job jobs.Job) error {
		msg, ok := job.Payload.(mailer.Message)
		if !ok {
			return fmt.Errorf("unexpected mail payload %T", job.Payload)
		}
		return smtpMailer.Send(msg)
	}, jobs.QueueConfig{Workers: 2, MaxRetries: 3, RetryDelay: 30 * time.Second, Logger: logr})
	mailWorkers.Start(ctx)
	defer mailWorkers.Stop()

	pushWorkers := jobs.NewQueue("push", func(ctx context.Context, job jobs.Job) error {
		n, ok := job.Payload.(push.Notification)
		if !ok {
			return fmt.Errorf("unexpected push payload %T", job.Payload)
		}
		return expoClient.Send(ctx, n)
	}, jobs.QueueConfig{Workers: 2, MaxRetries: 3, RetryDelay: 10 * time.Second, Logger: logr})
	pushWorkers.Start(ctx)
	defer pushWorkers.Stop()

	mailQueue := meteredQueue{queue: mailWorkers, name: "mail", metrics: metricsSvc}
	pushQueue := meteredQueue{queue: pushWorkers, name: "push", metrics: metricsSvc}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	courseRepo := repository.NewCachedCourseRepository(repository.NewCourseRepository(db), cacheRepo, cfg.Redis.RosterTTL, logr)
	classRepo := repository.NewClassRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	authSvc, err := service.NewAuthService(userRepo, mailQueue, validate, logr, service.AuthConfig{
		JWT:         cfg.JWT,
		Institution: cfg.Institution,
		BaseURL:     cfg.BaseURL,
	})
	if err != nil {
		logr.Fatal("failed to init auth service", zap.Error(err))
	}

	courseSvc, err := service.NewCourseService(service.CourseServiceParams{
		Courses:     courseRepo,
		Users:       userRepo,
		Classes:     classRepo,
		MailQueue:   mailQueue,
		CSV:         export.NewCSVExporter(),
		PDF:         export.NewPDFExporter(),
		Storage:     exportStore,
		Validator:   validate,
		Logger:      logr,
		BaseURL:     cfg.BaseURL,
		Geofence:    cfg.Geofence,
		Institution: cfg.Institution,
	})
	if err != nil {
		logr.Fatal("failed to init course service", zap.Error(err))
	}

	classSvc := service.NewClassService(classRepo, courseRepo, userRepo, pushQueue, metricsSvc, validate, logr, cfg.Geofence)
	defer classSvc.Shutdown()

	messageSvc := service.NewMessageService(messageRepo, courseRepo, userRepo, pushQueue, validate, logr)
	userSvc := service.NewUserService(userRepo, validate, logr)

	reportLocation, err := time.LoadLocation(cfg.ReportJob.Timezone)
	if err != nil {
		logr.Warn("invalid report timezone, falling back to UTC",
			zap.String("timezone", cfg.ReportJob.Timezone), zap.Error(err))
		reportLocation = time.UTC
	}
	reportSvc := service.NewReportService(userRepo, courseRepo, classRepo, mailQueue, logr, reportLocation)

	if cfg.ReportJob.Enabled {
		go scheduler.StartDaily(ctx, scheduler.DailyConfig{
			Hour:     cfg.ReportJob.Hour,
			Minute:   cfg.ReportJob.Minute,
			Timezone: cfg.ReportJob.Timezone,
			Logger:   logr,
		}, func(ctx context.Context) {
			queued, err := reportSvc.RunDaily(ctx)
			if err != nil {
				logr.Error("daily parent report sweep failed", zap.Error(err))
				return
			}
			logr.Info("daily parent report sweep finished", zap.Int("queued", queued))
		})
	}

	if cfg.Exports.FileTTL > 0 {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					removed, err := exportStore.CleanupOlderThan(cfg.Exports.FileTTL)
					if err != nil {
						logr.Warn("export cleanup failed", zap.Error(err))
						continue
					}
					if removed > 0 {
						logr.Info("expired exports removed", zap.Int("count", removed))
					}
				}
			}
		}()
	}

	authHandler := handler.NewAuthHandler(authSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	classHandler := handler.NewClassHandler(classSvc)
	messageHandler := handler.NewMessageHandler(messageSvc)
	userHandler := handler.NewUserHandler(userSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.Use(middleware.RateLimit(redisClient, cfg.RateLimit, logr))
	{
		auth.POST("/signUp", authHandler.SignUp)
		auth.GET("/confirm/:code", authHandler.Confirm)
		auth.POST("/login", authHandler.Login)
		auth.POST("/google", authHandler.Google)
		auth.POST("/recover", authHandler.Recover)
		auth.POST("/reset/:token", authHandler.Reset)
	}

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))

	course := protected.Group("/course")
	{
		course.POST("", middleware.RBAC(models.RoleTeacher), courseHandler.Create)
		course.GET("", courseHandler.List)
		course.GET("/attendance", middleware.RBAC(models.RoleTeacher), courseHandler.EmailAttendanceSheet)
		course.POST("/enroll", middleware.RBAC(models.RoleStudent), courseHandler.Enroll)
		course.POST("/invite", middleware.RBAC(models.RoleTeacher), courseHandler.BulkInvite)
		course.GET("/:id", courseHandler.Get)
		course.PUT("/:id", courseHandler.Update)
		course.DELETE("/:id", middleware.RBAC(models.RoleTeacher), courseHandler.Delete)
	}

	class := protected.Group("/class")
	{
		class.POST("", middleware.RBAC(models.RoleTeacher), classHandler.Start)
		class.PUT("", classHandler.Update)
		class.GET("", classHandler.List)
		class.GET("/:id", classHandler.Get)
		class.PUT("/:id", middleware.RBAC(models.RoleTeacher), classHandler.EditRoster)
		class.DELETE("/:id", middleware.RBAC(models.RoleTeacher), classHandler.Delete)
	}

	message := protected.Group("/message")
	{
		message.POST("", middleware.RBAC(models.RoleTeacher), messageHandler.Create)
		message.GET("", messageHandler.List)
		message.PUT("/:id", middleware.RBAC(models.RoleTeacher), messageHandler.Update)
		message.DELETE("/:id", middleware.RBAC(models.RoleTeacher), messageHandler.Delete)
	}

	user := protected.Group("/user")
	{
		user.GET("/me", userHandler.Me)
		user.PUT("", userHandler.Update)
		user.GET("", middleware.RBAC(models.RoleAdmin), userHandler.List)
		user.PUT("/bulk", middleware.RBAC(models.RoleAdmin), userHandler.BulkUpdate)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
