package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/classboard/classboard-api/api/swagger"
	"github.com/classboard/classboard-api/internal/handler"
	"github.com/classboard/classboard-api/internal/middleware"
	"github.com/classboard/classboard-api/internal/models"
	"github.com/classboard/classboard-api/internal/realtime"
	"github.com/classboard/classboard-api/internal/repository"
	"github.com/classboard/classboard-api/internal/service"
	"github.com/classboard/classboard-api/pkg/cache"
	"github.com/classboard/classboard-api/pkg/config"
	"github.com/classboard/classboard-api/pkg/database"
	"github.com/classboard/classboard-api/pkg/jobs"
	"github.com/classboard/classboard-api/pkg/logger"
	corsmiddleware "github.com/classboard/classboard-api/pkg/middleware/cors"
	reqidmiddleware "github.com/classboard/classboard-api/pkg/middleware/requestid"
	"github.com/classboard/classboard-api/pkg/storage"
)

// @title Classboard API
// @version 1.0.0
// @description Classroom management backend: attendance sessions, rosters, announcements, materials and notifications
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	var cacheRepo service.CacheRepository
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		} else {
			repo := repository.NewCacheRepository(redisClient, logr)
			defer repo.Close() //nolint:errcheck
			cacheRepo = repo
		}
	}

	store, err := storage.NewLocalStorage(cfg.Resources.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare resource storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Resources.SignedURLSecret, cfg.Resources.SignedURLTTL)

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	classroomRepo := repository.NewClassroomRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	announcementRepo := repository.NewAnnouncementRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	resourceRepo := repository.NewResourceRepository(db)

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cacheRepo != nil)

	hub := realtime.NewHub(logr)
	defer hub.Close()

	notificationSvc := service.NewNotificationService(notificationRepo, membershipRepo, hub, metricsSvc, jobs.QueueConfig{
		Workers:    cfg.Notifications.WorkerConcurrency,
		BufferSize: cfg.Notifications.QueueBuffer,
		MaxRetries: cfg.Notifications.WorkerRetries,
		Logger:     logr,
	}, logr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	notificationSvc.StartQueue(ctx)
	defer notificationSvc.StopQueue()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "classboard-api",
	})
	classroomSvc := service.NewClassroomService(classroomRepo, membershipRepo, notificationSvc, cacheSvc, validate, logr)
	membershipSvc := service.NewMembershipService(membershipRepo, classroomRepo, notificationSvc, cacheSvc, logr)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, classroomRepo, membershipRepo, notificationSvc, cacheSvc, validate, logr)
	announcementSvc := service.NewAnnouncementService(announcementRepo, classroomRepo, membershipRepo, notificationSvc, cacheSvc, validate, logr)
	resourceSvc := service.NewResourceService(resourceRepo, classroomRepo, membershipRepo, notificationSvc, store, signer, cfg.Resources.MaxFileSizeBytes, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	classroomHandler := handler.NewClassroomHandler(classroomSvc, membershipSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc)
	announcementHandler := handler.NewAnnouncementHandler(announcementSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	resourceHandler := handler.NewResourceHandler(resourceSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
	auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)

	// token carries its own authorization
	api.GET("/resources/download/:token", resourceHandler.Download)

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))

	classrooms := protected.Group("/classrooms")
	classrooms.POST("", middleware.RequireRoles(models.RoleTeacher), classroomHandler.Create)
	classrooms.GET("", classroomHandler.List)
	classrooms.POST("/join", middleware.RequireRoles(models.RoleStudent), classroomHandler.Join)
	classrooms.GET("/:id", classroomHandler.Get)
	classrooms.DELETE("/:id", middleware.RequireRoles(models.RoleTeacher), classroomHandler.Delete)
	classrooms.POST("/:id/invite-code", middleware.RequireRoles(models.RoleTeacher), classroomHandler.RegenerateInviteCode)
	classrooms.GET("/:id/members", classroomHandler.Roster)
	classrooms.POST("/:id/members", middleware.RequireRoles(models.RoleTeacher), classroomHandler.AddMember)
	classrooms.DELETE("/:id/members/:studentId", middleware.RequireRoles(models.RoleTeacher), classroomHandler.RemoveMember)
	classrooms.POST("/:id/leave", middleware.RequireRoles(models.RoleStudent), classroomHandler.Leave)

	classrooms.POST("/:id/sessions", middleware.RequireRoles(models.RoleTeacher), attendanceHandler.OpenSession)
	classrooms.GET("/:id/sessions", attendanceHandler.ListSessions)
	classrooms.GET("/:id/attendance/summary", attendanceHandler.Summary)
	classrooms.GET("/:id/attendance/summary/export", attendanceHandler.ExportSummary)

	sessions := protected.Group("/sessions")
	sessions.GET("/:sessionId", attendanceHandler.GetSession)
	sessions.POST("/:sessionId/close", middleware.RequireRoles(models.RoleTeacher), attendanceHandler.CloseSession)
	sessions.POST("/:sessionId/records", middleware.RequireRoles(models.RoleTeacher), attendanceHandler.Mark)
	sessions.GET("/:sessionId/records", attendanceHandler.ListRecords)

	classrooms.POST("/:id/announcements", middleware.RequireRoles(models.RoleTeacher), announcementHandler.Post)
	classrooms.GET("/:id/announcements", announcementHandler.List)
	announcements := protected.Group("/announcements")
	announcements.POST("/:announcementId/comments", announcementHandler.Comment)
	announcements.DELETE("/:announcementId", announcementHandler.Delete)

	classrooms.POST("/:id/resources", middleware.RequireRoles(models.RoleTeacher), resourceHandler.Upload)
	classrooms.GET("/:id/resources", resourceHandler.List)
	resources := protected.Group("/resources")
	resources.GET("/:resourceId/download-url", resourceHandler.SignedDownload)
	resources.DELETE("/:resourceId", resourceHandler.Delete)

	notifications := protected.Group("/notifications")
	notifications.GET("", notificationHandler.List)
	notifications.GET("/stream", notificationHandler.Stream)
	notifications.POST("/read-all", notificationHandler.MarkAllRead)
	notifications.POST("/:notificationId/read", notificationHandler.MarkRead)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
