package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/exowa/exowa-api/api/swagger"
	"github.com/exowa/exowa-api/internal/genai"
	"github.com/exowa/exowa-api/internal/handler"
	"github.com/exowa/exowa-api/internal/llm"
	appmiddleware "github.com/exowa/exowa-api/internal/middleware"
	"github.com/exowa/exowa-api/internal/models"
	"github.com/exowa/exowa-api/internal/repository"
	"github.com/exowa/exowa-api/internal/service"
	"github.com/exowa/exowa-api/pkg/cache"
	"github.com/exowa/exowa-api/pkg/config"
	"github.com/exowa/exowa-api/pkg/database"
	"github.com/exowa/exowa-api/pkg/export"
	"github.com/exowa/exowa-api/pkg/logger"
	corsmiddleware "github.com/exowa/exowa-api/pkg/middleware/cors"
	reqidmiddleware "github.com/exowa/exowa-api/pkg/middleware/requestid"
	"github.com/exowa/exowa-api/pkg/storage"
)

// @title Exowa API
// @version 1.0.0
// @description AI-assisted exam paper generation and assignment platform
// @BasePath /
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	provider, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:  cfg.AI.APIKey,
		Model:   cfg.AI.Model,
		BaseURL: cfg.AI.BaseURL,
	})
	if err != nil {
		logr.Sugar().Fatalw("failed to init AI provider", "error", err)
	}

	questionGen := genai.NewQuestionGenerator(provider, genai.QuestionConfig{
		ChunkSize:   cfg.AI.ChunkSize,
		MaxAttempts: cfg.AI.MaxAttempts,
		CallTimeout: cfg.AI.QuestionTimeout,
		Temperature: cfg.AI.Temperature,
	}, logr)
	explanationGen := genai.NewExplanationGenerator(provider, genai.ExplanationConfig{
		MaxAttempts: cfg.AI.MaxAttempts,
		CallTimeout: cfg.AI.ExplanationTimeout,
		Temperature: cfg.AI.Temperature,
	}, logr)

	uploadStore, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init upload storage", "error", err)
	}

	userRepo := repository.NewUserRepository(db)
	childRepo := repository.NewChildRepository(db)
	paperRepo := repository.NewPaperRepository(db)
	explanationRepo := repository.NewExplanationRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	syllabusRepo := repository.NewSyllabusRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:      cfg.JWT.Secret,
		Expiry:      cfg.JWT.Expiration,
		ChildExpiry: cfg.JWT.ChildExpiration,
		Issuer:      cfg.JWT.Issuer,
	})

	quota := service.NewQuotaEnforcer(service.QuotaConfig{
		DefaultChildLimit: cfg.Quotas.DefaultChildLimit,
		DefaultTopicLimit: cfg.Quotas.DefaultTopicLimit,
	})
	policy := service.NewAuthorizationPolicy(cfg.Quotas.EnforceOwnership)

	childSvc := service.NewChildService(childRepo, userRepo, quota, policy, service.UpdateWindow{
		Enabled: cfg.Quotas.ChildUpdateWindowEnabled,
		From:    cfg.Quotas.ChildUpdateWindowFrom,
		To:      cfg.Quotas.ChildUpdateWindowTo,
	}, validate, logr)

	pdfExporter := export.NewPaperPDFExporter()

	// Papers and explanations reference each other: papers schedule
	// background explanation batches, explanations read papers through the
	// access-checked getter. The scheduler is attached second.
	paperSvc := service.NewPaperService(paperRepo, childRepo, questionGen, authSvc, nil, pdfExporter, policy, validate, logr)
	paperSvc.SetMetrics(metricsSvc)
	paperSvc.SetMaterialStore(uploadStore)
	if cfg.PaperCache.Enabled {
		paperSvc.SetCache(cacheRepo, cfg.PaperCache.CacheTTL)
	}

	explanationSvc := service.NewExplanationService(explanationRepo, paperRepo, paperSvc, explanationGen, cacheRepo, service.ExplanationWorkerConfig{
		Concurrency: cfg.Explanations.WorkerConcurrency,
		Retries:     cfg.Explanations.WorkerRetries,
		CacheTTL:    cfg.Explanations.CacheTTL,
	}, logr)
	explanationSvc.SetMetrics(metricsSvc)
	paperSvc.SetScheduler(explanationSvc)

	subjectSvc := service.NewSubjectService(subjectRepo, policy, validate, logr)
	syllabusSvc := service.NewSyllabusService(syllabusRepo, policy, validate, logr)

	handlers := routerHandlers{
		auth:       handler.NewAuthHandler(authSvc, paperSvc),
		children:   handler.NewChildHandler(childSvc),
		papers:     handler.NewPaperHandler(paperSvc, explanationSvc, cfg.Uploads.MaxFileSizeBytes),
		subjects:   handler.NewSubjectHandler(subjectSvc),
		syllabuses: handler.NewSyllabusHandler(syllabusSvc),
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := newRouter(cfg, logr, db, metricsSvc, authSvc, handlers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	explanationSvc.Start(ctx)
	defer explanationSvc.Stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}

	if err := cacheRepo.Close(); err != nil {
		logr.Warn("failed to close redis", zap.Error(err))
	}
}

type routerHandlers struct {
	auth       *handler.AuthHandler
	children   *handler.ChildHandler
	papers     *handler.PaperHandler
	subjects   *handler.SubjectHandler
	syllabuses *handler.SyllabusHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, db *sqlx.DB, metricsSvc *service.MetricsService, authSvc *service.AuthService, h routerHandlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(appmiddleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	r.POST("/users/register", h.auth.Register)
	r.POST("/users/login", h.auth.Login)
	r.POST("/users/childLogin/:id", h.auth.ChildLogin)

	auth := r.Group("/", appmiddleware.JWT(authSvc))

	parents := auth.Group("/", appmiddleware.RequireRoles(models.RoleParent, models.RoleAdmin, models.RoleSubAdmin))

	papers := parents.Group("/papers")
	papers.POST("", h.papers.Create)
	papers.GET("", h.papers.List)
	papers.POST("/assign", h.papers.Assign)
	papers.POST("/generateQuestionOTP/:questionId", h.papers.RotateOTP)
	papers.POST("/:id/material", h.papers.UploadMaterial)
	papers.GET("/:id/material", h.papers.DownloadMaterial)
	papers.GET("/:id/download", h.papers.Download)
	papers.PATCH("/:id", h.papers.Update)
	papers.DELETE("/:id", h.papers.Delete)

	// Assigned children act with the token minted at OTP login: they read
	// their own paper and its explanations and submit the answer set, so
	// these routes sit outside the parent role gate.
	shared := auth.Group("/papers")
	shared.PATCH("/answer", h.papers.SubmitAnswers)
	shared.GET("/:id", h.papers.Get)
	shared.GET("/:id/explanation", h.papers.GetExplanation)
	shared.GET("/:id/explanations", h.papers.ListExplanations)

	children := parents.Group("/children")
	children.POST("", h.children.Create)
	children.GET("", h.children.List)
	children.GET("/:id", h.children.Get)
	children.PATCH("/:id", h.children.Update)
	children.DELETE("/:id", h.children.Delete)

	subjects := parents.Group("/subjects")
	subjects.POST("", h.subjects.Create)
	subjects.GET("", h.subjects.List)
	subjects.GET("/:id", h.subjects.Get)
	subjects.PATCH("/:id", h.subjects.Update)
	subjects.DELETE("/:id", h.subjects.Delete)

	syllabuses := parents.Group("/syllabuses")
	syllabuses.POST("", h.syllabuses.Create)
	syllabuses.GET("", h.syllabuses.List)
	syllabuses.GET("/:id", h.syllabuses.Get)
	syllabuses.PATCH("/:id", h.syllabuses.Update)
	syllabuses.DELETE("/:id", h.syllabuses.Delete)

	return r
}
