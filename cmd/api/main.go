package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	v1 "inventory-portal/portal-backend/api/v1"
	"inventory-portal/portal-backend/internal/company"
	"inventory-portal/portal-backend/internal/config"
	"inventory-portal/portal-backend/internal/onboarding"
	"inventory-portal/portal-backend/internal/settings"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		bootLogger, _ := zap.NewProduction()
		bootLogger.Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize logger
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()
	deps, cleanup, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize stores", zap.Error(err))
	}
	defer cleanup()

	// Initialize Onboarding Module
	api := v1.SetupOnboardingAPI(deps, v1.OnboardingConfig{
		Orchestrator: onboarding.OrchestratorConfig{
			StaleAfter:    cfg.Onboarding.StaleAfter,
			DedupWindow:   cfg.Onboarding.DedupWindow,
			DedupCapacity: cfg.Onboarding.DedupCapacity,
		},
		SessionTTL: cfg.Onboarding.SessionTTL,
	}, logger)
	defer api.Close()

	// Setup Router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	// CORS Middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Company-ID, X-User-ID, X-Session-ID, Idempotency-Key")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Register Routes
	apiGroup := router.Group("/api/v1")
	{
		v1.RegisterOnboardingRoutes(apiGroup, api)
	}

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":     "healthy",
			"driver":     cfg.Database.Driver,
			"sessions":   api.Sessions.Len(),
			"websockets": api.Hub.ConnectionCount(),
			"timestamp":  time.Now(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Start Server
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server listen failed", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", srv.Addr), zap.String("driver", cfg.Database.Driver))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}

// buildDependencies opens the configured stores. The returned cleanup closes them.
func buildDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (v1.Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var deps v1.Dependencies
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("Using in-memory stores; onboarding state is lost on restart")
		deps.Repository = onboarding.NewMemoryRepository()
		deps.Settings = settings.NewMemoryRepository()
	default:
		dbURL := cfg.Database.GetDatabaseURL()
		logger.Info("Connecting to database",
			zap.String("host", cfg.Database.Host),
			zap.String("db", cfg.Database.DBName))

		db, err := sqlx.Connect("postgres", dbURL)
		if err != nil {
			return deps, cleanup, err
		}
		db.SetMaxOpenConns(cfg.Database.MaxConnections)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.MaxLifetime)
		closers = append(closers, func() { db.Close() })

		onboardingRepo := onboarding.NewPostgresRepository(db)
		if err := onboardingRepo.EnsureSchema(ctx); err != nil {
			return deps, cleanup, err
		}
		settingsRepo := settings.NewRepository(db)
		if err := settingsRepo.EnsureSchema(ctx); err != nil {
			return deps, cleanup, err
		}

		// Companies are managed through gorm, sharing the same connection pool
		gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{})
		if err != nil {
			return deps, cleanup, err
		}
		companyRepo := company.NewRepository(gormDB)
		if err := companyRepo.AutoMigrate(); err != nil {
			return deps, cleanup, err
		}

		deps.Repository = onboardingRepo
		deps.Settings = settingsRepo
		deps.Completer = companyRepo
		deps.Plans = companyRepo
	}

	if cfg.Mongo.URI != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return deps, cleanup, err
		}
		closers = append(closers, func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		})

		emitter := onboarding.NewMongoEmitter(client.Database(cfg.Mongo.Database))
		if err := emitter.EnsureIndexes(ctx); err != nil {
			logger.Warn("Failed to create analytics indexes", zap.Error(err))
		}
		deps.Emitter = emitter
	}

	return deps, cleanup, nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
