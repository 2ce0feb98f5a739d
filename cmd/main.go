// SiteSmith server entrypoint: wires the model gateway, retrieval store,
// asset store and checkpointing into the HTTP API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"sitesmith/internal/ai"
	"sitesmith/internal/assets"
	"sitesmith/internal/config"
	"sitesmith/internal/handlers"
	"sitesmith/internal/logging"
	"sitesmith/internal/pipeline"
	"sitesmith/internal/retrieval"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logging.L().Info(".env file not found, using system environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logging.L().Fatal("configuration invalid", zap.Error(err))
	}

	db, err := gorm.Open(sqlite.Open(cfg.VectorDBPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		logging.L().Fatal("database open failed", zap.String("path", cfg.VectorDBPath), zap.Error(err))
	}

	embedder := retrieval.NewHTTPEmbedder(cfg.ModelToken, "", cfg.EmbeddingModel)
	store, err := retrieval.NewStore(db, embedder)
	if err != nil {
		logging.L().Fatal("retrieval store init failed", zap.Error(err))
	}

	checkpoints, err := buildCheckpointStore(cfg, db)
	if err != nil {
		logging.L().Fatal("checkpoint store init failed", zap.Error(err))
	}

	engine := pipeline.New(
		ai.NewGLMClient(cfg.ModelToken),
		pipeline.WithImageGenerator(ai.NewImageClient(cfg.ModelToken, cfg.ImageModel)),
		pipeline.WithRetrieval(store),
		pipeline.WithAssetStore(assets.NewStore(cfg.AssetDir)),
		pipeline.WithCheckpointStore(checkpoints),
	)

	router := setupRouter(handlers.NewHandler(engine, store))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
		// Generation holds the request open for the whole pipeline run.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logging.L().Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.L().Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.L().Error("forced shutdown", zap.Error(err))
	}
	logging.Sync()
}

// buildCheckpointStore prefers Redis when configured, otherwise falls back
// to the local sqlite database.
func buildCheckpointStore(cfg *config.Config, db *gorm.DB) (pipeline.CheckpointStore, error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			logging.L().Warn("redis unreachable, using sqlite checkpoints", zap.Error(err))
		} else {
			return pipeline.NewRedisCheckpointStore(client), nil
		}
	}
	return pipeline.NewGormCheckpointStore(db)
}

func setupRouter(h *handlers.Handler) *gin.Engine {
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	h.RegisterRoutes(router)
	return router
}

// requestLogger logs each request through the shared zap logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.L().Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
