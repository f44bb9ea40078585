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

	"vodcms-collect-api/config"
	"vodcms-collect-api/controllers"
	"vodcms-collect-api/middleware"
	"vodcms-collect-api/monitor"
	"vodcms-collect-api/routes"
	"vodcms-collect-api/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logFile, _ := config.InitLogging()
	if logFile != nil {
		defer logFile.Close()
	}
	config.ReloadMailerConfig()

	config.InitDB()
	cfg := config.LoadCollector()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cache services.KVCache
	if cfg.RedisURL != "" {
		cache = services.NewRedisCache(config.InitRedis(cfg.RedisURL))
	}

	runs := services.NewCollectRunService(config.DB)
	if n := services.NewMailRunNotifier(); n != nil {
		runs.WithNotifier(n)
	}
	settings := services.NewSettingsService(config.DB)
	binds := services.NewTypeBindService(config.DB, cache, cfg.TypeBindTTL)
	if err := binds.Preload(ctx); err != nil {
		log.Printf("Warning: type bind preload failed: %v", err)
	}
	jobs := services.NewCollectJobService(config.DB, runs)

	handler := &controllers.CollectHandler{
		Sources:   services.NewCollectSourceService(config.DB),
		Jobs:      jobs,
		Runs:      runs,
		Pull:      services.NewCollectPullService(config.DB, runs, settings, cfg),
		Settings:  settings,
		TypeBinds: binds,
		Vods:      services.NewReceiveVodService(config.DB, settings, binds, cfg.InterfacePass),
		Articles:  services.NewReceiveArticleService(config.DB, settings, binds, cfg.InterfacePass),
	}

	var kicker services.Kicker
	if cfg.RunnerEnabled {
		runner := services.NewCollectorRunner(runs, cfg)
		runner.Start(ctx)
		defer runner.Stop()
		handler.Runner = runner
		kicker = runner
	}

	lockName := config.GetEnv("COLLECT_SCHEDULER_LOCK", services.DefaultSchedulerLockID)
	scheduler := services.NewScheduler(config.DB, runs, jobs, kicker, cfg, lockName)
	if config.GetEnvAsBool("COLLECT_SCHEDULER_ENABLED", true) {
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	// Set Gin mode
	ginMode := os.Getenv("GIN_MODE")
	if ginMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = config.LogWriter
	gin.DefaultErrorWriter = config.LogWriter

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Add security headers middleware
	router.Use(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})
	router.Use(middleware.CORSMiddleware())

	monitor.RegisterMonitorPage(router, os.Getenv("MONITOR_TOKEN"), runs)
	routes.SetupRoutes(router, handler, cfg.WorkerToken)

	if cfg.WorkerToken == "" {
		log.Printf("Warning: COLLECTOR_WORKER_TOKEN is empty, the worker queue rejects every request")
	}

	port := config.GetEnv("SERVER_PORT", config.GetEnv("PORT", "8080"))
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Collect API starting on port %s (runner=%t)", port, cfg.RunnerEnabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
