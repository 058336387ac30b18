package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"pos-forwarder/internal/breaker"
	"pos-forwarder/internal/cache"
	"pos-forwarder/internal/clock"
	"pos-forwarder/internal/config"
	"pos-forwarder/internal/envelope"
	"pos-forwarder/internal/forwarder"
	"pos-forwarder/internal/handler"
	"pos-forwarder/internal/notifier"
	"pos-forwarder/internal/repository"
)

const breakerService = "downstream-webapp"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()
	log.Printf("FORWARDER_STARTING: endpoint=%s batch_size=%d capture_only=%v enabled=%v",
		config.MaskPassword(cfg.EndpointURL), cfg.BatchSize, cfg.CaptureOnly, cfg.Enabled)
	log.Printf("Database URL: %s", config.MaskPassword(cfg.DatabaseURL))
	log.Printf("Redis URL: %s", config.MaskPassword(cfg.RedisURL))

	redisStore, err := cache.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisStore.Close()

	db, err := repository.InitDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	repo := repository.NewPostgresRepository(db)
	clk := clock.System{}

	brk := breaker.New(breakerService, redisStore, clk, breaker.Config{
		Enabled:          cfg.BreakerEnabled,
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
	})

	fwd := forwarder.New(
		cfg,
		repo,
		repo,
		brk,
		envelope.NewBuilder(cfg.Source, clk),
		forwarder.NewHTTPDispatcher(cfg.EndpointURL, cfg.AuthToken, cfg.Timeout, cfg.TLSSkipVerify),
		notifier.NewHTTPSender(cfg.Timeout),
		forwarder.NewTenantObserver(redisStore),
		clk,
	)

	go runForwardingLoop(ctx, fwd, cfg.Interval)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	h := handler.New(fwd, repo, handler.PingerFunc(db.PingContext), handler.PingerFunc(redisStore.Ping))
	h.Register(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("SERVER_STARTED: port=%s interval=%v", cfg.Port, cfg.Interval)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Printf("Shutdown signal received, stopping...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("SERVER_SHUTDOWN_ERROR: %v", err)
	}
	log.Printf("Server stopped")
}

// runForwardingLoop runs scheduled forwarding cycles until ctx is cancelled.
// Retries are cycle-level: a failed batch just waits for the next tick.
func runForwardingLoop(ctx context.Context, fwd *forwarder.Forwarder, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := fwd.ProcessUnforwarded(ctx)
			if err != nil {
				log.Printf("FORWARD_CYCLE_ERROR: %v", err)
				continue
			}
			log.Printf("FORWARD_CYCLE: outcome=%s batch_id=%s transactions=%d",
				result.Outcome, result.BatchID, result.TransactionCount)
		}
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		status := c.Writer.Status()

		if status >= 400 {
			log.Printf("HTTP_ERROR: method=%s path=%s status=%d duration=%v ip=%s",
				c.Request.Method, c.Request.URL.Path, status, duration, c.ClientIP())
		} else {
			log.Printf("HTTP_REQUEST: method=%s path=%s status=%d duration=%v",
				c.Request.Method, c.Request.URL.Path, status, duration)
		}
	}
}
