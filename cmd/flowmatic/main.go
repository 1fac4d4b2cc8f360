package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/microaistudio/flowmatic-2r-full/internal/config"
	"github.com/microaistudio/flowmatic-2r-full/internal/httpapi"
	"github.com/microaistudio/flowmatic-2r-full/internal/hub"
	"github.com/microaistudio/flowmatic-2r-full/internal/queue"
	"github.com/microaistudio/flowmatic-2r-full/internal/reset"
	"github.com/microaistudio/flowmatic-2r-full/internal/store/postgres"
	"github.com/microaistudio/flowmatic-2r-full/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("flowmatic")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool)
	broadcaster := hub.New()
	engine := queue.NewEngine(st, broadcaster)
	resetter := reset.NewResetter(st, broadcaster)
	handler := httpapi.NewHandler(engine, resetter, st)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", httpapi.RealtimeHandler(broadcaster))
	mux.Handle("/", limiter.Middleware(handler.Routes()))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(mux), "flowmatic"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("flowmatic listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	go runDailyReset(cfg.ResetTime, resetter)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// runDailyReset fires the reset once a day at the configured wall-clock
// time. All queue mutation stays inside Resetter.ResetSystem.
func runDailyReset(resetTime string, resetter *reset.Resetter) {
	if resetTime == "" {
		return
	}
	target, err := time.Parse("15:04", resetTime)
	if err != nil {
		log.Printf("invalid RESET_TIME %q: %v", resetTime, err)
		return
	}

	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), target.Hour(), target.Minute(), 0, 0, now.Location())
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		time.Sleep(time.Until(next))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		outcome, err := resetter.ResetSystem(ctx)
		cancel()
		if err != nil {
			log.Printf("daily reset error: %v", err)
			continue
		}
		if outcome.Skipped {
			log.Printf("daily reset skipped: another reset in flight")
			continue
		}
		log.Printf("daily reset done tickets_deleted=%d counters_reset=%d services_reset=%d",
			outcome.TicketsDeleted, outcome.CountersReset, outcome.ServicesReset)
	}
}
