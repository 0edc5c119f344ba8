/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the trade-ledger server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Optionally wrap the rate table in a redis cache
  4. Build processor, handler, router
  5. Start server with graceful shutdown

CONFIGURATION:
  Flags, each with an env fallback:
    -port       HTTP server port        (PORT, default 8080)
    -db         SQLite database path    (DATABASE_PATH, default trades.db)
                Use ":memory:" for an in-memory database
    -reference  Reference currency      (REFERENCE_CURRENCY, default USD)
    -redis      Redis address for the rate cache (REDIS_ADDR, empty = no cache)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/vendora/trade-ledger/api"
	"github.com/vendora/trade-ledger/ledger"
	"github.com/vendora/trade-ledger/rates"
	"github.com/vendora/trade-ledger/store/sqlite"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "trades.db"), "SQLite database path")
	reference := flag.String("reference", envStr("REFERENCE_CURRENCY", "USD"), "Reference currency code")
	redisAddr := flag.String("redis", envStr("REDIS_ADDR", ""), "Redis address for the rate cache (empty disables)")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Rate table, optionally cached in redis
	var rateTable ledger.RateTable = store
	if *redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		cache := rates.NewCache(client, store, 5*time.Minute, log)
		if err := cache.Ping(context.Background()); err != nil {
			log.WithError(err).Warn("redis unreachable, rate lookups will fall back to the database")
		}
		defer cache.Close()
		rateTable = cache
	}

	// Processor and HTTP layer
	proc := ledger.NewProcessor(store, rateTable, ledger.Currency(*reference), log)
	handler := api.NewHandler(proc, store, store)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"port":      *port,
			"db":        *dbPath,
			"reference": *reference,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}
