package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChiMaMe-bean/msj/internal/api"
	"github.com/ChiMaMe-bean/msj/internal/boost"
	"github.com/ChiMaMe-bean/msj/internal/config"
	"github.com/ChiMaMe-bean/msj/internal/domain"
	persistence "github.com/ChiMaMe-bean/msj/internal/persistence/postgres"
	httptransport "github.com/ChiMaMe-bean/msj/internal/transport/http"
)

func main() {
	cfg := config.Load()

	window, err := domain.ParseWindow(cfg.ActiveDays)
	if err != nil {
		log.Fatalf("invalid ACTIVE_DAYS: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)
	client := boost.NewClient(cfg.BoostEndpoint)
	service := domain.NewService(repo, client, window)

	handler := api.NewHandler(service)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Request logger with a correlation id
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.NewString()
			w.Header().Set("X-Request-ID", requestID)
			log.Printf("request_id=%s %s %s", requestID, r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	// WriteTimeout leaves room for the upstream call's retries (3 attempts of
	// up to 10s plus the pauses between them).
	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, logger(mux))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("msj-api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
