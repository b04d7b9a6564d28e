// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/reservehq/event-reservation/internal/capacity"
	"github.com/reservehq/event-reservation/internal/database"
	"github.com/reservehq/event-reservation/internal/dlock"
	"github.com/reservehq/event-reservation/internal/handler"
	"github.com/reservehq/event-reservation/internal/repository"
	"github.com/reservehq/event-reservation/internal/service"
)

func main() {
	ctx := context.Background()

	// Optional .env for local development; real deployments use the
	// process environment.
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using process environment")
	}

	// ── 1. Connect to PostgreSQL and Redis ───────────────────────────────
	pool, err := database.NewPool(ctx)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()
	log.Println("✓ Connected to PostgreSQL")

	rdb, err := database.NewRedisClient(ctx)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()
	log.Println("✓ Connected to Redis")

	// ── 2. Wire up layers ────────────────────────────────────────────────
	eventRepo := repository.NewEventRepository(pool)
	participationRepo := repository.NewParticipationRepository(pool)
	counter := capacity.NewCounter(rdb)
	locks := dlock.New(rdb, dlock.Config{})

	eventSvc := service.NewEventService(eventRepo, participationRepo, counter)
	reservationSvc := service.NewReservationService(participationRepo, counter, locks)
	eventHandler := handler.NewEventHandler(eventSvc, reservationSvc)

	// ── 3. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(handler.Logger)          // structured access log
	r.Use(handler.CORS)            // permissive CORS for demo

	// Health
	r.Get("/health", handler.HealthCheck)

	// API routes
	r.Route("/events", func(r chi.Router) {
		r.Post("/", eventHandler.CreateEvent)
		r.Get("/", eventHandler.ListEvents)
		r.Get("/{id}", eventHandler.GetEvent)
		r.Delete("/{id}", eventHandler.DeleteEvent)
		r.Get("/{id}/capacity", eventHandler.GetCapacity)
		r.Put("/{id}/capacity", eventHandler.UpdateCapacity)
		r.Get("/{id}/participants", eventHandler.ListParticipants)
		r.Get("/{id}/participants/count", eventHandler.CountParticipants)
		r.Post("/{id}/participants", eventHandler.Join)
		r.Delete("/{id}/participants/{userID}", eventHandler.Leave)
	})
	r.Get("/users/{userID}/participations", eventHandler.ListUserParticipations)

	// ── 4. Start server with graceful shutdown ────────────────────────────
	port := getEnv("PORT", "8080")
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run in background goroutine so we can listen for shutdown signal.
	go func() {
		log.Printf("✓ Server listening on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
	log.Println("server stopped")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
