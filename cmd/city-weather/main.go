package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/ostap7k/city-weather/internal/api/http"
	"github.com/ostap7k/city-weather/internal/config"
	"github.com/ostap7k/city-weather/internal/limiter"
	"github.com/ostap7k/city-weather/internal/owm"
	"github.com/ostap7k/city-weather/internal/scheduler"
	"github.com/ostap7k/city-weather/internal/store"
	"github.com/ostap7k/city-weather/internal/updater"
	"github.com/ostap7k/city-weather/internal/weather"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Persistent store for cities, cache records, budget and abort state.
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer db.Close()

	// Shared HTTP client for outbound weather calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	fetcher := owm.New(httpClient, owm.Config{
		APIKey:  cfg.WeatherAPIKey,
		BaseURL: cfg.WeatherAPIBase,
	})

	// Global budget across all update triggers.
	budget := limiter.New(db, cfg.BudgetWindow, cfg.BudgetLimit)

	// Job executor for single-city refreshes.
	upd := updater.New(updater.Config{
		Records:        db,
		Coordinates:    db,
		Aborts:         db,
		Fetcher:        fetcher,
		Budget:         budget,
		CacheTTL:       cfg.CacheTTL,
		AbortThreshold: cfg.AbortThreshold,
		AbortTTL:       cfg.AbortTTL,
	})

	// Scheduler: recurring sweep plus staggered one-shot update jobs.
	sched := scheduler.New(upd, db, cfg.SweepInterval, cfg.StaggerStep, cfg.HTTPTimeout)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Read path facade for the HTTP surface.
	service := weather.NewService(weather.ServiceConfig{
		Records:        db,
		Coordinates:    db,
		Directory:      db,
		Aborts:         db,
		Flusher:        db,
		Jobs:           sched,
		AbortThreshold: cfg.AbortThreshold,
		Stagger:        cfg.StaggerStep,
	})

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "city-weather",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "city-weather",
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, httpapi.Deps{
		Service:          service,
		Sweep:            sched,
		GeocoderAPIKey:   cfg.GeocoderAPIKey,
		StatusRateMax:    cfg.StatusRateMax,
		StatusRateWindow: cfg.StatusRateWindow,
	})

	// Start server with graceful shutdown
	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
