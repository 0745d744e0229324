package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"docqa/internal/di"
	"docqa/internal/infra"
	"docqa/internal/infra/config"
	"docqa/internal/infra/logger"
)

func main() {
	// Local development convenience; production sets real env vars.
	_ = godotenv.Load()

	cfg := config.Load()

	log := logger.NewWithOTel(cfg.EnableOTel)
	slog.SetDefault(log)

	ctx := context.Background()

	dbPool, err := infra.NewPostgresDB(ctx, cfg.DatabaseDSN()+"?sslmode=disable")
	if err != nil {
		log.Error("failed to connect to db", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	vectorPool, err := infra.NewVectorPool(ctx, cfg.VectorDSN)
	if err != nil {
		// Dense retrieval is optional; the service degrades to sparse-only.
		log.Warn("vector db unavailable, running sparse-only", "error", err)
		vectorPool = nil
	}
	if vectorPool != nil {
		defer vectorPool.Close()
	}

	components := di.NewApplicationComponents(cfg, dbPool, vectorPool, log)

	// The sparse index is in-memory; rebuild it before accepting traffic.
	if err := components.RecoverUsecase.Recover(ctx); err != nil {
		log.Error("failed to recover sparse index", "error", err)
		os.Exit(1)
	}

	if cfg.WorkerEnabled && vectorPool != nil {
		components.Worker.Start()
		defer components.Worker.Stop()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())

	components.Handler.Register(e)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", func(c echo.Context) error {
		if err := dbPool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "db down", "error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		log.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		e.Logger.Fatal(err)
	}
}
