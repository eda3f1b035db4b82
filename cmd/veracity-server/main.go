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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	internalhttp "github.com/veracity-ops/veracity/internal/api/http"
	"github.com/veracity-ops/veracity/internal/auth"
	"github.com/veracity-ops/veracity/internal/credentials"
	"github.com/veracity-ops/veracity/internal/db"
	"github.com/veracity-ops/veracity/internal/deploy"
	"github.com/veracity-ops/veracity/internal/inventory"
	"github.com/veracity-ops/veracity/internal/notify"
	"github.com/veracity-ops/veracity/internal/orphan"
	"github.com/veracity-ops/veracity/internal/salt"
	"github.com/veracity-ops/veracity/internal/users"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Veracity Server", "version", AppVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.RunMigrations(config.DB.Url, config.DB.Schema); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	pool, err := db.InitDB(ctx, config.DB.Url, config.DB.Schema)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	cipher, err := credentials.NewCipher(config.EncryptionKey)
	if err != nil {
		slog.Error("Invalid encryption key", "error", err)
		os.Exit(1)
	}

	userService := users.NewService(pool)
	authService := auth.NewService(userService, config.Auth)
	credService := credentials.NewService(pool, cipher)
	inventoryService := inventory.NewService(pool)
	saltClient := salt.NewClient(config.Salt)
	notifier := notify.NewGotifyClient(config.Notify)

	orchestrator := deploy.NewOrchestrator(saltClient, credService, inventoryService, notifier)
	sweeper := orphan.NewSweeper(saltClient, config.Orphan.ScanInterval, config.Orphan.TTL)
	go sweeper.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())

	internalhttp.SetupRoute(engine, config.Http, &internalhttp.Services{
		Auth:         authService,
		AuthConfig:   config.Auth,
		Users:        userService,
		Credentials:  credService,
		Inventory:    inventoryService,
		Orchestrator: orchestrator,
		Sweeper:      sweeper,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	slog.Info("Shutdown complete")
}
