package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rbrewer/listshare/internal/database"
	"github.com/rbrewer/listshare/internal/logging"
	"github.com/rbrewer/listshare/internal/push"
	"github.com/rbrewer/listshare/internal/server"
)

func main() {
	logger := logging.Setup(os.Getenv("LISTSHARE_LOG_LEVEL"))

	port := os.Getenv("LISTSHARE_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("LISTSHARE_DB_PATH")
	if dbPath == "" {
		dbPath = "listshare.db"
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	pushCfg := push.Config{
		VAPIDPublicKey:  os.Getenv("LISTSHARE_VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("LISTSHARE_VAPID_PRIVATE_KEY"),
	}
	if pushCfg.VAPIDPublicKey == "" || pushCfg.VAPIDPrivateKey == "" {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			slog.Error("failed to generate VAPID keys", "error", err)
			os.Exit(1)
		}
		pushCfg.VAPIDPublicKey = pub
		pushCfg.VAPIDPrivateKey = priv
		// Keys generated this way die with the process; existing browser
		// subscriptions stop validating after a restart.
		slog.Warn("generated ephemeral VAPID keys; set LISTSHARE_VAPID_PUBLIC_KEY and LISTSHARE_VAPID_PRIVATE_KEY to persist them",
			"public_key", pub)
	}

	srv := server.New(db, pushCfg, logger)

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(); err != nil {
					slog.Error("cleanup expired sessions", "error", err)
				} else if n > 0 {
					slog.Info("cleaned up expired sessions", "count", n)
				}
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("listshare starting", "addr", ":"+port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
