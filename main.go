package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"landkeeper/engine/internal/config"
	"landkeeper/engine/internal/gateway"
	httpapi "landkeeper/engine/internal/http"
	"landkeeper/engine/internal/journal"
	"landkeeper/engine/internal/logging"
	"landkeeper/engine/internal/manager"
	"landkeeper/engine/internal/persist"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialise logging: %v\n", err)
		os.Exit(1)
	}
	logging.ReplaceGlobals(logger)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []manager.Option{manager.WithLogger(logger)}

	//1.- Optional snapshot persistence.
	if cfg.SnapshotDir != "" {
		store, err := persist.NewStore(cfg.SnapshotDir)
		if err != nil {
			logger.Fatal("open snapshot store", logging.Error(err))
		}
		opts = append(opts, manager.WithPersister(store))
	}

	//2.- Optional journaling with retention: one bundle per Land, anchored by
	// base snapshots so bundles rebuild on their own.
	if cfg.JournalDir != "" {
		recorder, err := journal.NewRecorder(cfg.JournalDir, time.Now)
		if err != nil {
			logger.Fatal("open journal", logging.Error(err))
		}
		defer recorder.Close()
		logger.Info("journaling enabled", logging.String("dir", cfg.JournalDir))
		opts = append(opts, manager.WithRecorder(recorder))

		cleaner := journal.NewCleaner(cfg.JournalDir, journal.RetentionPolicy{MaxAge: cfg.JournalMaxAge}, logger)
		go cleaner.Run(ctx, time.Hour)
	}

	mgr := manager.New(opts...)
	if err := mgr.RegisterDefinition(lobbyDefinition(cfg)); err != nil {
		logger.Fatal("register land definition", logging.Error(err))
	}

	gw := gateway.New(cfg, mgr, logger)
	//3.- The gateway is also the delivery sink for sync updates and events.
	mgr.SetOutbound(gw)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.ServeWS)
	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:      logger,
		Clients:     gw.ClientCount,
		Lands:       mgr.ListLands,
		AdminToken:  cfg.AdminToken,
		RateLimiter: httpapi.NewRequestGate(time.Minute, 30, nil),
	})
	handlers.Register(mux)

	server := &http.Server{Addr: cfg.Address, Handler: logging.HTTPTraceMiddleware(logger)(mux)}

	go func() {
		logger.Info("engine listening", logging.String("address", cfg.Address))
		var serveErr error
		if cfg.TLSCertPath != "" {
			serveErr = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			serveErr = server.ListenAndServe()
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("http server failed", logging.Error(serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", logging.Error(err))
	}
	//4.- Lands persist their final snapshot during shutdown.
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Warn("land shutdown failed", logging.Error(err))
	}
	logger.Info("engine stopped")
}
