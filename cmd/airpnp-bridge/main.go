package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"airpnp-bridge/internal/bridge"
	"airpnp-bridge/internal/config"
	"airpnp-bridge/internal/discovery"
	"airpnp-bridge/internal/version"
	"airpnp-bridge/internal/zeroconf"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	httpClient := &http.Client{Timeout: cfg.SoapTimeout}

	var advertiser *zeroconf.Advertiser
	if cfg.ZeroconfEnabled {
		advertiser = zeroconf.New(logger)
	}

	bridgeServer := bridge.New(httpClient, advertiser, cfg.PortRangeStart, cfg.PortRangeEnd, logger)

	disc := discovery.New(
		bridgeServer.OnDeviceAdded,
		bridgeServer.OnDeviceRemoved,
		discovery.WithHTTPClient(httpClient),
		discovery.WithLogger(logger),
		discovery.WithInterval(cfg.DiscoveryInterval),
		discovery.WithDescriptionTimeout(cfg.DescriptionFetchTimeout),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go disc.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(version.Full())
	})

	server := &http.Server{
		Addr:         ":8080",
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("starting airpnp-bridge",
			"version", version.Short(),
			"discovery_interval", cfg.DiscoveryInterval,
			"port_range", []int{cfg.PortRangeStart, cfg.PortRangeEnd},
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cancel()

	bridgeServer.Close()
	if advertiser != nil {
		advertiser.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("health server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("stopped")
}
