package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/calmsignal/calmsignal/server/internal/advisor"
	"github.com/calmsignal/calmsignal/server/internal/advisory"
	"github.com/calmsignal/calmsignal/server/internal/alerts"
	"github.com/calmsignal/calmsignal/server/internal/api"
	"github.com/calmsignal/calmsignal/server/internal/config"
	"github.com/calmsignal/calmsignal/server/internal/events"
	"github.com/calmsignal/calmsignal/server/internal/health"
	"github.com/calmsignal/calmsignal/server/internal/ingest"
	"github.com/calmsignal/calmsignal/server/internal/metrics"
	"github.com/calmsignal/calmsignal/server/internal/mirror"
	"github.com/calmsignal/calmsignal/server/internal/receiver"
	"github.com/calmsignal/calmsignal/server/internal/store"
	"github.com/calmsignal/calmsignal/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file; built-in defaults when empty")
	uiDir := flag.String("ui-dir", "", "serve the dashboard static files from this directory; overrides server.ui_dir")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("calmsignal-server starting", "config", *configPath)

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	sc := cfg.Server
	level.Set(sc.Log.SlogLevel())
	if *uiDir != "" {
		sc.UIDir = *uiDir
	}

	slog.Info("config loaded",
		"http_port", sc.HTTPPort,
		"grpc_port", sc.GRPCPort,
		"default_subject", sc.DefaultSubject,
		"advisory_ttl", sc.Advisory.TTL,
		"provider", sc.Generator.Provider,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := store.New()
	m := metrics.New(reg)

	// Advice generator. A missing credential leaves the server running; only
	// /remedy requests that need a new advisory fail.
	var gen advisory.Generator
	if sc.Generator.Provider == "openai" {
		g, err := advisor.New(sc.Generator)
		if err != nil {
			slog.Warn("advice generator disabled", "key_env", sc.Generator.KeyEnv, "err", err)
		} else {
			gen = m.InstrumentGenerator(g)
		}
	}
	cache := advisory.New(reg, gen,
		advisory.WithTTL(sc.Advisory.TTL),
		advisory.WithTimeout(sc.Advisory.Timeout),
	)

	alertEngine := alerts.New(sc.Alerts)
	observers := []receiver.Observer{m, alertEngine}

	if rc := sc.Mirror.Redis; rc.Enabled() {
		client := mirror.NewClient(rc)
		defer client.Close()
		mr := mirror.New(client, rc.KeyPrefix, rc.TTL)
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := mr.Ping(pingCtx); err != nil {
			slog.Warn("redis mirror unreachable, writes will be retried per reading", "addr", rc.Addr, "err", err)
		}
		pingCancel()
		observers = append(observers, mr)
		slog.Info("redis mirror enabled", "addr", rc.Addr, "prefix", rc.KeyPrefix)
	}

	if nc := sc.Events.NATS; nc.Enabled() {
		conn, err := events.Connect(nc.URL)
		if err != nil {
			slog.Error("failed to connect to NATS", "url", nc.URL, "err", err)
			os.Exit(1)
		}
		defer conn.Drain() //nolint:errcheck
		observers = append(observers, events.NewNotifier(conn, nc.SubjectPrefix))
		slog.Info("nats events enabled", "url", nc.URL, "prefix", nc.SubjectPrefix)
	}

	rcv := receiver.New(reg, sc.DefaultSubject, observers...)

	// gRPC: standard health service only.
	grpcSrv := grpc.NewServer()
	hs := health.Register(grpcSrv, cache.Configured())

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", sc.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port", "port", sc.GRPCPort, "err", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("gRPC health listening", "port", sc.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	if mc := sc.Ingest.MQTT; mc.Enabled() {
		sub := ingest.New(mc, rcv)
		if err := sub.Start(ctx); err != nil {
			slog.Error("failed to start MQTT ingest", "err", err)
			os.Exit(1)
		}
		defer sub.Stop()
	}

	handler := api.New(reg, rcv, cache,
		api.WithAlerts(alertEngine),
		api.WithAdvisoryObserver(m),
		api.WithDefaultSubject(sc.DefaultSubject),
		api.WithStaleAfter(sc.Diagnostics.StaleAfter),
	)

	hub := ws.New(handler.Snapshot, sc.Broadcast.Interval)
	go hub.Run(ctx)
	go alertEngine.Run(ctx, reg.List, sc.Alerts.SweepInterval)

	httpMux := http.NewServeMux()
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", m.Handler())
	if sc.UIDir != "" {
		httpMux.Handle("/", spa(sc.UIDir, handler))
		slog.Info("serving UI static files", "dir", sc.UIDir)
	} else {
		httpMux.Handle("/", handler)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, func(next *config.Config) {
				cache.SetTTL(next.Server.Advisory.TTL)
				level.Set(next.Server.Log.SlogLevel())
				slog.Info("config reloaded",
					"advisory_ttl", cache.TTL(),
					"log_level", next.Server.Log.Level,
				)
			})
			if err != nil {
				slog.Warn("config watch stopped", "err", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("calmsignal-server shutting down")

	hs.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	grpcSrv.GracefulStop()
	alertEngine.Wait()
}

// spa serves the dashboard from dir and routes API paths to api. Unknown
// non-API paths get index.html so client-side routing works.
func spa(dir string, apiHandler http.Handler) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data", "/latest_all", "/remedy":
			apiHandler.ServeHTTP(w, r)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/api/") {
			apiHandler.ServeHTTP(w, r)
			return
		}
		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		fs.ServeHTTP(w, r)
	})
}
