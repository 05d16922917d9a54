package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calmsignal/calmsignal/agent/internal/compute"
	"github.com/calmsignal/calmsignal/agent/internal/config"
	"github.com/calmsignal/calmsignal/agent/internal/scraper"
	"github.com/calmsignal/calmsignal/agent/internal/security"
	"github.com/calmsignal/calmsignal/agent/internal/shipper"
)

const certCheckInterval = 24 * time.Hour

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("calmsignal-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if err := level.UnmarshalText([]byte(cfg.Agent.Log.Level)); err != nil {
		slog.Warn("invalid log level, keeping info", "level", cfg.Agent.Log.Level, "err", err)
	}
	slog.Info("config loaded",
		"server_url", cfg.Agent.ServerURL,
		"devices", len(cfg.Agent.Devices),
		"scrape_interval", cfg.Agent.ScrapeInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	type pipeline struct {
		dev config.Device
		s   scraper.Scraper
	}
	var pipelines []pipeline
	for _, dev := range cfg.Agent.Devices {
		s, err := scraper.New(dev)
		if err != nil {
			slog.Error("skipping device, could not build scraper", "subject", dev.SubjectID, "err", err)
			continue
		}
		pipelines = append(pipelines, pipeline{dev: dev, s: s})
		slog.Info("registered device", "subject", dev.SubjectID, "endpoint", dev.Endpoint, "auth", dev.Auth.Mode)
	}

	if len(pipelines) == 0 {
		slog.Warn("no devices configured, agent will idle")
	}

	ship := shipper.New(cfg.Agent)
	go ship.Run(ctx)

	go func() {
		checkCerts(ctx, cfg.Agent.Devices)
		ticker := time.NewTicker(certCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCerts(ctx, cfg.Agent.Devices)
			}
		}
	}()

	// Scrape loop: poll every ScrapeInterval, filter and dedupe, ship.
	engine := compute.NewEngine()
	go func() {
		ticker := time.NewTicker(cfg.Agent.ScrapeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				for _, p := range pipelines {
					res, err := p.s.Scrape(ctx)
					if err != nil {
						slog.Warn("scrape error", "subject", p.dev.SubjectID, "err", err)
						continue
					}
					result := engine.Process(res, t)
					if result == nil {
						continue
					}
					ship.Ship(result)
					slog.Debug("scrape processed",
						"subject", result.SubjectID,
						"readings", len(result.Readings),
						"skipped", result.Skipped,
						"uptime_pct", result.UptimePct,
					)
				}
			}
		}
	}()

	<-ctx.Done()
	st := ship.Stats()
	slog.Info("calmsignal-agent shutting down",
		"delivered", st.Delivered,
		"rejected", st.Rejected,
		"evicted", st.Evicted,
		"unsent", st.Buffered,
	)
}

func checkCerts(ctx context.Context, devices []config.Device) {
	for _, dev := range devices {
		cs := security.Check(ctx, dev, time.Now())
		switch {
		case cs == nil:
		case cs.OK():
			slog.Debug("device certificate valid", "subject", cs.SubjectID, "days_left", cs.DaysLeft)
		default:
			slog.Warn("device certificate needs attention",
				"subject", cs.SubjectID,
				"endpoint", cs.Endpoint,
				"status", cs.Status,
				"days_left", cs.DaysLeft,
				"issuer", cs.Issuer,
				"err", cs.Err,
			)
		}
	}
}
