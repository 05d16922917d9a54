package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/calmsignal/calmsignal/agent/internal/config"
)

type deviceScraper struct {
	dev    config.Device
	client *http.Client
}

// Scrape fetches the device's /metrics endpoint and reads the pulse and skin
// temperature gauges. A failed fetch is reported in res.Err, not as an error.
func (s *deviceScraper) Scrape(ctx context.Context) (*ScrapeResult, error) {
	res := &ScrapeResult{
		SubjectID: s.dev.SubjectID,
		Endpoint:  s.dev.Endpoint,
		ScrapedAt: time.Now().UTC(),
	}

	mfs, err := fetchMetrics(ctx, s.client, s.dev.Endpoint)
	if err != nil {
		res.Err = fmt.Errorf("device scrape %q: %w", s.dev.SubjectID, err)
		slog.Warn("scraper: device fetch failed", "subject", s.dev.SubjectID, "endpoint", s.dev.Endpoint, "err", err)
		return res, nil
	}

	res.Pulse = latestSample(mfs[s.dev.Metrics.Pulse])
	res.Temperature = latestSample(mfs[s.dev.Metrics.Temperature])
	if res.Pulse == nil && res.Temperature == nil {
		slog.Debug("scraper: device exposes neither gauge",
			"subject", s.dev.SubjectID,
			"pulse_metric", s.dev.Metrics.Pulse,
			"temperature_metric", s.dev.Metrics.Temperature,
		)
	}
	return res, nil
}
