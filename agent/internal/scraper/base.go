package scraper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/calmsignal/calmsignal/agent/internal/config"
)

const defaultScrapeTimeout = 10 * time.Second

// Sample is one gauge value read from a device.
type Sample struct {
	Value float64
	// At is the sample's exposition timestamp, zero when the device sends none.
	At time.Time
}

// ScrapeResult is the output of one scrape of one device.
// Pulse and Temperature are nil when the device did not expose that gauge.
type ScrapeResult struct {
	SubjectID string
	Endpoint  string
	ScrapedAt time.Time

	Pulse       *Sample
	Temperature *Sample

	// Err is non-nil if the scrape itself failed (connectivity, auth, parse).
	Err error
}

// Scraper is implemented by every device scraper.
type Scraper interface {
	Scrape(ctx context.Context) (*ScrapeResult, error)
}

// New returns a Scraper for dev. The HTTP client is built once and reused.
func New(dev config.Device) (Scraper, error) {
	client, err := buildHTTPClient(dev)
	if err != nil {
		return nil, fmt.Errorf("scraper %q: build http client: %w", dev.SubjectID, err)
	}
	return &deviceScraper{dev: dev, client: client}, nil
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the device's auth and TLS settings.
func buildHTTPClient(dev config.Device) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: dev.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if dev.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(dev.Auth.CertFile, dev.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if dev.Auth.CAFile != "" {
			caPEM, err := os.ReadFile(dev.Auth.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no valid certs found in ca file %q", dev.Auth.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg},
			auth: dev.Auth,
		},
		Timeout: defaultScrapeTimeout,
	}, nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still a success.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// latestSample returns the newest finite gauge or untyped value in mf.
// Series without a timestamp count as older than any with one; among equals
// the first series wins. Returns nil if mf is nil or holds no finite value.
func latestSample(mf *dto.MetricFamily) *Sample {
	if mf == nil {
		return nil
	}
	var best *Sample
	var bestMs int64 = -1
	for _, m := range mf.GetMetric() {
		var v float64
		switch {
		case m.Gauge != nil:
			v = m.Gauge.GetValue()
		case m.Untyped != nil:
			v = m.Untyped.GetValue()
		default:
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		ms := int64(-1)
		if m.TimestampMs != nil {
			ms = m.GetTimestampMs()
		}
		if best != nil && ms <= bestMs {
			continue
		}
		s := &Sample{Value: v}
		if ms >= 0 {
			s.At = time.UnixMilli(ms).UTC()
		}
		best, bestMs = s, ms
	}
	return best
}
