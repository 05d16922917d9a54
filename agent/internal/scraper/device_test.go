package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/calmsignal/calmsignal/agent/internal/config"
)

// deviceMetrics is a realistic wearable gateway exposition.
const deviceMetrics = `
# HELP calmsignal_pulse_bpm Latest pulse reading in beats per minute.
# TYPE calmsignal_pulse_bpm gauge
calmsignal_pulse_bpm{sensor="ppg"} 74.5

# HELP calmsignal_skin_temperature_celsius Latest skin temperature.
# TYPE calmsignal_skin_temperature_celsius gauge
calmsignal_skin_temperature_celsius{sensor="ntc"} 35.8

# HELP device_battery_ratio Battery level.
# TYPE device_battery_ratio gauge
device_battery_ratio 0.62
`

func device(endpoint string) config.Device {
	return config.Device{
		SubjectID: "ward-3",
		Endpoint:  endpoint,
		Metrics: config.MetricNames{
			Pulse:       config.DefaultPulseMetric,
			Temperature: config.DefaultTemperatureMetric,
		},
	}
}

func serve(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDeviceScraper_Scrape(t *testing.T) {
	srv := serve(t, deviceMetrics)
	s := &deviceScraper{dev: device(srv.URL), client: srv.Client()}

	res, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if res.Err != nil {
		t.Fatalf("res.Err = %v", res.Err)
	}
	if res.SubjectID != "ward-3" {
		t.Errorf("SubjectID = %q", res.SubjectID)
	}
	if res.Pulse == nil || res.Pulse.Value != 74.5 {
		t.Errorf("Pulse = %+v, want 74.5", res.Pulse)
	}
	if res.Temperature == nil || res.Temperature.Value != 35.8 {
		t.Errorf("Temperature = %+v, want 35.8", res.Temperature)
	}
	if !res.Pulse.At.IsZero() {
		t.Errorf("Pulse.At = %v, want zero without exposition timestamp", res.Pulse.At)
	}
}

func TestDeviceScraper_CustomMetricNames(t *testing.T) {
	srv := serve(t, "hr_bpm 88\nskin_c 36.1\n")
	dev := device(srv.URL)
	dev.Metrics = config.MetricNames{Pulse: "hr_bpm", Temperature: "skin_c"}
	s := &deviceScraper{dev: dev, client: srv.Client()}

	res, _ := s.Scrape(context.Background())
	if res.Pulse == nil || res.Pulse.Value != 88 {
		t.Errorf("Pulse = %+v, want 88 (untyped)", res.Pulse)
	}
	if res.Temperature == nil || res.Temperature.Value != 36.1 {
		t.Errorf("Temperature = %+v, want 36.1", res.Temperature)
	}
}

func TestDeviceScraper_MissingGauge(t *testing.T) {
	srv := serve(t, "calmsignal_pulse_bpm 70\n")
	s := &deviceScraper{dev: device(srv.URL), client: srv.Client()}

	res, _ := s.Scrape(context.Background())
	if res.Pulse == nil {
		t.Fatal("Pulse should be set")
	}
	if res.Temperature != nil {
		t.Errorf("Temperature = %+v, want nil", res.Temperature)
	}
}

func TestLatestSample_NewestTimestampWins(t *testing.T) {
	body := `
# TYPE calmsignal_pulse_bpm gauge
calmsignal_pulse_bpm{sensor="a"} 70 1700000000000
calmsignal_pulse_bpm{sensor="b"} 82 1700000005000
calmsignal_pulse_bpm{sensor="c"} NaN 1700000009000
`
	mfs, err := parseMetrics(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parseMetrics: %v", err)
	}
	s := latestSample(mfs["calmsignal_pulse_bpm"])
	if s == nil || s.Value != 82 {
		t.Fatalf("latestSample = %+v, want 82", s)
	}
	if want := time.UnixMilli(1700000005000).UTC(); !s.At.Equal(want) {
		t.Errorf("At = %v, want %v", s.At, want)
	}
}

func TestLatestSample_Nil(t *testing.T) {
	if s := latestSample(nil); s != nil {
		t.Errorf("latestSample(nil) = %+v, want nil", s)
	}
}

func TestDeviceScraper_ConnectFailure(t *testing.T) {
	s := &deviceScraper{dev: device("http://127.0.0.1:1"), client: &http.Client{}}
	res, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() should not return err, got: %v", err)
	}
	if res.Err == nil {
		t.Fatal("res.Err should be set when endpoint is unreachable")
	}
}

func TestDeviceScraper_Non200Response(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := &deviceScraper{dev: device(srv.URL), client: srv.Client()}
	res, _ := s.Scrape(context.Background())
	if res.Err == nil {
		t.Fatal("res.Err should be set for 401 response")
	}
}

func TestNew_AuthHeaders(t *testing.T) {
	tests := []struct {
		name  string
		auth  config.AuthConfig
		env   map[string]string
		check func(r *http.Request) string
		want  string
	}{
		{
			name:  "apikey",
			auth:  config.AuthConfig{Mode: "apikey", Header: "X-API-Key", KeyEnv: "TEST_DEVICE_KEY"},
			env:   map[string]string{"TEST_DEVICE_KEY": "test-secret-key"},
			check: func(r *http.Request) string { return r.Header.Get("X-API-Key") },
			want:  "test-secret-key",
		},
		{
			name:  "bearer",
			auth:  config.AuthConfig{Mode: "bearer", TokenEnv: "TEST_DEVICE_TOKEN"},
			env:   map[string]string{"TEST_DEVICE_TOKEN": "mytoken"},
			check: func(r *http.Request) string { return r.Header.Get("Authorization") },
			want:  "Bearer mytoken",
		},
		{
			name: "basic",
			auth: config.AuthConfig{Mode: "basic", Username: "nurse", PasswordEnv: "TEST_DEVICE_PW"},
			env:  map[string]string{"TEST_DEVICE_PW": "pw"},
			check: func(r *http.Request) string {
				u, p, _ := r.BasicAuth()
				return u + ":" + p
			},
			want: "nurse:pw",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			var got string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = tc.check(r)
				_, _ = w.Write([]byte("# empty\n"))
			}))
			defer srv.Close()

			dev := device(srv.URL)
			dev.Auth = tc.auth
			s, err := New(dev)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			s.Scrape(context.Background()) //nolint:errcheck

			if got != tc.want {
				t.Errorf("auth header = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNew_MTLSMissingCert(t *testing.T) {
	dev := device("https://localhost:1")
	dev.Auth = config.AuthConfig{Mode: "mtls", CertFile: "/nonexistent.crt", KeyFile: "/nonexistent.key"}
	if _, err := New(dev); err == nil {
		t.Fatal("New() with unreadable client cert should return error")
	}
}
