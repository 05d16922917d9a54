package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/calmsignal/calmsignal/pkg/types"
	"github.com/calmsignal/calmsignal/server/internal/advisory"
	"github.com/calmsignal/calmsignal/server/internal/alerts"
	"github.com/calmsignal/calmsignal/server/internal/receiver"
	"github.com/calmsignal/calmsignal/server/internal/store"
	"github.com/calmsignal/calmsignal/server/internal/stress"
)

// maxBodyBytes caps request bodies on the POST routes.
const maxBodyBytes = 64 << 10

// AlertSource lists current alerts. *alerts.Engine satisfies it.
type AlertSource interface {
	Active() []*alerts.Alert
}

// AdvisoryObserver is told the outcome of every advisory request.
// *metrics.Metrics satisfies it.
type AdvisoryObserver interface {
	ObserveAdvisory(res advisory.Result, err error)
}

// Option configures a Handler.
type Option func(*Handler)

// WithAlerts serves alerts from src on /api/v1/alerts.
func WithAlerts(src AlertSource) Option {
	return func(h *Handler) { h.alerts = src }
}

// WithAdvisoryObserver reports advisory outcomes to o.
func WithAdvisoryObserver(o AdvisoryObserver) Option {
	return func(h *Handler) { h.advisoryObs = o }
}

// WithDefaultSubject sets the subject used by /remedy requests that name none.
func WithDefaultSubject(id string) Option {
	return func(h *Handler) { h.defaultSubject = id }
}

// WithStaleAfter sets the reading age past which diagnostics flag a sensor as stale.
func WithStaleAfter(d time.Duration) Option {
	return func(h *Handler) { h.staleAfter = d }
}

// Handler is the HTTP handler for the reading, advisory and /api/v1 routes.
type Handler struct {
	registry *store.Registry
	receiver *receiver.Receiver
	cache    *advisory.Cache

	alerts         AlertSource
	advisoryObs    AdvisoryObserver
	defaultSubject string
	staleAfter     time.Duration
	now            func() time.Time

	mux *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(reg *store.Registry, rcv *receiver.Receiver, cache *advisory.Cache, opts ...Option) *Handler {
	h := &Handler{
		registry:       reg,
		receiver:       rcv,
		cache:          cache,
		defaultSubject: types.DefaultSubjectID,
		staleAfter:     2 * time.Minute,
		now:            time.Now,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.mux.HandleFunc("/data", h.data)
	h.mux.HandleFunc("/latest_all", h.latestAll)
	h.mux.HandleFunc("/remedy", h.remedy)

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/subjects", h.listSubjects)
	h.mux.HandleFunc("/api/v1/subjects/", h.getSubject) // subtree, extracts {id}
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.mux.ServeHTTP(w, r)
}

// Snapshot builds the payload shared by GET /api/v1/snapshot and the
// WebSocket hub.
func (h *Handler) Snapshot() SnapshotResponse {
	now := h.now()
	return SnapshotResponse{
		Subjects:    h.subjects(now),
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}
}

// --- device routes ----------------------------------------------------------

// data handles POST /data, one sensor reading.
func (h *Handler) data(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var rd types.Reading
	if err := decodeBody(r, &rd); err != nil {
		h.receiver.Reject(r.Context(), types.Reading{}, fmt.Errorf("%w: %v", store.ErrInvalidPayload, err))
		jsonErr(w, http.StatusBadRequest, "invalid payload")
		return
	}

	ch, err := h.receiver.Accept(r.Context(), rd)
	if err != nil {
		if errors.Is(err, store.ErrInvalidPayload) {
			jsonErr(w, http.StatusBadRequest, "invalid payload")
			return
		}
		slog.Error("api: accept reading", "err", err)
		jsonErr(w, http.StatusInternalServerError, "internal error")
		return
	}

	jsonResp(w, http.StatusOK, DataResponse{
		OK:        true,
		SubjectID: ch.Record.SubjectID,
		State:     string(ch.Record.State),
	})
}

// latestAll handles GET /latest_all, every subject keyed by id.
func (h *Handler) latestAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	now := h.now()
	out := make(map[string]SubjectResponse)
	for id, rec := range h.registry.List() {
		out[id] = h.toSubjectResponse(rec, now)
	}
	jsonResp(w, http.StatusOK, out)
}

// remedy handles POST /remedy, the cached or freshly generated advisory.
func (h *Handler) remedy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req types.AdvisoryRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		jsonErr(w, http.StatusBadRequest, "invalid payload")
		return
	}
	id := req.Subject(h.defaultSubject)

	res, err := h.cache.GetOrRefresh(r.Context(), id, h.now())
	if h.advisoryObs != nil {
		h.advisoryObs.ObserveAdvisory(res, err)
	}
	if err != nil {
		code, msg := advisoryStatus(err)
		if code >= http.StatusInternalServerError {
			slog.Warn("api: remedy failed", "subject", id, "status", code, "err", err)
		}
		jsonErr(w, code, msg)
		return
	}

	jsonResp(w, http.StatusOK, RemedyResponse{
		OK:        true,
		SubjectID: id,
		Remedy:    res.Text,
		Cached:    res.Cached,
	})
}

// advisoryStatus maps an advisory error to an HTTP status and client message.
func advisoryStatus(err error) (int, string) {
	switch {
	case errors.Is(err, advisory.ErrUnknownSubject):
		return http.StatusNotFound, "unknown subject"
	case errors.Is(err, advisory.ErrGeneratorUnavailable):
		return http.StatusInternalServerError, "advice generator not configured on server"
	case errors.Is(err, advisory.ErrGenerationFailed):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// --- /api/v1 ----------------------------------------------------------------

// health returns GET /api/v1/health, subject counts per state.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	records := h.registry.List()
	resp := HealthResponse{
		SubjectCount:        len(records),
		GeneratorConfigured: h.cache.Configured(),
	}
	for _, rec := range records {
		switch rec.State {
		case stress.StateRelaxed:
			resp.RelaxedCount++
		case stress.StateNormal:
			resp.NormalCount++
		case stress.StateStressed:
			resp.StressedCount++
		default:
			resp.UnknownCount++
		}
	}
	if h.alerts != nil {
		for _, a := range h.alerts.Active() {
			if a.State == alerts.StateFiring {
				resp.AlertCount++
			}
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// listSubjects returns GET /api/v1/subjects, sorted by subject id.
func (h *Handler) listSubjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.subjects(h.now()))
}

// getSubject returns GET /api/v1/subjects/{id}.
func (h *Handler) getSubject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/subjects/")
	if id == "" {
		h.listSubjects(w, r)
		return
	}

	rec, ok := h.registry.Get(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "subject not found")
		return
	}
	jsonResp(w, http.StatusOK, h.toSubjectResponse(rec, h.now()))
}

// snapshot returns GET /api/v1/snapshot.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.Snapshot())
}

// listAlerts returns GET /api/v1/alerts, firing plus recently resolved.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := []*alerts.Alert{}
	if h.alerts != nil {
		out = append(out, h.alerts.Active()...)
	}
	jsonResp(w, http.StatusOK, out)
}

// --- helpers ----------------------------------------------------------------

func (h *Handler) subjects(now time.Time) []SubjectResponse {
	records := h.registry.List()
	out := make([]SubjectResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, h.toSubjectResponse(rec, now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out
}

// toSubjectResponse maps a store.Record to its JSON representation.
func (h *Handler) toSubjectResponse(rec store.Record, now time.Time) SubjectResponse {
	fresh := h.cache.IsFresh(rec, now)
	return SubjectResponse{
		SubjectID:   rec.SubjectID,
		BPM:         rec.BPM,
		TempC:       rec.TempC,
		PulseAt:     formatTime(rec.PulseAt),
		TempAt:      formatTime(rec.TempAt),
		StressIndex: rec.StressIndex,
		State:       string(rec.State),
		Remedy:      rec.Advisory,
		RemedyAt:    formatTime(rec.AdvisoryAt),
		RemedyFresh: fresh,
		Diagnostics: computeDiagnostics(rec, now, h.staleAfter, fresh),
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{OK: false, Error: msg})
}
