// Package api provides the read-only status endpoints for the tracker.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"cdr.dev/slog/v3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/xerrors"

	"boat_tracker/internal/storage"
	"boat_tracker/internal/telemetry"
	"boat_tracker/internal/tzoffset"
)

// Store is the read side of the record store.
type Store interface {
	Latest(ctx context.Context) (*storage.Sample, error)
	UploadStats(ctx context.Context) (*storage.UploadStats, error)
	Count(ctx context.Context, uploaded *bool) (int64, error)
}

// Telemetry exposes the current engine readings.
type Telemetry interface {
	Snapshot() map[string]telemetry.Entry
}

// Config holds configuration for the status server.
type Config struct {
	Address string
	APIKeys []string // Auth is enabled when any key is set.
}

// StatusServer serves tracker state over HTTP.
type StatusServer struct {
	store     Store
	telemetry Telemetry
	gatherer  prometheus.Gatherer
	addr      string
	apiKeys   map[string]bool
	logger    slog.Logger
}

// NewStatusServer creates a status server. tel and gatherer may be nil.
func NewStatusServer(store Store, tel Telemetry, gatherer prometheus.Gatherer, logger slog.Logger, cfg Config) *StatusServer {
	keys := make(map[string]bool)
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys[k] = true
		}
	}
	return &StatusServer{
		store:     store,
		telemetry: tel,
		gatherer:  gatherer,
		addr:      cfg.Address,
		apiKeys:   keys,
		logger:    logger,
	}
}

// Run serves until ctx is done, then shuts the listener down.
func (s *StatusServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info(ctx, "status API listening", slog.F("address", s.addr), slog.F("auth", len(s.apiKeys) > 0))

	select {
	case err := <-errc:
		return xerrors.Errorf("serve %s: %w", s.addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return xerrors.Errorf("shutdown status API: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return xerrors.Errorf("serve %s: %w", s.addr, err)
	}
	return nil
}

// Router returns the configured chi router.
func (s *StatusServer) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Timeout(30 * time.Second))

	if s.gatherer != nil {
		r.Group(func(r chi.Router) {
			if len(s.apiKeys) > 0 {
				r.Use(s.authMiddleware)
			}
			r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		})
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required).
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if len(s.apiKeys) > 0 {
				r.Use(s.authMiddleware)
			}
			r.Get("/stats", s.handleStats)
			r.Get("/samples/latest", s.handleLatest)
			r.Get("/telemetry", s.handleTelemetry)
		})
	})

	return r
}

func (s *StatusServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Context(), "http request",
			slog.F("method", r.Method),
			slog.F("path", r.URL.Path),
			slog.F("status", ww.Status()),
			slog.F("duration", time.Since(start)),
		)
	})
}

// authMiddleware validates API key authentication.
func (s *StatusServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "API key required")
			return
		}
		if !s.apiKeys[apiKey] {
			writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SampleResponse is the JSON form of a stored sample.
type SampleResponse struct {
	ID                int64    `json:"id"`
	TZOffset          string   `json:"tz_offset"`
	ShiftedTimestamp  float64  `json:"utc_shifted_tstamp"`
	LocalTime         string   `json:"local_time"`
	UTC               string   `json:"utc,omitempty"`
	Latitude          float64  `json:"latitude"`
	Longitude         float64  `json:"longitude"`
	Altitude          float64  `json:"altitude"`
	RPM               *float64 `json:"rpm"`
	EngineHours       *float64 `json:"engine_hours"`
	CoolantTemp       *float64 `json:"coolant_temp"`
	AlternatorVoltage *float64 `json:"alternator_voltage"`
	Uploaded          bool     `json:"uploaded"`
}

func sampleToResponse(s *storage.Sample) SampleResponse {
	resp := SampleResponse{
		ID:               s.ID,
		TZOffset:         s.TZOffset,
		ShiftedTimestamp: s.Timestamp,
		LocalTime:        tzoffset.WallClock(s.Timestamp).Format(time.DateTime),
		Latitude:         s.Latitude,
		Longitude:        s.Longitude,
		Altitude:         s.Altitude,
		Uploaded:         s.Uploaded,
	}
	if utc, err := tzoffset.Unshift(s.Timestamp, s.TZOffset); err == nil {
		resp.UTC = utc.Format(time.RFC3339)
	}
	rec := storage.RemoteRecords([]storage.Sample{*s})[0]
	resp.RPM = rec.RPM
	resp.EngineHours = rec.EngineHours
	resp.CoolantTemp = rec.CoolantTemp
	resp.AlternatorVoltage = rec.AlternatorVoltage
	return resp
}

// StatsResponse summarises upload progress. Times are local wall clock.
type StatsResponse struct {
	Total        int64  `json:"total"`
	Pending      int64  `json:"pending"`
	LastUploaded string `json:"last_uploaded,omitempty"`
	LastPending  string `json:"last_pending,omitempty"`
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *StatusServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.UploadStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.store.Count(r.Context(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := StatsResponse{Total: total, Pending: stats.Pending}
	if stats.LastUploaded.Valid {
		resp.LastUploaded = tzoffset.WallClock(stats.LastUploaded.Float64).Format(time.DateTime)
	}
	if stats.LastPending.Valid {
		resp.LastPending = tzoffset.WallClock(stats.LastPending.Float64).Format(time.DateTime)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *StatusServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := s.store.Latest(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if latest == nil {
		writeError(w, http.StatusNotFound, "No samples recorded")
		return
	}
	writeJSON(w, http.StatusOK, sampleToResponse(latest))
}

// SignalResponse is one cached bus reading.
type SignalResponse struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

func (s *StatusServer) handleTelemetry(w http.ResponseWriter, _ *http.Request) {
	resp := []SignalResponse{}
	if s.telemetry != nil {
		for name, e := range s.telemetry.Snapshot() {
			resp = append(resp, SignalResponse{
				Name:      name,
				Value:     e.Value,
				Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
			})
		}
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].Name < resp[j].Name })
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
