// Package api exposes the read-side HTTP surface as JSON: latest price,
// history windows, descriptive stats, the enriched feature row, on-demand
// forecasts and prediction accuracy. Every endpoint is a GET; writes
// happen only through the collector and enrichment loops.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"btc-feature-lab/internal/observability"
	"btc-feature-lab/internal/prediction"
	"btc-feature-lab/internal/storage"
)

// Version reported by the service info and status endpoints.
const Version = "1.0.0"

// Defaults for windowed endpoints.
const (
	DefaultWindowHours  = 24
	DefaultHistoryLimit = 100
)

// Server serves the JSON API over the stores.
type Server struct {
	observations storage.PriceObservationStore
	features     storage.FeatureStore
	predictions  storage.PredictionStore
	predictor    prediction.Predictor
	tracker      *prediction.Tracker
	runtime      func() RuntimeInfo
	startedAt    time.Time
	now          func() time.Time
}

// Options configures a Server.
type Options struct {
	ObservationStore storage.PriceObservationStore
	FeatureStore     storage.FeatureStore

	// PredictionStore backs /predictions/accuracy. Optional; the
	// endpoint reports 404 without one.
	PredictionStore storage.PredictionStore

	// Predictor serves /price/predict. Optional; the endpoint reports
	// 404 without one.
	Predictor prediction.Predictor

	// Tracker records /price/predict forecasts so their outcomes get
	// resolved later. Optional; without it forecasts return untracked.
	Tracker *prediction.Tracker

	// Runtime reports live-loop state for /status. Optional.
	Runtime func() RuntimeInfo

	Clock func() time.Time
}

// NewServer creates a Server from options.
func NewServer(opts Options) (*Server, error) {
	if opts.ObservationStore == nil {
		return nil, errors.New("api: observation store is required")
	}
	if opts.FeatureStore == nil {
		return nil, errors.New("api: feature store is required")
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &Server{
		observations: opts.ObservationStore,
		features:     opts.FeatureStore,
		predictions:  opts.PredictionStore,
		predictor:    opts.Predictor,
		tracker:      opts.Tracker,
		runtime:      opts.Runtime,
		startedAt:    opts.Clock(),
		now:          opts.Clock,
	}, nil
}

// Routes returns the HTTP mux with all endpoints mounted.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.instrument("/", s.handleRoot))
	mux.HandleFunc("/health", s.instrument("/health", s.handleHealth))
	mux.HandleFunc("/price/latest", s.instrument("/price/latest", s.handleLatestPrice))
	mux.HandleFunc("/price/history", s.instrument("/price/history", s.handlePriceHistory))
	mux.HandleFunc("/price/stats", s.instrument("/price/stats", s.handlePriceStats))
	mux.HandleFunc("/price/predict", s.instrument("/price/predict", s.handlePredict))
	mux.HandleFunc("/features/latest", s.instrument("/features/latest", s.handleLatestFeatures))
	mux.HandleFunc("/predictions/accuracy", s.instrument("/predictions/accuracy", s.handleAccuracy))
	mux.HandleFunc("/status", s.instrument("/status", s.handleStatus))
	return mux
}

// statusRecorder captures the response code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with method enforcement and request metrics.
// The whole surface is read-only, so anything but GET is rejected here.
func (s *Server) instrument(path string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			observability.RecordHTTPRequest(path, strconv.Itoa(http.StatusMethodNotAllowed), 0)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		observability.RecordHTTPRequest(path, strconv.Itoa(rec.status), time.Since(start).Seconds())
	}
}

// ErrorResponse is the JSON body for non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}

// queryInt reads a positive integer query parameter, falling back to def
// when absent. The false return means the value was present but unusable.
func queryInt(r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
