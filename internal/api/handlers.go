package api

import (
	"errors"
	"math"
	"net/http"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/features"
	"btc-feature-lab/internal/metrics"
	"btc-feature-lab/internal/prediction"
	"btc-feature-lab/internal/storage"
)

// ServiceInfo is the JSON response for the root endpoint.
type ServiceInfo struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	// The root pattern catches every unmatched path.
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	writeJSON(w, http.StatusOK, ServiceInfo{
		Service: "btc-feature-lab",
		Version: Version,
		Endpoints: map[string]string{
			"latest_price":    "/price/latest",
			"price_history":   "/price/history",
			"price_stats":     "/price/stats",
			"predict":         "/price/predict",
			"latest_features": "/features/latest",
			"accuracy":        "/predictions/accuracy",
			"health":          "/health",
			"status":          "/status",
		},
	})
}

// HealthResponse is the JSON response for /health.
type HealthResponse struct {
	Status            string `json:"status"`
	Database          string `json:"database"`
	LastObservationMs *int64 `json:"last_observation_ms,omitempty"`
	TimestampMs       int64  `json:"timestamp_ms"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      "healthy",
		Database:    "connected",
		TimestampMs: s.now().UnixMilli(),
	}

	// The store round trip doubles as the database probe.
	latest, err := s.observations.GetLast(r.Context())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// An empty store is still a healthy store.
	case err != nil:
		resp.Status = "unhealthy"
		resp.Database = "error"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	default:
		resp.LastObservationMs = &latest.TimestampMs
	}

	writeJSON(w, http.StatusOK, resp)
}

// LatestPriceResponse is the JSON response for /price/latest.
type LatestPriceResponse struct {
	Price       float64 `json:"price"`
	TimestampMs int64   `json:"timestamp_ms"`
	Source      string  `json:"source"`
	AgeSeconds  float64 `json:"age_seconds"`
}

func (s *Server) handleLatestPrice(w http.ResponseWriter, r *http.Request) {
	latest, err := s.observations.GetLast(r.Context())
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no price recorded yet")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, LatestPriceResponse{
		Price:       latest.Price,
		TimestampMs: latest.TimestampMs,
		Source:      latest.Source,
		AgeSeconds:  float64(s.now().UnixMilli()-latest.TimestampMs) / 1000,
	})
}

// ObservationResponse is one point of /price/history.
type ObservationResponse struct {
	TimestampMs int64   `json:"timestamp_ms"`
	Price       float64 `json:"price"`
	Source      string  `json:"source"`
}

// HistoryResponse is the JSON response for /price/history. Observations
// are ordered oldest first; limit keeps the most recent ones.
type HistoryResponse struct {
	PeriodHours  int                   `json:"period_hours"`
	Count        int                   `json:"count"`
	Observations []ObservationResponse `json:"observations"`
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	hours, ok := queryInt(r, "hours", DefaultWindowHours)
	if !ok {
		writeError(w, http.StatusBadRequest, "hours must be a positive integer")
		return
	}
	limit, ok := queryInt(r, "limit", DefaultHistoryLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	obs, err := s.windowObservations(r, hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(obs) == 0 {
		writeError(w, http.StatusNotFound, "no prices in the requested window")
		return
	}
	if len(obs) > limit {
		obs = obs[len(obs)-limit:]
	}

	points := make([]ObservationResponse, len(obs))
	for i, o := range obs {
		points[i] = ObservationResponse{
			TimestampMs: o.TimestampMs,
			Price:       o.Price,
			Source:      o.Source,
		}
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		PeriodHours:  hours,
		Count:        len(points),
		Observations: points,
	})
}

// StatsResponse is the JSON response for /price/stats.
type StatsResponse struct {
	PeriodHours   int     `json:"period_hours"`
	TotalRecords  int     `json:"total_records"`
	WindowStartMs int64   `json:"window_start_ms"`
	WindowEndMs   int64   `json:"window_end_ms"`
	MinPrice      float64 `json:"min_price"`
	MaxPrice      float64 `json:"max_price"`
	AvgPrice      float64 `json:"avg_price"`
	MedianPrice   float64 `json:"median_price"`
	P10Price      float64 `json:"p10_price"`
	P90Price      float64 `json:"p90_price"`
	StddevPrice   float64 `json:"stddev_price"`
	FirstPrice    float64 `json:"first_price"`
	LatestPrice   float64 `json:"latest_price"`
	Change        float64 `json:"change"`
	ChangePct     float64 `json:"change_pct"`
}

func (s *Server) handlePriceStats(w http.ResponseWriter, r *http.Request) {
	hours, ok := queryInt(r, "hours", DefaultWindowHours)
	if !ok {
		writeError(w, http.StatusBadRequest, "hours must be a positive integer")
		return
	}

	obs, err := s.windowObservations(r, hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(obs) == 0 {
		writeError(w, http.StatusNotFound, "no prices in the requested window")
		return
	}

	summary := metrics.SummarizePrices(obs)
	writeJSON(w, http.StatusOK, StatsResponse{
		PeriodHours:   hours,
		TotalRecords:  summary.Count,
		WindowStartMs: summary.WindowStartMs,
		WindowEndMs:   summary.WindowEndMs,
		MinPrice:      summary.Min,
		MaxPrice:      summary.Max,
		AvgPrice:      summary.Mean,
		MedianPrice:   summary.Median,
		P10Price:      summary.P10,
		P90Price:      summary.P90,
		StddevPrice:   summary.Stddev,
		FirstPrice:    summary.First,
		LatestPrice:   summary.Last,
		Change:        summary.Change,
		ChangePct:     summary.ChangePct,
	})
}

// PredictResponse is the JSON response for /price/predict.
type PredictResponse struct {
	PredictionID   string  `json:"prediction_id,omitempty"`
	ModelID        string  `json:"model_id"`
	CurrentPrice   float64 `json:"current_price"`
	PredictedPrice float64 `json:"predicted_price"`
	Trend          string  `json:"trend"`
	Confidence     float64 `json:"confidence"`
	TargetTimeMs   int64   `json:"target_time_ms"`
	HorizonMs      int64   `json:"horizon_ms"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if s.predictor == nil {
		writeError(w, http.StatusNotFound, "no predictor configured")
		return
	}

	history, err := s.observations.GetLatest(r.Context(), features.DefaultContextSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(history) == 0 {
		writeError(w, http.StatusNotFound, "no price recorded yet")
		return
	}
	current := history[len(history)-1]

	horizon := prediction.DefaultHorizonMs
	if s.tracker != nil {
		horizon = s.tracker.HorizonMs()
	}

	input := &prediction.PredictorInput{History: history, HorizonMs: horizon}

	// Attach the enriched row only when it matches the current
	// observation; a stale row describes an older price.
	row, err := s.features.GetLast(r.Context())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err == nil && row.TimestampMs == current.TimestampMs {
		input.Row = row
	}

	forecast, err := s.predictor.Predict(r.Context(), input)
	if errors.Is(err, prediction.ErrInsufficientHistory) {
		writeError(w, http.StatusNotFound, "not enough history to forecast")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := PredictResponse{
		ModelID:        s.predictor.ID(),
		CurrentPrice:   current.Price,
		PredictedPrice: forecast.PredictedPrice,
		Trend:          forecast.Trend,
		Confidence:     forecast.Confidence,
		TargetTimeMs:   s.now().UnixMilli() + horizon,
		HorizonMs:      horizon,
	}

	if s.tracker != nil {
		p, err := s.tracker.Record(r.Context(), s.predictor.ID(), current.Price, forecast)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.PredictionID = p.PredictionID
		resp.TargetTimeMs = p.TargetTimeMs
	}

	writeJSON(w, http.StatusOK, resp)
}

// FeatureRowResponse is the JSON response for /features/latest. Nullable
// features render as null during warm-up and lookup misses.
type FeatureRowResponse struct {
	TimestampMs  int64               `json:"timestamp_ms"`
	Price        float64             `json:"price"`
	Source       string              `json:"source"`
	MinuteOfHour int64               `json:"minute_of_hour"`
	HourOfDay    int64               `json:"hour_of_day"`
	DayOfWeek    int64               `json:"day_of_week"`
	WeekOfYear   int64               `json:"week_of_year"`
	Features     map[string]*float64 `json:"features"`
}

func (s *Server) handleLatestFeatures(w http.ResponseWriter, r *http.Request) {
	row, err := s.features.GetLast(r.Context())
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no enriched rows yet")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, FeatureRowResponse{
		TimestampMs:  row.TimestampMs,
		Price:        row.Price,
		Source:       row.Source,
		MinuteOfHour: row.MinuteOfHour,
		HourOfDay:    row.HourOfDay,
		DayOfWeek:    row.DayOfWeek,
		WeekOfYear:   row.WeekOfYear,
		Features:     features.NullableValues(row),
	})
}

// ModelAccuracyResponse is one model's block in /predictions/accuracy.
type ModelAccuracyResponse struct {
	ModelID        string  `json:"model_id"`
	EvaluatedCount int     `json:"evaluated_count"`
	PendingSkipped int     `json:"pending_skipped"`
	MAE            float64 `json:"mae"`
	RMSE           float64 `json:"rmse"`
	MAPE           float64 `json:"mape"`
	MedianAbsError float64 `json:"median_abs_error"`
	TrendAccuracy  float64 `json:"trend_accuracy"`
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	TrueNegatives  int     `json:"true_negatives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// AccuracyResponse is the JSON response for /predictions/accuracy.
type AccuracyResponse struct {
	PeriodHours int                     `json:"period_hours"`
	Models      []ModelAccuracyResponse `json:"models"`
	Warnings    []string                `json:"warnings,omitempty"`
}

func (s *Server) handleAccuracy(w http.ResponseWriter, r *http.Request) {
	if s.predictions == nil {
		writeError(w, http.StatusNotFound, "no prediction store configured")
		return
	}

	hours, ok := queryInt(r, "hours", DefaultWindowHours)
	if !ok {
		writeError(w, http.StatusBadRequest, "hours must be a positive integer")
		return
	}

	endMs := s.now().UnixMilli()
	aggregator := metrics.NewAggregator(s.predictions)
	reports, err := aggregator.ComputeAllModels(r.Context(), endMs-int64(hours)*3_600_000, endMs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	models := make([]ModelAccuracyResponse, 0, len(reports))
	for _, rep := range reports {
		models = append(models, ModelAccuracyResponse{
			ModelID:        rep.ModelID,
			EvaluatedCount: rep.EvaluatedCount,
			PendingSkipped: rep.PendingSkipped,
			MAE:            rep.MAE,
			RMSE:           rep.RMSE,
			MAPE:           rep.MAPE,
			MedianAbsError: rep.MedianAbsError,
			TrendAccuracy:  rep.TrendAccuracy,
			TruePositives:  rep.TruePositives,
			FalsePositives: rep.FalsePositives,
			TrueNegatives:  rep.TrueNegatives,
			FalseNegatives: rep.FalseNegatives,
			Precision:      rep.Precision,
			Recall:         rep.Recall,
			F1:             rep.F1,
		})
	}

	writeJSON(w, http.StatusOK, AccuracyResponse{
		PeriodHours: hours,
		Models:      models,
		Warnings:    aggregator.GetStalePendingWarnings(),
	})
}

// RuntimeInfo reports live-loop state wired in by the serving command.
type RuntimeInfo struct {
	CollectorRunning bool  `json:"collector_running"`
	EnrichmentRuns   int   `json:"enrichment_runs"`
	LastEnrichedMs   int64 `json:"last_enriched_ms,omitempty"`
	PredictionRuns   int   `json:"prediction_runs"`
}

// StatusResponse is the JSON response for /status.
type StatusResponse struct {
	Status            string       `json:"status"`
	Version           string       `json:"version"`
	Uptime            string       `json:"uptime"`
	ObservationCount  int64        `json:"observation_count"`
	FeatureRowCount   int64        `json:"feature_row_count"`
	PredictionCount   int          `json:"prediction_count"`
	LastObservationMs int64        `json:"last_observation_ms,omitempty"`
	LastFeatureRowMs  int64        `json:"last_feature_row_ms,omitempty"`
	EnrichmentLagRows int64        `json:"enrichment_lag_rows"`
	Runtime           *RuntimeInfo `json:"runtime,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	obsCount, err := s.observations.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	featCount, err := s.features.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := StatusResponse{
		Status:            "running",
		Version:           Version,
		Uptime:            s.now().Sub(s.startedAt).String(),
		ObservationCount:  obsCount,
		FeatureRowCount:   featCount,
		EnrichmentLagRows: obsCount - featCount,
	}

	if latest, err := s.observations.GetLast(r.Context()); err == nil {
		resp.LastObservationMs = latest.TimestampMs
	}
	if row, err := s.features.GetLast(r.Context()); err == nil {
		resp.LastFeatureRowMs = row.TimestampMs
	}
	if s.predictions != nil {
		preds, err := s.predictions.GetByTimeRange(r.Context(), 0, math.MaxInt64)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.PredictionCount = len(preds)
	}
	if s.runtime != nil {
		info := s.runtime()
		resp.Runtime = &info
	}

	writeJSON(w, http.StatusOK, resp)
}

// windowObservations loads the trailing window of observations ending now.
func (s *Server) windowObservations(r *http.Request, hours int) ([]*domain.PriceObservation, error) {
	endMs := s.now().UnixMilli()
	return s.observations.GetByTimeRange(r.Context(), endMs-int64(hours)*3_600_000, endMs)
}
