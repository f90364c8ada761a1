package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/evaluation"
	"btc-feature-lab/internal/metrics"
	"btc-feature-lab/internal/prediction"
	"btc-feature-lab/internal/storage"
	chstore "btc-feature-lab/internal/storage/clickhouse"
	"btc-feature-lab/internal/storage/memory"
	pgstore "btc-feature-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	models := flag.String("models", "NAIVE,MOMENTUM,MEAN_REVERSION", "Comma-separated models: NAIVE, MOMENTUM, MEAN_REVERSION")

	// Model parameters
	lookbackSteps := flag.Int("lookback-steps", 5, "Lookback steps for MOMENTUM")
	dampingFactor := flag.Float64("damping-factor", 0.7, "Damping factor for MOMENTUM")
	windowSize := flag.Int("rev-window", 30, "Window size for MEAN_REVERSION")
	reversionRate := flag.Float64("reversion-rate", 0.5, "Reversion rate for MEAN_REVERSION")

	// Replay parameters
	horizonMs := flag.Int64("horizon-ms", prediction.DefaultHorizonMs, "Forecast horizon (ms)")
	toleranceMs := flag.Int64("tolerance-ms", prediction.DefaultToleranceMs, "Outcome match tolerance (ms)")
	contextSize := flag.Int("context-size", 0, "History window per forecast (0 uses the live default)")
	fromTime := flag.String("from-time", "", "Start time (RFC3339)")
	toTime := flag.String("to-time", "", "End time (RFC3339)")

	// Storage
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (optional; supplies enriched rows to the replay)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")

	// Output
	outputJSON := flag.Bool("json", false, "Output as JSON")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stderr, "[evaluate] ", log.LstdFlags)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Create stores
	var observationStore storage.PriceObservationStore = memory.NewPriceObservationStore()
	var featureStore storage.FeatureStore = memory.NewFeatureStore()

	if !*useMemory {
		if *postgresDSN == "" {
			logger.Fatal("--postgres-dsn is required when not using --use-memory")
		}

		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("connect to postgres: %v", err)
		}
		defer pool.Close()
		observationStore = pgstore.NewPriceObservationStore(pool)

		featureStore = nil
		if *clickhouseDSN != "" {
			conn, err := chstore.NewConn(ctx, *clickhouseDSN)
			if err != nil {
				logger.Fatalf("connect to clickhouse: %v", err)
			}
			defer conn.Close()
			featureStore = chstore.NewFeatureStore(conn)
		}
	}

	// Build predictors
	predictors, err := buildPredictors(*models, *lookbackSteps, *dampingFactor, *windowSize, *reversionRate)
	if err != nil {
		logger.Fatalf("build predictors: %v", err)
	}

	// Determine time range. Both bounds or neither, a half-open range
	// replays differently depending on when it runs.
	startMs, endMs := int64(0), int64(math.MaxInt64)
	if (*fromTime == "") != (*toTime == "") {
		logger.Fatal("Both --from-time and --to-time must be specified together for deterministic replay")
	}
	if *fromTime != "" {
		from, err := time.Parse(time.RFC3339, *fromTime)
		if err != nil {
			logger.Fatalf("parse from-time: %v", err)
		}
		to, err := time.Parse(time.RFC3339, *toTime)
		if err != nil {
			logger.Fatalf("parse to-time: %v", err)
		}
		startMs, endMs = from.UnixMilli(), to.UnixMilli()
	}

	// Create replayer
	replayer, err := evaluation.NewReplayer(evaluation.ReplayerOptions{
		ObservationStore: observationStore,
		FeatureStore:     featureStore,
		HorizonMs:        *horizonMs,
		ToleranceMs:      *toleranceMs,
		WindowSize:       *contextSize,
	})
	if err != nil {
		logger.Fatalf("create replayer: %v", err)
	}

	names := make([]string, len(predictors))
	for i, p := range predictors {
		names[i] = p.ID()
	}
	logger.Printf("Replaying %s over stored history (horizon %dms)", strings.Join(names, ", "), *horizonMs)

	start := time.Now()
	results, err := replayer.Compare(ctx, predictors, startMs, endMs)
	if err != nil {
		logger.Fatalf("replay failed: %v", err)
	}
	logger.Printf("Replay completed in %v", time.Since(start))

	// Output results
	if *outputJSON {
		summaries := make([]ModelSummary, len(results))
		for i, r := range results {
			summaries[i] = toSummary(r)
		}
		output, _ := json.MarshalIndent(summaries, "", "  ")
		fmt.Println(string(output))
		return
	}

	for _, r := range results {
		printResult(r)
	}
}

// buildPredictors creates predictors from the comma-separated model list.
func buildPredictors(models string, lookbackSteps int, dampingFactor float64, windowSize int, reversionRate float64) ([]prediction.Predictor, error) {
	var predictors []prediction.Predictor

	for _, name := range strings.Split(models, ",") {
		name = strings.TrimSpace(strings.ToUpper(name))
		if name == "" {
			continue
		}

		cfg := domain.PredictorConfig{ModelType: name}
		switch name {
		case domain.ModelTypeMomentum:
			cfg.LookbackSteps = &lookbackSteps
			cfg.DampingFactor = &dampingFactor
		case domain.ModelTypeMeanReversion:
			cfg.WindowSize = &windowSize
			cfg.ReversionRate = &reversionRate
		}

		p, err := prediction.FromConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", name, err)
		}
		predictors = append(predictors, p)
	}

	if len(predictors) == 0 {
		return nil, fmt.Errorf("no models specified")
	}
	return predictors, nil
}

// ModelSummary is one model's replay outcome in the JSON output.
type ModelSummary struct {
	ModelID       string                  `json:"model_id"`
	HorizonMs     int64                   `json:"horizon_ms"`
	Steps         int                     `json:"steps"`
	Forecasts     int                     `json:"forecasts"`
	SkippedWarmup int                     `json:"skipped_warmup"`
	Unresolved    int                     `json:"unresolved"`
	StartMs       int64                   `json:"start_ms"`
	EndMs         int64                   `json:"end_ms"`
	Accuracy      *metrics.AccuracyReport `json:"accuracy,omitempty"`
}

// toSummary strips the per-step predictions for JSON output.
func toSummary(r *evaluation.Result) ModelSummary {
	return ModelSummary{
		ModelID:       r.ModelID,
		HorizonMs:     r.HorizonMs,
		Steps:         r.Steps,
		Forecasts:     r.Forecasts,
		SkippedWarmup: r.SkippedWarmup,
		Unresolved:    r.Unresolved,
		StartMs:       r.StartMs,
		EndMs:         r.EndMs,
		Accuracy:      r.Accuracy,
	}
}

// printResult outputs a human-readable replay result.
func printResult(r *evaluation.Result) {
	fmt.Println()
	fmt.Printf("=== %s ===\n", r.ModelID)
	fmt.Printf("Steps:             %d\n", r.Steps)
	fmt.Printf("Forecasts:         %d (%d warm-up skips)\n", r.Forecasts, r.SkippedWarmup)
	fmt.Printf("Unresolved:        %d\n", r.Unresolved)
	if r.Steps > 0 {
		fmt.Printf("Range:             %s to %s\n",
			time.UnixMilli(r.StartMs).Format(time.RFC3339),
			time.UnixMilli(r.EndMs).Format(time.RFC3339))
	}

	if r.Accuracy == nil || r.Accuracy.EvaluatedCount == 0 {
		fmt.Println("No evaluated forecasts.")
		return
	}

	a := r.Accuracy
	fmt.Println()
	fmt.Printf("Evaluated:         %d (%d pending)\n", a.EvaluatedCount, a.PendingSkipped)
	fmt.Printf("MAE:               %.2f\n", a.MAE)
	fmt.Printf("RMSE:              %.2f\n", a.RMSE)
	fmt.Printf("MAPE:              %.2f%%\n", a.MAPE)
	fmt.Printf("Median Abs Error:  %.2f\n", a.MedianAbsError)
	fmt.Printf("Trend Accuracy:    %.4f\n", a.TrendAccuracy)
	fmt.Printf("Precision:         %.4f\n", a.Precision)
	fmt.Printf("Recall:            %.4f\n", a.Recall)
	fmt.Printf("F1:                %.4f\n", a.F1)
	fmt.Printf("Confusion:         TP=%d FP=%d TN=%d FN=%d\n",
		a.TruePositives, a.FalsePositives, a.TrueNegatives, a.FalseNegatives)
}
