// Package main provides the unified service that runs all components together:
// - Collection (continuous): exchange ticker polling or WebSocket stream
// - Enrichment (scheduled): incremental feature computation over new observations
// - Prediction (scheduled): forecasts, outcome resolution, retention pruning
// It also serves the read-side JSON API and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"btc-feature-lab/internal/api"
	"btc-feature-lab/internal/collector"
	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/enrichment"
	"btc-feature-lab/internal/exchange"
	"btc-feature-lab/internal/features"
	"btc-feature-lab/internal/observability"
	"btc-feature-lab/internal/prediction"
	"btc-feature-lab/internal/storage"
	chstore "btc-feature-lab/internal/storage/clickhouse"
	"btc-feature-lab/internal/storage/memory"
	pgstore "btc-feature-lab/internal/storage/postgres"
)

// Server holds all components of the unified service.
type Server struct {
	// Configuration
	tickerURL       string
	symbol          string
	streamURL       string
	useStream       bool
	useMemory       bool
	collectInterval time.Duration
	enrichInterval  time.Duration
	predictInterval time.Duration

	// Stores
	stores *allStores

	// Components
	enrichRunner *enrichment.Runner
	tracker      *prediction.Tracker
	predictor    prediction.Predictor
	logger       *log.Logger

	// State
	mu                sync.Mutex
	collectorStarted  time.Time
	lastEnrichRun     time.Time
	lastPredictionRun time.Time
	lastPruneRun      time.Time
	lastEnrichedMs    int64
	enrichRunning     bool
	predictionRunning bool

	// Stats
	enrichRuns     int
	predictionRuns int
}

// allStores holds all storage implementations.
type allStores struct {
	observationStore storage.PriceObservationStore
	featureStore     storage.FeatureStore
	snapshotStore    storage.StateSnapshotStore
	parameterStore   storage.NormalizationParameterStore
	predictionStore  storage.PredictionStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	tickerURL := flag.String("ticker-url", envOr("EXCHANGE_TICKER_URL", exchange.DefaultTickerURL), "Exchange HTTP ticker endpoint")
	symbol := flag.String("symbol", envOr("EXCHANGE_SYMBOL", exchange.DefaultSymbol), "Trading pair symbol")
	streamURL := flag.String("stream-url", envOr("EXCHANGE_STREAM_URL", exchange.DefaultStreamURL), "Exchange WebSocket ticker endpoint")
	useStream := flag.Bool("use-stream", false, "Consume the WebSocket stream instead of polling")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of databases")
	collectInterval := flag.Duration("collect-interval", 60*time.Second, "Price poll interval")
	enrichInterval := flag.Duration("enrich-interval", 60*time.Second, "Incremental enrichment interval")
	predictInterval := flag.Duration("predict-interval", 15*time.Minute, "Forecast and outcome resolution interval")
	predictorModel := flag.String("predictor", domain.ModelTypeNaive, "Predictor model: NAIVE, MOMENTUM, MEAN_REVERSION")
	lookbackSteps := flag.Int("lookback-steps", 5, "Lookback steps for MOMENTUM")
	dampingFactor := flag.Float64("damping-factor", 0.7, "Damping factor for MOMENTUM")
	windowSize := flag.Int("rev-window", 30, "Window size for MEAN_REVERSION")
	reversionRate := flag.Float64("reversion-rate", 0.5, "Reversion rate for MEAN_REVERSION")
	horizonMs := flag.Int64("horizon-ms", prediction.DefaultHorizonMs, "Forecast horizon (ms)")
	apiAddr := flag.String("api-addr", ":8000", "JSON API HTTP address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Create stores
	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Create predictor
	predictor, err := buildPredictor(*predictorModel, *lookbackSteps, *dampingFactor, *windowSize, *reversionRate)
	if err != nil {
		logger.Fatalf("Failed to create predictor: %v", err)
	}
	logger.Printf("Predictor: %s", predictor.ID())

	// Create tracker
	tracker, err := prediction.NewTracker(prediction.TrackerOptions{
		PredictionStore:  stores.predictionStore,
		ObservationStore: stores.observationStore,
		HorizonMs:        *horizonMs,
		Logger:           log.New(os.Stdout, "[prediction] ", log.LstdFlags),
	})
	if err != nil {
		logger.Fatalf("Failed to create tracker: %v", err)
	}

	// Create enrichment runner
	enrichRunner, err := enrichment.NewRunner(enrichment.RunnerOptions{
		ObservationStore: stores.observationStore,
		FeatureStore:     stores.featureStore,
		SnapshotStore:    stores.snapshotStore,
		ParameterStore:   stores.parameterStore,
		Logger:           log.New(os.Stdout, "[enrichment] ", log.LstdFlags),
	})
	if err != nil {
		logger.Fatalf("Failed to create enrichment runner: %v", err)
	}

	// Create server
	server := &Server{
		tickerURL:       *tickerURL,
		symbol:          *symbol,
		streamURL:       *streamURL,
		useStream:       *useStream,
		useMemory:       *useMemory,
		collectInterval: *collectInterval,
		enrichInterval:  *enrichInterval,
		predictInterval: *predictInterval,
		stores:          stores,
		enrichRunner:    enrichRunner,
		tracker:         tracker,
		predictor:       predictor,
		logger:          logger,
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	// Start the JSON API server
	apiServer, err := api.NewServer(api.Options{
		ObservationStore: stores.observationStore,
		FeatureStore:     stores.featureStore,
		PredictionStore:  stores.predictionStore,
		Predictor:        predictor,
		Tracker:          tracker,
		Runtime:          server.runtimeInfo,
	})
	if err != nil {
		logger.Fatalf("Failed to create API server: %v", err)
	}
	go server.startAPIServer(*apiAddr, apiServer)

	// Start the metrics server
	go server.startMetricsServer(*metricsAddr)

	// Run the unified server
	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// envOr returns the environment value or a fallback default.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// buildPredictor creates the configured predictor model.
func buildPredictor(model string, lookbackSteps int, dampingFactor float64, windowSize int, reversionRate float64) (prediction.Predictor, error) {
	cfg := domain.PredictorConfig{ModelType: strings.ToUpper(strings.TrimSpace(model))}
	switch cfg.ModelType {
	case domain.ModelTypeMomentum:
		cfg.LookbackSteps = &lookbackSteps
		cfg.DampingFactor = &dampingFactor
	case domain.ModelTypeMeanReversion:
		cfg.WindowSize = &windowSize
		cfg.ReversionRate = &reversionRate
	}
	return prediction.FromConfig(cfg)
}

// createStores creates all required stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			observationStore: memory.NewPriceObservationStore(),
			featureStore:     memory.NewFeatureStore(),
			snapshotStore:    memory.NewStateSnapshotStore(),
			parameterStore:   memory.NewNormalizationParamStore(),
			predictionStore:  memory.NewPredictionStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// ClickHouse
	chConn, err := chstore.NewConn(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	stores := &allStores{
		// PostgreSQL stores (raw observations + bookkeeping)
		observationStore: pgstore.NewPriceObservationStore(pool),
		snapshotStore:    pgstore.NewStateSnapshotStore(pool),
		parameterStore:   pgstore.NewNormalizationParamStore(pool),
		predictionStore:  pgstore.NewPredictionStore(pool),

		// ClickHouse store (the wide feature table)
		featureStore: chstore.NewFeatureStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

// Run starts the unified server with all components.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Println("Starting unified server...")

	// Create error channel for goroutines
	errCh := make(chan error, 3)

	// Start collection in background
	go func() {
		err := s.runCollector(ctx)
		if err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("collector: %w", err)
		}
	}()

	// Start enrichment scheduler in background
	go func() {
		err := s.runEnrichmentScheduler(ctx)
		if err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("enrichment scheduler: %w", err)
		}
	}()

	// Start prediction scheduler in background
	go func() {
		err := s.runPredictionScheduler(ctx)
		if err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("prediction scheduler: %w", err)
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// runCollector runs continuous price acquisition.
func (s *Server) runCollector(ctx context.Context) error {
	s.logger.Println("Starting collection...")

	opts := collector.RunnerOptions{
		Store:    s.stores.observationStore,
		Interval: s.collectInterval,
		Logger:   log.New(os.Stdout, "[collector] ", log.LstdFlags),
	}

	if s.useStream {
		stream, err := exchange.NewPriceStream(ctx, s.streamURL, nil)
		if err != nil {
			return fmt.Errorf("connect price stream: %w", err)
		}
		defer stream.Close()
		opts.Stream = stream.Observations()
		s.logger.Printf("Consuming stream %s", s.streamURL)
	} else {
		opts.Source = exchange.NewTickerClient(s.tickerURL, s.symbol)
		s.logger.Printf("Polling %s (%s) every %v", s.tickerURL, s.symbol, s.collectInterval)
	}

	runner, err := collector.NewRunner(opts)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.collectorStarted = time.Now()
	s.mu.Unlock()

	return runner.Run(ctx)
}

// runEnrichmentScheduler runs incremental enrichment on schedule.
func (s *Server) runEnrichmentScheduler(ctx context.Context) error {
	s.logger.Printf("Starting enrichment scheduler (interval: %v)...", s.enrichInterval)

	// Run immediately on start so cold state resumes before the first tick
	s.runEnrichment(ctx)

	ticker := time.NewTicker(s.enrichInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runEnrichment(ctx)
		}
	}
}

// runEnrichment enriches observations past the pipeline position.
func (s *Server) runEnrichment(ctx context.Context) {
	s.mu.Lock()
	if s.enrichRunning {
		s.mu.Unlock()
		s.logger.Println("Enrichment already running, skipping...")
		return
	}
	s.enrichRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.enrichRunning = false
		s.lastEnrichRun = time.Now()
		s.enrichRuns++
		s.lastEnrichedMs = s.enrichRunner.LastTimestampMs()
		s.mu.Unlock()
	}()

	result, err := s.enrichRunner.EnrichNext(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Printf("Enrichment error: %v", err)
		}
		return
	}

	if result.RowsWritten > 0 {
		s.logger.Printf("Enriched %d rows (%d skipped, %d snapshots) in %v",
			result.RowsWritten, result.RowsSkipped, result.SnapshotsSaved, result.Duration)
	}
}

// runPredictionScheduler runs the forecast loop on schedule.
func (s *Server) runPredictionScheduler(ctx context.Context) error {
	s.logger.Printf("Starting prediction scheduler (interval: %v)...", s.predictInterval)

	// Give the first enrichment run time to land before forecasting
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.enrichInterval + 1*time.Minute):
	}

	s.runPrediction(ctx)

	ticker := time.NewTicker(s.predictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runPrediction(ctx)
		}
	}
}

// runPrediction resolves due outcomes, records a fresh forecast and
// prunes expired records once a day.
func (s *Server) runPrediction(ctx context.Context) {
	s.mu.Lock()
	if s.predictionRunning {
		s.mu.Unlock()
		s.logger.Println("Prediction run already in progress, skipping...")
		return
	}
	s.predictionRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.predictionRunning = false
		s.lastPredictionRun = time.Now()
		s.predictionRuns++
		s.mu.Unlock()
	}()

	// Resolve outcomes whose target time has passed
	resolved, err := s.tracker.ResolveDue(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Printf("Outcome resolution error: %v", err)
	}
	if resolved > 0 {
		s.logger.Printf("Resolved %d prediction outcome(s)", resolved)
	}

	// Record a fresh forecast
	if err := s.recordForecast(ctx); err != nil && ctx.Err() == nil {
		s.logger.Printf("Forecast error: %v", err)
	}

	// Prune expired records daily
	s.mu.Lock()
	pruneDue := s.lastPruneRun.IsZero() || time.Since(s.lastPruneRun) >= 24*time.Hour
	if pruneDue {
		s.lastPruneRun = time.Now()
	}
	s.mu.Unlock()

	if pruneDue {
		pruned, err := s.tracker.Prune(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Printf("Prune error: %v", err)
		} else if pruned > 0 {
			s.logger.Printf("Pruned %d expired prediction(s)", pruned)
		}
	}
}

// recordForecast makes one prediction from the trailing context window.
func (s *Server) recordForecast(ctx context.Context) error {
	history, err := s.stores.observationStore.GetLatest(ctx, features.DefaultContextSize)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(history) == 0 {
		s.logger.Println("No observations yet, skipping forecast")
		return nil
	}
	current := history[len(history)-1]

	input := &prediction.PredictorInput{
		History:   history,
		HorizonMs: s.tracker.HorizonMs(),
	}

	// Attach the enriched row only when it matches the current
	// observation; a stale row describes an older price.
	row, err := s.stores.featureStore.GetLast(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load feature row: %w", err)
	}
	if err == nil && row.TimestampMs == current.TimestampMs {
		input.Row = row
	}

	forecast, err := s.predictor.Predict(ctx, input)
	if errors.Is(err, prediction.ErrInsufficientHistory) {
		s.logger.Println("Not enough history to forecast yet")
		return nil
	}
	if err != nil {
		return err
	}

	p, err := s.tracker.Record(ctx, s.predictor.ID(), current.Price, forecast)
	if err != nil {
		return fmt.Errorf("record forecast: %w", err)
	}

	s.logger.Printf("Forecast %s: %.2f → %.2f (%s, confidence %.2f), target %d",
		p.PredictionID, p.CurrentPrice, p.PredictedPrice, p.PredictedTrend, p.Confidence, p.TargetTimeMs)
	return nil
}

// runtimeInfo snapshots live-loop state for the /status endpoint.
func (s *Server) runtimeInfo() api.RuntimeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return api.RuntimeInfo{
		CollectorRunning: !s.collectorStarted.IsZero(),
		EnrichmentRuns:   s.enrichRuns,
		LastEnrichedMs:   s.lastEnrichedMs,
		PredictionRuns:   s.predictionRuns,
	}
}

// startAPIServer serves the read-side JSON API.
func (s *Server) startAPIServer(addr string, apiServer *api.Server) {
	s.logger.Printf("Starting API server on %s", addr)
	if err := http.ListenAndServe(addr, apiServer.Routes()); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("API server error: %v", err)
	}
}

// startMetricsServer serves Prometheus metrics and the liveness probe.
func (s *Server) startMetricsServer(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())

	s.logger.Printf("Starting metrics server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("Metrics server error: %v", err)
	}
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
