package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"btc-feature-lab/internal/collector"
	"btc-feature-lab/internal/exchange"
	"btc-feature-lab/internal/observability"
	"btc-feature-lab/internal/storage"
	"btc-feature-lab/internal/storage/memory"
	pgstore "btc-feature-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	mode := flag.String("mode", "poll", "Acquisition mode: poll or stream")
	tickerURL := flag.String("ticker-url", exchange.DefaultTickerURL, "Exchange HTTP ticker endpoint")
	symbol := flag.String("symbol", exchange.DefaultSymbol, "Trading pair symbol")
	streamURL := flag.String("stream-url", exchange.DefaultStreamURL, "Exchange WebSocket ticker endpoint")
	interval := flag.Duration("interval", 60*time.Second, "Poll interval")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[collector] ", log.LstdFlags|log.Lshortfile)

	// Start metrics server if enabled
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to signal main goroutine completion
	done := make(chan error, 1)

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

	// Run based on mode
	var err error
	switch *mode {
	case "poll":
		err = runPoll(ctx, logger, *tickerURL, *symbol, *postgresDSN, *interval, *useMemory)
	case "stream":
		err = runStream(ctx, logger, *streamURL, *postgresDSN, *useMemory)
	default:
		logger.Fatalf("Unknown mode: %s", *mode)
	}

	// Signal completion to shutdown handler
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createObservationStore creates the observation store per flags.
func createObservationStore(ctx context.Context, postgresDSN string, useMemory bool) (storage.PriceObservationStore, func(), error) {
	if useMemory {
		return memory.NewPriceObservationStore(), func() {}, nil
	}

	if postgresDSN == "" {
		return nil, nil, fmt.Errorf("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return pgstore.NewPriceObservationStore(pool), pool.Close, nil
}

// runPoll polls the HTTP ticker endpoint on a fixed cadence.
func runPoll(ctx context.Context, logger *log.Logger, tickerURL, symbol, postgresDSN string, interval time.Duration, useMemory bool) error {
	store, cleanup, err := createObservationStore(ctx, postgresDSN, useMemory)
	if err != nil {
		return err
	}
	defer cleanup()

	client := exchange.NewTickerClient(tickerURL, symbol)

	runner, err := collector.NewRunner(collector.RunnerOptions{
		Source:   client,
		Store:    store,
		Interval: interval,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	logger.Printf("Polling %s (%s) every %v", tickerURL, symbol, interval)
	return runner.Run(ctx)
}

// runStream consumes the WebSocket ticker stream.
func runStream(ctx context.Context, logger *log.Logger, streamURL, postgresDSN string, useMemory bool) error {
	store, cleanup, err := createObservationStore(ctx, postgresDSN, useMemory)
	if err != nil {
		return err
	}
	defer cleanup()

	stream, err := exchange.NewPriceStream(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("connect price stream: %w", err)
	}
	defer stream.Close()

	runner, err := collector.NewRunner(collector.RunnerOptions{
		Stream: stream.Observations(),
		Store:  store,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	logger.Printf("Consuming stream %s", streamURL)
	return runner.Run(ctx)
}
