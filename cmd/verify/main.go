package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"btc-feature-lab/internal/storage"
	chstore "btc-feature-lab/internal/storage/clickhouse"
	"btc-feature-lab/internal/storage/memory"
	pgstore "btc-feature-lab/internal/storage/postgres"
	"btc-feature-lab/internal/verification"
)

func main() {
	// Parse flags
	timestampMs := flag.Int64("timestamp-ms", 0, "Verify a single feature row at this timestamp (0 verifies all)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	maxShown := flag.Int("max-divergences", 10, "Maximum divergent rows to print")

	flag.Parse()

	// Setup structured logger
	logger := log.New(os.Stderr, "[verify] ", log.LstdFlags)

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
	var parameterStore storage.NormalizationParameterStore = memory.NewNormalizationParamStore()

	if !*useMemory {
		if *postgresDSN == "" || *clickhouseDSN == "" {
			logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
		}

		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("connect to postgres: %v", err)
		}
		defer pool.Close()

		chConn, err := chstore.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("connect to clickhouse: %v", err)
		}
		defer chConn.Close()

		observationStore = pgstore.NewPriceObservationStore(pool)
		parameterStore = pgstore.NewNormalizationParamStore(pool)
		featureStore = chstore.NewFeatureStore(chConn)
	}

	// Create verifier
	verifier, err := verification.NewRecomputeVerifier(verification.RecomputeVerifierOptions{
		ObservationStore: observationStore,
		FeatureStore:     featureStore,
		ParameterStore:   parameterStore,
	})
	if err != nil {
		logger.Fatalf("create verifier: %v", err)
	}

	// Single row or full scan
	if *timestampMs > 0 {
		logger.Printf("Verifying row at %d", *timestampMs)
		result, err := verifier.VerifyRow(ctx, *timestampMs)
		if err != nil {
			logger.Fatalf("verify failed: %v", err)
		}
		printRowResult(result, *outputJSON)
		if !result.Match {
			os.Exit(1)
		}
		return
	}

	logger.Println("Verifying all stored feature rows against recompute...")
	start := time.Now()
	report, err := verifier.VerifyAll(ctx)
	if err != nil {
		logger.Fatalf("verify failed: %v", err)
	}
	logger.Printf("Verified %d rows in %v", report.TotalRows, time.Since(start))

	printReport(report, *outputJSON, *maxShown)

	// Nonzero exit on divergence so automation can gate on the result
	if report.DivergentRows > 0 {
		os.Exit(1)
	}
}

// VerifySummary is the JSON output for a full verification scan.
type VerifySummary struct {
	TotalRows     int             `json:"total_rows"`
	MatchedRows   int             `json:"matched_rows"`
	DivergentRows int             `json:"divergent_rows"`
	Divergences   []RowDivergence `json:"divergences,omitempty"`
}

// RowDivergence is one divergent row in the JSON output.
type RowDivergence struct {
	TimestampMs int64             `json:"timestamp_ms"`
	StoredPrice float64           `json:"stored_price"`
	Fields      []FieldDivergence `json:"fields"`
}

// FieldDivergence is one divergent column in the JSON output.
type FieldDivergence struct {
	Field    string      `json:"field"`
	Expected interface{} `json:"expected"`
	Actual   interface{} `json:"actual"`
}

// printRowResult prints the result of a single row verification.
func printRowResult(result *verification.RowResult, outputJSON bool) {
	if outputJSON {
		output, _ := json.MarshalIndent(toRowDivergence(result), "", "  ")
		fmt.Println(string(output))
		return
	}

	if result.Match {
		fmt.Printf("Row %d matches recompute (price %.2f)\n", result.TimestampMs, result.StoredPrice)
		return
	}

	fmt.Printf("Row %d DIVERGES (%d fields):\n", result.TimestampMs, len(result.Divergences))
	for _, d := range result.Divergences {
		fmt.Printf("  %-24s stored=%v recomputed=%v\n", d.Field, d.Expected, d.Actual)
	}
}

// printReport prints the full scan report.
func printReport(report *verification.Report, outputJSON bool, maxShown int) {
	if outputJSON {
		summary := VerifySummary{
			TotalRows:     report.TotalRows,
			MatchedRows:   report.MatchedRows,
			DivergentRows: report.DivergentRows,
		}
		for _, result := range report.Results {
			if result.Match {
				continue
			}
			summary.Divergences = append(summary.Divergences, toRowDivergence(&result))
			if len(summary.Divergences) >= maxShown {
				break
			}
		}
		output, _ := json.MarshalIndent(summary, "", "  ")
		fmt.Println(string(output))
		return
	}

	fmt.Printf("\n=== Verification Summary ===\n")
	fmt.Printf("Total Rows:     %d\n", report.TotalRows)
	fmt.Printf("Matched Rows:   %d\n", report.MatchedRows)
	fmt.Printf("Divergent Rows: %d\n", report.DivergentRows)

	if report.DivergentRows == 0 {
		return
	}

	shown := 0
	for _, result := range report.Results {
		if result.Match {
			continue
		}
		if shown >= maxShown {
			fmt.Printf("... and %d more divergent rows\n", report.DivergentRows-shown)
			break
		}
		fmt.Printf("\nRow %d (price %.2f):\n", result.TimestampMs, result.StoredPrice)
		for _, d := range result.Divergences {
			fmt.Printf("  %-24s stored=%v recomputed=%v\n", d.Field, d.Expected, d.Actual)
		}
		shown++
	}
}

// toRowDivergence converts a row result for JSON output.
func toRowDivergence(result *verification.RowResult) RowDivergence {
	row := RowDivergence{
		TimestampMs: result.TimestampMs,
		StoredPrice: result.StoredPrice,
	}
	for _, d := range result.Divergences {
		row.Fields = append(row.Fields, FieldDivergence{
			Field:    d.Field,
			Expected: d.Expected,
			Actual:   d.Actual,
		})
	}
	return row
}
