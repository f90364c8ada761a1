package clickhouse

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB creates a ClickHouse container and returns a connection.
// Returns a cleanup function that must be called when done.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	// Start ClickHouse container
	req := testcontainers.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:24.1-alpine",
		ExposedPorts: []string{"9000/tcp", "8123/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Application: Ready for connections").
				WithStartupTimeout(60*time.Second),
			wait.ForListeningPort("9000/tcp"),
		),
		Env: map[string]string{
			"CLICKHOUSE_DB":       "test",
			"CLICKHOUSE_USER":     "default",
			"CLICKHOUSE_PASSWORD": "",
		},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	// Get native port (9000)
	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	dsn := fmt.Sprintf("clickhouse://%s:%s/test", host, port.Port())

	// Connect to ClickHouse
	conn, err := NewConn(ctx, dsn)
	require.NoError(t, err)

	// Run migrations
	runMigrations(t, conn)

	cleanup := func() {
		conn.Close()
		_ = container.Terminate(ctx)
	}

	return conn, cleanup
}

// runMigrations applies the SQL files the migrations package embeds.
// They are read from disk here because importing that package from these
// tests would form an import cycle.
func runMigrations(t *testing.T, conn *Conn) {
	t.Helper()
	ctx := context.Background()

	migrations := []string{
		"001_enriched_features.sql",
	}

	basePath := findSQLDir()

	for _, m := range migrations {
		path := basePath + "/" + m
		content, err := os.ReadFile(path)
		if err != nil {
			t.Logf("Could not read migration %s: %v, trying inline migrations", m, err)
			// Fall back to inline migrations
			runInlineMigrations(t, conn)
			return
		}

		err = conn.Exec(ctx, string(content))
		require.NoError(t, err, "failed to apply migration %s", m)
	}
}

// findSQLDir attempts to locate the migrations/clickhouse directory
func findSQLDir() string {
	paths := []string{
		"../migrations/clickhouse",
		"../../migrations/clickhouse",
		"internal/storage/migrations/clickhouse",
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	// Default path
	return "../migrations/clickhouse"
}

// runInlineMigrations applies migrations directly without reading files
func runInlineMigrations(t *testing.T, conn *Conn) {
	t.Helper()
	ctx := context.Background()

	err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS enriched_features (
			timestamp_ms UInt64,
			price        Float64,
			source       String,
			minute_of_hour UInt8,
			hour_of_day    UInt8,
			day_of_week    UInt8,
			week_of_year   UInt8,
			price_lag_1min  Nullable(Float64),
			price_lag_5min  Nullable(Float64),
			price_lag_15min Nullable(Float64),
			price_lag_30min Nullable(Float64),
			price_lag_60min Nullable(Float64),
			rolling_mean_5min  Nullable(Float64),
			rolling_mean_15min Nullable(Float64),
			rolling_mean_30min Nullable(Float64),
			rolling_mean_60min Nullable(Float64),
			rolling_std_5min   Nullable(Float64),
			rolling_std_15min  Nullable(Float64),
			rolling_std_30min  Nullable(Float64),
			rolling_std_60min  Nullable(Float64),
			rolling_min_30min  Nullable(Float64),
			rolling_max_30min  Nullable(Float64),
			rsi_14         Nullable(Float64),
			macd_line      Nullable(Float64),
			macd_signal    Nullable(Float64),
			macd_histogram Nullable(Float64),
			bb_upper       Nullable(Float64),
			bb_middle      Nullable(Float64),
			bb_lower       Nullable(Float64),
			bb_width       Nullable(Float64),
			bb_position    Nullable(Float64),
			atr_14         Nullable(Float64),
			stoch_k        Nullable(Float64),
			stoch_d        Nullable(Float64),
			price_change_1min      Nullable(Float64),
			price_change_5min      Nullable(Float64),
			price_change_15min     Nullable(Float64),
			price_change_pct_1min  Nullable(Float64),
			price_change_pct_5min  Nullable(Float64),
			price_change_pct_15min Nullable(Float64),
			volatility_30min       Nullable(Float64),
			momentum_5min          Nullable(Float64),
			momentum_15min         Nullable(Float64),
			momentum_30min         Nullable(Float64),
			price_normalized  Nullable(Float64),
			volume_normalized Nullable(Float64)
		) ENGINE = MergeTree()
		ORDER BY timestamp_ms
		SETTINGS index_granularity = 8192
	`)
	require.NoError(t, err)
}

// ptr is a helper to create pointers for test values
func ptr[T any](v T) *T {
	return &v
}
