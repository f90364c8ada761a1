package clickhouse

import (
	"context"
	"fmt"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/storage"
)

// FeatureStore implements storage.FeatureStore using ClickHouse.
// One wide row per enriched observation; nil pointers map to Nullable
// columns so warm-up rows round-trip without sentinel values.
type FeatureStore struct {
	conn *Conn
}

// NewFeatureStore creates a new FeatureStore.
func NewFeatureStore(conn *Conn) *FeatureStore {
	return &FeatureStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FeatureStore = (*FeatureStore)(nil)

// featureColumns lists the enriched_features columns in table order.
const featureColumns = `
	timestamp_ms, price, source,
	minute_of_hour, hour_of_day, day_of_week, week_of_year,
	price_lag_1min, price_lag_5min, price_lag_15min, price_lag_30min, price_lag_60min,
	rolling_mean_5min, rolling_mean_15min, rolling_mean_30min, rolling_mean_60min,
	rolling_std_5min, rolling_std_15min, rolling_std_30min, rolling_std_60min,
	rolling_min_30min, rolling_max_30min,
	rsi_14, macd_line, macd_signal, macd_histogram,
	bb_upper, bb_middle, bb_lower, bb_width, bb_position,
	atr_14, stoch_k, stoch_d,
	price_change_1min, price_change_5min, price_change_15min,
	price_change_pct_1min, price_change_pct_5min, price_change_pct_15min,
	volatility_30min, momentum_5min, momentum_15min, momentum_30min,
	price_normalized, volume_normalized
`

// InsertBulk adds multiple rows. Fails entire batch on duplicate timestamp_ms.
func (s *FeatureStore) InsertBulk(ctx context.Context, rows []*domain.EnrichedFeatureRow) error {
	if len(rows) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[int64]struct{})
	for _, r := range rows {
		if r == nil || r.TimestampMs <= 0 {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[r.TimestampMs]; exists {
			return storage.ErrDuplicateKey
		}
		seen[r.TimestampMs] = struct{}{}
	}

	// Check for duplicates against existing DB rows.
	// MergeTree doesn't enforce uniqueness at insert time.
	for _, r := range rows {
		exists, err := s.exists(ctx, r.TimestampMs)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO enriched_features (`+featureColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		// Pass nil values directly for Nullable columns
		err = batch.Append(
			uint64(r.TimestampMs), r.Price, r.Source,
			uint8(r.MinuteOfHour), uint8(r.HourOfDay), uint8(r.DayOfWeek), uint8(r.WeekOfYear),
			r.PriceLag1Min, r.PriceLag5Min, r.PriceLag15Min, r.PriceLag30Min, r.PriceLag60Min,
			r.RollingMean5Min, r.RollingMean15Min, r.RollingMean30Min, r.RollingMean60Min,
			r.RollingStd5Min, r.RollingStd15Min, r.RollingStd30Min, r.RollingStd60Min,
			r.RollingMin30Min, r.RollingMax30Min,
			r.RSI14, r.MACDLine, r.MACDSignal, r.MACDHistogram,
			r.BBUpper, r.BBMiddle, r.BBLower, r.BBWidth, r.BBPosition,
			r.ATR14, r.StochK, r.StochD,
			r.PriceChange1Min, r.PriceChange5Min, r.PriceChange15Min,
			r.PriceChangePct1Min, r.PriceChangePct5Min, r.PriceChangePct15Min,
			r.Volatility30Min, r.Momentum5Min, r.Momentum15Min, r.Momentum30Min,
			r.PriceNormalized, r.VolumeNormalized,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByTimeRange retrieves rows within [start, end] (inclusive), ordered by timestamp ASC.
func (s *FeatureStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.EnrichedFeatureRow, error) {
	query := `
		SELECT ` + featureColumns + `
		FROM enriched_features
		WHERE timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanFeatureRows(rows)
}

// GetLatest retrieves the most recent n rows, ordered by timestamp ASC.
func (s *FeatureStore) GetLatest(ctx context.Context, n int) ([]*domain.EnrichedFeatureRow, error) {
	if n <= 0 {
		return nil, storage.ErrInvalidInput
	}

	// Take the newest n, then flip back to ASC for callers
	query := `
		SELECT ` + featureColumns + `
		FROM (
			SELECT ` + featureColumns + `
			FROM enriched_features
			ORDER BY timestamp_ms DESC
			LIMIT ?
		) AS latest
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, uint64(n))
	if err != nil {
		return nil, fmt.Errorf("query latest: %w", err)
	}
	defer rows.Close()

	return scanFeatureRows(rows)
}

// GetLast retrieves the single most recent row. Returns ErrNotFound if empty.
func (s *FeatureStore) GetLast(ctx context.Context) (*domain.EnrichedFeatureRow, error) {
	rows, err := s.GetLatest(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	return rows[0], nil
}

// Count returns the total number of stored rows.
func (s *FeatureStore) Count(ctx context.Context) (int64, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM enriched_features`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return int64(count), nil
}

// exists checks if a row with the given timestamp exists.
func (s *FeatureStore) exists(ctx context.Context, timestampMs int64) (bool, error) {
	query := `
		SELECT count(*) FROM enriched_features
		WHERE timestamp_ms = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, uint64(timestampMs)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// chRows abstracts driver.Rows for scan helpers.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanFeatureRows scans multiple rows into a slice of EnrichedFeatureRow.
func scanFeatureRows(rows chRows) ([]*domain.EnrichedFeatureRow, error) {
	var out []*domain.EnrichedFeatureRow

	for rows.Next() {
		var r domain.EnrichedFeatureRow
		var timestampMs uint64
		var minuteOfHour, hourOfDay, dayOfWeek, weekOfYear uint8

		err := rows.Scan(
			&timestampMs, &r.Price, &r.Source,
			&minuteOfHour, &hourOfDay, &dayOfWeek, &weekOfYear,
			&r.PriceLag1Min, &r.PriceLag5Min, &r.PriceLag15Min, &r.PriceLag30Min, &r.PriceLag60Min,
			&r.RollingMean5Min, &r.RollingMean15Min, &r.RollingMean30Min, &r.RollingMean60Min,
			&r.RollingStd5Min, &r.RollingStd15Min, &r.RollingStd30Min, &r.RollingStd60Min,
			&r.RollingMin30Min, &r.RollingMax30Min,
			&r.RSI14, &r.MACDLine, &r.MACDSignal, &r.MACDHistogram,
			&r.BBUpper, &r.BBMiddle, &r.BBLower, &r.BBWidth, &r.BBPosition,
			&r.ATR14, &r.StochK, &r.StochD,
			&r.PriceChange1Min, &r.PriceChange5Min, &r.PriceChange15Min,
			&r.PriceChangePct1Min, &r.PriceChangePct5Min, &r.PriceChangePct15Min,
			&r.Volatility30Min, &r.Momentum5Min, &r.Momentum15Min, &r.Momentum30Min,
			&r.PriceNormalized, &r.VolumeNormalized,
		)
		if err != nil {
			return nil, fmt.Errorf("scan feature row: %w", err)
		}

		r.TimestampMs = int64(timestampMs)
		r.MinuteOfHour = int64(minuteOfHour)
		r.HourOfDay = int64(hourOfDay)
		r.DayOfWeek = int64(dayOfWeek)
		r.WeekOfYear = int64(weekOfYear)

		out = append(out, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feature rows: %w", err)
	}

	return out, nil
}
