package features

import "btc-feature-lab/internal/domain"

// TemporalColumns lists the always-present integer columns in canonical
// order. Column order is part of the dataset contract; see
// FEATURE_CATALOG.md.
var TemporalColumns = []string{
	"minute_of_hour",
	"hour_of_day",
	"day_of_week",
	"week_of_year",
}

// nullableAccessors pairs each nullable column with its field accessor,
// in canonical order.
var nullableAccessors = []struct {
	name string
	get  func(*domain.EnrichedFeatureRow) *float64
}{
	{"price_lag_1min", func(r *domain.EnrichedFeatureRow) *float64 { return r.PriceLag1Min }},
	{"price_lag_5min", func(r *domain.EnrichedFeatureRow) *float64 { return r.PriceLag5Min }},
	{"price_lag_15min", func(r *domain.EnrichedFeatureRow) *float64 { return r.PriceLag15Min }},
	{"price_lag_30min", func(r *domain.EnrichedFeatureRow) *float64 { return r.PriceLag30Min }},
	{"price_lag_60min", func(r *domain.EnrichedFeatureRow) *float64 { return r.PriceLag60Min }},
	{"rolling_mean_5min", func(r *domain.EnrichedFeatureRow) *float64 { return r.RollingMean5Min }},
	{"rolling_mean_15min", func(r *domain.EnrichedFeatureRow) *float64 { return r.RollingMean15Min }},
	{"rolling_mean_30min", func(r *domain.EnrichedFeatureRow) *float64 { return r.RollingMean30Min }},
	{"rolling_mean_60min", func(r *domain.EnrichedFeatureRow) *float64 { return r.RollingMean60Min }},
	{"rolling_std_5min", func(r *domain.EnrichedFeatureRow) *float64 { return r.RollingStd5Min }},
	{"rolling_std_15min", func(r *domain.EnrichedFeatureRow) *float64 { return r.RollingStd15Min }},
	{"rolling_std_30min", func(r *domain.EnrichedFeatureRow) *float64 { return r.RollingStd30Min }},
	{"rolling_std_60min", func(r *domain.EnrichedFeatureRow) *float64 { return r.RollingStd60Min }},
	{"rolling_min_30min", func(r *domain.EnrichedFeatureRow) *float64 { return r.RollingMin30Min }},
	{"rolling_max_30min", func(r *domain.EnrichedFeatureRow) *float64 { return r.RollingMax30Min }},
	{"rsi_14", func(r *domain.EnrichedFeatureRow) *float64 { return r.RSI14 }},
	{"macd_line", func(r *domain.EnrichedFeatureRow) *float64 { return r.MACDLine }},
	{"macd_signal", func(r *domain.EnrichedFeatureRow) *float64 { return r.MACDSignal }},
	{"macd_histogram", func(r *domain.EnrichedFeatureRow) *float64 { return r.MACDHistogram }},
	{"bb_upper", func(r *domain.EnrichedFeatureRow) *float64 { return r.BBUpper }},
	{"bb_middle", func(r *domain.EnrichedFeatureRow) *float64 { return r.BBMiddle }},
	{"bb_lower", func(r *domain.EnrichedFeatureRow) *float64 { return r.BBLower }},
	{"bb_width", func(r *domain.EnrichedFeatureRow) *float64 { return r.BBWidth }},
	{"bb_position", func(r *domain.EnrichedFeatureRow) *float64 { return r.BBPosition }},
	{"atr_14", func(r *domain.EnrichedFeatureRow) *float64 { return r.ATR14 }},
	{"stoch_k", func(r *domain.EnrichedFeatureRow) *float64 { return r.StochK }},
	{"stoch_d", func(r *domain.EnrichedFeatureRow) *float64 { return r.StochD }},
	{"price_change_1min", func(r *domain.EnrichedFeatureRow) *float64 { return r.PriceChange1Min }},
	{"price_change_5min", func(r *domain.EnrichedFeatureRow) *float64 { return r.PriceChange5Min }},
	{"price_change_15min", func(r *domain.EnrichedFeatureRow) *float64 { return r.PriceChange15Min }},
	{"price_change_pct_1min", func(r *domain.EnrichedFeatureRow) *float64 { return r.PriceChangePct1Min }},
	{"price_change_pct_5min", func(r *domain.EnrichedFeatureRow) *float64 { return r.PriceChangePct5Min }},
	{"price_change_pct_15min", func(r *domain.EnrichedFeatureRow) *float64 { return r.PriceChangePct15Min }},
	{"volatility_30min", func(r *domain.EnrichedFeatureRow) *float64 { return r.Volatility30Min }},
	{"momentum_5min", func(r *domain.EnrichedFeatureRow) *float64 { return r.Momentum5Min }},
	{"momentum_15min", func(r *domain.EnrichedFeatureRow) *float64 { return r.Momentum15Min }},
	{"momentum_30min", func(r *domain.EnrichedFeatureRow) *float64 { return r.Momentum30Min }},
	{"price_normalized", func(r *domain.EnrichedFeatureRow) *float64 { return r.PriceNormalized }},
	{"volume_normalized", func(r *domain.EnrichedFeatureRow) *float64 { return r.VolumeNormalized }},
}

// Columns returns all 43 derived column names in canonical order:
// temporal first, then the nullable groups.
func Columns() []string {
	cols := make([]string, 0, len(TemporalColumns)+len(nullableAccessors))
	cols = append(cols, TemporalColumns...)
	for _, a := range nullableAccessors {
		cols = append(cols, a.name)
	}
	return cols
}

// NullableColumns returns the names of columns that may be null, in
// canonical order.
func NullableColumns() []string {
	cols := make([]string, len(nullableAccessors))
	for i, a := range nullableAccessors {
		cols[i] = a.name
	}
	return cols
}

// NullableValues projects the nullable fields of a row keyed by column
// name, for null-ratio scans and generic export.
func NullableValues(r *domain.EnrichedFeatureRow) map[string]*float64 {
	out := make(map[string]*float64, len(nullableAccessors))
	for _, a := range nullableAccessors {
		out[a.name] = a.get(r)
	}
	return out
}
