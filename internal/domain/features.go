package domain

// EnrichedFeatureRow represents one fully derived feature row per price
// observation. Corresponds to enriched_features table in ClickHouse.
// Nullable fields are nil while the lookback they need exceeds available
// history (warm-up) or when their window is degenerate; see
// FEATURE_CATALOG.md for per-column warm-up boundaries.
type EnrichedFeatureRow struct {
	TimestampMs int64   // Unix timestamp in milliseconds
	Price       float64 // raw price carried from the observation
	Source      string  // collector source carried from the observation

	// Temporal features derived from the timestamp alone; always present.
	MinuteOfHour int64 // [0,59]
	HourOfDay    int64 // [0,23]
	DayOfWeek    int64 // Monday=0 .. Sunday=6
	WeekOfYear   int64 // ISO-8601 week [1,53]

	// Lag features: price at the observation nearest to t-horizon, NULL
	// when no observation falls within tolerance.
	PriceLag1Min  *float64
	PriceLag5Min  *float64
	PriceLag15Min *float64
	PriceLag30Min *float64
	PriceLag60Min *float64

	// Rolling statistics over the trailing N observations, NULL until the
	// window is full. Std uses the sample (N-1) convention.
	RollingMean5Min  *float64
	RollingMean15Min *float64
	RollingMean30Min *float64
	RollingMean60Min *float64
	RollingStd5Min   *float64
	RollingStd15Min  *float64
	RollingStd30Min  *float64
	RollingStd60Min  *float64
	RollingMin30Min  *float64
	RollingMax30Min  *float64

	// Technical indicators, NULL before their warm-up row.
	RSI14         *float64 // Wilder-smoothed, [0,100]
	MACDLine      *float64 // EMA12 - EMA26
	MACDSignal    *float64 // EMA9 of MACD line
	MACDHistogram *float64 // MACD line - signal
	BBUpper       *float64 // SMA20 + 2*std20
	BBMiddle      *float64 // SMA20
	BBLower       *float64 // SMA20 - 2*std20
	BBWidth       *float64 // upper - lower
	BBPosition    *float64 // (price-lower)/width, NULL if width is 0
	ATR14         *float64 // Wilder-smoothed |price delta| proxy
	StochK        *float64 // 100*(price-min14)/(max14-min14), NULL if flat
	StochD        *float64 // SMA3 of %K, NULL unless last 3 %K present

	// Price deltas and momentum over time horizons, NULL when the lagged
	// value is unavailable (pct also NULL on zero denominator).
	PriceChange1Min     *float64
	PriceChange5Min     *float64
	PriceChange15Min    *float64
	PriceChangePct1Min  *float64
	PriceChangePct5Min  *float64
	PriceChangePct15Min *float64
	Volatility30Min     *float64 // same value as RollingStd30Min
	Momentum5Min        *float64
	Momentum15Min       *float64
	Momentum30Min       *float64

	// Normalized features. PriceNormalized is NULL when no fitted
	// parameters are in effect or the fit range is degenerate.
	PriceNormalized  *float64
	VolumeNormalized *float64 // placeholder, constant 0.0
}
