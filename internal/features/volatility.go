package features

// ChangeFeatures holds price deltas, percentage deltas, volatility and
// momentum for one row. Change and momentum use the same price-minus-lag
// formula over different horizons; they stay distinct columns because the
// model feature contract names them separately.
type ChangeFeatures struct {
	Change1     *float64
	Change5     *float64
	Change15    *float64
	ChangePct1  *float64
	ChangePct5  *float64
	ChangePct15 *float64

	Volatility30 *float64

	Momentum5  *float64
	Momentum15 *float64
	Momentum30 *float64
}

// ExtractChanges derives delta features from the current price and the lag
// features already resolved for the row. Volatility reuses the 30-window
// rolling standard deviation rather than recomputing it.
func ExtractChanges(price float64, lags LagFeatures, std30 *float64) ChangeFeatures {
	out := ChangeFeatures{}
	out.Change1, out.ChangePct1 = changeAgainst(price, lags.Lag1)
	out.Change5, out.ChangePct5 = changeAgainst(price, lags.Lag5)
	out.Change15, out.ChangePct15 = changeAgainst(price, lags.Lag15)

	if std30 != nil {
		out.Volatility30 = floatPtr(*std30)
	}

	out.Momentum5 = diffAgainst(price, lags.Lag5)
	out.Momentum15 = diffAgainst(price, lags.Lag15)
	out.Momentum30 = diffAgainst(price, lags.Lag30)
	return out
}

// changeAgainst returns the absolute and percentage delta against a lagged
// price. Both are null without the lag; the percentage is additionally
// null on a zero denominator rather than raising.
func changeAgainst(price float64, lag *float64) (change, pct *float64) {
	if lag == nil {
		return nil, nil
	}
	change = floatPtr(price - *lag)
	if *lag != 0 {
		pct = floatPtr((price - *lag) / *lag)
	}
	return change, pct
}

// diffAgainst returns price minus the lagged price, null without the lag.
func diffAgainst(price float64, lag *float64) *float64 {
	if lag == nil {
		return nil
	}
	return floatPtr(price - *lag)
}
