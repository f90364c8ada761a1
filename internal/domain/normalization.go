package domain

// NormalizationParameters holds the fitted min-max range for one feature.
// Corresponds to normalization_parameters table in PostgreSQL. Parameters
// are fit once over a historical corpus, persisted, and reused verbatim at
// both training and inference time; they are never refit implicitly.
type NormalizationParameters struct {
	FeatureName string  // feature the parameters apply to, e.g. "price_normalized"
	Min         float64 // corpus minimum
	Max         float64 // corpus maximum
	FittedAtMs  int64   // when the fit was performed (ms)
	CorpusSize  int64   // number of observations the fit saw
}

// Feature names with persisted normalization parameters.
const (
	NormalizedFeaturePrice = "price_normalized"
)

// Degenerate reports whether the fit range collapses to a point, making the
// transform undefined.
func (p *NormalizationParameters) Degenerate() bool {
	return p.Max == p.Min
}

// Transform applies min-max scaling. Values outside the fit range map
// outside [0,1]; they are intentionally not clamped so that distribution
// drift stays visible downstream. Returns false when the range is
// degenerate.
func (p *NormalizationParameters) Transform(v float64) (float64, bool) {
	if p.Degenerate() {
		return 0, false
	}
	return (v - p.Min) / (p.Max - p.Min), true
}

// InverseTransform maps a normalized value back to the raw scale.
func (p *NormalizationParameters) InverseTransform(v float64) float64 {
	return v*(p.Max-p.Min) + p.Min
}
