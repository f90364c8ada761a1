package features

import (
	"fmt"

	"btc-feature-lab/internal/domain"
)

// Normalizer applies fitted min-max parameters to designated features.
// There is no process-wide shared instance: callers construct one, hand it
// the parameter set explicitly, and thread it through the pipeline.
// Fitting is a separate, auditable step (FitPriceParameters); the
// transform never fits implicitly.
type Normalizer struct {
	price *domain.NormalizationParameters
}

// NewNormalizer returns a normalizer with no parameters in effect. Every
// normalized field stays null until a fitted set is applied.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// SetPriceParameters applies a fitted parameter set for the price feature.
func (n *Normalizer) SetPriceParameters(p *domain.NormalizationParameters) {
	n.price = p
}

// PriceParameters returns the parameter set in effect, nil if none.
func (n *Normalizer) PriceParameters() *domain.NormalizationParameters {
	return n.price
}

// NormalizePrice returns the min-max scaled price. Null without parameters
// or on a degenerate fit range. Out-of-sample prices beyond the fit range
// scale outside [0,1]; clamping would hide distribution drift from the
// models consuming the feature.
func (n *Normalizer) NormalizePrice(price float64) *float64 {
	if n.price == nil {
		return nil
	}
	v, ok := n.price.Transform(price)
	if !ok {
		return nil
	}
	return floatPtr(v)
}

// FitPriceParameters fits min-max parameters for the price feature over a
// historical corpus. Returns ErrEmptyFitCorpus on an empty corpus. Fitting
// over a constant corpus succeeds but yields a degenerate range that
// transforms to null; callers decide whether to persist it.
func FitPriceParameters(obs []*domain.PriceObservation, fittedAtMs int64) (*domain.NormalizationParameters, error) {
	if len(obs) == 0 {
		return nil, fmt.Errorf("%w: price", ErrEmptyFitCorpus)
	}

	lo, hi := obs[0].Price, obs[0].Price
	for _, o := range obs[1:] {
		if o.Price < lo {
			lo = o.Price
		}
		if o.Price > hi {
			hi = o.Price
		}
	}

	return &domain.NormalizationParameters{
		FeatureName: domain.NormalizedFeaturePrice,
		Min:         lo,
		Max:         hi,
		FittedAtMs:  fittedAtMs,
		CorpusSize:  int64(len(obs)),
	}, nil
}
