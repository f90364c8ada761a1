package storage

import (
	"context"

	"btc-feature-lab/internal/domain"
)

// PriceObservationStore provides access to price_observations storage.
type PriceObservationStore interface {
	// Insert adds a new observation. Returns ErrDuplicateKey if timestamp_ms exists.
	Insert(ctx context.Context, o *domain.PriceObservation) error

	// InsertBulk adds multiple observations atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, obs []*domain.PriceObservation) error

	// GetByTimeRange retrieves observations within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.PriceObservation, error)

	// GetLatest retrieves the most recent n observations, ordered by timestamp ASC.
	GetLatest(ctx context.Context, n int) ([]*domain.PriceObservation, error)

	// GetLast retrieves the single most recent observation. Returns ErrNotFound if empty.
	GetLast(ctx context.Context) (*domain.PriceObservation, error)

	// GetAll retrieves all observations, ordered by timestamp ASC.
	GetAll(ctx context.Context) ([]*domain.PriceObservation, error)

	// Count returns the total number of stored observations.
	Count(ctx context.Context) (int64, error)
}

// FeatureStore provides access to enriched_features storage.
type FeatureStore interface {
	// InsertBulk adds multiple rows. Fails entire batch on duplicate timestamp_ms.
	InsertBulk(ctx context.Context, rows []*domain.EnrichedFeatureRow) error

	// GetByTimeRange retrieves rows within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.EnrichedFeatureRow, error)

	// GetLatest retrieves the most recent n rows, ordered by timestamp ASC.
	GetLatest(ctx context.Context, n int) ([]*domain.EnrichedFeatureRow, error)

	// GetLast retrieves the single most recent row. Returns ErrNotFound if empty.
	GetLast(ctx context.Context) (*domain.EnrichedFeatureRow, error)

	// Count returns the total number of stored rows.
	Count(ctx context.Context) (int64, error)
}

// NormalizationParameterStore provides access to normalization_parameters storage.
// Parameter sets are versioned by fitted_at_ms; refitting appends a new row
// rather than mutating the old one, so every exported dataset can name the
// exact parameters it was built with.
type NormalizationParameterStore interface {
	// Insert adds a new parameter set. Returns ErrDuplicateKey if
	// (feature_name, fitted_at_ms) exists.
	Insert(ctx context.Context, p *domain.NormalizationParameters) error

	// GetCurrent retrieves the most recently fitted parameters for a feature.
	// Returns ErrNotFound if the feature was never fitted.
	GetCurrent(ctx context.Context, featureName string) (*domain.NormalizationParameters, error)

	// GetHistory retrieves all parameter sets for a feature, ordered by fitted_at ASC.
	GetHistory(ctx context.Context, featureName string) ([]*domain.NormalizationParameters, error)
}

// PredictionStore provides access to predictions storage.
type PredictionStore interface {
	// Insert adds a new prediction. Returns ErrDuplicateKey if prediction_id exists.
	Insert(ctx context.Context, p *domain.PricePrediction) error

	// GetByID retrieves a prediction by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, predictionID string) (*domain.PricePrediction, error)

	// GetPendingDue retrieves unevaluated predictions whose target time is at
	// or before nowMs, ordered by target time ASC.
	GetPendingDue(ctx context.Context, nowMs int64) ([]*domain.PricePrediction, error)

	// GetByTimeRange retrieves predictions created within [start, end] (inclusive),
	// ordered by created_at ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.PricePrediction, error)

	// GetByModel retrieves predictions for one model created within [start, end]
	// (inclusive), ordered by created_at ASC.
	GetByModel(ctx context.Context, modelID string, start, end int64) ([]*domain.PricePrediction, error)

	// UpdateEvaluation records the resolved outcome for a prediction.
	// Returns ErrNotFound if the prediction does not exist and
	// ErrAlreadyEvaluated if an outcome was already recorded.
	UpdateEvaluation(ctx context.Context, p *domain.PricePrediction) error

	// DeleteOlderThan removes predictions created before cutoffMs.
	// Returns the number of rows removed.
	DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error)
}
