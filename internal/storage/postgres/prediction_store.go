package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/storage"
)

// PredictionStore implements storage.PredictionStore using PostgreSQL.
type PredictionStore struct {
	pool *Pool
}

// NewPredictionStore creates a new PredictionStore.
func NewPredictionStore(pool *Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PredictionStore = (*PredictionStore)(nil)

const predictionColumns = `
	prediction_id, model_id, created_at_ms, target_time_ms, horizon_ms,
	current_price, predicted_price, predicted_trend, confidence,
	actual_price, actual_trend, abs_error, pct_error, evaluated_at_ms
`

// Insert adds a new prediction. Returns ErrDuplicateKey if prediction_id exists.
func (s *PredictionStore) Insert(ctx context.Context, p *domain.PricePrediction) error {
	if p == nil || p.PredictionID == "" || p.ModelID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO predictions (
			prediction_id, model_id, created_at_ms, target_time_ms, horizon_ms,
			current_price, predicted_price, predicted_trend, confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		p.PredictionID,
		p.ModelID,
		p.CreatedAtMs,
		p.TargetTimeMs,
		p.HorizonMs,
		p.CurrentPrice,
		p.PredictedPrice,
		p.PredictedTrend,
		p.Confidence,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

// GetByID retrieves a prediction by its ID. Returns ErrNotFound if not exists.
func (s *PredictionStore) GetByID(ctx context.Context, predictionID string) (*domain.PricePrediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE prediction_id = $1`

	row := s.pool.QueryRow(ctx, query, predictionID)
	p, err := scanPrediction(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get prediction by id: %w", err)
	}
	return p, nil
}

// GetPendingDue retrieves unevaluated predictions whose target time is at or
// before nowMs, ordered by target time ASC.
func (s *PredictionStore) GetPendingDue(ctx context.Context, nowMs int64) ([]*domain.PricePrediction, error) {
	query := `
		SELECT ` + predictionColumns + `
		FROM predictions
		WHERE actual_price IS NULL AND target_time_ms <= $1
		ORDER BY target_time_ms ASC
	`

	rows, err := s.pool.Query(ctx, query, nowMs)
	if err != nil {
		return nil, fmt.Errorf("get pending due predictions: %w", err)
	}
	defer rows.Close()

	return scanPredictions(rows)
}

// GetByTimeRange retrieves predictions created within [start, end] (inclusive).
func (s *PredictionStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.PricePrediction, error) {
	query := `
		SELECT ` + predictionColumns + `
		FROM predictions
		WHERE created_at_ms >= $1 AND created_at_ms <= $2
		ORDER BY created_at_ms ASC
	`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get predictions by time range: %w", err)
	}
	defer rows.Close()

	return scanPredictions(rows)
}

// GetByModel retrieves predictions for one model created within [start, end] (inclusive).
func (s *PredictionStore) GetByModel(ctx context.Context, modelID string, start, end int64) ([]*domain.PricePrediction, error) {
	query := `
		SELECT ` + predictionColumns + `
		FROM predictions
		WHERE model_id = $1 AND created_at_ms >= $2 AND created_at_ms <= $3
		ORDER BY created_at_ms ASC
	`

	rows, err := s.pool.Query(ctx, query, modelID, start, end)
	if err != nil {
		return nil, fmt.Errorf("get predictions by model: %w", err)
	}
	defer rows.Close()

	return scanPredictions(rows)
}

// UpdateEvaluation records the resolved outcome for a prediction. The update
// only matches unevaluated rows; an affected count of zero is disambiguated
// into ErrNotFound or ErrAlreadyEvaluated.
func (s *PredictionStore) UpdateEvaluation(ctx context.Context, p *domain.PricePrediction) error {
	if p == nil || p.PredictionID == "" || p.ActualPrice == nil {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE predictions
		SET actual_price = $2,
		    actual_trend = $3,
		    abs_error = $4,
		    pct_error = $5,
		    evaluated_at_ms = $6
		WHERE prediction_id = $1 AND actual_price IS NULL
	`

	tag, err := s.pool.Exec(ctx, query,
		p.PredictionID,
		p.ActualPrice,
		p.ActualTrend,
		p.AbsError,
		p.PctError,
		p.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("update prediction evaluation: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM predictions WHERE prediction_id = $1)`,
		p.PredictionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check prediction exists: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrAlreadyEvaluated
}

// DeleteOlderThan removes predictions created before cutoffMs.
func (s *PredictionStore) DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM predictions WHERE created_at_ms < $1`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("delete old predictions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanPrediction scans a single row.
func scanPrediction(row pgx.Row) (*domain.PricePrediction, error) {
	var p domain.PricePrediction

	err := row.Scan(
		&p.PredictionID,
		&p.ModelID,
		&p.CreatedAtMs,
		&p.TargetTimeMs,
		&p.HorizonMs,
		&p.CurrentPrice,
		&p.PredictedPrice,
		&p.PredictedTrend,
		&p.Confidence,
		&p.ActualPrice,
		&p.ActualTrend,
		&p.AbsError,
		&p.PctError,
		&p.EvaluatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// scanPredictions scans multiple rows into a slice of PricePrediction.
func scanPredictions(rows pgx.Rows) ([]*domain.PricePrediction, error) {
	var predictions []*domain.PricePrediction

	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prediction row: %w", err)
		}
		predictions = append(predictions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prediction rows: %w", err)
	}

	return predictions, nil
}
