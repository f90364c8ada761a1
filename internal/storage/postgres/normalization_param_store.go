package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/storage"
)

// NormalizationParamStore implements storage.NormalizationParameterStore using PostgreSQL.
// Rows are append-only: a refit inserts a new (feature_name, fitted_at_ms) row
// and GetCurrent picks the newest, so historical fits stay addressable.
type NormalizationParamStore struct {
	pool *Pool
}

// NewNormalizationParamStore creates a new NormalizationParamStore.
func NewNormalizationParamStore(pool *Pool) *NormalizationParamStore {
	return &NormalizationParamStore{pool: pool}
}

// Compile-time interface check.
var _ storage.NormalizationParameterStore = (*NormalizationParamStore)(nil)

// Insert adds a new parameter set. Returns ErrDuplicateKey if (feature_name, fitted_at_ms) exists.
func (s *NormalizationParamStore) Insert(ctx context.Context, p *domain.NormalizationParameters) error {
	if p == nil || p.FeatureName == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO normalization_parameters (feature_name, min_value, max_value, fitted_at_ms, corpus_size)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query, p.FeatureName, p.Min, p.Max, p.FittedAtMs, p.CorpusSize)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert normalization parameters: %w", err)
	}
	return nil
}

// GetCurrent retrieves the most recently fitted parameters for a feature.
func (s *NormalizationParamStore) GetCurrent(ctx context.Context, featureName string) (*domain.NormalizationParameters, error) {
	query := `
		SELECT feature_name, min_value, max_value, fitted_at_ms, corpus_size
		FROM normalization_parameters
		WHERE feature_name = $1
		ORDER BY fitted_at_ms DESC
		LIMIT 1
	`

	var p domain.NormalizationParameters
	err := s.pool.QueryRow(ctx, query, featureName).Scan(
		&p.FeatureName, &p.Min, &p.Max, &p.FittedAtMs, &p.CorpusSize,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get current normalization parameters: %w", err)
	}
	return &p, nil
}

// GetHistory retrieves all parameter sets for a feature, ordered by fitted_at ASC.
func (s *NormalizationParamStore) GetHistory(ctx context.Context, featureName string) ([]*domain.NormalizationParameters, error) {
	query := `
		SELECT feature_name, min_value, max_value, fitted_at_ms, corpus_size
		FROM normalization_parameters
		WHERE feature_name = $1
		ORDER BY fitted_at_ms ASC
	`

	rows, err := s.pool.Query(ctx, query, featureName)
	if err != nil {
		return nil, fmt.Errorf("get normalization parameter history: %w", err)
	}
	defer rows.Close()

	return scanParameters(rows)
}

// scanParameters scans multiple rows into a slice of NormalizationParameters.
func scanParameters(rows pgx.Rows) ([]*domain.NormalizationParameters, error) {
	var params []*domain.NormalizationParameters

	for rows.Next() {
		var p domain.NormalizationParameters

		err := rows.Scan(&p.FeatureName, &p.Min, &p.Max, &p.FittedAtMs, &p.CorpusSize)
		if err != nil {
			return nil, fmt.Errorf("scan normalization parameters row: %w", err)
		}

		params = append(params, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate normalization parameter rows: %w", err)
	}

	return params, nil
}
