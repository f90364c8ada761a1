package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/storage"
)

// PriceObservationStore implements storage.PriceObservationStore using PostgreSQL.
type PriceObservationStore struct {
	pool *Pool
}

// NewPriceObservationStore creates a new PriceObservationStore.
func NewPriceObservationStore(pool *Pool) *PriceObservationStore {
	return &PriceObservationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PriceObservationStore = (*PriceObservationStore)(nil)

// Insert adds a new observation. Returns ErrDuplicateKey if timestamp_ms exists.
func (s *PriceObservationStore) Insert(ctx context.Context, o *domain.PriceObservation) error {
	if o == nil || o.TimestampMs <= 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO price_observations (timestamp_ms, price, source)
		VALUES ($1, $2, $3)
	`

	_, err := s.pool.Exec(ctx, query, o.TimestampMs, o.Price, o.Source)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert price observation: %w", err)
	}
	return nil
}

// InsertBulk adds multiple observations atomically. Fails entire batch on any duplicate.
func (s *PriceObservationStore) InsertBulk(ctx context.Context, obs []*domain.PriceObservation) error {
	if len(obs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO price_observations (timestamp_ms, price, source)
		VALUES ($1, $2, $3)
	`

	for _, o := range obs {
		if o == nil || o.TimestampMs <= 0 {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, query, o.TimestampMs, o.Price, o.Source)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert price observation in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByTimeRange retrieves observations within [start, end] (inclusive), ordered by timestamp ASC.
func (s *PriceObservationStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.PriceObservation, error) {
	query := `
		SELECT timestamp_ms, price, source
		FROM price_observations
		WHERE timestamp_ms >= $1 AND timestamp_ms <= $2
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get observations by time range: %w", err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

// GetLatest retrieves the most recent n observations, ordered by timestamp ASC.
func (s *PriceObservationStore) GetLatest(ctx context.Context, n int) ([]*domain.PriceObservation, error) {
	if n <= 0 {
		return nil, storage.ErrInvalidInput
	}

	// Take the newest n, then flip back to ASC for callers
	query := `
		SELECT timestamp_ms, price, source
		FROM (
			SELECT timestamp_ms, price, source
			FROM price_observations
			ORDER BY timestamp_ms DESC
			LIMIT $1
		) latest
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.pool.Query(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("get latest observations: %w", err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

// GetLast retrieves the single most recent observation. Returns ErrNotFound if empty.
func (s *PriceObservationStore) GetLast(ctx context.Context) (*domain.PriceObservation, error) {
	query := `
		SELECT timestamp_ms, price, source
		FROM price_observations
		ORDER BY timestamp_ms DESC
		LIMIT 1
	`

	var o domain.PriceObservation
	err := s.pool.QueryRow(ctx, query).Scan(&o.TimestampMs, &o.Price, &o.Source)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get last observation: %w", err)
	}
	return &o, nil
}

// GetAll retrieves all observations, ordered by timestamp ASC.
func (s *PriceObservationStore) GetAll(ctx context.Context) ([]*domain.PriceObservation, error) {
	query := `
		SELECT timestamp_ms, price, source
		FROM price_observations
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all observations: %w", err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

// Count returns the total number of stored observations.
func (s *PriceObservationStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM price_observations`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return count, nil
}

// scanObservations scans multiple rows into a slice of PriceObservation.
func scanObservations(rows pgx.Rows) ([]*domain.PriceObservation, error) {
	var obs []*domain.PriceObservation

	for rows.Next() {
		var o domain.PriceObservation

		if err := rows.Scan(&o.TimestampMs, &o.Price, &o.Source); err != nil {
			return nil, fmt.Errorf("scan observation row: %w", err)
		}

		obs = append(obs, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observation rows: %w", err)
	}

	return obs, nil
}
