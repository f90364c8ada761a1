// Package dataset assembles versioned training tables from the feature
// store. Every export is identified by a content-addressed snapshot ID
// and described by a manifest, so a trained model can name the exact
// bytes it was trained on.
package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/features"
	"btc-feature-lab/internal/idhash"
	"btc-feature-lab/internal/storage"
)

// Default label parameters.
const (
	DefaultHorizonMs   = int64(15 * 60_000)
	DefaultToleranceMs = int64(30_000)
)

// ErrEmptyDataset is returned when no rows survive assembly.
var ErrEmptyDataset = errors.New("dataset: no feature rows to export")

// Config controls dataset assembly.
type Config struct {
	// HorizonMs is the forward label look-ahead in whole minutes.
	// Default: 15 minutes.
	HorizonMs int64

	// ToleranceMs bounds how far the labeling observation may sit from
	// the exact horizon target. Default: 30s.
	ToleranceMs int64

	// IncludeLabels adds the future_* label columns. Rows whose label
	// target has no observation within tolerance are dropped: a training
	// row without its target is useless.
	IncludeLabels bool

	// DropIncompleteRows drops rows with any null feature cell, the
	// trainer-side dropna done at export time instead.
	DropIncompleteRows bool
}

// validate normalizes zero values to defaults and rejects unusable settings.
func (c *Config) validate() error {
	if c.HorizonMs == 0 {
		c.HorizonMs = DefaultHorizonMs
	}
	if c.HorizonMs < 0 || c.HorizonMs%60_000 != 0 {
		return fmt.Errorf("dataset: label horizon must be a positive whole number of minutes, got %dms", c.HorizonMs)
	}
	if c.ToleranceMs == 0 {
		c.ToleranceMs = DefaultToleranceMs
	}
	if c.ToleranceMs < 0 || c.ToleranceMs >= c.HorizonMs {
		return fmt.Errorf("dataset: label tolerance %dms must be positive and below the horizon", c.ToleranceMs)
	}
	return nil
}

// Exporter assembles datasets from the stores.
type Exporter struct {
	observationStore storage.PriceObservationStore
	featureStore     storage.FeatureStore
	parameterStore   storage.NormalizationParameterStore // nil omits manifest provenance
	now              func() time.Time
}

// NewExporter creates a new dataset exporter. The parameter store may be
// nil; the manifest then carries no normalization provenance.
func NewExporter(observationStore storage.PriceObservationStore, featureStore storage.FeatureStore, parameterStore storage.NormalizationParameterStore) *Exporter {
	return &Exporter{
		observationStore: observationStore,
		featureStore:     featureStore,
		parameterStore:   parameterStore,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the exporter clock. Returns the exporter for chaining.
func (e *Exporter) WithClock(now func() time.Time) *Exporter {
	e.now = now
	return e
}

// Dataset is one assembled export: the rendered table plus its manifest.
type Dataset struct {
	DatasetID   string
	CreatedAtMs int64
	CSV         string
	Manifest    Manifest
}

// Export assembles a dataset over the full stored feature history.
func (e *Exporter) Export(ctx context.Context, cfg Config) (*Dataset, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	rows, err := e.featureStore.GetByTimeRange(ctx, 0, math.MaxInt64)
	if err != nil {
		return nil, fmt.Errorf("load feature rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}

	var labels map[int64]Label
	if cfg.IncludeLabels {
		obs, err := e.observationStore.GetAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("load observations: %w", err)
		}
		labels = ComputeLabels(rows, obs, cfg.HorizonMs, cfg.ToleranceMs)
	}

	kept, droppedIncomplete, droppedUnlabeled := filterRows(rows, labels, cfg)
	if len(kept) == 0 {
		return nil, ErrEmptyDataset
	}

	csv := RenderCSV(kept, labels, cfg)
	sum := sha256.Sum256([]byte(csv))
	contentHash := hex.EncodeToString(sum[:])
	createdAt := e.now().UnixMilli()
	id := idhash.ComputeDatasetID(contentHash, createdAt)

	manifest := Manifest{
		DatasetID:         id,
		CreatedAtMs:       createdAt,
		ContentSHA256:     contentHash,
		RowCount:          len(kept),
		DroppedIncomplete: droppedIncomplete,
		DroppedUnlabeled:  droppedUnlabeled,
		StartMs:           kept[0].TimestampMs,
		EndMs:             kept[len(kept)-1].TimestampMs,
		Columns:           columnList(cfg),
	}
	if cfg.IncludeLabels {
		manifest.HorizonMs = cfg.HorizonMs
	}

	if e.parameterStore != nil {
		params, err := e.parameterStore.GetCurrent(ctx, domain.NormalizedFeaturePrice)
		switch {
		case err == nil:
			manifest.Normalization = &NormalizationInfo{
				FeatureName: params.FeatureName,
				Min:         params.Min,
				Max:         params.Max,
				FittedAtMs:  params.FittedAtMs,
				CorpusSize:  params.CorpusSize,
			}
		case errors.Is(err, storage.ErrNotFound):
			// Never fitted, the table's price_normalized column is all null
		default:
			return nil, fmt.Errorf("load normalization parameters: %w", err)
		}
	}

	return &Dataset{
		DatasetID:   id,
		CreatedAtMs: createdAt,
		CSV:         csv,
		Manifest:    manifest,
	}, nil
}

// Write persists the table and manifest under dir as
// dataset_<id>.csv and dataset_<id>.manifest.json.
func (d *Dataset) Write(dir string) (csvPath, manifestPath string, err error) {
	csvPath = filepath.Join(dir, fmt.Sprintf("dataset_%s.csv", d.DatasetID))
	manifestPath = filepath.Join(dir, fmt.Sprintf("dataset_%s.manifest.json", d.DatasetID))

	if err := os.WriteFile(csvPath, []byte(d.CSV), 0644); err != nil {
		return "", "", fmt.Errorf("write table: %w", err)
	}

	payload, err := d.Manifest.JSON()
	if err != nil {
		return "", "", err
	}
	if err := os.WriteFile(manifestPath, payload, 0644); err != nil {
		return "", "", fmt.Errorf("write manifest: %w", err)
	}

	return csvPath, manifestPath, nil
}

// filterRows applies the drop rules. A row failing both rules counts as
// incomplete.
func filterRows(rows []*domain.EnrichedFeatureRow, labels map[int64]Label, cfg Config) (kept []*domain.EnrichedFeatureRow, droppedIncomplete, droppedUnlabeled int) {
	for _, row := range rows {
		if cfg.DropIncompleteRows && !rowComplete(row) {
			droppedIncomplete++
			continue
		}
		if cfg.IncludeLabels {
			if _, ok := labels[row.TimestampMs]; !ok {
				droppedUnlabeled++
				continue
			}
		}
		kept = append(kept, row)
	}
	return kept, droppedIncomplete, droppedUnlabeled
}

// rowComplete reports whether every nullable feature cell is present.
func rowComplete(row *domain.EnrichedFeatureRow) bool {
	for _, v := range features.NullableValues(row) {
		if v == nil {
			return false
		}
	}
	return true
}

// columnList returns the exact CSV column list for cfg.
func columnList(cfg Config) []string {
	cols := []string{"timestamp_ms", "price", "source"}
	cols = append(cols, features.Columns()...)
	if cfg.IncludeLabels {
		cols = append(cols, LabelColumns(cfg.HorizonMs)...)
	}
	return cols
}
