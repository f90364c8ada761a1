package dataset

import "encoding/json"

// Manifest describes one exported dataset. It is written beside the
// table so training runs can record exactly which bytes, columns and
// normalization parameters they saw.
type Manifest struct {
	DatasetID     string `json:"dataset_id"`
	CreatedAtMs   int64  `json:"created_at_ms"`
	ContentSHA256 string `json:"content_sha256"`

	RowCount          int `json:"row_count"`
	DroppedIncomplete int `json:"dropped_incomplete"`
	DroppedUnlabeled  int `json:"dropped_unlabeled"`

	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`

	Columns   []string `json:"columns"`
	HorizonMs int64    `json:"horizon_ms,omitempty"`

	Normalization *NormalizationInfo `json:"normalization,omitempty"`
}

// NormalizationInfo records the parameter version the table was
// normalized under.
type NormalizationInfo struct {
	FeatureName string  `json:"feature_name"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	FittedAtMs  int64   `json:"fitted_at_ms"`
	CorpusSize  int64   `json:"corpus_size"`
}

// JSON renders the manifest as indented JSON.
func (m *Manifest) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
