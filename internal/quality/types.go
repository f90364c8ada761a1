package quality

// Verdict represents the final GO/NO-GO result.
type Verdict string

const (
	VerdictGO   Verdict = "GO"
	VerdictNOGO Verdict = "NO-GO"
)

// GateInput contains numeric metrics for gate evaluation.
type GateInput struct {
	// Row counts
	ObservationCount int64 // raw observations stored
	FeatureRowCount  int64 // enriched feature rows stored

	// Post-warm-up null coverage. WorstColumn is the nullable column with
	// the highest null ratio over the rows past the warm-up boundary.
	WorstColumn    string
	WorstNullRatio float64 // 0-1
	ScannedRows    int     // feature rows included in the null scan

	// Timeline scan over raw history
	OrderingViolations int // adjacent pairs not strictly increasing

	// Cadence scan
	GapCount int   // inter-observation deltas beyond GapCeilingMs
	MaxGapMs int64 // widest observed delta

	// Recompute verification
	VerifiedRows  int // stored rows recomputed and compared
	DivergentRows int // rows that diverged from the recompute
}

// CriterionResult represents pass/fail for one criterion.
type CriterionResult struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// GateResult contains the final verdict with checklist.
type GateResult struct {
	Verdict    Verdict
	GOCriteria []CriterionResult // 5 GO criteria
	NOGOChecks []CriterionResult // 4 NO-GO triggers
}
