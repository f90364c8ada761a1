package quality

import (
	"fmt"

	"btc-feature-lab/internal/observability"
)

// Gate thresholds per ENRICHMENT_PROTOCOL.md Section 7.
const (
	// MinObservations is the training floor; model training refuses
	// smaller corpora.
	MinObservations = 100

	// MaxNullRatio bounds post-warm-up nulls for every nullable column.
	MaxNullRatio = 0.05

	// MaxGapRatio bounds collection gaps relative to observation count.
	MaxGapRatio = 0.01

	// GapCeilingMs is the inter-observation delta counted as a collection
	// gap. Past 90s the 1-minute lag target of the following row has no
	// observation within the 30s tolerance.
	GapCeilingMs = 90_000
)

// Evaluator evaluates training-data readiness criteria.
type Evaluator struct{}

// NewEvaluator creates a new gate evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate produces GateResult from GateInput.
// GO if ALL criteria pass and NO NO-GO triggers.
// NO-GO if ANY criterion fails or ANY trigger fires.
func (e *Evaluator) Evaluate(input GateInput) *GateResult {
	goCriteria := e.evaluateGOCriteria(input)
	nogoChecks := e.evaluateNOGOTriggers(input)

	// Count passes and triggers
	allGOPass := true
	for _, c := range goCriteria {
		if !c.Pass {
			allGOPass = false
			break
		}
	}

	anyNOGOTriggered := false
	for _, c := range nogoChecks {
		if !c.Pass { // Pass=false means triggered
			anyNOGOTriggered = true
			break
		}
	}

	verdict := VerdictGO
	if !allGOPass || anyNOGOTriggered {
		verdict = VerdictNOGO
	}

	observability.RecordGateCheck(string(verdict))

	return &GateResult{
		Verdict:    verdict,
		GOCriteria: goCriteria,
		NOGOChecks: nogoChecks,
	}
}

// evaluateGOCriteria evaluates the 5 GO criteria.
func (e *Evaluator) evaluateGOCriteria(input GateInput) []CriterionResult {
	criteria := make([]CriterionResult, 5)

	// 1. ObservationCount >= MinObservations
	criteria[0] = CriterionResult{
		Name:      "Sufficient history",
		Threshold: fmt.Sprintf(">= %d observations", MinObservations),
		Actual:    fmt.Sprintf("%d", input.ObservationCount),
		Pass:      input.ObservationCount >= MinObservations,
	}

	// 2. Every nullable column resolves past warm-up: worst ratio <= MaxNullRatio
	coveragePass := false
	var coverageActual string
	if input.ScannedRows > 0 {
		coveragePass = input.WorstNullRatio <= MaxNullRatio
		coverageActual = fmt.Sprintf("%s at %.2f%% over %d rows",
			input.WorstColumn, input.WorstNullRatio*100, input.ScannedRows)
	} else {
		coverageActual = "no rows past warm-up"
	}
	criteria[1] = CriterionResult{
		Name:      "Feature coverage after warm-up",
		Threshold: fmt.Sprintf("worst null ratio <= %.0f%%", MaxNullRatio*100),
		Actual:    coverageActual,
		Pass:      coveragePass,
	}

	// 3. OrderingViolations == 0
	criteria[2] = CriterionResult{
		Name:      "Monotonic timeline",
		Threshold: "0 violations",
		Actual:    fmt.Sprintf("%d", input.OrderingViolations),
		Pass:      input.OrderingViolations == 0,
	}

	// 4. Collection gaps within MaxGapRatio of observations
	criteria[3] = CriterionResult{
		Name:      "Collection cadence",
		Threshold: fmt.Sprintf("gaps <= %.0f%% of observations", MaxGapRatio*100),
		Actual:    fmt.Sprintf("%d gaps, widest %dms", input.GapCount, input.MaxGapMs),
		Pass:      float64(input.GapCount) <= MaxGapRatio*float64(input.ObservationCount),
	}

	// 5. Recompute verification ran and found no divergence
	criteria[4] = CriterionResult{
		Name:      "Recompute verified",
		Threshold: "0 divergent rows",
		Actual:    fmt.Sprintf("%d/%d divergent", input.DivergentRows, input.VerifiedRows),
		Pass:      input.VerifiedRows > 0 && input.DivergentRows == 0,
	}

	return criteria
}

// evaluateNOGOTriggers evaluates the 4 NO-GO triggers.
// Pass=true means NOT triggered, Pass=false means triggered.
func (e *Evaluator) evaluateNOGOTriggers(input GateInput) []CriterionResult {
	checks := make([]CriterionResult, 4)

	// 1. Empty feature table triggers NO-GO
	triggered1 := input.FeatureRowCount == 0
	checks[0] = CriterionResult{
		Name:      "Empty feature table",
		Threshold: "0 enriched rows",
		Actual:    fmt.Sprintf("%d", input.FeatureRowCount),
		Pass:      !triggered1, // Pass means NOT triggered
	}

	// 2. Any ordering violation triggers NO-GO
	triggered2 := input.OrderingViolations > 0
	checks[1] = CriterionResult{
		Name:      "Out-of-order history",
		Threshold: "> 0 violations",
		Actual:    fmt.Sprintf("%d", input.OrderingViolations),
		Pass:      !triggered2,
	}

	// 3. Any recompute divergence triggers NO-GO
	triggered3 := input.DivergentRows > 0
	checks[2] = CriterionResult{
		Name:      "Recompute divergence",
		Threshold: "> 0 divergent rows",
		Actual:    fmt.Sprintf("%d", input.DivergentRows),
		Pass:      !triggered3,
	}

	// 4. Feature table trailing raw history triggers NO-GO
	triggered4 := input.FeatureRowCount < input.ObservationCount
	checks[3] = CriterionResult{
		Name:      "Enrichment behind raw history",
		Threshold: "feature rows < observations",
		Actual:    fmt.Sprintf("%d rows vs %d observations", input.FeatureRowCount, input.ObservationCount),
		Pass:      !triggered4,
	}

	return checks
}
