package threshold

import (
	"encoding/json"
	"fmt"
	"math"

	"gocutoff/domain/core"
)

// Validation rule constants
const (
	SignificanceLevel = 0.05
	HazardRatioFloor  = 1.0
)

// Direction says which side of the search range a bound source constrains
type Direction string

const (
	DirectionLower Direction = "lower"
	DirectionUpper Direction = "upper"
)

// SourceKind is the closed set of bound signal sources
type SourceKind string

const (
	SourcePercentile      SourceKind = "percentile"
	SourceOrderStatistic  SourceKind = "order_statistic"
	SourceNoiseFloor      SourceKind = "noise_floor"
	SourceReferenceTissue SourceKind = "reference_tissue"
)

// BoundSource is one evaluated signal contributing to a bound
type BoundSource struct {
	Kind      SourceKind `json:"kind"`
	Direction Direction  `json:"direction"`
	Parameter float64    `json:"parameter"`
	Value     float64    `json:"value"`
}

// FeatureBounds is the admissible threshold range of a feature
type FeatureBounds struct {
	Feature      core.FeatureKey `json:"feature"`
	Lower        float64         `json:"lower"`
	Upper        float64         `json:"upper"`
	LowerSources []BoundSource   `json:"lower_sources"`
	UpperSources []BoundSource   `json:"upper_sources"`
}

// Eligible reports whether the range is non-empty
func (b FeatureBounds) Eligible() bool {
	return b.Upper >= b.Lower
}

// ThresholdScore is the survival-model verdict on one grouping
type ThresholdScore struct {
	PValue      float64 `json:"p_value"`
	HazardRatio float64 `json:"hazard_ratio"`
	Validated   bool    `json:"validated"`
	Error       string  `json:"error,omitempty"`
}

// NewScore applies the validation rule to a fit
func NewScore(pValue, hazardRatio float64) ThresholdScore {
	return ThresholdScore{
		PValue:      pValue,
		HazardRatio: hazardRatio,
		Validated:   IsValidated(pValue, hazardRatio),
	}
}

// FailedScore marks a candidate whose fit did not succeed
func FailedScore(err error) ThresholdScore {
	s := ThresholdScore{PValue: math.NaN(), HazardRatio: math.NaN()}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

// Failed reports whether the fit failed
func (s ThresholdScore) Failed() bool {
	return math.IsNaN(s.PValue) || math.IsNaN(s.HazardRatio)
}

type scoreJSON struct {
	PValue      *float64 `json:"p_value"`
	HazardRatio *float64 `json:"hazard_ratio"`
	Validated   bool     `json:"validated"`
	Error       string   `json:"error,omitempty"`
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// MarshalJSON writes failed fits as null p-value and hazard ratio
func (s ThresholdScore) MarshalJSON() ([]byte, error) {
	return json.Marshal(scoreJSON{
		PValue:      finiteOrNil(s.PValue),
		HazardRatio: finiteOrNil(s.HazardRatio),
		Validated:   s.Validated,
		Error:       s.Error,
	})
}

func (s *ThresholdScore) UnmarshalJSON(data []byte) error {
	var raw scoreJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.PValue, s.HazardRatio = math.NaN(), math.NaN()
	if raw.PValue != nil {
		s.PValue = *raw.PValue
	}
	if raw.HazardRatio != nil {
		s.HazardRatio = *raw.HazardRatio
	}
	s.Validated = raw.Validated
	s.Error = raw.Error
	return nil
}

// IsValidated is the validation rule: significant and higher expression is worse
func IsValidated(pValue, hazardRatio float64) bool {
	return pValue < SignificanceLevel && hazardRatio > HazardRatioFloor
}

// CandidateThreshold is one trial cut-point, annotated in place with scores
type CandidateThreshold struct {
	Feature        core.FeatureKey  `json:"feature"`
	Index          int              `json:"index"`
	Value          float64          `json:"threshold"`
	Percentile     float64          `json:"percentile"`
	Score          *ThresholdScore  `json:"score,omitempty"`
	FoldScores     []ThresholdScore `json:"fold_scores,omitempty"`
	ValidationRate float64          `json:"validation_rate"`
}

// Scored reports whether the candidate carries a full-dataset score
func (c CandidateThreshold) Scored() bool {
	return c.Score != nil
}

// ValidatedFolds counts folds in which the candidate validated
func (c CandidateThreshold) ValidatedFolds() int {
	n := 0
	for _, s := range c.FoldScores {
		if s.Validated {
			n++
		}
	}
	return n
}

// Fold is one stratified train/test split
type Fold struct {
	Repetition int             `json:"repetition"`
	Index      int             `json:"index"`
	Train      []core.SampleID `json:"train"`
	Test       []core.SampleID `json:"test"`
	TrainSize  int             `json:"train_size"`
	TestSize   int             `json:"test_size"`
}

// ID names the fold for error context and audit output
func (f Fold) ID() string {
	return fmt.Sprintf("r%df%d", f.Repetition, f.Index)
}

// SkipReason explains why a feature was not scored
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipIneligible       SkipReason = "ineligible"
	SkipInsufficientData SkipReason = "insufficient_data"
	SkipEmptyGrid        SkipReason = "empty_grid"
	SkipNoBoundSource    SkipReason = "no_bound_source"
)

// Selection is the final verdict for a feature
type Selection struct {
	Found     bool                `json:"found"`
	Candidate *CandidateThreshold `json:"candidate,omitempty"`
}

// Threshold returns the selected value and whether one was found
func (s Selection) Threshold() (float64, bool) {
	if !s.Found || s.Candidate == nil {
		return math.NaN(), false
	}
	return s.Candidate.Value, true
}

// FeatureResult is the engine's per-feature output
type FeatureResult struct {
	Feature    core.FeatureKey      `json:"feature"`
	Bounds     *FeatureBounds       `json:"bounds,omitempty"`
	Eligible   bool                 `json:"eligible"`
	SkipReason SkipReason           `json:"skip_reason,omitempty"`
	SkipDetail string               `json:"skip_detail,omitempty"`
	Candidates []CandidateThreshold `json:"candidates,omitempty"`
	Selection  Selection            `json:"selection"`
}

// Stage is a step of the engine state machine
type Stage int

const (
	StageInitialized Stage = iota
	StageBoundsComputed
	StageEligibilityDetermined
	StageGridGenerated
	StageFoldsGenerated
	StageScored
	StageFinalized
)

var stageNames = map[Stage]string{
	StageInitialized:           "initialized",
	StageBoundsComputed:        "bounds_computed",
	StageEligibilityDetermined: "eligibility_determined",
	StageGridGenerated:         "grid_generated",
	StageFoldsGenerated:        "folds_generated",
	StageScored:                "scored",
	StageFinalized:             "finalized",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Result is a snapshot of a finalized run
type Result struct {
	RunID          core.RunID          `json:"run_id"`
	CreatedAt      core.Timestamp      `json:"created_at"`
	CohortHash     core.CohortHash     `json:"cohort_hash"`
	AssignmentHash core.AssignmentHash `json:"assignment_hash"`
	Seed           int64               `json:"seed"`
	Options        Options             `json:"options"`
	Features       []FeatureResult     `json:"features"`
	Folds          []Fold              `json:"folds"`
}

// Feature looks up one feature's result
func (r *Result) Feature(feature core.FeatureKey) (*FeatureResult, bool) {
	for i := range r.Features {
		if r.Features[i].Feature == feature {
			return &r.Features[i], true
		}
	}
	return nil, false
}

// SelectedCount counts features with a selected threshold
func (r *Result) SelectedCount() int {
	n := 0
	for _, f := range r.Features {
		if f.Selection.Found {
			n++
		}
	}
	return n
}
