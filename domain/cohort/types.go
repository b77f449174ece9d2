package cohort

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"gocutoff/domain/core"
)

// ExpressionMatrix holds samples × features expression values.
// Rows are samples, columns are features. Immutable after construction.
type ExpressionMatrix struct {
	samples  []core.SampleID
	features []core.FeatureKey
	rowIndex map[core.SampleID]int
	colIndex map[core.FeatureKey]int
	data     *mat.Dense
}

// NewExpressionMatrix builds a matrix from row-major values.
// values[i][j] is the expression of features[j] in samples[i].
func NewExpressionMatrix(samples []core.SampleID, features []core.FeatureKey, values [][]float64) (*ExpressionMatrix, error) {
	if len(values) != len(samples) {
		return nil, fmt.Errorf("%w: %d rows for %d samples", core.ErrShapeMismatch, len(values), len(samples))
	}

	rowIndex := make(map[core.SampleID]int, len(samples))
	for i, s := range samples {
		if _, dup := rowIndex[s]; dup {
			return nil, fmt.Errorf("%w: %s", core.ErrDuplicateSample, s)
		}
		rowIndex[s] = i
	}
	colIndex := make(map[core.FeatureKey]int, len(features))
	for j, f := range features {
		if _, dup := colIndex[f]; dup {
			return nil, fmt.Errorf("%w: %s", core.ErrDuplicateFeature, f)
		}
		colIndex[f] = j
	}

	m := &ExpressionMatrix{
		samples:  append([]core.SampleID(nil), samples...),
		features: append([]core.FeatureKey(nil), features...),
		rowIndex: rowIndex,
		colIndex: colIndex,
	}
	if len(samples) == 0 || len(features) == 0 {
		return m, nil
	}

	flat := make([]float64, 0, len(samples)*len(features))
	for i, row := range values {
		if len(row) != len(features) {
			return nil, fmt.Errorf("%w: row %s has %d values for %d features",
				core.ErrShapeMismatch, samples[i], len(row), len(features))
		}
		for j, v := range row {
			if math.IsNaN(v) {
				return nil, fmt.Errorf("%w: sample %s feature %s", core.ErrMissingValue, samples[i], features[j])
			}
		}
		flat = append(flat, row...)
	}
	m.data = mat.NewDense(len(samples), len(features), flat)
	return m, nil
}

// Samples returns the row identifiers in order
func (m *ExpressionMatrix) Samples() []core.SampleID {
	return append([]core.SampleID(nil), m.samples...)
}

// Features returns the column identifiers in order
func (m *ExpressionMatrix) Features() []core.FeatureKey {
	return append([]core.FeatureKey(nil), m.features...)
}

// Dims returns (samples, features)
func (m *ExpressionMatrix) Dims() (int, int) {
	return len(m.samples), len(m.features)
}

// HasFeature reports whether the matrix carries a column for feature
func (m *ExpressionMatrix) HasFeature(feature core.FeatureKey) bool {
	_, ok := m.colIndex[feature]
	return ok
}

// SampleIndex returns the row of a sample
func (m *ExpressionMatrix) SampleIndex(sample core.SampleID) (int, bool) {
	i, ok := m.rowIndex[sample]
	return i, ok
}

// Column returns a copy of one feature's values in sample order
func (m *ExpressionMatrix) Column(feature core.FeatureKey) ([]float64, error) {
	j, ok := m.colIndex[feature]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrFeatureNotFound, feature)
	}
	if m.data == nil {
		return []float64{}, nil
	}
	return mat.Col(nil, j, m.data), nil
}

// At returns the value of feature in sample
func (m *ExpressionMatrix) At(sample core.SampleID, feature core.FeatureKey) (float64, error) {
	i, ok := m.rowIndex[sample]
	if !ok {
		return 0, fmt.Errorf("%w: %s", core.ErrSampleNotFound, sample)
	}
	j, ok := m.colIndex[feature]
	if !ok {
		return 0, fmt.Errorf("%w: %s", core.ErrFeatureNotFound, feature)
	}
	return m.data.At(i, j), nil
}

// SelectSamples returns a new matrix restricted to the given samples, in the given order
func (m *ExpressionMatrix) SelectSamples(samples []core.SampleID) (*ExpressionMatrix, error) {
	values := make([][]float64, len(samples))
	for i, s := range samples {
		r, ok := m.rowIndex[s]
		if !ok {
			return nil, fmt.Errorf("%w: %s", core.ErrSampleNotFound, s)
		}
		if m.data == nil {
			values[i] = []float64{}
			continue
		}
		values[i] = mat.Row(nil, r, m.data)
	}
	return NewExpressionMatrix(samples, m.features, values)
}

// SurvivalRecord is one sample's follow-up
type SurvivalRecord struct {
	Duration float64 `json:"duration"`
	Event    bool    `json:"event"`
}

// Validate checks the record invariants
func (r SurvivalRecord) Validate() error {
	if math.IsNaN(r.Duration) {
		return core.ErrMissingValue
	}
	if r.Duration < 0 {
		return core.ErrNegativeDuration
	}
	return nil
}

// SurvivalTable maps samples to their follow-up
type SurvivalTable map[core.SampleID]SurvivalRecord

// Cohort is an expression matrix with survival records aligned by row
type Cohort struct {
	Expression *ExpressionMatrix
	Survival   []SurvivalRecord
}

// NewCohort builds a cohort, requiring a survival record for every matrix row
func NewCohort(expression *ExpressionMatrix, table SurvivalTable) (*Cohort, error) {
	records := make([]SurvivalRecord, len(expression.samples))
	for i, s := range expression.samples {
		rec, ok := table[s]
		if !ok {
			return nil, fmt.Errorf("%w: no survival record for %s", core.ErrSampleNotFound, s)
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("sample %s: %w", s, err)
		}
		records[i] = rec
	}
	return &Cohort{Expression: expression, Survival: records}, nil
}

// Size returns the number of samples
func (c *Cohort) Size() int {
	return len(c.Survival)
}

// Durations returns durations in sample order
func (c *Cohort) Durations() []float64 {
	out := make([]float64, len(c.Survival))
	for i, r := range c.Survival {
		out[i] = r.Duration
	}
	return out
}

// Events returns event indicators in sample order
func (c *Cohort) Events() []bool {
	out := make([]bool, len(c.Survival))
	for i, r := range c.Survival {
		out[i] = r.Event
	}
	return out
}

// Hash fingerprints the cohort by its identifiers
func (c *Cohort) Hash() core.CohortHash {
	features := make([]string, len(c.Expression.features))
	for i, f := range c.Expression.features {
		features[i] = string(f)
	}
	return core.ComputeCohortHash(core.SampleIDStrings(c.Expression.samples), features)
}

// ConsistencyStats summarizes the sample reconciliation between tables
type ConsistencyStats struct {
	ExpressionSamples int             `json:"expression_samples"`
	SurvivalSamples   int             `json:"survival_samples"`
	CommonSamples     int             `json:"common_samples"`
	ExpressionOnly    []core.SampleID `json:"expression_only,omitempty"`
	SurvivalOnly      []core.SampleID `json:"survival_only,omitempty"`
}

// Align intersects the matrix and survival table on sample identifiers.
// Common samples keep the matrix's row order.
func Align(expression *ExpressionMatrix, table SurvivalTable) (*Cohort, ConsistencyStats, error) {
	stats := ConsistencyStats{
		ExpressionSamples: len(expression.samples),
		SurvivalSamples:   len(table),
	}

	common := make([]core.SampleID, 0, len(expression.samples))
	for _, s := range expression.samples {
		if _, ok := table[s]; ok {
			common = append(common, s)
		} else {
			stats.ExpressionOnly = append(stats.ExpressionOnly, s)
		}
	}
	for s := range table {
		if _, ok := expression.rowIndex[s]; !ok {
			stats.SurvivalOnly = append(stats.SurvivalOnly, s)
		}
	}
	sort.Slice(stats.SurvivalOnly, func(i, j int) bool { return stats.SurvivalOnly[i] < stats.SurvivalOnly[j] })
	stats.CommonSamples = len(common)

	aligned, err := expression.SelectSamples(common)
	if err != nil {
		return nil, stats, err
	}
	c, err := NewCohort(aligned, table)
	if err != nil {
		return nil, stats, err
	}
	return c, stats, nil
}
