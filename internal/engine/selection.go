package engine

import (
	"math"

	"github.com/montanaflynn/stats"

	"gocutoff/adapters/stats/grid"
	"gocutoff/domain/threshold"
)

// qualifies applies the selection policy's admission rule
func qualifies(c threshold.CandidateThreshold, policy threshold.SelectionPolicy) bool {
	switch policy {
	case threshold.PolicyMajority:
		return c.ValidationRate > 0.5
	case threshold.PolicyFullFit:
		return c.Scored() && c.Score.Validated
	default:
		return c.ValidationRate > 0
	}
}

// selectCandidate picks the best admitted candidate: highest validation
// rate, then smallest full-cohort p-value, then nearest the grid median,
// then the smallest value. No admitted candidate means none is selected.
func selectCandidate(candidates []threshold.CandidateThreshold, policy threshold.SelectionPolicy) threshold.Selection {
	if len(candidates) == 0 {
		return threshold.Selection{}
	}
	median, err := stats.Median(grid.Values(candidates))
	if err != nil {
		median = math.NaN()
	}

	best := -1
	for i := range candidates {
		if !qualifies(candidates[i], policy) {
			continue
		}
		if best < 0 || better(candidates[i], candidates[best], median) {
			best = i
		}
	}
	if best < 0 {
		return threshold.Selection{}
	}

	chosen := copyCandidate(candidates[best])
	return threshold.Selection{Found: true, Candidate: &chosen}
}

func better(a, b threshold.CandidateThreshold, median float64) bool {
	if a.ValidationRate != b.ValidationRate {
		return a.ValidationRate > b.ValidationRate
	}
	pa, pb := fullPValue(a), fullPValue(b)
	if pa != pb {
		return pa < pb
	}
	da, db := math.Abs(a.Value-median), math.Abs(b.Value-median)
	if da != db && !math.IsNaN(da) && !math.IsNaN(db) {
		return da < db
	}
	return a.Value < b.Value
}

// fullPValue treats a missing or failed full-cohort fit as the worst p-value
func fullPValue(c threshold.CandidateThreshold) float64 {
	if !c.Scored() || math.IsNaN(c.Score.PValue) {
		return math.Inf(1)
	}
	return c.Score.PValue
}
