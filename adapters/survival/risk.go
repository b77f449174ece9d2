package survival

import (
	"fmt"
	"math"
	"sort"

	"gocutoff/internal/errors"
)

// riskStep aggregates one distinct event time: at-risk counts and events per group
type riskStep struct {
	n0, n1 float64
	d0, d1 float64
}

func (s riskStep) n() float64 { return s.n0 + s.n1 }
func (s riskStep) d() float64 { return s.d0 + s.d1 }

// riskTable is the sufficient statistic of a two-group survival comparison
type riskTable struct {
	steps      []riskStep
	size0      int
	size1      int
	events0    float64
	events1    float64
	totalCount int
}

// buildRiskTable validates inputs and collapses them into per-event-time counts.
// At-risk at time t means duration >= t.
func buildRiskTable(groups, durations []float64, events []bool) (*riskTable, error) {
	n := len(groups)
	if len(durations) != n || len(events) != n {
		return nil, errors.InvalidInput(fmt.Sprintf(
			"length mismatch: %d groups, %d durations, %d events", n, len(durations), len(events)))
	}

	rt := &riskTable{totalCount: n}
	for i, g := range groups {
		switch g {
		case 0:
			rt.size0++
		case 1:
			rt.size1++
		default:
			return nil, errors.InvalidInput(fmt.Sprintf("group label %v at position %d is not 0 or 1", g, i))
		}
		if durations[i] < 0 || math.IsNaN(durations[i]) {
			return nil, errors.InvalidInput(fmt.Sprintf("invalid duration %v at position %d", durations[i], i))
		}
	}
	if rt.size0 == 0 || rt.size1 == 0 {
		return nil, errors.ModelFitError(
			fmt.Sprintf("one group is empty (group0=%d, group1=%d)", rt.size0, rt.size1), nil)
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return durations[idx[a]] < durations[idx[b]] })

	var removed0, removed1 float64
	for i := 0; i < n; {
		t := durations[idx[i]]
		var c0, c1, d0, d1 float64
		j := i
		for ; j < n && durations[idx[j]] == t; j++ {
			k := idx[j]
			if groups[k] == 1 {
				c1++
				if events[k] {
					d1++
				}
			} else {
				c0++
				if events[k] {
					d0++
				}
			}
		}
		if d0+d1 > 0 {
			rt.steps = append(rt.steps, riskStep{
				n0: float64(rt.size0) - removed0,
				n1: float64(rt.size1) - removed1,
				d0: d0,
				d1: d1,
			})
		}
		rt.events0 += d0
		rt.events1 += d1
		removed0 += c0
		removed1 += c1
		i = j
	}

	if len(rt.steps) == 0 {
		return nil, errors.ModelFitError("no events observed", nil)
	}
	return rt, nil
}
