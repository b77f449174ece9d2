package crossval

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocutoff/domain/cohort"
	"gocutoff/domain/core"
	"gocutoff/internal/errors"
)

func makeSamples(n int) []core.SampleID {
	ids := make([]core.SampleID, n)
	for i := range ids {
		ids[i] = core.SampleID(fmt.Sprintf("S%02d", i))
	}
	return ids
}

func makeRecords(n int) []cohort.SurvivalRecord {
	records := make([]cohort.SurvivalRecord, n)
	for i := range records {
		records[i] = cohort.SurvivalRecord{Duration: float64(i + 1), Event: i%4 != 3}
	}
	return records
}

func TestStratificationLabels(t *testing.T) {
	records := []cohort.SurvivalRecord{
		{Duration: 1, Event: true},
		{Duration: 5, Event: true},
		{Duration: 9, Event: true},
		{Duration: 100, Event: false},
		{Duration: 5, Event: false},
	}

	labels, err := StratificationLabels(records)
	require.NoError(t, err)
	// Event median is 5: censored samples do not move it
	assert.Equal(t, []int{0, 0, 1, 1, 0}, labels)
}

func TestStratificationLabels_NoEvents(t *testing.T) {
	_, err := StratificationLabels([]cohort.SurvivalRecord{{Duration: 3}, {Duration: 4}})
	require.Error(t, err)
	assert.True(t, errors.IsStratificationError(err))
}

func TestSplit_ThreeFoldsTwoRepetitions(t *testing.T) {
	samples := makeSamples(30)
	labels, err := StratificationLabels(makeRecords(30))
	require.NoError(t, err)

	folds, err := NewPartitioner(42).Split(samples, labels, 3, 2)
	require.NoError(t, err)
	require.Len(t, folds, 6)

	for _, f := range folds {
		assert.InDelta(t, 10, f.TestSize, 1, "fold %s", f.ID())
		assert.Equal(t, len(f.Test), f.TestSize)
		assert.Equal(t, len(f.Train), f.TrainSize)
		assert.Equal(t, 30, f.TrainSize+f.TestSize)
	}

	for rep := 0; rep < 2; rep++ {
		seen := make(map[core.SampleID]int)
		for _, f := range folds[rep*3 : rep*3+3] {
			assert.Equal(t, rep, f.Repetition)
			for _, id := range f.Test {
				seen[id]++
			}

			train := make(map[core.SampleID]bool)
			for _, id := range f.Train {
				train[id] = true
			}
			for _, id := range f.Test {
				assert.False(t, train[id], "sample %s in both train and test of %s", id, f.ID())
			}
		}
		assert.Len(t, seen, 30, "repetition %d must cover every sample", rep)
		for id, n := range seen {
			assert.Equal(t, 1, n, "sample %s tested %d times in repetition %d", id, n, rep)
		}
	}
}

func TestSplit_StratifiesLabels(t *testing.T) {
	samples := makeSamples(30)
	labels := make([]int, 30)
	for i := 0; i < 12; i++ {
		labels[i] = 1
	}

	folds, err := NewPartitioner(3).Split(samples, labels, 3, 1)
	require.NoError(t, err)

	labelOf := make(map[core.SampleID]int)
	for i, id := range samples {
		labelOf[id] = labels[i]
	}
	for _, f := range folds {
		positives := 0
		for _, id := range f.Test {
			positives += labelOf[id]
		}
		assert.Equal(t, 4, positives, "fold %s", f.ID())
	}
}

func TestSplit_Deterministic(t *testing.T) {
	samples := makeSamples(30)
	labels, err := StratificationLabels(makeRecords(30))
	require.NoError(t, err)

	a, err := NewPartitioner(7).Split(samples, labels, 3, 2)
	require.NoError(t, err)
	b, err := NewPartitioner(7).Split(samples, labels, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, AssignmentHash(a), AssignmentHash(b))

	c, err := NewPartitioner(8).Split(samples, labels, 3, 2)
	require.NoError(t, err)
	assert.NotEqual(t, AssignmentHash(a), AssignmentHash(c))
}

func TestSplit_IndependentOfInputOrder(t *testing.T) {
	samples := makeSamples(20)
	labels := make([]int, 20)
	for i := range labels {
		labels[i] = i % 2
	}

	revSamples := make([]core.SampleID, 20)
	revLabels := make([]int, 20)
	for i := range samples {
		revSamples[19-i] = samples[i]
		revLabels[19-i] = labels[i]
	}

	a, err := NewPartitioner(1).Split(samples, labels, 4, 1)
	require.NoError(t, err)
	b, err := NewPartitioner(1).Split(revSamples, revLabels, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, AssignmentHash(a), AssignmentHash(b))
}

func TestSplit_StratumSmallerThanFolds(t *testing.T) {
	samples := makeSamples(10)
	labels := []int{0, 0, 0, 0, 0, 0, 0, 0, 1, 1}

	_, err := NewPartitioner(42).Split(samples, labels, 3, 1)
	require.Error(t, err)
	assert.True(t, errors.IsStratificationError(err))
}

func TestSplit_InvalidConfiguration(t *testing.T) {
	samples := makeSamples(10)
	labels := make([]int, 10)

	_, err := NewPartitioner(42).Split(samples, labels, 1, 1)
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))

	_, err = NewPartitioner(42).Split(samples, labels, 2, 0)
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
}

// recordingSource hands out plain seeded streams and remembers the requests
type recordingSource struct {
	names []string
	seeds []int64
}

func (s *recordingSource) Stream(name string, seed int64) *rand.Rand {
	s.names = append(s.names, name)
	s.seeds = append(s.seeds, seed)
	return rand.New(rand.NewSource(seed))
}

func TestSplit_DrawsFromInjectedSource(t *testing.T) {
	samples := makeSamples(30)
	labels, err := StratificationLabels(makeRecords(30))
	require.NoError(t, err)

	src := &recordingSource{}
	p := NewPartitionerWithSource(11, src)
	assert.Equal(t, int64(11), p.Seed())

	first, err := p.Split(samples, labels, 3, 2)
	require.NoError(t, err)
	second, err := p.Split(samples, labels, 3, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{streamName, streamName}, src.names)
	assert.Equal(t, []int64{11, 11}, src.seeds)
	assert.Equal(t, AssignmentHash(first), AssignmentHash(second))
	assert.Len(t, first, 6)
}
