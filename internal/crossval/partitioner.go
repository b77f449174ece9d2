package crossval

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"

	"github.com/montanaflynn/stats"

	"gocutoff/domain/cohort"
	"gocutoff/domain/core"
	"gocutoff/domain/threshold"
	"gocutoff/internal/errors"
	"gocutoff/ports"
)

const streamName = "crossval"

// SeededSource builds independent deterministic streams from a seed and a name
type SeededSource struct{}

var _ ports.RNGSource = SeededSource{}

// Stream creates a generator whose sequence depends only on name and seed
func (SeededSource) Stream(name string, seed int64) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(name))
	return rand.New(rand.NewSource(seed ^ int64(h.Sum64())))
}

// StratificationLabels binarizes follow-up around the median duration of
// samples that experienced the event: duration <= median is 0, otherwise 1.
func StratificationLabels(records []cohort.SurvivalRecord) ([]int, error) {
	var eventDurations []float64
	for _, r := range records {
		if r.Event {
			eventDurations = append(eventDurations, r.Duration)
		}
	}
	if len(eventDurations) == 0 {
		return nil, errors.StratificationError("no samples with an event, cannot compute the event median")
	}

	median, err := stats.Median(eventDurations)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute event median")
	}

	labels := make([]int, len(records))
	for i, r := range records {
		if r.Duration > median {
			labels[i] = 1
		}
	}
	return labels, nil
}

// Partitioner produces repeated stratified k-fold splits from an injected seed
type Partitioner struct {
	seed   int64
	source ports.RNGSource
}

// NewPartitioner creates a partitioner seeded for reproducibility
func NewPartitioner(seed int64) *Partitioner {
	return &Partitioner{seed: seed, source: SeededSource{}}
}

// NewPartitionerWithSource creates a partitioner drawing from a custom source
func NewPartitionerWithSource(seed int64, source ports.RNGSource) *Partitioner {
	return &Partitioner{seed: seed, source: source}
}

// Seed returns the partitioner seed
func (p *Partitioner) Seed() int64 {
	return p.seed
}

// Split assigns every sample to exactly one test fold per repetition.
// Folds are returned repetition-major; train sets are the complement of test.
func (p *Partitioner) Split(samples []core.SampleID, labels []int, nbFolds, nbRepetitions int) ([]threshold.Fold, error) {
	if nbFolds < 2 {
		return nil, errors.ConfigurationError(fmt.Sprintf("nb_folds must be at least 2, got %d", nbFolds))
	}
	if nbRepetitions < 1 {
		return nil, errors.ConfigurationError(fmt.Sprintf("nb_cross_validations must be at least 1, got %d", nbRepetitions))
	}
	if len(samples) != len(labels) {
		return nil, errors.InvalidInput(fmt.Sprintf("%d samples but %d labels", len(samples), len(labels)))
	}

	strata := groupByStrata(samples, labels)
	for _, s := range strata {
		if len(s.members) < nbFolds {
			return nil, errors.StratificationError(fmt.Sprintf(
				"stratum %d has %d samples, fewer than nb_folds=%d", s.label, len(s.members), nbFolds))
		}
	}

	rng := p.source.Stream(streamName, p.seed)
	folds := make([]threshold.Fold, 0, nbFolds*nbRepetitions)

	for rep := 0; rep < nbRepetitions; rep++ {
		tests := make([][]core.SampleID, nbFolds)
		next := 0
		for _, s := range strata {
			shuffled := make([]core.SampleID, len(s.members))
			copy(shuffled, s.members)
			rng.Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			for _, id := range shuffled {
				tests[next] = append(tests[next], id)
				next = (next + 1) % nbFolds
			}
		}

		for k, test := range tests {
			folds = append(folds, buildFold(rep, k, samples, test))
		}
	}

	return folds, nil
}

// AssignmentHash fingerprints the fold assignment
func AssignmentHash(folds []threshold.Fold) core.AssignmentHash {
	groups := make([][]string, 0, len(folds))
	for _, f := range folds {
		groups = append(groups, append([]string{f.ID()}, core.SampleIDStrings(f.Test)...))
	}
	return core.ComputeAssignmentHash(groups)
}

type stratum struct {
	label   int
	members []core.SampleID
}

// groupByStrata groups samples by label, ordering both strata and members
// so the assignment does not depend on input order.
func groupByStrata(samples []core.SampleID, labels []int) []stratum {
	byLabel := make(map[int][]core.SampleID)
	for i, id := range samples {
		byLabel[labels[i]] = append(byLabel[labels[i]], id)
	}

	strata := make([]stratum, 0, len(byLabel))
	for label, members := range byLabel {
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		strata = append(strata, stratum{label: label, members: members})
	}
	sort.Slice(strata, func(i, j int) bool { return strata[i].label < strata[j].label })
	return strata
}

func buildFold(rep, index int, samples, test []core.SampleID) threshold.Fold {
	inTest := make(map[core.SampleID]bool, len(test))
	for _, id := range test {
		inTest[id] = true
	}
	train := make([]core.SampleID, 0, len(samples)-len(test))
	for _, id := range samples {
		if !inTest[id] {
			train = append(train, id)
		}
	}

	sortedTest := make([]core.SampleID, len(test))
	copy(sortedTest, test)
	sort.Slice(sortedTest, func(i, j int) bool { return sortedTest[i] < sortedTest[j] })
	sort.Slice(train, func(i, j int) bool { return train[i] < train[j] })

	return threshold.Fold{
		Repetition: rep,
		Index:      index,
		Train:      train,
		Test:       sortedTest,
		TrainSize:  len(train),
		TestSize:   len(sortedTest),
	}
}
