package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gocutoff/domain/core"
	"gocutoff/domain/threshold"
	"gocutoff/internal/config"
	"gocutoff/internal/errors"
	"gocutoff/ports"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) SaveRun(ctx context.Context, result *threshold.Result, model string) error {
	return m.Called(ctx, result, model).Error(0)
}

func (m *mockRepo) GetRun(ctx context.Context, id core.RunID) (*threshold.Result, error) {
	args := m.Called(ctx, id)
	if r, ok := args.Get(0).(*threshold.Result); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRepo) ListRuns(ctx context.Context, limit, offset int) ([]ports.RunSummary, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]ports.RunSummary), args.Error(1)
}

// writeCohort writes expression, clinical and normal tables for n samples.
// RISK rises as survival shortens; two extra clinical rows have no expression.
func writeCohort(t *testing.T, n int) config.DataConfig {
	t.Helper()
	dir := t.TempDir()

	var expr, clin, normal strings.Builder
	expr.WriteString("sample,RISK,FLAT\n")
	clin.WriteString("sample,time,event\n")
	normal.WriteString("sample,RISK,FLAT\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&expr, "P%03d,%d,1\n", i, i)
		event := 0
		if i%5 != 0 {
			event = 1
		}
		fmt.Fprintf(&clin, "P%03d,%d,%d\n", i, n-i, event)
	}
	clin.WriteString("X001,10,1\nX002,11,0\n")
	normal.WriteString("N1,3,1\nN2,5,1\n")

	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}
	return config.DataConfig{
		ExpressionFile: write("expression.csv", expr.String()),
		ClinicalFile:   write("clinical.csv", clin.String()),
		NormalFile:     write("normal.csv", normal.String()),
		DurationCol:    "time",
		EventCol:       "event",
	}
}

func testOptions() threshold.Options {
	return threshold.Options{
		LowerPercentile: threshold.Float(20),
		StepPercentile:  5,
		NbFolds:         3,
		Seed:            42,
		Workers:         2,
	}
}

func TestLoadDataset(t *testing.T) {
	data := writeCohort(t, 30)
	eng := config.Default().Engine
	eng.ReferenceMethod = "max"

	ds, err := LoadDataset(data, eng)
	require.NoError(t, err)
	assert.Equal(t, 30, ds.Cohort.Size())
	assert.Equal(t, 30, ds.Consistency.CommonSamples)
	assert.Equal(t, []core.SampleID{"X001", "X002"}, ds.Consistency.SurvivalOnly)
	assert.Equal(t, 5.0, ds.References["RISK"])
	assert.Equal(t, 1.0, ds.References["FLAT"])
}

func TestLoadDataset_MissingFiles(t *testing.T) {
	_, err := LoadDataset(config.DataConfig{}, config.Default().Engine)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestLoadDataset_UnknownReferenceMethod(t *testing.T) {
	eng := config.Default().Engine
	eng.ReferenceMethod = "median"
	_, err := LoadDataset(writeCohort(t, 10), eng)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestExecute_StoresRunAndFrequencies(t *testing.T) {
	data := writeCohort(t, 60)
	data.NormalFile = ""
	ds, err := LoadDataset(data, config.Default().Engine)
	require.NoError(t, err)

	svc := NewThresholdService(nil)
	record, err := svc.Execute(context.Background(), ds, "logrank", testOptions())
	require.NoError(t, err)
	assert.Equal(t, "logrank", record.Model)
	assert.Equal(t, 60, record.Consistency.CommonSamples)

	risk, ok := record.Result.Feature("RISK")
	require.True(t, ok)
	require.True(t, risk.Selection.Found)
	require.Len(t, record.Frequencies, 1)
	assert.Equal(t, core.FeatureKey("RISK"), record.Frequencies[0].Feature)
	assert.Equal(t, 60, record.Frequencies[0].Total)

	got, err := svc.Get(context.Background(), record.Result.RunID)
	require.NoError(t, err)
	assert.Same(t, record, got)

	runs, err := svc.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, record.Result.RunID, runs[0].RunID)
	assert.Equal(t, 1, runs[0].SelectedCount)
}

func TestExecute_ReferenceFromNormalTissueIsLowerBound(t *testing.T) {
	data := writeCohort(t, 60)
	eng := config.Default().Engine
	eng.ReferenceMethod = "max"
	ds, err := LoadDataset(data, eng)
	require.NoError(t, err)

	opts := testOptions()
	opts.LowerPercentile = nil
	opts.UpperPercentile = threshold.Float(80)

	record, err := NewThresholdService(nil).Execute(context.Background(), ds, "logrank", opts)
	require.NoError(t, err)
	risk, ok := record.Result.Feature("RISK")
	require.True(t, ok)
	require.NotNil(t, risk.Bounds)
	assert.Equal(t, 5.0, risk.Bounds.Lower)
}

func TestExecute_UnknownModel(t *testing.T) {
	data := writeCohort(t, 10)
	data.NormalFile = ""
	ds, err := LoadDataset(data, config.Default().Engine)
	require.NoError(t, err)

	_, err = NewThresholdService(nil).Execute(context.Background(), ds, "weibull", testOptions())
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestExecute_PersistsThroughRepository(t *testing.T) {
	data := writeCohort(t, 30)
	data.NormalFile = ""
	ds, err := LoadDataset(data, config.Default().Engine)
	require.NoError(t, err)

	repo := &mockRepo{}
	repo.On("SaveRun", mock.Anything, mock.AnythingOfType("*threshold.Result"), "logrank").Return(nil)

	_, err = NewThresholdService(repo).Execute(context.Background(), ds, "logrank", testOptions())
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestGet_FallsBackToRepository(t *testing.T) {
	repo := &mockRepo{}
	stored := &threshold.Result{RunID: "r-1"}
	repo.On("GetRun", mock.Anything, core.RunID("r-1")).Return(stored, nil)
	repo.On("GetRun", mock.Anything, core.RunID("r-2")).Return(nil, core.NewNotFoundError("run", "r-2"))

	svc := NewThresholdService(repo)
	record, err := svc.Get(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Same(t, stored, record.Result)

	_, err = svc.Get(context.Background(), "r-2")
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}

func TestGet_UnknownWithoutRepository(t *testing.T) {
	_, err := NewThresholdService(nil).Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}
