package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocutoff/domain/core"
	"gocutoff/internal/errors"
)

// writeConfig writes a 60-sample cohort and a config file pointing at it
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()

	var expr, clin strings.Builder
	expr.WriteString("sample,RISK,FLAT\n")
	clin.WriteString("sample,time,event\n")
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&expr, "P%03d,%d,1\n", i, i)
		event := 1
		if i%5 == 0 {
			event = 0
		}
		fmt.Fprintf(&clin, "P%03d,%d,%d\n", i, 60-i, event)
	}
	clin.WriteString("LOST,3,1\n")

	exprPath := filepath.Join(dir, "expression.csv")
	clinPath := filepath.Join(dir, "clinical.csv")
	require.NoError(t, os.WriteFile(exprPath, []byte(expr.String()), 0o644))
	require.NoError(t, os.WriteFile(clinPath, []byte(clin.String()), 0o644))

	cfg := fmt.Sprintf("engine:\n  step_percentile: 5\n  workers: 2\n  model: logrank\ndata:\n  expression_file: %s\n  clinical_file: %s\n", exprPath, clinPath)
	cfgPath := filepath.Join(dir, "cutoff.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return dir, cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunCommand_WritesOutputs(t *testing.T) {
	dir, cfgPath := writeConfig(t)
	jsonPath := filepath.Join(dir, "run.json")
	htmlPath := filepath.Join(dir, "run.html")
	xlsxPath := filepath.Join(dir, "run.xlsx")

	out, err := execute(t, "run", "--config", cfgPath, "--percentile", "20",
		"--json", jsonPath, "--html", htmlPath, "--xlsx", xlsxPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Thresholds found: 1 of 2 features")
	assert.Contains(t, out, "RISK")
	for _, p := range []string{jsonPath, htmlPath, xlsxPath} {
		assert.FileExists(t, p)
	}

	out, err = execute(t, "frequency", "--config", cfgPath, "--run", jsonPath)
	require.NoError(t, err)
	assert.Contains(t, out, "RISK")
	assert.NotContains(t, out, "FLAT")
}

func TestRunCommand_NeedsBoundSource(t *testing.T) {
	_, cfgPath := writeConfig(t)
	_, err := execute(t, "run", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestRunCommand_PersistNeedsDatabase(t *testing.T) {
	_, cfgPath := writeConfig(t)
	_, err := execute(t, "run", "--config", cfgPath, "--percentile", "20", "--persist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestConsistencyCommand(t *testing.T) {
	_, cfgPath := writeConfig(t)
	out, err := execute(t, "consistency", "--config", cfgPath, "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "Common samples:     60")
	assert.Contains(t, out, "survival only:   LOST")
}

func TestFrequencyCommand_ExplicitThresholds(t *testing.T) {
	_, cfgPath := writeConfig(t)
	out, err := execute(t, "frequency", "--config", cfgPath, "--threshold", "RISK=30", "--threshold", "FLAT=2")
	require.NoError(t, err)
	assert.Regexp(t, `RISK\s+30\s+30\s+60\s+50\.0`, out)
	assert.Regexp(t, `FLAT\s+2\s+0\s+60\s+0\.0`, out)
}

func TestCollectThresholds(t *testing.T) {
	cuts, err := collectThresholds("", []string{"TP53=4.5", " EGFR = 1"})
	require.NoError(t, err)
	assert.Equal(t, map[core.FeatureKey]float64{"TP53": 4.5, "EGFR": 1}, cuts)

	for _, bad := range [][]string{nil, {"TP53"}, {"TP53=high"}, {"=1"}} {
		_, err := collectThresholds("", bad)
		require.Error(t, err, "%v", bad)
		assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
	}
}
