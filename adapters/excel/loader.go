package excel

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"gocutoff/domain/cohort"
	"gocutoff/domain/core"
	"gocutoff/internal/errors"
)

// LoadExpression reads a samples-by-features table. Every column other than
// the sample column is a feature; every cell must be numeric.
func LoadExpression(path, sheet, sampleCol string) (*cohort.ExpressionMatrix, error) {
	reader := NewDataReader(path, sheet)
	data, err := reader.ReadData()
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}

	if sampleCol == "" {
		if sampleCol, err = reader.DetectSampleColumn(data); err != nil {
			return nil, errors.WithCode(errors.CodeInvalidInput, err)
		}
	} else if !hasHeader(data, sampleCol) {
		return nil, errors.InvalidInput(fmt.Sprintf("sample column %q not found in %s", sampleCol, path))
	}

	var features []core.FeatureKey
	for _, h := range data.Headers {
		if h != sampleCol {
			features = append(features, core.FeatureKey(h))
		}
	}

	samples := make([]core.SampleID, len(data.Rows))
	values := make([][]float64, len(data.Rows))
	for i, row := range data.Rows {
		samples[i] = core.SampleID(row[sampleCol])
		values[i] = make([]float64, len(features))
		for j, f := range features {
			v, err := parseNumber(row[string(f)])
			if err != nil {
				return nil, errors.InvalidInput(fmt.Sprintf("sample %s feature %s: %v", samples[i], f, err))
			}
			values[i][j] = v
		}
	}

	m, err := cohort.NewExpressionMatrix(samples, features, values)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	log.Printf("[Loader] Expression matrix %s: %d samples x %d features", path, len(samples), len(features))
	return m, nil
}

// LoadClinical reads the survival fields of a clinical table. Rows with a
// missing or malformed duration or event are dropped and counted.
func LoadClinical(path, sheet string, cols ClinicalColumns) (cohort.SurvivalTable, error) {
	reader := NewDataReader(path, sheet)
	data, err := reader.ReadData()
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}

	sampleCol := cols.Sample
	if sampleCol == "" {
		if sampleCol, err = reader.DetectSampleColumn(data); err != nil {
			return nil, errors.WithCode(errors.CodeInvalidInput, err)
		}
	}
	for _, c := range []string{sampleCol, cols.Duration, cols.Event} {
		if !hasHeader(data, c) {
			return nil, errors.InvalidInput(fmt.Sprintf("column %q not found in %s", c, path))
		}
	}

	table := make(cohort.SurvivalTable, len(data.Rows))
	dropped := 0
	for _, row := range data.Rows {
		id := core.SampleID(row[sampleCol])
		if id == "" {
			dropped++
			continue
		}
		if _, dup := table[id]; dup {
			return nil, errors.InvalidInput(fmt.Sprintf("duplicate sample %s in %s", id, path))
		}
		duration, err := parseNumber(row[cols.Duration])
		if err != nil {
			dropped++
			continue
		}
		event, err := ParseEvent(row[cols.Event])
		if err != nil {
			dropped++
			continue
		}
		rec := cohort.SurvivalRecord{Duration: duration, Event: event}
		if rec.Validate() != nil {
			dropped++
			continue
		}
		table[id] = rec
	}

	if dropped > 0 {
		log.Printf("[Loader] Dropped %d clinical rows with missing or invalid survival fields", dropped)
	}
	if len(table) == 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("no usable survival records in %s", path))
	}
	log.Printf("[Loader] Clinical table %s: %d samples", path, len(table))
	return table, nil
}

// ParseEvent accepts 1/0, true/false, yes/no and dead/alive
func ParseEvent(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "1.0", "true", "yes", "dead", "deceased":
		return true, nil
	case "0", "0.0", "false", "no", "alive", "living", "censored":
		return false, nil
	}
	return false, fmt.Errorf("unrecognized event value %q", s)
}

func parseNumber(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "", "na", "nan", "null":
		return 0, fmt.Errorf("missing value")
	}
	return strconv.ParseFloat(s, 64)
}

func hasHeader(data *ExcelData, name string) bool {
	for _, h := range data.Headers {
		if h == name {
			return true
		}
	}
	return false
}
