package excel

import (
	"fmt"
	"log"
	"math"

	"github.com/xuri/excelize/v2"

	"gocutoff/adapters/stats/frequency"
	"gocutoff/domain/threshold"
)

const (
	summarySheet    = "Summary"
	candidatesSheet = "Candidates"
	foldsSheet      = "Folds"
	frequencySheet  = "Frequency"
)

// WriteWorkbook exports a finalized run: one summary row per feature, the
// full candidate tables, the fold assignment and optional activation frequencies.
func WriteWorkbook(path string, result *threshold.Result, freqs []frequency.FeatureFrequency) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	summary := [][]interface{}{{
		"feature", "eligible", "skip_reason", "lower_bound", "upper_bound", "nb_candidates",
		"threshold", "percentile", "p_value", "hazard_ratio", "validation_rate",
	}}
	for _, fr := range result.Features {
		row := []interface{}{string(fr.Feature), fr.Eligible, string(fr.SkipReason), nil, nil, len(fr.Candidates),
			nil, nil, nil, nil, nil}
		if fr.Bounds != nil {
			row[3], row[4] = cell(fr.Bounds.Lower), cell(fr.Bounds.Upper)
		}
		if c := fr.Selection.Candidate; fr.Selection.Found && c != nil {
			row[6], row[7], row[10] = c.Value, c.Percentile, c.ValidationRate
			if c.Score != nil {
				row[8], row[9] = cell(c.Score.PValue), cell(c.Score.HazardRatio)
			}
		}
		summary = append(summary, row)
	}
	if err := writeRows(f, summarySheet, summary); err != nil {
		return err
	}

	candidates := [][]interface{}{{
		"feature", "index", "threshold", "percentile", "p_value", "hazard_ratio", "validated",
		"validated_folds", "nb_folds", "validation_rate",
	}}
	for _, fr := range result.Features {
		for _, c := range fr.Candidates {
			row := []interface{}{string(fr.Feature), c.Index, c.Value, c.Percentile, nil, nil, false,
				c.ValidatedFolds(), len(c.FoldScores), c.ValidationRate}
			if c.Score != nil {
				row[4], row[5], row[6] = cell(c.Score.PValue), cell(c.Score.HazardRatio), c.Score.Validated
			}
			candidates = append(candidates, row)
		}
	}
	if err := writeRows(f, candidatesSheet, candidates); err != nil {
		return err
	}

	folds := [][]interface{}{{"repetition", "fold", "sample", "role"}}
	for _, fold := range result.Folds {
		for _, id := range fold.Test {
			folds = append(folds, []interface{}{fold.Repetition, fold.Index, string(id), "test"})
		}
		for _, id := range fold.Train {
			folds = append(folds, []interface{}{fold.Repetition, fold.Index, string(id), "train"})
		}
	}
	if err := writeRows(f, foldsSheet, folds); err != nil {
		return err
	}

	if len(freqs) > 0 {
		rows := [][]interface{}{{"feature", "threshold", "active", "total", "percent"}}
		for _, fq := range freqs {
			rows = append(rows, []interface{}{string(fq.Feature), fq.Threshold, fq.Active, fq.Total, cell(fq.Percent)})
		}
		if err := writeRows(f, frequencySheet, rows); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	log.Printf("[Workbook] Wrote run %s to %s (%d features)", result.RunID, path, len(result.Features))
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
		}
	}
	for i, row := range rows {
		ref, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, ref, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// cell leaves non-finite numbers blank
func cell(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
