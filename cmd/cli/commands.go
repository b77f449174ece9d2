package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gocutoff/adapters/excel"
	"gocutoff/adapters/stats/frequency"
	"gocutoff/app"
	"gocutoff/domain/core"
	"gocutoff/internal/config"
	"gocutoff/internal/container"
	"gocutoff/internal/errors"
	"gocutoff/internal/report"
)

type configLoader func() (*config.Config, error)

func newRunCmd(load configLoader) *cobra.Command {
	var (
		model      string
		seed       int64
		percentile float64
		step       float64
		folds      int
		xlsxPath   string
		reportPath string
		jsonPath   string
		persist    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Select a survival-validated threshold for every feature",
		Long: `Load the expression and clinical tables, align them on sample identifiers,
derive reference thresholds from the normal-tissue table when configured, and
run the threshold engine.

Example: gocutoff run --config cutoff.yaml --model logrank --html run.html --xlsx run.xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("model") {
				cfg.Engine.Model = model
			}
			if flags.Changed("seed") {
				cfg.Engine.Seed = seed
			}
			if flags.Changed("percentile") {
				cfg.Engine.Percentile = &percentile
			}
			if flags.Changed("step") {
				cfg.Engine.StepPercentile = step
			}
			if flags.Changed("folds") {
				cfg.Engine.NbFolds = folds
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if persist && cfg.Database.URL == "" {
				return errors.ConfigInvalid("--persist needs DATABASE_URL")
			}
			if !persist {
				cfg.Database.URL = ""
			}
			return runThresholds(cmd.Context(), cmd.OutOrStdout(), cfg, outputs{xlsx: xlsxPath, report: reportPath, json: jsonPath})
		},
	}

	cmd.Flags().StringVar(&model, "model", "cox", "Survival model (cox or logrank)")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Random seed for fold assignment")
	cmd.Flags().Float64Var(&percentile, "percentile", 20, "Lower percentile bound; the upper bound defaults to 100 minus it")
	cmd.Flags().Float64Var(&step, "step", 1, "Percentile step of the candidate grid")
	cmd.Flags().IntVar(&folds, "folds", 3, "Number of cross-validation folds")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Write the result workbook to this path")
	cmd.Flags().StringVar(&reportPath, "html", "", "Write a report to this path (.html, otherwise Markdown)")
	cmd.Flags().StringVar(&jsonPath, "json", "", "Write the full run as JSON to this path")
	cmd.Flags().BoolVar(&persist, "persist", false, "Store the run in PostgreSQL")

	return cmd
}

type outputs struct {
	xlsx   string
	report string
	json   string
}

func runThresholds(ctx context.Context, out io.Writer, cfg *config.Config, o outputs) error {
	c, err := container.New(cfg)
	if err != nil {
		return err
	}
	defer c.Shutdown(context.Background())

	if err := c.OpenDatabase(ctx); err != nil {
		return err
	}
	if err := c.LoadDataset(); err != nil {
		return err
	}

	start := time.Now()
	record, err := c.Services().Execute(ctx, c.Dataset, cfg.Engine.Model, cfg.EngineOptions())
	if err != nil {
		return err
	}

	printSummary(out, record)
	fmt.Fprintf(out, "\nRun %s finished in %s\n", record.Result.RunID, time.Since(start).Round(time.Millisecond))

	if o.xlsx != "" {
		if err := excel.WriteWorkbook(o.xlsx, record.Result, record.Frequencies); err != nil {
			return err
		}
		fmt.Fprintf(out, "Workbook written to %s\n", o.xlsx)
	}
	if o.report != "" {
		in := report.Input{Result: record.Result, Model: record.Model, Consistency: record.Consistency, Frequencies: record.Frequencies}
		if err := report.WriteFile(o.report, in); err != nil {
			return err
		}
		fmt.Fprintf(out, "Report written to %s\n", o.report)
	}
	if o.json != "" {
		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode run: %w", err)
		}
		if err := os.WriteFile(o.json, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", o.json, err)
		}
		fmt.Fprintf(out, "Run written to %s\n", o.json)
	}
	return nil
}

func printSummary(out io.Writer, record *app.RunRecord) {
	res := record.Result
	fmt.Fprintf(out, "Model: %s  Policy: %s  Seed: %d\n", record.Model, res.Options.Policy, res.Seed)
	fmt.Fprintf(out, "Thresholds found: %d of %d features\n\n", res.SelectedCount(), len(res.Features))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FEATURE\tSTATUS\tTHRESHOLD\tPERCENTILE\tP-VALUE\tHR\tRATE")
	for _, f := range res.Features {
		switch {
		case f.SkipReason != "":
			fmt.Fprintf(tw, "%s\tskipped (%s)\t\t\t\t\t\n", f.Feature, f.SkipReason)
		case f.Selection.Found:
			cand := f.Selection.Candidate
			p, hr := math.NaN(), math.NaN()
			if cand.Score != nil {
				p, hr = cand.Score.PValue, cand.Score.HazardRatio
			}
			fmt.Fprintf(tw, "%s\tselected\t%.4g\t%.4g\t%.3g\t%.3g\t%.2f\n",
				f.Feature, cand.Value, cand.Percentile, p, hr, cand.ValidationRate)
		default:
			fmt.Fprintf(tw, "%s\tno threshold\t\t\t\t\t\n", f.Feature)
		}
	}
	tw.Flush()
}

func newFrequencyCmd(load configLoader) *cobra.Command {
	var (
		runPath    string
		thresholds []string
	)

	cmd := &cobra.Command{
		Use:   "frequency",
		Short: "Share of samples expressing each feature at or above its threshold",
		Long: `Compute activation frequencies on the configured expression table, using either
the selected thresholds of a run written with "run --json" or explicit
FEATURE=VALUE pairs.

Example: gocutoff frequency --run run.json
         gocutoff frequency --threshold TP53=4.2 --threshold EGFR=1.5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			cuts, err := collectThresholds(runPath, thresholds)
			if err != nil {
				return err
			}
			m, err := excel.LoadExpression(cfg.Data.ExpressionFile, cfg.Data.Sheet, cfg.Data.SampleCol)
			if err != nil {
				return err
			}
			printFrequencies(cmd.OutOrStdout(), frequency.Compute(m, cuts))
			return nil
		},
	}

	cmd.Flags().StringVar(&runPath, "run", "", "Run JSON written by the run command")
	cmd.Flags().StringArrayVar(&thresholds, "threshold", nil, "FEATURE=VALUE threshold, repeatable")
	return cmd
}

func collectThresholds(runPath string, pairs []string) (map[core.FeatureKey]float64, error) {
	cuts := make(map[core.FeatureKey]float64)
	if runPath != "" {
		data, err := os.ReadFile(runPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", runPath, err)
		}
		var record app.RunRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("%s is not a run file: %v", runPath, err))
		}
		if record.Result == nil {
			return nil, errors.InvalidInput(fmt.Sprintf("%s holds no result", runPath))
		}
		cuts = frequency.SelectedThresholds(record.Result)
	}
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.InvalidInput(fmt.Sprintf("threshold %q must be FEATURE=VALUE", pair))
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("threshold %q: %v", pair, err))
		}
		key, err := core.ParseFeatureKey(name)
		if err != nil {
			return nil, errors.InvalidInput(err.Error())
		}
		cuts[key] = v
	}
	if len(cuts) == 0 {
		return nil, errors.InvalidInput("no thresholds given: use --run or --threshold")
	}
	return cuts, nil
}

func printFrequencies(out io.Writer, freqs []frequency.FeatureFrequency) {
	sort.SliceStable(freqs, func(i, j int) bool { return freqs[i].Percent > freqs[j].Percent })
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FEATURE\tTHRESHOLD\tACTIVE\tTOTAL\tPERCENT")
	for _, f := range freqs {
		fmt.Fprintf(tw, "%s\t%.4g\t%d\t%d\t%.1f\n", f.Feature, f.Threshold, f.Active, f.Total, f.Percent)
	}
	tw.Flush()
}

func newConsistencyCmd(load configLoader) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "consistency",
		Short: "Compare sample identifiers of the expression and clinical tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ds, err := app.LoadDataset(cfg.Data, cfg.Engine)
			if err != nil {
				return err
			}
			s := ds.Consistency
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Expression samples: %d\n", s.ExpressionSamples)
			fmt.Fprintf(out, "Survival samples:   %d\n", s.SurvivalSamples)
			fmt.Fprintf(out, "Common samples:     %d\n", s.CommonSamples)
			fmt.Fprintf(out, "Expression only:    %d\n", len(s.ExpressionOnly))
			fmt.Fprintf(out, "Survival only:      %d\n", len(s.SurvivalOnly))
			if verbose {
				for _, id := range s.ExpressionOnly {
					fmt.Fprintf(out, "  expression only: %s\n", id)
				}
				for _, id := range s.SurvivalOnly {
					fmt.Fprintf(out, "  survival only:   %s\n", id)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List unmatched sample identifiers")
	return cmd
}

func newMigrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the run storage schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.ConfigInvalid("DATABASE_URL is required")
			}
			c, err := container.New(cfg)
			if err != nil {
				return err
			}
			defer c.Shutdown(context.Background())
			if err := c.OpenDatabase(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
}
