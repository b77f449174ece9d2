package report

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"gocutoff/adapters/stats/frequency"
	"gocutoff/domain/cohort"
	"gocutoff/domain/threshold"
)

// Input gathers everything a run report can show. Only Result is required.
type Input struct {
	Result      *threshold.Result
	Model       string
	Consistency *cohort.ConsistencyStats
	Frequencies []frequency.FeatureFrequency
}

// Markdown renders the run as a Markdown document
func Markdown(in Input) []byte {
	var b bytes.Buffer
	r := in.Result

	fmt.Fprintf(&b, "# Threshold run %s\n\n", r.RunID)
	fmt.Fprintf(&b, "- Created: %s\n", r.CreatedAt)
	if in.Model != "" {
		fmt.Fprintf(&b, "- Survival model: %s\n", in.Model)
	}
	fmt.Fprintf(&b, "- Selection policy: %s\n", r.Options.Policy)
	fmt.Fprintf(&b, "- Folds: %d x %d (seed %d)\n", r.Options.NbCrossValidations, r.Options.NbFolds, r.Seed)
	fmt.Fprintf(&b, "- Cohort hash: `%s`\n", r.CohortHash)
	fmt.Fprintf(&b, "- Assignment hash: `%s`\n", r.AssignmentHash)
	fmt.Fprintf(&b, "- Features with a threshold: %d of %d\n\n", r.SelectedCount(), len(r.Features))

	if c := in.Consistency; c != nil {
		b.WriteString("## Data consistency\n\n")
		b.WriteString("| expression samples | survival samples | common | expression only | survival only |\n")
		b.WriteString("|---:|---:|---:|---:|---:|\n")
		fmt.Fprintf(&b, "| %d | %d | %d | %d | %d |\n\n",
			c.ExpressionSamples, c.SurvivalSamples, c.CommonSamples, len(c.ExpressionOnly), len(c.SurvivalOnly))
	}

	b.WriteString("## Selected thresholds\n\n")
	b.WriteString("| feature | status | lower | upper | threshold | percentile | p-value | HR | validation rate |\n")
	b.WriteString("|---|---|---:|---:|---:|---:|---:|---:|---:|\n")
	for _, f := range r.Features {
		lower, upper := "", ""
		if f.Bounds != nil {
			lower, upper = num(f.Bounds.Lower), num(f.Bounds.Upper)
		}
		status := "no threshold found"
		thr, pct, p, hr, rate := "", "", "", "", ""
		switch {
		case f.SkipReason != threshold.SkipNone:
			status = "skipped: " + string(f.SkipReason)
		case f.Selection.Found:
			c := f.Selection.Candidate
			status = "selected"
			thr, pct, rate = num(c.Value), num(c.Percentile), fmt.Sprintf("%.2f", c.ValidationRate)
			if c.Score != nil {
				p, hr = num(c.Score.PValue), num(c.Score.HazardRatio)
			}
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s | %s |\n",
			escape(string(f.Feature)), status, lower, upper, thr, pct, p, hr, rate)
	}
	b.WriteString("\n")

	if len(in.Frequencies) > 0 {
		b.WriteString("## Activation frequency\n\n")
		b.WriteString("| feature | threshold | active | total | percent |\n")
		b.WriteString("|---|---:|---:|---:|---:|\n")
		for _, fq := range in.Frequencies {
			fmt.Fprintf(&b, "| %s | %s | %d | %d | %s |\n",
				escape(string(fq.Feature)), num(fq.Threshold), fq.Active, fq.Total, num(fq.Percent))
		}
		b.WriteString("\n")
	}

	var skipped []threshold.FeatureResult
	for _, f := range r.Features {
		if f.SkipReason != threshold.SkipNone {
			skipped = append(skipped, f)
		}
	}
	if len(skipped) > 0 {
		b.WriteString("## Skipped features\n\n")
		for _, f := range skipped {
			fmt.Fprintf(&b, "- **%s**: %s", escape(string(f.Feature)), f.SkipReason)
			if f.SkipDetail != "" {
				fmt.Fprintf(&b, " (%s)", f.SkipDetail)
			}
			b.WriteString("\n")
		}
	}
	return b.Bytes()
}

// HTML renders the Markdown report as a standalone HTML page
func HTML(in Input) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse(Markdown(in))

	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: fmt.Sprintf("Threshold run %s", in.Result.RunID),
	})
	return markdown.Render(doc, renderer)
}

// WriteFile writes the report, as HTML when the path ends in .html and Markdown otherwise
func WriteFile(path string, in Input) error {
	data := Markdown(in)
	if strings.HasSuffix(strings.ToLower(path), ".html") {
		data = HTML(in)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}

func num(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "NA"
	}
	return fmt.Sprintf("%.4g", v)
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
