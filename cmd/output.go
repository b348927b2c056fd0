package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/wata-gh/prdash/internal/domain"
)

// Color variables for the merge ratio column.
var (
	highRatioColor = color.New(color.FgGreen)
	midRatioColor  = color.New(color.FgYellow)
	lowRatioColor  = color.New(color.FgRed)
	zeroRatioColor = color.New(color.FgCyan)
)

// formatRatio renders a merge ratio as a colored percentage. Users who
// created no PRs get a neutral color instead of a red zero.
func formatRatio(s domain.UserSummary) string {
	text := fmt.Sprintf("%.1f%%", s.MergeRatio*100)
	if s.PRsCreated == 0 {
		return zeroRatioColor.Sprint(text)
	}
	switch {
	case s.MergeRatio >= 0.75:
		return highRatioColor.Sprint(text)
	case s.MergeRatio >= 0.4:
		return midRatioColor.Sprint(text)
	default:
		return lowRatioColor.Sprint(text)
	}
}

// printSummaryTable renders the per-user summaries and the org totals.
func printSummaryTable(w io.Writer, result *domain.AnalysisResult) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"User", "PRs Created", "PRs Merged", "Merge Ratio", "Reviews", "Additions", "Deletions"})

	var data [][]string
	for _, s := range result.Summaries {
		data = append(data, []string{
			s.Username,
			fmt.Sprintf("%d", s.PRsCreated),
			fmt.Sprintf("%d", s.PRsMerged),
			formatRatio(s),
			fmt.Sprintf("%d", s.Reviews),
			fmt.Sprintf("%d", s.Additions),
			fmt.Sprintf("%d", s.Deletions),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	t := result.Totals
	fmt.Fprintf(w, "Totals: %d PRs created, %d merged, %d reviews (+%d/-%d lines)\n",
		t.PRsCreated, t.PRsMerged, t.Reviews, t.Additions, t.Deletions)
	fmt.Fprintf(w, "Merge ratio across users: mean %.1f%%, median %.1f%%\n",
		t.MeanMergeRatio*100, t.MedianMergeRatio*100)
	return nil
}
