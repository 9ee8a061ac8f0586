package reporting

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hawklight/vulnreport/internal/grouping"
	"github.com/hawklight/vulnreport/internal/models"
	"github.com/hawklight/vulnreport/internal/pipeline"
)

// severityDisplay fixes the order severities appear in rendered output.
var severityDisplay = []models.Severity{
	models.SeverityCritical,
	models.SeverityHigh,
	models.SeverityMedium,
	models.SeverityLow,
	models.SeverityInfo,
}

// WriteSummary renders the executive summary as plain text.
func WriteSummary(w io.Writer, result *pipeline.Result) error {
	s := result.Summary

	fmt.Fprintf(w, "Vulnerability Report - %s\n", s.GeneratedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "%s\n\n", strings.Repeat("=", 50))

	source := "fresh export"
	if result.FromCache {
		source = "cached export"
	}
	fmt.Fprintf(w, "Source: %s\n", source)
	fmt.Fprintf(w, "Findings: %d across %d assets", s.TotalVulns, s.TotalAssets)
	if s.SkippedRecords > 0 {
		fmt.Fprintf(w, " (%d malformed records skipped)", s.SkippedRecords)
	}
	fmt.Fprintln(w)
	if s.KnownExploited > 0 {
		fmt.Fprintf(w, "Known exploited (CISA KEV): %d\n", s.KnownExploited)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "By severity:")
	for _, sev := range severityDisplay {
		if count := s.BySeverity[sev]; count > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", sev, count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "By state:")
	for _, state := range sortedStates(s.ByState) {
		fmt.Fprintf(w, "  %-12s %d\n", state, s.ByState[state])
	}
	fmt.Fprintln(w)

	if len(result.QuickWins) > 0 {
		fmt.Fprintf(w, "Quick wins: %d\n", len(result.QuickWins))
		if n := s.QuickWins[models.QuickWinVersionThreshold]; n > 0 {
			fmt.Fprintf(w, "  upgrade available      %d\n", n)
		}
		if n := s.QuickWins[models.QuickWinUnsupportedProduct]; n > 0 {
			fmt.Fprintf(w, "  unsupported product    %d\n", n)
		}
		fmt.Fprintln(w)
	}

	return WriteTree(w, result.Tree, 3)
}

// WriteTree renders the grouping tree down to maxDepth levels below the
// root. Children are already in display order.
func WriteTree(w io.Writer, root *grouping.Node, maxDepth int) error {
	fmt.Fprintln(w, "Top groups:")
	var err error
	root.Walk(func(node *grouping.Node, depth int) {
		if err != nil || depth == 0 || depth > maxDepth {
			return
		}
		indent := strings.Repeat("  ", depth)
		_, werr := fmt.Fprintf(w, "%s%s (%d findings%s)\n", indent, node.Label, node.Total, severitySuffix(node))
		if werr != nil {
			err = werr
		}
	})
	return err
}

func severitySuffix(node *grouping.Node) string {
	var parts []string
	for _, sev := range severityDisplay[:2] {
		if count := node.BySeverity[sev]; count > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", count, sev))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return ", " + strings.Join(parts, ", ")
}

// WriteQuickWins renders the flagged remediations as a flat list.
func WriteQuickWins(w io.Writer, wins []*models.VulnerabilityRecord) {
	if len(wins) == 0 {
		fmt.Fprintln(w, "No quick wins flagged.")
		return
	}
	fmt.Fprintf(w, "Quick wins (%d):\n", len(wins))
	for _, rec := range wins {
		detail := string(rec.QuickWin.Category)
		if rec.QuickWin.TargetVersion != "" {
			detail = fmt.Sprintf("upgrade to %s", rec.QuickWin.TargetVersion)
		} else if rec.QuickWin.MatchedKeyword != "" {
			detail = fmt.Sprintf("unsupported (%s)", rec.QuickWin.MatchedKeyword)
		}
		fmt.Fprintf(w, "  [%s] %s on %s: %s\n", rec.Severity, rec.PluginName, rec.Hostname, detail)
	}
}

func sortedStates(byState map[models.State]int) []models.State {
	states := make([]models.State, 0, len(byState))
	for state := range byState {
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	return states
}
