package reporting

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hawklight/vulnreport/internal/grouping"
	"github.com/hawklight/vulnreport/internal/models"
	"github.com/hawklight/vulnreport/internal/pipeline"
)

func sampleResult() *pipeline.Result {
	records := []models.VulnerabilityRecord{
		{
			Hostname: "web01", Vendor: "Apache", Product: "HTTP Server",
			PluginName: "Apache HTTP Server 2.4.52", Severity: models.SeverityHigh,
			State: models.StateActive,
			QuickWin: &models.QuickWin{
				Category:      models.QuickWinVersionThreshold,
				TargetVersion: "2.4.58",
			},
		},
		{
			Hostname: "db01", Vendor: "Oracle", Product: "Database",
			PluginName: "Oracle DB Patch Missing", Severity: models.SeverityCritical,
			State: models.StateActive,
		},
	}
	tree := grouping.NewGrouper(nil).Build(records)

	result := &pipeline.Result{
		Tree:    tree,
		Records: records,
	}
	result.QuickWins = []*models.VulnerabilityRecord{&records[0]}
	result.Summary = pipeline.Summary{
		GeneratedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		TotalVulns:  2,
		TotalAssets: 2,
		BySeverity: map[models.Severity]int{
			models.SeverityCritical: 1,
			models.SeverityHigh:     1,
		},
		ByState: map[models.State]int{models.StateActive: 2},
		QuickWins: map[models.QuickWinCategory]int{
			models.QuickWinVersionThreshold: 1,
		},
	}
	return result
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, sampleResult()))
	out := buf.String()

	assert.Contains(t, out, "2026-08-30")
	assert.Contains(t, out, "Findings: 2 across 2 assets")
	assert.Contains(t, out, "Critical   1")
	assert.Contains(t, out, "High       1")
	assert.Contains(t, out, "Quick wins: 1")
	// Critical branch sorts above the high branch.
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("Oracle")), bytes.Index(buf.Bytes(), []byte("Apache")))
}

func TestWriteQuickWins(t *testing.T) {
	result := sampleResult()

	var buf bytes.Buffer
	WriteQuickWins(&buf, result.QuickWins)
	out := buf.String()

	assert.Contains(t, out, "upgrade to 2.4.58")
	assert.Contains(t, out, "web01")
}

func TestWriteQuickWinsEmpty(t *testing.T) {
	var buf bytes.Buffer
	WriteQuickWins(&buf, nil)
	assert.Contains(t, buf.String(), "No quick wins")
}
