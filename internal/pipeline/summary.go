package pipeline

import (
	"time"

	"github.com/hawklight/vulnreport/internal/models"
	"github.com/hawklight/vulnreport/internal/normalize"
)

// Summary carries the headline counts a renderer puts at the top of a
// report.
type Summary struct {
	GeneratedAt time.Time
	Runtime     time.Duration

	TotalVulns     int
	TotalAssets    int
	SkippedRecords int

	BySeverity     map[models.Severity]int
	ByState        map[models.State]int
	ByDevice       map[models.DeviceCategory]int
	QuickWins      map[models.QuickWinCategory]int
	KnownExploited int
}

func buildSummary(result *Result, report normalize.BatchReport, start, end time.Time) Summary {
	s := Summary{
		GeneratedAt:    end,
		Runtime:        end.Sub(start),
		TotalVulns:     len(result.Records),
		SkippedRecords: report.Skipped,
		BySeverity:     make(map[models.Severity]int),
		ByState:        make(map[models.State]int),
		ByDevice:       make(map[models.DeviceCategory]int),
		QuickWins:      make(map[models.QuickWinCategory]int),
	}

	assets := make(map[string]bool)
	for i := range result.Records {
		rec := &result.Records[i]
		key := rec.AssetUUID
		if key == "" {
			key = rec.Hostname
		}
		assets[key] = true

		s.BySeverity[rec.Severity]++
		s.ByState[rec.State]++
		s.ByDevice[rec.DeviceType]++
		if rec.QuickWin != nil {
			s.QuickWins[rec.QuickWin.Category]++
		}
		if rec.KnownExploited {
			s.KnownExploited++
		}
	}
	s.TotalAssets = len(assets)
	return s
}
