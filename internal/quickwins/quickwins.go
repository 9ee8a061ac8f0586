package quickwins

import (
	"regexp"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/hawklight/vulnreport/internal/models"
)

// versionPatterns capture a dotted version following a remediation
// phrase. The capture is validated as a real version before a finding
// is flagged; a phrase with a garbled version is not a quick win.
var versionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)fixed\s+in\s+(?:version\s+)?v?(\d+(?:\.\d+)+)`),
	regexp.MustCompile(`(?i)prior\s+to\s+(?:version\s+)?v?(\d+(?:\.\d+)+)`),
	regexp.MustCompile(`(?i)before\s+(?:version\s+)?v?(\d+(?:\.\d+)+)`),
	regexp.MustCompile(`(?i)less\s+than\s+(?:version\s+)?v?(\d+(?:\.\d+)+)`),
	regexp.MustCompile(`(?i)earlier\s+than\s+(?:version\s+)?v?(\d+(?:\.\d+)+)`),
	regexp.MustCompile(`(?i)below\s+(?:version\s+)?v?(\d+(?:\.\d+)+)`),
	regexp.MustCompile(`(?i)upgrade\s+to\s+(?:version\s+)?v?(\d+(?:\.\d+)+)`),
	regexp.MustCompile(`(?i)update\s+to\s+(?:version\s+)?v?(\d+(?:\.\d+)+)`),
	regexp.MustCompile(`<\s*v?(\d+(?:\.\d+)+)`),
}

// unsupportedKeywords mark products past their support window.
var unsupportedKeywords = []string{
	"unsupported",
	"end of life",
	"end-of-life",
	"eol",
	"deprecated",
	"obsolete",
	"discontinued",
	"no longer supported",
	"not supported",
	"reached end of support",
	"extended support ended",
}

// Detector flags findings that are fixable by a simple upgrade or that
// sit on an unsupported product.
type Detector struct{}

func NewDetector() *Detector {
	return &Detector{}
}

// Detect inspects a record's plugin name, description, synopsis and
// solution. When both a version threshold and an unsupported-product
// keyword match, the version threshold wins: it names the concrete
// upgrade target.
func (d *Detector) Detect(rec *models.VulnerabilityRecord) *models.QuickWin {
	text := rec.PluginName + " " + rec.Description + " " + rec.Synopsis + " " + rec.Solution

	if qw := d.versionThreshold(text); qw != nil {
		return qw
	}
	return d.unsupportedProduct(text)
}

func (d *Detector) versionThreshold(text string) *models.QuickWin {
	for _, pat := range versionPatterns {
		m := pat.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if _, err := goversion.NewVersion(m[1]); err != nil {
			continue
		}
		return &models.QuickWin{
			Category:      models.QuickWinVersionThreshold,
			TargetVersion: m[1],
		}
	}
	return nil
}

func (d *Detector) unsupportedProduct(text string) *models.QuickWin {
	lower := strings.ToLower(text)
	for _, kw := range unsupportedKeywords {
		if strings.Contains(lower, kw) {
			return &models.QuickWin{
				Category:       models.QuickWinUnsupportedProduct,
				MatchedKeyword: kw,
			}
		}
	}
	return nil
}
