package detect

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hawklight/vulnreport/internal/models"
)

// Detection is the outcome of vendor/product detection for one record.
type Detection struct {
	Vendor     string
	Product    string
	Confidence models.Confidence
}

// heuristic is one built-in regex rule with a static specificity
// weight. Higher weights match more narrowly and win over lower ones;
// equal weights break by registration order.
type heuristic struct {
	re          *regexp.Regexp
	vendor      string
	product     string
	specificity int
}

func h(pattern, vendor, product string, specificity int) heuristic {
	return heuristic{
		re:          regexp.MustCompile(`(?i)` + pattern),
		vendor:      vendor,
		product:     product,
		specificity: specificity,
	}
}

// builtinHeuristics is evaluated in full for every record; the highest
// specificity match wins. Registration order is the final tie-break,
// so the table order is part of the contract.
var builtinHeuristics = []heuristic{
	h(`windows\s+server|\bserver\s+20\d{2}`, "Microsoft", "Windows Server", 90),
	h(`microsoft\s+exchange`, "Microsoft", "Exchange", 90),
	h(`microsoft\s+sql\s+server|\bms\s+sql\b`, "Microsoft", "SQL Server", 90),
	h(`microsoft\s+sharepoint`, "Microsoft", "SharePoint", 90),
	h(`microsoft\s+office`, "Microsoft", "Office", 80),
	h(`apache\s+tomcat`, "Apache", "Tomcat", 80),
	h(`apache\s+http\s+server|httpd`, "Apache", "HTTP Server", 80),
	h(`oracle\s+database`, "Oracle", "Database", 80),
	h(`oracle\s+java|\bjdk\b|\bjre\b`, "Oracle", "Java", 80),
	h(`vmware\s+esxi`, "VMware", "ESXi", 80),
	h(`vmware\s+vcenter|\bvcenter\b`, "VMware", "vCenter", 80),
	h(`cisco\s+ios`, "Cisco", "IOS", 80),
	h(`cisco\s+asa`, "Cisco", "ASA", 80),
	h(`\bubuntu\b`, "Canonical", "Ubuntu", 70),
	h(`\bdebian\b`, "Debian", "Debian", 70),
	h(`red\s+hat|\brhel\b`, "Red Hat", "RHEL", 70),
	h(`\bcentos\b`, "CentOS", "CentOS", 70),
	h(`\bfedora\b`, "Fedora", "Fedora", 70),
	h(`\bsuse\b|\bsles\b`, "SUSE", "SUSE Linux", 70),
	h(`\bphp\b`, "PHP", "PHP", 70),
	h(`\bpython\b`, "Python", "Python", 70),
	h(`node\.js|nodejs`, "Node.js", "Node.js", 70),
	h(`\bdocker\b`, "Docker", "Docker", 70),
	h(`kubernetes|\bk8s\b`, "Kubernetes", "Kubernetes", 70),
	h(`\bnginx\b`, "Nginx", "Nginx", 70),
	h(`postgresql|\bpostgres\b`, "PostgreSQL", "PostgreSQL", 70),
	h(`\bmysql\b`, "MySQL", "MySQL", 70),
	h(`\bmariadb\b`, "MariaDB", "MariaDB", 70),
	h(`\bmongodb\b|\bmongo\b`, "MongoDB", "MongoDB", 70),
	h(`\bredis\b`, "Redis", "Redis", 70),
	h(`\bopenssl\b`, "OpenSSL", "OpenSSL", 70),
	h(`\blibressl\b`, "LibreSSL", "LibreSSL", 70),
	h(`\bwindows\b`, "Microsoft", "Windows", 60),
	h(`apache\s`, "Apache", "", 50),
	h(`\boracle\b`, "Oracle", "", 50),
	h(`\bvmware\b`, "VMware", "", 50),
	h(`\bcisco\b`, "Cisco", "", 50),
	h(`microsoft|\.net\b|\bazure\b|\biis\b`, "Microsoft", "", 40),
}

// compiledOverride is one persisted rule ready for matching. Overrides
// always outrank heuristics.
type compiledOverride struct {
	rule models.VendorProductRule
	re   *regexp.Regexp // nil for keyword-only rules
}

// VendorDetector maps plugin/product text to a (vendor, product) pair.
// Its output becomes grouping-tree branch labels, so every tie is
// broken deterministically.
type VendorDetector struct {
	overrides  []compiledOverride
	heuristics []heuristic
}

// NewVendorDetector compiles the persisted override rules. Rules are
// expected in priority order (highest first); a rule with an invalid
// regex is an error.
func NewVendorDetector(rules []models.VendorProductRule) (*VendorDetector, error) {
	d := &VendorDetector{heuristics: builtinHeuristics}
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		co := compiledOverride{rule: rule}
		if rule.Regex != "" {
			re, err := regexp.Compile(`(?i)` + rule.Regex)
			if err != nil {
				return nil, fmt.Errorf("invalid regex in vendor rule %d: %w", rule.ID, err)
			}
			co.re = re
		}
		d.overrides = append(d.overrides, co)
	}
	return d, nil
}

// Detect resolves vendor and product for the given text. Confidence
// ordering: override > heuristic > fallback.
func (d *VendorDetector) Detect(text string) Detection {
	lower := strings.ToLower(text)

	for _, o := range d.overrides {
		if o.re != nil && o.re.MatchString(text) {
			return Detection{Vendor: o.rule.Vendor, Product: o.rule.Product, Confidence: models.ConfidenceOverride}
		}
		if o.rule.Keyword != "" && strings.Contains(lower, strings.ToLower(o.rule.Keyword)) {
			return Detection{Vendor: o.rule.Vendor, Product: o.rule.Product, Confidence: models.ConfidenceOverride}
		}
	}

	best := -1
	for i, h := range d.heuristics {
		if h.specificity <= bestSpecificity(d.heuristics, best) {
			continue
		}
		if h.re.MatchString(text) {
			best = i
		}
	}
	if best >= 0 {
		return Detection{
			Vendor:     d.heuristics[best].vendor,
			Product:    d.heuristics[best].product,
			Confidence: models.ConfidenceHeuristic,
		}
	}

	return Detection{Vendor: "Unknown", Product: truncate(strings.TrimSpace(text), 60), Confidence: models.ConfidenceFallback}
}

func bestSpecificity(hs []heuristic, best int) int {
	if best < 0 {
		return -1
	}
	return hs[best].specificity
}

// DetectRecord runs detection over the combined plugin name,
// description and solution text of a record, mirroring the text that
// drove the persisted rules.
func (d *VendorDetector) DetectRecord(rec *models.VulnerabilityRecord) Detection {
	combined := rec.PluginName + " " + rec.Description + " " + rec.Solution
	return d.Detect(combined)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
