package detect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hawklight/vulnreport/internal/models"
)

func newDetector(t *testing.T, rules ...models.VendorProductRule) *VendorDetector {
	t.Helper()
	d, err := NewVendorDetector(rules)
	require.NoError(t, err)
	return d
}

func TestHeuristicDetection(t *testing.T) {
	d := newDetector(t)

	cases := []struct {
		text    string
		vendor  string
		product string
	}{
		{"Apache Tomcat 9.0.50 Multiple Vulnerabilities", "Apache", "Tomcat"},
		{"Apache HTTP Server 2.4.52 Privilege Escalation", "Apache", "HTTP Server"},
		{"Microsoft Windows Server 2019 Security Update", "Microsoft", "Windows Server"},
		{"Oracle Database 19c Critical Patch", "Oracle", "Database"},
		{"VMware ESXi 7.0 Heap Overflow", "VMware", "ESXi"},
		{"OpenSSL 1.1.1 Padding Oracle", "OpenSSL", "OpenSSL"},
		{"PostgreSQL 13.4 Information Disclosure", "PostgreSQL", "PostgreSQL"},
		{"nginx 1.20 Request Smuggling", "Nginx", "Nginx"},
	}
	for _, tc := range cases {
		det := d.Detect(tc.text)
		assert.Equal(t, tc.vendor, det.Vendor, "text: %q", tc.text)
		assert.Equal(t, tc.product, det.Product, "text: %q", tc.text)
		assert.Equal(t, models.ConfidenceHeuristic, det.Confidence, "text: %q", tc.text)
	}
}

func TestHigherSpecificityWins(t *testing.T) {
	d := newDetector(t)

	// Both the narrow Tomcat rule and the broad Apache rule match; the
	// narrow one must win.
	det := d.Detect("Apache Tomcat vulnerability in Apache software")
	assert.Equal(t, "Tomcat", det.Product)

	// "windows server" outranks the generic "windows" rule.
	det = d.Detect("Windows flaw affecting Windows Server editions")
	assert.Equal(t, "Windows Server", det.Product)
}

func TestOverrideBeatsHeuristic(t *testing.T) {
	d := newDetector(t, models.VendorProductRule{
		Vendor:   "Acme",
		Product:  "TomCustom",
		Keyword:  "tomcat",
		Priority: 100,
		Enabled:  true,
	})

	det := d.Detect("Apache Tomcat 9.0.50")
	assert.Equal(t, "Acme", det.Vendor)
	assert.Equal(t, "TomCustom", det.Product)
	assert.Equal(t, models.ConfidenceOverride, det.Confidence)
}

func TestOverrideRegexRule(t *testing.T) {
	d := newDetector(t, models.VendorProductRule{
		Vendor:  "Internal",
		Product: "Billing Engine",
		Regex:   `billing[-\s]engine`,
		Enabled: true,
	})

	det := d.Detect("Custom Billing-Engine RCE")
	assert.Equal(t, "Internal", det.Vendor)
	assert.Equal(t, models.ConfidenceOverride, det.Confidence)
}

func TestDisabledOverrideIgnored(t *testing.T) {
	d := newDetector(t, models.VendorProductRule{
		Vendor:  "Acme",
		Product: "X",
		Keyword: "tomcat",
		Enabled: false,
	})

	det := d.Detect("Apache Tomcat 9.0.50")
	assert.Equal(t, "Apache", det.Vendor)
}

func TestOverridePriorityOrder(t *testing.T) {
	// Rules arrive in priority order from the store; the first match wins.
	d := newDetector(t,
		models.VendorProductRule{Vendor: "First", Product: "A", Keyword: "widget", Priority: 90, Enabled: true},
		models.VendorProductRule{Vendor: "Second", Product: "B", Keyword: "widget", Priority: 10, Enabled: true},
	)

	det := d.Detect("Widget Factory Overflow")
	assert.Equal(t, "First", det.Vendor)
}

func TestFallback(t *testing.T) {
	d := newDetector(t)

	det := d.Detect("Obscure Appliance Thing 1.2")
	assert.Equal(t, "Unknown", det.Vendor)
	assert.Equal(t, "Obscure Appliance Thing 1.2", det.Product)
	assert.Equal(t, models.ConfidenceFallback, det.Confidence)
}

func TestFallbackTruncatesLongText(t *testing.T) {
	d := newDetector(t)

	long := strings.Repeat("x", 200)
	det := d.Detect(long)
	assert.Len(t, det.Product, 60)
}

func TestInvalidOverrideRegexRejected(t *testing.T) {
	_, err := NewVendorDetector([]models.VendorProductRule{
		{Vendor: "X", Regex: `[bad`, Enabled: true},
	})
	assert.Error(t, err)
}

func TestDetectRecordCombinesFields(t *testing.T) {
	d := newDetector(t)

	rec := &models.VulnerabilityRecord{
		PluginName:  "Security Update for Web Stack",
		Description: "The remote host runs Apache Tomcat 8.5.",
		Solution:    "Upgrade.",
	}
	det := d.DetectRecord(rec)
	assert.Equal(t, "Apache", det.Vendor)
	assert.Equal(t, "Tomcat", det.Product)
}
