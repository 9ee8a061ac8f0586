package storage

import (
	"log"
	"sort"

	"github.com/hawklight/vulnreport/internal/models"
)

// SeedVendorRules installs the starter vendor/product overrides. Skipped
// when the table already has rows so user edits survive restarts.
func (s *SQLiteStore) SeedVendorRules() error {
	var count int64
	if err := s.db.Model(&models.VendorProductRule{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	rules := []models.VendorProductRule{
		{Vendor: "Microsoft", Product: "Windows Server", Keyword: "windows server", Priority: 100, Enabled: true, UpdatedBy: "seed"},
		{Vendor: "Microsoft", Product: "Exchange", Keyword: "microsoft exchange", Priority: 100, Enabled: true, UpdatedBy: "seed"},
		{Vendor: "Microsoft", Product: "SQL Server", Regex: `microsoft\s+sql\s+server`, Priority: 100, Enabled: true, UpdatedBy: "seed"},
		{Vendor: "Apache", Product: "Tomcat", Keyword: "apache tomcat", Priority: 90, Enabled: true, UpdatedBy: "seed"},
		{Vendor: "Apache", Product: "HTTP Server", Regex: `apache\s+(http\s+server|httpd)`, Priority: 90, Enabled: true, UpdatedBy: "seed"},
		{Vendor: "Oracle", Product: "Java", Regex: `oracle\s+java|\bjdk\b|\bjre\b`, Priority: 90, Enabled: true, UpdatedBy: "seed"},
		{Vendor: "VMware", Product: "ESXi", Keyword: "esxi", Priority: 90, Enabled: true, UpdatedBy: "seed"},
		{Vendor: "OpenSSL", Product: "OpenSSL", Keyword: "openssl", Priority: 80, Enabled: true, UpdatedBy: "seed"},
		{Vendor: "Canonical", Product: "Ubuntu", Keyword: "ubuntu", Priority: 70, Enabled: true, UpdatedBy: "seed"},
		{Vendor: "Red Hat", Product: "RHEL", Regex: `red\s+hat|\brhel\b`, Priority: 70, Enabled: true, UpdatedBy: "seed"},
	}

	if err := s.db.Create(&rules).Error; err != nil {
		return err
	}
	log.Printf("storage: seeded %d vendor/product rules", len(rules))
	return nil
}

// sortStoredBySeverity orders findings critical first, then by plugin name.
func sortStoredBySeverity(vulns []models.StoredVulnerability) {
	sort.Slice(vulns, func(i, j int) bool {
		ri, rj := vulns[i].Severity.Rank(), vulns[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return vulns[i].PluginName < vulns[j].PluginName
	})
}
