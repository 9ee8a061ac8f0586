package storage

import (
	"time"

	"github.com/hawklight/vulnreport/internal/models"
)

// Store defines the methods required for the persistence layer.
type Store interface {
	// Close closes the database connection.
	Close() error

	// AutoMigrate runs the database migrations.
	AutoMigrate() error

	// UpsertServer creates or updates a server keyed on asset UUID.
	UpsertServer(server *models.Server) error

	// GetServers retrieves the full server inventory.
	GetServers() ([]models.Server, error)

	// GetServer retrieves a single server by its ID.
	GetServer(id string) (*models.Server, error)

	// MarkStaleServers flags servers not seen since the cutoff. Servers
	// are never deleted. Returns the number of servers flagged.
	MarkStaleServers(cutoff time.Time) (int64, error)

	// UpsertApplication creates or updates an application catalog entry.
	UpsertApplication(app *models.Application) error

	// GetApplications retrieves the application catalog.
	GetApplications() ([]models.Application, error)

	// MapServerToApplication links a server to an application.
	MapServerToApplication(serverID string, appID uint, confidence models.MappingConfidence) error

	// GetApplicationMappings retrieves all server-application links with
	// the application preloaded.
	GetApplicationMappings() ([]models.ServerApplicationMap, error)

	// GetClassificationRules retrieves user-defined device rules.
	GetClassificationRules() ([]models.ClassificationRule, error)

	// AddClassificationRule inserts a user-defined device rule.
	AddClassificationRule(rule *models.ClassificationRule) error

	// DeleteClassificationRule removes a user-defined device rule.
	DeleteClassificationRule(id uint) error

	// GetVendorProductRules retrieves enabled vendor override rules in
	// priority order, highest first.
	GetVendorProductRules() ([]models.VendorProductRule, error)

	// UpsertVendorProductRule creates or updates a vendor override.
	UpsertVendorProductRule(rule *models.VendorProductRule) error

	// SeedVendorRules installs the starter vendor overrides if the
	// table is empty.
	SeedVendorRules() error

	// ReplaceVulnerabilities swaps the stored result set for a new run.
	ReplaceVulnerabilities(vulns []models.StoredVulnerability) error

	// GetVulnerabilitiesForServer retrieves stored findings for one
	// server, ordered by severity then plugin name.
	GetVulnerabilitiesForServer(serverID string) ([]models.StoredVulnerability, error)

	// GetSeverityCounts counts stored findings per severity.
	GetSeverityCounts() (map[models.Severity]int64, error)

	// GetTopRiskyServers ranks servers by severity-weighted finding counts.
	GetTopRiskyServers(limit int) ([]ServerRiskSummary, error)

	// CreateReportRun records one pipeline run.
	CreateReportRun(run *models.ReportRun) error

	// GetReportRuns retrieves recent runs, newest first.
	GetReportRuns(limit int) ([]models.ReportRun, error)

	// GetLatestReportRun retrieves the most recent run, or nil if none.
	GetLatestReportRun() (*models.ReportRun, error)
}

// ServerRiskSummary is one row of the risk ranking used in summaries.
type ServerRiskSummary struct {
	ServerID      string `json:"server_id"`
	Hostname      string `json:"hostname"`
	IPv4          string `json:"ipv4"`
	RiskScore     int    `json:"risk_score"`
	CriticalCount int    `json:"critical_count"`
	HighCount     int    `json:"high_count"`
}
