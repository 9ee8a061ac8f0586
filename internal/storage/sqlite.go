package storage

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hawklight/vulnreport/internal/models"
)

type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore initializes a new SQLite database connection.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.Server{},
		&models.Application{},
		&models.ServerApplicationMap{},
		&models.ClassificationRule{},
		&models.VendorProductRule{},
		&models.StoredVulnerability{},
		&models.ReportRun{},
	)
}

func (s *SQLiteStore) UpsertServer(server *models.Server) error {
	// Match on asset UUID; fall back to hostname for exports that omit it.
	var existing models.Server
	result := s.db.Where("asset_uuid = ?", server.AssetUUID).First(&existing)
	if result.Error != nil && server.AssetUUID == "" {
		result = s.db.Where("hostname = ?", server.Hostname).First(&existing)
	}
	if result.Error == nil {
		server.ID = existing.ID
		server.CreatedAt = existing.CreatedAt
		// Preserve manually curated fields when the export omits them.
		if existing.Hostname != "" && server.Hostname == "" {
			server.Hostname = existing.Hostname
		}
		if existing.OperatingSystem != "" && server.OperatingSystem == "" {
			server.OperatingSystem = existing.OperatingSystem
		}
		server.Stale = false
		return s.db.Save(server).Error
	}
	return s.db.Create(server).Error
}

func (s *SQLiteStore) GetServers() ([]models.Server, error) {
	var servers []models.Server
	err := s.db.Order("hostname asc").Find(&servers).Error
	return servers, err
}

func (s *SQLiteStore) GetServer(id string) (*models.Server, error) {
	var server models.Server
	if err := s.db.First(&server, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &server, nil
}

func (s *SQLiteStore) MarkStaleServers(cutoff time.Time) (int64, error) {
	result := s.db.Model(&models.Server{}).
		Where("last_seen < ? AND stale = ?", cutoff, false).
		Update("stale", true)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("inventory: %d servers not seen since %s marked stale", result.RowsAffected, cutoff.Format(time.RFC3339))
	}
	return result.RowsAffected, nil
}

func (s *SQLiteStore) UpsertApplication(app *models.Application) error {
	var existing models.Application
	result := s.db.Where("name = ?", app.Name).First(&existing)
	if result.Error == nil {
		app.ID = existing.ID
		return s.db.Save(app).Error
	}
	return s.db.Create(app).Error
}

func (s *SQLiteStore) GetApplications() ([]models.Application, error) {
	var apps []models.Application
	err := s.db.Order("name asc").Find(&apps).Error
	return apps, err
}

func (s *SQLiteStore) MapServerToApplication(serverID string, appID uint, confidence models.MappingConfidence) error {
	var existing models.ServerApplicationMap
	result := s.db.Where("server_id = ? AND application_id = ?", serverID, appID).First(&existing)
	if result.Error == nil {
		existing.Confidence = confidence
		return s.db.Save(&existing).Error
	}
	return s.db.Create(&models.ServerApplicationMap{
		ServerID:      serverID,
		ApplicationID: appID,
		Confidence:    confidence,
	}).Error
}

func (s *SQLiteStore) GetApplicationMappings() ([]models.ServerApplicationMap, error) {
	var mappings []models.ServerApplicationMap
	err := s.db.Preload("Application").Find(&mappings).Error
	return mappings, err
}

func (s *SQLiteStore) GetClassificationRules() ([]models.ClassificationRule, error) {
	var rules []models.ClassificationRule
	err := s.db.Order("id asc").Find(&rules).Error
	return rules, err
}

func (s *SQLiteStore) AddClassificationRule(rule *models.ClassificationRule) error {
	return s.db.Create(rule).Error
}

func (s *SQLiteStore) DeleteClassificationRule(id uint) error {
	return s.db.Delete(&models.ClassificationRule{}, id).Error
}

func (s *SQLiteStore) GetVendorProductRules() ([]models.VendorProductRule, error) {
	var rules []models.VendorProductRule
	err := s.db.Where("enabled = ?", true).
		Order("priority desc, id asc").
		Find(&rules).Error
	return rules, err
}

func (s *SQLiteStore) UpsertVendorProductRule(rule *models.VendorProductRule) error {
	if rule.ID != 0 {
		return s.db.Save(rule).Error
	}
	return s.db.Create(rule).Error
}

// ReplaceVulnerabilities swaps the stored findings for a fresh run's
// output inside one transaction, so readers never see a half-written set.
func (s *SQLiteStore) ReplaceVulnerabilities(vulns []models.StoredVulnerability) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM stored_vulnerabilities").Error; err != nil {
			return err
		}
		if len(vulns) == 0 {
			return nil
		}
		return tx.CreateInBatches(vulns, 200).Error
	})
}

func (s *SQLiteStore) GetVulnerabilitiesForServer(serverID string) ([]models.StoredVulnerability, error) {
	server, err := s.GetServer(serverID)
	if err != nil {
		return nil, err
	}
	var vulns []models.StoredVulnerability
	err = s.db.Where("asset_uuid = ? OR hostname = ?", server.AssetUUID, server.Hostname).
		Find(&vulns).Error
	if err != nil {
		return nil, err
	}
	sortStoredBySeverity(vulns)
	return vulns, nil
}

func (s *SQLiteStore) GetSeverityCounts() (map[models.Severity]int64, error) {
	type row struct {
		Severity models.Severity
		Count    int64
	}
	var rows []row
	err := s.db.Model(&models.StoredVulnerability{}).
		Select("severity, COUNT(*) as count").
		Group("severity").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.Severity]int64, len(rows))
	for _, r := range rows {
		counts[r.Severity] = r.Count
	}
	return counts, nil
}

// GetTopRiskyServers calculates a risk score for each server and returns the top N.
// Risk Score = (Critical * 10) + (High * 5) + (Medium * 2) + (Low * 1)
func (s *SQLiteStore) GetTopRiskyServers(limit int) ([]ServerRiskSummary, error) {
	var results []ServerRiskSummary
	err := s.db.Table("stored_vulnerabilities").
		Select("servers.id as server_id, servers.hostname, servers.ipv4, "+
			"SUM(CASE WHEN stored_vulnerabilities.severity = 'Critical' THEN 10 WHEN stored_vulnerabilities.severity = 'High' THEN 5 WHEN stored_vulnerabilities.severity = 'Medium' THEN 2 WHEN stored_vulnerabilities.severity = 'Low' THEN 1 ELSE 0 END) as risk_score, "+
			"SUM(CASE WHEN stored_vulnerabilities.severity = 'Critical' THEN 1 ELSE 0 END) as critical_count, "+
			"SUM(CASE WHEN stored_vulnerabilities.severity = 'High' THEN 1 ELSE 0 END) as high_count").
		Joins("JOIN servers ON servers.asset_uuid = stored_vulnerabilities.asset_uuid").
		Group("servers.id, servers.hostname, servers.ipv4").
		Order("risk_score DESC").
		Limit(limit).
		Scan(&results).Error
	return results, err
}

func (s *SQLiteStore) CreateReportRun(run *models.ReportRun) error {
	return s.db.Create(run).Error
}

func (s *SQLiteStore) GetReportRuns(limit int) ([]models.ReportRun, error) {
	var runs []models.ReportRun
	err := s.db.Order("created_at desc").Limit(limit).Find(&runs).Error
	return runs, err
}

func (s *SQLiteStore) GetLatestReportRun() (*models.ReportRun, error) {
	var run models.ReportRun
	err := s.db.Order("created_at desc").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
