package models

import (
	"time"

	"gorm.io/gorm"
)

// Server represents a unique asset in the inventory. Servers are never
// deleted; an asset missing from a fresh export is marked stale.
type Server struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Hostname is not unique: assets that report none all share the
	// normalizer's placeholder. AssetUUID carries identity.
	Hostname        string         `gorm:"index;size:255" json:"hostname"`
	AssetUUID       string         `gorm:"uniqueIndex;size:255" json:"asset_uuid"`
	IPv4            string         `gorm:"size:45" json:"ipv4"`
	OperatingSystem string         `gorm:"size:255" json:"operating_system"`
	DeviceType      DeviceCategory `gorm:"size:50;default:'unknown'" json:"device_type"`
	LastSeen        time.Time      `json:"last_seen"`
	Stale           bool           `gorm:"default:false" json:"stale"`
}

// Application represents an entry in the application/service catalog.
type Application struct {
	gorm.Model
	Name        string `gorm:"uniqueIndex;size:255" json:"name"`
	AppType     string `gorm:"size:100" json:"app_type"`
	Description string `json:"description"`
	OwnerTeam   string `gorm:"size:255" json:"owner_team"`
}

// MappingConfidence describes how a server-application mapping was produced.
type MappingConfidence string

const (
	MappingManual   MappingConfidence = "manual"
	MappingAuto     MappingConfidence = "auto"
	MappingInferred MappingConfidence = "inferred"
)

// ServerApplicationMap links a server to the application it serves.
type ServerApplicationMap struct {
	gorm.Model
	ServerID      string            `gorm:"size:36;index;uniqueIndex:uq_server_app" json:"server_id"`
	ApplicationID uint              `gorm:"index;uniqueIndex:uq_server_app" json:"application_id"`
	Application   Application       `json:"application"`
	Confidence    MappingConfidence `gorm:"size:20;default:'auto'" json:"confidence"`
	Source        string            `gorm:"size:255" json:"source"`
	UpdatedBy     string            `gorm:"size:255" json:"updated_by"`
}

// RuleOrigin distinguishes built-in rules from user-defined overrides.
type RuleOrigin string

const (
	OriginBuiltin RuleOrigin = "builtin"
	OriginUser    RuleOrigin = "user"
)

// ClassificationRule maps an OS-string pattern to a device category.
// Only user-defined rules live in the database; built-ins are compiled in.
type ClassificationRule struct {
	gorm.Model
	Pattern  string         `gorm:"size:255;uniqueIndex" json:"pattern"`
	Category DeviceCategory `gorm:"size:50" json:"category"`
	Origin   RuleOrigin     `gorm:"size:20;default:'user'" json:"origin"`
}

// VendorProductRule is a persisted vendor/product detection override.
// Override matches always outrank the built-in heuristics.
type VendorProductRule struct {
	gorm.Model
	Vendor    string `gorm:"size:255;index" json:"vendor"`
	Product   string `gorm:"size:255" json:"product"`
	Regex     string `json:"regex"`
	Keyword   string `gorm:"size:255" json:"keyword"`
	Priority  int    `gorm:"default:0;index" json:"priority"`
	Enabled   bool   `gorm:"default:true" json:"enabled"`
	UpdatedBy string `gorm:"size:255" json:"updated_by"`
}

// StoredVulnerability is a processed record persisted for database-backed
// report runs.
type StoredVulnerability struct {
	gorm.Model
	FindingID       string         `gorm:"size:255;uniqueIndex" json:"finding_id"`
	AssetUUID       string         `gorm:"size:255;index" json:"asset_uuid"`
	Hostname        string         `gorm:"size:255;index" json:"hostname"`
	IPv4            string         `gorm:"size:45" json:"ipv4"`
	OperatingSystem string         `gorm:"size:255" json:"operating_system"`
	DeviceType      DeviceCategory `gorm:"size:50;index" json:"device_type"`
	PluginID        string         `gorm:"size:50;index" json:"plugin_id"`
	PluginName      string         `gorm:"size:500" json:"plugin_name"`
	Severity        Severity       `gorm:"size:20;index" json:"severity"`
	State           State          `gorm:"size:20;index" json:"state"`
	CVEs            string         `json:"cves"` // comma-separated
	Vendor          string         `gorm:"size:255;index" json:"vendor"`
	Product         string         `gorm:"size:255" json:"product"`
	Solution        string         `json:"solution"`
	Description     string         `json:"description"`
	QuickWin        string         `gorm:"size:50" json:"quick_win"`
	KnownExploited  bool           `gorm:"index" json:"known_exploited"`
	FirstSeen       time.Time      `json:"first_seen"`
	LastSeen        time.Time      `json:"last_seen"`
}

// ReportRun is an audit trail row for one pipeline run.
type ReportRun struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	FiltersJSON    string  `json:"filters_json"`
	Fingerprint    string  `gorm:"size:64;index" json:"fingerprint"`
	ExportJobID    string  `gorm:"size:255" json:"export_job_id"`
	FromCache      bool    `json:"from_cache"`
	TotalVulns     int     `json:"total_vulns"`
	TotalAssets    int     `json:"total_assets"`
	SkippedRecords int     `json:"skipped_records"`
	RuntimeSeconds float64 `json:"runtime_seconds"`
}
