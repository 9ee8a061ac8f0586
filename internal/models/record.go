package models

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the closed set of vulnerability severity levels, ordered
// from Critical down to Info.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
	SeverityInfo     Severity = "Info"
)

// Severities lists all severity levels in descending order.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// ParseSeverity matches a raw severity string case-insensitively against
// the closed enumeration. Unrecognized values are an error, never a default.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical, nil
	case "high":
		return SeverityHigh, nil
	case "medium":
		return SeverityMedium, nil
	case "low":
		return SeverityLow, nil
	case "info":
		return SeverityInfo, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// Rank returns the sort rank of a severity. Critical ranks highest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Weight returns the score contribution of a severity, used when
// ordering report branches by impact.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 5
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// State is the closed set of finding lifecycle states.
type State string

const (
	StateActive     State = "ACTIVE"
	StateResurfaced State = "RESURFACED"
	StateNew        State = "NEW"
	StateFixed      State = "FIXED"
)

// States lists all lifecycle states.
var States = []State{StateActive, StateResurfaced, StateNew, StateFixed}

// ParseState matches a raw state string case-insensitively against the
// closed enumeration.
func ParseState(s string) (State, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ACTIVE", "OPEN":
		return StateActive, nil
	case "RESURFACED", "REOPENED":
		return StateResurfaced, nil
	case "NEW":
		return StateNew, nil
	case "FIXED":
		return StateFixed, nil
	default:
		return "", fmt.Errorf("unknown state %q", s)
	}
}

// DeviceCategory classifies an asset by its operating system string.
type DeviceCategory string

const (
	DeviceServer      DeviceCategory = "server"
	DeviceWorkstation DeviceCategory = "workstation"
	DeviceNetwork     DeviceCategory = "network"
	DeviceUnknown     DeviceCategory = "unknown"
)

// Confidence ranks how a vendor/product detection was made. Higher
// values outrank lower ones: a persisted override beats a heuristic,
// which beats the fallback.
type Confidence int

const (
	ConfidenceFallback Confidence = iota
	ConfidenceHeuristic
	ConfidenceOverride
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceOverride:
		return "override"
	case ConfidenceHeuristic:
		return "heuristic"
	default:
		return "fallback"
	}
}

// QuickWinCategory identifies which remediation heuristic flagged a record.
type QuickWinCategory string

const (
	QuickWinVersionThreshold   QuickWinCategory = "VERSION_THRESHOLD"
	QuickWinUnsupportedProduct QuickWinCategory = "UNSUPPORTED_PRODUCT"
)

// QuickWin annotates a record flagged as cheaply remediable. It is
// derived during processing and never persisted on its own.
type QuickWin struct {
	Category       QuickWinCategory `json:"category"`
	TargetVersion  string           `json:"target_version,omitempty"`
	MatchedKeyword string           `json:"matched_keyword,omitempty"`
}

// VulnerabilityRecord is the canonical normalized form of one raw
// export record. Identity and detection fields are immutable after
// normalization; the classification fields below are filled in by the
// processing chain.
type VulnerabilityRecord struct {
	FindingID string `json:"finding_id"`

	// Asset details
	AssetUUID       string `json:"asset_uuid"`
	Hostname        string `json:"hostname"`
	IPv4            string `json:"ipv4,omitempty"`
	OperatingSystem string `json:"operating_system,omitempty"`

	// Plugin details
	PluginID    string   `json:"plugin_id"`
	PluginName  string   `json:"plugin_name"`
	Description string   `json:"description,omitempty"`
	Solution    string   `json:"solution,omitempty"`
	Synopsis    string   `json:"synopsis,omitempty"`
	CVEs        []string `json:"cves,omitempty"`

	// Detection details
	Severity  Severity  `json:"severity"`
	State     State     `json:"state"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// Populated by the processing chain
	DeviceType       DeviceCategory `json:"device_type,omitempty"`
	Vendor           string         `json:"vendor,omitempty"`
	Product          string         `json:"product,omitempty"`
	VendorConfidence Confidence     `json:"vendor_confidence,omitempty"`
	Application      string         `json:"application,omitempty"`
	QuickWin         *QuickWin      `json:"quick_win,omitempty"`
	KnownExploited   bool           `json:"known_exploited,omitempty"`
}
