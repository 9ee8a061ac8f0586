package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/hawklight/vulnreport/internal/models"
	"github.com/hawklight/vulnreport/internal/telemetry"
)

// NormalizationError reports why one raw record could not be
// normalized. It is collected per record, never fatal to the batch.
type NormalizationError struct {
	MissingFields []string
	Reason        string
}

func (e *NormalizationError) Error() string {
	if len(e.MissingFields) > 0 {
		return fmt.Sprintf("record missing required fields: %s", strings.Join(e.MissingFields, ", "))
	}
	return e.Reason
}

// rawRecord mirrors the export wire shape. Some scanner fields arrive
// as either a scalar or a list, so those use flexString.
type rawRecord struct {
	Asset struct {
		UUID            string     `json:"uuid"`
		Hostname        flexString `json:"hostname"`
		IPv4            flexString `json:"ipv4"`
		OperatingSystem flexString `json:"operating_system"`
	} `json:"asset"`
	Plugin struct {
		ID          json.Number `json:"id"`
		Name        string      `json:"name"`
		Description string      `json:"description"`
		Solution    string      `json:"solution"`
		Synopsis    string      `json:"synopsis"`
		CVE         []string    `json:"cve"`
	} `json:"plugin"`
	Severity   string `json:"severity"`
	State      string `json:"state"`
	FirstFound string `json:"first_found"`
	LastFound  string `json:"last_found"`
}

// flexString accepts a JSON string or an array of strings, joining the
// latter with ", ".
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*f = flexString(strings.Join(list, ", "))
	return nil
}

// Record normalizes a single raw export record into the canonical
// schema. Required fields are asset UUID, plugin ID and severity;
// unrecognized severity or state values are an error, not a default.
func Record(raw json.RawMessage) (models.VulnerabilityRecord, error) {
	var rec rawRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.VulnerabilityRecord{}, &NormalizationError{Reason: fmt.Sprintf("malformed record: %v", err)}
	}

	pluginID := rec.Plugin.ID.String()
	if pluginID == "0" || pluginID == "" {
		pluginID = ""
	}

	var missing []string
	if rec.Asset.UUID == "" {
		missing = append(missing, "asset.uuid")
	}
	if pluginID == "" {
		missing = append(missing, "plugin.id")
	}
	if rec.Severity == "" {
		missing = append(missing, "severity")
	}
	if len(missing) > 0 {
		return models.VulnerabilityRecord{}, &NormalizationError{MissingFields: missing}
	}

	severity, err := models.ParseSeverity(rec.Severity)
	if err != nil {
		return models.VulnerabilityRecord{}, &NormalizationError{Reason: err.Error()}
	}

	state := models.StateActive
	if rec.State != "" {
		state, err = models.ParseState(rec.State)
		if err != nil {
			return models.VulnerabilityRecord{}, &NormalizationError{Reason: err.Error()}
		}
	}

	hostname := string(rec.Asset.Hostname)
	if hostname == "" {
		hostname = "unknown"
	}

	return models.VulnerabilityRecord{
		FindingID:       findingID(rec.Asset.UUID, pluginID),
		AssetUUID:       rec.Asset.UUID,
		Hostname:        hostname,
		IPv4:            string(rec.Asset.IPv4),
		OperatingSystem: string(rec.Asset.OperatingSystem),
		PluginID:        pluginID,
		PluginName:      rec.Plugin.Name,
		Description:     rec.Plugin.Description,
		Solution:        rec.Plugin.Solution,
		Synopsis:        rec.Plugin.Synopsis,
		CVEs:            dedupeCVEs(rec.Plugin.CVE),
		Severity:        severity,
		State:           state,
		FirstSeen:       parseTime(rec.FirstFound),
		LastSeen:        parseTime(rec.LastFound),
	}, nil
}

// BatchReport summarizes one normalization pass. Skipped records are
// counted and reported alongside the successfully normalized set.
type BatchReport struct {
	Total   int
	Skipped int
	Errors  *multierror.Error
}

// Batch normalizes a batch of raw records. Malformed records are
// skipped and reported, never fatal.
func Batch(raw []json.RawMessage) ([]models.VulnerabilityRecord, BatchReport) {
	report := BatchReport{Total: len(raw)}
	records := make([]models.VulnerabilityRecord, 0, len(raw))

	for i, r := range raw {
		rec, err := Record(r)
		if err != nil {
			report.Skipped++
			report.Errors = multierror.Append(report.Errors, fmt.Errorf("record %d: %w", i, err))
			telemetry.RecordsSkipped.Inc()
			continue
		}
		records = append(records, rec)
		telemetry.RecordsNormalized.Inc()
	}
	return records, report
}

// findingID derives the stable finding identifier from the asset and
// plugin identity.
func findingID(assetUUID, pluginID string) string {
	sum := sha256.Sum256([]byte(assetUUID + "|" + pluginID))
	return hex.EncodeToString(sum[:])
}

// dedupeCVEs removes duplicates while preserving first-seen order.
func dedupeCVEs(cves []string) []string {
	if len(cves) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(cves))
	var out []string
	for _, cve := range cves {
		cve = strings.TrimSpace(cve)
		if cve == "" || seen[cve] {
			continue
		}
		seen[cve] = true
		out = append(out, cve)
	}
	return out
}

// parseTime accepts the export's ISO timestamps; unparseable values
// yield the zero time rather than an error since the fields are optional.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	// Some exports carry epoch seconds.
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}
