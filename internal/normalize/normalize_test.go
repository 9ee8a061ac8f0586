package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hawklight/vulnreport/internal/models"
)

func validRaw() string {
	return `{
		"asset": {"uuid": "a-1", "hostname": "web01.corp.local", "ipv4": "10.0.0.5", "operating_system": "Ubuntu 22.04.3 LTS"},
		"plugin": {"id": 100995, "name": "Apache HTTP Server Multiple Vulnerabilities", "cve": ["CVE-2023-45802", "CVE-2023-45802", "CVE-2023-43622"]},
		"severity": "high",
		"state": "ACTIVE",
		"first_found": "2026-05-01T10:00:00Z",
		"last_found": "2026-08-20T10:00:00Z"
	}`
}

func TestRecordNormalizesValidInput(t *testing.T) {
	rec, err := Record(json.RawMessage(validRaw()))
	require.NoError(t, err)

	assert.Equal(t, "a-1", rec.AssetUUID)
	assert.Equal(t, "web01.corp.local", rec.Hostname)
	assert.Equal(t, "100995", rec.PluginID)
	assert.Equal(t, models.SeverityHigh, rec.Severity)
	assert.Equal(t, models.StateActive, rec.State)
	assert.NotEmpty(t, rec.FindingID)
	assert.Equal(t, 2026, rec.FirstSeen.Year())
}

func TestRecordMissingFieldsListed(t *testing.T) {
	_, err := Record(json.RawMessage(`{"plugin": {"name": "x"}, "state": "ACTIVE"}`))
	require.Error(t, err)

	var nerr *NormalizationError
	require.ErrorAs(t, err, &nerr)
	assert.ElementsMatch(t, []string{"asset.uuid", "plugin.id", "severity"}, nerr.MissingFields)
}

func TestRecordUnknownSeverityRejected(t *testing.T) {
	raw := `{"asset": {"uuid": "a-1"}, "plugin": {"id": 1}, "severity": "catastrophic"}`
	_, err := Record(json.RawMessage(raw))
	require.Error(t, err)

	var nerr *NormalizationError
	assert.ErrorAs(t, err, &nerr)
}

func TestRecordSeverityCaseInsensitive(t *testing.T) {
	raw := `{"asset": {"uuid": "a-1"}, "plugin": {"id": 1}, "severity": "CRITICAL", "state": "active"}`
	rec, err := Record(json.RawMessage(raw))
	require.NoError(t, err)

	assert.Equal(t, models.SeverityCritical, rec.Severity)
	assert.Equal(t, models.StateActive, rec.State)
}

func TestRecordStateDefaultsToActive(t *testing.T) {
	raw := `{"asset": {"uuid": "a-1"}, "plugin": {"id": 1}, "severity": "low"}`
	rec, err := Record(json.RawMessage(raw))
	require.NoError(t, err)
	assert.Equal(t, models.StateActive, rec.State)
}

func TestRecordHostnameDefaults(t *testing.T) {
	raw := `{"asset": {"uuid": "a-1"}, "plugin": {"id": 1}, "severity": "low"}`
	rec, err := Record(json.RawMessage(raw))
	require.NoError(t, err)
	assert.Equal(t, "unknown", rec.Hostname)
}

func TestRecordCVEDedupePreservesOrder(t *testing.T) {
	rec, err := Record(json.RawMessage(validRaw()))
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2023-45802", "CVE-2023-43622"}, rec.CVEs)
}

func TestRecordListValuedHostname(t *testing.T) {
	raw := `{"asset": {"uuid": "a-1", "hostname": ["web01", "web01.corp.local"]}, "plugin": {"id": 1}, "severity": "low"}`
	rec, err := Record(json.RawMessage(raw))
	require.NoError(t, err)
	assert.Equal(t, "web01, web01.corp.local", rec.Hostname)
}

func TestFindingIDStable(t *testing.T) {
	a, err := Record(json.RawMessage(validRaw()))
	require.NoError(t, err)
	b, err := Record(json.RawMessage(validRaw()))
	require.NoError(t, err)
	assert.Equal(t, a.FindingID, b.FindingID)
}

func TestBatchSkipsMalformedRecords(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(validRaw()),
		json.RawMessage(`{"severity": "low"}`),
		json.RawMessage(`not even json`),
		json.RawMessage(validRaw()),
	}

	records, report := Batch(raw)
	assert.Len(t, records, 2)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 2, report.Skipped)
	assert.Error(t, report.Errors.ErrorOrNil())
}

func TestBatchEmptyInput(t *testing.T) {
	records, report := Batch(nil)
	assert.Empty(t, records)
	assert.Zero(t, report.Total)
	assert.Zero(t, report.Skipped)
}
