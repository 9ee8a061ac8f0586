package export

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Filters describes the shape of one export request. Identical filter
// sets must produce identical fingerprints regardless of list order.
type Filters struct {
	Severities  []string `json:"severities,omitempty"`
	States      []string `json:"states,omitempty"`
	Tag         string   `json:"tag,omitempty"` // "Category:Value"
	DeviceScope string   `json:"device_scope,omitempty"`
}

// DefaultFilters returns the filter set used when the caller specifies
// nothing: active findings of reportable severity, Info excluded.
func DefaultFilters() Filters {
	return Filters{
		Severities: []string{"critical", "high", "medium", "low"},
		States:     []string{"ACTIVE", "RESURFACED"},
	}
}

// normalized returns a copy with list values lower/upper-cased and
// sorted so that equal sets serialize identically.
func (f Filters) normalized() Filters {
	n := Filters{Tag: f.Tag, DeviceScope: f.DeviceScope}
	for _, s := range f.Severities {
		n.Severities = append(n.Severities, strings.ToLower(strings.TrimSpace(s)))
	}
	for _, s := range f.States {
		n.States = append(n.States, strings.ToUpper(strings.TrimSpace(s)))
	}
	sort.Strings(n.Severities)
	sort.Strings(n.States)
	return n
}

// Fingerprint returns the deterministic cache key for this filter set.
func (f Filters) Fingerprint() string {
	// json.Marshal on the normalized struct is stable: fixed field
	// order, sorted lists.
	data, _ := json.Marshal(f.normalized())
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Describe returns a short human-readable description of the filter
// set for cache inspection and log lines.
func (f Filters) Describe() string {
	n := f.normalized()
	var parts []string
	if len(n.Severities) > 0 {
		parts = append(parts, "severity="+strings.Join(n.Severities, ","))
	}
	if len(n.States) > 0 {
		parts = append(parts, "state="+strings.Join(n.States, ","))
	}
	if n.Tag != "" {
		parts = append(parts, "tag="+n.Tag)
	}
	if n.DeviceScope != "" {
		parts = append(parts, "device="+n.DeviceScope)
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, " ")
}

// apiPayload builds the filter object sent to the export endpoint.
func (f Filters) apiPayload() map[string]interface{} {
	n := f.normalized()
	payload := map[string]interface{}{}
	if len(n.Severities) > 0 {
		payload["severity"] = n.Severities
	}
	if len(n.States) > 0 {
		payload["state"] = n.States
	}
	if n.Tag != "" {
		if category, value, ok := strings.Cut(n.Tag, ":"); ok {
			payload[fmt.Sprintf("tag.%s", category)] = []string{value}
		}
	}
	return payload
}
