package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hawklight/vulnreport/internal/models"
)

func TestFetchAndAnnotate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"catalogVersion": "2026.08.01",
			"count": 2,
			"vulnerabilities": [
				{"cveID": "CVE-2021-44228", "vendorProject": "Apache", "product": "Log4j"},
				{"cveID": "CVE-2023-45802", "vendorProject": "Apache", "product": "HTTP Server"}
			]
		}`)
	}))
	defer srv.Close()

	kev, err := NewKEVClient(srv.URL).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, kev, 2)

	records := []models.VulnerabilityRecord{
		{FindingID: "f1", CVEs: []string{"CVE-2021-44228"}},
		{FindingID: "f2", CVEs: []string{"CVE-2020-0001"}},
		{FindingID: "f3", CVEs: []string{"CVE-2020-0001", "CVE-2023-45802"}},
		{FindingID: "f4"},
	}
	flagged := Annotate(records, kev)

	assert.Equal(t, 2, flagged)
	assert.True(t, records[0].KnownExploited)
	assert.False(t, records[1].KnownExploited)
	assert.True(t, records[2].KnownExploited)
	assert.False(t, records[3].KnownExploited)
}

func TestFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewKEVClient(srv.URL).Fetch(context.Background())
	assert.Error(t, err)
}
