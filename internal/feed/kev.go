package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hawklight/vulnreport/internal/models"
)

const DefaultKEVURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"

type CISAFeed struct {
	Title           string         `json:"title"`
	CatalogVersion  string         `json:"catalogVersion"`
	DateReleased    time.Time      `json:"dateReleased"`
	Count           int            `json:"count"`
	Vulnerabilities []CISAVulnItem `json:"vulnerabilities"`
}

type CISAVulnItem struct {
	CveID             string `json:"cveID"`
	VendorProject     string `json:"vendorProject"`
	Product           string `json:"product"`
	VulnerabilityName string `json:"vulnerabilityName"`
	DateAdded         string `json:"dateAdded"`
	ShortDescription  string `json:"shortDescription"`
	RequiredAction    string `json:"requiredAction"`
	DueDate           string `json:"dueDate"`
}

// KEVClient downloads the CISA Known Exploited Vulnerabilities catalog
// and flags records whose CVEs appear in it.
type KEVClient struct {
	url        string
	httpClient *http.Client
}

func NewKEVClient(url string) *KEVClient {
	if url == "" {
		url = DefaultKEVURL
	}
	return &KEVClient{
		url:        url,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Fetch downloads the catalog and returns the set of listed CVE IDs.
func (c *KEVClient) Fetch(ctx context.Context) (map[string]bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching KEV catalog: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("KEV catalog fetch returned %s", resp.Status)
	}

	var feed CISAFeed
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decoding KEV catalog: %w", err)
	}

	kev := make(map[string]bool, len(feed.Vulnerabilities))
	for _, v := range feed.Vulnerabilities {
		kev[v.CveID] = true
	}
	log.Printf("KEV catalog %s loaded, %d CVEs", feed.CatalogVersion, len(kev))
	return kev, nil
}

// Annotate flags every record carrying a KEV-listed CVE. Returns the
// number of records flagged.
func Annotate(records []models.VulnerabilityRecord, kev map[string]bool) int {
	flagged := 0
	for i := range records {
		for _, cve := range records[i].CVEs {
			if kev[cve] {
				records[i].KnownExploited = true
				flagged++
				break
			}
		}
	}
	return flagged
}
