package sampledata

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// RawVuln mirrors the export wire shape so generated data exercises the
// same decode path as real exports.
type RawVuln struct {
	Asset struct {
		UUID            string `json:"uuid"`
		Hostname        string `json:"hostname"`
		IPv4            string `json:"ipv4"`
		OperatingSystem string `json:"operating_system"`
	} `json:"asset"`
	Plugin struct {
		ID          int      `json:"id"`
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Solution    string   `json:"solution"`
		Synopsis    string   `json:"synopsis"`
		CVE         []string `json:"cve,omitempty"`
	} `json:"plugin"`
	Severity   string `json:"severity"`
	State      string `json:"state"`
	FirstFound string `json:"first_found"`
	LastFound  string `json:"last_found"`
}

type host struct {
	uuid     string
	hostname string
	ipv4     string
	os       string
}

type plugin struct {
	id       int
	name     string
	desc     string
	solution string
	severity string
	cves     []string
}

var operatingSystems = []string{
	"Microsoft Windows Server 2019 Standard",
	"Microsoft Windows Server 2016 Datacenter",
	"Microsoft Windows Server 2008 R2",
	"Microsoft Windows 10 Enterprise",
	"Ubuntu 20.04.6 LTS",
	"Ubuntu 22.04.3 LTS",
	"CentOS Linux 7",
	"Red Hat Enterprise Linux 8.4",
	"VMware ESXi 7.0.3",
	"Cisco IOS 15.2",
}

var plugins = []plugin{
	{156014, "Apache Log4j Core RCE (Log4Shell)", "A remote code execution vulnerability exists in Apache Log4j versions prior to 2.17.1.", "Upgrade to Apache Log4j version 2.17.1 or later.", "critical", []string{"CVE-2021-44228", "CVE-2021-45046"}},
	{51192, "OpenSSL Padding Oracle Vulnerability", "The remote host is running OpenSSL before 1.1.1t and is affected by a padding oracle.", "Upgrade to OpenSSL version 1.1.1t or later.", "high", []string{"CVE-2022-4304"}},
	{10443, "Microsoft Windows SMB NTLMv1 Authentication Enabled", "The remote Windows host has NTLMv1 authentication enabled.", "Disable NTLMv1 authentication.", "medium", nil},
	{100995, "Apache HTTP Server 2.4.x Multiple Vulnerabilities", "The remote Apache HTTP Server is 2.4.52 which is fixed in 2.4.58.", "Upgrade to Apache HTTP Server version 2.4.58 or later.", "high", []string{"CVE-2023-45802"}},
	{108797, "Unsupported Windows OS", "The remote host is running Windows Server 2008, which has reached end of life and is no longer supported.", "Upgrade to a supported operating system.", "critical", nil},
	{10002, "SSH Server Version Outdated", "The remote SSH server version is earlier than 9.3.", "Upgrade to OpenSSH 9.3 or later.", "medium", []string{"CVE-2023-38408"}},
	{41028, "SNMP Agent Default Community Name (public)", "The SNMP agent on the remote host responds to the default community string.", "Disable the SNMP service or change the community string.", "medium", nil},
	{139239, "PHP < 7.4.21 Multiple Vulnerabilities", "The remote host is running a version of PHP prior to 7.4.21.", "Upgrade to PHP version 7.4.21 or later.", "high", []string{"CVE-2021-21705"}},
	{58987, "TLS Version 1.0 Protocol Detected", "The remote service accepts connections encrypted using TLS 1.0, a deprecated protocol.", "Enable support for TLS 1.2 and 1.3, and disable TLS 1.0.", "low", nil},
	{19506, "Scan Information", "Informational plugin reporting scan metadata.", "n/a", "info", nil},
}

var states = []string{"ACTIVE", "ACTIVE", "ACTIVE", "NEW", "RESURFACED"}

// Generate writes sample export records as NDJSON files under outputDir,
// one file per simulated chunk.
func Generate(outputDir string, numAssets, chunks int, seed int64) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	records := Records(numAssets, seed)

	perChunk := (len(records) + chunks - 1) / chunks
	for c := 0; c < chunks; c++ {
		start := c * perChunk
		if start >= len(records) {
			break
		}
		end := start + perChunk
		if end > len(records) {
			end = len(records)
		}
		path := filepath.Join(outputDir, fmt.Sprintf("chunk_%d.ndjson", c))
		if err := writeChunk(path, records[start:end]); err != nil {
			return err
		}
		fmt.Printf("Created %s (%d records)\n", path, end-start)
	}
	return nil
}

// Records produces a deterministic set of raw export records for the
// given seed.
func Records(numAssets int, seed int64) []RawVuln {
	r := rand.New(rand.NewSource(seed))

	hosts := make([]host, numAssets)
	for i := range hosts {
		hosts[i] = host{
			uuid:     deterministicUUID(r),
			hostname: fmt.Sprintf("host-%03d.corp.local", i+1),
			ipv4:     fmt.Sprintf("10.20.%d.%d", i/250, 1+i%250),
			os:       operatingSystems[r.Intn(len(operatingSystems))],
		}
	}

	var records []RawVuln
	now := time.Now()
	for _, h := range hosts {
		// Each host gets 2-6 findings.
		count := 2 + r.Intn(5)
		used := make(map[int]bool)
		for f := 0; f < count; f++ {
			p := plugins[r.Intn(len(plugins))]
			if used[p.id] {
				continue
			}
			used[p.id] = true

			var rec RawVuln
			rec.Asset.UUID = h.uuid
			rec.Asset.Hostname = h.hostname
			rec.Asset.IPv4 = h.ipv4
			rec.Asset.OperatingSystem = h.os
			rec.Plugin.ID = p.id
			rec.Plugin.Name = p.name
			rec.Plugin.Description = p.desc
			rec.Plugin.Solution = p.solution
			rec.Plugin.Synopsis = p.name
			rec.Plugin.CVE = p.cves
			rec.Severity = p.severity
			rec.State = states[r.Intn(len(states))]
			firstSeen := now.AddDate(0, 0, -(1 + r.Intn(120)))
			rec.FirstFound = firstSeen.Format(time.RFC3339)
			rec.LastFound = now.Format(time.RFC3339)
			records = append(records, rec)
		}
	}
	return records
}

func writeChunk(path string, records []RawVuln) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

func deterministicUUID(r *rand.Rand) string {
	var b [16]byte
	r.Read(b[:])
	id, err := uuid.FromBytes(b[:])
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
