package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hawklight/vulnreport/internal/cache"
	"github.com/hawklight/vulnreport/internal/classify"
	"github.com/hawklight/vulnreport/internal/config"
	"github.com/hawklight/vulnreport/internal/detect"
	"github.com/hawklight/vulnreport/internal/export"
	"github.com/hawklight/vulnreport/internal/feed"
	"github.com/hawklight/vulnreport/internal/grouping"
	"github.com/hawklight/vulnreport/internal/models"
	"github.com/hawklight/vulnreport/internal/normalize"
	"github.com/hawklight/vulnreport/internal/quickwins"
	"github.com/hawklight/vulnreport/internal/storage"
	"github.com/hawklight/vulnreport/internal/telemetry"
)

// Options controls one pipeline run.
type Options struct {
	Filters export.Filters

	// ForceRefresh skips the cache read and always exports.
	ForceRefresh bool

	// ServersOnly drops records classified as workstations, network
	// gear or unknown before grouping.
	ServersOnly bool

	// Persist writes servers, findings and the run record to the store.
	Persist bool
}

// Result is everything a report renderer needs from one run.
type Result struct {
	RunID     string
	Tree      *grouping.Node
	Records   []models.VulnerabilityRecord
	QuickWins []*models.VulnerabilityRecord
	Summary   Summary
	FromCache bool
}

// Runner wires the export client, cache, store and classification
// stages into the sync pipeline.
type Runner struct {
	cfg    *config.Config
	store  storage.Store
	cache  *cache.Store
	client *export.Client
	kev    *feed.KEVClient

	now func() time.Time
}

func NewRunner(cfg *config.Config, store storage.Store, cacheStore *cache.Store, client *export.Client) *Runner {
	r := &Runner{
		cfg:    cfg,
		store:  store,
		cache:  cacheStore,
		client: client,
		now:    time.Now,
	}
	if cfg.KEV.Enabled {
		r.kev = feed.NewKEVClient(cfg.KEV.URL)
	}
	return r
}

// Run executes the full pipeline: fetch (cache or export), normalize,
// classify, detect, flag, group, and optionally persist. Stages after
// the fetch run as a single sequential pass; per-record classification
// has no cross-record dependency.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	start := r.now()
	fingerprint := opts.Filters.Fingerprint()
	log.Printf("pipeline: starting run for %s (fingerprint %s)", opts.Filters.Describe(), fingerprint[:12])

	payload, jobID, fromCache, err := r.fetch(ctx, opts, fingerprint)
	if err != nil {
		return nil, err
	}

	rawRecords := export.SplitRecords(payload)
	records, report := normalize.Batch(rawRecords)
	if report.Skipped > 0 {
		log.Printf("pipeline: skipped %d of %d malformed records", report.Skipped, report.Total)
	}

	if err := r.classifyAll(records); err != nil {
		return nil, err
	}

	// Enrichment is best effort: the report ships without exploit
	// flags when the catalog is unreachable.
	if r.kev != nil {
		if kev, err := r.kev.Fetch(ctx); err != nil {
			log.Printf("pipeline: KEV enrichment skipped: %v", err)
		} else if flagged := feed.Annotate(records, kev); flagged > 0 {
			log.Printf("pipeline: %d findings carry known-exploited CVEs", flagged)
		}
	}

	if opts.ServersOnly {
		records = filterServers(records)
	}

	mappings, err := r.applicationMappings()
	if err != nil {
		return nil, err
	}
	tree := grouping.NewGrouper(mappings).Build(records)

	result := &Result{
		RunID:     uuid.NewString(),
		Tree:      tree,
		Records:   records,
		QuickWins: collectQuickWins(records),
		FromCache: fromCache,
	}
	result.Summary = buildSummary(result, report, start, r.now())

	if opts.Persist {
		if err := r.persist(result, opts, fingerprint, jobID, report, start); err != nil {
			return nil, fmt.Errorf("persisting run results: %w", err)
		}
	}

	log.Printf("pipeline: run %s complete, %d records, %d assets, %d quick wins (%.1fs)",
		result.RunID, len(records), result.Summary.TotalAssets, len(result.QuickWins),
		r.now().Sub(start).Seconds())
	return result, nil
}

// fetch returns the raw payload from the cache or from a fresh export.
// A fresh entry short-circuits the export. A stale entry is kept as a
// fallback: when the export fails and stale data exists, the run
// proceeds on it with a warning instead of failing outright.
func (r *Runner) fetch(ctx context.Context, opts Options, fingerprint string) (payload []byte, jobID string, fromCache bool, err error) {
	var stale *cache.Entry
	if !opts.ForceRefresh {
		if entry, ok := r.cache.Get(fingerprint); ok {
			if !cache.IsStale(entry.Age, r.cfg.Cache.MaxAgeHours) {
				telemetry.CacheHits.Inc()
				log.Printf("pipeline: cache hit (age %s)", entry.Age.Round(time.Minute))
				return entry.Payload, "", true, nil
			}
			stale = entry
		}
		telemetry.CacheMisses.Inc()
	}

	exportResult, err := r.client.Export(ctx, opts.Filters)
	if err != nil {
		if stale != nil {
			log.Printf("pipeline: export failed (%v); falling back to stale cache entry (age %s)", err, stale.Age.Round(time.Minute))
			return stale.Payload, "", true, nil
		}
		return nil, "", false, err
	}

	payload = export.JoinRecords(exportResult.Records)
	if err := r.cache.Put(fingerprint, payload, opts.Filters.Describe(), len(exportResult.Records)); err != nil {
		// A failed cache write costs a refetch next run, nothing more.
		log.Printf("pipeline: cache write failed: %v", err)
	}
	return payload, exportResult.JobID, false, nil
}

// classifyAll runs device classification, vendor detection and
// quick-win flagging over every record in place.
func (r *Runner) classifyAll(records []models.VulnerabilityRecord) error {
	classRules, err := r.store.GetClassificationRules()
	if err != nil {
		return fmt.Errorf("loading classification rules: %w", err)
	}
	vendorRules, err := r.store.GetVendorProductRules()
	if err != nil {
		return fmt.Errorf("loading vendor rules: %w", err)
	}

	classifier, err := classify.NewDeviceClassifier(classRules)
	if err != nil {
		return err
	}
	detector, err := detect.NewVendorDetector(vendorRules)
	if err != nil {
		return err
	}
	flagger := quickwins.NewDetector()

	for i := range records {
		rec := &records[i]
		rec.DeviceType = classifier.Classify(rec.OperatingSystem)

		d := detector.DetectRecord(rec)
		rec.Vendor = d.Vendor
		rec.Product = d.Product
		rec.VendorConfidence = d.Confidence

		rec.QuickWin = flagger.Detect(rec)
	}
	return nil
}

// applicationMappings resolves hostname to application name from the
// persisted mapping table.
func (r *Runner) applicationMappings() (map[string]string, error) {
	mappings, err := r.store.GetApplicationMappings()
	if err != nil {
		return nil, fmt.Errorf("loading application mappings: %w", err)
	}
	if len(mappings) == 0 {
		return nil, nil
	}

	servers, err := r.store.GetServers()
	if err != nil {
		return nil, err
	}
	hostByID := make(map[string]string, len(servers))
	for _, srv := range servers {
		hostByID[srv.ID] = srv.Hostname
	}

	byHostname := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if host, ok := hostByID[m.ServerID]; ok {
			byHostname[host] = m.Application.Name
		}
	}
	return byHostname, nil
}

func (r *Runner) persist(result *Result, opts Options, fingerprint, jobID string, report normalize.BatchReport, start time.Time) error {
	seen := make(map[string]bool)
	for i := range result.Records {
		rec := &result.Records[i]
		key := rec.AssetUUID
		if key == "" {
			key = rec.Hostname
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		server := &models.Server{
			ID:              uuid.NewString(),
			Hostname:        rec.Hostname,
			AssetUUID:       rec.AssetUUID,
			IPv4:            rec.IPv4,
			OperatingSystem: rec.OperatingSystem,
			DeviceType:      rec.DeviceType,
			LastSeen:        start,
		}
		if err := r.store.UpsertServer(server); err != nil {
			return err
		}
	}

	stored := make([]models.StoredVulnerability, 0, len(result.Records))
	for i := range result.Records {
		stored = append(stored, toStored(&result.Records[i]))
	}
	if err := r.store.ReplaceVulnerabilities(stored); err != nil {
		return err
	}

	if _, err := r.store.MarkStaleServers(start); err != nil {
		return err
	}

	filtersJSON, _ := json.Marshal(opts.Filters)
	return r.store.CreateReportRun(&models.ReportRun{
		ID:             result.RunID,
		FiltersJSON:    string(filtersJSON),
		Fingerprint:    fingerprint,
		ExportJobID:    jobID,
		FromCache:      result.FromCache,
		TotalVulns:     len(result.Records),
		TotalAssets:    result.Summary.TotalAssets,
		SkippedRecords: report.Skipped,
		RuntimeSeconds: r.now().Sub(start).Seconds(),
	})
}

func toStored(rec *models.VulnerabilityRecord) models.StoredVulnerability {
	quickWin := ""
	if rec.QuickWin != nil {
		quickWin = string(rec.QuickWin.Category)
	}
	return models.StoredVulnerability{
		FindingID:       rec.FindingID,
		AssetUUID:       rec.AssetUUID,
		Hostname:        rec.Hostname,
		IPv4:            rec.IPv4,
		OperatingSystem: rec.OperatingSystem,
		DeviceType:      rec.DeviceType,
		PluginID:        rec.PluginID,
		PluginName:      rec.PluginName,
		Severity:        rec.Severity,
		State:           rec.State,
		CVEs:            strings.Join(rec.CVEs, ","),
		Vendor:          rec.Vendor,
		Product:         rec.Product,
		Solution:        rec.Solution,
		Description:     rec.Description,
		QuickWin:        quickWin,
		KnownExploited:  rec.KnownExploited,
		FirstSeen:       rec.FirstSeen,
		LastSeen:        rec.LastSeen,
	}
}

func filterServers(records []models.VulnerabilityRecord) []models.VulnerabilityRecord {
	kept := records[:0]
	for _, rec := range records {
		if rec.DeviceType == models.DeviceServer {
			kept = append(kept, rec)
		}
	}
	return kept
}

func collectQuickWins(records []models.VulnerabilityRecord) []*models.VulnerabilityRecord {
	var wins []*models.VulnerabilityRecord
	for i := range records {
		if records[i].QuickWin != nil {
			wins = append(wins, &records[i])
		}
	}
	return wins
}
