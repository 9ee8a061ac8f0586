package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hawklight/vulnreport/internal/cache"
	"github.com/hawklight/vulnreport/internal/classify"
	"github.com/hawklight/vulnreport/internal/config"
	"github.com/hawklight/vulnreport/internal/export"
	"github.com/hawklight/vulnreport/internal/models"
	"github.com/hawklight/vulnreport/internal/pipeline"
	"github.com/hawklight/vulnreport/internal/reporting"
	"github.com/hawklight/vulnreport/internal/server"
	"github.com/hawklight/vulnreport/internal/storage"
	"github.com/hawklight/vulnreport/internal/telemetry"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: vulnreport <command> [flags]

Commands:
  sync           Run the export pipeline and persist the results
  report         Render a report from a fresh or cached sync
  classify-test  Classify an operating-system string and show the matched rule
  rules          List, add or remove device classification rules
  cache          Show or clear the export cache
  digest         Send the email digest now
  serve          Serve run status, inventory and metrics over HTTP

Run 'vulnreport <command> -h' for command flags.
`)
}

func main() {
	log.SetFlags(log.LstdFlags)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "sync":
		err = runSync(os.Args[2:], true)
	case "report":
		err = runSync(os.Args[2:], false)
	case "classify-test":
		err = runClassifyTest(os.Args[2:])
	case "rules":
		err = runRules(os.Args[2:])
	case "cache":
		err = runCache(os.Args[2:])
	case "digest":
		err = runDigest(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// syncFlags are shared by sync and report; report skips persistence.
func runSync(args []string, persist bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	severity := fs.String("severity", "", "comma-separated severity filter (default critical,high,medium,low)")
	state := fs.String("state", "", "comma-separated state filter (default ACTIVE,RESURFACED)")
	tag := fs.String("tag", "", "asset tag filter (Category:Value)")
	refresh := fs.Bool("refresh", false, "ignore cached data and force a fresh export")
	serversOnly := fs.Bool("servers-only", false, "drop workstations and network devices from the report")
	output := fs.String("output", "", "write the report to a file instead of stdout")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	telemetry.InitMetrics()

	filters := export.DefaultFilters()
	if *severity != "" {
		filters.Severities = splitList(*severity)
	}
	if *state != "" {
		filters.States = splitList(*state)
	}
	if *tag != "" {
		if !strings.Contains(*tag, ":") {
			return fmt.Errorf("tag filter must be Category:Value, got %q", *tag)
		}
		filters.Tag = *tag
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	cacheStore, err := cache.NewStore(cfg.Cache.Dir)
	if err != nil {
		return err
	}

	runner := pipeline.NewRunner(cfg, store, cacheStore, export.NewClient(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := runner.Run(ctx, pipeline.Options{
		Filters:      filters,
		ForceRefresh: *refresh,
		ServersOnly:  *serversOnly,
		Persist:      persist,
	})
	if err != nil {
		return err
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if err := reporting.WriteSummary(out, result); err != nil {
		return err
	}
	reporting.WriteQuickWins(out, result.QuickWins)
	return nil
}

func runClassifyTest(args []string) error {
	fs := flag.NewFlagSet("classify-test", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("usage: vulnreport classify-test <os string>")
	}
	osString := strings.Join(fs.Args(), " ")

	store, rules, err := openStoreWithRules(*configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	classifier, err := classify.NewDeviceClassifier(rules)
	if err != nil {
		return err
	}
	category, rule := classifier.Test(osString)
	fmt.Printf("%q -> %s\n", osString, category)
	if rule != nil {
		fmt.Printf("matched rule: %s (%s)\n", rule.Pattern, rule.Origin)
	} else {
		fmt.Println("matched rule: fallback heuristic")
	}
	return nil
}

func runRules(args []string) error {
	fs := flag.NewFlagSet("rules", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	add := fs.String("add", "", "add a rule: pattern=category")
	remove := fs.Uint("remove", 0, "remove a user rule by id")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	switch {
	case *add != "":
		pattern, category, ok := strings.Cut(*add, "=")
		if !ok {
			return fmt.Errorf("rule must be pattern=category, got %q", *add)
		}
		rule := &models.ClassificationRule{
			Pattern:  pattern,
			Category: models.DeviceCategory(category),
			Origin:   models.OriginUser,
		}
		if err := store.AddClassificationRule(rule); err != nil {
			return err
		}
		fmt.Printf("added rule %d: %s -> %s\n", rule.ID, rule.Pattern, rule.Category)

	case *remove != 0:
		if err := store.DeleteClassificationRule(uint(*remove)); err != nil {
			return err
		}
		fmt.Printf("removed rule %d\n", *remove)

	default:
		rules, err := store.GetClassificationRules()
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			fmt.Println("no user rules defined (built-in rules always apply)")
			return nil
		}
		for _, r := range rules {
			fmt.Printf("%4d  %-40s %s\n", r.ID, r.Pattern, r.Category)
		}
	}
	return nil
}

func runCache(args []string) error {
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	clear := fs.Bool("clear", false, "delete all cached export data")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	cacheStore, err := cache.NewStore(cfg.Cache.Dir)
	if err != nil {
		return err
	}

	if *clear {
		if err := cacheStore.Clear(); err != nil {
			return err
		}
		fmt.Println("cache cleared")
		return nil
	}

	fp := export.DefaultFilters().Fingerprint()
	meta, age, ok := cacheStore.Info(fp)
	if !ok {
		fmt.Println("no cache entry for the default filters")
		return nil
	}
	status := "fresh"
	if cache.IsStale(age, cfg.Cache.MaxAgeHours) {
		status = "stale"
	}
	fmt.Printf("default filters: %d records, age %s (%s)\n", meta.RecordCount, age.Round(time.Minute), status)
	fmt.Printf("filters: %s\n", meta.Filters)
	return nil
}

func runDigest(args []string) error {
	fs := flag.NewFlagSet("digest", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return reporting.NewMailer(cfg.Email, store).SendWeeklyReport()
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	addr := fs.String("addr", ":8080", "listen address")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	telemetry.InitMetrics()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reporting.NewScheduler(reporting.NewMailer(cfg.Email, store)).Start()
	return server.Start(*addr, store, cfg)
}

func openStore(cfg *config.Config) (storage.Store, error) {
	store, err := storage.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := store.AutoMigrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	if err := store.SeedVendorRules(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func openStoreWithRules(configPath string) (storage.Store, []models.ClassificationRule, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	rules, err := store.GetClassificationRules()
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, rules, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
