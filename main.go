package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"harvester/config"
	"harvester/conversion"
	"harvester/download"
	"harvester/driver"
	"harvester/harvest"
	"harvester/marc"
	"harvester/models"
	"harvester/repository"
	"harvester/utils/logger"
	"harvester/writer"
)

// onlineFirstMaxAgeDays is how long an online-first placeholder blocks
// re-delivery before the purge lets the finalized version through.
const onlineFirstMaxAgeDays = 60

var (
	forceDownloads  bool
	ignoreRobots    bool
	outputDirectory string
	outputFilename  string
	configOverrides string
	metricsAddress  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "harvester <config_file> <mode> [args...]",
		Short: "Harvest scholarly metadata into MARC-XML catalog records",
		Long: `Harvest scholarly metadata into MARC-XML catalog records.

Modes:
  UPLOAD            harvest every journal marked for delivery
  JOURNAL [names]   harvest the named journals, or all journals
  URL <url> [name]  harvest a single URL with the named journal's settings`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	flags := rootCmd.Flags()
	flags.BoolVar(&forceDownloads, "force-downloads", false,
		"bypass the response cache and the delivery-history dedup")
	flags.BoolVar(&ignoreRobots, "ignore-robots-dot-txt", false,
		"download URLs even when robots.txt disallows them")
	flags.StringVar(&outputDirectory, "output-directory", "/tmp/zotero_harvester",
		"root directory for the per-group output files")
	flags.StringVar(&outputFilename, "output-filename", "",
		"output filename, default is a timestamped name")
	flags.StringVar(&configOverrides, "config-overrides", "",
		"semicolon-separated key=value pairs applied to every journal section")
	flags.StringVar(&metricsAddress, "metrics-address", "",
		"listen address for the prometheus scrape endpoint, empty disables it")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logger.Init()
	tracker := logger.NewTracker(log.Handler())
	log = slog.New(tracker.Handler())
	logger.Logger = log

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(args[0], configOverrides)
	if err != nil {
		return err
	}

	journals, err := selectJournals(cfg, args[1], args[2:])
	if err != nil {
		return err
	}
	if len(journals) == 0 {
		return fmt.Errorf("no journals selected for mode %s", args[1])
	}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	// Stale online-first placeholders block the finalized versions of the
	// same articles; purge them before dedup sees them.
	if repo, ok := store.(*repository.DeliveryRepository); ok {
		for _, journal := range journals {
			if journal.UploadOperation == config.UploadLive {
				if _, err := repo.PurgeOnlineFirst(ctx, journal, onlineFirstMaxAgeDays); err != nil {
					log.Warn("online-first purge failed", "journal", journal.Name, "error", err)
				}
			}
		}
	}

	metrics := harvest.NewMetrics(prometheus.DefaultRegisterer)
	if metricsAddress != "" {
		go serveMetrics(metricsAddress, log)
	}

	maps, err := conversion.LoadEnhancementMaps(cfg.Global.EnhancementMapsDir)
	if err != nil {
		return err
	}

	items := models.NewItemManager()
	downloads := download.NewManager(&cfg.Global, items, download.Options{
		ForceDownloads:  forceDownloads,
		IgnoreRobotsTxt: ignoreRobots,
	}, log)
	engine := conversion.NewEngine(cfg, store, maps, conversion.Options{ForceDownloads: forceDownloads}, log)
	out := writer.NewPool(outputDirectory, outputFilename, log)

	dispatcher := harvest.NewDispatcher(cfg, downloads, engine, store, store, out,
		metrics, tracker, os.Stderr, log)

	start := time.Now()
	runErr := dispatcher.Run(ctx, journals)
	if closeErr := out.Close(); runErr == nil {
		runErr = closeErr
	}
	if runErr != nil {
		tracker.DumpActive(os.Stderr)
		return runErr
	}

	fmt.Fprintf(os.Stderr, "\nharvested %d journals in %s\n", len(journals), time.Since(start).Round(time.Second))
	metrics.Summary(os.Stderr)
	return nil
}

// selectJournals resolves the positional mode and its arguments into the
// list of journals to harvest.
func selectJournals(cfg *config.Config, mode string, args []string) ([]*config.JournalParams, error) {
	switch strings.ToUpper(mode) {
	case "UPLOAD":
		var selected []*config.JournalParams
		for _, journal := range cfg.Journals {
			if journal.UploadOperation != config.UploadNone {
				selected = append(selected, journal)
			}
		}
		return selected, nil
	case "JOURNAL":
		if len(args) == 0 {
			return cfg.Journals, nil
		}
		var selected []*config.JournalParams
		for _, name := range args {
			journal := cfg.JournalByName(name)
			if journal == nil {
				return nil, fmt.Errorf("unknown journal %q", name)
			}
			selected = append(selected, journal)
		}
		return selected, nil
	case "URL":
		if len(args) == 0 {
			return nil, fmt.Errorf("URL mode needs a URL argument")
		}
		journal, err := urlJournal(cfg, args)
		if err != nil {
			return nil, err
		}
		return []*config.JournalParams{journal}, nil
	}
	return nil, fmt.Errorf("unknown mode %q, expected UPLOAD, JOURNAL or URL", mode)
}

// urlJournal builds the single-URL journal for URL mode: the named journal's
// settings with the entry point replaced and the operation forced to a
// direct download.
func urlJournal(cfg *config.Config, args []string) (*config.JournalParams, error) {
	var base *config.JournalParams
	if len(args) > 1 {
		base = cfg.JournalByName(args[1])
		if base == nil {
			return nil, fmt.Errorf("unknown journal %q", args[1])
		}
	} else if len(cfg.Journals) > 0 {
		base = cfg.Journals[0]
	} else {
		return nil, fmt.Errorf("URL mode needs at least one configured journal")
	}

	journal := *base
	journal.EntryPointURL = args[0]
	journal.HarvesterOperation = config.HarvesterDirect
	return &journal, nil
}

// deliveryStore is everything the pipeline needs from the delivery-history
// store.
type deliveryStore interface {
	download.DeliveryChecker
	conversion.DeliveryLookup
	harvest.Archiver
}

// openStore connects the delivery-history store. Without DATABASE_URL the
// run proceeds with a store that remembers nothing, which is fine for test
// harvests but refused for uploads.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (deliveryStore, error) {
	if os.Getenv("DATABASE_URL") == "" {
		for _, journal := range cfg.Journals {
			if journal.UploadOperation == config.UploadLive {
				return nil, fmt.Errorf("DATABASE_URL is required when live-upload journals are configured")
			}
		}
		log.Warn("DATABASE_URL not set, delivery history disabled")
		return nullStore{}, nil
	}

	pool, err := driver.Init(ctx)
	if err != nil {
		return nil, err
	}
	if err := driver.EnsureSchema(ctx, pool); err != nil {
		return nil, err
	}
	return repository.NewDeliveryRepository(pool, int64(cfg.Global.MaxConversions), log)
}

// nullStore is the delivery-history store of a database-less run: nothing
// was ever delivered and nothing is recorded.
type nullStore struct{}

func (nullStore) URLAlreadyDelivered(context.Context, string) (bool, error) { return false, nil }

func (nullStore) LastUploadTime(context.Context, int, string) (time.Time, error) {
	return time.Time{}, nil
}

func (nullStore) RecordAlreadyDelivered(context.Context, []string, string) (bool, error) {
	return false, nil
}

func (nullStore) Archive(context.Context, *marc.Record, *config.JournalParams, models.DeliveryState, string) error {
	return nil
}

func (nullStore) TraceFieldPresence(context.Context, *config.JournalParams, *marc.Record) error {
	return nil
}

func serveMetrics(address string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(address, mux); err != nil {
		log.Error("metrics endpoint failed", "error", err)
	}
}
