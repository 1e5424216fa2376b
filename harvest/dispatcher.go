// Package harvest drives the pipeline: one source operation per journal
// feeds a download queue, downloads feed a conversion queue, and converted
// records leave through the ordered emitter into the output writers.
package harvest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"harvester/config"
	"harvester/conversion"
	"harvester/download"
	"harvester/marc"
	"harvester/models"
	"harvester/utils/logger"
	"harvester/writer"
)

// pollInterval paces the dispatcher loop; short enough that freed workers
// pick up queued work promptly, long enough not to spin.
const pollInterval = 64 * time.Millisecond

// Archiver is the slice of the delivery-history store the dispatcher needs
// to record emitted records and their field inventory.
type Archiver interface {
	Archive(ctx context.Context, record *marc.Record, journal *config.JournalParams, state models.DeliveryState, errorMessage string) error
	TraceFieldPresence(ctx context.Context, journal *config.JournalParams, record *marc.Record) error
}

// Dispatcher owns the worker pools and the per-journal pipelines of one
// run.
type Dispatcher struct {
	cfg       *config.Config
	downloads *download.Manager
	engine    *conversion.Engine
	checker   download.DeliveryChecker
	archiver  Archiver
	out       *writer.Pool
	metrics   *Metrics
	tracker   *logger.Tracker
	logOutput io.Writer
	logger    *slog.Logger

	semDirect  *semaphore.Weighted
	semCrawl   *semaphore.Weighted
	semFeed    *semaphore.Weighted
	semConvert *semaphore.Weighted

	wg sync.WaitGroup
}

func NewDispatcher(cfg *config.Config, downloads *download.Manager, engine *conversion.Engine,
	checker download.DeliveryChecker, archiver Archiver, out *writer.Pool,
	metrics *Metrics, tracker *logger.Tracker, logOutput io.Writer, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg,
		downloads:  downloads,
		engine:     engine,
		checker:    checker,
		archiver:   archiver,
		out:        out,
		metrics:    metrics,
		tracker:    tracker,
		logOutput:  logOutput,
		logger:     log,
		semDirect:  semaphore.NewWeighted(poolSize(cfg.Global.MaxDirectDownloads)),
		semCrawl:   semaphore.NewWeighted(poolSize(cfg.Global.MaxCrawls)),
		semFeed:    semaphore.NewWeighted(poolSize(cfg.Global.MaxFeeds)),
		semConvert: semaphore.NewWeighted(poolSize(cfg.Global.MaxConversions)),
	}
}

func poolSize(n int) int64 {
	if n <= 0 {
		return 4
	}
	return int64(n)
}

// Run harvests the given journals to completion or context cancellation.
func (d *Dispatcher) Run(ctx context.Context, journals []*config.JournalParams) error {
	states := make([]*journalState, 0, len(journals))
	for _, journal := range journals {
		group := d.cfg.GroupOf(journal)
		if group == nil {
			d.logger.Warn("journal has no group, skipping", "journal", journal.Name)
			continue
		}
		states = append(states, newJournalState(journal, group))
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		progress := false
		allDone := true
		active, queued := 0, 0

		for _, state := range states {
			if state.done() {
				continue
			}
			allDone = false
			if d.pump(ctx, state) {
				progress = true
			}
			if d.emit(ctx, state) {
				progress = true
			}
			a, q := state.load()
			active += a
			queued += q
		}

		if d.tracker != nil {
			d.tracker.Drain(d.logOutput)
			d.tracker.Progress(active, queued)
		}

		if allDone {
			break
		}

		// A stalled pipeline with nothing in flight means item ids were lost
		// to failures upstream; release whatever has settled.
		if !progress {
			for _, state := range states {
				if state.idle() && !state.done() {
					d.release(ctx, state, state.takeForced())
				}
			}
		}

		select {
		case <-ctx.Done():
			d.wg.Wait()
			if d.tracker != nil {
				d.tracker.Drain(d.logOutput)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}

	d.wg.Wait()
	if d.tracker != nil {
		d.tracker.Drain(d.logOutput)
	}
	return nil
}

// pump starts whatever work the journal has ready and pool capacity allows.
// Reports whether anything was launched.
func (d *Dispatcher) pump(ctx context.Context, state *journalState) bool {
	launched := false

	state.mu.Lock()
	needSource := !state.sourceStarted
	if needSource {
		state.sourceStarted = true
	}
	state.mu.Unlock()

	if needSource {
		d.startSource(ctx, state)
		launched = true
	}

	for {
		if !d.semDirect.TryAcquire(1) {
			break
		}
		item, ok := state.popDownload()
		if !ok {
			d.semDirect.Release(1)
			break
		}
		launched = true
		d.wg.Add(1)
		go d.runDownload(ctx, state, item)
	}

	for {
		if !d.semConvert.TryAcquire(1) {
			break
		}
		blob, ok := state.popConversion()
		if !ok {
			d.semConvert.Release(1)
			break
		}
		launched = true
		d.wg.Add(1)
		go d.runConversion(ctx, state, blob)
	}

	return launched
}

// startSource launches the journal's source operation on the matching pool.
func (d *Dispatcher) startSource(ctx context.Context, state *journalState) {
	journal := state.journal
	entry := d.downloads.NewItem(journal, journal.EntryPointURL)

	if journal.HarvesterOperation == config.HarvesterDirect {
		// The entry point is the single download; no separate source task.
		state.enqueueDownload(entry)
		state.markSourceDone()
		return
	}

	sem := d.semFeed
	if journal.HarvesterOperation == config.HarvesterCrawl {
		sem = d.semCrawl
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := sem.Acquire(ctx, 1); err != nil {
			state.settle(entry, nil)
			state.markSourceDone()
			return
		}
		defer sem.Release(1)

		tctx := ctx
		if d.tracker != nil {
			tctx = d.tracker.Track(ctx, journal.HarvesterOperation.String()+" "+journal.Name)
			defer d.tracker.Flush(tctx)
		}

		d.runSource(tctx, state, entry)
		state.settle(entry, nil)
		state.markSourceDone()
	}()
}

func (d *Dispatcher) runSource(ctx context.Context, state *journalState, entry models.HarvestableItem) {
	journal := state.journal
	userAgent := state.group.UserAgent

	switch journal.HarvesterOperation {
	case config.HarvesterRSS:
		result := d.downloads.Feed(ctx, entry, userAgent, d.checker)
		if result.Error != nil {
			d.logger.ErrorContext(ctx, "feed failed", "journal", journal.Name, "error", result.Error)
			d.metrics.DownloadFailed()
		}
		d.metrics.SourceSkipped("feed_already_delivered", result.NumSkippedDelivered)
		d.metrics.SourceSkipped("feed_outdated", result.NumSkippedOutdated)
		state.enqueueDownload(result.Items...)
	case config.HarvesterCrawl:
		result := d.downloads.Crawl(ctx, entry, userAgent)
		if result.Error != nil {
			d.logger.ErrorContext(ctx, "crawl failed", "journal", journal.Name, "error", result.Error)
			d.metrics.DownloadFailed()
		}
		d.metrics.SourceSkipped("crawl_unmatched_links", result.NumSkippedSinceRegex)
		state.enqueueDownload(result.Items...)
	case config.HarvesterAPIQuery:
		result := d.downloads.APIQuery(ctx, entry)
		if result.Error != nil {
			d.logger.ErrorContext(ctx, "api query failed", "journal", journal.Name, "error", result.Error)
			d.metrics.DownloadFailed()
		}
		state.enqueueDownload(result.Items...)
	case config.HarvesterEmail:
		result := d.downloads.EmailCrawl(ctx, entry, d.cfg.Global.Mailboxes)
		if result.Error != nil {
			d.logger.ErrorContext(ctx, "mailbox scan failed", "journal", journal.Name, "error", result.Error)
		}
		state.enqueueDownload(result.Items...)
	}
}

func (d *Dispatcher) runDownload(ctx context.Context, state *journalState, item models.HarvestableItem) {
	defer d.wg.Done()
	defer d.semDirect.Release(1)
	defer state.downloadFinished()

	tctx := ctx
	if d.tracker != nil {
		tctx = d.tracker.Track(ctx, "download "+item.String())
		defer d.tracker.Flush(tctx)
	}

	result := d.downloads.DirectDownload(tctx, item, state.group.UserAgent, download.ModeTranslated)
	if !result.Successful() {
		d.logger.WarnContext(tctx, "download failed", "item", item.String(), "error", result.Error)
		d.metrics.DownloadFailed()
		state.settle(item, nil)
		return
	}
	d.metrics.DownloadSucceeded(result.FromCache)
	state.enqueueConversion(item, result.Body)
}

func (d *Dispatcher) runConversion(ctx context.Context, state *journalState, blob pendingBlob) {
	defer d.wg.Done()
	defer d.semConvert.Release(1)
	defer state.conversionFinished()

	tctx := ctx
	if d.tracker != nil {
		tctx = d.tracker.Track(ctx, "convert "+blob.item.String())
		defer d.tracker.Flush(tctx)
	}

	outcomes := d.engine.Convert(tctx, blob.item, blob.blob)
	state.settle(blob.item, outcomes)
}

// emit drains the journal's ordered emitter. Reports whether anything left
// the pipeline.
func (d *Dispatcher) emit(ctx context.Context, state *journalState) bool {
	state.mu.Lock()
	ready := state.order.drain()
	state.mu.Unlock()
	if len(ready) == 0 {
		return false
	}
	d.release(ctx, state, ready)
	return true
}

// release writes, archives and counts everything the emitter handed out.
func (d *Dispatcher) release(ctx context.Context, state *journalState, ready []settledItem) {
	for _, settled := range ready {
		for _, outcome := range settled.outcomes {
			switch {
			case outcome.Error != nil:
				d.logger.ErrorContext(ctx, "conversion failed",
					"item", settled.item.String(), "error", outcome.Error)
				d.metrics.ConversionFailed()
			case outcome.Skip != conversion.SkipNone:
				d.metrics.ConversionSkipped(outcome.Skip.String())
			case outcome.Record != nil:
				if err := d.out.Write(state.group, outcome.Record); err != nil {
					d.logger.ErrorContext(ctx, "failed to write record",
						"item", settled.item.String(), "error", err)
					continue
				}
				if state.journal.UploadOperation == config.UploadLive {
					if err := d.archiver.Archive(ctx, outcome.Record, state.journal,
						models.DeliveryAutomatic, ""); err != nil {
						d.logger.ErrorContext(ctx, "failed to archive record",
							"item", settled.item.String(), "error", err)
					}
					if err := d.archiver.TraceFieldPresence(ctx, state.journal, outcome.Record); err != nil {
						d.logger.WarnContext(ctx, "failed to trace field presence",
							"item", settled.item.String(), "error", err)
					}
				}
				d.metrics.RecordEmitted(state.group.Name)
			}
		}
	}
}
