package harvest

import (
	"container/heap"
	"sync"

	"harvester/config"
	"harvester/conversion"
	"harvester/models"
)

// pendingBlob is one downloaded translation response waiting for
// conversion.
type pendingBlob struct {
	item models.HarvestableItem
	blob []byte
}

// settledItem is one finished item with everything its conversion produced.
type settledItem struct {
	item     models.HarvestableItem
	outcomes []conversion.Outcome
}

// idHeap is a min-heap of settled item ids.
type idHeap []uint64

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(uint64)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// emitOrder releases settled items strictly in item-id order, so records
// leave the pipeline in the order their items were discovered regardless of
// which download or conversion finished first.
type emitOrder struct {
	settled map[uint64]settledItem
	ready   idHeap
	next    uint64
}

func newEmitOrder() *emitOrder {
	return &emitOrder{settled: make(map[uint64]settledItem), next: 1}
}

func (o *emitOrder) settle(item models.HarvestableItem, outcomes []conversion.Outcome) {
	o.settled[item.ID] = settledItem{item: item, outcomes: outcomes}
	heap.Push(&o.ready, item.ID)
}

// drain pops every item whose predecessors have all settled.
func (o *emitOrder) drain() []settledItem {
	var out []settledItem
	for len(o.ready) > 0 && o.ready[0] == o.next {
		id := heap.Pop(&o.ready).(uint64)
		out = append(out, o.settled[id])
		delete(o.settled, id)
		o.next++
	}
	return out
}

// forceAdvance skips over a gap in the id sequence. Called only when the
// pipeline is otherwise idle, so the missing ids can never settle anymore.
func (o *emitOrder) forceAdvance() []settledItem {
	if len(o.ready) == 0 {
		return nil
	}
	o.next = o.ready[0]
	return o.drain()
}

func (o *emitOrder) empty() bool {
	return len(o.ready) == 0 && len(o.settled) == 0
}

// journalState is the per-journal pipeline: one source operation, a
// download FIFO, a conversion FIFO and the ordered emitter. All fields are
// guarded by mu; worker goroutines only touch it through the helpers.
type journalState struct {
	journal *config.JournalParams
	group   *config.GroupParams

	mu                  sync.Mutex
	sourceStarted       bool
	sourceDone          bool
	downloadQueue       []models.HarvestableItem
	conversionQueue     []pendingBlob
	downloadsInFlight   int
	conversionsInFlight int
	order               *emitOrder
}

func newJournalState(journal *config.JournalParams, group *config.GroupParams) *journalState {
	return &journalState{journal: journal, group: group, order: newEmitOrder()}
}

func (s *journalState) enqueueDownload(items ...models.HarvestableItem) {
	s.mu.Lock()
	s.downloadQueue = append(s.downloadQueue, items...)
	s.mu.Unlock()
}

func (s *journalState) enqueueConversion(item models.HarvestableItem, blob []byte) {
	s.mu.Lock()
	s.conversionQueue = append(s.conversionQueue, pendingBlob{item: item, blob: blob})
	s.mu.Unlock()
}

func (s *journalState) settle(item models.HarvestableItem, outcomes []conversion.Outcome) {
	s.mu.Lock()
	s.order.settle(item, outcomes)
	s.mu.Unlock()
}

// popDownload takes the oldest queued download, if any.
func (s *journalState) popDownload() (models.HarvestableItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.downloadQueue) == 0 {
		return models.HarvestableItem{}, false
	}
	item := s.downloadQueue[0]
	s.downloadQueue = s.downloadQueue[1:]
	s.downloadsInFlight++
	return item, true
}

func (s *journalState) downloadFinished() {
	s.mu.Lock()
	s.downloadsInFlight--
	s.mu.Unlock()
}

func (s *journalState) popConversion() (pendingBlob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conversionQueue) == 0 {
		return pendingBlob{}, false
	}
	blob := s.conversionQueue[0]
	s.conversionQueue = s.conversionQueue[1:]
	s.conversionsInFlight++
	return blob, true
}

func (s *journalState) conversionFinished() {
	s.mu.Lock()
	s.conversionsInFlight--
	s.mu.Unlock()
}

func (s *journalState) markSourceDone() {
	s.mu.Lock()
	s.sourceDone = true
	s.mu.Unlock()
}

// load returns the in-flight and queued work counts for progress display.
func (s *journalState) load() (active, queued int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active = s.downloadsInFlight + s.conversionsInFlight
	if s.sourceStarted && !s.sourceDone {
		active++
	}
	return active, len(s.downloadQueue) + len(s.conversionQueue)
}

// takeForced advances the emitter past lost item ids and returns whatever
// had settled behind the gap.
func (s *journalState) takeForced() []settledItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.forceAdvance()
}

// idle reports whether no work is queued or in flight for the journal.
func (s *journalState) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceDone &&
		len(s.downloadQueue) == 0 && s.downloadsInFlight == 0 &&
		len(s.conversionQueue) == 0 && s.conversionsInFlight == 0
}

// done reports whether the journal is idle and fully emitted.
func (s *journalState) done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceDone &&
		len(s.downloadQueue) == 0 && s.downloadsInFlight == 0 &&
		len(s.conversionQueue) == 0 && s.conversionsInFlight == 0 &&
		s.order.empty()
}
