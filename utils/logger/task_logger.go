// Task-scoped log buffering. Every harvest tasklet registers itself with
// the tracker; lines it logs while registered are buffered and flushed as
// one contiguous block when the tasklet finishes, so concurrent operations
// stay interleaved by task rather than by line.
package logger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/term"
)

type taskKeyType struct{}

var taskKey taskKeyType

type taskBuffer struct {
	label   string
	mu      sync.Mutex
	buf     bytes.Buffer
	handler slog.Handler
}

// Tracker buffers log output per task and queues finished buffers for the
// main thread to drain.
type Tracker struct {
	base slog.Handler

	mu     sync.Mutex
	active map[*taskBuffer]struct{}
	queue  [][]byte
}

func NewTracker(base slog.Handler) *Tracker {
	return &Tracker{
		base:   base,
		active: make(map[*taskBuffer]struct{}),
	}
}

// Track registers a task under the given label and returns the context the
// tasklet must log through. The caller must call Flush with the returned
// context when the tasklet completes.
func (t *Tracker) Track(ctx context.Context, label string) context.Context {
	buf := &taskBuffer{label: label}
	buf.handler = NewHandler(&buf.buf, &slog.HandlerOptions{})

	t.mu.Lock()
	t.active[buf] = struct{}{}
	t.mu.Unlock()

	return context.WithValue(ctx, taskKey, buf)
}

// Flush deregisters the task and moves its buffer onto the global queue.
func (t *Tracker) Flush(ctx context.Context) {
	buf, ok := ctx.Value(taskKey).(*taskBuffer)
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, registered := t.active[buf]; !registered {
		// Double flush is a programmer error; make it visible instead of
		// silently duplicating output.
		panic(fmt.Sprintf("logger: task %q flushed twice", buf.label))
	}
	delete(t.active, buf)

	buf.mu.Lock()
	defer buf.mu.Unlock()
	if buf.buf.Len() > 0 {
		t.queue = append(t.queue, append([]byte(nil), buf.buf.Bytes()...))
	}
}

// Drain writes all queued task blocks to w and clears the queue.
func (t *Tracker) Drain(w io.Writer) {
	t.mu.Lock()
	queue := t.queue
	t.queue = nil
	t.mu.Unlock()

	for _, block := range queue {
		_, _ = w.Write(block)
	}
}

// DumpActive writes every still-registered task buffer to w. Called before
// process termination on a fatal error so no buffered output is lost.
func (t *Tracker) DumpActive(w io.Writer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for buf := range t.active {
		buf.mu.Lock()
		fmt.Fprintf(w, "--- active task %s ---\n", buf.label)
		_, _ = w.Write(buf.buf.Bytes())
		buf.mu.Unlock()
	}
}

// Handler returns a slog.Handler that routes records of tracked contexts
// into their task buffer and everything else to the base handler.
func (t *Tracker) Handler() slog.Handler {
	return &trackingHandler{tracker: t, base: t.base}
}

type trackingHandler struct {
	tracker *Tracker
	base    slog.Handler
	attrs   []slog.Attr
}

func (h *trackingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *trackingHandler) Handle(ctx context.Context, record slog.Record) error {
	buf, ok := ctx.Value(taskKey).(*taskBuffer)
	if !ok {
		return h.base.Handle(ctx, record)
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()
	record.AddAttrs(slog.String("task", buf.label))
	record.AddAttrs(h.attrs...)
	return buf.handler.Handle(ctx, record)
}

func (h *trackingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &trackingHandler{
		tracker: h.tracker,
		base:    h.base.WithAttrs(attrs),
		attrs:   append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *trackingHandler) WithGroup(name string) slog.Handler {
	return &trackingHandler{tracker: h.tracker, base: h.base.WithGroup(name), attrs: h.attrs}
}

// Progress rewrites a single status line when stderr is a terminal;
// otherwise it stays silent so piped logs are not polluted.
func (t *Tracker) Progress(active, queued int) {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return
	}
	fmt.Fprintf(os.Stderr, "\r[harvester] active: %d queued: %d      ", active, queued)
}
