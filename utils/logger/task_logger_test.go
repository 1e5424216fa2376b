package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTracker(base *bytes.Buffer) (*Tracker, *slog.Logger) {
	tracker := NewTracker(slog.NewTextHandler(base, &slog.HandlerOptions{}))
	return tracker, slog.New(tracker.Handler())
}

func outputLines(out *bytes.Buffer) []string {
	var lines []string
	for _, line := range strings.Split(out.String(), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestTrackedLinesStayContiguous(t *testing.T) {
	var base, out bytes.Buffer
	tracker, log := testTracker(&base)

	alpha := tracker.Track(context.Background(), "alpha")
	beta := tracker.Track(context.Background(), "beta")

	// Interleaved logging; the flushed blocks must come out whole.
	log.InfoContext(alpha, "a1")
	log.InfoContext(beta, "b1")
	log.InfoContext(alpha, "a2")
	log.InfoContext(beta, "b2")

	tracker.Flush(alpha)
	tracker.Flush(beta)
	tracker.Drain(&out)

	lines := outputLines(&out)
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "a1")
	assert.Contains(t, lines[1], "a2")
	assert.Contains(t, lines[2], "b1")
	assert.Contains(t, lines[3], "b2")
	assert.Contains(t, lines[0], "task=alpha")
	assert.Contains(t, lines[2], "task=beta")
	assert.Empty(t, base.String(), "tracked lines must not hit the base handler")
}

func TestConcurrentTasksNeverInterleave(t *testing.T) {
	var base, out bytes.Buffer
	tracker, log := testTracker(&base)

	const tasks, linesPerTask = 8, 5
	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func(label string) {
			defer wg.Done()
			ctx := tracker.Track(context.Background(), label)
			for n := 0; n < linesPerTask; n++ {
				log.InfoContext(ctx, "line", "n", n)
			}
			tracker.Flush(ctx)
		}(fmt.Sprintf("task-%d", i))
	}
	wg.Wait()
	tracker.Drain(&out)

	lines := outputLines(&out)
	require.Len(t, lines, tasks*linesPerTask)

	// Once a task's block ends, its label must never reappear.
	finished := make(map[string]bool)
	current := ""
	for _, line := range lines {
		fields := strings.Fields(line)
		var label string
		for _, field := range fields {
			if strings.HasPrefix(field, "task=") {
				label = field
			}
		}
		require.NotEmpty(t, label, line)
		if label != current {
			require.False(t, finished[label], "block for %s split apart", label)
			if current != "" {
				finished[current] = true
			}
			current = label
		}
	}
}

func TestUntrackedLinesGoToBase(t *testing.T) {
	var base, out bytes.Buffer
	tracker, log := testTracker(&base)

	log.Info("direct line")
	tracker.Drain(&out)

	assert.Contains(t, base.String(), "direct line")
	assert.Empty(t, out.String())
}

func TestDumpActiveWritesUnflushedBuffers(t *testing.T) {
	var base, out bytes.Buffer
	tracker, log := testTracker(&base)

	ctx := tracker.Track(context.Background(), "crawl Journal of Testing")
	log.InfoContext(ctx, "entry page fetched")

	tracker.DumpActive(&out)
	assert.Contains(t, out.String(), "--- active task crawl Journal of Testing ---")
	assert.Contains(t, out.String(), "entry page fetched")
}

func TestFlushTwicePanics(t *testing.T) {
	var base bytes.Buffer
	tracker, log := testTracker(&base)

	ctx := tracker.Track(context.Background(), "alpha")
	log.InfoContext(ctx, "a1")
	tracker.Flush(ctx)

	require.Panics(t, func() { tracker.Flush(ctx) })
}

func TestDrainClearsQueue(t *testing.T) {
	var base, first, second bytes.Buffer
	tracker, log := testTracker(&base)

	ctx := tracker.Track(context.Background(), "alpha")
	log.InfoContext(ctx, "a1")
	tracker.Flush(ctx)

	tracker.Drain(&first)
	tracker.Drain(&second)
	assert.Contains(t, first.String(), "a1")
	assert.Empty(t, second.String())
}

func TestTaskBufferFollowsConfiguredFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")

	var base, out bytes.Buffer
	tracker := NewTracker(slog.NewJSONHandler(&base, &slog.HandlerOptions{}))
	log := slog.New(tracker.Handler())

	ctx := tracker.Track(context.Background(), "alpha")
	log.InfoContext(ctx, "converted")
	tracker.Flush(ctx)
	tracker.Drain(&out)

	lines := outputLines(&out)
	require.Len(t, lines, 1)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, "converted", decoded["msg"])
	assert.Equal(t, "alpha", decoded["task"])
}
