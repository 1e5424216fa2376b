package writer

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/config"
	"harvester/marc"
)

func testRecord(title string) *marc.Record {
	record := marc.NewRecord()
	record.AddControlField("001", "TEST#2026-01-03#0000000000000000")
	record.AddDataField("245", '0', '0').AddSubfield('a', title)
	return record
}

func testPool(t *testing.T) (*Pool, string) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPool(dir, "out.xml", logger), dir
}

func TestWriteFramesCollection(t *testing.T) {
	pool, dir := testPool(t)
	group := &config.GroupParams{Name: "IxTheo", OutputFolder: "ixtheo"}

	require.NoError(t, pool.Write(group, testRecord("First")))
	require.NoError(t, pool.Write(group, testRecord("Second")))
	require.NoError(t, pool.Close())

	data, err := os.ReadFile(filepath.Join(dir, "ixtheo", "out.xml"))
	require.NoError(t, err)
	content := string(data)

	assert.True(t, strings.HasPrefix(content, marc.CollectionHeader))
	assert.True(t, strings.HasSuffix(content, marc.CollectionTrailer))
	assert.Equal(t, 2, strings.Count(content, "<record"))
	assert.Contains(t, content, "First")
	assert.Contains(t, content, "Second")
}

func TestWriteSeparatesGroups(t *testing.T) {
	pool, dir := testPool(t)
	ixtheo := &config.GroupParams{Name: "IxTheo", OutputFolder: "ixtheo"}
	krimdok := &config.GroupParams{Name: "KrimDok"}

	require.NoError(t, pool.Write(ixtheo, testRecord("Theology")))
	require.NoError(t, pool.Write(krimdok, testRecord("Criminology")))

	counts := pool.RecordCounts()
	assert.Equal(t, map[string]int{"IxTheo": 1, "KrimDok": 1}, counts)
	require.NoError(t, pool.Close())

	// A group without an output folder falls back to its name.
	_, err := os.Stat(filepath.Join(dir, "KrimDok", "out.xml"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "ixtheo", "out.xml"))
	assert.NoError(t, err)
}

func TestRecordsReadableBeforeClose(t *testing.T) {
	pool, dir := testPool(t)
	group := &config.GroupParams{Name: "IxTheo", OutputFolder: "ixtheo"}
	require.NoError(t, pool.Write(group, testRecord("First")))

	// Every record is flushed through, so an aborted run still leaves the
	// records on disk.
	data, err := os.ReadFile(filepath.Join(dir, "ixtheo", "out.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "First")
	require.NoError(t, pool.Close())
}

func TestCloseResetsPool(t *testing.T) {
	pool, _ := testPool(t)
	group := &config.GroupParams{Name: "IxTheo", OutputFolder: "ixtheo"}
	require.NoError(t, pool.Write(group, testRecord("First")))
	require.NoError(t, pool.Close())
	assert.Empty(t, pool.RecordCounts())
}

func TestDefaultFilenameIsTimestamped(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := NewPool(t.TempDir(), "", logger)
	assert.True(t, strings.HasPrefix(pool.filename, "zotero_harvester_"))
	assert.True(t, strings.HasSuffix(pool.filename, ".xml"))
}
