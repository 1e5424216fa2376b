// Package writer manages the per-group MARC-XML output files. Files are
// opened lazily on the first record of a group and framed with the
// collection header and trailer; every record is flushed through so a
// crashed run leaves a readable file behind.
package writer

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"harvester/config"
	"harvester/marc"
)

// Pool hands out one output file per group. Safe for concurrent use; writes
// to the same group serialize on the pool lock.
type Pool struct {
	outputDir string
	filename  string
	logger    *slog.Logger

	mu      sync.Mutex
	writers map[string]*groupWriter
}

type groupWriter struct {
	file    *os.File
	buffer  *bufio.Writer
	path    string
	records int
}

// NewPool creates a writer pool rooted at outputDir. An empty filename
// selects a timestamped default so consecutive runs never clobber each
// other.
func NewPool(outputDir, filename string, logger *slog.Logger) *Pool {
	if filename == "" {
		filename = "zotero_harvester_" + time.Now().Format("2006-01-02 15:04:05") + ".xml"
	}
	return &Pool{
		outputDir: outputDir,
		filename:  filename,
		logger:    logger,
		writers:   make(map[string]*groupWriter),
	}
}

// Write appends one record to the group's output file, opening it first if
// this is the group's first record of the run.
func (p *Pool) Write(group *config.GroupParams, record *marc.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, err := p.writerFor(group)
	if err != nil {
		return err
	}
	serialized, err := record.XML()
	if err != nil {
		return fmt.Errorf("failed to serialize record for group %s: %w", group.Name, err)
	}
	if _, err := w.buffer.Write(append(serialized, '\n')); err != nil {
		return fmt.Errorf("failed to write record for group %s: %w", group.Name, err)
	}
	if err := w.buffer.Flush(); err != nil {
		return fmt.Errorf("failed to flush output for group %s: %w", group.Name, err)
	}
	w.records++
	return nil
}

func (p *Pool) writerFor(group *config.GroupParams) (*groupWriter, error) {
	if w, ok := p.writers[group.Name]; ok {
		return w, nil
	}

	folder := group.OutputFolder
	if folder == "" {
		folder = group.Name
	}
	dir := filepath.Join(p.outputDir, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, p.filename)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}

	w := &groupWriter{file: file, buffer: bufio.NewWriter(file), path: path}
	if _, err := w.buffer.WriteString(marc.CollectionHeader); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write collection header: %w", err)
	}

	p.logger.Info("opened output file", "group", group.Name, "path", path)
	p.writers[group.Name] = w
	return w, nil
}

// RecordCounts returns the number of records written per group so far.
func (p *Pool) RecordCounts() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	counts := make(map[string]int, len(p.writers))
	for name, w := range p.writers {
		counts[name] = w.records
	}
	return counts
}

// Close writes the collection trailers and closes every open file. It
// returns the first error but always tries to close everything.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for name, w := range p.writers {
		if _, err := w.buffer.WriteString(marc.CollectionTrailer); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to finish output for group %s: %w", name, err)
		}
		if err := w.buffer.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to flush output for group %s: %w", name, err)
		}
		if err := w.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close output for group %s: %w", name, err)
		}
		p.logger.Info("closed output file", "group", name, "path", w.path, "records", w.records)
	}
	p.writers = make(map[string]*groupWriter)
	return firstErr
}
