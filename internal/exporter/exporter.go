// Package exporter implements the periodic CSV archive sink: observations
// accumulate per metric name in memory and flush to a CSV file once a
// batch limit is reached, named `<metric>_<unix start time>.csv`. Writes
// use the same atomic write-then-rename idiom as the teacher's position
// store, adapted here to append-once batch files instead of overwritten
// single-record files.
package exporter

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Observation is a single (time, value) sample recorded against a metric.
type Observation struct {
	Time  time.Time
	Value string
}

// Exporter accumulates observations for one metric and flushes them to a
// CSV file once its batch limit is reached.
type Exporter struct {
	name  string
	dir   string
	limit int

	mu   sync.Mutex
	rows []Observation
}

// New constructs an Exporter for name, batching up to limit observations
// per output file under dir.
func New(name, dir string, limit int) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create exporter dir: %w", err)
	}
	return &Exporter{name: name, dir: dir, limit: limit}, nil
}

// Add records one observation, flushing to disk once the batch limit is
// reached.
func (e *Exporter) Add(value string, t time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rows = append(e.rows, Observation{Time: t, Value: value})
	if len(e.rows) < e.limit {
		return nil
	}
	return e.flushLocked()
}

// Flush writes any buffered observations to disk immediately, regardless
// of whether the batch limit has been reached. Intended for a clean
// shutdown so partial batches are never silently lost.
func (e *Exporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.rows) == 0 {
		return nil
	}
	return e.flushLocked()
}

// flushLocked writes the current batch to `<name>_<unix>.csv`, where unix
// is the time of the batch's first observation, atomically (write to .tmp,
// then rename) and clears the buffer. Caller must hold mu.
func (e *Exporter) flushLocked() error {
	path := filepath.Join(e.dir, fmt.Sprintf("%s_%d.csv", e.name, e.rows[0].Time.Unix()))
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp export file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{"time", "value"}); err != nil {
		f.Close()
		return fmt.Errorf("write export header: %w", err)
	}
	for _, row := range e.rows {
		record := []string{row.Time.UTC().Format(time.RFC3339), row.Value}
		if err := w.Write(record); err != nil {
			f.Close()
			return fmt.Errorf("write export row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush export rows: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp export file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename export file: %w", err)
	}
	e.rows = nil
	return nil
}
